package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/history"
	"github.com/johndauphine/mssql-warehouse-loader/internal/lock"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pipeline"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

type fixture struct {
	cfg   *config.Config
	src   *source.MockSource
	wh    *warehouse.MockWarehouse
	store *stage.LocalStore
	hist  *history.State
	o     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := stage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dataDir := t.TempDir()
	hist, err := history.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	cfg := &config.Config{}
	cfg.Source.Schema = "dbo"
	cfg.Source.Database = "erp"
	cfg.Warehouse.Schema = "public"
	cfg.Warehouse.Database = "dw"
	cfg.Staging.Prefix = "loads"
	cfg.Migration.Workers = 2
	cfg.Migration.ChunkMaxBytes = 1 << 10
	cfg.Migration.UploadMaxAttempts = 2
	cfg.Migration.MaxRejectedRows = 10
	cfg.Migration.WorkDir = t.TempDir()
	cfg.Migration.DataDir = dataDir

	f := &fixture{
		cfg:   cfg,
		src:   &source.MockSource{},
		wh:    warehouse.NewMockWarehouse(store),
		store: store,
		hist:  hist,
	}
	f.o = NewWithDeps(cfg, Deps{Source: f.src, Warehouse: f.wh, Store: store, History: hist})
	return f
}

var orderColumns = []source.Column{
	{Name: "Id", DataType: "int"},
	{Name: "Note", DataType: "nvarchar", MaxLength: -1, IsNullable: true},
}

func orderRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("order note %d", i+1)}
	}
	return rows
}

func TestRunMigrationEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Orders", orderColumns, orderRows(150))
	f.src.AddTable("dbo", "Empty", orderColumns, nil)

	s, err := f.o.RunMigration(context.Background())
	if err != nil {
		t.Fatalf("RunMigration error: %v", err)
	}
	if s.TablesAttempted != 2 || s.Succeeded != 2 || s.Failed != 0 {
		t.Fatalf("summary = {%d, %d, %d}, want {2, 2, 0}", s.TablesAttempted, s.Succeeded, s.Failed)
	}
	if len(s.RunID) != 8 || s.Rows != 150 {
		t.Errorf("run id %q rows %d", s.RunID, s.Rows)
	}

	orders, ok := f.wh.Table("public", "ORDERS")
	if !ok || len(orders.Rows) != 150 {
		t.Fatalf("ORDERS = %v, %+v", ok, orders)
	}
	if orders.Columns[1].Type != "VARCHAR(65535)" {
		t.Errorf("Note mapped to %s", orders.Columns[1].Type)
	}
	empty, ok := f.wh.Table("public", "EMPTY")
	if !ok || len(empty.Rows) != 0 {
		t.Errorf("EMPTY should exist with no rows: %v", ok)
	}
	if names := f.wh.TableNames("public"); len(names) != 2 {
		t.Errorf("leftover staging or backup tables: %v", names)
	}
	if keys, _ := f.store.List(context.Background(), ""); len(keys) != 0 {
		t.Errorf("staged artifacts left behind: %v", keys)
	}

	if ok, failed := f.o.Counts(); ok != 2 || failed != 0 {
		t.Errorf("Counts() = %d, %d", ok, failed)
	}
	if f.o.Running() {
		t.Error("still running after RunMigration returned")
	}
	if held, _, _ := lock.New(f.cfg.Migration.DataDir).IsHeld(); held {
		t.Error("lock file not released")
	}

	run, err := f.hist.RunByID(s.RunID)
	if err != nil || run == nil {
		t.Fatalf("history run = %v, %v", run, err)
	}
	if run.Status != history.StatusSuccess || run.Attempted != 2 || run.Succeeded != 2 {
		t.Errorf("history run = %+v", run)
	}
	recs, _ := f.hist.Tables(s.RunID)
	if len(recs) != 2 {
		t.Fatalf("history tables = %+v", recs)
	}
	for _, r := range recs {
		switch r.Table {
		case "dbo.Orders":
			if r.Status != history.TableSuccess || r.Loaded != 150 {
				t.Errorf("Orders record = %+v", r)
			}
		case "dbo.Empty":
			if r.Status != history.TableSkipped {
				t.Errorf("Empty record = %+v", r)
			}
		}
	}

	results, err := f.o.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	for _, v := range results {
		if !v.OK() {
			t.Errorf("validation %+v", v)
		}
	}
}

func TestRunMigrationExclusivity(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Orders", orderColumns, orderRows(5))
	f.src.Gate = make(chan struct{})

	type outcome struct {
		s   *Summary
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		s, err := f.o.RunMigration(context.Background())
		first <- outcome{s, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !f.o.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s, err := f.o.RunMigration(context.Background())
	if !errors.Is(err, ErrRunInProgress) || s != nil {
		t.Fatalf("second RunMigration = %v, %v; want ErrRunInProgress", s, err)
	}
	if ok, failed := f.o.Counts(); ok != 0 || failed != 0 {
		t.Errorf("rejected run changed counters: %d, %d", ok, failed)
	}

	close(f.src.Gate)
	got := <-first
	if got.err != nil || got.s.Succeeded != 1 {
		t.Fatalf("first run = %+v, %v", got.s, got.err)
	}

	// The flag is reset, so a later run is accepted.
	if _, err := f.o.RunMigration(context.Background()); err != nil {
		t.Fatalf("third RunMigration error: %v", err)
	}
	if ok, _ := f.o.Counts(); ok != 2 {
		t.Errorf("success count = %d, want 2", ok)
	}
}

func TestRunMigrationSwapFailureIsolated(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"A", "B", "C"} {
		f.src.AddTable("dbo", name, orderColumns, orderRows(20))
	}
	old := "previous"
	id := "1"
	f.wh.SeedTable("public", "B",
		[]warehouse.MockColumn{{Name: "Id", Type: "INTEGER", Nullable: false}, {Name: "Note", Type: "VARCHAR(65535)", Nullable: true}},
		[][]*string{{&id, &old}})
	f.wh.FailOn(`DROP TABLE "public"."B__BAK_`, errors.New("lock timeout"))

	s, err := f.o.RunMigration(context.Background())
	if err != nil {
		t.Fatalf("RunMigration error: %v", err)
	}
	if s.TablesAttempted != 3 || s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("summary = {%d, %d, %d}, want {3, 2, 1}", s.TablesAttempted, s.Succeeded, s.Failed)
	}

	for _, r := range s.Results {
		if r.Table == "dbo.B" {
			if !pipeline.IsKind(r.Err, pipeline.SwapTransactionError) {
				t.Errorf("B error = %v, want SwapTransactionError", r.Err)
			}
		} else if !r.Succeeded() {
			t.Errorf("%s failed: %v", r.Table, r.Err)
		}
	}

	b, ok := f.wh.Table("public", "B")
	if !ok || len(b.Rows) != 1 || *b.Rows[0][1] != "previous" {
		t.Errorf("B changed after failed swap: %+v", b)
	}
	for _, name := range []string{"A", "C"} {
		if n, _ := f.wh.RowCount(context.Background(), "public", name); n != 20 {
			t.Errorf("%s rows = %d, want 20", name, n)
		}
	}
	if names := f.wh.TableNames("public"); len(names) != 3 {
		t.Errorf("tables after run = %v", names)
	}
	if failures := s.Failures(); len(failures) != 1 || failures[0] != "dbo.B: SwapTransactionError" {
		t.Errorf("Failures() = %v", failures)
	}

	run, _ := f.hist.RunByID(s.RunID)
	if run == nil || run.Status != history.StatusPartial {
		t.Errorf("history run = %+v", run)
	}
	recs, _ := f.hist.Tables(s.RunID)
	for _, r := range recs {
		if r.Table == "dbo.B" && (r.Status != history.TableFailed || r.Stage != "SWAP" || r.Kind != "SwapTransactionError") {
			t.Errorf("B record = %+v", r)
		}
	}

	if _, err := f.o.Validate(context.Background()); err == nil {
		t.Error("Validate should report B's row count mismatch")
	}
}

func TestRunMigrationDestinationCollision(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Order Items", orderColumns, orderRows(100))
	f.src.AddTable("dbo", "Order-Items", orderColumns, orderRows(40))

	s, err := f.o.RunMigration(context.Background())
	if err != nil {
		t.Fatalf("RunMigration error: %v", err)
	}
	if s.TablesAttempted != 2 || s.Succeeded != 1 || s.Failed != 1 {
		t.Fatalf("summary = {%d, %d, %d}, want {2, 1, 1}", s.TablesAttempted, s.Succeeded, s.Failed)
	}
	for _, r := range s.Results {
		switch r.Table {
		case "dbo.Order Items":
			if !r.Succeeded() || r.Loaded != 100 {
				t.Errorf("first table = %+v", r)
			}
		case "dbo.Order-Items":
			if !pipeline.IsKind(r.Err, pipeline.SchemaMismatchError) || !errors.Is(r.Err, ErrDestinationTaken) {
				t.Errorf("second table error = %v, want SchemaMismatchError", r.Err)
			}
			if r.Destination != "ORDER_ITEMS" || r.Rows != 0 {
				t.Errorf("second table = %+v", r)
			}
		}
	}
	if n, _ := f.wh.RowCount(context.Background(), "public", "ORDER_ITEMS"); n != 100 {
		t.Errorf("ORDER_ITEMS rows = %d, want 100", n)
	}
	if streamed := f.src.Streamed(); len(streamed) != 1 {
		t.Errorf("streamed tables = %v, want only the first", streamed)
	}

	plans, err := f.o.Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if plans[0].Err != nil || !errors.Is(plans[1].Err, ErrDestinationTaken) {
		t.Errorf("plans = %+v", plans)
	}
}

func TestRunMigrationEmptiedSourceClearsDestination(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Orders", orderColumns, nil)
	id, note := "1", "stale"
	f.wh.SeedTable("public", "ORDERS",
		[]warehouse.MockColumn{{Name: "Id", Type: "INTEGER"}, {Name: "Note", Type: "VARCHAR(65535)", Nullable: true}},
		[][]*string{{&id, &note}})

	s, err := f.o.RunMigration(context.Background())
	if err != nil || s.Succeeded != 1 {
		t.Fatalf("RunMigration = %+v, %v", s, err)
	}
	if n, _ := f.wh.RowCount(context.Background(), "public", "ORDERS"); n != 0 {
		t.Errorf("ORDERS rows = %d after full reload of an empty source, want 0", n)
	}
}

func TestRunMigrationDiscoveryFailure(t *testing.T) {
	f := newFixture(t)
	f.src.ListErr = errors.New("dial tcp: connection refused")

	s, err := f.o.RunMigration(context.Background())
	if !pipeline.IsKind(err, pipeline.ConnectionError) {
		t.Fatalf("error = %v, want ConnectionError", err)
	}
	if s == nil || s.TablesAttempted != 0 {
		t.Errorf("summary = %+v", s)
	}
	if f.o.Running() {
		t.Error("running flag not reset after aborted run")
	}
	if run, _ := f.hist.RunByID(s.RunID); run == nil || run.Status != history.StatusFailed {
		t.Errorf("history run = %+v", run)
	}
}

func TestRunMigrationCancelledBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Orders", orderColumns, orderRows(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.o.RunMigration(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if s.TablesAttempted != 0 {
		t.Errorf("attempted = %d, want 0", s.TablesAttempted)
	}
	if _, ok := f.wh.Table("public", "ORDERS"); ok {
		t.Error("ORDERS created by a cancelled run")
	}
}

func TestRunMigrationLockHeldByOtherProcess(t *testing.T) {
	f := newFixture(t)
	// The parent of the test binary is alive for the whole test.
	path := lock.New(f.cfg.Migration.DataDir).Path()
	if err := os.WriteFile(path, []byte(fmt.Sprint(os.Getppid())), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := f.o.RunMigration(context.Background()); !errors.Is(err, lock.ErrHeld) {
		t.Fatalf("error = %v, want lock.ErrHeld", err)
	}
	if f.o.Running() {
		t.Error("running flag not reset")
	}
}

func TestRunStatus(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		s    Summary
		err  error
		want string
	}{
		{"all succeeded", Summary{TablesAttempted: 2, Succeeded: 2}, nil, history.StatusSuccess},
		{"some failed", Summary{TablesAttempted: 3, Succeeded: 2, Failed: 1}, nil, history.StatusPartial},
		{"all failed", Summary{TablesAttempted: 2, Failed: 2}, nil, history.StatusFailed},
		{"aborted", Summary{}, boom, history.StatusFailed},
		{"cancelled midway", Summary{TablesAttempted: 1, Succeeded: 1}, boom, history.StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runStatus(&tt.s, tt.err); got != tt.want {
				t.Errorf("runStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Order Lines", orderColumns, orderRows(4))
	f.src.AddTable("dbo", "***", orderColumns, nil)
	f.wh.SeedTable("public", "ORDER_LINES", nil, nil)

	plans, err := f.o.Plan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 2 {
		t.Fatalf("plans = %+v", plans)
	}
	p := plans[0]
	if p.Destination != "ORDER_LINES" || p.Rows != 4 || !p.Exists || p.Err != nil {
		t.Errorf("plan = %+v", p)
	}
	if !strings.HasPrefix(p.DDL, `CREATE TABLE "public"."ORDER_LINES"`) {
		t.Errorf("DDL = %q", p.DDL)
	}
	if !errors.Is(plans[1].Err, warehouse.ErrEmptyTableName) {
		t.Errorf("plan for *** = %+v", plans[1])
	}
	if len(f.wh.Statements()) != 0 {
		t.Errorf("Plan executed statements: %v", f.wh.Statements())
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Orders", orderColumns, nil)

	res := f.o.HealthCheck(context.Background())
	if !res.Healthy || res.SourceTableCount != 1 || res.WarehouseFlavor != "postgres" {
		t.Errorf("result = %+v", res)
	}

	f.src.ListErr = errors.New("login failed")
	if res := f.o.HealthCheck(context.Background()); res.Healthy || res.SourceError == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestShowHistoryAndRun(t *testing.T) {
	f := newFixture(t)
	f.src.AddTable("dbo", "Orders", orderColumns, orderRows(3))
	s, err := f.o.RunMigration(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ShowHistory(&buf, f.hist, 10); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), s.RunID) || !strings.Contains(buf.String(), "success") {
		t.Errorf("history output:\n%s", buf.String())
	}

	buf.Reset()
	if err := ShowRun(&buf, f.hist, s.RunID); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "dbo.Orders") {
		t.Errorf("run output:\n%s", buf.String())
	}

	if err := ShowRun(&buf, f.hist, "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}
