package warehouse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/johndauphine/mssql-warehouse-loader/internal/chunk"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
)

// MockColumn is a column of a MockWarehouse table.
type MockColumn struct {
	Name     string
	Type     string
	Nullable bool
}

// MockTableData is a snapshot of one MockWarehouse table. A nil value is NULL.
type MockTableData struct {
	Columns []MockColumn
	Rows    [][]*string
}

func (t *MockTableData) clone() *MockTableData {
	c := &MockTableData{Columns: append([]MockColumn(nil), t.Columns...)}
	c.Rows = make([][]*string, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]*string(nil), r...)
	}
	return c
}

func (t *MockTableData) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the table's columns in order.
func (t *MockTableData) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// MockWarehouse is an in-memory warehouse for tests. It interprets the DDL
// statements this package generates and loads CSV artifacts from Store.
type MockWarehouse struct {
	Store      stage.Store
	FlavorName typemap.Flavor

	// RejectValue marks a CSV field that the load treats as malformed.
	RejectValue string
	CopyErr     error
	ResolveErr  error

	mu         sync.Mutex
	schemas    map[string]bool
	tables     map[string]*MockTableData // key: schema + "." + name
	failOn     map[string]error
	statements []string
	Closed     bool
}

// NewMockWarehouse returns an empty warehouse loading from store.
func NewMockWarehouse(store stage.Store) *MockWarehouse {
	return &MockWarehouse{
		Store:      store,
		FlavorName: typemap.Postgres,
		schemas:    make(map[string]bool),
		tables:     make(map[string]*MockTableData),
		failOn:     make(map[string]error),
	}
}

// FailOn makes any statement containing fragment fail with err.
func (m *MockWarehouse) FailOn(fragment string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[fragment] = err
}

// SeedTable creates a table directly, bypassing DDL.
func (m *MockWarehouse) SeedTable(schema, name string, cols []MockColumn, rows [][]*string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[schema] = true
	m.tables[schema+"."+name] = (&MockTableData{Columns: cols, Rows: rows}).clone()
}

// Table returns a copy of the named table.
func (m *MockWarehouse) Table(schema, name string) (*MockTableData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[schema+"."+name]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// TableNames returns the tables in schema, sorted.
func (m *MockWarehouse) TableNames(schema string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for key := range m.tables {
		if s, n, _ := strings.Cut(key, "."); s == schema {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Statements returns every statement executed so far, including failed ones.
func (m *MockWarehouse) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statements...)
}

func (m *MockWarehouse) Close() { m.Closed = true }

func (m *MockWarehouse) Flavor() typemap.Flavor {
	if m.FlavorName == "" {
		return typemap.Postgres
	}
	return m.FlavorName
}

func (m *MockWarehouse) CreateSchema(_ context.Context, schema string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[schema] = true
	return nil
}

func (m *MockWarehouse) ResolveTable(_ context.Context, schema, table string) (string, bool, error) {
	if m.ResolveErr != nil {
		return "", false, m.ResolveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[schema+"."+table]; ok {
		return table, true, nil
	}
	for key := range m.tables {
		if s, n, _ := strings.Cut(key, "."); s == schema && strings.EqualFold(n, table) {
			return n, true, nil
		}
	}
	return "", false, nil
}

func (m *MockWarehouse) Columns(_ context.Context, schema, table string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[schema+"."+table]
	if !ok {
		return nil, nil
	}
	return t.ColumnNames(), nil
}

func (m *MockWarehouse) RowCount(_ context.Context, schema, table string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[schema+"."+table]
	if !ok {
		return 0, fmt.Errorf("relation %s.%s does not exist", schema, table)
	}
	return int64(len(t.Rows)), nil
}

func (m *MockWarehouse) Exec(_ context.Context, sql string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements = append(m.statements, sql)
	if err := m.injected(sql); err != nil {
		return err
	}
	return applyStatement(m.tables, sql)
}

// injected must be called with mu held.
func (m *MockWarehouse) injected(sql string) error {
	for frag, err := range m.failOn {
		if strings.Contains(sql, frag) {
			return err
		}
	}
	return nil
}

// Begin starts a transaction. Statements run against a private copy and
// are replayed atomically on Commit.
func (m *MockWarehouse) Begin(_ context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &mockTx{wh: m, work: cloneTables(m.tables)}, nil
}

func (m *MockWarehouse) CopyStaged(ctx context.Context, req CopyRequest) (int64, error) {
	if m.CopyErr != nil {
		return 0, m.CopyErr
	}

	// Parse outside the lock, then append under it.
	var loaded [][]string
	for _, key := range req.Keys {
		recs, err := m.readArtifact(ctx, key, len(req.Columns), req.SkipBadRows)
		if err != nil {
			return 0, fmt.Errorf("copying %s: %w", key, err)
		}
		loaded = append(loaded, recs...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements = append(m.statements, "COPY "+QualifyTable(req.Schema, req.Table))
	t, ok := m.tables[req.Schema+"."+req.Table]
	if !ok {
		return 0, fmt.Errorf("relation %s does not exist", QualifyTable(req.Schema, req.Table))
	}
	idx := make([]int, len(req.Columns))
	for i, c := range req.Columns {
		if idx[i] = t.columnIndex(c); idx[i] < 0 {
			return 0, fmt.Errorf("column %q of relation %s does not exist", c, req.Table)
		}
	}
	for _, rec := range loaded {
		row := make([]*string, len(t.Columns))
		for i, v := range rec {
			if v == "" {
				continue
			}
			v := v
			row[idx[i]] = &v
		}
		t.Rows = append(t.Rows, row)
	}
	return int64(len(loaded)), nil
}

func (m *MockWarehouse) readArtifact(ctx context.Context, key string, width int, skipBad bool) ([][]string, error) {
	rc, err := m.Store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	zr, err := chunk.NewReader(rc)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	r := csv.NewReader(zr)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) != width || m.rejects(rec) {
			if skipBad {
				continue
			}
			return nil, fmt.Errorf("malformed row at line %d", len(out)+2)
		}
		out = append(out, rec)
	}
}

func (m *MockWarehouse) rejects(rec []string) bool {
	if m.RejectValue == "" {
		return false
	}
	for _, v := range rec {
		if v == m.RejectValue {
			return true
		}
	}
	return false
}

type mockTx struct {
	wh   *MockWarehouse
	work map[string]*MockTableData
	log  []string
	done bool
}

func (tx *mockTx) Exec(_ context.Context, sql string) error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	tx.wh.mu.Lock()
	tx.wh.statements = append(tx.wh.statements, sql)
	err := tx.wh.injected(sql)
	tx.wh.mu.Unlock()
	if err != nil {
		return err
	}
	if err := applyStatement(tx.work, sql); err != nil {
		return err
	}
	tx.log = append(tx.log, sql)
	return nil
}

func (tx *mockTx) Commit(_ context.Context) error {
	if tx.done {
		return errors.New("transaction already closed")
	}
	tx.done = true
	tx.wh.mu.Lock()
	defer tx.wh.mu.Unlock()
	tx.wh.statements = append(tx.wh.statements, "COMMIT")
	next := cloneTables(tx.wh.tables)
	for _, sql := range tx.log {
		if err := applyStatement(next, sql); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	tx.wh.tables = next
	return nil
}

func (tx *mockTx) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.wh.mu.Lock()
	tx.wh.statements = append(tx.wh.statements, "ROLLBACK")
	tx.wh.mu.Unlock()
	return nil
}

func cloneTables(src map[string]*MockTableData) map[string]*MockTableData {
	dst := make(map[string]*MockTableData, len(src))
	for k, v := range src {
		dst[k] = v.clone()
	}
	return dst
}

const identPattern = `"((?:[^"]|"")*)"`

var (
	createLikeRe  = regexp.MustCompile(`^CREATE TABLE ` + identPattern + `\.` + identPattern + ` \(LIKE ` + identPattern + `\.` + identPattern + `\)$`)
	createTableRe = regexp.MustCompile(`(?s)^CREATE TABLE ` + identPattern + `\.` + identPattern + ` \((.*)\)$`)
	addColumnRe   = regexp.MustCompile(`^ALTER TABLE ` + identPattern + `\.` + identPattern + ` ADD COLUMN ` + identPattern + ` (.+)$`)
	renameRe      = regexp.MustCompile(`^ALTER TABLE ` + identPattern + `\.` + identPattern + ` RENAME TO ` + identPattern + `$`)
	dropRe        = regexp.MustCompile(`^DROP TABLE (IF EXISTS )?` + identPattern + `\.` + identPattern + `$`)
	columnDefRe   = regexp.MustCompile(`^` + identPattern + `\s+(.+?)(\s+NOT NULL)?$`)
)

func unquote(s string) string { return strings.ReplaceAll(s, `""`, `"`) }

// applyStatement interprets one generated DDL statement against tables.
func applyStatement(tables map[string]*MockTableData, sql string) error {
	sql = strings.TrimSpace(sql)
	if strings.HasPrefix(sql, "CREATE SCHEMA") || strings.HasPrefix(sql, "SELECT") {
		return nil
	}

	if g := createLikeRe.FindStringSubmatch(sql); g != nil {
		key, likeKey := unquote(g[1])+"."+unquote(g[2]), unquote(g[3])+"."+unquote(g[4])
		if _, ok := tables[key]; ok {
			return fmt.Errorf("relation %q already exists", unquote(g[2]))
		}
		like, ok := tables[likeKey]
		if !ok {
			return fmt.Errorf("relation %q does not exist", unquote(g[4]))
		}
		tables[key] = &MockTableData{Columns: append([]MockColumn(nil), like.Columns...)}
		return nil
	}

	if g := createTableRe.FindStringSubmatch(sql); g != nil {
		key := unquote(g[1]) + "." + unquote(g[2])
		if _, ok := tables[key]; ok {
			return fmt.Errorf("relation %q already exists", unquote(g[2]))
		}
		var cols []MockColumn
		for _, def := range splitTopLevel(g[3]) {
			def = strings.TrimSpace(def)
			if def == "" {
				continue
			}
			cg := columnDefRe.FindStringSubmatch(def)
			if cg == nil {
				return fmt.Errorf("syntax error in column definition %q", def)
			}
			cols = append(cols, MockColumn{Name: unquote(cg[1]), Type: cg[2], Nullable: cg[3] == ""})
		}
		tables[key] = &MockTableData{Columns: cols}
		return nil
	}

	if g := addColumnRe.FindStringSubmatch(sql); g != nil {
		t, ok := tables[unquote(g[1])+"."+unquote(g[2])]
		if !ok {
			return fmt.Errorf("relation %q does not exist", unquote(g[2]))
		}
		name := unquote(g[3])
		if t.columnIndex(name) >= 0 {
			return fmt.Errorf("column %q already exists", name)
		}
		t.Columns = append(t.Columns, MockColumn{Name: name, Type: g[4], Nullable: true})
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], nil)
		}
		return nil
	}

	if g := renameRe.FindStringSubmatch(sql); g != nil {
		schema := unquote(g[1])
		from, to := schema+"."+unquote(g[2]), schema+"."+unquote(g[3])
		t, ok := tables[from]
		if !ok {
			return fmt.Errorf("relation %q does not exist", unquote(g[2]))
		}
		if _, exists := tables[to]; exists {
			return fmt.Errorf("relation %q already exists", unquote(g[3]))
		}
		delete(tables, from)
		tables[to] = t
		return nil
	}

	if g := dropRe.FindStringSubmatch(sql); g != nil {
		key := unquote(g[2]) + "." + unquote(g[3])
		if _, ok := tables[key]; !ok {
			if g[1] != "" {
				return nil
			}
			return fmt.Errorf("table %q does not exist", unquote(g[3]))
		}
		delete(tables, key)
		return nil
	}

	return fmt.Errorf("unsupported statement: %s", sql)
}

// splitTopLevel splits s at commas outside parentheses and quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
