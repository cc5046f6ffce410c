// Package orchestrator runs the table pipelines of one migration run across
// a bounded worker pool and reports the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/history"
	"github.com/johndauphine/mssql-warehouse-loader/internal/loader"
	"github.com/johndauphine/mssql-warehouse-loader/internal/lock"
	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/notify"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pipeline"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pool"
	"github.com/johndauphine/mssql-warehouse-loader/internal/progress"
	"github.com/johndauphine/mssql-warehouse-loader/internal/schema"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stats"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

var log = logging.For("orchestrator")

// ErrRunInProgress is returned when a run is requested while another one is
// still running in this process.
var ErrRunInProgress = errors.New("migration run already in progress")

// ErrDestinationTaken is reported for a table whose normalized destination
// name was already claimed by an earlier table of the same run.
var ErrDestinationTaken = errors.New("destination table already claimed")

// TableResult is the outcome of one table in a run.
type TableResult = pipeline.Result

// Summary is the outcome of one run.
type Summary struct {
	RunID           string
	TablesAttempted int
	Succeeded       int
	Failed          int
	Rows            int64
	Results         []*TableResult
	Duration        time.Duration
}

// Failures returns "schema.table: Kind" for each failed table.
func (s *Summary) Failures() []string {
	var out []string
	for _, r := range s.Results {
		if !r.Succeeded() {
			out = append(out, fmt.Sprintf("%s: %s", r.Table, pipeline.KindOf(r.Err)))
		}
	}
	return out
}

// Deps are the collaborators an Orchestrator drives. Source, Warehouse and
// Store are required; the rest are optional.
type Deps struct {
	Source    pool.SourcePool
	Warehouse pool.WarehousePool
	Store     stage.Store
	History   history.Backend
	Notifier  notify.Provider
	Reporter  progress.Reporter
}

// Orchestrator coordinates migration runs
type Orchestrator struct {
	config    *config.Config
	src       pool.SourcePool
	wh        pool.WarehousePool
	store     stage.Store
	reflector *schema.Reflector
	history   history.Backend
	notifier  notify.Provider
	reporter  progress.Reporter
	lock      *lock.Lock

	mu           sync.Mutex
	running      bool
	successCount int
	failureCount int
}

// New connects to the source, the staging store and the warehouse named by
// cfg and opens run history.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	if err := resolveDataDir(cfg); err != nil {
		return nil, err
	}

	src, err := pool.NewSourcePool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating source pool: %w", err)
	}

	store, err := pool.NewStageStore(ctx, cfg)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating staging store: %w", err)
	}

	wh, err := pool.NewWarehousePool(ctx, cfg, store)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating warehouse pool: %w", err)
	}

	hist, err := OpenHistory(cfg)
	if err != nil {
		src.Close()
		wh.Close()
		return nil, err
	}

	return NewWithDeps(cfg, Deps{
		Source:    src,
		Warehouse: wh,
		Store:     store,
		History:   hist,
		Notifier:  notify.New(&cfg.Slack),
	}), nil
}

// OpenHistory opens the run history named by cfg: the YAML state file when
// migration.state_file is set, SQLite in the data dir otherwise.
func OpenHistory(cfg *config.Config) (history.Backend, error) {
	if err := resolveDataDir(cfg); err != nil {
		return nil, err
	}
	if cfg.Migration.StateFile != "" {
		fs, err := history.NewFileState(cfg.Migration.StateFile)
		if err != nil {
			return nil, fmt.Errorf("opening state file: %w", err)
		}
		return fs, nil
	}

	state, err := history.New(cfg.Migration.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	if n, err := state.CleanupOldRuns(cfg.Migration.HistoryRetention); err != nil {
		log.Warn("history cleanup: %v", err)
	} else if n > 0 {
		log.Debug("removed %d runs older than %d days", n, cfg.Migration.HistoryRetention)
	}
	return state, nil
}

func resolveDataDir(cfg *config.Config) error {
	if cfg.Migration.DataDir != "" {
		return nil
	}
	dir, err := config.DefaultDataDir()
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}
	cfg.Migration.DataDir = dir
	return nil
}

// NewWithDeps creates an orchestrator over existing collaborators. A lock
// file is used when cfg.Migration.DataDir is set.
func NewWithDeps(cfg *config.Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		config:    cfg,
		src:       deps.Source,
		wh:        deps.Warehouse,
		store:     deps.Store,
		reflector: schema.NewReflector(deps.Source, deps.Warehouse, cfg),
		history:   deps.History,
		notifier:  deps.Notifier,
		reporter:  deps.Reporter,
	}
	if o.notifier == nil {
		o.notifier = notify.New(nil)
	}
	if cfg.Migration.DataDir != "" {
		o.lock = lock.New(cfg.Migration.DataDir)
	}
	return o
}

// SetReporter sends progress updates of later runs to r.
func (o *Orchestrator) SetReporter(r progress.Reporter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reporter = r
}

// Close releases all resources
func (o *Orchestrator) Close() {
	o.src.Close()
	o.wh.Close()
	if o.history != nil {
		o.history.Close()
	}
	if o.reporter != nil {
		o.reporter.Close()
	}
}

// History returns the run history, or nil when none is configured.
func (o *Orchestrator) History() history.Backend {
	return o.history
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Counts returns the succeeded and failed table totals over all runs of this
// orchestrator.
func (o *Orchestrator) Counts() (succeeded, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.successCount, o.failureCount
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) end(s *Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s != nil {
		o.successCount += s.Succeeded
		o.failureCount += s.Failed
	}
	o.running = false
}

// RunMigration discovers the source tables and loads each one into the
// warehouse. A request made while a run is in progress is rejected with
// ErrRunInProgress. Table failures are reported in the Summary, not as an
// error; the error is non-nil only when the run could not start or was
// cancelled.
func (o *Orchestrator) RunMigration(ctx context.Context) (summary *Summary, err error) {
	if !o.begin() {
		log.Warn("run request rejected: %v", ErrRunInProgress)
		return nil, ErrRunInProgress
	}
	defer func() { o.end(summary) }()

	if o.lock != nil {
		if err := o.lock.Acquire(); err != nil {
			return nil, fmt.Errorf("acquiring run lock: %w", err)
		}
		defer func() {
			if err := o.lock.Release(); err != nil {
				log.Warn("releasing run lock: %v", err)
			}
		}()
	}

	start := time.Now()
	summary = &Summary{RunID: uuid.New().String()[:8]}
	log.Info("starting run %s: %s.%s -> %s.%s (%d workers)", summary.RunID,
		o.config.Source.Database, o.reflector.SourceSchema(),
		o.config.Warehouse.Database, o.reflector.DestinationSchema(), o.workers())
	o.recordStart(summary.RunID)

	tables, err := o.discover(ctx)
	if err != nil {
		summary.Duration = time.Since(start)
		log.Error("run %s aborted: %s", summary.RunID, logging.Truncate(err, logging.DefaultTruncate))
		o.recordFinish(summary, err)
		if nerr := o.notifier.RunFailed(summary.RunID, err, summary.Duration); nerr != nil {
			log.Warn("slack notification failed: %v", nerr)
		}
		return summary, err
	}
	log.Info("run %s: %d tables", summary.RunID, len(tables))
	if nerr := o.notifier.RunStarted(summary.RunID, o.config.Source.Database, o.config.Warehouse.Database, len(tables)); nerr != nil {
		log.Warn("slack notification failed: %v", nerr)
	}

	summary.Results = o.runTables(ctx, summary.RunID, tables)
	summary.Duration = time.Since(start)
	for _, r := range summary.Results {
		summary.TablesAttempted++
		summary.Rows += r.Loaded
		if r.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	if ctx.Err() != nil {
		err = fmt.Errorf("run %s cancelled after %d of %d tables: %w",
			summary.RunID, summary.TablesAttempted, len(tables), ctx.Err())
	}
	o.recordFinish(summary, err)
	o.logSummary(summary)
	if nerr := o.notifier.RunFinished(notify.RunReport{
		RunID:     summary.RunID,
		Started:   start,
		Duration:  summary.Duration,
		Attempted: summary.TablesAttempted,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Rows:      summary.Rows,
		Failures:  summary.Failures(),
	}); nerr != nil {
		log.Warn("slack notification failed: %v", nerr)
	}
	return summary, err
}

// discover creates the destination schema and lists the source tables.
// Failures are connection errors: nothing can be loaded without either side.
func (o *Orchestrator) discover(ctx context.Context) ([]source.Table, error) {
	if err := o.wh.CreateSchema(ctx, o.reflector.DestinationSchema()); err != nil {
		return nil, &pipeline.TableError{
			Table: o.reflector.DestinationSchema(), Stage: pipeline.StageDiscover,
			Kind: pipeline.ConnectionError, Err: fmt.Errorf("creating schema: %w", err),
		}
	}
	tables, err := o.reflector.ListSourceTables(ctx)
	if err != nil {
		return nil, &pipeline.TableError{
			Table: o.reflector.SourceSchema(), Stage: pipeline.StageDiscover,
			Kind: pipeline.ConnectionError, Err: fmt.Errorf("listing tables: %w", err),
		}
	}
	return tables, nil
}

func (o *Orchestrator) workers() int {
	if o.config.Migration.Workers > 0 {
		return o.config.Migration.Workers
	}
	return 10
}

// runTables runs one pipeline per table, at most workers at a time. Tables
// not yet started when ctx is cancelled are skipped; tables already running
// finish on a detached context so no swap is abandoned midway.
func (o *Orchestrator) runTables(ctx context.Context, runID string, tables []source.Table) []*TableResult {
	o.mu.Lock()
	reporter := o.reporter
	o.mu.Unlock()
	prog := progress.New(runID, reporter)
	prog.SetTotal(len(tables))
	defer prog.Finish()

	p := pipeline.New(pipeline.Config{
		RunID:            runID,
		WorkDir:          o.config.Migration.WorkDir,
		StagePrefix:      o.config.Staging.Prefix,
		ChunkMaxBytes:    o.config.Migration.ChunkMaxBytes,
		CompressionLevel: o.config.GzipLevel(),
	}, pipeline.Deps{
		Source:    o.src,
		Reflector: o.reflector,
		Uploader: stage.NewUploader(o.store, stage.RetryPolicy{
			MaxAttempts: o.config.Migration.UploadMaxAttempts,
			Delay:       o.config.RetryDelay(),
		}),
		Loader: loader.New(o.wh, o.store, loader.Options{
			Schema:          o.reflector.DestinationSchema(),
			RunID:           runID,
			FailOnBadRows:   o.config.Migration.FailOnBadRows,
			MaxRejectedRows: o.config.Migration.MaxRejectedRows,
		}),
		Flavor:   o.wh.Flavor(),
		Progress: prog,
	})

	tableCtx := context.WithoutCancel(ctx)
	results := make([]*TableResult, len(tables))
	taken := destinationOwners(tables)
	var g errgroup.Group
	g.SetLimit(o.workers())
	for i, t := range tables {
		if ctx.Err() != nil {
			break
		}
		if owner, ok := taken[i]; ok {
			results[i] = p.Reject(t, pipeline.SchemaMismatchError,
				fmt.Errorf("same destination as %s: %w", tables[owner].FullName(), ErrDestinationTaken))
			o.recordTable(runID, results[i])
			continue
		}
		g.Go(func() error {
			res := p.Run(tableCtx, t)
			results[i] = res
			o.recordTable(runID, res)
			// Never return the table error: siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// destinationOwners maps the index of every table whose destination name
// an earlier table already normalizes to onto that earlier table's index.
func destinationOwners(tables []source.Table) map[int]int {
	first := make(map[string]int)
	taken := make(map[int]int)
	for i, t := range tables {
		dest, err := warehouse.DestinationName(t.Name)
		if err != nil {
			continue
		}
		if owner, ok := first[dest]; ok {
			taken[i] = owner
			continue
		}
		first[dest] = i
	}
	return taken
}

func (o *Orchestrator) logSummary(s *Summary) {
	log.Info("run %s finished in %s: attempted=%d succeeded=%d failed=%d rows=%d",
		s.RunID, s.Duration.Round(time.Millisecond), s.TablesAttempted, s.Succeeded, s.Failed, s.Rows)
	if s.Failed > 0 {
		log.Warn("failed tables: %s", strings.Join(s.Failures(), ", "))
	}
	for _, p := range []any{o.src, o.wh} {
		if sp, ok := p.(stats.Provider); ok {
			log.Debug("pool %s", sp.Stats())
		}
	}
}

func (o *Orchestrator) recordStart(runID string) {
	if o.history == nil {
		return
	}
	if err := o.history.StartRun(runID, o.reflector.SourceSchema(), o.reflector.DestinationSchema(), o.config.Sanitized()); err != nil {
		log.Warn("recording run start: %v", err)
	}
}

func (o *Orchestrator) recordTable(runID string, r *TableResult) {
	if o.history == nil {
		return
	}
	if err := o.history.RecordTable(runID, tableRecord(r)); err != nil {
		log.Warn("recording %s: %v", r.Table, err)
	}
}

func (o *Orchestrator) recordFinish(s *Summary, runErr error) {
	if o.history == nil {
		return
	}
	if err := o.history.FinishRun(s.RunID, runStatus(s, runErr), s.TablesAttempted, s.Succeeded, s.Failed,
		logging.Truncate(runErr, logging.DefaultTruncate)); err != nil {
		log.Warn("recording run finish: %v", err)
	}
}

func runStatus(s *Summary, runErr error) string {
	switch {
	case runErr != nil && s.TablesAttempted == 0:
		return history.StatusFailed
	case s.Failed > 0 && s.Succeeded == 0:
		return history.StatusFailed
	case s.Failed > 0 || runErr != nil:
		return history.StatusPartial
	default:
		return history.StatusSuccess
	}
}

func tableRecord(r *TableResult) history.TableRecord {
	rec := history.TableRecord{
		Table:       r.Table,
		Destination: r.Destination,
		Status:      history.TableSuccess,
		Stage:       r.Stage.String(),
		Rows:        r.Rows,
		Loaded:      r.Loaded,
		Rejected:    r.Rejected,
		Chunks:      r.Chunks,
		DurationMs:  r.Duration.Milliseconds(),
	}
	if r.Skipped {
		rec.Status = history.TableSkipped
	}
	var te *pipeline.TableError
	if errors.As(r.Err, &te) {
		rec.Status = history.TableFailed
		rec.Stage = te.Stage.String()
		rec.Kind = te.Kind.String()
		rec.Error = logging.Truncate(te.Err, logging.DefaultTruncate)
	}
	return rec
}
