// Package pipeline runs one table through export, staging, load and swap,
// and classifies whatever goes wrong along the way.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/chunk"
	"github.com/johndauphine/mssql-warehouse-loader/internal/loader"
	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pool"
	"github.com/johndauphine/mssql-warehouse-loader/internal/progress"
	"github.com/johndauphine/mssql-warehouse-loader/internal/schema"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

var log = logging.For("pipeline")

// Config contains pipeline execution configuration.
type Config struct {
	// RunID namespaces local files, remote artifacts and staging tables.
	RunID string

	// WorkDir is the root for local chunk files.
	WorkDir string

	// StagePrefix is the base key for staged artifacts.
	StagePrefix string

	// ChunkMaxBytes is the per-chunk byte budget including the header.
	ChunkMaxBytes int64

	// CompressionLevel is the gzip level for artifacts; 0 stores them
	// uncompressed.
	CompressionLevel int
}

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Source    pool.SourcePool
	Reflector *schema.Reflector
	Uploader  *stage.Uploader
	Loader    *loader.Loader
	Flavor    typemap.Flavor
	Progress  *progress.Tracker // optional
}

// Pipeline moves single tables from the source into the warehouse.
type Pipeline struct {
	cfg       Config
	src       pool.SourcePool
	reflector *schema.Reflector
	uploader  *stage.Uploader
	loader    *loader.Loader
	prog      *progress.Tracker
	binaryHex bool
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.ChunkMaxBytes <= 0 {
		cfg.ChunkMaxBytes = chunk.DefaultMaxBytes
	}
	return &Pipeline{
		cfg:       cfg,
		src:       deps.Source,
		reflector: deps.Reflector,
		uploader:  deps.Uploader,
		loader:    deps.Loader,
		prog:      deps.Progress,
		binaryHex: deps.Flavor == typemap.Redshift,
	}
}

// Result is the outcome of one table pipeline.
type Result struct {
	Table       string // source schema.name
	Destination string
	Stage       Stage // last stage reached
	Rows        int64 // rows exported
	Loaded      int64
	Rejected    int64
	Chunks      int
	Created     bool
	Skipped     bool // nothing to load
	Duration    time.Duration
	Stats       Stats
	Err         error // *TableError when the table failed
}

// Succeeded reports whether the table reached DONE.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// tableRun carries the state of one Run call.
type tableRun struct {
	res   *Result
	start time.Time
}

func (r *tableRun) enter(s Stage) {
	r.res.Stage = s
	log.Info("%s: stage=%s elapsed=%s", r.res.Table, s, time.Since(r.start).Round(time.Millisecond))
}

func (r *tableRun) fail(kind Kind, err error) *Result {
	elapsed := time.Since(r.start)
	te := &TableError{Table: r.res.Table, Stage: r.res.Stage, Kind: kind, Elapsed: elapsed, Err: err}
	log.Error("%s: stage=%s failed_at=%s kind=%s elapsed=%s error=%s",
		r.res.Table, StageFailed, r.res.Stage, kind, elapsed.Round(time.Millisecond),
		logging.Truncate(err, logging.DefaultTruncate))
	r.res.Err = te
	r.res.Stage = StageFailed
	r.res.Duration = elapsed
	return r.res
}

func (r *tableRun) done(reason string) *Result {
	r.res.Stage = StageDone
	r.res.Duration = time.Since(r.start)
	if reason != "" {
		log.Info("%s: stage=%s elapsed=%s (%s)", r.res.Table, StageDone, r.res.Duration.Round(time.Millisecond), reason)
	} else {
		log.Info("%s: stage=%s elapsed=%s rows=%d chunks=%d", r.res.Table, StageDone,
			r.res.Duration.Round(time.Millisecond), r.res.Loaded, r.res.Chunks)
	}
	log.Debug("%s: %s", r.res.Table, r.res.Stats)
	return r.res
}

// Run executes DISCOVER → ENSURE_SCHEMA → EXPORT → LOAD_STAGING → SWAP for
// t. Failures never escape as panics or returned errors; they are reported
// in the Result.
func (p *Pipeline) Run(ctx context.Context, t source.Table) (res *Result) {
	run := &tableRun{res: &Result{Table: t.FullName()}, start: time.Now()}
	p.prog.StartTable(t.Name)
	defer func() { p.prog.EndTable(t.Name, res.Err != nil) }()

	// Cleanup must outlive a cancelled run context.
	cleanupCtx := context.WithoutCancel(ctx)

	run.enter(StageDiscover)
	dest, err := warehouse.DestinationName(t.Name)
	if err != nil {
		return run.fail(SchemaMismatchError, err)
	}
	run.res.Destination = dest
	cols, err := p.reflector.ListSourceColumns(ctx, t)
	if err != nil {
		return run.fail(ConnectionError, err)
	}
	if len(cols) == 0 {
		run.res.Skipped = true
		return run.done("nothing to load: no columns")
	}

	run.enter(StageEnsureSchema)
	target, err := p.loader.EnsureSchema(ctx, dest, p.reflector.DestinationColumns(cols))
	if err != nil {
		if errors.Is(err, loader.ErrNoColumns) || errors.Is(err, loader.ErrColumnMissing) {
			return run.fail(SchemaMismatchError, err)
		}
		return run.fail(ConnectionError, err)
	}
	run.res.Created = target.Created

	run.enter(StageExport)
	key := workKey(t, dest)
	dir := filepath.Join(p.cfg.WorkDir, p.cfg.RunID, key)
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("%s: removing %s: %v", t.FullName(), dir, err)
		}
	}()
	prefix := stage.TablePrefix(p.cfg.StagePrefix, p.cfg.RunID, key)

	exportStart := time.Now()
	exp, err := p.export(ctx, t, cols, dest, dir, prefix, &run.res.Stats)
	run.res.Stats.ExportTime = time.Since(exportStart)
	if exp != nil {
		run.res.Rows = exp.Rows
		run.res.Chunks = exp.Chunks
		run.res.Stats.Rows = exp.Rows
		run.res.Stats.Chunks = exp.Chunks
		run.res.Stats.Bytes = exp.Bytes
	}
	if err != nil {
		p.loader.CleanupArtifacts(cleanupCtx, prefix)
		if isUploadFailure(err) {
			return run.fail(UploadError, err)
		}
		return run.fail(ExportStreamError, err)
	}
	if exp.Rows == 0 && target.Created {
		run.res.Skipped = true
		return run.done("nothing to load: no rows")
	}
	// An existing target is still replaced: an emptied source empties it.

	run.enter(StageLoadStaging)
	loadStart := time.Now()
	lr, err := p.loader.LoadStaging(ctx, target, prefix, exp.Keys, exp.Rows)
	run.res.Stats.LoadTime = time.Since(loadStart)
	if lr != nil {
		run.res.Loaded = lr.Loaded
		run.res.Rejected = lr.Rejected
	}
	if err != nil {
		p.loader.CleanupArtifacts(cleanupCtx, prefix)
		return run.fail(LoadError, err)
	}

	run.enter(StageSwap)
	swapStart := time.Now()
	err = p.loader.Swap(ctx, target.Table, lr.Staging)
	run.res.Stats.SwapTime = time.Since(swapStart)
	if err != nil {
		p.loader.DropStaging(cleanupCtx, lr.Staging)
		p.loader.CleanupArtifacts(cleanupCtx, prefix)
		return run.fail(SwapTransactionError, err)
	}

	p.loader.CleanupArtifacts(cleanupCtx, prefix)
	return run.done("")
}

// Reject reports t as failed during DISCOVER without touching either
// database.
func (p *Pipeline) Reject(t source.Table, kind Kind, err error) *Result {
	run := &tableRun{res: &Result{Table: t.FullName(), Stage: StageDiscover}, start: time.Now()}
	run.res.Destination, _ = warehouse.DestinationName(t.Name)
	p.prog.StartTable(t.Name)
	defer p.prog.EndTable(t.Name, true)
	return run.fail(kind, err)
}

// workKey names the local chunk directory and remote prefix of one source
// table. Destination names are lossy, so a hash of the source name keeps
// tables that normalize alike apart.
func workKey(t source.Table, dest string) string {
	sum := sha256.Sum256([]byte(t.FullName()))
	return dest + "-" + hex.EncodeToString(sum[:4])
}
