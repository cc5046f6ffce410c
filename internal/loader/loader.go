// Package loader moves staged artifacts into a warehouse table: it
// reconciles the destination shape, bulk-loads a staging table and swaps it
// in atomically.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pool"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

var log = logging.For("loader")

var (
	// ErrNoColumns means the destination table exists but reports no columns.
	ErrNoColumns = errors.New("destination table has no columns")
	// ErrColumnMissing means a source column could not be matched to the
	// destination even after reconciliation.
	ErrColumnMissing = errors.New("column missing from destination")
	// ErrTooManyRejected means the load rejected more rows than allowed.
	ErrTooManyRejected = errors.New("too many rejected rows")
	// ErrSwapFailed marks a rolled back swap transaction.
	ErrSwapFailed = errors.New("swap failed")
)

// Options configures a Loader for one run.
type Options struct {
	Schema          string
	RunID           string
	FailOnBadRows   bool
	MaxRejectedRows int64
}

// Loader loads tables into one warehouse schema for one run.
type Loader struct {
	wh    pool.WarehousePool
	store stage.Store
	opts  Options
}

// New creates a loader.
func New(wh pool.WarehousePool, store stage.Store, opts Options) *Loader {
	return &Loader{wh: wh, store: store, opts: opts}
}

// Target is a destination table ready to receive a load.
type Target struct {
	Table   string   // name as stored by the warehouse
	Columns []string // destination column per source column, same order
	Created bool
	Added   []string
}

// LoadResult describes a completed staging load.
type LoadResult struct {
	Staging  string
	Loaded   int64
	Rejected int64
}

// EnsureSchema makes sure the destination table can hold cols. An absent
// table is created; a present one gains any source columns it lacks.
func (l *Loader) EnsureSchema(ctx context.Context, table string, cols []typemap.Column) (*Target, error) {
	actual, exists, err := l.wh.ResolveTable(ctx, l.opts.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", table, err)
	}

	target := &Target{Table: actual}
	if !exists {
		if err := l.wh.Exec(ctx, warehouse.CreateTableSQL(l.opts.Schema, table, cols)); err != nil {
			return nil, fmt.Errorf("creating %s: %w", table, err)
		}
		log.Info("Created table %s.%s (%d columns)", l.opts.Schema, table, len(cols))
		if target.Table, _, err = l.wh.ResolveTable(ctx, l.opts.Schema, table); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", table, err)
		}
		if target.Table == "" {
			target.Table = table
		}
		target.Created = true
	}

	existing, err := l.wh.Columns(ctx, l.opts.Schema, target.Table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", target.Table, err)
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%s.%s: %w", l.opts.Schema, target.Table, ErrNoColumns)
	}

	if !target.Created {
		for _, c := range cols {
			if findColumn(existing, c.Name) >= 0 {
				continue
			}
			add := c
			add.Nullable = true
			if err := l.wh.Exec(ctx, warehouse.AddColumnSQL(l.opts.Schema, target.Table, add)); err != nil {
				return nil, fmt.Errorf("adding column %s to %s: %w", c.Name, target.Table, err)
			}
			target.Added = append(target.Added, c.Name)
		}
		if len(target.Added) > 0 {
			log.Info("Added %d column(s) to %s.%s: %v", len(target.Added), l.opts.Schema, target.Table, target.Added)
			if existing, err = l.wh.Columns(ctx, l.opts.Schema, target.Table); err != nil {
				return nil, fmt.Errorf("reading columns of %s: %w", target.Table, err)
			}
		}
	}

	target.Columns = make([]string, len(cols))
	for i, c := range cols {
		idx := findColumn(existing, c.Name)
		if idx < 0 {
			return nil, fmt.Errorf("%s.%s after reconciliation: %w", target.Table, c.Name, ErrColumnMissing)
		}
		target.Columns[i] = existing[idx]
	}
	return target, nil
}

// LoadStaging creates a fresh staging table shaped like the target and
// bulk-loads every artifact under prefix into it. With no keys the staging
// table stays empty. exported is the number of
// rows written to the artifacts; the difference to the loaded count is
// treated as rejected rows.
func (l *Loader) LoadStaging(ctx context.Context, target *Target, prefix string, keys []string, exported int64) (*LoadResult, error) {
	staging := warehouse.StagingTableName(target.Table, l.opts.RunID)

	if err := l.wh.Exec(ctx, warehouse.DropTableSQL(l.opts.Schema, staging, true)); err != nil {
		return nil, fmt.Errorf("dropping leftover staging %s: %w", staging, err)
	}
	if err := l.wh.Exec(ctx, warehouse.CreateLikeSQL(l.opts.Schema, staging, target.Table)); err != nil {
		return nil, fmt.Errorf("creating staging %s: %w", staging, err)
	}

	result := &LoadResult{Staging: staging}
	if len(keys) == 0 {
		// Nothing exported: the empty staging table replaces the target.
		log.Debug("%s: no artifacts, staging %s left empty", target.Table, staging)
		return result, nil
	}
	loaded, err := l.wh.CopyStaged(ctx, warehouse.CopyRequest{
		Schema:      l.opts.Schema,
		Table:       staging,
		Columns:     target.Columns,
		Prefix:      prefix,
		Keys:        keys,
		SkipBadRows: !l.opts.FailOnBadRows && l.opts.MaxRejectedRows > 0,
		MaxErrors:   l.opts.MaxRejectedRows,
	})
	if err != nil {
		l.DropStaging(ctx, staging)
		return nil, fmt.Errorf("loading %s: %w", staging, err)
	}

	result.Loaded = loaded
	if exported > loaded {
		result.Rejected = exported - loaded
	}
	if result.Rejected > 0 {
		log.Warn("%s: %d of %d rows rejected during load", target.Table, result.Rejected, exported)
	}
	if (l.opts.FailOnBadRows && result.Rejected > 0) || result.Rejected > l.opts.MaxRejectedRows {
		l.DropStaging(ctx, staging)
		return result, fmt.Errorf("%s: %d rows rejected (limit %d): %w",
			target.Table, result.Rejected, l.opts.MaxRejectedRows, ErrTooManyRejected)
	}
	return result, nil
}

// Swap replaces the target table with the staging table in one
// transaction. On failure the transaction is rolled back and the target
// keeps its previous contents.
func (l *Loader) Swap(ctx context.Context, table, staging string) (err error) {
	backup := warehouse.BackupTableName(table, l.opts.RunID)
	schema := l.opts.Schema

	tx, err := l.wh.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction for %s: %v", ErrSwapFailed, table, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error("SWAP FAILED %s.%s: rollback error: %v", schema, table, rbErr)
		}
		log.Error("SWAP FAILED %s.%s, rolled back: %s", schema, table, logging.Truncate(err, logging.DefaultTruncate))
	}()

	steps := []string{
		warehouse.RenameTableSQL(schema, table, backup),
		warehouse.RenameTableSQL(schema, staging, table),
		warehouse.DropTableSQL(schema, backup, false),
		warehouse.DropTableSQL(schema, staging, true),
	}
	for _, sql := range steps {
		if err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSwapFailed, firstWords(sql), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrSwapFailed, err)
	}
	log.Debug("Swapped %s.%s into place", schema, table)
	return nil
}

// DropStaging drops a staging table, logging instead of failing.
func (l *Loader) DropStaging(ctx context.Context, staging string) {
	if err := l.wh.Exec(ctx, warehouse.DropTableSQL(l.opts.Schema, staging, true)); err != nil {
		log.Warn("Failed to drop staging table %s: %v", staging, err)
	}
}

// CleanupArtifacts deletes the remote artifacts under prefix, logging
// instead of failing.
func (l *Loader) CleanupArtifacts(ctx context.Context, prefix string) {
	if err := l.store.DeletePrefix(ctx, prefix); err != nil {
		log.Warn("Failed to delete staged artifacts %s: %v", l.store.URI(prefix), err)
	}
}

func findColumn(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// firstWords returns the statement verb and object for error messages.
func firstWords(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}
