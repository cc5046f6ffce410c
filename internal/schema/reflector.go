// Package schema reads table structure from the source and the warehouse.
package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pool"
	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
)

var log = logging.For("schema")

// Reflector answers catalog questions for one source schema and one
// destination schema.
type Reflector struct {
	src          pool.SourcePool
	wh           pool.WarehousePool
	sourceSchema string
	destSchema   string
	include      []string
	exclude      []string
}

// NewReflector creates a reflector using the schemas and filters in cfg.
func NewReflector(src pool.SourcePool, wh pool.WarehousePool, cfg *config.Config) *Reflector {
	return &Reflector{
		src:          src,
		wh:           wh,
		sourceSchema: cfg.Source.Schema,
		destSchema:   cfg.Warehouse.Schema,
		include:      cfg.Migration.IncludeTables,
		exclude:      cfg.Migration.ExcludeTables,
	}
}

// SourceSchema returns the schema tables are read from.
func (r *Reflector) SourceSchema() string { return r.sourceSchema }

// DestinationSchema returns the schema tables are loaded into.
func (r *Reflector) DestinationSchema() string { return r.destSchema }

// ListSourceTables returns the source's base tables that pass the
// include/exclude filters.
func (r *Reflector) ListSourceTables(ctx context.Context) ([]source.Table, error) {
	tables, err := r.src.ListTables(ctx, r.sourceSchema)
	if err != nil {
		return nil, fmt.Errorf("listing source tables in %s: %w", r.sourceSchema, err)
	}
	return r.filterTables(tables), nil
}

// ListSourceColumns returns t's columns in ordinal order.
func (r *Reflector) ListSourceColumns(ctx context.Context, t source.Table) ([]source.Column, error) {
	cols, err := r.src.ListColumns(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s: %w", t.FullName(), err)
	}
	return cols, nil
}

// DestinationColumns maps source columns to warehouse columns, preserving order.
func (r *Reflector) DestinationColumns(cols []source.Column) []typemap.Column {
	flavor := r.wh.Flavor()
	out := make([]typemap.Column, len(cols))
	for i, c := range cols {
		out[i] = typemap.MapColumn(flavor, c.Name, c.DataType, c.MaxLength, c.Precision, c.Scale, c.IsNullable)
	}
	return out
}

// DestinationTableExists looks name up ignoring case and returns the name
// the warehouse stores it under.
func (r *Reflector) DestinationTableExists(ctx context.Context, name string) (string, bool, error) {
	actual, exists, err := r.wh.ResolveTable(ctx, r.destSchema, name)
	if err != nil {
		return "", false, fmt.Errorf("looking up %s.%s: %w", r.destSchema, name, err)
	}
	return actual, exists, nil
}

// ListDestinationColumns returns the destination table's column names in
// ordinal order.
func (r *Reflector) ListDestinationColumns(ctx context.Context, actual string) ([]string, error) {
	cols, err := r.wh.Columns(ctx, r.destSchema, actual)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %s.%s: %w", r.destSchema, actual, err)
	}
	return cols, nil
}

// filterTables filters tables based on include/exclude patterns
func (r *Reflector) filterTables(tables []source.Table) []source.Table {
	if len(r.include) == 0 && len(r.exclude) == 0 {
		return tables
	}

	var filtered []source.Table
	var skipped []string
	for _, t := range tables {
		if !Selected(t.Name, r.include, r.exclude) {
			skipped = append(skipped, t.Name)
			continue
		}
		filtered = append(filtered, t)
	}

	if len(skipped) > 0 {
		log.Info("Skipped %d tables by filter: %v", len(skipped), skipped)
	}
	return filtered
}

// Selected reports whether name matches at least one include pattern (when
// any are given) and no exclude pattern. Matching ignores case.
func Selected(name string, include, exclude []string) bool {
	tableName := strings.ToLower(name)
	if len(include) > 0 {
		matched := false
		for _, pattern := range include {
			if match, _ := filepath.Match(strings.ToLower(pattern), tableName); match {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range exclude {
		if match, _ := filepath.Match(strings.ToLower(pattern), tableName); match {
			return false
		}
	}
	return true
}
