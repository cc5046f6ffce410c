package pool

import (
	"context"

	"github.com/johndauphine/mssql-warehouse-loader/internal/source"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stats"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
	"github.com/johndauphine/mssql-warehouse-loader/internal/warehouse"
)

// SourcePool defines the interface for source database operations
type SourcePool interface {
	// Connection management
	Close() error

	// Catalog
	ListTables(ctx context.Context, schema string) ([]source.Table, error)
	ListColumns(ctx context.Context, t source.Table) ([]source.Column, error)

	// Data
	RowCount(ctx context.Context, t source.Table) (int64, error)
	StreamRows(ctx context.Context, t source.Table, cols []source.Column) (source.RowCursor, error)

	DBType() string // "mssql" or "postgres"
}

// WarehousePool defines the interface for warehouse operations
type WarehousePool interface {
	// Connection management
	Close()

	Flavor() typemap.Flavor

	// Catalog
	CreateSchema(ctx context.Context, schema string) error
	ResolveTable(ctx context.Context, schema, table string) (actual string, exists bool, err error)
	Columns(ctx context.Context, schema, table string) ([]string, error)

	// Statements
	Exec(ctx context.Context, sql string) error
	Begin(ctx context.Context) (warehouse.Tx, error)

	// Data
	CopyStaged(ctx context.Context, req warehouse.CopyRequest) (int64, error)
	RowCount(ctx context.Context, schema, table string) (int64, error)
}

var (
	_ SourcePool    = (*source.Pool)(nil)
	_ SourcePool    = (*source.MockSource)(nil)
	_ WarehousePool = (*warehouse.Pool)(nil)
	_ WarehousePool = (*warehouse.MockWarehouse)(nil)

	_ stats.Provider = (*source.Pool)(nil)
	_ stats.Provider = (*warehouse.Pool)(nil)
)
