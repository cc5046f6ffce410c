package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stats"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "github.com/microsoft/go-mssqldb"
)

// Pool is a source connection pool. It is safe for concurrent use: every
// operation borrows its own connection.
type Pool struct {
	db       *sql.DB
	strategy SQLStrategy
	maxConns int
}

// NewPool opens and pings a source pool for cfg.Source.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	driverName := "sqlserver"
	var strategy SQLStrategy = NewMSSQLStrategy()
	if cfg.Source.Type == "postgres" {
		driverName = "postgres"
		strategy = NewPostgresStrategy()
	}

	db, err := sql.Open(driverName, cfg.SourceDSN())
	if err != nil {
		return nil, fmt.Errorf("opening source connection: %w", err)
	}

	maxConns := cfg.Source.MaxConnections
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(1, maxConns/4))
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging source database: %w", err)
	}

	return NewPoolFromDB(db, strategy, maxConns), nil
}

// NewPoolFromDB wraps an already opened database.
func NewPoolFromDB(db *sql.DB, strategy SQLStrategy, maxConns int) *Pool {
	return &Pool{db: db, strategy: strategy, maxConns: maxConns}
}

// Close closes all connections in the pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// DBType returns the database type
func (p *Pool) DBType() string {
	return p.strategy.DBType()
}

// Stats returns current connection pool statistics
func (p *Pool) Stats() stats.PoolStats {
	s := p.db.Stats()
	return stats.PoolStats{
		Name:        p.DBType(),
		MaxConns:    s.MaxOpenConnections,
		ActiveConns: s.InUse,
		IdleConns:   s.Idle,
		WaitCount:   s.WaitCount,
		WaitTimeMs:  s.WaitDuration.Milliseconds(),
	}
}

// ListTables returns the base tables in schema.
func (p *Pool) ListTables(ctx context.Context, schema string) ([]Table, error) {
	rows, err := p.db.QueryContext(ctx, p.strategy.TablesQuery(), p.strategy.BindTableParams(schema)...)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ListColumns returns the columns of t ordered by ordinal position.
func (p *Pool) ListColumns(ctx context.Context, t Table) ([]Column, error) {
	rows, err := p.db.QueryContext(ctx, p.strategy.ColumnsQuery(), p.strategy.BindColumnParams(t.Schema, t.Name)...)
	if err != nil {
		return nil, fmt.Errorf("querying columns for %s: %w", t.FullName(), err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var nullable int
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision, &c.Scale, &nullable, &c.OrdinalPos); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		c.IsNullable = nullable == 1
		c.DataType = typemap.Canonical(p.strategy.DBType(), c.DataType)
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// RowCount returns COUNT(*) for t.
func (p *Pool) RowCount(ctx context.Context, t Table) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, rowCountQuery(p.strategy, t)).Scan(&count)
	return count, err
}

// StreamRows starts the export query for t. The returned cursor holds one
// connection until it is closed.
func (p *Pool) StreamRows(ctx context.Context, t Table, cols []Column) (RowCursor, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("streaming %s: no columns", t.FullName())
	}
	rows, err := p.db.QueryContext(ctx, selectQuery(p.strategy, t, cols))
	if err != nil {
		return nil, fmt.Errorf("querying rows of %s: %w", t.FullName(), err)
	}
	return newSQLCursor(rows, cols, p.strategy.DBType()), nil
}
