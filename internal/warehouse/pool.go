package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/johndauphine/mssql-warehouse-loader/internal/chunk"
	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stage"
	"github.com/johndauphine/mssql-warehouse-loader/internal/stats"
	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
)

var log = logging.For("warehouse")

// Tx is a warehouse transaction used for the staging swap.
type Tx interface {
	Exec(ctx context.Context, sql string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Pool manages warehouse connections. PostgreSQL and Redshift both speak the
// postgres wire protocol, so one pgx pool serves either flavor.
type Pool struct {
	pool     *pgxpool.Pool
	flavor   typemap.Flavor
	store    stage.Store
	iamRole  string
	maxConns int
}

// NewPool creates the warehouse pool and verifies connectivity.
func NewPool(ctx context.Context, cfg *config.Config, store stage.Store) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.WarehouseDSN())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	maxConns := cfg.Warehouse.MaxConnections
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(maxConns / 4)

	flavor := typemap.Postgres
	if strings.EqualFold(cfg.Warehouse.Type, string(typemap.Redshift)) {
		flavor = typemap.Redshift
		// Redshift rejects the extended protocol's prepared statement caching.
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging warehouse: %w", err)
	}

	return &Pool{
		pool:     pool,
		flavor:   flavor,
		store:    store,
		iamRole:  cfg.Warehouse.IAMRole,
		maxConns: maxConns,
	}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Flavor reports which warehouse dialect the pool targets.
func (p *Pool) Flavor() typemap.Flavor {
	return p.flavor
}

// MaxConns returns the configured maximum connections
func (p *Pool) MaxConns() int {
	return p.maxConns
}

// Stats returns current connection pool statistics
func (p *Pool) Stats() stats.PoolStats {
	s := p.pool.Stat()
	return stats.PoolStats{
		Name:        string(p.flavor),
		MaxConns:    int(s.MaxConns()),
		ActiveConns: int(s.AcquiredConns()),
		IdleConns:   int(s.IdleConns()),
		WaitCount:   s.EmptyAcquireCount(),
		WaitTimeMs:  s.AcquireDuration().Milliseconds(),
	}
}

// CreateSchema creates the target schema if it doesn't exist
func (p *Pool) CreateSchema(ctx context.Context, schema string) error {
	_, err := p.pool.Exec(ctx, CreateSchemaSQL(schema))
	return err
}

// ResolveTable finds table in schema ignoring case and returns its stored name.
func (p *Pool) ResolveTable(ctx context.Context, schema, table string) (string, bool, error) {
	var actual string
	err := p.pool.QueryRow(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND upper(table_name) = upper($2)
		  AND table_type = 'BASE TABLE'
		ORDER BY (table_name = $2) DESC
		LIMIT 1
	`, schema, table).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return actual, true, nil
}

// Columns returns the table's column names in ordinal order.
func (p *Pool) Columns(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Exec runs a single statement outside a transaction.
func (p *Pool) Exec(ctx context.Context, sql string) error {
	_, err := p.pool.Exec(ctx, sql)
	return err
}

// Begin starts a transaction.
func (p *Pool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx}, nil
}

// RowCount returns the row count for a table
func (p *Pool) RowCount(ctx context.Context, schema, table string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", QualifyTable(schema, table))).Scan(&count)
	return count, err
}

// CopyStaged bulk-loads the request's artifacts and returns the rows loaded.
func (p *Pool) CopyStaged(ctx context.Context, req CopyRequest) (int64, error) {
	if len(req.Keys) == 0 {
		return 0, nil
	}
	if p.flavor == typemap.Redshift {
		return p.copyRedshift(ctx, req)
	}
	return p.copyPostgres(ctx, req)
}

// copyPostgres streams each artifact through COPY FROM STDIN on one connection.
func (p *Pool) copyPostgres(ctx context.Context, req CopyRequest) (int64, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if req.SkipBadRows && !supportsOnError(conn.Conn().PgConn().ParameterStatus("server_version")) {
		log.Debug("server does not support COPY ON_ERROR, loading %s without skipping bad rows", req.Table)
		req.SkipBadRows = false
	}
	sql := postgresCopySQL(req)
	var total int64
	for _, key := range req.Keys {
		n, err := p.copyOne(ctx, conn, sql, key)
		if err != nil {
			return total, fmt.Errorf("copying %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}

func (p *Pool) copyOne(ctx context.Context, conn *pgxpool.Conn, sql, key string) (int64, error) {
	rc, err := p.store.Open(ctx, key)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	r, err := chunk.NewReader(rc)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	tag, err := conn.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// copyRedshift issues one COPY over the whole prefix and reads the loaded
// count from the same session.
func (p *Pool) copyRedshift(ctx context.Context, req CopyRequest) (int64, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	sql := redshiftCopySQL(req, p.store.URI(req.Prefix), p.iamRole)
	if _, err := conn.Exec(ctx, sql); err != nil {
		return 0, err
	}
	var loaded int64
	if err := conn.QueryRow(ctx, "SELECT pg_last_copy_count()").Scan(&loaded); err != nil {
		return 0, fmt.Errorf("reading copy count: %w", err)
	}
	return loaded, nil
}

// supportsOnError reports whether a PostgreSQL server_version is 17 or later.
func supportsOnError(version string) bool {
	major, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	major, _, _ = strings.Cut(major, " ")
	n, err := strconv.Atoi(major)
	return err == nil && n >= 17
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, sql string) error {
	_, err := t.tx.Exec(ctx, sql)
	return err
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
