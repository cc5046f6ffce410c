package source

import "strings"

// PostgresStrategy implements SQLStrategy for PostgreSQL sources
type PostgresStrategy struct{}

// NewPostgresStrategy creates a new PostgreSQL strategy
func NewPostgresStrategy() *PostgresStrategy {
	return &PostgresStrategy{}
}

func (s *PostgresStrategy) DBType() string { return "postgres" }

func (s *PostgresStrategy) TablesQuery() string {
	return `
		SELECT
			table_schema,
			table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema = $1
		ORDER BY table_name
	`
}

// ColumnsQuery uses udt_name so that aliases (int4, bpchar, ...) come back
// in their canonical short form.
func (s *PostgresStrategy) ColumnsQuery() string {
	return `
		SELECT
			column_name,
			udt_name,
			COALESCE(character_maximum_length, 0),
			COALESCE(numeric_precision, 0),
			COALESCE(numeric_scale, 0),
			CASE WHEN is_nullable = 'YES' THEN 1 ELSE 0 END,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`
}

func (s *PostgresStrategy) BindTableParams(schema string) []interface{} {
	return []interface{}{schema}
}

func (s *PostgresStrategy) BindColumnParams(schema, table string) []interface{} {
	return []interface{}{schema, table}
}

func (s *PostgresStrategy) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
