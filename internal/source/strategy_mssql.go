package source

import (
	"database/sql"
	"strings"
)

// MSSQLStrategy implements SQLStrategy for Microsoft SQL Server
type MSSQLStrategy struct{}

// NewMSSQLStrategy creates a new MSSQL strategy
func NewMSSQLStrategy() *MSSQLStrategy {
	return &MSSQLStrategy{}
}

func (s *MSSQLStrategy) DBType() string { return "mssql" }

// TablesQuery lists base tables only; views are excluded.
func (s *MSSQLStrategy) TablesQuery() string {
	return `
		SELECT
			t.TABLE_SCHEMA,
			t.TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES t
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		  AND t.TABLE_SCHEMA = @schema
		ORDER BY t.TABLE_NAME
	`
}

// ColumnsQuery returns columns in declared order. CHARACTER_MAXIMUM_LENGTH is
// -1 for the (max) types.
func (s *MSSQLStrategy) ColumnsQuery() string {
	return `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(NUMERIC_PRECISION, 0),
			ISNULL(NUMERIC_SCALE, 0),
			CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`
}

func (s *MSSQLStrategy) BindTableParams(schema string) []interface{} {
	return []interface{}{sql.Named("schema", schema)}
}

func (s *MSSQLStrategy) BindColumnParams(schema, table string) []interface{} {
	return []interface{}{
		sql.Named("schema", schema),
		sql.Named("table", table),
	}
}

// QuoteIdentifier brackets a name, doubling any closing bracket.
func (s *MSSQLStrategy) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
