// Package source reads table metadata and row streams from the source
// database (SQL Server or PostgreSQL) over database/sql.
package source

import "github.com/johndauphine/mssql-warehouse-loader/internal/typemap"

// Table identifies a source base table.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// FullName returns the fully qualified table name (schema.table).
func (t Table) FullName() string {
	return t.Schema + "." + t.Name
}

// Column describes one source column as reported by INFORMATION_SCHEMA.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	MaxLength  int    `json:"max_length"` // -1 or 2147483647 when unbounded
	Precision  int    `json:"precision"`
	Scale      int    `json:"scale"`
	IsNullable bool   `json:"is_nullable"`
	OrdinalPos int    `json:"ordinal_pos"`
}

// IsBinary reports whether the column holds raw bytes.
func (c Column) IsBinary() bool {
	return typemap.IsBinary(c.DataType)
}

// RowCursor is a forward-only stream of rows. Rows are only pulled when the
// caller asks for the next one, so a slow consumer pauses the query.
type RowCursor interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close() error
}
