package source

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
)

// sqlCursor adapts *sql.Rows to RowCursor, normalising driver values.
type sqlCursor struct {
	rows   *sql.Rows
	cols   []Column
	dbType string
	dest   []any
	ptrs   []any
}

func newSQLCursor(rows *sql.Rows, cols []Column, dbType string) *sqlCursor {
	c := &sqlCursor{
		rows:   rows,
		cols:   cols,
		dbType: dbType,
		dest:   make([]any, len(cols)),
		ptrs:   make([]any, len(cols)),
	}
	for i := range c.dest {
		c.ptrs[i] = &c.dest[i]
	}
	return c
}

func (c *sqlCursor) Next() bool { return c.rows.Next() }
func (c *sqlCursor) Err() error { return c.rows.Err() }

func (c *sqlCursor) Close() error { return c.rows.Close() }

// Values scans the current row. The returned slice is freshly allocated.
func (c *sqlCursor) Values() ([]any, error) {
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	row := make([]any, len(c.dest))
	for i, v := range c.dest {
		row[i] = processValue(v, c.cols[i], c.dbType)
	}
	return row, nil
}

// processValue converts driver values into the small set of Go types the
// chunk writer formats: nil, string, bool, int64, float64, time.Time, []byte.
func processValue(val any, col Column, dbType string) any {
	if val == nil {
		return nil
	}
	colType := strings.ToLower(strings.TrimSpace(typemap.Canonical(dbType, col.DataType)))

	switch colType {
	case "uniqueidentifier":
		switch v := val.(type) {
		case []byte:
			if len(v) == 16 && dbType == "mssql" {
				return formatGUID(v)
			}
			return string(v)
		}
	case "bit", "bool", "boolean":
		switch v := val.(type) {
		case int64:
			return v != 0
		case int:
			return v != 0
		}
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "date", "timestamp", "timestamptz":
		if v, ok := val.(time.Time); ok && v.Year() < 1 {
			return nil
		}
	}

	switch v := val.(type) {
	case []byte:
		if typemap.IsBinary(colType) {
			out := make([]byte, len(v))
			copy(out, v)
			return out
		}
		// decimal, money, numeric, uuid text and friends arrive as text bytes
		return string(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case int:
		return int64(v)
	case uint8:
		return int64(v)
	case float32:
		return float64(v)
	}
	return val
}

// formatGUID converts SQL Server's mixed-endian GUID bytes to the canonical
// UUID string.
func formatGUID(b []byte) string {
	if len(b) != 16 {
		return hex.EncodeToString(b)
	}
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u.String()
}
