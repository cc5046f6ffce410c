package source

import "fmt"

// SQLStrategy holds the database-specific metadata queries and quoting.
type SQLStrategy interface {
	DBType() string
	TablesQuery() string
	ColumnsQuery() string
	BindTableParams(schema string) []interface{}
	BindColumnParams(schema, table string) []interface{}
	QuoteIdentifier(name string) string
}

// qualify returns the quoted schema.table reference.
func qualify(s SQLStrategy, t Table) string {
	return s.QuoteIdentifier(t.Schema) + "." + s.QuoteIdentifier(t.Name)
}

// selectQuery builds the full-table export query with columns in ordinal order.
func selectQuery(s SQLStrategy, t Table, cols []Column) string {
	list := ""
	for i, c := range cols {
		if i > 0 {
			list += ", "
		}
		list += s.QuoteIdentifier(c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s", list, qualify(s, t))
}

// rowCountQuery returns the COUNT(*) query for a table.
func rowCountQuery(s SQLStrategy, t Table) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", qualify(s, t))
}
