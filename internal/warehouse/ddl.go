package warehouse

import (
	"fmt"
	"strings"

	"github.com/johndauphine/mssql-warehouse-loader/internal/typemap"
)

// CreateTableSQL builds the CREATE TABLE statement for mapped columns, in order.
func CreateTableSQL(schema, table string, cols []typemap.Column) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", QualifyTable(schema, table))
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(",\n")
		}
		fmt.Fprintf(&sb, "    %s %s", quoteIdent(c.Name), c.Type)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
	}
	sb.WriteString("\n)")
	return sb.String()
}

// CreateLikeSQL creates table with the same shape as like.
func CreateLikeSQL(schema, table, like string) string {
	return fmt.Sprintf("CREATE TABLE %s (LIKE %s)", QualifyTable(schema, table), QualifyTable(schema, like))
}

// AddColumnSQL adds a nullable column; existing rows have no value for it.
func AddColumnSQL(schema, table string, col typemap.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", QualifyTable(schema, table), quoteIdent(col.Name), col.Type)
}

// RenameTableSQL renames a table within its schema.
func RenameTableSQL(schema, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QualifyTable(schema, from), quoteIdent(to))
}

// DropTableSQL drops a table, optionally tolerating its absence.
func DropTableSQL(schema, table string, ifExists bool) string {
	if ifExists {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", QualifyTable(schema, table))
	}
	return fmt.Sprintf("DROP TABLE %s", QualifyTable(schema, table))
}

// CreateSchemaSQL creates the target schema if it doesn't exist.
func CreateSchemaSQL(schema string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(schema))
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
