package typemap

import (
	"strings"
	"testing"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name      string
		flavor    Flavor
		typ       string
		maxLength int
		precision int
		scale     int
		want      string
	}{
		{"int", Postgres, "int", 0, 0, 0, "INTEGER"},
		{"tinyint widens", Redshift, "tinyint", 0, 0, 0, "SMALLINT"},
		{"bigint upper case input", Redshift, "BIGINT", 0, 0, 0, "BIGINT"},
		{"bit", Redshift, "bit", 0, 0, 0, "BOOLEAN"},
		{"money", Redshift, "money", 0, 0, 0, "NUMERIC(19,4)"},
		{"decimal keeps precision", Redshift, "decimal", 0, 18, 2, "NUMERIC(18,2)"},
		{"decimal clamps precision", Redshift, "numeric", 0, 50, 4, "NUMERIC(38,4)"},
		{"numeric without precision", Postgres, "numeric", 0, 0, 0, "NUMERIC(38,10)"},
		{"datetime2", Redshift, "datetime2", 0, 0, 0, "TIMESTAMP"},
		{"datetimeoffset", Redshift, "datetimeoffset", 0, 0, 0, "TIMESTAMPTZ"},
		{"time postgres", Postgres, "time", 0, 0, 0, "TIME"},
		{"time redshift", Redshift, "time", 0, 0, 0, "VARCHAR(32)"},
		{"nvarchar sized in bytes", Redshift, "nvarchar", 100, 0, 0, "VARCHAR(400)"},
		{"nvarchar postgres keeps characters", Postgres, "nvarchar", 100, 0, 0, "VARCHAR(100)"},
		{"varchar widened past limit", Redshift, "varchar", 20000, 0, 0, "VARCHAR(65535)"},
		{"varchar at byte limit", Redshift, "varchar", 16383, 0, 0, "VARCHAR(65532)"},
		{"nvarchar max", Redshift, "nvarchar", -1, 0, 0, "VARCHAR(65535)"},
		{"varchar int32 max", Redshift, "varchar", 2147483647, 0, 0, "VARCHAR(65535)"},
		{"varchar too wide", Postgres, "varchar", 100000, 0, 0, "VARCHAR(65535)"},
		{"pg text", Postgres, "text", 0, 0, 0, "VARCHAR(65535)"},
		{"nchar redshift", Redshift, "nchar", 10, 0, 0, "VARCHAR(40)"},
		{"char postgres", Postgres, "nchar", 10, 0, 0, "CHAR(10)"},
		{"rowversion", Redshift, "rowversion", 8, 0, 0, "VARBYTE(1024000)"},
		{"character varying", Postgres, "character varying", 255, 0, 0, "VARCHAR(255)"},
		{"length suffix in type", Postgres, "varchar(20)", 20, 0, 0, "VARCHAR(20)"},
		{"varbinary postgres", Postgres, "varbinary", -1, 0, 0, "BYTEA"},
		{"image redshift", Redshift, "image", 0, 0, 0, "VARBYTE(1024000)"},
		{"uniqueidentifier", Redshift, "uniqueidentifier", 0, 0, 0, "CHAR(36)"},
		{"xml falls back", Redshift, "xml", -1, 0, 0, "VARCHAR(65535)"},
		{"unknown", Redshift, "geography", 0, 0, 0, "VARCHAR(65535)"},
		{"empty type", Postgres, "", 0, 0, 0, "VARCHAR(65535)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(tt.flavor, tt.typ, tt.maxLength, tt.precision, tt.scale)
			if got != tt.want {
				t.Errorf("Map(%s, %q, %d) = %q, want %q", tt.flavor, tt.typ, tt.maxLength, got, tt.want)
			}
		})
	}
}

func TestMapTotalAndDeterministic(t *testing.T) {
	types := []string{
		"int", "nvarchar", "varchar", "char", "decimal", "datetime", "bit", "image",
		"sql_variant", "hierarchyid", "cursor", "???", "  Varchar  ", "NVARCHAR(MAX)",
	}
	lengths := []int{-1, 0, 1, 50, 65535, 65536, 2147483647}

	for _, flavor := range []Flavor{Postgres, Redshift} {
		for _, typ := range types {
			for _, n := range lengths {
				first := Map(flavor, typ, n, 0, 0)
				if first == "" {
					t.Fatalf("Map(%s, %q, %d) returned empty type", flavor, typ, n)
				}
				if again := Map(flavor, typ, n, 0, 0); again != first {
					t.Errorf("Map(%s, %q, %d) not deterministic: %q then %q", flavor, typ, n, first, again)
				}
				if strings.HasPrefix(first, "VARCHAR(") || strings.HasPrefix(first, "CHAR(") {
					continue
				}
				if strings.Contains(first, "(") && !strings.HasPrefix(first, "NUMERIC(") &&
					!strings.HasPrefix(first, "VARBYTE(") {
					t.Errorf("Map(%s, %q, %d) = %q: unexpected length suffix", flavor, typ, n, first)
				}
			}
		}
	}
}

func TestMapColumn(t *testing.T) {
	col := MapColumn(Redshift, "Notes", "nvarchar", -1, 0, 0, true)
	if col.Name != "Notes" || col.Type != Fallback || !col.Nullable {
		t.Errorf("unexpected column: %+v", col)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		source string
		typ    string
		want   string
	}{
		{"mssql", "timestamp", "rowversion"},
		{"mssql", " TIMESTAMP ", "rowversion"},
		{"mssql", "datetime2", "datetime2"},
		{"postgres", "timestamp", "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.source+"/"+tt.typ, func(t *testing.T) {
			if got := Canonical(tt.source, tt.typ); got != tt.want {
				t.Errorf("Canonical(%q, %q) = %q, want %q", tt.source, tt.typ, got, tt.want)
			}
		})
	}

	if got := Map(Postgres, Canonical("mssql", "timestamp"), 8, 0, 0); got != "BYTEA" {
		t.Errorf("SQL Server timestamp mapped to %s, want BYTEA", got)
	}
	if !IsBinary(Canonical("mssql", "timestamp")) || IsBinary("timestamp") {
		t.Error("IsBinary should follow the canonical type")
	}
}
