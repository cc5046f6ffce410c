package source

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSelectQuery(t *testing.T) {
	cols := []Column{{Name: "Id"}, {Name: "Order]Note"}}
	tbl := Table{Schema: "dbo", Name: "Orders"}

	got := selectQuery(NewMSSQLStrategy(), tbl, cols)
	want := "SELECT [Id], [Order]]Note] FROM [dbo].[Orders]"
	if got != want {
		t.Errorf("mssql select = %q, want %q", got, want)
	}

	got = selectQuery(NewPostgresStrategy(), Table{Schema: "public", Name: `we"ird`}, []Column{{Name: "id"}})
	want = `SELECT "id" FROM "public"."we""ird"`
	if got != want {
		t.Errorf("postgres select = %q, want %q", got, want)
	}
}

func TestTablesQueryExcludesViews(t *testing.T) {
	for _, s := range []SQLStrategy{NewMSSQLStrategy(), NewPostgresStrategy()} {
		if !strings.Contains(strings.ToUpper(s.TablesQuery()), "'BASE TABLE'") {
			t.Errorf("%s tables query must filter base tables", s.DBType())
		}
		if !strings.Contains(strings.ToUpper(s.ColumnsQuery()), "ORDER BY ORDINAL_POSITION") {
			t.Errorf("%s columns query must order by ordinal position", s.DBType())
		}
	}
}

func TestFormatGUID(t *testing.T) {
	// SQL Server stores 6F9619FF-8B86-D011-B42D-00C04FC964FF as below
	raw := []byte{0xFF, 0x19, 0x96, 0x6F, 0x86, 0x8B, 0x11, 0xD0, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	if got := formatGUID(raw); got != "6f9619ff-8b86-d011-b42d-00c04fc964ff" {
		t.Errorf("formatGUID = %q", got)
	}
	if got := formatGUID([]byte{0xAB}); got != "ab" {
		t.Errorf("short input = %q", got)
	}
}

func TestProcessValue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		val    any
		col    Column
		dbType string
		want   any
	}{
		{"nil", nil, Column{DataType: "int"}, "mssql", nil},
		{"decimal bytes", []byte("12.50"), Column{DataType: "decimal"}, "mssql", "12.50"},
		{"bit int", int64(1), Column{DataType: "bit"}, "postgres", true},
		{"int32 widened", int32(7), Column{DataType: "int"}, "mssql", int64(7)},
		{"float32 widened", float32(1.5), Column{DataType: "real"}, "mssql", float64(1.5)},
		{"zero time", time.Time{}.AddDate(-1, 0, 0), Column{DataType: "datetime2"}, "mssql", nil},
		{"time kept", ts, Column{DataType: "datetime2"}, "mssql", ts},
		{"pg uuid text", []byte("6f9619ff-8b86-d011-b42d-00c04fc964ff"), Column{DataType: "uuid"}, "postgres", "6f9619ff-8b86-d011-b42d-00c04fc964ff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processValue(tt.val, tt.col, tt.dbType); got != tt.want {
				t.Errorf("processValue(%v) = %#v, want %#v", tt.val, got, tt.want)
			}
		})
	}

	bin := processValue([]byte{1, 2}, Column{DataType: "varbinary"}, "mssql")
	if b, ok := bin.([]byte); !ok || len(b) != 2 {
		t.Errorf("binary value should stay []byte, got %#v", bin)
	}
}

func TestSQLServerTimestampIsBinary(t *testing.T) {
	rv := []byte{0, 0, 0, 0, 0, 0, 0x07, 0xd1}
	got := processValue(rv, Column{Name: "RV", DataType: "timestamp"}, "mssql")
	if b, ok := got.([]byte); !ok || len(b) != 8 || b[7] != 0xd1 {
		t.Errorf("rowversion value = %#v, want the raw 8 bytes", got)
	}

	m := &MockSource{}
	m.AddTable("dbo", "Orders", []Column{{Name: "Id", DataType: "int"}, {Name: "RV", DataType: "timestamp"}}, nil)
	cols, err := m.ListColumns(context.Background(), Table{Schema: "dbo", Name: "Orders"})
	if err != nil {
		t.Fatal(err)
	}
	if cols[1].DataType != "rowversion" || !cols[1].IsBinary() {
		t.Errorf("RV column = %+v, want binary rowversion", cols[1])
	}

	pg := &MockSource{Type: "postgres"}
	pg.AddTable("public", "events", []Column{{Name: "at", DataType: "timestamp"}}, nil)
	cols, _ = pg.ListColumns(context.Background(), Table{Schema: "public", Name: "events"})
	if cols[0].DataType != "timestamp" {
		t.Errorf("postgres timestamp rewritten to %q", cols[0].DataType)
	}
}
