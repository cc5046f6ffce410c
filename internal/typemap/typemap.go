// Package typemap maps source column types (SQL Server and PostgreSQL) to
// warehouse column types. Mapping is total: unknown types fall back to
// max-width text so that source schema drift never blocks a load.
package typemap

import (
	"fmt"
	"strings"
)

// Flavor selects the warehouse type vocabulary.
type Flavor string

const (
	Postgres Flavor = "postgres"
	Redshift Flavor = "redshift"
)

// MaxVarcharLength is the widest VARCHAR the warehouse accepts (Redshift's
// limit, also used for PostgreSQL so both flavors produce the same text width).
const MaxVarcharLength = 65535

// Unbounded length sentinels reported by source metadata.
const (
	unboundedMSSQL = -1
	unboundedInt32 = 2147483647
)

// redshiftBytesPerChar widens character lengths: sources count characters,
// Redshift counts UTF-8 bytes.
const redshiftBytesPerChar = 4

// maxNumericPrecision is the Redshift DECIMAL precision limit.
const maxNumericPrecision = 38

// Fallback is the type used for anything unrecognized.
var Fallback = fmt.Sprintf("VARCHAR(%d)", MaxVarcharLength)

// Column is a warehouse column derived from a source column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// simpleTypes maps types that need no length handling. Keys are lower case.
var simpleTypes = map[string]string{
	// Boolean
	"bit":     "BOOLEAN",
	"bool":    "BOOLEAN",
	"boolean": "BOOLEAN",

	// Integer types
	"tinyint":     "SMALLINT",
	"smallint":    "SMALLINT",
	"int2":        "SMALLINT",
	"smallserial": "SMALLINT",
	"int":         "INTEGER",
	"integer":     "INTEGER",
	"int4":        "INTEGER",
	"serial":      "INTEGER",
	"bigint":      "BIGINT",
	"int8":        "BIGINT",
	"bigserial":   "BIGINT",

	// Floating point
	"float":            "DOUBLE PRECISION",
	"float8":           "DOUBLE PRECISION",
	"double precision": "DOUBLE PRECISION",
	"real":             "REAL",
	"float4":           "REAL",

	// Fixed precision money
	"money":      "NUMERIC(19,4)",
	"smallmoney": "NUMERIC(10,4)",

	// Date/time types
	"date":                        "DATE",
	"datetime":                    "TIMESTAMP",
	"datetime2":                   "TIMESTAMP",
	"smalldatetime":               "TIMESTAMP",
	"timestamp":                   "TIMESTAMP",
	"timestamp without time zone": "TIMESTAMP",
	"datetimeoffset":              "TIMESTAMPTZ",
	"timestamptz":                 "TIMESTAMPTZ",
	"timestamp with time zone":    "TIMESTAMPTZ",

	// GUID
	"uniqueidentifier": "CHAR(36)",
	"uuid":             "CHAR(36)",
}

// sizedTypes are character types whose length is carried over.
var sizedTypes = map[string]string{
	"char":              "CHAR",
	"nchar":             "CHAR",
	"bpchar":            "CHAR",
	"character":         "CHAR",
	"varchar":           "VARCHAR",
	"nvarchar":          "VARCHAR",
	"character varying": "VARCHAR",
}

// binaryTypes hold raw bytes.
var binaryTypes = map[string]bool{
	"binary":     true,
	"varbinary":  true,
	"image":      true,
	"bytea":      true,
	"rowversion": true,
}

// flavorTypes override simpleTypes per flavor.
var flavorTypes = map[Flavor]map[string]string{
	Postgres: {
		"time":                   "TIME",
		"time without time zone": "TIME",
	},
	Redshift: {
		"time":                   "VARCHAR(32)",
		"time without time zone": "VARCHAR(32)",
	},
}

// Map returns the warehouse type for a source column. declaredType is matched
// case-insensitively; maxLength may be -1 or 2147483647 for unbounded values.
func Map(flavor Flavor, declaredType string, maxLength, precision, scale int) string {
	t := strings.ToLower(strings.TrimSpace(declaredType))

	// Declared types sometimes arrive with a length suffix, e.g. "varchar(50)".
	if i := strings.IndexByte(t, '('); i > 0 {
		t = strings.TrimSpace(t[:i])
	}

	if mapped, ok := flavorTypes[flavor][t]; ok {
		return mapped
	}
	if mapped, ok := simpleTypes[t]; ok {
		return mapped
	}

	if base, ok := sizedTypes[t]; ok {
		return sized(flavor, base, maxLength)
	}

	if binaryTypes[t] {
		if flavor == Redshift {
			return "VARBYTE(1024000)"
		}
		return "BYTEA"
	}

	switch t {
	case "decimal", "numeric":
		return numeric(precision, scale)
	}

	return Fallback
}

// MapColumn maps one column, keeping its name and nullability.
func MapColumn(flavor Flavor, name, declaredType string, maxLength, precision, scale int, nullable bool) Column {
	return Column{
		Name:     name,
		Type:     Map(flavor, declaredType, maxLength, precision, scale),
		Nullable: nullable,
	}
}

// IsUnbounded reports whether maxLength is an "unbounded" sentinel.
func IsUnbounded(maxLength int) bool {
	return maxLength == unboundedMSSQL || maxLength == unboundedInt32 || maxLength <= 0
}

func sized(flavor Flavor, base string, maxLength int) string {
	if IsUnbounded(maxLength) {
		return Fallback
	}
	if flavor == Redshift {
		// Redshift CHAR holds single-byte characters only.
		base = "VARCHAR"
		if maxLength > MaxVarcharLength/redshiftBytesPerChar {
			return Fallback
		}
		maxLength *= redshiftBytesPerChar
	}
	if maxLength > MaxVarcharLength {
		// CHAR has no unbounded form; widen to VARCHAR.
		return Fallback
	}
	return fmt.Sprintf("%s(%d)", base, maxLength)
}

// Canonical rewrites a source type name whose meaning depends on the source
// database. SQL Server reports rowversion columns as "timestamp", which is
// binary there and a date/time type everywhere else.
func Canonical(sourceDB, declaredType string) string {
	if sourceDB == "mssql" && strings.EqualFold(strings.TrimSpace(declaredType), "timestamp") {
		return "rowversion"
	}
	return declaredType
}

// IsBinary reports whether declaredType holds raw bytes.
func IsBinary(declaredType string) bool {
	return binaryTypes[strings.ToLower(strings.TrimSpace(declaredType))]
}

func numeric(precision, scale int) string {
	if precision <= 0 {
		return "NUMERIC(38,10)"
	}
	if precision > maxNumericPrecision {
		precision = maxNumericPrecision
	}
	if scale < 0 {
		scale = 0
	}
	if scale > precision {
		scale = precision
	}
	return fmt.Sprintf("NUMERIC(%d,%d)", precision, scale)
}
