package warehouse

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
)

// maxIdentLength is PostgreSQL's identifier limit (Redshift allows 127).
const maxIdentLength = 63

// quoteIdent safely quotes an identifier, escaping embedded quotes.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QualifyTable returns "schema"."table".
func QualifyTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// NormalizeTableName derives the destination table name from a source name:
// trim, collapse each run of characters outside [A-Za-z0-9_] into one "_",
// strip leading and trailing "_", uppercase. The result only contains
// [A-Z0-9_] and NormalizeTableName(NormalizeTableName(s)) == NormalizeTableName(s).
// It may be empty.
func NormalizeTableName(name string) string {
	s := strings.TrimSpace(name)
	var sb strings.Builder
	sb.Grow(len(s))
	inRun := false
	for i := 0; i < len(s); i++ {
		b := s[i]
		if isWordByte(b) {
			sb.WriteByte(b)
			inRun = false
			continue
		}
		if !inRun {
			sb.WriteByte('_')
			inRun = true
		}
	}
	return strings.ToUpper(strings.Trim(sb.String(), "_"))
}

// StagingTableName is the transient table a run loads into before the swap.
func StagingTableName(table, runID string) string {
	return derivedName(table, "STG", runID)
}

// BackupTableName is the name the current table holds during the swap.
func BackupTableName(table, runID string) string {
	return derivedName(table, "BAK", runID)
}

// derivedName keeps derived names within the identifier limit, falling back
// to a hash of the table name for long tables.
func derivedName(table, kind, runID string) string {
	name := fmt.Sprintf("%s__%s_%s", table, kind, runID)
	if len(name) <= maxIdentLength {
		return name
	}
	hash := sha256.Sum256([]byte(table))
	return fmt.Sprintf("_%s_%x_%s", kind, hash[:8], runID)
}

// ErrEmptyTableName is returned when a source name normalizes to nothing.
var ErrEmptyTableName = errors.New("table name normalizes to empty")

// DestinationName normalizes name, rejecting names with no usable characters.
func DestinationName(name string) (string, error) {
	n := NormalizeTableName(name)
	if n == "" {
		return "", fmt.Errorf("%q: %w", name, ErrEmptyTableName)
	}
	return n, nil
}
