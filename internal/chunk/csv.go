package chunk

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Delimiter separates fields within a row.
const Delimiter = ','

// BinaryFormat selects how []byte values are written.
type BinaryFormat int

const (
	// BinaryPostgres writes bytea hex input syntax: \x0a0b
	BinaryPostgres BinaryFormat = iota
	// BinaryHex writes plain hex, as Redshift expects for VARBYTE.
	BinaryHex
)

// Escaping rules:
//   - NULL is an empty, unquoted field
//   - an empty string is written as ""
//   - a field containing the delimiter, a quote, CR or LF is quoted
//   - quotes inside a quoted field are doubled
//
// encoding/csv cannot express the NULL vs empty string distinction, so rows
// are encoded here.

// appendField appends one encoded field to buf.
func appendField(buf []byte, s string, isNull bool) []byte {
	if isNull {
		return buf
	}
	if s == "" {
		return append(buf, '"', '"')
	}
	if !strings.ContainsAny(s, "\",\r\n") {
		return append(buf, s...)
	}
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			buf = append(buf, '"')
		}
		buf = append(buf, s[i])
	}
	return append(buf, '"')
}

// encodeRow appends a full row, terminated by '\n'.
func encodeRow(buf []byte, row []any, bin BinaryFormat) []byte {
	for i, v := range row {
		if i > 0 {
			buf = append(buf, Delimiter)
		}
		s, isNull := formatValue(v, bin)
		buf = appendField(buf, s, isNull)
	}
	return append(buf, '\n')
}

// encodeHeader appends the column name line.
func encodeHeader(buf []byte, cols []string) []byte {
	for i, c := range cols {
		if i > 0 {
			buf = append(buf, Delimiter)
		}
		buf = appendField(buf, c, false)
	}
	return append(buf, '\n')
}

// formatValue renders a source value as text. The second result is true for NULL.
func formatValue(v any, bin BinaryFormat) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, false
	case []byte:
		if bin == BinaryHex {
			return hex.EncodeToString(x), false
		}
		return `\x` + hex.EncodeToString(x), false
	case bool:
		if x {
			return "true", false
		}
		return "false", false
	case int64:
		return strconv.FormatInt(x, 10), false
	case int:
		return strconv.Itoa(x), false
	case int32:
		return strconv.FormatInt(int64(x), 10), false
	case float64:
		return formatFloat(x, 64), false
	case float32:
		return formatFloat(float64(x), 32), false
	case time.Time:
		return formatTime(x), false
	case fmt.Stringer:
		return x.String(), false
	default:
		return fmt.Sprint(x), false
	}
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

// formatTime keeps the offset only for non-UTC values so TIMESTAMP columns
// load wall-clock values unchanged.
func formatTime(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format("2006-01-02 15:04:05.999999")
	}
	return t.Format("2006-01-02 15:04:05.999999-07:00")
}
