package warehouse

import (
	"fmt"
	"strings"
)

// CopyRequest describes one bulk load of staged artifacts into a table.
type CopyRequest struct {
	Schema      string
	Table       string
	Columns     []string // explicit column list, in file order
	Prefix      string   // staging namespace of the table's artifacts
	Keys        []string // artifact keys under Prefix
	SkipBadRows bool
	MaxErrors   int64 // rejected rows tolerated when SkipBadRows is set
}

// postgresCopySQL reads one CSV artifact from STDIN. ON_ERROR needs PostgreSQL 17.
func postgresCopySQL(req CopyRequest) string {
	opts := "FORMAT csv, HEADER true"
	if req.SkipBadRows {
		opts += ", ON_ERROR ignore"
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (%s)",
		QualifyTable(req.Schema, req.Table), columnList(req.Columns), opts)
}

// redshiftCopySQL loads every artifact under the prefix URI in one statement.
func redshiftCopySQL(req CopyRequest, uri, iamRole string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "COPY %s (%s) FROM %s IAM_ROLE %s",
		QualifyTable(req.Schema, req.Table), columnList(req.Columns), quoteLiteral(uri), quoteLiteral(iamRole))
	sb.WriteString(" FORMAT AS CSV GZIP IGNOREHEADER 1 EMPTYASNULL TIMEFORMAT 'auto' ACCEPTINVCHARS")
	if req.SkipBadRows && req.MaxErrors > 0 {
		fmt.Fprintf(&sb, " MAXERROR %d", req.MaxErrors)
	}
	return sb.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
