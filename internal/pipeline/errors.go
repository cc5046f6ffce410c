package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies why a table failed.
type Kind int

const (
	// ConnectionError: source or warehouse unreachable, or a catalog query failed.
	ConnectionError Kind = iota + 1
	// SchemaMismatchError: the destination cannot receive the table's columns.
	SchemaMismatchError
	// ExportStreamError: reading or encoding the source rows failed mid-stream.
	ExportStreamError
	// UploadError: an artifact could not be staged after all retries.
	UploadError
	// LoadError: the bulk load into staging failed or rejected too many rows.
	LoadError
	// SwapTransactionError: the swap transaction failed and was rolled back.
	SwapTransactionError
)

func (k Kind) String() string {
	switch k {
	case ConnectionError:
		return "ConnectionError"
	case SchemaMismatchError:
		return "SchemaMismatchError"
	case ExportStreamError:
		return "ExportStreamError"
	case UploadError:
		return "UploadError"
	case LoadError:
		return "LoadError"
	case SwapTransactionError:
		return "SwapTransactionError"
	default:
		return "UnknownError"
	}
}

// TableError is the failure of one table pipeline.
type TableError struct {
	Table   string
	Stage   Stage
	Kind    Kind
	Elapsed time.Duration
	Err     error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s: %s at %s: %v", e.Table, e.Kind, e.Stage, e.Err)
}

func (e *TableError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err contains a TableError of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *TableError
	return errors.As(err, &te) && te.Kind == kind
}

// KindOf returns the kind of the TableError in err, or 0.
func KindOf(err error) Kind {
	var te *TableError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// uploadFailure marks sink errors that came from staging an artifact.
type uploadFailure struct {
	err error
}

func (u *uploadFailure) Error() string { return u.err.Error() }
func (u *uploadFailure) Unwrap() error { return u.err }
