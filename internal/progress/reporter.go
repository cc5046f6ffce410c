package progress

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
)

// ProgressUpdate is one JSON progress line for schedulers and wrappers.
type ProgressUpdate struct {
	Timestamp      string   `json:"timestamp"`
	RunID          string   `json:"run_id,omitempty"`
	Phase          string   `json:"phase"` // discovered, loading, complete
	TablesComplete int      `json:"tables_complete"`
	TablesFailed   int      `json:"tables_failed,omitempty"`
	TablesTotal    int      `json:"tables_total"`
	TablesRunning  int      `json:"tables_running"`
	RowsExported   int64    `json:"rows_exported"`
	ProgressPct    float64  `json:"progress_pct"`
	RowsPerSecond  int64    `json:"rows_per_second,omitempty"`
	CurrentTables  []string `json:"current_tables,omitempty"`
	LastTable      string   `json:"last_table,omitempty"`
	LastStatus     string   `json:"last_status,omitempty"` // succeeded or failed
}

// Reporter receives progress updates.
type Reporter interface {
	// Report emits an update unless one was emitted recently.
	Report(update ProgressUpdate)
	// ReportImmediate always emits the update.
	ReportImmediate(update ProgressUpdate)
	Close()
}

// JSONReporter writes one JSON object per line. Throttled updates are
// dropped, not queued.
type JSONReporter struct {
	mu       sync.Mutex
	enc      *json.Encoder
	closer   io.Closer // nil for stdout and stderr
	interval time.Duration
	last     time.Time
	closed   bool
}

// NewJSONReporter writes to w (stderr when nil), at most once per interval
// for throttled updates. When w is a file other than stdout or stderr,
// Close closes it.
func NewJSONReporter(w io.Writer, interval time.Duration) *JSONReporter {
	if w == nil {
		w = os.Stderr
	}
	r := &JSONReporter{enc: json.NewEncoder(w), interval: interval}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		r.closer = c
	}
	return r
}

func (r *JSONReporter) Report(update ProgressUpdate) { r.emit(update, false) }

func (r *JSONReporter) ReportImmediate(update ProgressUpdate) { r.emit(update, true) }

func (r *JSONReporter) emit(update ProgressUpdate, force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	now := time.Now()
	if !force && r.interval > 0 && now.Sub(r.last) < r.interval {
		return
	}
	r.last = now

	if update.Timestamp == "" {
		update.Timestamp = now.Format(time.RFC3339)
	}
	if err := r.enc.Encode(update); err != nil {
		logging.Warn("writing progress update: %v", err)
	}
}

// Close stops further output and closes the underlying file, if owned.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			logging.Warn("closing progress output: %v", err)
		}
	}
}

// NullReporter discards updates.
type NullReporter struct{}

func (NullReporter) Report(ProgressUpdate)          {}
func (NullReporter) ReportImmediate(ProgressUpdate) {}
func (NullReporter) Close()                         {}
