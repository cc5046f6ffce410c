// Package history records runs and their per-table outcomes.
package history

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial" // some tables failed
	StatusFailed  = "failed"
)

// Table statuses.
const (
	TableSuccess = "success"
	TableSkipped = "skipped"
	TableFailed  = "failed"
)

// Run is one recorded run.
type Run struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       string
	SourceSchema string
	TargetSchema string
	Attempted    int
	Succeeded    int
	Failed       int
	Error        string
}

// TableRecord is the outcome of one table within a run.
type TableRecord struct {
	Table       string `yaml:"table"`
	Destination string `yaml:"destination,omitempty"`
	Status      string `yaml:"status"`
	Stage       string `yaml:"stage"`
	Kind        string `yaml:"kind,omitempty"`
	Rows        int64  `yaml:"rows"`
	Loaded      int64  `yaml:"loaded"`
	Rejected    int64  `yaml:"rejected,omitempty"`
	Chunks      int    `yaml:"chunks"`
	DurationMs  int64  `yaml:"duration_ms"`
	Error       string `yaml:"error,omitempty"`
}

// Backend defines the interface for history persistence.
// Implementations are SQLite (full history) and file-based (last run only,
// for schedulers where SQLite is impractical).
type Backend interface {
	// Run management
	StartRun(id, sourceSchema, targetSchema string, config any) error
	FinishRun(id, status string, attempted, succeeded, failed int, errorMsg string) error
	RecordTable(runID string, rec TableRecord) error

	// History
	Runs(limit int) ([]Run, error)
	RunByID(id string) (*Run, error)
	Tables(runID string) ([]TableRecord, error)

	// Lifecycle
	Close() error
}

var (
	_ Backend = (*State)(nil)
	_ Backend = (*FileState)(nil)
)
