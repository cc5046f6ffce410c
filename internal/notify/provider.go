// Package notify posts run summaries to Slack.
package notify

import "time"

// RunReport is the outcome of one run as seen by notification backends.
type RunReport struct {
	RunID     string
	Started   time.Time
	Duration  time.Duration
	Attempted int
	Succeeded int
	Failed    int
	Rows      int64
	Failures  []string // "schema.table: Kind" per failed table
}

// Provider defines the notification contract for run events.
// Implementations must be safe to call when disabled.
type Provider interface {
	// RunStarted sends notification when a run has discovered its tables.
	RunStarted(runID, source, warehouse string, tableCount int) error

	// RunFinished sends the run summary. Partial failures are reported
	// as a warning, a clean run as success.
	RunFinished(r RunReport) error

	// RunFailed sends notification when a run aborts before loading tables.
	RunFailed(runID string, err error, duration time.Duration) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
