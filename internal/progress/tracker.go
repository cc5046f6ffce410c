// Package progress reports run progress as a terminal bar over tables and,
// optionally, as throttled JSON lines for automation.
package progress

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Tracker tracks run progress. A nil *Tracker is valid and does nothing.
type Tracker struct {
	bar       *progressbar.ProgressBar
	reporter  Reporter
	runID     string
	total     int64
	done      atomic.Int64
	failed    atomic.Int64
	rows      atomic.Int64
	startTime time.Time

	// Track active tables for accurate display
	mu           sync.Mutex
	activeTables map[string]int // table name -> active job count
	lastTable    string
	lastStatus   string
}

// New creates a tracker for one run. The bar is shown only when stdout is a
// terminal.
func New(runID string, reporter Reporter) *Tracker {
	if reporter == nil {
		reporter = NullReporter{}
	}
	return &Tracker{
		reporter:     reporter,
		runID:        runID,
		startTime:    time.Now(),
		activeTables: make(map[string]int),
	}
}

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// SetTotal sets the number of tables in the run.
func (t *Tracker) SetTotal(total int) {
	if t == nil {
		return
	}
	t.total = int64(total)
	if IsTerminal() {
		t.bar = progressbar.NewOptions64(
			t.total,
			progressbar.OptionSetDescription("Loading"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetItsString("tables"),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	t.reporter.ReportImmediate(t.snapshot("discovered"))
}

// AddRows records exported rows.
func (t *Tracker) AddRows(n int64) {
	if t == nil {
		return
	}
	t.rows.Add(n)
	t.reporter.Report(t.snapshot("loading"))
}

// StartTable marks a table as in flight.
func (t *Tracker) StartTable(tableName string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.activeTables[tableName]++
	t.mu.Unlock()
	t.describe()
	t.reporter.Report(t.snapshot("loading"))
}

// EndTable marks a table as finished.
func (t *Tracker) EndTable(tableName string, failed bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.activeTables[tableName]--
	if t.activeTables[tableName] <= 0 {
		delete(t.activeTables, tableName)
	}
	t.lastTable, t.lastStatus = tableName, "succeeded"
	if failed {
		t.lastStatus = "failed"
	}
	t.mu.Unlock()

	t.done.Add(1)
	if failed {
		t.failed.Add(1)
	}
	if t.bar != nil {
		t.bar.Add(1)
	}
	t.describe()
	t.reporter.ReportImmediate(t.snapshot("loading"))
}

func (t *Tracker) describe() {
	if t.bar == nil {
		return
	}
	active := t.active()
	switch len(active) {
	case 0:
		t.bar.Describe("Loading")
	case 1:
		t.bar.Describe(fmt.Sprintf("Loading %s", active[0]))
	default:
		t.bar.Describe(fmt.Sprintf("Loading (%d tables)", len(active)))
	}
}

func (t *Tracker) active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.activeTables))
	for name := range t.activeTables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) snapshot(phase string) ProgressUpdate {
	active := t.active()
	t.mu.Lock()
	lastTable, lastStatus := t.lastTable, t.lastStatus
	t.mu.Unlock()
	u := ProgressUpdate{
		RunID:          t.runID,
		Phase:          phase,
		LastTable:      lastTable,
		LastStatus:     lastStatus,
		TablesComplete: int(t.done.Load()),
		TablesFailed:   int(t.failed.Load()),
		TablesTotal:    int(t.total),
		TablesRunning:  len(active),
		RowsExported:   t.rows.Load(),
		CurrentTables:  active,
	}
	if t.total > 0 {
		u.ProgressPct = float64(u.TablesComplete) / float64(t.total) * 100
	}
	if secs := time.Since(t.startTime).Seconds(); secs > 0 {
		u.RowsPerSecond = int64(float64(u.RowsExported) / secs)
	}
	return u
}

// Done returns the number of finished tables.
func (t *Tracker) Done() int64 {
	if t == nil {
		return 0
	}
	return t.done.Load()
}

// Finish closes the bar and logs the totals.
func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}
	t.reporter.ReportImmediate(t.snapshot("complete"))

	elapsed := time.Since(t.startTime)
	logging.Info("Load complete: %d/%d tables, %d rows exported in %s",
		t.done.Load()-t.failed.Load(), t.total, t.rows.Load(), elapsed.Round(time.Second))
}
