package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johndauphine/mssql-warehouse-loader/internal/history"
)

const timeLayout = "2006-01-02 15:04:05"

// ShowHistory writes the most recent runs, newest first.
func ShowHistory(w io.Writer, h history.Backend, limit int) error {
	runs, err := h.Runs(limit)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No run history")
		return nil
	}

	fmt.Fprintln(w, styleTitle.Render("Run History"))
	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("%-10s %-20s %-10s %-10s %8s %9s %6s",
		"ID", "Started", "Duration", "Status", "Tables", "Succeeded", "Failed")))
	fmt.Fprintln(w, strings.Repeat("-", 79))

	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%-10s %-20s %-10s %s %8d %9d %6d\n",
			r.ID, r.StartedAt.Local().Format(timeLayout), duration,
			statusStyle(r.Status).Render(pad(r.Status, 10)),
			r.Attempted, r.Succeeded, r.Failed)
		if r.Error != "" {
			fmt.Fprintf(w, "           %s\n", styleError.Render("Error: "+r.Error))
		}
	}

	fmt.Fprintln(w, styleMuted.Render("\nUse 'history --run <ID>' to view table results"))
	return nil
}

// ShowRun writes one run and its table results.
func ShowRun(w io.Writer, h history.Backend, runID string) error {
	run, err := h.RunByID(runID)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	fmt.Fprintln(w, styleTitle.Render("Run "+run.ID))
	fmt.Fprintf(w, "Status:   %s\n", statusStyle(run.Status).Render(run.Status))
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(timeLayout))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Finished: %s (%s)\n", run.CompletedAt.Local().Format(timeLayout),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "Schemas:  %s -> %s\n", run.SourceSchema, run.TargetSchema)
	fmt.Fprintf(w, "Tables:   %d attempted, %d succeeded, %d failed\n\n", run.Attempted, run.Succeeded, run.Failed)

	tables, err := h.Tables(runID)
	if err != nil {
		return fmt.Errorf("reading table results: %w", err)
	}
	if len(tables) == 0 {
		fmt.Fprintln(w, "No table results recorded")
		return nil
	}

	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("%-30s %-8s %-13s %10s %8s %8s %s",
		"Table", "Status", "Stage", "Rows", "Rejected", "Time", "Error")))
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, t := range tables {
		name := t.Table
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		errMsg := t.Error
		if t.Kind != "" {
			errMsg = t.Kind + ": " + errMsg
		}
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		fmt.Fprintf(w, "%-30s %s %-13s %10d %8d %8s %s\n",
			name, statusStyle(t.Status).Render(pad(t.Status, 8)), t.Stage, t.Loaded, t.Rejected,
			(time.Duration(t.DurationMs) * time.Millisecond).Round(time.Millisecond), errMsg)
	}
	return nil
}

// WriteSummary writes a run summary.
func WriteSummary(w io.Writer, s *Summary) {
	status, style := "success", styleSuccess
	if s.Failed > 0 {
		status, style = "completed with failures", styleWarning
	}
	fmt.Fprintln(w, styleTitle.Render("Run "+s.RunID+" ")+style.Render(status))
	fmt.Fprintf(w, "Tables: %d attempted, %d succeeded, %d failed\n", s.TablesAttempted, s.Succeeded, s.Failed)
	fmt.Fprintf(w, "Rows:   %d loaded in %s\n", s.Rows, s.Duration.Round(time.Millisecond))
	for _, r := range s.Results {
		if r.Succeeded() {
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", styleError.Render("✗"), r.Err)
	}
}
