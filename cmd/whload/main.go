package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/mssql-warehouse-loader/internal/config"
	"github.com/johndauphine/mssql-warehouse-loader/internal/exitcodes"
	"github.com/johndauphine/mssql-warehouse-loader/internal/history"
	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
	"github.com/johndauphine/mssql-warehouse-loader/internal/orchestrator"
	"github.com/johndauphine/mssql-warehouse-loader/internal/pipeline"
	"github.com/johndauphine/mssql-warehouse-loader/internal/progress"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "whload",
		Usage:   "Bulk-load SQL Server or PostgreSQL tables into Redshift or PostgreSQL",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use YAML state file instead of SQLite run history (for Airflow/headless)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "progress-json",
				Usage: "Write JSON progress lines to this file ('-' for stderr)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"verbosity"},
				Value:   "info",
				Usage:   "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("log-level"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)
			logging.SetFormat(c.String("log-format"))

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Load every selected table once",
				Action: runOnce,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-schema", Usage: "Source schema name"},
					&cli.StringFlag{Name: "warehouse-schema", Usage: "Warehouse schema name"},
					&cli.IntFlag{Name: "workers", Usage: "Number of tables loaded in parallel"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run loads on a schedule until interrupted",
				Action: serve,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "Time between runs (default: schedule.interval)"},
					&cli.BoolFlag{Name: "run-on-start", Usage: "Start a run immediately"},
				},
			},
			{
				Name:   "tables",
				Usage:  "List the tables a run would load, without moving data",
				Action: listTables,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ddl", Usage: "Print the CREATE TABLE statement for each table"},
				},
			},
			{
				Name:   "validate",
				Usage:  "Validate row counts between source and warehouse",
				Action: validate,
			},
			{
				Name:   "health-check",
				Usage:  "Test connectivity to the source and the warehouse",
				Action: healthCheck,
			},
			{
				Name:  "history",
				Usage: "List recent runs, or view the table results of one run",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "Show table results for a specific run ID"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of runs to list"},
				},
				Action: showHistory,
			},
			{
				Name:   "init",
				Usage:  "Write a sample configuration file",
				Action: initConfig,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, exitcodes.Description(code))
		os.Exit(code)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, exitcodes.NewExitError(fmt.Errorf("configuration file not found: %s", configPath), exitcodes.ConfigError)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("failed to load config: %w", err), exitcodes.ConfigError)
	}
	if sf := c.String("state-file"); sf != "" {
		cfg.Migration.StateFile = sf
	}
	return cfg, nil
}

func newOrchestrator(ctx context.Context, c *cli.Context, cfg *config.Config) (*orchestrator.Orchestrator, error) {
	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("failed to create orchestrator: %w", err), exitcodes.ConnectionError)
	}
	if r := progressReporter(c); r != nil {
		orch.SetReporter(r)
	}
	return orch, nil
}

func progressReporter(c *cli.Context) progress.Reporter {
	switch path := c.String("progress-json"); path {
	case "":
		return nil
	case "-":
		return progress.NewJSONReporter(os.Stderr, time.Second)
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			logging.Warn("progress file %s: %v", path, err)
			return nil
		}
		return progress.NewJSONReporter(f, time.Second)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. A second signal kills
// the process.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func runOnce(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("source-schema") {
		cfg.Source.Schema = c.String("source-schema")
	}
	if c.IsSet("warehouse-schema") {
		cfg.Warehouse.Schema = c.String("warehouse-schema")
	}
	if c.IsSet("workers") {
		cfg.Migration.Workers = c.Int("workers")
	}

	ctx, stop := signalContext()
	defer stop()

	orch, err := newOrchestrator(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	summary, runErr := orch.RunMigration(ctx)
	if summary != nil {
		if c.Bool("output-json") || c.String("output-file") != "" {
			if err := outputJSON(c, newRunResult(summary, runErr)); err != nil {
				logging.Warn("failed to output JSON: %v", err)
			}
		} else {
			orchestrator.WriteSummary(os.Stdout, summary)
		}
	}
	return runError(summary, runErr)
}

// runError maps a run outcome to the process exit status.
func runError(s *orchestrator.Summary, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return exitcodes.NewExitError(err, exitcodes.StateError)
	case errors.Is(err, context.Canceled):
		return exitcodes.NewExitError(err, exitcodes.Cancelled)
	case pipeline.IsKind(err, pipeline.ConnectionError):
		return exitcodes.NewExitError(err, exitcodes.ConnectionError)
	case err != nil:
		return err
	case s != nil && s.Failed > 0:
		code := exitcodes.TableError
		for _, r := range s.Results {
			if pipeline.IsKind(r.Err, pipeline.SwapTransactionError) {
				code = exitcodes.SwapError
				break
			}
		}
		return exitcodes.NewExitError(fmt.Errorf("%d of %d tables failed", s.Failed, s.TablesAttempted), code)
	}
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	interval := cfg.ScheduleInterval()
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	if interval <= 0 {
		return exitcodes.NewExitError(errors.New("schedule.interval or --interval is required"), exitcodes.ConfigError)
	}

	ctx, stop := signalContext()
	defer stop()

	orch, err := newOrchestrator(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	// Each tick starts its own run; a tick that fires while a run is still
	// going is rejected by the orchestrator and logged.
	var wg sync.WaitGroup
	trigger := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := orch.RunMigration(ctx)
			switch {
			case errors.Is(err, orchestrator.ErrRunInProgress):
				logging.Warn("scheduled run skipped: previous run still in progress")
			case err != nil:
				logging.Error("scheduled run failed: %s", logging.Truncate(err, logging.DefaultTruncate))
			case summary != nil:
				orchestrator.WriteSummary(os.Stdout, summary)
			}
		}()
	}

	logging.Info("Scheduling runs every %s", interval)
	if cfg.Schedule.RunOnStart || c.Bool("run-on-start") {
		trigger()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("Shutting down, waiting for the current run to finish...")
			wg.Wait()
			succeeded, failed := orch.Counts()
			logging.Info("Scheduler stopped: %d tables succeeded, %d failed", succeeded, failed)
			return nil
		case <-ticker.C:
			trigger()
		}
	}
}

func listTables(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	orch, err := newOrchestrator(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	plans, err := orch.Plan(ctx)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.ConnectionError)
	}
	fmt.Printf("%-40s %-30s %12s %s\n", "Source", "Destination", "Rows", "Action")
	for _, p := range plans {
		action := "create"
		switch {
		case p.Err != nil:
			action = "error: " + p.Err.Error()
		case p.Exists:
			action = "replace"
		}
		fmt.Printf("%-40s %-30s %12d %s\n", p.Table, p.Destination, p.Rows, action)
		if c.Bool("ddl") && p.DDL != "" {
			fmt.Printf("%s;\n\n", p.DDL)
		}
	}
	fmt.Printf("\n%d tables\n", len(plans))
	return nil
}

func validate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	orch, err := newOrchestrator(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	if _, err := orch.Validate(ctx); err != nil {
		return exitcodes.NewExitError(err, exitcodes.ValidationError)
	}
	return nil
}

func healthCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	orch, err := newOrchestrator(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	result := orch.HealthCheck(ctx)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !result.Healthy {
		return exitcodes.NewExitError(errors.New("health check failed"), exitcodes.ConnectionError)
	}
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, err := orchestrator.OpenHistory(cfg)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	defer h.Close()

	if runID := c.String("run"); runID != "" {
		return orchestrator.ShowRun(os.Stdout, h, runID)
	}
	return orchestrator.ShowHistory(os.Stdout, h, c.Int("limit"))
}

func initConfig(c *cli.Context) error {
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return exitcodes.NewExitError(fmt.Errorf("%s already exists (use --force to overwrite)", path), exitcodes.ConfigError)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("Wrote sample configuration to %s\n", path)
	return nil
}

// runResult is the JSON document written by --output-json and --output-file.
type runResult struct {
	RunID           string        `json:"run_id"`
	Status          string        `json:"status"`
	TablesAttempted int           `json:"tables_attempted"`
	Succeeded       int           `json:"tables_succeeded"`
	Failed          int           `json:"tables_failed"`
	Rows            int64         `json:"rows_loaded"`
	DurationSeconds float64       `json:"duration_seconds"`
	Error           string        `json:"error,omitempty"`
	Tables          []tableResult `json:"tables"`
}

type tableResult struct {
	Table       string `json:"table"`
	Destination string `json:"destination"`
	Stage       string `json:"stage"`
	Kind        string `json:"error_kind,omitempty"`
	Rows        int64  `json:"rows_exported"`
	Loaded      int64  `json:"rows_loaded"`
	Rejected    int64  `json:"rows_rejected"`
	Chunks      int    `json:"chunks"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newRunResult(s *orchestrator.Summary, runErr error) *runResult {
	r := &runResult{
		RunID:           s.RunID,
		Status:          history.StatusSuccess,
		TablesAttempted: s.TablesAttempted,
		Succeeded:       s.Succeeded,
		Failed:          s.Failed,
		Rows:            s.Rows,
		DurationSeconds: s.Duration.Seconds(),
	}
	if s.Failed > 0 {
		r.Status = history.StatusPartial
	}
	if runErr != nil {
		r.Status = history.StatusFailed
		r.Error = runErr.Error()
	}
	for _, t := range s.Results {
		tr := tableResult{
			Table:       t.Table,
			Destination: t.Destination,
			Stage:       t.Stage.String(),
			Rows:        t.Rows,
			Loaded:      t.Loaded,
			Rejected:    t.Rejected,
			Chunks:      t.Chunks,
			Skipped:     t.Skipped,
		}
		var te *pipeline.TableError
		if errors.As(t.Err, &te) {
			tr.Stage = te.Stage.String()
			tr.Kind = te.Kind.String()
			tr.Error = te.Err.Error()
		}
		r.Tables = append(r.Tables, tr)
	}
	return r
}

func outputJSON(c *cli.Context, result *runResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
