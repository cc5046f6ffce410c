package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTime = "2006-01-02 15:04:05"

// State stores run history in SQLite
type State struct {
	db *sql.DB
}

// New opens (creating if needed) the history database in dataDir.
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Table pipelines record results concurrently; one writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		source_schema TEXT NOT NULL,
		target_schema TEXT NOT NULL,
		tables_attempted INTEGER DEFAULT 0,
		tables_succeeded INTEGER DEFAULT 0,
		tables_failed INTEGER DEFAULT 0,
		error_message TEXT,
		config TEXT
	);

	CREATE TABLE IF NOT EXISTS table_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT REFERENCES runs(id),
		table_name TEXT NOT NULL,
		destination TEXT,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		kind TEXT,
		rows_exported INTEGER DEFAULT 0,
		rows_loaded INTEGER DEFAULT 0,
		rows_rejected INTEGER DEFAULT 0,
		chunks INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		error_message TEXT,
		UNIQUE(run_id, table_name)
	);

	CREATE INDEX IF NOT EXISTS idx_table_results_run ON table_results(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// StartRun records a new running run.
func (s *State) StartRun(id, sourceSchema, targetSchema string, config any) error {
	configJSON, _ := json.Marshal(config)
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, source_schema, target_schema, config)
		VALUES (?, ?, 'running', ?, ?, ?)
	`, id, time.Now().UTC().Format(sqliteTime), sourceSchema, targetSchema, string(configJSON))
	return err
}

// FinishRun stores a run's final status and counters.
func (s *State) FinishRun(id, status string, attempted, succeeded, failed int, errorMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, tables_attempted = ?,
			tables_succeeded = ?, tables_failed = ?, error_message = ?
		WHERE id = ?
	`, status, time.Now().UTC().Format(sqliteTime), attempted, succeeded, failed, errorMsg, id)
	return err
}

// RecordTable stores one table outcome; recording a table twice keeps the last outcome.
func (s *State) RecordTable(runID string, rec TableRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO table_results (run_id, table_name, destination, status, stage, kind,
			rows_exported, rows_loaded, rows_rejected, chunks, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, table_name) DO UPDATE SET
			destination = excluded.destination,
			status = excluded.status,
			stage = excluded.stage,
			kind = excluded.kind,
			rows_exported = excluded.rows_exported,
			rows_loaded = excluded.rows_loaded,
			rows_rejected = excluded.rows_rejected,
			chunks = excluded.chunks,
			duration_ms = excluded.duration_ms,
			error_message = excluded.error_message
	`, runID, rec.Table, rec.Destination, rec.Status, rec.Stage, rec.Kind,
		rec.Rows, rec.Loaded, rec.Rejected, rec.Chunks, rec.DurationMs, rec.Error)
	return err
}

const runColumns = `id, started_at, completed_at, status, source_schema, target_schema,
	tables_attempted, tables_succeeded, tables_failed, COALESCE(error_message, '')`

func scanRun(scan func(dest ...any) error) (Run, error) {
	var r Run
	var startedAtStr string
	var completedAtStr sql.NullString
	if err := scan(&r.ID, &startedAtStr, &completedAtStr, &r.Status, &r.SourceSchema, &r.TargetSchema,
		&r.Attempted, &r.Succeeded, &r.Failed, &r.Error); err != nil {
		return r, err
	}
	r.StartedAt, _ = time.Parse(sqliteTime, startedAtStr)
	if completedAtStr.Valid {
		t, _ := time.Parse(sqliteTime, completedAtStr.String)
		r.CompletedAt = &t
	}
	return r, nil
}

// Runs returns the most recent runs, newest first.
func (s *State) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunByID returns a run, or nil if it is unknown.
func (s *State) RunByID(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Tables returns the table outcomes of a run ordered by table name.
func (s *State) Tables(runID string) ([]TableRecord, error) {
	rows, err := s.db.Query(`
		SELECT table_name, COALESCE(destination, ''), status, stage, COALESCE(kind, ''),
			rows_exported, rows_loaded, rows_rejected, chunks, duration_ms, COALESCE(error_message, '')
		FROM table_results WHERE run_id = ? ORDER BY table_name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TableRecord
	for rows.Next() {
		var r TableRecord
		if err := rows.Scan(&r.Table, &r.Destination, &r.Status, &r.Stage, &r.Kind,
			&r.Rows, &r.Loaded, &r.Rejected, &r.Chunks, &r.DurationMs, &r.Error); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// CleanupOldRuns deletes completed runs older than retentionDays and their
// table results. Running runs are kept.
func (s *State) CleanupOldRuns(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(sqliteTime)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM table_results WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at < ?
		)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), tx.Commit()
}
