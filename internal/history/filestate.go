package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState implements Backend using a single YAML file holding the most
// recent run.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	RunID        string                 `yaml:"run_id"`
	StartedAt    time.Time              `yaml:"started_at"`
	CompletedAt  *time.Time             `yaml:"completed_at,omitempty"`
	Status       string                 `yaml:"status"` // running, success, partial, failed
	Error        string                 `yaml:"error,omitempty"`
	SourceSchema string                 `yaml:"source_schema"`
	TargetSchema string                 `yaml:"target_schema"`
	ConfigHash   string                 `yaml:"config_hash,omitempty"`
	Attempted    int                    `yaml:"tables_attempted"`
	Succeeded    int                    `yaml:"tables_succeeded"`
	Failed       int                    `yaml:"tables_failed"`
	Tables       map[string]TableRecord `yaml:"tables"`
}

// NewFileState creates a file-based history. If the file exists, its run is loaded.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path: path,
		state: &fileStateData{
			Tables: make(map[string]TableRecord),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
		if fs.state.Tables == nil {
			fs.state.Tables = make(map[string]TableRecord)
		}
	}

	return fs, nil
}

// save writes the current state to the YAML file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// StartRun replaces the stored run with a new running one.
func (fs *FileState) StartRun(id, sourceSchema, targetSchema string, config any) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	configJSON, _ := json.Marshal(config)
	hash := sha256.Sum256(configJSON)

	fs.state = &fileStateData{
		RunID:        id,
		StartedAt:    time.Now(),
		Status:       StatusRunning,
		SourceSchema: sourceSchema,
		TargetSchema: targetSchema,
		ConfigHash:   hex.EncodeToString(hash[:8]),
		Tables:       make(map[string]TableRecord),
	}

	return fs.save()
}

// FinishRun marks the run as complete.
func (fs *FileState) FinishRun(id, status string, attempted, succeeded, failed int, errorMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.RunID != id {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, id)
	}

	now := time.Now()
	fs.state.Status = status
	fs.state.CompletedAt = &now
	fs.state.Error = errorMsg
	fs.state.Attempted = attempted
	fs.state.Succeeded = succeeded
	fs.state.Failed = failed

	return fs.save()
}

// RecordTable stores one table outcome for the current run.
func (fs *FileState) RecordTable(runID string, rec TableRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.RunID != runID {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, runID)
	}
	fs.state.Tables[rec.Table] = rec
	return fs.save()
}

func (fs *FileState) run() Run {
	return Run{
		ID:           fs.state.RunID,
		StartedAt:    fs.state.StartedAt,
		CompletedAt:  fs.state.CompletedAt,
		Status:       fs.state.Status,
		SourceSchema: fs.state.SourceSchema,
		TargetSchema: fs.state.TargetSchema,
		Attempted:    fs.state.Attempted,
		Succeeded:    fs.state.Succeeded,
		Failed:       fs.state.Failed,
		Error:        fs.state.Error,
	}
}

// Runs returns the stored run, if any.
func (fs *FileState) Runs(limit int) ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" {
		return nil, nil
	}
	return []Run{fs.run()}, nil
}

// RunByID returns the stored run if it matches.
func (fs *FileState) RunByID(id string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" || fs.state.RunID != id {
		return nil, nil
	}
	r := fs.run()
	return &r, nil
}

// Tables returns the stored run's table outcomes ordered by table name.
func (fs *FileState) Tables(runID string) ([]TableRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID != runID {
		return nil, nil
	}
	recs := make([]TableRecord, 0, len(fs.state.Tables))
	for _, r := range fs.state.Tables {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Table < recs[j].Table })
	return recs, nil
}

// Close is a no-op for file state.
func (fs *FileState) Close() error {
	return nil
}

// Path returns the state file path.
func (fs *FileState) Path() string {
	return fs.path
}
