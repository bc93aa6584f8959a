package sweep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// State tracks which runs a sweep has already processed, persisted as
// run_log.json next to the dataset. Completed and failed runs both count as
// processed: terminal failures are swept past, not retried.
type State struct {
	SessionID string   `json:"session_id"`
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`

	path      string
	completed map[string]bool
	failed    map[string]bool
}

// LoadState reads the run log, or starts a fresh session when none exists.
func LoadState(path string) (*State, error) {
	state := &State{
		path:      path,
		completed: make(map[string]bool),
		failed:    make(map[string]bool),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		state.SessionID = uuid.NewString()
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run log: %w", err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse run log: %w", err)
	}
	if state.SessionID == "" {
		state.SessionID = uuid.NewString()
	}
	for _, runID := range state.Completed {
		state.completed[runID] = true
	}
	for _, runID := range state.Failed {
		state.failed[runID] = true
	}
	return state, nil
}

// MarkCompleted records a successful run.
func (s *State) MarkCompleted(runID string) {
	if !s.completed[runID] {
		s.completed[runID] = true
		s.Completed = append(s.Completed, runID)
	}
}

// MarkFailed records a terminally failed run.
func (s *State) MarkFailed(runID string) {
	if !s.failed[runID] {
		s.failed[runID] = true
		s.Failed = append(s.Failed, runID)
	}
}

// IsCompleted reports whether a run finished successfully.
func (s *State) IsCompleted(runID string) bool { return s.completed[runID] }

// Processed reports whether a run reached any terminal outcome.
func (s *State) Processed(runID string) bool { return s.completed[runID] || s.failed[runID] }

// CompletedCount returns the number of successful runs on record.
func (s *State) CompletedCount() int { return len(s.completed) }

// FailedCount returns the number of failed runs on record.
func (s *State) FailedCount() int { return len(s.failed) }

// Save persists the run log atomically: the sweep can be killed at any
// moment without leaving a torn state file behind.
func (s *State) Save() error {
	sort.Strings(s.Completed)
	sort.Strings(s.Failed)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	return atomicWrite(s.path, data)
}

// atomicWrite lands data at path via temp file, fsync, and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
