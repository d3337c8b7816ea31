package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunState is the persisted view of the task loop, rewritten at every
// controller transition so an interrupted run can be inspected afterwards.
type RunState struct {
	RunID       string      `json:"run_id"`
	RunName     string      `json:"run_name"`
	Phase       string      `json:"phase"` // "not_started", "in_task", "between_tasks", "finished"
	CurrentTask int         `json:"current_task"`
	NumTask     int         `json:"num_task"`
	GlobalStep  int         `json:"global_step"`
	Rows        [][]float64 `json:"rows"`
	StartTime   time.Time   `json:"start_time"`
	LastSave    time.Time   `json:"last_save"`
}

// Completed returns the number of tasks whose matrix row is recorded.
func (s *RunState) Completed() int {
	return len(s.Rows)
}

// Manager reads and writes one run's state.json.
type Manager struct {
	path string
}

// NewManager creates a state Manager writing state.json under dir.
func NewManager(dir string) *Manager {
	return &Manager{
		path: filepath.Join(dir, "state.json"),
	}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Save persists the run state atomically.
func (m *Manager) Save(state *RunState) error {
	state.LastSave = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return WriteFileAtomic(m.path, data, "state-*.json.tmp")
}

// Load reads the persisted run state.
func (m *Manager) Load() (*RunState, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}

	return &state, nil
}

// Exists reports whether a state file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Remove deletes the state file. A missing file is not an error.
func (m *Manager) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to path through a synced temp file in the same
// directory followed by a rename, so readers never see a partial file.
// pattern is the os.CreateTemp pattern for the temp file.
func WriteFileAtomic(path string, data []byte, pattern string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
