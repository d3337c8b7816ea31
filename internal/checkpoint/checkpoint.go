// Package checkpoint persists the learner's model and classifier state at the
// end of each task. Writes are atomic and preceded by a free-space check.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kylegalloway/cilearn/internal/state"
)

const (
	filePrefix = "last_ckpt_task"
	fileSuffix = ".json"
)

// Checkpoint is the on-disk record for one completed task. Model and
// Classifier are opaque learner-defined payloads.
type Checkpoint struct {
	RunID      string    `json:"run_id"`
	TaskID     int       `json:"task_id"`
	Model      []byte    `json:"model"`
	Classifier []byte    `json:"classifier"`
	SavedAt    time.Time `json:"saved_at"`
}

// Store writes checkpoints into one directory.
type Store struct {
	dir       string
	minDiskMB int
}

// NewStore creates a Store rooted at dir. minDiskMB <= 0 disables the
// free-space check.
func NewStore(dir string, minDiskMB int) *Store {
	return &Store{dir: dir, minDiskMB: minDiskMB}
}

// Path returns the file a task's checkpoint is written to.
func (s *Store) Path(taskID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", filePrefix, taskID, fileSuffix))
}

// Save writes ck, replacing any earlier checkpoint for the same task.
func (s *Store) Save(ck *Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if s.minDiskMB > 0 {
		if err := CheckDiskSpace(s.dir, s.minDiskMB); err != nil {
			return err
		}
	}
	if ck.SavedAt.IsZero() {
		ck.SavedAt = time.Now()
	}

	data, err := json.Marshal(ck)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := state.WriteFileAtomic(s.Path(ck.TaskID), data, "ckpt-*.json.tmp"); err != nil {
		return fmt.Errorf("write checkpoint task %d: %w", ck.TaskID, err)
	}
	return nil
}

// Load reads the checkpoint of a task.
func (s *Store) Load(taskID int) (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path(taskID))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &ck, nil
}

// List returns the task ids that have a checkpoint, in ascending order.
func (s *Store) List() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var ids []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// CleanTemp removes temp files left behind by an interrupted Save.
func (s *Store) CleanTemp() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "ckpt-*.json.tmp"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}
