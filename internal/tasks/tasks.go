// Package tasks describes the ordered stream of tasks a continual run learns.
// A stream is fixed for the whole run: tasks are identified by their position
// and are never revisited or reordered.
package tasks

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kylegalloway/cilearn/internal/state"
)

// StreamFile represents the top-level tasks.yaml structure.
type StreamFile struct {
	SchemaVersion int    `yaml:"schema_version"`
	Tasks         []Task `yaml:"tasks"`
}

// Task is one element of the stream. Its id is its index in StreamFile.Tasks.
type Task struct {
	Name    string   `yaml:"name"`
	Classes []string `yaml:"classes"`
}

// Stream gives positional access to a validated task list together with the
// global class index of every task's first class.
type Stream struct {
	tasks   []Task
	offsets []int
	total   int
}

// NewStream validates tasks and builds a Stream.
func NewStream(tasks []Task) (*Stream, error) {
	if err := ValidateLabels(tasks); err != nil {
		return nil, err
	}
	s := &Stream{tasks: tasks, offsets: make([]int, len(tasks))}
	for i, t := range tasks {
		s.offsets[i] = s.total
		s.total += len(t.Classes)
	}
	return s, nil
}

// Synthesize builds a stream of numTask tasks with classesPerTask generated
// class names each.
func Synthesize(numTask, classesPerTask int) *Stream {
	tasks := make([]Task, numTask)
	for i := range tasks {
		tasks[i].Name = fmt.Sprintf("task-%d", i)
		tasks[i].Classes = make([]string, classesPerTask)
		for c := range tasks[i].Classes {
			tasks[i].Classes[c] = fmt.Sprintf("t%d-c%d", i, c)
		}
	}
	s, _ := NewStream(tasks)
	return s
}

// Len returns the number of tasks.
func (s *Stream) Len() int {
	return len(s.tasks)
}

// Task returns task id.
func (s *Stream) Task(id int) Task {
	return s.tasks[id]
}

// ClassRange returns the half-open global class range [lo, hi) owned by task id.
func (s *Stream) ClassRange(id int) (lo, hi int) {
	lo = s.offsets[id]
	return lo, lo + len(s.tasks[id].Classes)
}

// SeenClasses returns the number of classes in tasks 0..id.
func (s *Stream) SeenClasses(id int) int {
	_, hi := s.ClassRange(id)
	return hi
}

// TotalClasses returns the number of classes in the whole stream.
func (s *Stream) TotalClasses() int {
	return s.total
}

// Load reads and validates a task stream file.
func Load(path string) (*Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	var sf StreamFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	if sf.SchemaVersion > 1 {
		return nil, fmt.Errorf("unsupported tasks schema_version %d", sf.SchemaVersion)
	}
	s, err := NewStream(sf.Tasks)
	if err != nil {
		return nil, fmt.Errorf("validate tasks %s: %w", path, err)
	}
	return s, nil
}

// Save writes the stream to path atomically (write-to-temp-then-rename).
func (s *Stream) Save(path string) error {
	data, err := yaml.Marshal(&StreamFile{SchemaVersion: 1, Tasks: s.tasks})
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	if err := state.WriteFileAtomic(path, data, "tasks-*.yaml.tmp"); err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	return nil
}
