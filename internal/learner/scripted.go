package learner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kylegalloway/cilearn/internal/continual"
)

// Call kinds recorded by Scripted.
const (
	CallPrepare = "prepare"
	CallTrain   = "train"
	CallEval    = "eval"
	CallRelease = "release"
)

// Call records one invocation made on a Scripted learner.
type Call struct {
	Kind       string
	TaskID     int
	EvalTaskID int
	Phase      continual.Phase
	Mode       continual.ILMode
	// BestScore and Step are the counters the loop handed to TrainTask.
	BestScore float64
	Step      int
}

// Scripted is a learner that replays predetermined accuracies. It records
// every call so tests and dry runs can check the order the loop drives it in.
type Scripted struct {
	// Accuracies[cur][eval] is returned for EvaluateCurrentTask(eval, cur).
	Accuracies [][]float64
	// StepsPerTask is how far TrainTask advances the step counters.
	StepsPerTask int
	// TrainErrors maps task ids to errors returned by TrainTask.
	TrainErrors map[int]error
	// EvalError, when set, is returned by every evaluation.
	EvalError error
	// CheckpointError, when set, is returned by CheckpointState.
	CheckpointError error

	mu    sync.Mutex
	calls []Call
}

// NewScripted returns a Scripted learner replaying accuracies.
func NewScripted(accuracies [][]float64) *Scripted {
	return &Scripted{Accuracies: accuracies, StepsPerTask: 1}
}

// ScriptFile is the on-disk form of a Scripted learner's accuracies.
type ScriptFile struct {
	Accuracies   [][]float64 `yaml:"accuracies"`
	StepsPerTask int         `yaml:"steps_per_task"`
}

// LoadScripted reads a script file. Row i must hold at least i+1 accuracies.
func LoadScripted(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var sf ScriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(sf.Accuracies) == 0 {
		return nil, fmt.Errorf("script %s has no accuracies", path)
	}
	for i, row := range sf.Accuracies {
		if len(row) < i+1 {
			return nil, fmt.Errorf("script row %d has %d values, want at least %d", i, len(row), i+1)
		}
	}
	s := NewScripted(sf.Accuracies)
	if sf.StepsPerTask > 0 {
		s.StepsPerTask = sf.StepsPerTask
	}
	return s, nil
}

func (s *Scripted) Prepare(ctx context.Context) error {
	s.record(Call{Kind: CallPrepare})
	return nil
}

func (s *Scripted) TrainTask(ctx context.Context, ts *TaskState) error {
	s.record(Call{Kind: CallTrain, TaskID: ts.TaskID, BestScore: ts.BestScore, Step: ts.Step})
	if err, ok := s.TrainErrors[ts.TaskID]; ok {
		return err
	}
	ts.Step += s.StepsPerTask
	ts.GlobalStep += s.StepsPerTask
	if ts.TaskID < len(s.Accuracies) && ts.TaskID < len(s.Accuracies[ts.TaskID]) {
		ts.BestScore = s.Accuracies[ts.TaskID][ts.TaskID]
	}
	return nil
}

func (s *Scripted) EvaluateCurrentTask(ctx context.Context, evalTaskID, curTaskID int, phase continual.Phase, mode continual.ILMode) (float64, error) {
	s.record(Call{Kind: CallEval, TaskID: curTaskID, EvalTaskID: evalTaskID, Phase: phase, Mode: mode})
	if s.EvalError != nil {
		return 0, s.EvalError
	}
	if curTaskID >= len(s.Accuracies) || evalTaskID >= len(s.Accuracies[curTaskID]) {
		return 0, fmt.Errorf("no scripted accuracy for eval task %d after task %d", evalTaskID, curTaskID)
	}
	return s.Accuracies[curTaskID][evalTaskID], nil
}

func (s *Scripted) CheckpointState() ([]byte, []byte, error) {
	if s.CheckpointError != nil {
		return nil, nil, s.CheckpointError
	}
	s.mu.Lock()
	n := len(s.calls)
	s.mu.Unlock()
	model := []byte(fmt.Sprintf(`{"calls":%d}`, n))
	return model, []byte(`{"heads":"scripted"}`), nil
}

func (s *Scripted) ReleaseTaskResources() {
	s.record(Call{Kind: CallRelease})
}

// Calls returns a copy of the recorded calls.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Scripted) record(c Call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}
