// Package learner defines the capabilities a concrete continual learner
// provides to the task loop. Required behavior is split into Trainer and
// Evaluator; everything else is an optional interface discovered with a type
// assertion, so learner variants are picked at construction time rather than
// branched on inside the loop.
package learner

import (
	"context"
	"errors"

	"github.com/kylegalloway/cilearn/internal/continual"
)

// ErrNotImplemented is returned by a learner variant that lacks a required
// capability. The task loop treats it as fatal.
var ErrNotImplemented = errors.New("not implemented for this learner variant")

// TaskState carries the per-task counters owned by the task loop. The loop
// resets BestScore and Step when a task starts; the learner advances them
// while it trains. GlobalStep runs across the whole sequence.
type TaskState struct {
	TaskID     int
	NumTask    int
	BestScore  float64
	Step       int
	GlobalStep int
}

// Trainer learns one task. It runs until the learner's training budget for
// the task is exhausted.
type Trainer interface {
	TrainTask(ctx context.Context, ts *TaskState) error
}

// Evaluator measures accuracy, in percent, on evalTaskID's split after the
// model has learned through curTaskID. In CIL mode implementations must not
// use evalTaskID to restrict their output space.
type Evaluator interface {
	EvaluateCurrentTask(ctx context.Context, evalTaskID, curTaskID int, phase continual.Phase, mode continual.ILMode) (float64, error)
}

// Learner is the full required capability set.
type Learner interface {
	Trainer
	Evaluator
}

// Preparer builds models, optimizers, loaders and buffers before task 0.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Checkpointer exports serialized model and classifier state.
type Checkpointer interface {
	CheckpointState() (model, classifier []byte, err error)
}

// Releaser drops caches that only matter inside one task.
type Releaser interface {
	ReleaseTaskResources()
}

// Unimplemented can be embedded by partial learners. Every required method
// reports ErrNotImplemented.
type Unimplemented struct{}

func (Unimplemented) TrainTask(context.Context, *TaskState) error {
	return ErrNotImplemented
}

func (Unimplemented) EvaluateCurrentTask(context.Context, int, int, continual.Phase, continual.ILMode) (float64, error) {
	return 0, ErrNotImplemented
}
