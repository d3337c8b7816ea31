// Package dispatch decides which past tasks to re-evaluate after a task
// completes and assembles their accuracies into one evaluation snapshot.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/continual"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/results"
)

// Dispatcher evaluates every seen task through a single-task Evaluator.
type Dispatcher struct {
	eval        learner.Evaluator
	granularity continual.Granularity
	logger      *zap.Logger
}

// New creates a Dispatcher. It returns a contract violation for an unknown
// granularity.
func New(eval learner.Evaluator, granularity continual.Granularity, logger *zap.Logger) (*Dispatcher, error) {
	if eval == nil {
		return nil, results.Violation("dispatcher needs an evaluator")
	}
	if !granularity.Valid() {
		return nil, results.Violation("unknown classification type %q", granularity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{eval: eval, granularity: granularity, logger: logger}, nil
}

// EvaluateSeenTasks returns curTaskID+1 accuracies, one per task 0..curTaskID.
//
// Sentence-level streams get one isolated evaluation per seen task.
// Word-level streams are evaluated once on the latest task, whose set already
// contains every earlier label; that single figure fills every position, so
// the entries are not independent per-task measurements.
func (d *Dispatcher) EvaluateSeenTasks(ctx context.Context, curTaskID int, phase continual.Phase, mode continual.ILMode) ([]float64, error) {
	if curTaskID < 0 {
		return nil, results.Violation("negative current task id %d", curTaskID)
	}
	if !phase.Valid() {
		return nil, results.Violation("unknown phase %q", phase)
	}
	if !mode.Valid() {
		return nil, results.Violation("unknown il mode %q", mode)
	}

	switch d.granularity {
	case continual.WordLevel:
		acc, err := d.evaluate(ctx, curTaskID, curTaskID, phase, mode)
		if err != nil {
			return nil, err
		}
		snapshot := make([]float64, curTaskID+1)
		for i := range snapshot {
			snapshot[i] = acc
		}
		return snapshot, nil
	default:
		snapshot := make([]float64, 0, curTaskID+1)
		for evalTaskID := 0; evalTaskID <= curTaskID; evalTaskID++ {
			acc, err := d.evaluate(ctx, evalTaskID, curTaskID, phase, mode)
			if err != nil {
				return nil, err
			}
			snapshot = append(snapshot, acc)
		}
		return snapshot, nil
	}
}

func (d *Dispatcher) evaluate(ctx context.Context, evalTaskID, curTaskID int, phase continual.Phase, mode continual.ILMode) (float64, error) {
	acc, err := d.eval.EvaluateCurrentTask(ctx, evalTaskID, curTaskID, phase, mode)
	if err != nil {
		return 0, fmt.Errorf("evaluate task %d after task %d: %w", evalTaskID, curTaskID, err)
	}
	// NaN fails both comparisons.
	if !(acc >= 0 && acc <= 100) {
		return 0, results.Violation("accuracy %.4f for task %d is outside [0, 100]", acc, evalTaskID)
	}
	d.logger.Debug("evaluated task",
		zap.Int("eval_task_id", evalTaskID),
		zap.Int("cur_task_id", curTaskID),
		zap.String("phase", string(phase)),
		zap.String("il_mode", string(mode)),
		zap.Float64("acc", acc))
	return acc, nil
}
