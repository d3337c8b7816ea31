// Package orchestrator drives a learner through a fixed sequence of tasks,
// evaluates every seen task after each one, and turns the resulting accuracy
// matrix into the final continual-learning metrics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/archive"
	"github.com/kylegalloway/cilearn/internal/checkpoint"
	"github.com/kylegalloway/cilearn/internal/continual"
	"github.com/kylegalloway/cilearn/internal/dispatch"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/metrics"
	"github.com/kylegalloway/cilearn/internal/parallel"
	"github.com/kylegalloway/cilearn/internal/results"
	"github.com/kylegalloway/cilearn/internal/state"
	"github.com/kylegalloway/cilearn/internal/telemetry"
)

var (
	ErrAlreadyStarted  = errors.New("incremental training already started")
	ErrAlreadyFinished = errors.New("training already finished")
	ErrNotFinished     = errors.New("not every task has a result row")
)

const tracerName = "github.com/kylegalloway/cilearn/internal/orchestrator"

// Phase is the controller's position in the task sequence.
type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseInTask       Phase = "in_task"
	PhaseBetweenTasks Phase = "between_tasks"
	PhaseFinished     Phase = "finished"
)

// State is the controller's current phase. Task is the task being trained in
// PhaseInTask and the last finished task in PhaseBetweenTasks; it is -1 before
// task 0 starts.
type State struct {
	Phase Phase
	Task  int
}

func (s State) String() string {
	switch s.Phase {
	case PhaseInTask:
		return fmt.Sprintf("InTask(%d)", s.Task)
	case PhaseBetweenTasks:
		return "BetweenTasks"
	case PhaseFinished:
		return "Finished"
	default:
		return "NotStarted"
	}
}

// Options configures a Controller. Only NumTask and the three mode fields are
// required; every collaborator has a no-op default.
type Options struct {
	RunID     string
	RunName   string
	NumTask   int
	Mode      continual.ILMode
	Class     continual.Granularity
	EvalPhase continual.Phase

	Group       parallel.Group
	Sink        telemetry.Sink
	Archive     archive.Provider
	Checkpoints *checkpoint.Store
	State       *state.Manager
	Logger      *zap.Logger
	Tracer      trace.Tracer

	// OnTaskEnd, when set, is called on the coordinator after each row is
	// committed.
	OnTaskEnd func(ts learner.TaskState, accs []float64)
}

// Controller is the task loop. It is the only writer of the result matrix.
type Controller struct {
	learner  learner.Learner
	opts     Options
	dispatch *dispatch.Dispatcher
	matrix   *results.Matrix
	logger   *zap.Logger
	tracer   trace.Tracer

	st      State
	ts      learner.TaskState
	started time.Time
}

// New creates a Controller for l.
func New(l learner.Learner, opts Options) (*Controller, error) {
	if l == nil {
		return nil, errors.New("learner is required")
	}
	if opts.NumTask < 1 {
		return nil, fmt.Errorf("num_task must be >= 1, got %d", opts.NumTask)
	}
	if !opts.Mode.Valid() {
		return nil, results.Violation("unknown il mode %q", opts.Mode)
	}
	if !opts.EvalPhase.Valid() {
		return nil, results.Violation("unknown eval phase %q", opts.EvalPhase)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Group == nil {
		opts.Group = parallel.Local{}
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.Nop{}
	}
	if opts.Archive == nil {
		opts.Archive = archive.NoopProvider{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	d, err := dispatch.New(l, opts.Class, opts.Logger)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger.With(
		zap.String("il_mode", string(opts.Mode)),
		zap.Int("rank", opts.Group.Rank()))

	return &Controller{
		learner:  l,
		opts:     opts,
		dispatch: d,
		matrix:   results.New(),
		logger:   logger,
		tracer:   opts.Tracer,
		st:       State{Phase: PhaseNotStarted, Task: -1},
		ts:       learner.TaskState{TaskID: -1, NumTask: opts.NumTask, BestScore: -1},
	}, nil
}

// Matrix returns the result matrix. Callers must treat it as read-only.
func (c *Controller) Matrix() *results.Matrix { return c.matrix }

// State returns the controller's current phase.
func (c *Controller) State() State { return c.st }

// GlobalStep returns the step counter accumulated across all tasks.
func (c *Controller) GlobalStep() int { return c.ts.GlobalStep }

func (c *Controller) coordinator() bool { return c.opts.Group.IsCoordinator() }

// RunIncrementalTraining learns tasks 0..NumTask-1 in order. Each task is
// trained, every seen task is evaluated, and the resulting row is committed
// before the next task begins. ctx is only checked between tasks.
func (c *Controller) RunIncrementalTraining(ctx context.Context) error {
	switch c.st.Phase {
	case PhaseFinished:
		return ErrAlreadyFinished
	case PhaseNotStarted:
	default:
		return ErrAlreadyStarted
	}

	ctx, span := c.tracer.Start(ctx, "orchestrator.RunIncrementalTraining",
		trace.WithAttributes(
			attribute.String("run_id", c.opts.RunID),
			attribute.Int("num_task", c.opts.NumTask),
			attribute.String("il_mode", string(c.opts.Mode)),
			attribute.String("classification_type", string(c.opts.Class)),
		))
	defer span.End()

	c.started = time.Now()
	if c.coordinator() {
		err := c.opts.Archive.Begin(archive.RunMeta{
			ID:             c.opts.RunID,
			Name:           c.opts.RunName,
			ILMode:         string(c.opts.Mode),
			Classification: string(c.opts.Class),
			NumTask:        c.opts.NumTask,
			StartedAt:      c.started,
		})
		if err != nil {
			c.logger.Warn("archive run start failed", zap.Error(err))
		}
	}

	if p, ok := c.learner.(learner.Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			return c.fail(span, fmt.Errorf("prepare learner: %w", err))
		}
	}

	for taskID := 0; taskID < c.opts.NumTask; taskID++ {
		if err := ctx.Err(); err != nil {
			return c.fail(span, fmt.Errorf("stopped before task %d: %w", taskID, err))
		}
		if err := c.runTask(ctx, taskID); err != nil {
			return c.fail(span, err)
		}
	}

	span.SetAttributes(attribute.Int("global_step", c.ts.GlobalStep))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Controller) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Controller) runTask(ctx context.Context, taskID int) error {
	ctx, span := c.tracer.Start(ctx, "orchestrator.Task",
		trace.WithAttributes(attribute.Int("task_id", taskID)))
	defer span.End()

	c.beginTask(taskID)
	if c.coordinator() {
		c.logger.Info("begin task",
			zap.Int("task_id", taskID),
			zap.Int("num_task", c.opts.NumTask))
	}

	if err := c.learner.TrainTask(ctx, &c.ts); err != nil {
		return c.fail(span, fmt.Errorf("train task %d: %w", taskID, err))
	}
	if err := c.endTask(ctx, taskID); err != nil {
		return c.fail(span, err)
	}
	span.SetAttributes(
		attribute.Int("steps", c.ts.Step),
		attribute.Float64("best_score", c.ts.BestScore))
	return nil
}

// beginTask resets the per-task counters. GlobalStep carries over.
func (c *Controller) beginTask(taskID int) {
	c.ts.TaskID = taskID
	c.ts.BestScore = -1
	c.ts.Step = 0
	c.st = State{Phase: PhaseInTask, Task: taskID}
	c.persist()
}

func (c *Controller) endTask(ctx context.Context, taskID int) error {
	accs, err := c.evaluate(ctx, taskID)
	if err != nil {
		return err
	}
	if err := c.matrix.CommitRow(taskID, accs); err != nil {
		return fmt.Errorf("commit row %d: %w", taskID, err)
	}

	if c.coordinator() {
		c.logAccuracies(taskID, accs)
		c.logger.Info("result summary",
			zap.Int("task_id", taskID),
			zap.String("matrix", c.matrix.PrintFormat()))
		if err := c.opts.Archive.SaveRow(c.opts.RunID, taskID, accs); err != nil {
			c.logger.Warn("archive row failed", zap.Int("task_id", taskID), zap.Error(err))
		}
		c.saveCheckpoint(taskID)
		if c.opts.OnTaskEnd != nil {
			c.opts.OnTaskEnd(c.ts, append([]float64(nil), accs...))
		}
	}

	if r, ok := c.learner.(learner.Releaser); ok {
		r.ReleaseTaskResources()
	}
	debug.FreeOSMemory()

	c.st = State{Phase: PhaseBetweenTasks, Task: taskID}
	c.persist()

	if err := c.opts.Group.Barrier(ctx); err != nil {
		return fmt.Errorf("barrier after task %d: %w", taskID, err)
	}
	return nil
}

func (c *Controller) evaluate(ctx context.Context, taskID int) ([]float64, error) {
	ctx, span := c.tracer.Start(ctx, "orchestrator.EvaluateSeenTasks",
		trace.WithAttributes(
			attribute.Int("cur_task_id", taskID),
			attribute.String("phase", string(c.opts.EvalPhase))))
	defer span.End()

	accs, err := c.dispatch.EvaluateSeenTasks(ctx, taskID, c.opts.EvalPhase, c.opts.Mode)
	if err != nil {
		return nil, c.fail(span, err)
	}
	return accs, nil
}

// logAccuracies emits Test_Acc_Task_<t> for every seen task and their mean.
func (c *Controller) logAccuracies(taskID int, accs []float64) {
	values := make(map[string]float64, len(accs)+1)
	fields := make([]zap.Field, 0, len(accs)+2)
	fields = append(fields, zap.Int("task_id", taskID))
	var sum float64
	for t, a := range accs {
		key := fmt.Sprintf("Test_Acc_Task_%d", t)
		values[key] = a
		fields = append(fields, zap.Float64(key, a))
		sum += a
	}
	seen := metrics.Round(sum / float64(len(accs)))
	values["Test_Acc_Task_Seen"] = seen
	fields = append(fields, zap.Float64("Test_Acc_Task_Seen", seen))

	c.logger.Info("test result", fields...)
	c.opts.Sink.Log(values, c.ts.GlobalStep)
}

func (c *Controller) saveCheckpoint(taskID int) {
	if c.opts.Checkpoints == nil {
		return
	}
	cp, ok := c.learner.(learner.Checkpointer)
	if !ok {
		return
	}
	model, classifier, err := cp.CheckpointState()
	if err != nil {
		c.logger.Warn("checkpoint export failed", zap.Int("task_id", taskID), zap.Error(err))
		return
	}
	ck := &checkpoint.Checkpoint{
		RunID:      c.opts.RunID,
		TaskID:     taskID,
		Model:      model,
		Classifier: classifier,
	}
	if err := c.opts.Checkpoints.Save(ck); err != nil {
		c.logger.Warn("checkpoint write failed", zap.Int("task_id", taskID), zap.Error(err))
		return
	}
	c.logger.Debug("checkpoint saved", zap.String("path", c.opts.Checkpoints.Path(taskID)))
}

func (c *Controller) persist() {
	if c.opts.State == nil || !c.coordinator() {
		return
	}
	rs := &state.RunState{
		RunID:       c.opts.RunID,
		RunName:     c.opts.RunName,
		Phase:       string(c.st.Phase),
		CurrentTask: c.st.Task,
		NumTask:     c.opts.NumTask,
		GlobalStep:  c.ts.GlobalStep,
		Rows:        c.matrix.Value(),
		StartTime:   c.started,
	}
	if err := c.opts.State.Save(rs); err != nil {
		c.logger.Warn("save run state failed", zap.Error(err))
	}
}

// FinishTraining computes the summary metrics over the completed matrix, logs
// them and seals the matrix. It must follow a successful
// RunIncrementalTraining and runs at most once.
func (c *Controller) FinishTraining(ctx context.Context) (metrics.Summary, error) {
	if c.st.Phase == PhaseFinished {
		return metrics.Summary{}, ErrAlreadyFinished
	}
	if !c.matrix.Complete(c.opts.NumTask) {
		return metrics.Summary{}, fmt.Errorf("%w: %d of %d rows", ErrNotFinished, c.matrix.Rows(), c.opts.NumTask)
	}

	_, span := c.tracer.Start(ctx, "orchestrator.FinishTraining")
	defer span.End()

	summary, err := metrics.Compute(c.matrix.Value())
	if err != nil {
		return metrics.Summary{}, c.fail(span, fmt.Errorf("compute metrics: %w", err))
	}
	c.matrix.Seal()
	c.st = State{Phase: PhaseFinished, Task: c.opts.NumTask - 1}

	if c.coordinator() {
		c.logger.Info("summary acc", zap.String("matrix", c.matrix.PrintFormat()))
		c.logger.Info("summary result",
			zap.Float64(metrics.KeyAverageAccuracy, summary.AverageAccuracy),
			zap.Float64(metrics.KeyBackwardTransfer, summary.BackwardTransfer),
			zap.Float64(metrics.KeyForgetting, summary.Forgetting),
			zap.Float64(metrics.KeyAverageIncrementalAccuracy, summary.AverageIncrementalAccuracy),
			zap.Duration("elapsed", time.Since(c.started)))
		c.opts.Sink.Log(summary.LogValues(), c.ts.GlobalStep)
		if err := c.opts.Archive.SaveSummary(c.opts.RunID, summary, time.Now()); err != nil {
			c.logger.Warn("archive summary failed", zap.Error(err))
		}
		if c.opts.State != nil {
			if err := c.opts.State.Remove(); err != nil {
				c.logger.Warn("remove run state failed", zap.Error(err))
			}
		}
	}
	if err := c.opts.Sink.Close(); err != nil {
		c.logger.Warn("close sink failed", zap.Error(err))
	}

	span.SetAttributes(
		attribute.Float64("aver_acc", summary.AverageAccuracy),
		attribute.Float64("fgt_acc", summary.Forgetting))
	span.SetStatus(codes.Ok, "")
	return summary, nil
}
