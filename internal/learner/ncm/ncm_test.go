package ncm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/cilearn/internal/continual"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/tasks"
)

func newLearner(t *testing.T, cfg Config, numTask int) *Learner {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 7
	}
	l, err := New(cfg, tasks.Synthesize(numTask, 2), nil)
	require.NoError(t, err)
	require.NoError(t, l.Prepare(context.Background()))
	return l
}

func trainThrough(t *testing.T, l *Learner, last int) {
	t.Helper()
	for i := 0; i <= last; i++ {
		ts := &learner.TaskState{TaskID: i, BestScore: -1}
		require.NoError(t, l.TrainTask(context.Background(), ts))
	}
}

func TestTrainAdvancesCounters(t *testing.T) {
	l := newLearner(t, Config{Epochs: 3, BatchSize: 32, Workers: 3}, 2)
	ts := &learner.TaskState{TaskID: 0, NumTask: 2, BestScore: -1, GlobalStep: 5}

	require.NoError(t, l.TrainTask(context.Background(), ts))

	// 2 classes x 64 samples in batches of 32, three epochs.
	assert.Equal(t, 12, ts.Step)
	assert.Equal(t, 17, ts.GlobalStep)
	assert.GreaterOrEqual(t, ts.BestScore, 0.0)
	assert.LessOrEqual(t, ts.BestScore, 100.0)
}

func TestLearnsSeparableClasses(t *testing.T) {
	l := newLearner(t, Config{Epochs: 2, BatchSize: 16}, 1)
	trainThrough(t, l, 0)

	acc, err := l.EvaluateCurrentTask(context.Background(), 0, 0, continual.PhaseTest, continual.CIL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 90.0)
}

func TestReplayLimitsForgetting(t *testing.T) {
	base := Config{Epochs: 2, BatchSize: 16, Drift: 12}

	plain := newLearner(t, base, 2)
	trainThrough(t, plain, 1)
	withoutReplay, err := plain.EvaluateCurrentTask(context.Background(), 0, 1, continual.PhaseTest, continual.CIL)
	require.NoError(t, err)

	base.ReplayPerClass = 8
	rehearsed := newLearner(t, base, 2)
	trainThrough(t, rehearsed, 1)
	withReplay, err := rehearsed.EvaluateCurrentTask(context.Background(), 0, 1, continual.PhaseTest, continual.CIL)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, withReplay, 90.0)
	assert.LessOrEqual(t, withoutReplay, withReplay)
}

func TestWordLevelIsCumulative(t *testing.T) {
	ctx := context.Background()
	sentence := newLearner(t, Config{Drift: 4}, 2)
	trainThrough(t, sentence, 1)
	a0, err := sentence.EvaluateCurrentTask(ctx, 0, 1, continual.PhaseDev, continual.CIL)
	require.NoError(t, err)
	a1, err := sentence.EvaluateCurrentTask(ctx, 1, 1, continual.PhaseDev, continual.CIL)
	require.NoError(t, err)

	word := newLearner(t, Config{Drift: 4, Granularity: continual.WordLevel}, 2)
	trainThrough(t, word, 1)
	w, err := word.EvaluateCurrentTask(ctx, 1, 1, continual.PhaseDev, continual.CIL)
	require.NoError(t, err)

	// Every task holds the same number of samples.
	assert.InDelta(t, (a0+a1)/2, w, 1e-9)
}

func TestTILNeverWorseThanCIL(t *testing.T) {
	l := newLearner(t, Config{Drift: 10}, 3)
	trainThrough(t, l, 2)
	for eval := 0; eval <= 2; eval++ {
		cil, err := l.EvaluateCurrentTask(context.Background(), eval, 2, continual.PhaseTest, continual.CIL)
		require.NoError(t, err)
		til, err := l.EvaluateCurrentTask(context.Background(), eval, 2, continual.PhaseTest, continual.TIL)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, til, cil, "task %d", eval)
	}
}

func TestDeterministic(t *testing.T) {
	run := func() float64 {
		l := newLearner(t, Config{Drift: 6, Workers: 4, BatchSize: 8}, 3)
		trainThrough(t, l, 2)
		acc, err := l.EvaluateCurrentTask(context.Background(), 0, 2, continual.PhaseTest, continual.CIL)
		require.NoError(t, err)
		return acc
	}
	assert.Equal(t, run(), run())
}

func TestOutOfOrder(t *testing.T) {
	l := newLearner(t, Config{}, 3)
	err := l.TrainTask(context.Background(), &learner.TaskState{TaskID: 1, BestScore: -1})
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	_, err = l.EvaluateCurrentTask(context.Background(), 0, 0, continual.PhaseTest, continual.CIL)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	trainThrough(t, l, 0)
	_, err = l.EvaluateCurrentTask(context.Background(), 1, 0, continual.PhaseTest, continual.CIL)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
}

func TestUnknownPhase(t *testing.T) {
	l := newLearner(t, Config{}, 1)
	trainThrough(t, l, 0)
	_, err := l.EvaluateCurrentTask(context.Background(), 0, 0, continual.Phase("holdout"), continual.CIL)
	assert.Error(t, err)
}

func TestCheckpointAndRelease(t *testing.T) {
	l := newLearner(t, Config{ReplayPerClass: 3}, 2)
	trainThrough(t, l, 0)
	require.NotEmpty(t, l.cacheX)

	model, classifier, err := l.CheckpointState()
	require.NoError(t, err)

	var ms modelState
	require.NoError(t, json.Unmarshal(model, &ms))
	assert.Equal(t, 1, ms.Learned)
	assert.Len(t, ms.Replay[0], 3)

	var protos [][]float64
	require.NoError(t, json.Unmarshal(classifier, &protos))
	require.Len(t, protos, 4)
	assert.NotNil(t, protos[0])
	assert.Nil(t, protos[2])

	l.ReleaseTaskResources()
	assert.Nil(t, l.cacheX)
}

func TestNewRejectsEmptyStream(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
}
