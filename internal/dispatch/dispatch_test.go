package dispatch

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/cilearn/internal/continual"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/results"
)

var scripted = [][]float64{
	{80},
	{75, 85},
	{70, 80, 90},
}

func evalCalls(calls []learner.Call) []learner.Call {
	var out []learner.Call
	for _, c := range calls {
		if c.Kind == learner.CallEval {
			out = append(out, c)
		}
	}
	return out
}

func TestSentenceLevelEvaluatesEachSeenTask(t *testing.T) {
	l := learner.NewScripted(scripted)
	d, err := New(l, continual.SentenceLevel, nil)
	require.NoError(t, err)

	got, err := d.EvaluateSeenTasks(context.Background(), 2, continual.PhaseTest, continual.CIL)
	require.NoError(t, err)
	assert.Equal(t, []float64{70, 80, 90}, got)

	calls := evalCalls(l.Calls())
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, i, c.EvalTaskID)
		assert.Equal(t, 2, c.TaskID)
		assert.Equal(t, continual.PhaseTest, c.Phase)
		assert.Equal(t, continual.CIL, c.Mode)
	}
}

func TestWordLevelReplicatesSingleEvaluation(t *testing.T) {
	l := learner.NewScripted(scripted)
	d, err := New(l, continual.WordLevel, nil)
	require.NoError(t, err)

	for cur := 0; cur < len(scripted); cur++ {
		got, err := d.EvaluateSeenTasks(context.Background(), cur, continual.PhaseDev, continual.TIL)
		require.NoError(t, err)
		require.Len(t, got, cur+1)
		for _, v := range got {
			assert.Equal(t, scripted[cur][cur], v, "cur=%d", cur)
		}
	}

	calls := evalCalls(l.Calls())
	require.Len(t, calls, len(scripted), "one evaluation per task completion")
	for i, c := range calls {
		assert.Equal(t, i, c.EvalTaskID)
		assert.Equal(t, i, c.TaskID)
	}
}

func TestRejectsInvalidArguments(t *testing.T) {
	d, err := New(learner.NewScripted(scripted), continual.SentenceLevel, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = d.EvaluateSeenTasks(ctx, 0, "holdout", continual.CIL)
	assert.ErrorIs(t, err, results.ErrContractViolation)

	_, err = d.EvaluateSeenTasks(ctx, 0, continual.PhaseTest, "DIL")
	assert.ErrorIs(t, err, results.ErrContractViolation)

	_, err = d.EvaluateSeenTasks(ctx, -1, continual.PhaseTest, continual.CIL)
	assert.ErrorIs(t, err, results.ErrContractViolation)

	_, err = New(learner.NewScripted(nil), "paragraph-level", nil)
	assert.ErrorIs(t, err, results.ErrContractViolation)
}

func TestRejectsOutOfRangeAccuracy(t *testing.T) {
	for _, acc := range []float64{101, -0.5, math.NaN()} {
		d, err := New(learner.NewScripted([][]float64{{acc}}), continual.SentenceLevel, nil)
		require.NoError(t, err)
		_, err = d.EvaluateSeenTasks(context.Background(), 0, continual.PhaseTest, continual.CIL)
		assert.ErrorIs(t, err, results.ErrContractViolation, "acc %v", acc)
	}
}

type evalOnlyMissing struct {
	learner.Unimplemented
}

func TestPropagatesNotImplemented(t *testing.T) {
	d, err := New(evalOnlyMissing{}, continual.SentenceLevel, nil)
	require.NoError(t, err)
	_, err = d.EvaluateSeenTasks(context.Background(), 0, continual.PhaseTest, continual.CIL)
	assert.True(t, errors.Is(err, learner.ErrNotImplemented), "err = %v", err)
}
