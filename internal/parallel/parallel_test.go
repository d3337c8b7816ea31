package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEffectiveWorkersNotAdaptive(t *testing.T) {
	assert.Equal(t, 4, EffectiveWorkers(4, false, 256, nil))
}

func TestEffectiveWorkersAdaptive(t *testing.T) {
	got := EffectiveWorkers(4, true, 256, zap.NewNop())
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, 4)
}

func TestEffectiveWorkersMinimum(t *testing.T) {
	assert.Equal(t, 1, EffectiveWorkers(0, false, 256, nil))
	if availableRAMMB() > 0 {
		assert.Equal(t, 1, EffectiveWorkers(4, true, 1<<40, nil))
	}
}

func TestAvailableRAM(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("RAM detection is Linux-only")
	}
	assert.Positive(t, availableRAMMB())
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split(0, 4))
	assert.Equal(t, []Span{{0, 4}, {4, 7}, {7, 10}}, Split(10, 3))
	assert.Equal(t, []Span{{0, 1}, {1, 2}}, Split(2, 8))
	assert.Equal(t, []Span{{0, 5}}, Split(5, 0))
}

func TestFanoutCoversEveryIndex(t *testing.T) {
	seen := make([]int32, 100)
	err := Fanout(context.Background(), 4, len(seen), func(_ context.Context, _ int, sp Span) error {
		for i := sp.Lo; i < sp.Hi; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
		return nil
	})
	require.NoError(t, err)
	for i, n := range seen {
		assert.Equal(t, int32(1), n, "index %d", i)
	}
}

func TestFanoutReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := Fanout(context.Background(), 3, 9, func(_ context.Context, worker int, _ Span) error {
		if worker == 1 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestFanoutCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	err := Fanout(ctx, 2, 4, func(context.Context, int, Span) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestLocalGroup(t *testing.T) {
	var g Group = Local{}
	assert.Equal(t, 0, g.Rank())
	assert.Equal(t, 1, g.Size())
	assert.True(t, g.IsCoordinator())
	assert.NoError(t, g.Barrier(context.Background()))
}

func TestCohortBarrier(t *testing.T) {
	members, err := NewCohort(3)
	require.NoError(t, err)
	assert.True(t, members[0].IsCoordinator())
	assert.False(t, members[2].IsCoordinator())

	const rounds = 5
	var arrived [rounds]int32
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *Member) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				atomic.AddInt32(&arrived[r], 1)
				if err := m.Barrier(context.Background()); err != nil {
					t.Errorf("rank %d round %d: %v", m.Rank(), r, err)
					return
				}
				// Every participant has arrived at round r before anyone passes it.
				if n := atomic.LoadInt32(&arrived[r]); n != 3 {
					t.Errorf("rank %d passed round %d with %d arrivals", m.Rank(), r, n)
				}
			}
		}(m)
	}
	wg.Wait()
}

func TestCohortBarrierCancel(t *testing.T) {
	members, err := NewCohort(2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = members[0].Barrier(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned wait must not count toward the next generation.
	done := make(chan error, 1)
	go func() { done <- members[1].Barrier(context.Background()) }()
	select {
	case <-done:
		t.Fatal("barrier released with only one participant")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, members[0].Barrier(context.Background()))
	require.NoError(t, <-done)
}

func TestNewCohortRejectsEmpty(t *testing.T) {
	_, err := NewCohort(0)
	assert.Error(t, err)
}
