package parallel

import (
	"context"
	"fmt"
	"sync"
)

// Group describes this process's role among the participants of a run. Only
// the coordinator (rank 0) writes results, logs metrics and saves checkpoints.
type Group interface {
	Rank() int
	Size() int
	IsCoordinator() bool
	// Barrier blocks until every participant has reached it, or ctx ends.
	Barrier(ctx context.Context) error
}

// Local is the single-participant group. Its barrier never blocks.
type Local struct{}

func (Local) Rank() int                         { return 0 }
func (Local) Size() int                         { return 1 }
func (Local) IsCoordinator() bool               { return true }
func (Local) Barrier(ctx context.Context) error { return ctx.Err() }

// barrier is a reusable rendezvous for a fixed number of parties.
type barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
}

func newBarrier(parties int) *barrier {
	return &barrier{parties: parties, release: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	ch := b.release
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(ch)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		// The generation may have completed while we were waking up.
		select {
		case <-ch:
			b.mu.Unlock()
			return nil
		default:
		}
		b.waiting--
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Member is one participant of an in-process Cohort.
type Member struct {
	rank int
	size int
	b    *barrier
}

func (m *Member) Rank() int           { return m.rank }
func (m *Member) Size() int           { return m.size }
func (m *Member) IsCoordinator() bool { return m.rank == 0 }

func (m *Member) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.b.wait(ctx)
}

// NewCohort returns size members sharing one barrier, ordered by rank.
func NewCohort(size int) ([]*Member, error) {
	if size < 1 {
		return nil, fmt.Errorf("cohort size must be >= 1, got %d", size)
	}
	b := newBarrier(size)
	members := make([]*Member, size)
	for i := range members {
		members[i] = &Member{rank: i, size: size, b: b}
	}
	return members, nil
}
