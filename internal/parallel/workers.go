// Package parallel provides the execution roles of a run and the worker
// fan-out a learner uses inside one task's training step.
package parallel

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EffectiveWorkers returns the worker count to use, potentially reduced from
// the configured value based on available system RAM.
func EffectiveWorkers(configured int, adaptive bool, minRAMPerWorkerMB int, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	if configured < 1 {
		configured = 1
	}
	if !adaptive {
		return configured
	}
	if minRAMPerWorkerMB <= 0 {
		minRAMPerWorkerMB = 256
	}

	available := availableRAMMB()
	if available <= 0 {
		logger.Info("could not determine available RAM, keeping configured workers",
			zap.Int("workers", configured))
		return configured
	}

	maxByRAM := available / minRAMPerWorkerMB
	if maxByRAM < 1 {
		maxByRAM = 1
	}
	if maxByRAM < configured {
		logger.Warn("reducing workers due to available RAM",
			zap.Int("configured", configured),
			zap.Int("effective", maxByRAM),
			zap.Int("available_mb", available))
		return maxByRAM
	}
	return configured
}

// Span is a half-open index range [Lo, Hi).
type Span struct {
	Lo, Hi int
}

// Split divides [0, n) into at most parts contiguous spans of near-equal size.
// Empty spans are never returned.
func Split(n, parts int) []Span {
	if n <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	spans := make([]Span, 0, parts)
	size, rem := n/parts, n%parts
	lo := 0
	for i := 0; i < parts; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		spans = append(spans, Span{Lo: lo, Hi: hi})
		lo = hi
	}
	return spans
}

// Fanout runs fn once per span of [0, n), with at most workers running at a
// time. The first error cancels the shared context and is returned after every
// started call has finished.
func Fanout(ctx context.Context, workers, n int, fn func(ctx context.Context, worker int, span Span) error) error {
	if workers < 1 {
		workers = 1
	}
	spans := Split(n, workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sp := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i, sp)
		})
	}
	return g.Wait()
}
