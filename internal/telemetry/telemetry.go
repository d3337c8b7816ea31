// Package telemetry receives the named scalar values a run emits and forwards
// them to structured logs and Prometheus gauges. A sink never influences the
// run: failures are swallowed or logged by the sink itself.
package telemetry

import (
	"errors"
	"sort"

	"go.uber.org/zap"
)

// Sink receives a batch of named values observed at a global step.
type Sink interface {
	Log(values map[string]float64, step int)
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Log(map[string]float64, int) {}
func (Nop) Close() error                { return nil }

// ZapSink writes each batch as one structured log record.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a ZapSink. A nil logger discards records.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Log(values map[string]float64, step int) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	fields = append(fields, zap.Int("step", step))
	for _, k := range keys {
		fields = append(fields, zap.Float64(k, values[k]))
	}
	s.logger.Info("metrics", fields...)
}

func (s *ZapSink) Close() error {
	// Sync fails on terminals; the records are already written.
	_ = s.logger.Sync()
	return nil
}

// Multi fans each batch out to several sinks.
type Multi []Sink

func (m Multi) Log(values map[string]float64, step int) {
	for _, s := range m {
		s.Log(values, step)
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
