package telemetry

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink exposes the latest value of every key as a gauge labelled by
// key, plus the step the value was observed at.
type PrometheusSink struct {
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	step     prometheus.Gauge
	batches  prometheus.Counter

	mu     sync.Mutex
	closed bool
}

// NewPrometheusSink registers the run gauges on a private registry under the
// given namespace.
func NewPrometheusSink(namespace, runName string) (*PrometheusSink, error) {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"run": runName}

	s := &PrometheusSink{
		registry: reg,
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "value",
			Help:        "Latest value logged for each key",
			ConstLabels: constLabels,
		}, []string{"key"}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "global_step",
			Help:        "Global step of the most recent log batch",
			ConstLabels: constLabels,
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "log_batches_total",
			Help:        "Number of log batches received",
			ConstLabels: constLabels,
		}),
	}
	for _, c := range []prometheus.Collector{s.values, s.step, s.batches} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return s, nil
}

func (s *PrometheusSink) Log(values map[string]float64, step int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for k, v := range values {
		s.values.WithLabelValues(k).Set(v)
	}
	s.step.Set(float64(step))
	s.batches.Inc()
}

// Close stops accepting batches. Gauges keep their last values so a final
// scrape still sees the summary.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Registry returns the registry the gauges live on.
func (s *PrometheusSink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
