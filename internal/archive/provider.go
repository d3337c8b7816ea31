// Package archive keeps the result rows and final summary of every run so a
// finished run can be reported on later.
package archive

import (
	"errors"
	"time"

	"github.com/kylegalloway/cilearn/internal/metrics"
)

// ErrRunNotFound is returned by Load for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunMeta describes a run at the time it started.
type RunMeta struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ILMode         string    `json:"il_mode"`
	Classification string    `json:"classification_type"`
	NumTask        int       `json:"num_task"`
	StartedAt      time.Time `json:"started_at"`
}

// Run is everything archived for one run. Summary is nil until the run
// finished.
type Run struct {
	Meta       RunMeta
	Rows       [][]float64
	Summary    *metrics.Summary
	FinishedAt time.Time
}

// Finished reports whether the run reached its final summary.
func (r Run) Finished() bool { return r.Summary != nil }

// Provider is the interface for persistent cross-run storage.
type Provider interface {
	Begin(meta RunMeta) error
	SaveRow(runID string, row int, values []float64) error
	SaveSummary(runID string, summary metrics.Summary, finishedAt time.Time) error
	Load(runID string) (Run, error)
	List() ([]RunMeta, error)
	Close() error
}

// NoopProvider implements Provider as a no-op (when the archive is disabled).
type NoopProvider struct{}

func (NoopProvider) Begin(RunMeta) error                                  { return nil }
func (NoopProvider) SaveRow(string, int, []float64) error                 { return nil }
func (NoopProvider) SaveSummary(string, metrics.Summary, time.Time) error { return nil }
func (NoopProvider) List() ([]RunMeta, error)                             { return nil, nil }
func (NoopProvider) Close() error                                         { return nil }

func (NoopProvider) Load(runID string) (Run, error) {
	return Run{}, ErrRunNotFound
}
