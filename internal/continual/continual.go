// Package continual defines the vocabulary shared by every stage of an
// incremental-learning run: the incremental-learning mode, the classification
// granularity, and the data split an evaluation reads from.
package continual

import "fmt"

// ILMode selects whether task identity is available at inference time.
type ILMode string

const (
	// CIL is class-incremental learning: the model chooses among every class
	// seen so far and is never told which task a sample came from.
	CIL ILMode = "CIL"
	// TIL is task-incremental learning: the task id is an inference input.
	TIL ILMode = "TIL"
)

// Granularity is the classification type of the task stream.
type Granularity string

const (
	SentenceLevel Granularity = "sentence-level"
	// WordLevel evaluation sets are cumulative: the set for task t contains
	// every label of tasks 0..t.
	WordLevel Granularity = "word-level"
)

// Phase names a data split.
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseDev   Phase = "dev"
	PhaseTest  Phase = "test"
)

// Valid reports whether m is a known mode.
func (m ILMode) Valid() bool {
	return m == CIL || m == TIL
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == SentenceLevel || g == WordLevel
}

// Valid reports whether p is a known split.
func (p Phase) Valid() bool {
	return p == PhaseTrain || p == PhaseDev || p == PhaseTest
}

// ParseILMode converts a config string into an ILMode.
func ParseILMode(s string) (ILMode, error) {
	m := ILMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown il_mode %q (want %q or %q)", s, CIL, TIL)
	}
	return m, nil
}

// ParseGranularity converts a config string into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if !g.Valid() {
		return "", fmt.Errorf("unknown classification_type %q (want %q or %q)", s, SentenceLevel, WordLevel)
	}
	return g, nil
}

// ParsePhase converts a config string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q (want %q, %q or %q)", s, PhaseTrain, PhaseDev, PhaseTest)
	}
	return p, nil
}
