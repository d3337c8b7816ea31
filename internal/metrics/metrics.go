// Package metrics derives stability and plasticity statistics from a completed
// result summary matrix. Every function is pure: it reads the matrix, never
// mutates it, and returns the same answer on every call.
package metrics

import (
	"errors"
	"fmt"
	"math"
)

// Precision is the number of decimals every reported metric is rounded to.
const Precision = 3

var (
	ErrEmptyMatrix     = errors.New("result matrix has no rows")
	ErrMalformedMatrix = errors.New("result matrix is not lower triangular")
)

// Log keys, matching what the run emits to its observability sink.
const (
	KeyAverageAccuracy            = "Aver_ACC"
	KeyBackwardTransfer           = "Bwt_ACC"
	KeyForgetting                 = "Fgt_ACC"
	KeyAverageIncrementalAccuracy = "Aver_Inc_ACC"
)

// Summary holds the four end-of-run statistics.
type Summary struct {
	AverageAccuracy            float64 `json:"aver_acc"`
	AverageIncrementalAccuracy float64 `json:"aver_inc_acc"`
	BackwardTransfer           float64 `json:"bwt_acc"`
	Forgetting                 float64 `json:"fgt_acc"`
}

// LogValues returns the summary keyed the way it is logged.
func (s Summary) LogValues() map[string]float64 {
	return map[string]float64{
		KeyAverageAccuracy:            s.AverageAccuracy,
		KeyBackwardTransfer:           s.BackwardTransfer,
		KeyForgetting:                 s.Forgetting,
		KeyAverageIncrementalAccuracy: s.AverageIncrementalAccuracy,
	}
}

// Compute validates m and returns all four statistics rounded to Precision.
func Compute(m [][]float64) (Summary, error) {
	if err := Validate(m); err != nil {
		return Summary{}, err
	}
	return Summary{
		AverageAccuracy:            Round(averageAccuracy(m)),
		AverageIncrementalAccuracy: Round(averageIncrementalAccuracy(m)),
		BackwardTransfer:           Round(backwardTransfer(m)),
		Forgetting:                 Round(forgetting(m)),
	}, nil
}

// Validate checks that m is non-empty, that row i has exactly i+1 entries and
// that every entry is finite.
func Validate(m [][]float64) error {
	if len(m) == 0 {
		return ErrEmptyMatrix
	}
	for i, row := range m {
		if len(row) != i+1 {
			return fmt.Errorf("%w: row %d has %d entries, want %d", ErrMalformedMatrix, i, len(row), i+1)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: entry [%d][%d] is not finite", ErrMalformedMatrix, i, j)
			}
		}
	}
	return nil
}

// AverageAccuracy is the mean accuracy of the final model over all tasks.
func AverageAccuracy(m [][]float64) (float64, error) {
	if err := Validate(m); err != nil {
		return 0, err
	}
	return Round(averageAccuracy(m)), nil
}

// AverageIncrementalAccuracy averages the seen-task mean measured at every
// task boundary.
func AverageIncrementalAccuracy(m [][]float64) (float64, error) {
	if err := Validate(m); err != nil {
		return 0, err
	}
	return Round(averageIncrementalAccuracy(m)), nil
}

// BackwardTransfer is the mean change on each earlier task between the moment
// it was learned and the end of the run. Negative values mean interference.
// A single-task run has no earlier task and reports 0.
func BackwardTransfer(m [][]float64) (float64, error) {
	if err := Validate(m); err != nil {
		return 0, err
	}
	return Round(backwardTransfer(m)), nil
}

// Forgetting is the mean drop from each earlier task's best observed accuracy
// to its final accuracy. It is not clamped: a task that ends above its earlier
// peak contributes a negative term. A single-task run reports 0.
func Forgetting(m [][]float64) (float64, error) {
	if err := Validate(m); err != nil {
		return 0, err
	}
	return Round(forgetting(m)), nil
}

// Round rounds v to Precision decimals.
func Round(v float64) float64 {
	scale := math.Pow10(Precision)
	return math.Round(v*scale) / scale
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func averageAccuracy(m [][]float64) float64 {
	return mean(m[len(m)-1])
}

func averageIncrementalAccuracy(m [][]float64) float64 {
	seen := make([]float64, len(m))
	for i, row := range m {
		seen[i] = mean(row)
	}
	return mean(seen)
}

func backwardTransfer(m [][]float64) float64 {
	last := len(m) - 1
	if last == 0 {
		return 0
	}
	deltas := make([]float64, last)
	for j := 0; j < last; j++ {
		deltas[j] = m[last][j] - m[j][j]
	}
	return mean(deltas)
}

func forgetting(m [][]float64) float64 {
	last := len(m) - 1
	if last == 0 {
		return 0
	}
	drops := make([]float64, last)
	for j := 0; j < last; j++ {
		peak := m[j][j]
		for i := j + 1; i < last; i++ {
			peak = math.Max(peak, m[i][j])
		}
		drops[j] = peak - m[last][j]
	}
	return mean(drops)
}
