// Package results holds the result summary matrix of a continual-learning run.
//
// Row i of the matrix holds the accuracy on tasks 0..i measured right after the
// model finished learning task i. Cells above the diagonal never exist: a task
// cannot be measured before its classifier head has been trained.
package results

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrContractViolation marks a caller bug: writing out of order, writing above
// the diagonal, rewriting a cell or mutating a sealed matrix. It is never
// recovered from.
var ErrContractViolation = errors.New("contract violation")

// Violation wraps ErrContractViolation with a formatted detail message.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// Matrix is a lower-triangular, append-only record of per-task accuracies.
// Rows are filled strictly in order and each cell is written exactly once.
// A Matrix is owned by a single writer and is not safe for concurrent use.
type Matrix struct {
	rows    [][]float64
	pending []float64
	filled  []bool
	nfilled int
	sealed  bool
}

// New returns an empty Matrix.
func New() *Matrix {
	return &Matrix{}
}

// Update records value as the accuracy on task col after learning through
// task row.
func (m *Matrix) Update(row, col int, value float64) error {
	if m.sealed {
		return Violation("matrix is sealed, cannot write [%d][%d]", row, col)
	}
	if row < 0 || col < 0 {
		return Violation("negative index [%d][%d]", row, col)
	}
	if col > row {
		return Violation("cell [%d][%d] is above the diagonal", row, col)
	}
	if next := len(m.rows); row != next {
		return Violation("row %d written out of order, next row is %d", row, next)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Violation("cell [%d][%d] is not a finite number", row, col)
	}

	if m.pending == nil {
		m.pending = make([]float64, row+1)
		m.filled = make([]bool, row+1)
		m.nfilled = 0
	}
	if m.filled[col] {
		return Violation("cell [%d][%d] written twice", row, col)
	}
	m.pending[col] = value
	m.filled[col] = true
	m.nfilled++

	if m.nfilled == len(m.pending) {
		m.rows = append(m.rows, m.pending)
		m.pending, m.filled, m.nfilled = nil, nil, 0
	}
	return nil
}

// CommitRow writes a whole row at once. values must hold exactly row+1 entries.
func (m *Matrix) CommitRow(row int, values []float64) error {
	if len(values) != row+1 {
		return Violation("row %d needs %d values, got %d", row, row+1, len(values))
	}
	if m.pending != nil {
		return Violation("row %d is partially written", len(m.rows))
	}
	for col, v := range values {
		if err := m.Update(row, col, v); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns the number of completed rows.
func (m *Matrix) Rows() int {
	return len(m.rows)
}

// Complete reports whether exactly numTask rows are complete and nothing is
// half written.
func (m *Matrix) Complete(numTask int) bool {
	return len(m.rows) == numTask && m.pending == nil
}

// At returns M[row][col]. Querying a cell that has not been written, or one
// above the diagonal, is a contract violation.
func (m *Matrix) At(row, col int) (float64, error) {
	if row < 0 || col < 0 || col > row {
		return 0, Violation("cell [%d][%d] is undefined", row, col)
	}
	if row >= len(m.rows) {
		return 0, Violation("row %d has not been committed", row)
	}
	return m.rows[row][col], nil
}

// Row returns a copy of completed row i.
func (m *Matrix) Row(i int) ([]float64, bool) {
	if i < 0 || i >= len(m.rows) {
		return nil, false
	}
	return append([]float64(nil), m.rows[i]...), true
}

// Value returns a deep copy of the completed rows.
func (m *Matrix) Value() [][]float64 {
	out := make([][]float64, len(m.rows))
	for i, r := range m.rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// Seal forbids any further writes.
func (m *Matrix) Seal() {
	m.sealed = true
}

// Sealed reports whether Seal has been called.
func (m *Matrix) Sealed() bool {
	return m.sealed
}

// PrintFormat renders completed rows with two decimals, e.g.
// "[[80.00], [75.00, 85.00]]". It is meant for logs only.
func (m *Matrix) PrintFormat() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, r := range m.rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('[')
		for j, v := range r {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.FormatFloat(v, 'f', 2, 64))
		}
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// FromRows builds a Matrix from literal rows, validating every write. It is
// used when reloading archived runs.
func FromRows(rows [][]float64) (*Matrix, error) {
	m := New()
	for i, r := range rows {
		if err := m.CommitRow(i, r); err != nil {
			return nil, err
		}
	}
	return m, nil
}
