// Package fem provides the linear finite-element space, sparse operators and
// iterative solver the concentration field is built on.
package fem

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimension is returned when operand sizes disagree.
	ErrDimension = errors.New("fem: dimension mismatch")
	// ErrPattern is returned when writing outside a matrix's sparsity pattern.
	ErrPattern = errors.New("fem: entry outside sparsity pattern")
	// ErrBreakdown is returned when the solver meets a non-positive or
	// non-finite curvature, i.e. the operator is singular or indefinite.
	ErrBreakdown = errors.New("fem: solver breakdown")
)

// CSR is a square sparse matrix in compressed sparse row form with a fixed
// sparsity pattern.
type CSR struct {
	n      int
	rowPtr []int
	colIdx []int
	vals   []float64
}

var _ mat.Matrix = (*CSR)(nil)

// NewCSRFromPattern builds an all-zero n by n matrix whose row i may hold
// entries in the columns listed by pattern[i]. Duplicates are merged.
func NewCSRFromPattern(n int, pattern [][]int) (*CSR, error) {
	if len(pattern) != n {
		return nil, fmt.Errorf("pattern has %d rows, want %d: %w", len(pattern), n, ErrDimension)
	}
	a := &CSR{n: n, rowPtr: make([]int, n+1)}
	for i, cols := range pattern {
		row := append([]int(nil), cols...)
		sort.Ints(row)
		last := -1
		for _, j := range row {
			if j < 0 || j >= n {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, ErrDimension)
			}
			if j == last {
				continue
			}
			a.colIdx = append(a.colIdx, j)
			last = j
		}
		a.rowPtr[i+1] = len(a.colIdx)
	}
	a.vals = make([]float64, len(a.colIdx))
	return a, nil
}

// Dims implements mat.Matrix.
func (a *CSR) Dims() (r, c int) { return a.n, a.n }

// At implements mat.Matrix.
func (a *CSR) At(i, j int) float64 {
	if k, ok := a.find(i, j); ok {
		return a.vals[k]
	}
	return 0
}

// T implements mat.Matrix.
func (a *CSR) T() mat.Matrix { return mat.Transpose{Matrix: a} }

// NNZ returns the number of stored entries.
func (a *CSR) NNZ() int { return len(a.vals) }

// Row returns the column indices and values stored in row i. The slices alias
// the matrix storage.
func (a *CSR) Row(i int) (cols []int, vals []float64) {
	lo, hi := a.rowPtr[i], a.rowPtr[i+1]
	return a.colIdx[lo:hi], a.vals[lo:hi]
}

func (a *CSR) find(i, j int) (int, bool) {
	lo, hi := a.rowPtr[i], a.rowPtr[i+1]
	k := lo + sort.SearchInts(a.colIdx[lo:hi], j)
	if k < hi && a.colIdx[k] == j {
		return k, true
	}
	return -1, false
}

// Add accumulates v into entry (i, j).
func (a *CSR) Add(i, j int, v float64) error {
	k, ok := a.find(i, j)
	if !ok {
		return fmt.Errorf("(%d,%d): %w", i, j, ErrPattern)
	}
	a.vals[k] += v
	return nil
}

// Zero clears all values, keeping the pattern.
func (a *CSR) Zero() {
	for k := range a.vals {
		a.vals[k] = 0
	}
}

// Clone returns a deep copy.
func (a *CSR) Clone() *CSR {
	return &CSR{
		n:      a.n,
		rowPtr: append([]int(nil), a.rowPtr...),
		colIdx: append([]int(nil), a.colIdx...),
		vals:   append([]float64(nil), a.vals...),
	}
}

// SamePattern reports whether a and b store the same entries.
func (a *CSR) SamePattern(b *CSR) bool {
	if a.n != b.n || len(a.colIdx) != len(b.colIdx) {
		return false
	}
	for i := range a.rowPtr {
		if a.rowPtr[i] != b.rowPtr[i] {
			return false
		}
	}
	for k := range a.colIdx {
		if a.colIdx[k] != b.colIdx[k] {
			return false
		}
	}
	return true
}

// AddScaled sets a = a + alpha*b. Both matrices must share a pattern.
func (a *CSR) AddScaled(alpha float64, b *CSR) error {
	if !a.SamePattern(b) {
		return fmt.Errorf("add scaled: %w", ErrPattern)
	}
	for k, v := range b.vals {
		a.vals[k] += alpha * v
	}
	return nil
}

// MulVec sets dst = a*x.
func (a *CSR) MulVec(dst, x []float64) {
	if len(dst) != a.n || len(x) != a.n {
		panic(ErrDimension)
	}
	for i := 0; i < a.n; i++ {
		var sum float64
		for k := a.rowPtr[i]; k < a.rowPtr[i+1]; k++ {
			sum += a.vals[k] * x[a.colIdx[k]]
		}
		dst[i] = sum
	}
}
