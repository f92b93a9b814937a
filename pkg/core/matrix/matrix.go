// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matrix defines Matrix, a lightweight row-major view over a float32 buffer.
//
// A Matrix never owns its buffer: the caller allocates it and is responsible for its lifetime.
// The Stride (also known as leading dimension) is the distance, in elements, between the start of
// consecutive rows, and it may be larger than NumCols, which allows sub-matrix views without copying.
package matrix

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gomlx/gemm/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Matrix is a row-major view over Data.
//
// Element (i, j) is stored at Data[i*Stride+j].
type Matrix struct {
	NumRows, NumCols int

	// Stride is the leading dimension: number of elements between the start of two consecutive rows.
	Stride int

	Data []float32
}

// Make allocates a new contiguous (Stride == cols) matrix filled with zeros.
func Make(rows, cols int) Matrix {
	if rows < 0 || cols < 0 {
		panic(errors.Errorf("matrix.Make(%d, %d): negative dimension", rows, cols))
	}
	return Matrix{
		NumRows: rows,
		NumCols: cols,
		Stride:  cols,
		Data:    make([]float32, rows*cols),
	}
}

// FromData wraps data in a Matrix view, and validates that the view is consistent.
func FromData(rows, cols, stride int, data []float32) (Matrix, error) {
	m := Matrix{NumRows: rows, NumCols: cols, Stride: stride, Data: data}
	if err := m.Validate(); err != nil {
		return Matrix{}, err
	}
	return m, nil
}

// MinDataLen returns the minimum length of Data required by the view: the last row doesn't need
// to be followed by a full stride.
func (m Matrix) MinDataLen() int {
	if m.NumRows <= 0 || m.NumCols <= 0 {
		return 0
	}
	return (m.NumRows-1)*m.Stride + m.NumCols
}

// Validate checks the invariants of the view: Stride >= NumCols >= 0, NumRows >= 0 and that
// Data is large enough.
func (m Matrix) Validate() error {
	if m.NumRows < 0 || m.NumCols < 0 {
		return errors.Errorf("invalid matrix %s: negative dimensions", m.ShapeString())
	}
	if m.Stride < m.NumCols {
		return errors.Errorf("invalid matrix %s: stride %d smaller than the number of columns", m.ShapeString(), m.Stride)
	}
	if minLen := m.MinDataLen(); len(m.Data) < minLen {
		return errors.Errorf("invalid matrix %s: data has %d elements, at least %d required",
			m.ShapeString(), len(m.Data), minLen)
	}
	return nil
}

// ShapeString returns "[rows, cols]" or "[rows, cols]/stride" if the view is not contiguous.
func (m Matrix) ShapeString() string {
	if m.Stride == m.NumCols {
		return fmt.Sprintf("[%d, %d]", m.NumRows, m.NumCols)
	}
	return fmt.Sprintf("[%d, %d]/%d", m.NumRows, m.NumCols, m.Stride)
}

// Size returns the number of logical elements, NumRows*NumCols.
func (m Matrix) Size() int {
	return m.NumRows * m.NumCols
}

// IsEmpty returns whether the matrix has no elements.
func (m Matrix) IsEmpty() bool {
	return m.NumRows == 0 || m.NumCols == 0
}

// IsContiguous returns whether the rows are stored back-to-back (Stride == NumCols).
func (m Matrix) IsContiguous() bool {
	return m.Stride == m.NumCols
}

// View returns a sub-matrix sharing the same data.
func (m Matrix) View(rowStart, colStart, rows, cols int) (Matrix, error) {
	if rowStart < 0 || colStart < 0 || rows < 0 || cols < 0 ||
		rowStart+rows > m.NumRows || colStart+cols > m.NumCols {
		return Matrix{}, errors.Errorf("matrix.View(%d, %d, %d, %d) out of bounds for matrix %s",
			rowStart, colStart, rows, cols, m.ShapeString())
	}
	if rows == 0 || cols == 0 {
		// Empty views have no data: a contiguous stride keeps every Row(i) within bounds.
		return Matrix{NumRows: rows, NumCols: cols, Stride: cols}, nil
	}
	offset := rowStart*m.Stride + colStart
	return Matrix{
		NumRows: rows,
		NumCols: cols,
		Stride:  m.Stride,
		Data:    m.Data[offset:],
	}, nil
}

// At returns the element at row i and column j.
func (m Matrix) At(i, j int) float32 {
	return m.Data[i*m.Stride+j]
}

// Set the element at row i and column j.
func (m Matrix) Set(i, j int, value float32) {
	m.Data[i*m.Stride+j] = value
}

// Row returns the slice with the NumCols elements of row i. It shares the underlying data.
func (m Matrix) Row(i int) []float32 {
	if m.NumCols == 0 {
		return nil
	}
	start := i * m.Stride
	return m.Data[start : start+m.NumCols : start+m.NumCols]
}

// Fill sets every element of the logical region to value. Padding between rows is not touched.
func (m Matrix) Fill(value float32) {
	for i := range m.NumRows {
		row := m.Row(i)
		for j := range row {
			row[j] = value
		}
	}
}

// Zero sets every element of the logical region to 0.
func (m Matrix) Zero() {
	for i := range m.NumRows {
		clear(m.Row(i))
	}
}

// Clone returns a contiguous deep copy of the logical region.
func (m Matrix) Clone() Matrix {
	c := Make(m.NumRows, m.NumCols)
	for i := range m.NumRows {
		copy(c.Row(i), m.Row(i))
	}
	return c
}

// Identity returns a new contiguous n x n identity matrix.
func Identity(n int) Matrix {
	m := Make(n, n)
	for i := range n {
		m.Set(i, i, 1)
	}
	return m
}

// SameShape returns whether both matrices have the same number of rows and columns. Strides can differ.
func (m Matrix) SameShape(other Matrix) bool {
	return m.NumRows == other.NumRows && m.NumCols == other.NumCols
}

// MaxAbsDiff returns the largest element-wise absolute difference between m and other.
//
// NaN differences are reported as +Inf.
func (m Matrix) MaxAbsDiff(other Matrix) (float64, error) {
	if !m.SameShape(other) {
		return 0, errors.Errorf("MaxAbsDiff: matrices have different shapes %s and %s", m.ShapeString(), other.ShapeString())
	}
	var maxDiff float64
	for i := range m.NumRows {
		diff, err := xslices.MaxAbsDiff(m.Row(i), other.Row(i))
		if err != nil {
			return 0, errors.WithMessagef(err, "MaxAbsDiff: row %d", i)
		}
		if math.IsInf(diff, 1) {
			return diff, nil
		}
		maxDiff = max(maxDiff, diff)
	}
	return maxDiff, nil
}

// AllClose returns whether every element of m is within epsilon (absolute difference) of the
// corresponding element of other.
func (m Matrix) AllClose(other Matrix, epsilon float64) (bool, error) {
	diff, err := m.MaxAbsDiff(other)
	if err != nil {
		return false, err
	}
	return diff <= epsilon, nil
}

// Format writes the matrix one row per line, each value followed by a comma, with one decimal digit.
func (m Matrix) Format(w io.Writer) error {
	var sb strings.Builder
	for i := range m.NumRows {
		sb.Reset()
		for _, v := range m.Row(i) {
			_, _ = fmt.Fprintf(&sb, "%.1f,", v)
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return errors.Wrap(err, "failed to write matrix")
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (m Matrix) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Matrix%s:\n", m.ShapeString())
	_ = m.Format(&sb)
	return sb.String()
}
