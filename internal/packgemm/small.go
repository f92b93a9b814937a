// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/gemm/internal/workerspool"
	"github.com/gomlx/gemm/pkg/core/matrix"
)

const (
	// SmallGEMMName is the name used for the unpacked small-matrix path.
	SmallGEMMName = "small-3x4"

	// DefaultSmallMatMulFlopsThreshold is the default M*N*K below which the small-matrix path is
	// used instead of the packed one: packing overhead dominates for small matrices.
	DefaultSmallMatMulFlopsThreshold = 64 * 64 * 64

	// smallMinFlopsPerWorker is the minimum number of multiply-adds (M*N*K) given to each worker
	// by SmallGEMM.
	smallMinFlopsPerWorker = 16 * 1024

	// smallRowGranule is the number of rows in the small kernel tile. Row splits must be a
	// multiple of it, so each row is always computed by the same path.
	smallRowGranule = 3
)

// SmallGEMM computes output = lhs x rhs without packing, in tiles of [3, 4] read directly from the
// (possibly strided) inputs. Shape requirements are the same as GEMM.
//
// If pool is not nil and the problem is large enough, rows are split among the workers.
func SmallGEMM(lhs, rhs, output matrix.Matrix, pool *workerspool.Pool) {
	m, k, n := lhs.NumRows, lhs.NumCols, rhs.NumCols
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		output.Zero()
		return
	}

	maxWorkers := 1
	if pool != nil {
		maxWorkers = pool.AdjustedMaxParallelism()
	}
	flops := m * n * k
	numChunks := min(maxWorkers, flops/smallMinFlopsPerWorker, ceilDiv(m, smallRowGranule))
	if numChunks <= 1 {
		smallGEMMRows(lhs, rhs, output, 0, m)
		return
	}

	rowsPerChunk := roundUp(ceilDiv(m, numChunks), smallRowGranule)
	items := make([]workItem, 0, numChunks)
	for rowStart := 0; rowStart < m; rowStart += rowsPerChunk {
		items = append(items, workItem{rowStart, min(rowStart+rowsPerChunk, m), 0, n})
	}
	work := feedWorkItems(items)
	pool.Saturate(func() {
		for item := range work {
			smallGEMMRows(lhs, rhs, output, item.lhsRowStart, item.lhsRowEnd)
		}
	})
}

// smallGEMMRows computes the output rows [rowStart, rowEnd).
func smallGEMMRows(lhs, rhs, output matrix.Matrix, rowStart, rowEnd int) {
	contractingSize := lhs.NumCols
	rhsCrossSize := rhs.NumCols
	lhsData, rhsData, outData := lhs.Data, rhs.Data, output.Data
	lhsStride, rhsStride, outStride := lhs.Stride, rhs.Stride, output.Stride

	row := rowStart
	// Main loop: 3 rows at a time.
	for ; row+2 < rowEnd; row += 3 {
		lRow0Base := row * lhsStride
		lRow1Base := lRow0Base + lhsStride
		lRow2Base := lRow1Base + lhsStride
		outRow0Base := row * outStride

		col := 0
		// Main tile: 4 columns at a time.
		for ; col+3 < rhsCrossSize; col += 4 {
			var c00, c01, c02, c03 float32
			var c10, c11, c12, c13 float32
			var c20, c21, c22, c23 float32

			rIdx := col
			for k := range contractingSize {
				r := rhsData[rIdx : rIdx+4 : rIdx+4]
				r0, r1, r2, r3 := r[0], r[1], r[2], r[3]

				l0 := lhsData[lRow0Base+k]
				c00 += l0 * r0
				c01 += l0 * r1
				c02 += l0 * r2
				c03 += l0 * r3
				l1 := lhsData[lRow1Base+k]
				c10 += l1 * r0
				c11 += l1 * r1
				c12 += l1 * r2
				c13 += l1 * r3
				l2 := lhsData[lRow2Base+k]
				c20 += l2 * r0
				c21 += l2 * r1
				c22 += l2 * r2
				c23 += l2 * r3

				rIdx += rhsStride
			}

			writeCol4(outData, outRow0Base+col, c00, c01, c02, c03)
			writeCol4(outData, outRow0Base+outStride+col, c10, c11, c12, c13)
			writeCol4(outData, outRow0Base+2*outStride+col, c20, c21, c22, c23)
		}

		// Columns fringe, for the current 3 rows.
		for ; col < rhsCrossSize; col++ {
			var c0, c1, c2 float32
			rIdx := col
			for k := range contractingSize {
				rk := rhsData[rIdx]
				c0 += lhsData[lRow0Base+k] * rk
				c1 += lhsData[lRow1Base+k] * rk
				c2 += lhsData[lRow2Base+k] * rk
				rIdx += rhsStride
			}
			outIdx := outRow0Base + col
			outData[outIdx] = c0
			outData[outIdx+outStride] = c1
			outData[outIdx+2*outStride] = c2
		}
	}

	// Rows fringe: fewer than 3 rows left.
	for ; row < rowEnd; row++ {
		lhsRow := lhsData[row*lhsStride : row*lhsStride+contractingSize]
		outRow := outData[row*outStride : row*outStride+rhsCrossSize]
		for col := range outRow {
			var acc float32
			rIdx := col
			for _, l := range lhsRow {
				acc += l * rhsData[rIdx]
				rIdx += rhsStride
			}
			outRow[col] = acc
		}
	}
}

func writeCol4(output []float32, offset int, c0, c1, c2, c3 float32) {
	out := output[offset : offset+4 : offset+4]
	out[0], out[1], out[2], out[3] = c0, c1, c2, c3
}
