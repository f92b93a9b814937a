// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"github.com/gomlx/gemm/internal/workerspool"
	"github.com/gomlx/gemm/pkg/core/matrix"
	"k8s.io/klog/v2"
)

// GEMM computes output = lhs x rhs with the packed 5-loop algorithm, using kernel as the micro-kernel.
//
// Shapes are assumed to be validated by the caller: lhs is [M, K], rhs is [K, N] and output is [M, N],
// with output not overlapping the inputs. Only the [M, N] logical region of output is written.
//
//   - params: blocking parameters; if nil, kernel.Params is used. Mr and Nr must match the kernel's.
//   - bufAllocFn, bufReleaseFn: allocate the scratch buffers. If nil, buffers are allocated for the call.
//   - pool: parallelizes over disjoint output blocks. If nil, it runs sequentially.
//
// The summation order of each output element only depends on the kernel and on Kc, so for a fixed
// kernel and params the result is bit-identical for any parallelism.
func GEMM(kernel *Kernel, params *CacheParams, lhs, rhs, output matrix.Matrix,
	bufAllocFn BufAllocFn, bufReleaseFn BufReleaseFn, pool *workerspool.Pool) {
	m, k, n := lhs.NumRows, lhs.NumCols, rhs.NumCols
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		output.Zero()
		return
	}
	if params == nil {
		params = &kernel.Params
	}
	if bufAllocFn == nil || bufReleaseFn == nil {
		bufAllocFn, bufReleaseFn = plainAlloc, plainRelease
	}

	maxWorkers := 1
	if pool != nil {
		maxWorkers = pool.AdjustedMaxParallelism()
	}
	items := splitWork(m, n, params, maxWorkers)
	if klog.V(2).Enabled() {
		klog.Infof("packgemm.GEMM(%s): [%d, %d] x [%d, %d] split in %d work items for %d workers",
			kernel.Name, m, k, k, n, len(items), maxWorkers)
	}

	if len(items) == 1 || maxWorkers <= 1 {
		s := newScratch(params, bufAllocFn)
		defer s.release(bufReleaseFn)
		for _, item := range items {
			gemmChunk(kernel.Fn, params, lhs, rhs, output, item, s)
		}
		return
	}

	work := feedWorkItems(items)
	pool.Saturate(func() {
		var s *scratch
		for item := range work {
			if s == nil {
				// Allocated lazily: a worker may find the channel already drained.
				s = newScratch(params, bufAllocFn)
			}
			gemmChunk(kernel.Fn, params, lhs, rhs, output, item, s)
		}
		if s != nil {
			s.release(bufReleaseFn)
		}
	})
}

// scratch holds the per-worker buffers.
type scratch struct {
	packedLHS, packedRHS, accum          []float32
	packedLHSRef, packedRHSRef, accumRef any
}

func newScratch(params *CacheParams, bufAllocFn BufAllocFn) *scratch {
	s := &scratch{}
	s.packedLHSRef, s.packedLHS = bufAllocFn(params.PackedLHSSize())
	s.packedRHSRef, s.packedRHS = bufAllocFn(params.PackedRHSSize())
	s.accumRef, s.accum = bufAllocFn(params.LHSL1KernelRows * params.RHSL1KernelCols)
	return s
}

func (s *scratch) release(bufReleaseFn BufReleaseFn) {
	bufReleaseFn(s.packedLHSRef)
	bufReleaseFn(s.packedRHSRef)
	bufReleaseFn(s.accumRef)
}

// gemmChunk computes the output block of one work item.
func gemmChunk(microKernel MicroKernelFn, params *CacheParams, lhs, rhs, output matrix.Matrix,
	item workItem, s *scratch) {
	contractingSize := lhs.NumCols
	kernelRows, kernelCols := params.LHSL1KernelRows, params.RHSL1KernelCols

	// Loop 5 (pc): contracting panels. The first panel overwrites the output, the others accumulate.
	for contractingPanelIdx := 0; contractingPanelIdx < contractingSize; contractingPanelIdx += params.PanelContractingSize {
		contractingPanelWidth := min(params.PanelContractingSize, contractingSize-contractingPanelIdx)
		overwrite := contractingPanelIdx == 0

		// Loop 4 (jc): RHS panels.
		for rhsPanelColIdx := item.rhsColStart; rhsPanelColIdx < item.rhsColEnd; rhsPanelColIdx += params.RHSPanelCrossSize {
			rhsPanelWidth := min(params.RHSPanelCrossSize, item.rhsColEnd-rhsPanelColIdx)
			packRHS(rhs.Data, s.packedRHS, contractingPanelIdx, rhsPanelColIdx, rhs.Stride,
				contractingPanelWidth, rhsPanelWidth, kernelCols)

			// Loop 3 (ic): LHS panels.
			for lhsPanelRowIdx := item.lhsRowStart; lhsPanelRowIdx < item.lhsRowEnd; lhsPanelRowIdx += params.LHSPanelCrossSize {
				lhsPanelHeight := min(params.LHSPanelCrossSize, item.lhsRowEnd-lhsPanelRowIdx)
				packLHS(lhs.Data, s.packedLHS, lhsPanelRowIdx, contractingPanelIdx, lhs.Stride,
					lhsPanelHeight, contractingPanelWidth, kernelRows)

				// Loop 2 (jr): micro-kernel columns.
				for microColIdx := 0; microColIdx < rhsPanelWidth; microColIdx += kernelCols {
					activeCols := min(kernelCols, rhsPanelWidth-microColIdx)
					packedRHSStrip := s.packedRHS[(microColIdx/kernelCols)*contractingPanelWidth*kernelCols:]

					// Loop 1 (ir): micro-kernel rows.
					for microRowIdx := 0; microRowIdx < lhsPanelHeight; microRowIdx += kernelRows {
						activeRows := min(kernelRows, lhsPanelHeight-microRowIdx)
						packedLHSStrip := s.packedLHS[(microRowIdx/kernelRows)*contractingPanelWidth*kernelRows:]

						microKernel(contractingPanelWidth, packedLHSStrip, packedRHSStrip, s.accum)
						writeTile(output, s.accum, lhsPanelRowIdx+microRowIdx, rhsPanelColIdx+microColIdx,
							activeRows, activeCols, kernelCols, overwrite)
					}
				}
			}
		}
	}
}

// writeTile writes the valid [numRows, numCols] region of the accumulator tile (with rows accumStride
// apart) to output. It overwrites the output if overwrite is set, and adds to it otherwise.
func writeTile(output matrix.Matrix, accum []float32, rowStart, colStart, numRows, numCols, accumStride int, overwrite bool) {
	for r := range numRows {
		outIdx := (rowStart+r)*output.Stride + colStart
		outRow := output.Data[outIdx : outIdx+numCols]
		accRow := accum[r*accumStride : r*accumStride+numCols]
		if overwrite {
			copy(outRow, accRow)
			continue
		}
		for c, v := range accRow {
			outRow[c] += v
		}
	}
}
