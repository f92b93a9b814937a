// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

// workItem is a block of the output, [lhsRowStart, lhsRowEnd) x [rhsColStart, rhsColEnd), computed
// by one worker for the full contracting dimension.
type workItem struct {
	lhsRowStart, lhsRowEnd int
	rhsColStart, rhsColEnd int
}

// numRows of the block.
func (w workItem) numRows() int { return w.lhsRowEnd - w.lhsRowStart }

// numCols of the block.
func (w workItem) numCols() int { return w.rhsColEnd - w.rhsColStart }

// splitWork splits the [m, n] output into disjoint work items, aiming at about 2 items per worker
// so faster workers can pick up the slack.
//
// Rows are split first, in multiples of Mc (or Mr if there are not enough LHS panels), and then columns
// in multiples of Nr. The contracting dimension is never split, so the summation order of each output
// element does not depend on the number of workers.
func splitWork(m, n int, params *CacheParams, maxWorkers int) []workItem {
	if m <= 0 || n <= 0 {
		return nil
	}
	if maxWorkers <= 1 {
		return []workItem{{0, m, 0, n}}
	}
	targetItems := 2 * maxWorkers

	rowGranule := params.LHSPanelCrossSize
	if ceilDiv(m, rowGranule) < maxWorkers {
		rowGranule = params.LHSL1KernelRows
	}
	rowSplits := min(targetItems, ceilDiv(m, rowGranule))
	colSplits := min(ceilDiv(targetItems, rowSplits), ceilDiv(n, params.RHSL1KernelCols))
	rowSplitSize := roundUp(ceilDiv(m, rowSplits), rowGranule)
	colSplitSize := roundUp(ceilDiv(n, colSplits), params.RHSL1KernelCols)

	items := make([]workItem, 0, rowSplits*colSplits)
	for rowStart := 0; rowStart < m; rowStart += rowSplitSize {
		rowEnd := min(rowStart+rowSplitSize, m)
		for colStart := 0; colStart < n; colStart += colSplitSize {
			colEnd := min(colStart+colSplitSize, n)
			items = append(items, workItem{rowStart, rowEnd, colStart, colEnd})
		}
	}
	return items
}

// feedWorkItems sends the items to a buffered channel, and closes it.
func feedWorkItems(items []workItem) chan workItem {
	work := make(chan workItem, len(items))
	for _, item := range items {
		work <- item
	}
	close(work)
	return work
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// roundUp rounds a up to the next multiple of b.
func roundUp(a, b int) int {
	return ceilDiv(a, b) * b
}
