// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

// packRHS packs a [contractingRows, numCols] block of the RHS into dst, reshaped+transposed to
// [ceil(numCols/kernelCols), contractingRows, kernelCols], padding the cols of the last strip with zeros
// if necessary.
//
//   - src: row-major RHS data, with rows srcRowStride elements apart.
//   - dst: a slice with enough size to hold the panel: ceil(numCols/kernelCols)*kernelCols*contractingRows.
//   - srcRowStart, srcColStart: top-left corner of the block in src.
//   - contractingRows: number of rows of the block (Kc or less).
//   - numCols: number of columns of the block (Nc or less), padded to a kernelCols multiple with zeros.
//   - kernelCols: number of columns in each "L1 kernel" (Nr)
func packRHS(src, dst []float32, srcRowStart, srcColStart, srcRowStride, contractingRows, numCols, kernelCols int) {
	dstIdx := 0
	fullStripsCols := (numCols / kernelCols) * kernelCols
	blockStartIdx := srcRowStart*srcRowStride + srcColStart

	// Full strips: one contiguous copy of kernelCols per row.
	for stripColIdx := 0; stripColIdx < fullStripsCols; stripColIdx += kernelCols {
		srcIdx := blockStartIdx + stripColIdx
		for range contractingRows {
			copy(dst[dstIdx:dstIdx+kernelCols], src[srcIdx:srcIdx+kernelCols])
			dstIdx += kernelCols
			srcIdx += srcRowStride
		}
	}

	// Last strip, with incomplete number of columns.
	validCols := numCols - fullStripsCols
	if validCols == 0 {
		return
	}
	srcIdx := blockStartIdx + fullStripsCols
	for range contractingRows {
		copy(dst[dstIdx:dstIdx+validCols], src[srcIdx:srcIdx+validCols])
		clear(dst[dstIdx+validCols : dstIdx+kernelCols])
		dstIdx += kernelCols
		srcIdx += srcRowStride
	}
}

// packLHS packs a [numRows, contractingCols] block of the LHS into dst, reshaped+transposed to
// [ceil(numRows/kernelRows), contractingCols, kernelRows], so the micro-kernel traverses it K-first.
// Rows of the last strip beyond numRows are zero-padded.
//
//   - src: row-major LHS data, with rows srcRowStride elements apart.
//   - dst: a slice with enough size to hold the panel: ceil(numRows/kernelRows)*kernelRows*contractingCols.
//   - srcRowStart, srcColStart: top-left corner of the block in src.
//   - numRows: number of rows of the block (Mc or less).
//   - contractingCols: number of columns of the block (Kc or less).
//   - kernelRows: number of rows in each "L1 kernel" (Mr).
func packLHS(src, dst []float32, srcRowStart, srcColStart, srcRowStride, numRows, contractingCols, kernelRows int) {
	stripSize := contractingCols * kernelRows
	for stripRowIdx := 0; stripRowIdx < numRows; stripRowIdx += kernelRows {
		strip := dst[(stripRowIdx/kernelRows)*stripSize : (stripRowIdx/kernelRows+1)*stripSize]
		validRows := min(kernelRows, numRows-stripRowIdx)

		// Read each source row contiguously, and scatter it with stride kernelRows in the strip.
		for r := range validRows {
			srcIdx := (srcRowStart+stripRowIdx+r)*srcRowStride + srcColStart
			srcRow := src[srcIdx : srcIdx+contractingCols]
			dstIdx := r
			for _, v := range srcRow {
				strip[dstIdx] = v
				dstIdx += kernelRows
			}
		}

		// Zero-pad missing rows (edge of the matrix).
		for r := validRows; r < kernelRows; r++ {
			for dstIdx := r; dstIdx < stripSize; dstIdx += kernelRows {
				strip[dstIdx] = 0
			}
		}
	}
}
