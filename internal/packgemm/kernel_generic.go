// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

// GenericKernelName is the name of the portable micro-kernel, always registered.
const GenericKernelName = "generic-4x4"

var (
	// GenericParams are generic assumptions for L1/L2/L3 cache sizes.
	//
	// These values are somewhat arbitrary, assuming "standard" modern cache sizes.
	GenericParams = CacheParams{
		LHSL1KernelRows:      4,    // Mr: Rows of LHS in registers.
		RHSL1KernelCols:      4,    // Nr: Cols of RHS in registers.
		PanelContractingSize: 256,  // Kc: 4 * 256 * 4 bytes = 4KB packed LHS strip.
		LHSPanelCrossSize:    128,  // Mc: 128 * 256 * 4 bytes = 128KB packed LHS panel.
		RHSPanelCrossSize:    2048, // Nc: 256 * 2048 * 4 bytes = 2MB packed RHS panel.
	}
)

func init() {
	RegisterKernel(GenericKernelName, genericMicroKernel4x4, GenericParams, PriorityBase)
}

// genericMicroKernel4x4 computes a [4, 4] tile with 16 scalar accumulators.
func genericMicroKernel4x4(contractingLen int, packedLHS, packedRHS, accum []float32) {
	lhs := packedLHS[:contractingLen*4]
	rhs := packedRHS[:contractingLen*4]
	accum = accum[:16]

	var c00, c01, c02, c03 float32
	var c10, c11, c12, c13 float32
	var c20, c21, c22, c23 float32
	var c30, c31, c32, c33 float32
	for idx := 0; idx+3 < len(lhs); idx += 4 {
		a := lhs[idx : idx+4 : idx+4]
		b := rhs[idx : idx+4 : idx+4]
		b0, b1, b2, b3 := b[0], b[1], b[2], b[3]

		a0 := a[0]
		c00 += a0 * b0
		c01 += a0 * b1
		c02 += a0 * b2
		c03 += a0 * b3
		a1 := a[1]
		c10 += a1 * b0
		c11 += a1 * b1
		c12 += a1 * b2
		c13 += a1 * b3
		a2 := a[2]
		c20 += a2 * b0
		c21 += a2 * b1
		c22 += a2 * b2
		c23 += a2 * b3
		a3 := a[3]
		c30 += a3 * b0
		c31 += a3 * b1
		c32 += a3 * b2
		c33 += a3 * b3
	}
	accum[0], accum[1], accum[2], accum[3] = c00, c01, c02, c03
	accum[4], accum[5], accum[6], accum[7] = c10, c11, c12, c13
	accum[8], accum[9], accum[10], accum[11] = c20, c21, c22, c23
	accum[12], accum[13], accum[14], accum[15] = c30, c31, c32, c33
}
