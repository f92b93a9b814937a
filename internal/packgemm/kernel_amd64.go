// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build amd64 && !noasm

package packgemm

import "golang.org/x/sys/cpu"

// AVX2KernelName is the name of the AVX2+FMA micro-kernel, registered if the CPU supports it.
const AVX2KernelName = "avx2-fma-6x16"

var (
	// AVX2Params are the blocking parameters for the [6, 16] AVX2 micro-kernel: it holds 12 YMM
	// accumulators, and uses the remaining 4 registers to load RHS rows and broadcast LHS values.
	AVX2Params = CacheParams{
		LHSL1KernelRows:      6,    // Mr: 6 rows x 2 YMM registers.
		RHSL1KernelCols:      16,   // Nr: 2 YMM registers x 8 lanes.
		PanelContractingSize: 256,  // Kc: 16 * 256 * 4 bytes = 16KB packed RHS strip in L1.
		LHSPanelCrossSize:    168,  // Mc: 168 * 256 * 4 bytes = 168KB packed LHS panel in L2.
		RHSPanelCrossSize:    4080, // Nc: 256 * 4080 * 4 bytes ~= 4MB packed RHS panel in L3.
	}
)

func init() {
	if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		RegisterKernel(AVX2KernelName, avx2MicroKernel6x16, AVX2Params, PrioritySIMD)
	}
}

// avx2MicroKernel6x16 implements MicroKernelFn for a [6, 16] tile.
func avx2MicroKernel6x16(contractingLen int, packedLHS, packedRHS, accum []float32) {
	if contractingLen <= 0 {
		clear(accum[:6*16])
		return
	}
	// The assembly doesn't check bounds.
	_ = packedLHS[contractingLen*6-1]
	_ = packedRHS[contractingLen*16-1]
	_ = accum[6*16-1]
	microKernel6x16AVX2(contractingLen, &packedLHS[0], &packedRHS[0], &accum[0])
}

// microKernel6x16AVX2 is implemented in kernel_amd64.s. It requires contractingLen >= 1.
//
//go:noescape
func microKernel6x16AVX2(contractingLen int, lhs, rhs, accum *float32)
