// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package packgemm implements a cache-blocked, packed float32 GEMM (C = A x B) following the
// GotoBLAS/BLIS 5-loop algorithm:
//
//	for pc := range K step Kc          // contracting panels, in increasing order
//	  for jc := range N step Nc        // RHS panels, packed to fit L3
//	    for ic := range M step Mc      // LHS panels, packed to fit L2
//	      for jr := range Nc step Nr   // micro-kernel columns
//	        for ir := range Mc step Mr // micro-kernel rows: Mr x Nr tile in registers
//
// The micro-kernels are registered with RegisterKernel, and the best one available for the running
// CPU is returned by DefaultKernel.
package packgemm

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// BufAllocFn is a function that allocates a scratch buffer of the given size.
// The returned ref is passed back to BufReleaseFn.
type BufAllocFn func(size int) (ref any, data []float32)

// BufReleaseFn is a function that releases a buffer allocated with BufAllocFn.
type BufReleaseFn func(ref any)

// CacheParams holds the blocking parameters for a micro-kernel.
type CacheParams struct {
	LHSL1KernelRows int // Mr: number of lhs kernel rows going to registers.
	RHSL1KernelCols int // Nr: Register Block Width

	PanelContractingSize int // Kc: L1 Block Depth
	LHSPanelCrossSize    int // Mc: L2 Block Height, multiple of LHSL1KernelRows.
	RHSPanelCrossSize    int // Nc: L3 Block Width, multiple of RHSL1KernelCols.
}

// Validate checks that the parameters are positive and that the panel sizes are multiples of the
// micro-kernel tile sizes.
func (p CacheParams) Validate() error {
	if p.LHSL1KernelRows <= 0 || p.RHSL1KernelCols <= 0 || p.PanelContractingSize <= 0 ||
		p.LHSPanelCrossSize <= 0 || p.RHSPanelCrossSize <= 0 {
		return errors.Errorf("invalid cache params %+v: all values must be > 0", p)
	}
	if p.LHSPanelCrossSize%p.LHSL1KernelRows != 0 {
		return errors.Errorf("invalid cache params: LHSPanelCrossSize (Mc=%d) must be a multiple of LHSL1KernelRows (Mr=%d)",
			p.LHSPanelCrossSize, p.LHSL1KernelRows)
	}
	if p.RHSPanelCrossSize%p.RHSL1KernelCols != 0 {
		return errors.Errorf("invalid cache params: RHSPanelCrossSize (Nc=%d) must be a multiple of RHSL1KernelCols (Nr=%d)",
			p.RHSPanelCrossSize, p.RHSL1KernelCols)
	}
	return nil
}

// PackedLHSSize is the number of elements of the packed LHS panel buffer.
func (p CacheParams) PackedLHSSize() int {
	return p.LHSPanelCrossSize * p.PanelContractingSize
}

// PackedRHSSize is the number of elements of the packed RHS panel buffer.
func (p CacheParams) PackedRHSSize() int {
	return p.PanelContractingSize * p.RHSPanelCrossSize
}

// MicroKernelFn computes one [Mr, Nr] tile:
//
//	accum[r*Nr + c] = Σ_k packedLHS[k*Mr + r] * packedRHS[k*Nr + c], for k in [0, contractingLen)
//
// accum is overwritten. packedLHS holds at least contractingLen*Mr values, packedRHS at least
// contractingLen*Nr, and accum at least Mr*Nr.
type MicroKernelFn func(contractingLen int, packedLHS, packedRHS, accum []float32)

// Priority of a registered kernel: the highest priority kernel is the default.
type Priority int

const (
	PriorityBase Priority = 0
	PrioritySIMD Priority = 10
)

// Kernel is a registered micro-kernel along with its default blocking parameters.
type Kernel struct {
	Name     string
	Fn       MicroKernelFn
	Params   CacheParams
	Priority Priority
}

var (
	muKernels         sync.Mutex
	registeredKernels []*Kernel
)

// RegisterKernel registers a micro-kernel. It panics if the params are invalid or the name is already taken.
//
// It should be called during initialization, and only for kernels supported by the running CPU.
func RegisterKernel(name string, fn MicroKernelFn, params CacheParams, priority Priority) {
	if err := params.Validate(); err != nil {
		panic(errors.WithMessagef(err, "RegisterKernel(%q)", name))
	}
	muKernels.Lock()
	defer muKernels.Unlock()
	for _, k := range registeredKernels {
		if k.Name == name {
			panic(errors.Errorf("RegisterKernel(%q): kernel already registered", name))
		}
	}
	registeredKernels = append(registeredKernels, &Kernel{Name: name, Fn: fn, Params: params, Priority: priority})
	// Stable sort keeps registration order among equal priorities.
	slices.SortStableFunc(registeredKernels, func(a, b *Kernel) int {
		return int(b.Priority) - int(a.Priority)
	})
}

// Kernels returns the registered kernels, sorted from highest to lowest priority.
func Kernels() []*Kernel {
	muKernels.Lock()
	defer muKernels.Unlock()
	return slices.Clone(registeredKernels)
}

// KernelByName returns the registered kernel with the given name.
func KernelByName(name string) (*Kernel, bool) {
	muKernels.Lock()
	defer muKernels.Unlock()
	for _, k := range registeredKernels {
		if k.Name == name {
			return k, true
		}
	}
	return nil, false
}

// DefaultKernel returns the highest priority registered kernel.
func DefaultKernel() *Kernel {
	muKernels.Lock()
	defer muKernels.Unlock()
	return registeredKernels[0]
}
