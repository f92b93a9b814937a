// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package perflog implements an append-only log of throughput samples, one per kernel invocation.
//
// A Log is explicitly passed to the kernels (there is no global log), and it is safe for concurrent use.
package perflog

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// Sample is one throughput measurement of a kernel invocation.
type Sample struct {
	// Kernel is the name of the kernel that produced the sample (e.g.: "ref", "avx2-fma-6x16").
	Kernel string

	// M, N, K are the dimensions of the multiplication: [M, K] x [K, N] -> [M, N].
	M, N, K int

	// Elapsed wall time of the whole invocation.
	Elapsed time.Duration

	// GFlops is the achieved throughput, in 10^9 floating point operations per second.
	GFlops float64
}

// String implements fmt.Stringer.
func (s Sample) String() string {
	return fmt.Sprintf("%s [%d, %d] x [%d, %d]: %.2f GFlops/s (%s)", s.Kernel, s.M, s.K, s.K, s.N, s.GFlops, s.Elapsed)
}

// NumOps returns the number of floating point operations of a [m, k] x [k, n] matrix multiplication: 2*m*n*k.
func NumOps(m, n, k int) float64 {
	return 2 * float64(m) * float64(n) * float64(k)
}

// GFlops converts the elapsed time of a [m, k] x [k, n] multiplication to GFlops/s.
//
// The elapsed time is clamped to at least 1ns, so the result is always finite.
func GFlops(m, n, k int, elapsed time.Duration) float64 {
	elapsed = max(elapsed, time.Nanosecond)
	return NumOps(m, n, k) / elapsed.Seconds() / 1e9
}

// NewSample creates a sample for the given kernel, dimensions and elapsed time.
func NewSample(kernel string, m, n, k int, elapsed time.Duration) Sample {
	return Sample{
		Kernel:  kernel,
		M:       m,
		N:       n,
		K:       k,
		Elapsed: elapsed,
		GFlops:  GFlops(m, n, k, elapsed),
	}
}

// Log is an ordered, append-only sequence of samples.
//
// The zero value is ready to use. A nil *Log is valid and discards appended samples.
type Log struct {
	mu      sync.Mutex
	samples []Sample
}

// New returns a new empty Log.
func New() *Log {
	return &Log{}
}

// Append a sample to the end of the log.
func (l *Log) Append(s Sample) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.samples = append(l.samples, s)
	l.mu.Unlock()
}

// Len returns the number of samples appended so far.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// Samples returns a copy of all the samples, in the order they were appended.
func (l *Log) Samples() []Sample {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.samples)
}

// GFlops returns the throughput values of all samples, in order.
func (l *Log) GFlops() []float64 {
	samples := l.Samples()
	values := make([]float64, len(samples))
	for ii, s := range samples {
		values[ii] = s.GFlops
	}
	return values
}

// Last returns the last sample appended, and false if the log is empty.
func (l *Log) Last() (Sample, bool) {
	if l == nil {
		return Sample{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return Sample{}, false
	}
	return l.samples[len(l.samples)-1], true
}

// Stats summarizes the throughput of the samples of one kernel.
type Stats struct {
	Kernel         string
	Count          int
	Min, Max, Mean float64
	TotalElapsed   time.Duration
}

// Summary returns the per-kernel statistics, in the order each kernel first appeared in the log.
func (l *Log) Summary() []Stats {
	var stats []Stats
	index := make(map[string]int)
	for _, s := range l.Samples() {
		idx, found := index[s.Kernel]
		if !found {
			idx = len(stats)
			index[s.Kernel] = idx
			stats = append(stats, Stats{Kernel: s.Kernel, Min: math.Inf(1), Max: math.Inf(-1)})
		}
		st := &stats[idx]
		st.Count++
		st.Min = min(st.Min, s.GFlops)
		st.Max = max(st.Max, s.GFlops)
		st.Mean += s.GFlops
		st.TotalElapsed += s.Elapsed
	}
	for ii := range stats {
		stats[ii].Mean /= float64(stats[ii].Count)
	}
	return stats
}
