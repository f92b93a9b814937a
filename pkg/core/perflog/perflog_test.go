// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package perflog

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGFlops(t *testing.T) {
	// 2*1000*1000*1000 ops in 1 second -> 2 GFlops/s
	assert.InDelta(t, 2.0, GFlops(1000, 1000, 1000, time.Second), 1e-9)
	assert.InDelta(t, 4.0, GFlops(1000, 1000, 1000, 500*time.Millisecond), 1e-9)

	// Zero elapsed time is clamped, never Inf or NaN.
	v := GFlops(10, 10, 10, 0)
	assert.False(t, math.IsInf(v, 0))
	assert.False(t, math.IsNaN(v))

	// Empty multiplication is 0 GFlops.
	assert.Equal(t, 0.0, GFlops(0, 10, 10, time.Millisecond))
}

func TestLogAppendOnly(t *testing.T) {
	log := New()
	_, found := log.Last()
	assert.False(t, found)

	log.Append(NewSample("ref", 2, 2, 2, time.Microsecond))
	log.Append(NewSample("fast", 2, 2, 2, time.Nanosecond))
	require.Equal(t, 2, log.Len())

	samples := log.Samples()
	assert.Equal(t, "ref", samples[0].Kernel)
	assert.Equal(t, "fast", samples[1].Kernel)

	// Mutating the returned copy doesn't change the log.
	samples[0].Kernel = "changed"
	assert.Equal(t, "ref", log.Samples()[0].Kernel)

	last, found := log.Last()
	require.True(t, found)
	assert.Equal(t, "fast", last.Kernel)
	assert.Len(t, log.GFlops(), 2)
}

func TestNilLog(t *testing.T) {
	var log *Log
	log.Append(NewSample("ref", 1, 1, 1, time.Second))
	assert.Equal(t, 0, log.Len())
	assert.Nil(t, log.Samples())
	_, found := log.Last()
	assert.False(t, found)
}

func TestConcurrentAppend(t *testing.T) {
	log := New()
	const numGoroutines, perGoroutine = 16, 100
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				log.Append(NewSample("k", 1, 1, 1, time.Millisecond))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, numGoroutines*perGoroutine, log.Len())
}

func TestSummary(t *testing.T) {
	log := New()
	log.Append(Sample{Kernel: "ref", GFlops: 1, Elapsed: time.Second})
	log.Append(Sample{Kernel: "fast", GFlops: 10, Elapsed: time.Millisecond})
	log.Append(Sample{Kernel: "fast", GFlops: 20, Elapsed: time.Millisecond})
	stats := log.Summary()
	require.Len(t, stats, 2)
	assert.Equal(t, Stats{Kernel: "ref", Count: 1, Min: 1, Max: 1, Mean: 1, TotalElapsed: time.Second}, stats[0])
	assert.Equal(t, Stats{Kernel: "fast", Count: 2, Min: 10, Max: 20, Mean: 15, TotalElapsed: 2 * time.Millisecond}, stats[1])
}
