// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a soft-limited pool of goroutines used to parallelize the GEMM
// kernels over disjoint blocks of the output.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits how many goroutines run GEMM work concurrently.
//
// Parallelism semantics: 0 disables parallelism (everything runs inline), -1 means unlimited
// (bounded by runtime.GOMAXPROCS in Saturate), and any positive value is the target number of
// concurrent workers.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.GOMAXPROCS(0)).
func New() *Pool {
	return NewWithMax(runtime.GOMAXPROCS(0))
}

// NewWithMax returns a new Pool with the given maxParallelism. See Pool for the semantics.
func NewWithMax(maxParallelism int) *Pool {
	return &Pool{maxParallelism: maxParallelism}
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the configured soft-target for parallelism.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// AdjustedMaxParallelism returns the number of workers Saturate will use, always >= 1:
// 1 if parallelism is disabled, GOMAXPROCS if unlimited, maxParallelism otherwise.
func (w *Pool) AdjustedMaxParallelism() int {
	switch {
	case w.maxParallelism < 0:
		return runtime.GOMAXPROCS(0)
	case w.maxParallelism == 0:
		return 1
	default:
		return w.maxParallelism
	}
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.mu.Unlock()
		}()
		task()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found workers to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// Saturate runs task on up to AdjustedMaxParallelism() workers concurrently, and returns when all of
// them finished. The calling goroutine is one of the workers, so progress is guaranteed even if
// the pool is fully busy.
//
// The task is expected to consume from a shared source of work, typically a channel:
//
//	work := make(chan workItem, numItems)
//	// ... fill work ...
//	close(work)
//	pool.Saturate(func() {
//		for item := range work {
//			process(item)
//		}
//	})
func (w *Pool) Saturate(task func()) {
	numWorkers := w.AdjustedMaxParallelism()
	var wg sync.WaitGroup
	for range numWorkers - 1 {
		wg.Add(1)
		started := w.StartIfAvailable(func() {
			defer wg.Done()
			task()
		})
		if !started {
			wg.Done()
			break
		}
	}
	task()
	wg.Wait()
}
