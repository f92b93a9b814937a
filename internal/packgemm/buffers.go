// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import "sync"

// BufferPool recycles scratch buffers (packed panels and accumulators) across GEMM calls.
// It is safe for concurrent use, and its Alloc and Release methods can be passed as
// BufAllocFn and BufReleaseFn.
type BufferPool struct {
	mu    sync.Mutex
	sizes map[int]*sync.Pool
}

// NewBufferPool creates an empty BufferPool.
func NewBufferPool() *BufferPool {
	return &BufferPool{sizes: make(map[int]*sync.Pool)}
}

func (p *BufferPool) poolFor(size int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, found := p.sizes[size]
	if !found {
		pool = &sync.Pool{New: func() any {
			buf := make([]float32, size)
			return &buf
		}}
		p.sizes[size] = pool
	}
	return pool
}

// Alloc returns a buffer with exactly size elements. Its contents are undefined.
func (p *BufferPool) Alloc(size int) (ref any, data []float32) {
	bufPtr := p.poolFor(size).Get().(*[]float32)
	return bufPtr, *bufPtr
}

// Release returns a buffer allocated with Alloc to the pool.
func (p *BufferPool) Release(ref any) {
	bufPtr := ref.(*[]float32)
	p.poolFor(len(*bufPtr)).Put(bufPtr)
}

// plainAlloc allocates a new buffer on every call, and plainRelease drops it.
// They are used when the caller provides no allocation functions.
func plainAlloc(size int) (ref any, data []float32) {
	data = make([]float32, size)
	return nil, data
}

func plainRelease(any) {}
