// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm computes dense single-precision matrix products C = A x B.
//
// Two kernels share the same contract:
//
//   - Ref: a plain triple loop, deterministic, used as the correctness oracle.
//   - Gemm: a cache-blocked, packed and multi-threaded kernel, with SIMD micro-kernels where the
//     CPU supports them. It only matches Ref within a tolerance, since the summation order differs.
//
// Both take row-major matrices with arbitrary strides (see matrix.Matrix), write only the logical
// region of C, and append one throughput sample per call to an optional perflog.Log.
//
// Shape mismatches are caller bugs: the kernels panic (with a stack trace, see
// github.com/gomlx/exceptions) before touching C. Use CheckShapes to validate inputs first, or
// TryGemm to get an error instead.
package gemm

import (
	"os"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gemm/internal/packgemm"
	"github.com/gomlx/gemm/internal/workerspool"
	"github.com/gomlx/gemm/pkg/core/matrix"
	"github.com/gomlx/gemm/pkg/core/perflog"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RefKernelName is the kernel name of the samples appended by Ref.
const RefKernelName = "ref"

// Kernels returns the names of the micro-kernels available on this CPU, from highest to lowest priority.
func Kernels() []string {
	var names []string
	for _, k := range packgemm.Kernels() {
		names = append(names, k.Name)
	}
	return names
}

// CheckShapes validates that a is [M, K], b is [K, N] and c is [M, N], that every descriptor is
// consistent with its buffer, and that c doesn't share memory with a or b.
//
// Overlap is checked on the address ranges spanned by the views, so interleaved (but disjoint) strided
// views of the same buffer are also rejected.
func CheckShapes(a, b, c matrix.Matrix) error {
	for _, operand := range []struct {
		name string
		m    matrix.Matrix
	}{{"A", a}, {"B", b}, {"C", c}} {
		if err := operand.m.Validate(); err != nil {
			return errors.WithMessagef(err, "invalid matrix %s", operand.name)
		}
	}
	if a.NumCols != b.NumRows || c.NumRows != a.NumRows || c.NumCols != b.NumCols {
		return errors.Errorf("incompatible shapes for C = A x B: A%s, B%s, C%s",
			a.ShapeString(), b.ShapeString(), c.ShapeString())
	}
	if overlaps(c, a) {
		return errors.Errorf("matrix C%s overlaps with A%s", c.ShapeString(), a.ShapeString())
	}
	if overlaps(c, b) {
		return errors.Errorf("matrix C%s overlaps with B%s", c.ShapeString(), b.ShapeString())
	}
	return nil
}

// overlaps returns whether the memory spanned by the logical regions of x and y intersect.
func overlaps(x, y matrix.Matrix) bool {
	xLen, yLen := x.MinDataLen(), y.MinDataLen()
	if xLen == 0 || yLen == 0 {
		return false
	}
	elemSize := unsafe.Sizeof(float32(0))
	xStart := uintptr(unsafe.Pointer(unsafe.SliceData(x.Data)))
	yStart := uintptr(unsafe.Pointer(unsafe.SliceData(y.Data)))
	xEnd := xStart + uintptr(xLen)*elemSize
	yEnd := yStart + uintptr(yLen)*elemSize
	return xStart < yEnd && yStart < xEnd
}

// mustCheckShapes panics with a stack trace if the shapes are invalid.
func mustCheckShapes(fnName string, a, b, c matrix.Matrix) {
	if err := CheckShapes(a, b, c); err != nil {
		exceptions.Panicf("%s: %v", fnName, err)
	}
}

// Ref computes c = a x b with a plain i, j, k triple loop, accumulating in float64, and appends a sample
// named "ref" to log (if not nil).
//
// It's single-threaded and deterministic: it is the oracle against which Gemm is checked.
func Ref(a, b, c matrix.Matrix, log *perflog.Log) {
	mustCheckShapes("gemm.Ref", a, b, c)
	m, k, n := a.NumRows, a.NumCols, b.NumCols
	start := time.Now()
	for i := range m {
		aRow := a.Row(i)
		cRow := c.Row(i)
		for j := range n {
			var acc float64
			bIdx := j
			for _, aValue := range aRow {
				acc += float64(aValue) * float64(b.Data[bIdx])
				bIdx += b.Stride
			}
			cRow[j] = float32(acc)
		}
	}
	log.Append(perflog.NewSample(RefKernelName, m, n, k, time.Since(start)))
}

// Engine is a configured optimized GEMM: a micro-kernel, its blocking parameters and a pool of workers.
//
// It is safe for concurrent use: each call uses its own scratch buffers. Released buffers are recycled
// across calls through a packgemm.BufferPool. They hold no caller data and are overwritten on reuse.
type Engine struct {
	config         Config
	kernel         *packgemm.Kernel
	params         packgemm.CacheParams
	pool           *workerspool.Pool
	buffers        *packgemm.BufferPool
	smallThreshold int64
}

// New creates an Engine with the given configuration.
func New(config Config) (*Engine, error) {
	e := &Engine{buffers: packgemm.NewBufferPool()}
	if config.Kernel == "" {
		e.kernel = packgemm.DefaultKernel()
	} else {
		var found bool
		e.kernel, found = packgemm.KernelByName(config.Kernel)
		if !found {
			return nil, errors.Errorf("unknown or unsupported GEMM micro-kernel %q, available: %q", config.Kernel, Kernels())
		}
	}
	config.Kernel = e.kernel.Name

	if config.Kc < 0 || config.Mc < 0 || config.Nc < 0 {
		return nil, errors.Errorf("GEMM configuration %q: block sizes must be >= 0", config)
	}
	e.params = e.kernel.Params
	if config.Kc > 0 {
		e.params.PanelContractingSize = config.Kc
	}
	if config.Mc > 0 {
		e.params.LHSPanelCrossSize = config.Mc
	}
	if config.Nc > 0 {
		e.params.RHSPanelCrossSize = config.Nc
	}
	if err := e.params.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "GEMM configuration %q for micro-kernel %q", config, e.kernel.Name)
	}

	switch {
	case config.NumThreads < 0:
		return nil, errors.Errorf("GEMM configuration %q: invalid number of threads %d", config, config.NumThreads)
	case config.NumThreads == 0:
		config.NumThreads = runtime.GOMAXPROCS(0)
	}
	e.pool = workerspool.NewWithMax(config.NumThreads)

	switch {
	case config.SmallMatMulFlopsThreshold == 0:
		config.SmallMatMulFlopsThreshold = packgemm.DefaultSmallMatMulFlopsThreshold
	case config.SmallMatMulFlopsThreshold < 0:
		config.SmallMatMulFlopsThreshold = -1
	}
	e.smallThreshold = int64(config.SmallMatMulFlopsThreshold)
	e.config = config

	klog.V(1).Infof("gemm.New: micro-kernel %q, params %+v, %d threads, small matmul threshold %d",
		e.kernel.Name, e.params, config.NumThreads, config.SmallMatMulFlopsThreshold)
	return e, nil
}

// MustNew creates an Engine with the given configuration, and panics on error.
func MustNew(config Config) *Engine {
	return must.M1(New(config))
}

// Config returns the configuration of the engine, with the defaults resolved.
func (e *Engine) Config() Config {
	return e.config
}

// KernelName returns the name of the micro-kernel used by the engine.
func (e *Engine) KernelName() string {
	return e.kernel.Name
}

// Params returns the blocking parameters used by the engine.
func (e *Engine) Params() packgemm.CacheParams {
	return e.params
}

// Gemm computes c = a x b, and appends one sample to log (if not nil), named after the kernel used.
//
// Only the [M, N] logical region of c is written, and the result doesn't depend on the number of threads.
// It panics if the shapes are invalid, see CheckShapes.
func (e *Engine) Gemm(a, b, c matrix.Matrix, log *perflog.Log) {
	mustCheckShapes("gemm.Gemm", a, b, c)
	m, k, n := a.NumRows, a.NumCols, b.NumCols
	start := time.Now()
	kernelName := e.kernel.Name
	if e.smallThreshold > 0 && int64(m)*int64(n)*int64(k) < e.smallThreshold {
		kernelName = packgemm.SmallGEMMName
		packgemm.SmallGEMM(a, b, c, e.pool)
	} else {
		packgemm.GEMM(e.kernel, &e.params, a, b, c, e.buffers.Alloc, e.buffers.Release, e.pool)
	}
	log.Append(perflog.NewSample(kernelName, m, n, k, time.Since(start)))
}

// TryGemm is like Engine.Gemm, but returns an error instead of panicking.
func (e *Engine) TryGemm(a, b, c matrix.Matrix, log *perflog.Log) error {
	return exceptions.TryCatch[error](func() { e.Gemm(a, b, c, log) })
}

var defaultEngine = sync.OnceValues(func() (*Engine, error) {
	config, found := os.LookupEnv(GEMM_CONFIG)
	if !found {
		return New(DefaultConfig())
	}
	c, err := ParseConfig(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing $%s", GEMM_CONFIG)
	}
	return New(c)
})

// Default returns the Engine used by the package level Gemm, created on first use.
//
// Its configuration is taken from the environment variable GEMM_CONFIG, if set, or DefaultConfig otherwise.
// It panics if the configuration is invalid.
func Default() *Engine {
	e, err := defaultEngine()
	if err != nil {
		exceptions.Panicf("gemm.Default(): %+v", err)
	}
	return e
}

// Gemm computes c = a x b using the Default engine. See Engine.Gemm.
func Gemm(a, b, c matrix.Matrix, log *perflog.Log) {
	Default().Gemm(a, b, c, log)
}

// TryGemm is like Gemm, but returns an error instead of panicking.
func TryGemm(a, b, c matrix.Matrix, log *perflog.Log) error {
	return exceptions.TryCatch[error](func() { Gemm(a, b, c, log) })
}
