// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package packgemm

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gemm/internal/workerspool"
	"github.com/gomlx/gemm/pkg/core/matrix"
	"github.com/gomlx/gemm/pkg/support/xslices"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceMicroKernel is a straightforward implementation of MicroKernelFn for any tile size.
func referenceMicroKernel(contractingLen, kernelRows, kernelCols int, packedLHS, packedRHS, accum []float32) {
	clear(accum[:kernelRows*kernelCols])
	for k := range contractingLen {
		for r := range kernelRows {
			a := packedLHS[k*kernelRows+r]
			for c := range kernelCols {
				accum[r*kernelCols+c] += a * packedRHS[k*kernelCols+c]
			}
		}
	}
}

// naiveMatMul computes lhs x rhs with float64 accumulation into a new contiguous matrix.
func naiveMatMul(lhs, rhs matrix.Matrix) matrix.Matrix {
	out := matrix.Make(lhs.NumRows, rhs.NumCols)
	for i := range lhs.NumRows {
		for j := range rhs.NumCols {
			var acc float64
			for k := range lhs.NumCols {
				acc += float64(lhs.At(i, k)) * float64(rhs.At(k, j))
			}
			out.Set(i, j, float32(acc))
		}
	}
	return out
}

var testParams = CacheParams{
	LHSL1KernelRows:      4,
	RHSL1KernelCols:      4,
	PanelContractingSize: 8,
	LHSPanelCrossSize:    8,
	RHSPanelCrossSize:    16,
}

func TestSplitWork(t *testing.T) {
	allowUnexported := cmp.AllowUnexported(workItem{})
	testCases := []struct {
		m, n, workers int
		want          []workItem
	}{
		{32, 8, 2, []workItem{{0, 8, 0, 8}, {8, 16, 0, 8}, {16, 24, 0, 8}, {24, 32, 0, 8}}},
		{4, 32, 2, []workItem{{0, 4, 0, 8}, {0, 4, 8, 16}, {0, 4, 16, 24}, {0, 4, 24, 32}}},
		{10, 10, 4, []workItem{
			{0, 4, 0, 4}, {0, 4, 4, 8}, {0, 4, 8, 10},
			{4, 8, 0, 4}, {4, 8, 4, 8}, {4, 8, 8, 10},
			{8, 10, 0, 4}, {8, 10, 4, 8}, {8, 10, 8, 10},
		}},
		{100, 100, 1, []workItem{{0, 100, 0, 100}}},
		{1, 1, 8, []workItem{{0, 1, 0, 1}}},
		{0, 5, 8, nil},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("m=%d,n=%d,workers=%d", tc.m, tc.n, tc.workers), func(t *testing.T) {
			got := splitWork(tc.m, tc.n, &testParams, tc.workers)
			if diff := cmp.Diff(tc.want, got, allowUnexported); diff != "" {
				t.Errorf("splitWork() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitWorkCoversOutputOnce(t *testing.T) {
	for _, params := range []CacheParams{testParams, GenericParams, {6, 16, 256, 168, 4080}} {
		for _, m := range []int{1, 5, 37, 168, 1000} {
			for _, n := range []int{1, 7, 64, 333} {
				for _, workers := range []int{1, 2, 3, 8, 64} {
					counts := make([]int, m*n)
					for _, item := range splitWork(m, n, &params, workers) {
						require.True(t, item.lhsRowStart%params.LHSL1KernelRows == 0)
						require.True(t, item.rhsColStart%params.RHSL1KernelCols == 0)
						for i := item.lhsRowStart; i < item.lhsRowEnd; i++ {
							for j := item.rhsColStart; j < item.rhsColEnd; j++ {
								counts[i*n+j]++
							}
						}
					}
					for idx, c := range counts {
						if c != 1 {
							t.Fatalf("params=%+v m=%d n=%d workers=%d: element (%d, %d) covered %d times",
								params, m, n, workers, idx/n, idx%n, c)
						}
					}
				}
			}
		}
	}
}

func TestPackRHS(t *testing.T) {
	// Source: [3, 6] with stride 7, packing the block rows [1, 3) x cols [1, 6) with kernelCols=2.
	src := make([]float32, 3*7)
	for ii := range src {
		src[ii] = float32(ii)
	}
	dst := xslices.SliceWithValue(3*2*2+1, float32(-1))
	packRHS(src, dst, 1, 1, 7, 2, 5, 2)
	want := []float32{
		// Strip 0: cols 1, 2.
		8, 9, 15, 16,
		// Strip 1: cols 3, 4.
		10, 11, 17, 18,
		// Strip 2: col 5, zero-padded.
		12, 0, 19, 0,
		// Untouched.
		-1,
	}
	assert.Equal(t, want, dst)
}

func TestPackLHS(t *testing.T) {
	// Source: [5, 4] with stride 4, packing rows [1, 4) x cols [1, 3) with kernelRows=2.
	src := make([]float32, 5*4)
	for ii := range src {
		src[ii] = float32(ii)
	}
	dst := xslices.SliceWithValue(2*2*2+1, float32(-1))
	packLHS(src, dst, 1, 1, 4, 3, 2, 2)
	want := []float32{
		// Strip 0: rows 1, 2, K-first.
		5, 9, 6, 10,
		// Strip 1: row 3, zero-padded.
		13, 0, 14, 0,
		// Untouched.
		-1,
	}
	assert.Equal(t, want, dst)
}

func TestMicroKernels(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, kernel := range Kernels() {
		t.Run(kernel.Name, func(t *testing.T) {
			mr, nr := kernel.Params.LHSL1KernelRows, kernel.Params.RHSL1KernelCols
			for _, contractingLen := range []int{1, 2, 3, 17, 256} {
				packedLHS := make([]float32, contractingLen*mr)
				packedRHS := make([]float32, contractingLen*nr)
				for ii := range packedLHS {
					packedLHS[ii] = float32(rng.IntN(7) - 3)
				}
				for ii := range packedRHS {
					packedRHS[ii] = float32(rng.IntN(7) - 3)
				}
				want := make([]float32, mr*nr)
				referenceMicroKernel(contractingLen, mr, nr, packedLHS, packedRHS, want)
				got := xslices.SliceWithValue(mr*nr, float32(1000)) // Must be overwritten.
				kernel.Fn(contractingLen, packedLHS, packedRHS, got)
				require.Equal(t, want, got, "contractingLen=%d", contractingLen)
			}
		})
	}
}

func TestGEMM(t *testing.T) {
	sizes := [][3]int{ // M, K, N
		{1, 1, 1},
		{3, 5, 7},
		{4, 8, 4},
		{9, 17, 13},
		{16, 16, 16},
		{33, 70, 47},
	}
	pool := workerspool.NewWithMax(4)
	bufPool := NewBufferPool()
	for _, kernel := range Kernels() {
		// Small panels for the kernel tile sizes, so the edges of every loop are exercised.
		mr, nr := kernel.Params.LHSL1KernelRows, kernel.Params.RHSL1KernelCols
		smallParams := CacheParams{
			LHSL1KernelRows:      mr,
			RHSL1KernelCols:      nr,
			PanelContractingSize: 8,
			LHSPanelCrossSize:    2 * mr,
			RHSPanelCrossSize:    2 * nr,
		}
		for _, params := range []*CacheParams{nil, &smallParams} {
			for _, size := range sizes {
				m, k, n := size[0], size[1], size[2]
				name := fmt.Sprintf("%s/small_panels=%v/%dx%dx%d", kernel.Name, params != nil, m, k, n)
				t.Run(name, func(t *testing.T) {
					rng := rand.New(rand.NewPCG(uint64(m), uint64(n)))
					lhs, rhs := matrix.Make(m, k), matrix.Make(k, n)
					lhs.FillRandomIntegers(rng, -3, 3)
					rhs.FillRandomIntegers(rng, -3, 3)
					want := naiveMatMul(lhs, rhs)

					// Output with padding: stride n+3, pre-filled with garbage.
					outData := xslices.SliceWithValue(m*(n+3), float32(7))
					output, err := matrix.FromData(m, n, n+3, outData)
					require.NoError(t, err)

					GEMM(kernel, params, lhs, rhs, output, bufPool.Alloc, bufPool.Release, pool)
					diff, err := output.MaxAbsDiff(want)
					require.NoError(t, err)
					require.Equal(t, 0.0, diff)
					for i := range m {
						for j := n; j < n+3 && i*(n+3)+j < len(outData); j++ {
							require.Equal(t, float32(7), outData[i*(n+3)+j], "padding at (%d, %d) modified", i, j)
						}
					}

					// Sequential, without buffer pool.
					output.Fill(11)
					GEMM(kernel, params, lhs, rhs, output, nil, nil, nil)
					diff, err = output.MaxAbsDiff(want)
					require.NoError(t, err)
					require.Equal(t, 0.0, diff)
				})
			}
		}
	}
}

func TestGEMMEdgeSizes(t *testing.T) {
	kernel := DefaultKernel()

	// K == 0: output is zeroed.
	output := matrix.Make(2, 3)
	output.Fill(5)
	GEMM(kernel, nil, matrix.Make(2, 0), matrix.Make(0, 3), output, nil, nil, nil)
	assert.Equal(t, make([]float32, 6), output.Data)

	// M == 0 or N == 0: no-op.
	GEMM(kernel, nil, matrix.Make(0, 4), matrix.Make(4, 3), matrix.Make(0, 3), nil, nil, nil)
	GEMM(kernel, nil, matrix.Make(2, 4), matrix.Make(4, 0), matrix.Make(2, 0), nil, nil, nil)
}

func TestGEMMParallelismInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	m, k, n := 131, 530, 97
	lhs, rhs := matrix.Make(m, k), matrix.Make(k, n)
	lhs.FillRandom(rng, -1, 1)
	rhs.FillRandom(rng, -1, 1)
	for _, kernel := range Kernels() {
		t.Run(kernel.Name, func(t *testing.T) {
			want := matrix.Make(m, n)
			GEMM(kernel, nil, lhs, rhs, want, nil, nil, nil)
			for _, workers := range []int{2, 3, 8, -1} {
				got := matrix.Make(m, n)
				GEMM(kernel, nil, lhs, rhs, got, nil, nil, workerspool.NewWithMax(workers))
				require.Equal(t, want.Data, got.Data, "workers=%d", workers)
			}
			diff, err := want.MaxAbsDiff(naiveMatMul(lhs, rhs))
			require.NoError(t, err)
			assert.Less(t, diff, 1e-3)
		})
	}
}

func TestSmallGEMM(t *testing.T) {
	sizes := [][3]int{{1, 1, 1}, {2, 3, 5}, {3, 4, 4}, {7, 9, 11}, {64, 64, 64}, {100, 50, 30}}
	for _, size := range sizes {
		m, k, n := size[0], size[1], size[2]
		t.Run(fmt.Sprintf("%dx%dx%d", m, k, n), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(uint64(k), 3))
			// Strided views over larger buffers.
			lhsFull, rhsFull := matrix.Make(m+1, k+2), matrix.Make(k+1, n+3)
			lhsFull.FillRandomIntegers(rng, -3, 3)
			rhsFull.FillRandomIntegers(rng, -3, 3)
			lhs, err := lhsFull.View(1, 2, m, k)
			require.NoError(t, err)
			rhs, err := rhsFull.View(1, 0, k, n)
			require.NoError(t, err)
			want := naiveMatMul(lhs, rhs)

			for _, pool := range []*workerspool.Pool{nil, workerspool.NewWithMax(4)} {
				output := matrix.Make(m, n)
				output.Fill(9)
				SmallGEMM(lhs, rhs, output, pool)
				diff, err := output.MaxAbsDiff(want)
				require.NoError(t, err)
				require.Equal(t, 0.0, diff)
			}
		})
	}

	output := matrix.Make(2, 2)
	output.Fill(1)
	SmallGEMM(matrix.Make(2, 0), matrix.Make(0, 2), output, nil)
	assert.Equal(t, []float32{0, 0, 0, 0}, output.Data)
}

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool()
	ref, data := pool.Alloc(17)
	require.Len(t, data, 17)
	pool.Release(ref)
	_, data = pool.Alloc(17)
	require.Len(t, data, 17)
	_, data = pool.Alloc(3)
	require.Len(t, data, 3)
}
