// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import "math/rand/v2"

// FillRandom fills the logical region with values uniformly distributed in [low, high).
func (m Matrix) FillRandom(rng *rand.Rand, low, high float32) {
	scale := high - low
	for i := range m.NumRows {
		row := m.Row(i)
		for j := range row {
			row[j] = low + scale*rng.Float32()
		}
	}
}

// FillRandomIntegers fills the logical region with integer values in [low, high].
//
// Products and sums of small integers are exact in float32 (as long as they stay below 2^24), so
// results don't depend on the summation order.
func (m Matrix) FillRandomIntegers(rng *rand.Rand, low, high int) {
	n := high - low + 1
	for i := range m.NumRows {
		row := m.Row(i)
		for j := range row {
			row[j] = float32(low + rng.IntN(n))
		}
	}
}

// FillIota fills the logical region with start, start+1, ... in row-major order.
func (m Matrix) FillIota(start float32) {
	v := start
	for i := range m.NumRows {
		row := m.Row(i)
		for j := range row {
			row[j] = v
			v++
		}
	}
}
