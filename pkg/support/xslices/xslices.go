// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package: generic constructors,
// numeric comparisons with tolerance and a flag for comma-separated lists.
package xslices

import (
	"flag"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer or float type.
type Number interface {
	constraints.Integer | constraints.Float
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// Iota returns a slice of incremental values, starting with start and of length len.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T Number](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// MaxAbsDiff returns the largest absolute difference between the elements of the two slices, as float64.
// NaN differences are reported as +Inf. It returns an error if the slices have different lengths.
func MaxAbsDiff[T Number](s0, s1 []T) (float64, error) {
	if len(s0) != len(s1) {
		return 0, errors.Errorf("slices have different lengths (%d != %d)", len(s0), len(s1))
	}
	var maxDiff float64
	for ii, v0 := range s0 {
		diff := math.Abs(float64(v0) - float64(s1[ii]))
		if math.IsNaN(diff) {
			return math.Inf(1), nil
		}
		maxDiff = max(maxDiff, diff)
	}
	return maxDiff, nil
}

// SlicesInRelData returns an error describing the first element where got and want differ by more than
// a relative delta (relative to the magnitude of want, or absolute if |want| < 1).
func SlicesInRelData[T constraints.Float](got, want []T, delta float64) error {
	if len(got) != len(want) {
		return errors.Errorf("slices have different lengths (%d != %d)", len(got), len(want))
	}
	for ii, g := range got {
		w := float64(want[ii])
		scale := max(1, math.Abs(w))
		if diff := math.Abs(float64(g)-w) / scale; !(diff <= delta) {
			return errors.Errorf("element #%d: got %g, want %g (relative difference %g > %g)", ii, g, w, diff, delta)
		}
	}
	return nil
}

// Flag creates a flag for []T with the given name, description and default value.
// It takes as input a parser for an individual T value.
func Flag[T any](name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &genericSliceFlagImpl[T]{
		parsedSlice: defaultValue,
		parserFn:    parserFn,
	}
	flag.Var(f, name, usage)
	return &f.parsedSlice
}

// genericSliceFlagImpl implements flag.Value for a generic type.
type genericSliceFlagImpl[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *genericSliceFlagImpl[T]) String() string {
	if f == nil || len(f.parsedSlice) == 0 {
		return ""
	}
	parts := Map(f.parsedSlice, func(elem T) string { return fmt.Sprintf("%v", elem) })
	return strings.Join(parts, ",")
}

func (f *genericSliceFlagImpl[T]) Set(listStr string) error {
	if listStr == "" {
		f.parsedSlice = make([]T, 0)
		return nil
	}
	parts := strings.Split(listStr, ",")
	f.parsedSlice = make([]T, len(parts))
	var err error
	for ii, part := range parts {
		f.parsedSlice[ii], err = f.parserFn(strings.TrimSpace(part))
		if err != nil {
			return errors.WithMessagef(err, "failed to parse %q", part)
		}
	}
	return nil
}
