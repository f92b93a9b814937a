// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// GEMM_CONFIG is the environment variable with the configuration used by the package level Gemm.
//
// See ParseConfig for the format.
const GEMM_CONFIG = "GEMM_CONFIG"

// Config of an Engine. The zero value selects all the defaults.
type Config struct {
	// Kernel is the name of the micro-kernel to use, see Kernels. If empty, the highest priority
	// micro-kernel supported by the CPU is used.
	Kernel string

	// NumThreads is the number of workers used by Gemm. If 0 it uses runtime.GOMAXPROCS(0), and 1
	// runs single-threaded.
	NumThreads int

	// Kc, Mc, Nc override the micro-kernel's default blocking sizes, if > 0:
	// Kc is the contracting panel size, Mc the LHS panel height (a multiple of the kernel rows) and
	// Nc the RHS panel width (a multiple of the kernel columns).
	Kc, Mc, Nc int

	// SmallMatMulFlopsThreshold: if M*N*K is below it, an unpacked kernel is used instead.
	// If 0 it uses packgemm.DefaultSmallMatMulFlopsThreshold; if < 0 the small path is disabled.
	SmallMatMulFlopsThreshold int
}

// DefaultConfig returns the default configuration: all values automatically selected.
func DefaultConfig() Config {
	return Config{}
}

// String returns the configuration in the format accepted by ParseConfig, omitting default values.
func (c Config) String() string {
	var parts []string
	if c.Kernel != "" {
		parts = append(parts, "kernel="+c.Kernel)
	}
	for _, kv := range []struct {
		key   string
		value int
	}{{"threads", c.NumThreads}, {"kc", c.Kc}, {"mc", c.Mc}, {"nc", c.Nc}, {"small", c.SmallMatMulFlopsThreshold}} {
		if kv.value != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", kv.key, kv.value))
		}
	}
	return strings.Join(parts, ",")
}

// ParseConfig parses a comma-separated list of key=value options on top of DefaultConfig.
//
// Keys: "kernel" (name of the micro-kernel), "threads", "kc", "mc", "nc" and "small" (the
// SmallMatMulFlopsThreshold). Example:
//
//	"kernel=generic-4x4,threads=8,kc=256,small=-1"
//
// An empty string returns DefaultConfig.
func ParseConfig(config string) (Config, error) {
	c := DefaultConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return c, errors.Errorf("invalid GEMM configuration option %q in %q: expected key=value", part, config)
		}
		key, value = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)
		if key == "kernel" {
			c.Kernel = value
			continue
		}
		var target *int
		switch key {
		case "threads":
			target = &c.NumThreads
		case "kc":
			target = &c.Kc
		case "mc":
			target = &c.Mc
		case "nc":
			target = &c.Nc
		case "small":
			target = &c.SmallMatMulFlopsThreshold
		default:
			return c, errors.Errorf("unknown GEMM configuration option %q in %q", key, config)
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			return c, errors.Wrapf(err, "invalid value for GEMM configuration option %q in %q", key, config)
		}
		*target = v
	}
	return c, nil
}
