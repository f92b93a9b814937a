// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gemm_bench multiplies two random matrices with the reference kernel and with the optimized kernels,
// checks that the results match within a tolerance, and reports the throughput of each kernel.
//
// It exits with status 1 if any optimized result differs from the reference.
//
// Example:
//
//	$ go run ./cmd/gemm_bench -m=2048 -k=2048 -n=2048 -runs=5 -kernels=generic-4x4,avx2-fma-6x16
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gemm/pkg/core/matrix"
	"github.com/gomlx/gemm/pkg/core/perflog"
	"github.com/gomlx/gemm/pkg/gemm"
	"github.com/gomlx/gemm/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"k8s.io/klog/v2"
)

// gonumKernelName is the name of the samples of the optional gonum comparison.
const gonumKernelName = "gonum-blas32"

var (
	flagM = flag.Int("m", 8000, "Number of rows of A and C.")
	flagK = flag.Int("k", 8000, "Number of columns of A and rows of B.")
	flagN = flag.Int("n", 8000, "Number of columns of B and C.")

	flagConfig = flag.String("config", os.Getenv(gemm.GEMM_CONFIG),
		"GEMM configuration, see gemm.ParseConfig. E.g.: \"threads=8,kc=256\". "+
			"It defaults to the value of $"+gemm.GEMM_CONFIG+".")
	flagKernels = xslices.Flag("kernels", nil,
		fmt.Sprintf("Comma-separated list of micro-kernels to benchmark. If empty, the configured one is used. "+
			"Available: %q", gemm.Kernels()),
		func(s string) (string, error) { return s, nil })
	flagThreads = flag.Int("threads", 0, "Number of threads, overrides the configuration if > 0.")

	flagRuns      = flag.Int("runs", 1, "Number of times each optimized kernel is run. The reference kernel runs once.")
	flagSeed      = flag.Uint64("seed", 42, "Seed for the random initialization of A and B.")
	flagFill      = flag.String("fill", "int", "How to fill A and B: \"int\" for integers in [-2, 2], exact in any summation order, or \"uniform\" for floats in [-1, 1).")
	flagTolerance = flag.Float64("tolerance", 1e-3, "Maximum absolute difference allowed between the optimized and the reference results.")
	flagRef       = flag.Bool("ref", true, "Run the reference kernel and check the correctness of the optimized kernels against it.")
	flagGonum     = flag.Bool("compare_gonum", false, "Also run gonum's pure Go blas32.Gemm, for comparison.")
	flagPrint     = flag.Bool("print", false, "Print the matrices: only sensible for small sizes.")
	flagNoColor   = flag.Bool("no_color", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if !run() {
		fmt.Println("error: true")
		os.Exit(1)
	}
	fmt.Println("error: false")
}

// run the benchmark and returns whether all results are correct.
func run() bool {
	config := must.M1(gemm.ParseConfig(*flagConfig))
	if *flagThreads > 0 {
		config.NumThreads = *flagThreads
	}
	kernels := *flagKernels
	if len(kernels) == 0 {
		kernels = []string{config.Kernel}
	}
	engines := xslices.Map(kernels, func(kernel string) *gemm.Engine {
		c := config
		c.Kernel = kernel
		e, err := gemm.New(c)
		if err != nil {
			klog.Fatalf("Failed to create engine: %+v", err)
		}
		return e
	})
	m, k, n := *flagM, *flagK, *flagN

	fmt.Println("prepare data...")
	printSetup(m, k, n, engines)
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed))
	a, b := matrix.Make(m, k), matrix.Make(k, n)
	for _, mat := range []matrix.Matrix{a, b} {
		switch *flagFill {
		case "int":
			mat.FillRandomIntegers(rng, -2, 2)
		case "uniform":
			mat.FillRandom(rng, -1, 1)
		default:
			klog.Fatalf("Invalid -fill=%q, valid values are \"int\" or \"uniform\"", *flagFill)
		}
	}
	if *flagPrint {
		printMatrix("A", a)
		printMatrix("B", b)
	}

	fmt.Println("computing...")
	log := perflog.New()
	var cRef matrix.Matrix
	if *flagRef {
		cRef = matrix.Make(m, n)
		gemm.Ref(a, b, cRef, log)
		sample, _ := log.Last()
		klog.Infof("Reference kernel: %s", sample)
		if *flagPrint {
			printMatrix("C (reference)", cRef)
		}
	}

	results := newTable(lipgloss.Left, lipgloss.Right)
	results.Headers("Kernel", "Max |diff|", "Correct")
	allCorrect := true
	check := func(name string, c matrix.Matrix) {
		if !*flagRef {
			return
		}
		diff := must.M1(c.MaxAbsDiff(cRef))
		correct := diff <= *flagTolerance
		allCorrect = allCorrect && correct
		results.Row(!correct, name, fmt.Sprintf("%.3g", diff), fmt.Sprintf("%v", correct))
		if !correct {
			klog.Errorf("Kernel %q differs from the reference: max absolute difference %g > tolerance %g",
				name, diff, *flagTolerance)
		}
	}

	for _, e := range engines {
		c := matrix.Make(m, n)
		bar := progressbar.NewOptions(*flagRuns,
			progressbar.OptionSetDescription(fmt.Sprintf("%-16s", e.KernelName())),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("runs"),
			progressbar.OptionClearOnFinish(),
		)
		for range *flagRuns {
			e.Gemm(a, b, c, log)
			_ = bar.Add(1)
		}
		_ = bar.Finish()
		if *flagPrint {
			printMatrix("C ("+e.KernelName()+")", c)
		}
		check(e.KernelName(), c)
	}

	if *flagGonum {
		c := matrix.Make(m, n)
		start := time.Now()
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, toBlas32(a), toBlas32(b), 0, toBlas32(c))
		log.Append(perflog.NewSample(gonumKernelName, m, n, k, time.Since(start)))
		check(gonumKernelName, c)
	}

	fmt.Println("check correctness...")
	if *flagRef {
		fmt.Println(results.Render())
	}
	printPerfSummary(log)
	return allCorrect
}

// toBlas32 converts a matrix to a gonum blas32.General sharing the same data.
func toBlas32(mat matrix.Matrix) blas32.General {
	return blas32.General{Rows: mat.NumRows, Cols: mat.NumCols, Stride: mat.Stride, Data: mat.Data}
}

func printSetup(m, k, n int, engines []*gemm.Engine) {
	fmt.Println(titleStyle.Render("Setup"))
	table := newTable(lipgloss.Right, lipgloss.Left)
	table.Row(false, "A x B -> C", fmt.Sprintf("[%d, %d] x [%d, %d] -> [%d, %d]", m, k, k, n, m, n))
	table.Row(false, "FLOPs", humanize.Comma(int64(perflog.NumOps(m, n, k))))
	table.Row(false, "memory", humanize.Bytes(uint64(4*(m*k+k*n+2*m*n))))
	for _, e := range engines {
		config := e.Config()
		params := e.Params()
		table.Row(false, e.KernelName(), fmt.Sprintf("threads=%d, Mr=%d, Nr=%d, Kc=%d, Mc=%d, Nc=%d, small=%s",
			config.NumThreads, params.LHSL1KernelRows, params.RHSL1KernelCols, params.PanelContractingSize,
			params.LHSPanelCrossSize, params.RHSPanelCrossSize, humanize.Comma(int64(config.SmallMatMulFlopsThreshold))))
	}
	fmt.Println(table.Render())
}

func printPerfSummary(log *perflog.Log) {
	fmt.Println(titleStyle.Render("Performance"))
	table := newTable(lipgloss.Left, lipgloss.Right)
	table.Headers("Kernel", "Runs", "Min GFlops/s", "Mean GFlops/s", "Max GFlops/s", "Total Time")
	for _, stats := range log.Summary() {
		table.Row(false, stats.Kernel, humanize.Comma(int64(stats.Count)),
			fmt.Sprintf("%.2f", stats.Min), fmt.Sprintf("%.2f", stats.Mean), fmt.Sprintf("%.2f", stats.Max),
			stats.TotalElapsed.Round(time.Millisecond).String())
	}
	fmt.Println(table.Render())
}

func printMatrix(name string, mat matrix.Matrix) {
	var sb strings.Builder
	must.M(mat.Format(&sb))
	fmt.Printf("%s:\n%s\n", name, sb.String())
}
