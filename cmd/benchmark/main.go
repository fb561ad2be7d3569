// Command benchmark runs the ARM32 microbenchmarks on the machine.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv        Output results in CSV format (default: human-readable)
//	-json       Output a JSON report
//	-no-jit     Interpret instead of translating
//	-no-icache  Disable instruction cache simulation
//	-no-dcache  Disable data cache simulation
//	-parallel   Benchmarks run at once (default: number of CPUs)
//	-compare    Run interpreted and translated and compare wall time
//
// Example:
//
//	# Output CSV for spreadsheet comparison
//	go run ./cmd/benchmark -csv > results.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sarchlab/dscore/benchmarks"
	"github.com/sarchlab/dscore/logging"
)

func main() {
	csvOutput := flag.Bool("csv", false, "Output results in CSV format")
	jsonOutput := flag.Bool("json", false, "Output a JSON report")
	noJIT := flag.Bool("no-jit", false, "Interpret instead of translating")
	noICache := flag.Bool("no-icache", false, "Disable instruction cache simulation")
	noDCache := flag.Bool("no-dcache", false, "Disable data cache simulation")
	parallel := flag.Int("parallel", runtime.NumCPU(), "Benchmarks run at once")
	compare := flag.Bool("compare", false, "Compare interpreted and translated runs")
	verbosity := flag.Int("v", 0, "Log verbosity")
	flag.Parse()

	config := benchmarks.DefaultConfig()
	config.JIT = !*noJIT
	config.EnableICache = !*noICache
	config.EnableDCache = !*noDCache
	config.Output = os.Stdout
	config.Logger = logging.New(os.Stderr, *verbosity)

	ctx := context.Background()

	if *compare {
		if err := runComparison(ctx, config, *parallel); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	harness := benchmarks.NewHarness(config)
	harness.AddBenchmarks(benchmarks.GetMicrobenchmarks()...)

	results, err := harness.RunParallel(ctx, *parallel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		fmt.Println("dscore Benchmark Harness")
		fmt.Println("========================")
		fmt.Printf("JIT: %v\n", config.JIT)
		fmt.Printf("I-Cache: %v\n", config.EnableICache)
		fmt.Printf("D-Cache: %v\n", config.EnableDCache)
		fmt.Println("")
		harness.PrintResults(results)
		printSummary(benchmarks.Summarize(results))
	}

	if benchmarks.Summarize(results).Failed > 0 {
		os.Exit(2)
	}
}

func printSummary(s benchmarks.ReportSummary) {
	p := message.NewPrinter(language.English)
	_, _ = p.Printf("=== Summary ===\n")
	_, _ = p.Printf("Benchmarks:   %d (%d failed)\n", s.TotalBenchmarks, s.Failed)
	_, _ = p.Printf("Cycles:       %d\n", s.TotalCycles)
	_, _ = p.Printf("Instructions: %d\n", s.TotalInstructions)
	_, _ = p.Printf("Average CPI:  %.3f\n", s.AverageCPI)
	_, _ = p.Printf("Wall time:    %v\n", s.TotalWallTime)
}

// runComparison runs every benchmark interpreted and translated. Both runs
// must agree on the result and the instruction count.
func runComparison(ctx context.Context, config benchmarks.HarnessConfig, parallel int) error {
	run := func(jit bool) ([]benchmarks.BenchmarkResult, error) {
		c := config
		c.JIT = jit
		h := benchmarks.NewHarness(c)
		h.AddBenchmarks(benchmarks.GetMicrobenchmarks()...)
		return h.RunParallel(ctx, parallel)
	}

	interp, err := run(false)
	if err != nil {
		return err
	}
	translated, err := run(true)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	_, _ = p.Printf("%-24s %14s %14s %10s %s\n", "benchmark", "interp", "jit", "speedup", "match")
	for i, a := range interp {
		b := translated[i]
		speedup := 0.0
		if b.WallTime > 0 {
			speedup = float64(a.WallTime) / float64(b.WallTime)
		}
		match := a.R0 == b.R0 && a.Instructions == b.Instructions
		_, _ = p.Printf("%-24s %14v %14v %9.2fx %t\n", a.Name, a.WallTime, b.WallTime, speedup, match)
		if !match {
			return fmt.Errorf("%s: interpreted and translated runs differ", a.Name)
		}
	}
	return nil
}
