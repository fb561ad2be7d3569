// Package main profiles the machine to find host side bottlenecks. It
// records a CPU profile while running, then prints the hottest functions.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"

	"github.com/sarchlab/dscore/benchmarks"
	"github.com/sarchlab/dscore/config"
	"github.com/sarchlab/dscore/loader"
	"github.com/sarchlab/dscore/machine"
	"github.com/sarchlab/dscore/mem/region"
)

var (
	noJIT      = flag.Bool("no-jit", false, "Interpret both cores")
	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile = flag.String("memprofile", "", "write memory profile to file")
	frames     = flag.Int("frames", 300, "frames to run when profiling a program")
	rounds     = flag.Int("rounds", 50, "benchmark rounds when no program is given")
	top        = flag.Int("top", 15, "functions to list")
)

func main() {
	flag.Parse()

	var buf bytes.Buffer
	out := io.Writer(&buf)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		out = io.MultiWriter(&buf, f)
	}

	if err := pprof.StartCPUProfile(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	instructions, err := workload()
	pprof.StopCPUProfile()
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *memProfile != "" {
		if err := writeHeapProfile(*memProfile); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
		}
	}

	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Instructions executed: %d\n", instructions)
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if instructions > 0 {
		fmt.Printf("Instructions/second: %.0f\n", float64(instructions)/elapsed.Seconds())
	}

	if err := summarize(&buf, *top); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading profile: %v\n", err)
		os.Exit(1)
	}
}

// workload runs the program given on the command line, or the
// microbenchmarks when there is none. It returns the instructions retired.
func workload() (uint64, error) {
	if flag.NArg() == 0 {
		cfg := benchmarks.DefaultConfig()
		cfg.JIT = !*noJIT
		h := benchmarks.NewHarness(cfg)
		for i := 0; i < *rounds; i++ {
			h.AddBenchmarks(benchmarks.GetMicrobenchmarks()...)
		}

		results, err := h.RunAll()
		if err != nil {
			return 0, err
		}
		var n uint64
		for _, r := range results {
			n += r.Instructions
		}
		return n, nil
	}

	cfg := config.Default()
	cfg.JIT = !*noJIT
	m, err := machine.New(cfg)
	if err != nil {
		return 0, err
	}
	defer func() { _ = m.Close() }()

	path := flag.Arg(0)
	if strings.EqualFold(filepath.Ext(path), ".nds") {
		rom, err := loader.LoadROM(path)
		if err != nil {
			return 0, err
		}
		if err := m.DirectBoot(rom); err != nil {
			return 0, err
		}
	} else {
		prog, err := loader.Load(path)
		if err != nil {
			return 0, err
		}
		if err := m.BootELF(prog, region.ARM9); err != nil {
			return 0, err
		}
	}

	fmt.Printf("Loaded: %s\n", path)

	for i := 0; i < *frames; i++ {
		if err := m.RunFrame(); err != nil {
			return 0, err
		}
	}

	return m.Core(region.ARM9).InstructionCount() + m.Core(region.ARM7).InstructionCount(), nil
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return pprof.WriteHeapProfile(f)
}

type funcSample struct {
	name string
	flat int64
	cum  int64
}

// summarize prints the n functions with the most flat CPU time.
func summarize(r io.Reader, n int) error {
	p, err := profile.Parse(r)
	if err != nil {
		return err
	}

	// The last sample value is the CPU time in nanoseconds.
	vi := len(p.SampleType) - 1
	if vi < 0 {
		return nil
	}

	byName := make(map[string]*funcSample)
	var total int64
	for _, s := range p.Sample {
		v := s.Value[vi]
		total += v

		seen := make(map[string]bool)
		for i, loc := range s.Location {
			for _, line := range loc.Line {
				if line.Function == nil {
					continue
				}
				name := line.Function.Name
				fs := byName[name]
				if fs == nil {
					fs = &funcSample{name: name}
					byName[name] = fs
				}
				if i == 0 {
					fs.flat += v
				}
				if !seen[name] {
					fs.cum += v
					seen[name] = true
				}
			}
		}
	}

	funcs := make([]*funcSample, 0, len(byName))
	for _, fs := range byName {
		funcs = append(funcs, fs)
	}
	sort.Slice(funcs, func(i, j int) bool {
		if funcs[i].flat != funcs[j].flat {
			return funcs[i].flat > funcs[j].flat
		}
		return funcs[i].name < funcs[j].name
	})

	fmt.Printf("\nTop %d functions by flat CPU time (%v total):\n", n, time.Duration(total))
	for i, fs := range funcs {
		if i == n {
			break
		}
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(fs.flat) / float64(total)
		}
		fmt.Printf("  %6.2f%%  %10v  %10v  %s\n", pct, time.Duration(fs.flat), time.Duration(fs.cum), fs.name)
	}
	return nil
}
