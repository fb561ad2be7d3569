// Package benchmarks provides ARM32 microbenchmarks and a harness that runs
// them on a machine, with or without the translator.
package benchmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sarchlab/dscore/config"
	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/loader"
	"github.com/sarchlab/dscore/machine"
	"github.com/sarchlab/dscore/mem/region"
)

// ProgramAddr is where every benchmark program is loaded on the ARM9.
const ProgramAddr = 0x02000000

// DataAddr is a scratch area benchmarks may use.
const DataAddr = 0x02100000

// ErrTimeout is returned when a benchmark does not halt within MaxCycles.
var ErrTimeout = errors.New("benchmark did not halt")

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	JIT         bool   `json:"jit"`

	// Cycles is the ARM9 cycle count when the program halted.
	Cycles uint64 `json:"cycles"`

	// Instructions is the number of instructions retired.
	Instructions uint64 `json:"instructions"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	// R0 is the result register at halt.
	R0     uint32 `json:"r0"`
	Passed bool   `json:"passed"`

	ICacheHits   uint64 `json:"icache_hits,omitempty"`
	ICacheMisses uint64 `json:"icache_misses,omitempty"`
	DCacheHits   uint64 `json:"dcache_hits,omitempty"`
	DCacheMisses uint64 `json:"dcache_misses,omitempty"`

	BlocksCompiled uint64 `json:"blocks_compiled,omitempty"`
	BlockHits      uint64 `json:"block_hits,omitempty"`
	Invalidations  uint64 `json:"invalidations,omitempty"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	Name        string
	Description string

	// Setup prepares registers before the program starts.
	Setup func(regs *emu.RegFile)

	// Program is the ARM32 machine code, loaded at ProgramAddr. It must end
	// with the halt BIOS call.
	Program []byte

	// ExpectedR0 is the value of R0 when the program halts.
	ExpectedR0 uint32
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// JIT runs the programs through the translator.
	JIT bool

	EnableICache bool
	EnableDCache bool

	// MaxCycles bounds each run in system cycles.
	MaxCycles uint64

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	Logger logr.Logger
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		JIT:          true,
		EnableICache: true,
		EnableDCache: true,
		MaxCycles:    10_000_000,
		Output:       os.Stdout,
		Logger:       logr.Discard(),
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.MaxCycles == 0 {
		config.MaxCycles = DefaultConfig().MaxCycles
	}
	if config.Logger.GetSink() == nil {
		config.Logger = logr.Discard()
	}
	return &Harness{config: config}
}

// AddBenchmarks adds benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks ...Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// machineConfig returns the machine configuration of one run.
func (h *Harness) machineConfig() *config.Config {
	cfg := config.Default()
	cfg.JIT = h.config.JIT
	cfg.HLEBios = true
	if !h.config.EnableICache {
		cfg.Timing.ARM9ICache.Size = 0
	}
	if !h.config.EnableDCache {
		cfg.Timing.ARM9DCache.Size = 0
	}
	return cfg
}

// RunAll executes all benchmarks in order.
func (h *Harness) RunAll() ([]BenchmarkResult, error) {
	return h.RunParallel(context.Background(), 1)
}

// RunParallel executes all benchmarks, at most workers at a time. Every run
// owns its own machine. Results keep the order the benchmarks were added in.
func (h *Harness) RunParallel(ctx context.Context, workers int) ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, len(h.benchmarks))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, bench := range h.benchmarks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			r, err := h.Run(bench)
			if err != nil {
				return fmt.Errorf("%s: %w", bench.Name, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run executes one benchmark on a fresh machine.
func (h *Harness) Run(bench Benchmark) (BenchmarkResult, error) {
	var (
		halted       bool
		cycles       uint64
		instructions uint64
	)

	// Record the cost at the halt call; the machine advances a halted core
	// to the end of its slice.
	bios := emu.NewDefaultSWIHandler()
	swi := emu.SWIFunc(func(c *emu.Core, num uint8) bool {
		if num == emu.SWIHalt && c.CPU() == region.ARM9 {
			halted = true
			cycles, instructions = c.Cycles(), c.InstructionCount()
		}
		return bios.HandleSWI(c, num)
	})

	m, err := machine.New(h.machineConfig(),
		machine.WithSWIHandler(swi),
		machine.WithLogger(h.config.Logger.WithValues("benchmark", bench.Name)))
	if err != nil {
		return BenchmarkResult{}, err
	}
	defer func() { _ = m.Close() }()

	prog := &loader.Program{
		EntryPoint: ProgramAddr,
		Segments: []loader.Segment{{
			VirtAddr: ProgramAddr,
			Data:     bench.Program,
			MemSize:  uint32(len(bench.Program)),
			Flags:    loader.SegmentFlagRead | loader.SegmentFlagExecute,
		}},
		InitialSP: loader.DefaultStackTop,
	}
	if err := m.BootELF(prog, region.ARM9); err != nil {
		return BenchmarkResult{}, err
	}

	core := m.Core(region.ARM9)
	if bench.Setup != nil {
		bench.Setup(core.Regs())
	}

	start := time.Now()
	for !halted {
		if m.Scheduler().Cycles() >= h.config.MaxCycles {
			return BenchmarkResult{}, fmt.Errorf("%w after %d cycles", ErrTimeout, m.Scheduler().Cycles())
		}
		if err := m.RunSlice(m.Config().SliceCycles); err != nil {
			return BenchmarkResult{}, err
		}
	}
	wallTime := time.Since(start)

	result := BenchmarkResult{
		Name:         bench.Name,
		Description:  bench.Description,
		JIT:          h.config.JIT,
		Cycles:       cycles,
		Instructions: instructions,
		R0:           core.Regs().R[0],
		WallTime:     wallTime,
	}
	result.Passed = result.R0 == bench.ExpectedR0
	if instructions > 0 {
		result.CPI = float64(cycles) / float64(instructions)
	}

	if ic := m.CacheTiming().ICache(); ic != nil {
		s := ic.Stats()
		result.ICacheHits, result.ICacheMisses = s.Hits, s.Misses
	}
	if dc := m.CacheTiming().DCache(); dc != nil {
		s := dc.Stats()
		result.DCacheHits, result.DCacheMisses = s.Hits, s.Misses
	}
	if c := m.JIT(region.ARM9); c != nil {
		s := c.Stats()
		result.BlocksCompiled, result.BlockHits, result.Invalidations = s.Compiled, s.Hits, s.Invalidated
	}

	h.config.Logger.V(1).Info("benchmark done", "name", bench.Name, "cycles", cycles, "r0", result.R0)

	return result, nil
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	p := message.NewPrinter(language.English)
	w := h.config.Output

	_, _ = fmt.Fprintln(w, "=== dscore Benchmark Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		status := "ok"
		if !r.Passed {
			status = "WRONG RESULT"
		}

		_, _ = p.Fprintf(w, "Benchmark: %s (%s)\n", r.Name, status)
		_, _ = p.Fprintf(w, "  Description:  %s\n", r.Description)
		_, _ = p.Fprintf(w, "  R0:           %d\n", r.R0)
		_, _ = p.Fprintf(w, "  Cycles:       %d\n", r.Cycles)
		_, _ = p.Fprintf(w, "  Instructions: %d\n", r.Instructions)
		_, _ = p.Fprintf(w, "  CPI:          %.3f\n", r.CPI)

		if r.ICacheHits > 0 || r.ICacheMisses > 0 {
			_, _ = p.Fprintf(w, "  I-Cache:      %d hits, %d misses\n", r.ICacheHits, r.ICacheMisses)
		}
		if r.DCacheHits > 0 || r.DCacheMisses > 0 {
			_, _ = p.Fprintf(w, "  D-Cache:      %d hits, %d misses\n", r.DCacheHits, r.DCacheMisses)
		}
		if r.JIT {
			_, _ = p.Fprintf(w, "  Blocks:       %d compiled, %d hits, %d invalidated\n",
				r.BlocksCompiled, r.BlockHits, r.Invalidations)
		}

		_, _ = p.Fprintf(w, "  Wall Time:    %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	w := h.config.Output
	_, _ = fmt.Fprintln(w,
		"name,jit,cycles,instructions,cpi,r0,passed,icache_hits,icache_misses,dcache_hits,dcache_misses,blocks_compiled")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s,%t,%d,%d,%.3f,%d,%t,%d,%d,%d,%d,%d\n",
			r.Name,
			r.JIT,
			r.Cycles,
			r.Instructions,
			r.CPI,
			r.R0,
			r.Passed,
			r.ICacheHits,
			r.ICacheMisses,
			r.DCacheHits,
			r.DCacheMisses,
			r.BlocksCompiled,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	Timestamp     string `json:"timestamp"`
	JIT           bool   `json:"jit"`
	ICacheEnabled bool   `json:"icache_enabled"`
	DCacheEnabled bool   `json:"dcache_enabled"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks   int           `json:"total_benchmarks"`
	Failed            int           `json:"failed"`
	TotalCycles       uint64        `json:"total_cycles"`
	TotalInstructions uint64        `json:"total_instructions"`
	AverageCPI        float64       `json:"average_cpi"`
	TotalWallTime     time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		s.TotalCycles += r.Cycles
		s.TotalInstructions += r.Instructions
		s.TotalWallTime += r.WallTime
		if !r.Passed {
			s.Failed++
		}
	}
	if s.TotalInstructions > 0 {
		s.AverageCPI = float64(s.TotalCycles) / float64(s.TotalInstructions)
	}
	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			JIT:           h.config.JIT,
			ICacheEnabled: h.config.EnableICache,
			DCacheEnabled: h.config.EnableDCache,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
