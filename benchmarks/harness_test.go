package benchmarks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/benchmarks"
)

func newHarness(jit bool, out *bytes.Buffer) *benchmarks.Harness {
	cfg := benchmarks.DefaultConfig()
	cfg.JIT = jit
	cfg.Output = out
	return benchmarks.NewHarness(cfg)
}

var _ = Describe("Encoders", func() {
	It("should encode the loop idioms", func() {
		Expect(benchmarks.EncodeADDImm(0, 0, 1, false)).To(Equal(uint32(0xE2800001)))
		Expect(benchmarks.EncodeSUBImm(1, 1, 1, true)).To(Equal(uint32(0xE2511001)))
		Expect(benchmarks.EncodeCMPImm(1, 50)).To(Equal(uint32(0xE3510032)))
		Expect(benchmarks.EncodeMOVImm(2, 64)).To(Equal(uint32(0xE3A02040)))
		Expect(benchmarks.EncodeB(-4)).To(Equal(uint32(0xEAFFFFFD)))
		Expect(benchmarks.EncodeBL(16)).To(Equal(uint32(0xEB000002)))
		Expect(benchmarks.EncodeLDR(0, 1, 4)).To(Equal(uint32(0xE5910004)))
		Expect(benchmarks.EncodeSTR(0, 1, 4)).To(Equal(uint32(0xE5810004)))
		Expect(benchmarks.EncodeMUL(0, 1, 2)).To(Equal(uint32(0xE0000291)))
		Expect(benchmarks.EncodeSWI(6)).To(Equal(uint32(0xEF060000)))
	})

	It("should lay out words little endian", func() {
		Expect(benchmarks.BuildProgram(0xE2800001)).To(Equal([]byte{0x01, 0x00, 0x80, 0xE2}))
	})
})

var _ = Describe("Harness", func() {
	for _, jit := range []bool{false, true} {
		name := "interpreted"
		if jit {
			name = "translated"
		}

		Context(name, func() {
			It("should compute the expected result for every microbenchmark", func() {
				var out bytes.Buffer
				h := newHarness(jit, &out)
				h.AddBenchmarks(benchmarks.GetMicrobenchmarks()...)

				results, err := h.RunAll()
				Expect(err).NotTo(HaveOccurred())
				Expect(results).To(HaveLen(len(benchmarks.GetMicrobenchmarks())))

				for _, r := range results {
					Expect(r.Passed).To(BeTrue(), "%s returned %d", r.Name, r.R0)
					Expect(r.JIT).To(Equal(jit))
					Expect(r.Instructions).To(BeNumerically(">", 0))
					Expect(r.Cycles).To(BeNumerically(">=", r.Instructions))
				}
			})
		})
	}

	It("should retire the same instructions with and without the translator", func() {
		var out bytes.Buffer
		interp := newHarness(false, &out)
		interp.AddBenchmarks(benchmarks.GetCoreBenchmarks()...)
		translated := newHarness(true, &out)
		translated.AddBenchmarks(benchmarks.GetCoreBenchmarks()...)

		a, err := interp.RunAll()
		Expect(err).NotTo(HaveOccurred())
		b, err := translated.RunAll()
		Expect(err).NotTo(HaveOccurred())

		for i := range a {
			Expect(b[i].Instructions).To(Equal(a[i].Instructions), a[i].Name)
			Expect(b[i].R0).To(Equal(a[i].R0), a[i].Name)
		}
	})

	It("should compile loop blocks once and reuse them", func() {
		var out bytes.Buffer
		h := newHarness(true, &out)

		r, err := h.Run(benchmarks.GetCoreBenchmarks()[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(r.BlockHits).To(BeNumerically(">", r.BlocksCompiled))
	})

	It("should invalidate the patched block", func() {
		var out bytes.Buffer
		h := newHarness(true, &out)

		var smc benchmarks.Benchmark
		for _, b := range benchmarks.GetMicrobenchmarks() {
			if b.Name == "self_modifying" {
				smc = b
			}
		}

		r, err := h.Run(smc)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Passed).To(BeTrue())
		Expect(r.Invalidations).To(BeNumerically(">", 0))
	})

	It("should count cache traffic only when caches are on", func() {
		var out bytes.Buffer
		cfg := benchmarks.DefaultConfig()
		cfg.Output = &out
		cfg.EnableICache = false
		cfg.EnableDCache = false
		h := benchmarks.NewHarness(cfg)

		r, err := h.Run(benchmarks.GetCoreBenchmarks()[1])
		Expect(err).NotTo(HaveOccurred())
		Expect(r.ICacheHits + r.ICacheMisses).To(BeZero())
		Expect(r.DCacheHits + r.DCacheMisses).To(BeZero())

		h = newHarness(false, &out)
		r, err = h.Run(benchmarks.GetCoreBenchmarks()[1])
		Expect(err).NotTo(HaveOccurred())
		Expect(r.ICacheHits).To(BeNumerically(">", 0))
		Expect(r.DCacheHits + r.DCacheMisses).To(BeNumerically(">", 0))
	})

	It("should time out a program that never halts", func() {
		var out bytes.Buffer
		cfg := benchmarks.DefaultConfig()
		cfg.Output = &out
		cfg.MaxCycles = 5000
		h := benchmarks.NewHarness(cfg)

		_, err := h.Run(benchmarks.Benchmark{
			Name:    "spin",
			Program: benchmarks.BuildProgram(benchmarks.EncodeB(0)),
		})
		Expect(err).To(MatchError(benchmarks.ErrTimeout))
	})

	It("should keep order when running in parallel", func() {
		var out bytes.Buffer
		h := newHarness(true, &out)
		h.AddBenchmarks(benchmarks.GetMicrobenchmarks()...)

		results, err := h.RunParallel(context.Background(), 4)
		Expect(err).NotTo(HaveOccurred())
		for i, b := range benchmarks.GetMicrobenchmarks() {
			Expect(results[i].Name).To(Equal(b.Name))
		}
	})

	It("should stop on a cancelled context", func() {
		var out bytes.Buffer
		h := newHarness(true, &out)
		h.AddBenchmarks(benchmarks.GetCoreBenchmarks()...)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.RunParallel(ctx, 1)
		Expect(err).To(MatchError(context.Canceled))
	})

	Describe("reports", func() {
		var (
			out     bytes.Buffer
			h       *benchmarks.Harness
			results []benchmarks.BenchmarkResult
		)

		BeforeEach(func() {
			out.Reset()
			h = newHarness(true, &out)
			h.AddBenchmarks(benchmarks.GetCoreBenchmarks()...)

			var err error
			results, err = h.RunAll()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should print one CSV row per benchmark", func() {
			h.PrintCSV(results)
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			Expect(lines).To(HaveLen(len(results) + 1))
			Expect(lines[0]).To(HavePrefix("name,jit,cycles"))
			Expect(lines[1]).To(HavePrefix("count_loop,true,"))
		})

		It("should print a JSON report with a summary", func() {
			Expect(h.PrintJSON(results)).To(Succeed())

			var report benchmarks.BenchmarkReport
			Expect(json.Unmarshal(out.Bytes(), &report)).To(Succeed())
			Expect(report.Summary.TotalBenchmarks).To(Equal(len(results)))
			Expect(report.Summary.Failed).To(BeZero())
			Expect(report.Metadata.JIT).To(BeTrue())
		})

		It("should print human readable results", func() {
			h.PrintResults(results)
			Expect(out.String()).To(ContainSubstring("Benchmark: count_loop (ok)"))
			Expect(out.String()).To(ContainSubstring("Blocks:"))
		})
	})
})
