package jit_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/jit"
	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/mem/vmem"
)

var _ = Describe("Cache", func() {
	var (
		table      *region.Table
		memory     *mem.Memory
		core       *emu.Core
		cache      *jit.Cache
		arm7Cache  *jit.Cache
		translator *jit.Translator
	)

	mainKey := func(addr uint32) uint32 {
		return table.Get(region.MainRAM).Offset + addr - 0x02000000
	}

	load := func(addr uint32, words ...uint32) {
		buf := make([]byte, 4*len(words))
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[4*i:], w)
		}
		Expect(memory.Load(region.ARM9, addr, buf)).To(Succeed())
	}

	build := func(opts ...jit.CacheOption) {
		table = region.NewTable(vmem.PageSize)
		store := vmem.NewStore(table.StoreSize())
		ctrl := mmu.NewControl()

		arm9, err := mmu.New(region.ARM9, table, store, ctrl)
		Expect(err).NotTo(HaveOccurred())
		arm7, err := mmu.New(region.ARM7, table, store, ctrl)
		Expect(err).NotTo(HaveOccurred())
		memory, err = mem.New(table, store, arm9, arm7)
		Expect(err).NotTo(HaveOccurred())

		core = emu.NewCore(region.ARM9, memory.Bus(region.ARM9))
		cache = jit.NewCache(region.ARM9, table, opts...)
		arm7Cache = jit.NewCache(region.ARM7, table)
		memory.SetCodeCache(region.ARM9, cache)
		memory.SetCodeCache(region.ARM7, arm7Cache)

		translator = jit.NewTranslator(core, cache, func(addr uint32) (uint32, bool) {
			return memory.JitKey(region.ARM9, addr)
		})
	}

	BeforeEach(func() {
		build()
	})

	Describe("translation", func() {
		It("should stop after the first branch", func() {
			load(0x02000000,
				0xE3A00001, // MOV R0, #1
				0xE2800002, // ADD R0, R0, #2
				0xEAFFFFFE, // B .
				0xE3A00009, // MOV R0, #9
			)

			b, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Start).To(Equal(mainKey(0x02000000)))
			Expect(b.End).To(Equal(mainKey(0x0200000C)))
			Expect(b.HostLength).To(Equal(uint32(3)))
			Expect(b.Cycles).To(BeNumerically(">", 0))
			Expect(cache.Lookup(b.Start, 0x02000000)).To(BeIdenticalTo(b))
		})

		It("should run a block through the cache", func() {
			load(0x02000000,
				0xE3A00001, // MOV R0, #1
				0xE2800002, // ADD R0, R0, #2
				0xE2401001, // SUB R1, R0, #1
				0xEAFFFFFE, // B .
			)
			core.SetPC(0x02000000)

			res, err := translator.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(emu.ResultBranch))
			Expect(core.Regs().R[0]).To(Equal(uint32(3)))
			Expect(core.Regs().R[1]).To(Equal(uint32(2)))
			Expect(core.PC()).To(Equal(uint32(0x0200000C)))
			Expect(core.InstructionCount()).To(Equal(uint64(4)))

			// The first pass over B . translates it, the second reuses it.
			for i := 0; i < 2; i++ {
				_, err = translator.Step()
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(cache.Stats().Hits).To(Equal(uint64(1)))
			Expect(cache.Stats().Compiled).To(Equal(uint64(2)))
		})

		It("should cap the block length", func() {
			translator = jit.NewTranslator(core, cache, func(addr uint32) (uint32, bool) {
				return memory.JitKey(region.ARM9, addr)
			}, jit.WithMaxBlockInstructions(2))
			load(0x02000000, 0xE3A00001, 0xE3A00002, 0xE3A00003)

			b, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())
			Expect(b.HostLength).To(Equal(uint32(2)))
		})

		It("should run loads and stores", func() {
			load(0x02000000,
				0xE3A01402, // MOV R1, #0x02000000
				0xE3A02055, // MOV R2, #0x55
				0xE5812100, // STR R2, [R1, #0x100]
				0xE5913100, // LDR R3, [R1, #0x100]
				0xEAFFFFFE, // B .
			)
			core.SetPC(0x02000000)

			_, err := translator.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(core.Regs().R[3]).To(Equal(uint32(0x55)))
			Expect(memory.Read32(region.ARM9, 0x02000100)).To(Equal(uint32(0x55)))
		})

		It("should miss for a mirror translated at another address", func() {
			load(0x02000000, 0xEAFFFFFE)
			b, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())

			key, ok := memory.JitKey(region.ARM9, 0x02400000)
			Expect(ok).To(BeTrue())
			Expect(key).To(Equal(b.Start))
			Expect(cache.Lookup(key, 0x02400000)).To(BeNil())
		})
	})

	Describe("invalidation", func() {
		It("should drop a block written over at 0x02000000", func() {
			load(0x02000000,
				0xE3A00001, // MOV R0, #1
				0xEAFFFFFE, // B .
			)
			b, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())
			Expect(cache.HasJitBlock(b.Start)).To(BeTrue())

			memory.Write32(region.ARM9, 0x02000000, 0xE3A00007) // MOV R0, #7

			Expect(cache.HasJitBlock(b.Start)).To(BeFalse())
			Expect(cache.Lookup(b.Start, 0x02000000)).To(BeNil())
			Expect(cache.GetJitEntry(b.Start + 4)).To(BeNil())

			core.SetPC(0x02000000)
			_, err = translator.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(core.Regs().R[0]).To(Equal(uint32(7)))
		})

		It("should leave blocks outside the written range alone", func() {
			load(0x02000000, 0xEAFFFFFE)
			load(0x02000800, 0xEAFFFFFE)
			far, err := translator.Translate(0x02000800)
			Expect(err).NotTo(HaveOccurred())
			_, err = translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())

			memory.Write32(region.ARM9, 0x02000000, 0)
			Expect(cache.Lookup(far.Start, 0x02000800)).To(BeIdenticalTo(far))
			Expect(cache.Blocks()).To(Equal(1))
		})

		It("should keep an overlapping block when another one is dropped", func() {
			load(0x02000000,
				0xE3A00001, // MOV R0, #1
				0xE3A00002, // MOV R0, #2
				0xEAFFFFFE, // B .
			)
			outer, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())
			inner, err := translator.Translate(0x02000004)
			Expect(err).NotTo(HaveOccurred())

			cache.InvalidateBlock(outer.Start, 4, mem.NoBlock)
			Expect(cache.Lookup(inner.Start, 0x02000004)).To(BeIdenticalTo(inner))
			Expect(cache.GetJitEntry(inner.Start + 4)).To(BeIdenticalTo(inner))
		})

		It("should keep an inner block when an enclosing block is dropped", func() {
			load(0x02000000,
				0xE3A00001, // MOV R0, #1
				0xE3A00002, // MOV R0, #2
				0xEAFFFFFE, // B .
			)
			inner, err := translator.Translate(0x02000004)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 5; i++ {
				outer, err := translator.Translate(0x02000000)
				Expect(err).NotTo(HaveOccurred())
				Expect(cache.Lookup(inner.Start, 0x02000004)).To(BeIdenticalTo(inner))
				Expect(cache.Lookup(outer.Start, 0x02000000)).To(BeIdenticalTo(outer))

				memory.Write32(region.ARM9, 0x02000000, 0xE3A00001)

				Expect(cache.GetJitEntry(inner.Start)).To(BeIdenticalTo(inner))
				Expect(cache.GetJitEntry(inner.Start + 4)).To(BeIdenticalTo(inner))
				Expect(cache.Blocks()).To(Equal(1))
			}

			Expect(cache.Stats().Compiled).To(Equal(uint64(6)))
		})

		It("should see writes from the other cpu to main ram", func() {
			load(0x02000000, 0xEAFFFFFE)
			b, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())

			memory.Write32(region.ARM7, 0x02000000, 0)
			Expect(cache.Lookup(b.Start, 0x02000000)).To(BeNil())
		})

		It("should break out of a block that rewrites itself", func() {
			load(0x02000000,
				0xE3A01402, // MOV R1, #0x02000000
				0xE5912020, // LDR R2, [R1, #0x20]
				0xE581200C, // STR R2, [R1, #0x0C]
				0xE3A03001, // MOV R3, #1
				0xEAFFFFFE, // B .
			)
			load(0x02000020, 0xE3A03007) // MOV R3, #7
			core.SetPC(0x02000000)

			res, err := translator.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(emu.ResultContinue))
			Expect(core.PC()).To(Equal(uint32(0x0200000C)))
			Expect(core.Regs().R[3]).To(BeZero())
			Expect(cache.Stats().Breakouts).To(Equal(uint64(1)))

			_, err = translator.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(core.Regs().R[3]).To(Equal(uint32(7)))
		})

		It("should not break out for writes to other blocks", func() {
			load(0x02000000,
				0xE3A01402, // MOV R1, #0x02000000
				0xE5811800, // STR R1, [R1, #0x800]
				0xEAFFFFFE, // B .
			)
			load(0x02000800, 0xEAFFFFFE)
			_, err := translator.Translate(0x02000800)
			Expect(err).NotTo(HaveOccurred())
			core.SetPC(0x02000000)

			res, err := translator.Step()
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(emu.ResultBranch))
			Expect(cache.Stats().Breakouts).To(BeZero())
			Expect(cache.Stats().Invalidated).To(Equal(uint64(1)))
		})
	})

	Describe("code memory", func() {
		It("should flush everything when full", func() {
			build(jit.WithCodeSize(4))
			load(0x02000000, 0xE3A00001, 0xE3A00002, 0xEAFFFFFE)
			load(0x02000100, 0xE3A00001, 0xE3A00002, 0xEAFFFFFE)

			first, err := translator.Translate(0x02000000)
			Expect(err).NotTo(HaveOccurred())
			second, err := translator.Translate(0x02000100)
			Expect(err).NotTo(HaveOccurred())

			Expect(cache.Stats().Flushes).To(Equal(uint64(1)))
			Expect(cache.Lookup(first.Start, 0x02000000)).To(BeNil())
			Expect(cache.Lookup(second.Start, 0x02000100)).To(BeIdenticalTo(second))
		})

		It("should reject a block larger than the arena", func() {
			build(jit.WithCodeSize(1))
			load(0x02000000, 0xE3A00001, 0xEAFFFFFE)
			_, err := translator.Translate(0x02000000)
			Expect(err).To(MatchError(jit.ErrBlockTooLarge))
		})
	})
})
