package jit_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/jit"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/mem/vmem"
)

var _ = Describe("Map", func() {
	var (
		table *region.Table
		m     *jit.Map
	)

	BeforeEach(func() {
		table = region.NewTable(vmem.PageSize)
		m = jit.NewMap(table.StoreSize(), table.CodeRanges())
	})

	It("should have entries only for code regions", func() {
		Expect(m.Entry(table.Get(region.MainRAM).Offset)).NotTo(BeNil())
		Expect(m.Entry(table.Get(region.VRAM).Offset + 0x8000)).To(BeNil())
		Expect(m.Entry(0xFFFFFFF0)).To(BeNil())
	})

	It("should clear only the entries holding the value", func() {
		base := table.Get(region.MainRAM).Offset
		m.WriteEntries(base, 16, 1)
		m.WriteEntries(base+8, 16, 2)

		m.ClearEntries(base, 16, 1)
		Expect(m.Get(base)).To(BeZero())
		Expect(m.Get(base + 4)).To(BeZero())
		Expect(m.Get(base + 8)).To(Equal(uint32(2)))
		Expect(m.Get(base + 20)).To(Equal(uint32(2)))
	})
})

var _ = Describe("LiveRanges", func() {
	It("should keep a page live until its last block is gone", func() {
		l := jit.NewLiveRanges(64 * 1024)
		a := &jit.Block{Start: 0x200, End: 0x210}
		b := &jit.Block{Start: 0x300, End: 0x420}

		l.Add(a)
		l.Add(b)
		Expect(l.Test(0x3FF)).To(BeTrue())
		Expect(l.Test(0x400)).To(BeTrue())
		Expect(l.Test(0x600)).To(BeFalse())

		Expect(l.Overlapping(0x20C, 4)).To(ConsistOf(a))
		Expect(l.Overlapping(0x200, 0x400)).To(ConsistOf(a, b))

		l.Remove(a)
		Expect(l.Test(0x200)).To(BeTrue())
		l.Remove(b)
		Expect(l.Test(0x200)).To(BeFalse())
		Expect(l.Test(0x400)).To(BeFalse())
	})

	It("should treat keys beyond the store as dead", func() {
		l := jit.NewLiveRanges(4096)
		Expect(l.Test(0x100000)).To(BeFalse())
	})
})

var _ = Describe("Memory", func() {
	nop := func(*emu.Core) emu.Result { return emu.ResultContinue }

	It("should reuse freed slots of the same size", func() {
		m := jit.NewMemory(16)
		a, ok := m.Alloc(4)
		Expect(ok).To(BeTrue())
		_, ok = m.Alloc(3)
		Expect(ok).To(BeTrue())

		m.Write(a, []jit.HostOp{nop, nop, nop, nop})
		m.Free(a, 4)

		again, ok := m.Alloc(4)
		Expect(ok).To(BeTrue())
		Expect(again).To(Equal(a))
		Expect(m.Used()).To(Equal(uint32(7)))
	})

	It("should fail when full", func() {
		m := jit.NewMemory(4)
		_, ok := m.Alloc(3)
		Expect(ok).To(BeTrue())
		_, ok = m.Alloc(2)
		Expect(ok).To(BeFalse())

		m.Reset()
		_, ok = m.Alloc(4)
		Expect(ok).To(BeTrue())
	})
})
