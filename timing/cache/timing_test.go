package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/timing/cache"
	"github.com/sarchlab/dscore/timing/latency"
)

var _ = Describe("Timing", func() {
	var (
		table *latency.Table
		cp    *emu.CP15
		t     *cache.Timing
	)

	BeforeEach(func() {
		table = latency.NewTable(region.ARM9)
		cp = emu.NewCP15(mmu.NewControl())
		t = cache.NewTiming(table, cp)
	})

	enable := func(bits uint32) {
		cp.Write(1, 0, 0, 0, cp.Read(1, 0, 0, 0)|bits)
	}

	It("should use wait states while the caches are off", func() {
		Expect(t.Fetch(0x02000000)).To(Equal(table.Fetch(0x02000000)))
		Expect(t.Fetch(0x02000000)).To(Equal(table.Fetch(0x02000000)))
		Expect(t.ICache().Stats().Reads).To(BeZero())
	})

	It("should hit the instruction cache once enabled", func() {
		enable(emu.ControlICache)

		miss := table.Config().ARM9ICache.MissPenalty
		Expect(t.Fetch(0x02000000)).To(Equal(miss))
		Expect(t.Fetch(0x02000004)).To(Equal(table.Config().ARM9ICache.HitLatency))
	})

	It("should not cache IO", func() {
		enable(emu.ControlDCache)

		Expect(t.DataAccess(0x04000000, false)).To(Equal(table.DataAccess(0x04000000, false)))
		Expect(t.DCache().Stats().Reads).To(BeZero())
	})

	It("should send data write misses to memory", func() {
		enable(emu.ControlDCache)

		Expect(t.DataAccess(0x02000000, true)).To(Equal(table.DataAccess(0x02000000, true)))
		t.DataAccess(0x02000000, false)
		Expect(t.DataAccess(0x02000000, true)).To(Equal(table.Config().ARM9DCache.HitLatency))
	})

	It("should bypass the caches for the data TCM", func() {
		enable(emu.ControlDCache | emu.ControlDTCMEnable)
		cp.Write(9, 1, 0, 0, 0x0300000A)

		Expect(t.DataAccess(0x03000000, false)).To(Equal(table.Core().WaitStates.TCM))
		Expect(t.DCache().Stats().Reads).To(BeZero())
	})

	It("should not fetch from the data TCM", func() {
		enable(emu.ControlDTCMEnable)
		cp.Write(9, 1, 0, 0, 0x0200000A)

		Expect(t.Fetch(0x02000000)).To(Equal(table.Fetch(0x02000000)))
	})

	It("should keep caches on without a CP15", func() {
		t = cache.NewTiming(table, nil)
		t.DataAccess(0x02000000, false)
		Expect(t.DCache().Stats().Misses).To(Equal(uint64(1)))
	})
})
