package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/timing/cache"
	"github.com/sarchlab/dscore/timing/latency"
)

var _ = Describe("Cache", func() {
	var c *cache.Cache

	// 4 sets of 2 ways: lines 0x80 bytes apart share a set.
	BeforeEach(func() {
		c = cache.New(latency.CacheConfig{
			Size:        256,
			Assoc:       2,
			LineSize:    32,
			HitLatency:  1,
			MissPenalty: 10,
		})
	})

	Describe("Read", func() {
		It("should miss then hit on the same line", func() {
			r := c.Read(0x02000004)
			Expect(r.Hit).To(BeFalse())
			Expect(r.Latency).To(Equal(uint64(10)))

			r = c.Read(0x0200001C)
			Expect(r.Hit).To(BeTrue())
			Expect(r.Latency).To(Equal(uint64(1)))

			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(2)))
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
		})

		It("should evict the least recently used way", func() {
			c.Read(0x02000000)
			c.Read(0x02000080)
			c.Read(0x02000000)
			c.Read(0x02000100)

			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
			Expect(c.Read(0x02000000).Hit).To(BeTrue())
			Expect(c.Read(0x02000080).Hit).To(BeFalse())
		})

		It("should not evict lines of other sets", func() {
			c.Read(0x02000000)
			c.Read(0x02000020)
			c.Read(0x02000040)
			c.Read(0x02000060)

			Expect(c.Stats().Evictions).To(BeZero())
		})
	})

	Describe("Write", func() {
		It("should not allocate on a write miss", func() {
			r := c.Write(0x02000000)
			Expect(r.Hit).To(BeFalse())
			Expect(r.Latency).To(Equal(uint64(10)))
			Expect(c.Read(0x02000000).Hit).To(BeFalse())
		})

		It("should write back a dirty victim", func() {
			c.Read(0x02000000)
			c.Write(0x02000000)
			c.Read(0x02000080)

			r := c.Read(0x02000100)
			Expect(r.Evicted).To(BeTrue())
			Expect(r.EvictedAddr).To(Equal(uint64(0x02000000)))
			Expect(r.Latency).To(Equal(uint64(20)))
			Expect(c.Stats().Writebacks).To(Equal(uint64(1)))
		})
	})

	It("should invalidate a single line", func() {
		c.Read(0x02000000)
		c.Read(0x02000020)
		c.Invalidate(0x02000010)

		Expect(c.Read(0x02000000).Hit).To(BeFalse())
		Expect(c.Read(0x02000020).Hit).To(BeTrue())
	})

	It("should count dirty lines on flush", func() {
		c.Read(0x02000000)
		c.Read(0x02000020)
		c.Write(0x02000000)
		c.Write(0x02000020)
		c.Flush()

		Expect(c.Stats().Writebacks).To(Equal(uint64(2)))
		Expect(c.Read(0x02000000).Hit).To(BeFalse())
	})

	It("should clear lines and statistics on reset", func() {
		c.Read(0x02000000)
		c.Reset()

		Expect(c.Stats()).To(Equal(cache.Statistics{}))
		Expect(c.Read(0x02000000).Hit).To(BeFalse())
	})
})
