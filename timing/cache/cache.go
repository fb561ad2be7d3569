// Package cache models the timing of the ARM9 instruction and data caches
// using Akita cache components.
//
// The caches only track tags: guest data always lives in the backing store
// and is accessed through the memory dispatcher. An access returns the
// cycles it costs.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/dscore/timing/latency"
)

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Evicted is true if a dirty line was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted line (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Cache is a set associative tag array.
type Cache struct {
	config latency.CacheConfig

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	stats Statistics
}

// New creates a new cache with the given configuration. The configuration
// must be valid, see latency.TimingConfig.Validate.
func New(config latency.CacheConfig) *Cache {
	numSets := int(config.Size / (config.Assoc * config.LineSize))

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			int(config.Assoc),
			int(config.LineSize),
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() latency.CacheConfig {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

func (c *Cache) lineAddr(addr uint32) uint64 {
	return uint64(addr) / c.config.LineSize * c.config.LineSize
}

// Read performs a cache read. A miss allocates the line.
func (c *Cache) Read(addr uint32) AccessResult {
	c.stats.Reads++

	block := c.directory.Lookup(0, c.lineAddr(addr))
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	return c.fill(addr)
}

// Write performs a cache write. The ARM9 data cache does not allocate on
// writes: a miss goes straight to memory.
func (c *Cache) Write(addr uint32) AccessResult {
	c.stats.Writes++

	block := c.directory.Lookup(0, c.lineAddr(addr))
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		block.IsDirty = true
		return AccessResult{Hit: true, Latency: c.config.HitLatency}
	}

	c.stats.Misses++
	return AccessResult{Latency: c.config.MissPenalty}
}

// fill allocates the line of addr, evicting the LRU way.
func (c *Cache) fill(addr uint32) AccessResult {
	result := AccessResult{Latency: c.config.MissPenalty}

	line := c.lineAddr(addr)
	victim := c.directory.FindVictim(line)
	if victim == nil {
		return result
	}

	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
			result.Evicted = true
			result.EvictedAddr = victim.Tag
			result.Latency += c.config.MissPenalty
		}
	}

	victim.Tag = line
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)

	return result
}

// Invalidate marks the line of addr as invalid.
func (c *Cache) Invalidate(addr uint32) {
	block := c.directory.Lookup(0, c.lineAddr(addr))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back all dirty lines and invalidates them.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates all lines without writeback.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
