package jit

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/mem/region"
)

// ErrBlockTooLarge is returned when a block does not fit in an empty arena.
var ErrBlockTooLarge = errors.New("jit: block larger than code memory")

// DefaultCodeSize is the default arena capacity in ops.
const DefaultCodeSize = 1 << 20

// Block is a translated run of guest instructions.
type Block struct {
	// Start and End delimit the keys the block was translated from. End is
	// exclusive.
	Start, End uint32

	// GuestStart is the guest address the block was translated at.
	GuestStart uint32

	HostOffset uint32
	HostLength uint32

	// Cycles is the estimated cost of running the whole block.
	Cycles uint64

	handle uint32
}

// Statistics holds cache counters.
type Statistics struct {
	Hits        uint64
	Misses      uint64
	Compiled    uint64
	Invalidated uint64
	Flushes     uint64
	Breakouts   uint64
}

// Cache holds the translated blocks of one CPU.
type Cache struct {
	cpu     region.CPU
	entries *Map
	live    *LiveRanges
	code    *Memory

	blocks  []*Block
	handles []uint32

	running  *Block
	breakout bool

	stats Statistics
	log   logr.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger sets the logger.
func WithCacheLogger(log logr.Logger) CacheOption {
	return func(c *Cache) {
		c.log = log
	}
}

// WithCodeSize sets the arena capacity in ops.
func WithCodeSize(ops uint32) CacheOption {
	return func(c *Cache) {
		c.code = NewMemory(ops)
	}
}

// NewCache creates the cache of cpu over the store layout of table.
func NewCache(cpu region.CPU, table *region.Table, opts ...CacheOption) *Cache {
	c := &Cache{
		cpu:     cpu,
		entries: NewMap(table.StoreSize(), table.CodeRanges()),
		live:    NewLiveRanges(table.StoreSize()),
		blocks:  []*Block{nil},
		log:     logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.code == nil {
		c.code = NewMemory(DefaultCodeSize)
	}

	return c
}

var _ mem.CodeCache = (*Cache)(nil)

// Stats returns the counters.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Blocks returns the number of live blocks.
func (c *Cache) Blocks() int {
	return len(c.blocks) - 1 - len(c.handles)
}

// GetJitEntry returns the block whose entry covers key, if any.
func (c *Cache) GetJitEntry(key uint32) *Block {
	return c.blocks[c.entries.Get(key)]
}

// HasJitBlock reports whether any block may cover the key page.
func (c *Cache) HasJitBlock(key uint32) bool {
	return c.live.Test(key)
}

// Lookup returns the block starting at key that was translated at guestPC.
func (c *Cache) Lookup(key, guestPC uint32) *Block {
	b := c.GetJitEntry(key)
	if b == nil || b.Start != key || b.GuestStart != guestPC {
		c.stats.Misses++
		return nil
	}

	c.stats.Hits++
	return b
}

// Insert stores a translated block. A full arena flushes the cache first.
func (c *Cache) Insert(b *Block, ops []HostOp) error {
	n := uint32(len(ops))
	if n > c.code.Cap() {
		return fmt.Errorf("%w: %d ops at %08x", ErrBlockTooLarge, n, b.GuestStart)
	}

	off, ok := c.code.Alloc(n)
	if !ok {
		c.log.V(1).Info("code memory full, flushing", "cpu", c.cpu, "blocks", c.Blocks())
		c.Reset()
		c.stats.Flushes++
		off, _ = c.code.Alloc(n)
	}

	c.code.Write(off, ops)
	b.HostOffset, b.HostLength = off, n
	b.handle = c.newHandle(b)

	c.entries.WriteEntries(b.Start, b.End-b.Start, b.handle)

	// Blocks starting inside b keep their own start slot.
	for _, o := range c.live.Overlapping(b.Start, b.End-b.Start) {
		if o.Start > b.Start {
			c.entries.WriteEntries(o.Start, 1, o.handle)
		}
	}
	c.live.Add(b)
	c.stats.Compiled++

	return nil
}

func (c *Cache) newHandle(b *Block) uint32 {
	if n := len(c.handles); n > 0 {
		h := c.handles[n-1]
		c.handles = c.handles[:n-1]
		c.blocks[h] = b
		return h
	}

	c.blocks = append(c.blocks, b)
	return uint32(len(c.blocks) - 1)
}

func (c *Cache) remove(b *Block) {
	c.entries.ClearEntries(b.Start, b.End-b.Start, b.handle)
	c.live.Remove(b)
	c.code.Free(b.HostOffset, b.HostLength)
	c.blocks[b.handle] = nil
	c.handles = append(c.handles, b.handle)
	c.stats.Invalidated++

	// Hand the freed slots back to the blocks that still cover them.
	for _, o := range c.live.Overlapping(b.Start, b.End-b.Start) {
		c.entries.WriteEntries(o.Start, 1, o.handle)
		c.entries.FillEntries(o.Start, o.End-o.Start, o.handle)
	}
}

// InvalidateBlock drops every block overlapping [key, key+size). It
// returns true if a block starting at currentPC was dropped.
func (c *Cache) InvalidateBlock(key, size, currentPC uint32) bool {
	hit := false
	for _, b := range c.live.Overlapping(key, size) {
		if b.Start == currentPC {
			hit = true
		}
		c.remove(b)
	}
	return hit
}

// Invalidate drops the blocks overlapping [key, key+size) and breaks out of
// the running block if it was one of them.
func (c *Cache) Invalidate(key, size uint32) {
	pc, ok := c.Running()
	if !ok {
		pc = mem.NoBlock
	}
	if c.InvalidateBlock(key, size, pc) {
		c.SetBreakout()
	}
}

// Running returns the start key of the executing block.
func (c *Cache) Running() (uint32, bool) {
	if c.running == nil {
		return 0, false
	}
	return c.running.Start, true
}

// SetBreakout makes the executor leave the running block after the
// current op.
func (c *Cache) SetBreakout() {
	c.breakout = true
	c.stats.Breakouts++
}

// Reset drops every block.
func (c *Cache) Reset() {
	c.entries.Reset()
	c.live.Reset()
	c.code.Reset()
	clear(c.blocks)
	c.blocks = c.blocks[:1]
	c.handles = c.handles[:0]
}

// Execute runs b on core until it ends, an op leaves the straight line or
// the block is invalidated underneath.
func (c *Cache) Execute(core *emu.Core, b *Block) emu.Result {
	c.running = b
	c.breakout = false
	defer func() { c.running = nil }()

	for _, op := range c.code.Ops(b.HostOffset, b.HostLength) {
		if res := op(core); res.Ends() {
			return res
		}
		if c.breakout {
			break
		}
	}

	return emu.ResultContinue
}
