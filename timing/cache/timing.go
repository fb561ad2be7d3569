package cache

import (
	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/timing/latency"
)

// Timing prices ARM9 memory accesses through the instruction and data
// caches. TCM accesses and uncached regions fall through to the wait
// states of the latency table. It implements emu.MemoryTiming.
type Timing struct {
	table  *latency.Table
	icache *Cache
	dcache *Cache
	cp15   *emu.CP15
}

var _ emu.MemoryTiming = (*Timing)(nil)

// NewTiming creates the ARM9 cache timing model. cp15 gates the caches and
// supplies the TCM windows; a nil cp15 keeps both caches on. A cache whose
// size is zero is not modeled.
func NewTiming(table *latency.Table, cp15 *emu.CP15) *Timing {
	t := &Timing{table: table, cp15: cp15}

	cfg := table.Config()
	if cfg.ARM9ICache.Size > 0 {
		t.icache = New(cfg.ARM9ICache)
	}
	if cfg.ARM9DCache.Size > 0 {
		t.dcache = New(cfg.ARM9DCache)
	}

	return t
}

// ICache returns the instruction cache, or nil.
func (t *Timing) ICache() *Cache { return t.icache }

// DCache returns the data cache, or nil.
func (t *Timing) DCache() *Cache { return t.dcache }

// Cacheable reports whether addr lies in a cacheable region: main RAM and
// the BIOS.
func Cacheable(addr uint32) bool {
	return addr>>24 == 0x02 || addr >= 0xFFFF0000
}

func (t *Timing) control() *mmu.Control {
	if t.cp15 == nil {
		return nil
	}
	return t.cp15.Control()
}

// Fetch returns the cycles an instruction fetch at addr adds. Fetches never
// see the data TCM.
func (t *Timing) Fetch(addr uint32) uint64 {
	if ctrl := t.control(); ctrl != nil && ctrl.ITCM.Readable(addr) {
		return t.table.Core().WaitStates.TCM
	}

	on := t.cp15 == nil || t.cp15.ICacheEnabled()
	if t.icache == nil || !on || !Cacheable(addr) {
		return t.table.Fetch(addr)
	}

	return t.icache.Read(addr).Latency
}

// DataAccess returns the cycles a data access at addr adds.
func (t *Timing) DataAccess(addr uint32, write bool) uint64 {
	if ctrl := t.control(); ctrl != nil {
		tcm := ctrl.ITCM.Readable(addr) || ctrl.DTCM.Readable(addr)
		if write {
			tcm = ctrl.ITCM.Writable(addr) || ctrl.DTCM.Writable(addr)
		}
		if tcm {
			return t.table.Core().WaitStates.TCM
		}
	}

	on := t.cp15 == nil || t.cp15.DCacheEnabled()
	if t.dcache == nil || !on || !Cacheable(addr) {
		return t.table.DataAccess(addr, write)
	}

	if !write {
		return t.dcache.Read(addr).Latency
	}

	// Write misses go to memory.
	r := t.dcache.Write(addr)
	if !r.Hit {
		return t.table.DataAccess(addr, write)
	}
	return r.Latency
}

// Reset invalidates both caches.
func (t *Timing) Reset() {
	if t.icache != nil {
		t.icache.Reset()
	}
	if t.dcache != nil {
		t.dcache.Reset()
	}
}
