// Package mem dispatches guest memory accesses of both CPUs.
//
// An access first checks the ARM9 TCMs, then the CPU's page table, and only
// then falls back to a slow path that knows about I/O registers, read-only
// regions, the GBA slot and unmapped space. Writes to bytes that may hold
// translated code invalidate the affected blocks before they are committed.
package mem

import (
	"encoding/binary"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/mem/vmem"
)

// CodeCache is the part of a translated code cache the dispatcher needs to
// keep it coherent with guest writes.
type CodeCache interface {
	// HasJitBlock reports whether any block may cover the key.
	HasJitBlock(key uint32) bool

	// InvalidateBlock drops every block overlapping [key, key+size) and
	// reports whether the one starting at currentPC was among them.
	InvalidateBlock(key, size, currentPC uint32) bool

	// Running returns the start key of the block being executed.
	Running() (uint32, bool)

	// SetBreakout asks the executor to leave the running block.
	SetBreakout()
}

// NoBlock is passed as currentPC when no block is executing.
const NoBlock = 0xFFFFFFFF

// Memory is the dispatcher shared by both CPUs.
type Memory struct {
	table *region.Table
	store *vmem.Store
	ctrl  *mmu.Control
	mmus  [2]*mmu.Mmu
	io    [2]*IOMap
	jit   [2]CodeCache

	// Keys in [sharedLo, sharedHi) are visible to both CPUs.
	sharedLo uint32
	sharedHi uint32

	mode Mode
	log  logr.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithMode sets how unmapped accesses are handled.
func WithMode(mode Mode) Option {
	return func(m *Memory) {
		m.mode = mode
	}
}

// WithLogger sets the logger used in diagnostic mode.
func WithLogger(log logr.Logger) Option {
	return func(m *Memory) {
		m.log = log
	}
}

// New creates a dispatcher over two page tables that share store and ctrl.
func New(table *region.Table, store *vmem.Store, arm9, arm7 *mmu.Mmu, opts ...Option) (*Memory, error) {
	if arm9.CPU() != region.ARM9 || arm7.CPU() != region.ARM7 {
		return nil, fmt.Errorf("mem: page tables passed in the wrong order")
	}
	if arm9.Control() != arm7.Control() {
		return nil, fmt.Errorf("mem: page tables do not share control state")
	}

	main := table.Get(region.MainRAM)
	wram := table.Get(region.SharedWRAM)
	if wram.Offset != main.Offset+main.Size {
		return nil, fmt.Errorf("mem: shared wram does not follow main ram in the store")
	}

	m := &Memory{
		table:    table,
		store:    store,
		ctrl:     arm9.Control(),
		mmus:     [2]*mmu.Mmu{arm9, arm7},
		io:       [2]*IOMap{NewIOMap(), NewIOMap()},
		sharedLo: main.Offset,
		sharedHi: wram.Offset + wram.Size,
		log:      logr.Discard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// IO returns the register map of cpu.
func (m *Memory) IO(cpu region.CPU) *IOMap {
	return m.io[cpu]
}

// MMU returns the page table of cpu.
func (m *Memory) MMU(cpu region.CPU) *mmu.Mmu {
	return m.mmus[cpu]
}

// Store returns the backing store.
func (m *Memory) Store() *vmem.Store {
	return m.store
}

// Table returns the region layout.
func (m *Memory) Table() *region.Table {
	return m.table
}

// SetCodeCache attaches the translated code cache of cpu.
func (m *Memory) SetCodeCache(cpu region.CPU, c CodeCache) {
	m.jit[cpu] = c
}

// Mode returns the unmapped access mode.
func (m *Memory) Mode() Mode {
	return m.mode
}

// Read8 reads a byte.
func (m *Memory) Read8(cpu region.CPU, addr uint32) uint8 {
	return uint8(m.read(cpu, addr, 1))
}

// Read16 reads a halfword. The address is aligned down.
func (m *Memory) Read16(cpu region.CPU, addr uint32) uint16 {
	return uint16(m.read(cpu, addr&^1, 2))
}

// Read32 reads a word. The address is aligned down.
func (m *Memory) Read32(cpu region.CPU, addr uint32) uint32 {
	return m.read(cpu, addr&^3, 4)
}

// Write8 writes a byte.
func (m *Memory) Write8(cpu region.CPU, addr uint32, v uint8) {
	m.write(cpu, addr, uint32(v), 1)
}

// Write16 writes a halfword. The address is aligned down.
func (m *Memory) Write16(cpu region.CPU, addr uint32, v uint16) {
	m.write(cpu, addr&^1, uint32(v), 2)
}

// Write32 writes a word. The address is aligned down.
func (m *Memory) Write32(cpu region.CPU, addr uint32, v uint32) {
	m.write(cpu, addr&^3, v, 4)
}

// Fetch32 reads an instruction word. Instruction fetches never see the data
// TCM.
func (m *Memory) Fetch32(cpu region.CPU, addr uint32) uint32 {
	addr &^= 3
	if cpu == region.ARM9 && m.ctrl.DTCM.Readable(addr) && !m.ctrl.ITCM.Readable(addr) {
		return m.readSlow(cpu, addr, 4)
	}
	return m.read(cpu, addr, 4)
}

// JitKey returns the key of a code byte as seen by cpu, honouring the TCMs.
func (m *Memory) JitKey(cpu region.CPU, addr uint32) (uint32, bool) {
	if cpu == region.ARM9 && m.ctrl.ITCM.Readable(addr) {
		return m.tcmOffset(region.ITCM, m.ctrl.ITCM, addr), true
	}
	return m.mmus[cpu].JitKey(addr)
}

// Load copies data into the backing bytes cpu sees at addr, ignoring
// write protection. Translated code over the range is invalidated.
func (m *Memory) Load(cpu region.CPU, addr uint32, data []byte) error {
	for i, b := range data {
		a := addr + uint32(i)

		off, ok := m.loadOffset(cpu, a)
		if !ok {
			return fmt.Errorf("mem: load %s at %#08x: no backing memory", cpu, a)
		}

		m.invalidate(cpu, off, 1)
		m.store.Bytes()[off] = b
	}

	return nil
}

func (m *Memory) loadOffset(cpu region.CPU, addr uint32) (uint32, bool) {
	if cpu == region.ARM9 {
		if m.ctrl.ITCM.Writable(addr) {
			return m.tcmOffset(region.ITCM, m.ctrl.ITCM, addr), true
		}
		if m.ctrl.DTCM.Writable(addr) {
			return m.tcmOffset(region.DTCM, m.ctrl.DTCM, addr), true
		}
	}

	_, off, ok := m.backing(cpu, addr)
	return off, ok
}

func (m *Memory) tcmOffset(id region.ID, t mmu.TCM, addr uint32) uint32 {
	d := m.table.Get(id)
	return d.Offset + (addr-t.Base)%d.Size
}

func (m *Memory) read(cpu region.CPU, addr uint32, size int) uint32 {
	if cpu == region.ARM9 {
		if m.ctrl.ITCM.Readable(addr) {
			return m.load(m.tcmOffset(region.ITCM, m.ctrl.ITCM, addr), size)
		}
		if m.ctrl.DTCM.Readable(addr) {
			return m.load(m.tcmOffset(region.DTCM, m.ctrl.DTCM, addr), size)
		}
	}

	if p := m.mmus[cpu].GetBasePtr(addr); p != nil {
		return get(p[addr&mmu.PageMask:], size)
	}

	return m.readSlow(cpu, addr, size)
}

func (m *Memory) write(cpu region.CPU, addr, v uint32, size int) {
	if cpu == region.ARM9 {
		if m.ctrl.ITCM.Writable(addr) {
			key := m.tcmOffset(region.ITCM, m.ctrl.ITCM, addr)
			m.invalidate(cpu, key, uint32(size))
			m.store32(key, v, size)
			return
		}
		if m.ctrl.DTCM.Writable(addr) {
			m.store32(m.tcmOffset(region.DTCM, m.ctrl.DTCM, addr), v, size)
			return
		}
	}

	mm := m.mmus[cpu]
	if p := mm.GetBasePtrWrite(addr); p != nil {
		if key, ok := mm.JitKey(addr); ok {
			m.invalidate(cpu, key, uint32(size))
		}
		put(p[addr&mmu.PageMask:], v, size)
		return
	}

	m.writeSlow(cpu, addr, v, size)
}

// invalidate drops translated code covering [key, key+size). Bytes visible
// to both CPUs are checked against both caches.
func (m *Memory) invalidate(cpu region.CPU, key, size uint32) {
	m.invalidateOne(cpu, key, size)
	if key >= m.sharedLo && key < m.sharedHi {
		m.invalidateOne(cpu^1, key, size)
	}
}

func (m *Memory) invalidateOne(cpu region.CPU, key, size uint32) {
	c := m.jit[cpu]
	if c == nil {
		return
	}
	if !c.HasJitBlock(key) && !c.HasJitBlock(key+size-1) {
		return
	}

	pc, running := c.Running()
	if !running {
		pc = NoBlock
	}
	if c.InvalidateBlock(key, size, pc) {
		c.SetBreakout()
	}
}

// backing resolves addr to store bytes without considering TCM, applying
// the WRAMCNT split for shared WRAM.
func (m *Memory) backing(cpu region.CPU, addr uint32) (region.Descriptor, uint32, bool) {
	id := m.table.Decode(cpu, addr)
	d := m.table.Get(id)

	if id == region.SharedWRAM {
		off, size := mmu.WRAMWindow(cpu, m.ctrl.WRAMCNT)
		if size == 0 {
			if cpu == region.ARM9 {
				return d, 0, false
			}
			d = m.table.Get(region.ARM7WRAM)
			return d, d.Mirror(addr), true
		}
		return d, d.Offset + off + (addr-d.Base)%size, true
	}

	if !d.Backed() {
		return d, 0, false
	}

	return d, d.Mirror(addr), true
}

func (m *Memory) readSlow(cpu region.CPU, addr uint32, size int) uint32 {
	if addr>>24 == 0x04 {
		word, ok := m.io[cpu].read(addr)
		if !ok {
			m.fault(cpu, addr, size, false, 0, "unregistered io")
			return Unmapped & sizeMask(size)
		}
		return word >> ((addr & 3) * 8) & sizeMask(size)
	}

	d, off, ok := m.backing(cpu, addr)
	if ok {
		return m.load(off, size)
	}
	if d.ID == region.GBASlot {
		return Unmapped & sizeMask(size)
	}

	m.fault(cpu, addr, size, false, 0, "unmapped")
	return Unmapped & sizeMask(size)
}

func (m *Memory) writeSlow(cpu region.CPU, addr, v uint32, size int) {
	if addr>>24 == 0x04 {
		if !m.io[cpu].write(addr, v, size) {
			m.fault(cpu, addr, size, true, v, "unregistered io")
		}
		return
	}

	d, off, ok := m.backing(cpu, addr)
	switch {
	case d.ID == region.GBASlot:
		return
	case !ok:
		m.fault(cpu, addr, size, true, v, "unmapped")
	case d.ID == region.Palette || d.ID == region.OAM || d.ID == region.VRAM:
		// The ARM9 bus ignores byte writes to video memory.
		if size == 1 {
			return
		}
		m.store32(off, v, size)
	case !d.Writable:
		m.fault(cpu, addr, size, true, v, "read-only "+d.Name)
	default:
		if d.Code {
			m.invalidate(cpu, off, uint32(size))
		}
		m.store32(off, v, size)
	}
}

func (m *Memory) fault(cpu region.CPU, addr uint32, size int, write bool, v uint32, reason string) {
	if m.mode == Production {
		return
	}

	err := &AccessError{CPU: cpu, Addr: addr, Size: size, Write: write, Value: v, Reason: reason}
	if m.mode == Strict {
		panic(err)
	}

	m.log.Info("bad memory access",
		"cpu", cpu.String(),
		"addr", fmt.Sprintf("0x%08x", addr),
		"size", size,
		"write", write,
		"reason", reason)
}

func (m *Memory) load(off uint32, size int) uint32 {
	return get(m.store.Bytes()[off:], size)
}

func (m *Memory) store32(off, v uint32, size int) {
	put(m.store.Bytes()[off:], v, size)
}

func get(b []byte, size int) uint32 {
	switch size {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

func put(b []byte, v uint32, size int) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	default:
		binary.LittleEndian.PutUint32(b, v)
	}
}

// Bus is the view of the dispatcher from one CPU.
type Bus struct {
	m   *Memory
	cpu region.CPU
}

// Bus returns the view of cpu.
func (m *Memory) Bus(cpu region.CPU) *Bus {
	return &Bus{m: m, cpu: cpu}
}

// Read8 implements the core's bus.
func (b *Bus) Read8(addr uint32) uint8 { return b.m.Read8(b.cpu, addr) }

// Read16 implements the core's bus.
func (b *Bus) Read16(addr uint32) uint16 { return b.m.Read16(b.cpu, addr) }

// Read32 implements the core's bus.
func (b *Bus) Read32(addr uint32) uint32 { return b.m.Read32(b.cpu, addr) }

// Write8 implements the core's bus.
func (b *Bus) Write8(addr uint32, v uint8) { b.m.Write8(b.cpu, addr, v) }

// Write16 implements the core's bus.
func (b *Bus) Write16(addr uint32, v uint16) { b.m.Write16(b.cpu, addr, v) }

// Write32 implements the core's bus.
func (b *Bus) Write32(addr uint32, v uint32) { b.m.Write32(b.cpu, addr, v) }

// Fetch32 reads an instruction word.
func (b *Bus) Fetch32(addr uint32) uint32 { return b.m.Fetch32(b.cpu, addr) }
