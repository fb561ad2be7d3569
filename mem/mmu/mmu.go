// Package mmu maintains the per-CPU page table that maps guest pages onto
// the shared backing store.
//
// Every page of the 256 MiB window either points at backing bytes or is
// unmapped, in which case the dispatcher takes its slow path. Read-only
// regions (palette, OAM, VRAM, BIOS) are mapped for reads only so that
// writes reach the dispatcher, which applies their access rules.
package mmu

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/mem/vmem"
)

// Window geometry.
const (
	WindowSize = 0x10000000
	PageShift  = vmem.PageShift
	PageSize   = vmem.PageSize
	PageMask   = vmem.PageMask
	NumPages   = WindowSize >> PageShift
)

// Page describes what a guest page resolves to.
type Page struct {
	Region   region.ID
	Offset   uint32
	Writable bool
	Code     bool
}

// Mapped returns true if the page has backing bytes.
func (p Page) Mapped() bool {
	return p.Region != region.None
}

// Mapping is a run of pages mapped onto contiguous backing bytes.
type Mapping struct {
	Addr     uint32
	Size     uint32
	Offset   uint32
	Region   region.ID
	Writable bool
}

type entry struct {
	Page
	data []byte
}

// Mmu is the page table of one CPU.
type Mmu struct {
	cpu     region.CPU
	table   *region.Table
	ctrl    *Control
	store   *vmem.Store
	backend vmem.Backend
	kind    vmem.Kind
	pages   []entry
	log     logr.Logger
}

// Option configures an Mmu.
type Option func(*Mmu)

// WithLogger sets the logger used for remap traces.
func WithLogger(log logr.Logger) Option {
	return func(m *Mmu) {
		m.log = log
	}
}

// WithBackend selects the mapping backend.
func WithBackend(kind vmem.Kind) Option {
	return func(m *Mmu) {
		m.kind = kind
	}
}

// New creates the page table for cpu and maps every page.
func New(
	cpu region.CPU,
	table *region.Table,
	store *vmem.Store,
	ctrl *Control,
	opts ...Option,
) (*Mmu, error) {
	m := &Mmu{
		cpu:   cpu,
		table: table,
		ctrl:  ctrl,
		store: store,
		kind:  vmem.KindSlice,
		pages: make([]entry, NumPages),
		log:   logr.Discard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	backend, err := vmem.NewBackend(m.kind, store, WindowSize)
	if err != nil {
		return nil, fmt.Errorf("mmu %s: %w", cpu, err)
	}
	m.backend = backend

	if err := m.UpdateAll(); err != nil {
		_ = backend.Close()
		return nil, err
	}

	return m, nil
}

// CPU returns the CPU this table belongs to.
func (m *Mmu) CPU() region.CPU {
	return m.cpu
}

// Control returns the shared control state.
func (m *Mmu) Control() *Control {
	return m.ctrl
}

// Close releases the mapping backend.
func (m *Mmu) Close() error {
	return m.backend.Close()
}

// GetBasePtr returns the host bytes of the page holding addr, or nil if the
// page is unmapped. Index the result with addr & PageMask.
func (m *Mmu) GetBasePtr(addr uint32) []byte {
	if addr >= WindowSize {
		return nil
	}
	return m.pages[addr>>PageShift].data
}

// GetBasePtrWrite is GetBasePtr for pages that accept direct writes.
func (m *Mmu) GetBasePtrWrite(addr uint32) []byte {
	if addr >= WindowSize {
		return nil
	}
	e := &m.pages[addr>>PageShift]
	if !e.Writable {
		return nil
	}
	return e.data
}

// Lookup returns the resolution of the page holding addr.
func (m *Mmu) Lookup(addr uint32) (Page, bool) {
	if addr >= WindowSize {
		return Page{}, false
	}
	p := m.pages[addr>>PageShift].Page
	return p, p.Mapped()
}

// JitKey returns the backing offset of a byte that may hold translated
// code.
func (m *Mmu) JitKey(addr uint32) (uint32, bool) {
	if addr >= WindowSize {
		if m.cpu == region.ARM9 && addr >= region.ARM9BIOSBase {
			return m.table.Get(region.ARM9BIOS).Mirror(addr), true
		}
		return 0, false
	}

	e := &m.pages[addr>>PageShift]
	if !e.Code {
		return 0, false
	}
	return e.Offset + addr&PageMask, true
}

// UpdateAll rebuilds every page.
func (m *Mmu) UpdateAll() error {
	return m.update(0, WindowSize)
}

// UpdateITCM remaps the union of the previous and the current instruction
// TCM windows.
func (m *Mmu) UpdateITCM(prev TCM) error {
	return m.updateUnion(prev, m.ctrl.ITCM)
}

// UpdateDTCM remaps the union of the previous and the current data TCM
// windows.
func (m *Mmu) UpdateDTCM(prev TCM) error {
	return m.updateUnion(prev, m.ctrl.DTCM)
}

// UpdateWRAM remaps the shared WRAM window after a WRAMCNT write.
func (m *Mmu) UpdateWRAM() error {
	return m.update(0x03000000, 0x04000000)
}

func (m *Mmu) updateUnion(a, b TCM) error {
	if m.cpu != region.ARM9 {
		return nil
	}

	for _, t := range []TCM{a, b} {
		start := uint64(t.Base) &^ PageMask
		end := (uint64(t.Base) + t.Size + PageMask) &^ PageMask
		if start >= WindowSize {
			continue
		}
		if end > WindowSize {
			end = WindowSize
		}
		if err := m.update(uint32(start), uint32(end)); err != nil {
			return err
		}
	}

	return nil
}

// update resolves [start, end) again and pushes the changed runs to the
// backend. Pages that resolve the same as before are left alone.
func (m *Mmu) update(start, end uint32) error {
	runs := 0

	for addr := start; addr < end; {
		first := addr >> PageShift
		want := m.resolve(addr)
		if want == m.pages[first].Page && (m.pages[first].data != nil) == want.Mapped() {
			addr += PageSize
			continue
		}

		size := uint32(PageSize)
		for addr+size < end {
			next := m.resolve(addr + size)
			if !contiguous(want, next, size) {
				break
			}
			size += PageSize
		}

		if err := m.apply(addr, size, want); err != nil {
			return err
		}

		runs++
		addr += size
	}

	m.log.V(1).Info("remap",
		"cpu", m.cpu.String(),
		"start", fmt.Sprintf("%#08x", start),
		"end", fmt.Sprintf("%#08x", end),
		"runs", runs)

	return nil
}

func contiguous(run, next Page, off uint32) bool {
	if !run.Mapped() {
		return !next.Mapped()
	}
	return next.Region == run.Region &&
		next.Writable == run.Writable &&
		next.Offset == run.Offset+off
}

func (m *Mmu) apply(addr, size uint32, p Page) error {
	first := addr >> PageShift
	n := size >> PageShift

	if !p.Mapped() {
		if err := m.backend.Unmap(addr, size); err != nil {
			return fmt.Errorf("mmu %s: unmap %#08x: %w", m.cpu, addr, err)
		}
		clear(m.pages[first : first+n])
		return nil
	}

	if err := m.backend.Map(addr, size, p.Offset, p.Writable); err != nil {
		return fmt.Errorf("mmu %s: map %#08x: %w", m.cpu, addr, err)
	}

	for i := uint32(0); i < n; i++ {
		e := &m.pages[first+i]
		e.Page = p
		e.Offset = p.Offset + i<<PageShift
		e.data = m.backend.Page(addr + i<<PageShift)
	}

	return nil
}

// resolve applies the priority rules for the page at addr: TCM first, then
// the fixed regions with shared WRAM split by WRAMCNT.
func (m *Mmu) resolve(addr uint32) Page {
	if m.cpu == region.ARM9 {
		if p, ok := m.resolveTCM(region.ITCM, m.ctrl.ITCM, addr); ok {
			return p
		}
		if p, ok := m.resolveTCM(region.DTCM, m.ctrl.DTCM, addr); ok {
			return p
		}
	}

	id := m.table.Decode(m.cpu, addr)
	switch id {
	case region.None, region.IO, region.GBASlot:
		return Page{}
	case region.SharedWRAM:
		return m.resolveWRAM(addr)
	}

	d := m.table.Get(id)
	if d.Size < PageSize {
		// Mirrors repeat inside one page; the dispatcher folds them.
		return Page{}
	}

	return Page{
		Region:   id,
		Offset:   d.Mirror(addr),
		Writable: d.Writable,
		Code:     d.Code,
	}
}

// resolveTCM maps a page to a TCM only when the window covers it whole.
// Partially covered pages stay on the region below and the dispatcher
// checks the TCM first.
func (m *Mmu) resolveTCM(id region.ID, t TCM, addr uint32) (Page, bool) {
	if !t.Enabled || t.Load || !t.Contains(addr) || !t.Contains(addr+PageMask) {
		return Page{}, false
	}

	d := m.table.Get(id)
	return Page{
		Region:   id,
		Offset:   d.Offset + (addr-t.Base)%d.Size,
		Writable: true,
		Code:     d.Code,
	}, true
}

// WRAMWindow returns the slice of shared WRAM visible to cpu for a WRAMCNT
// value, as an offset into the region and a size. A size of zero means the
// CPU sees none of it.
func WRAMWindow(cpu region.CPU, cnt uint8) (offset, size uint32) {
	const half = region.SharedWRAMSize / 2

	if cpu == region.ARM9 {
		switch cnt & 3 {
		case 0:
			return 0, region.SharedWRAMSize
		case 1:
			return half, half
		case 2:
			return 0, half
		default:
			return 0, 0
		}
	}

	switch cnt & 3 {
	case 0:
		return 0, 0
	case 1:
		return 0, half
	case 2:
		return half, half
	default:
		return 0, region.SharedWRAMSize
	}
}

func (m *Mmu) resolveWRAM(addr uint32) Page {
	off, size := WRAMWindow(m.cpu, m.ctrl.WRAMCNT)
	if size == 0 {
		if m.cpu == region.ARM7 {
			// The ARM7 sees its own WRAM mirrored in place of the shared
			// block.
			d := m.table.Get(region.ARM7WRAM)
			return Page{Region: region.ARM7WRAM, Offset: d.Mirror(addr), Writable: true, Code: true}
		}
		return Page{}
	}

	d := m.table.Get(region.SharedWRAM)
	return Page{
		Region:   region.SharedWRAM,
		Offset:   d.Offset + off + (addr-d.Base)%size,
		Writable: true,
		Code:     true,
	}
}

// Mappings returns the current page table as coalesced runs.
func (m *Mmu) Mappings() []Mapping {
	var out []Mapping

	for i := 0; i < NumPages; i++ {
		p := m.pages[i].Page
		if !p.Mapped() {
			continue
		}

		addr := uint32(i) << PageShift
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Addr+last.Size == addr && last.Region == p.Region &&
				last.Writable == p.Writable && last.Offset+last.Size == p.Offset {
				last.Size += PageSize
				continue
			}
		}

		out = append(out, Mapping{
			Addr:     addr,
			Size:     PageSize,
			Offset:   p.Offset,
			Region:   p.Region,
			Writable: p.Writable,
		})
	}

	return out
}
