// Package region describes the guest memory areas of both CPUs and where
// each one lives in the shared backing store.
package region

import "fmt"

// ID identifies a region.
type ID uint8

// Regions.
const (
	None ID = iota
	ITCM
	DTCM
	MainRAM
	SharedWRAM
	ARM7WRAM
	ARM7VRAM
	VRAM
	OAM
	Palette
	ARM9BIOS
	ARM7BIOS
	GBASlot
	IO
	numRegions
)

// CPU selects one of the two address spaces.
type CPU uint8

// CPUs.
const (
	ARM9 CPU = iota
	ARM7
)

func (c CPU) String() string {
	if c == ARM9 {
		return "arm9"
	}
	return "arm7"
}

// Descriptor is the static description of a region. End is exclusive and
// spans the whole guest window including mirrors; Size is the number of
// backing bytes.
type Descriptor struct {
	ID       ID
	Name     string
	Base     uint32
	End      uint32
	Size     uint32
	Offset   uint32
	Writable bool

	// Code marks regions that may hold translated code.
	Code bool
}

// Contains returns true if addr is inside the guest window.
func (d Descriptor) Contains(addr uint32) bool {
	return addr >= d.Base && addr-d.Base < d.End-d.Base
}

// Backed returns true if the region has backing bytes.
func (d Descriptor) Backed() bool {
	return d.Size > 0
}

// Mirror returns the backing offset of addr, folding mirrors.
func (d Descriptor) Mirror(addr uint32) uint32 {
	return d.Offset + (addr-d.Base)%d.Size
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s [%08x-%08x) size %#x @%#x", d.Name, d.Base, d.End, d.Size, d.Offset)
}

// Sizes of the backed regions.
const (
	ITCMSize       = 32 * 1024
	DTCMSize       = 16 * 1024
	MainRAMSize    = 4 * 1024 * 1024
	SharedWRAMSize = 32 * 1024
	ARM7WRAMSize   = 64 * 1024
	ARM7VRAMSize   = 256 * 1024
	VRAMSize       = 656 * 1024
	OAMSize        = 2 * 1024
	PaletteSize    = 2 * 1024
	ARM9BIOSSize   = 4 * 1024
	ARM7BIOSSize   = 16 * 1024
)

// Guest windows.
const (
	ARM9BIOSBase = 0xFFFF0000
	IOBase       = 0x04000000
	GBASlotBase  = 0x08000000
	GBASlotEnd   = 0x0A010000
	ARM7WRAMBase = 0x03800000

	// DTCMDefaultBase is where the boot firmware places data TCM.
	DTCMDefaultBase = 0x027C0000
)

// Table is the process wide region layout. It is built once and never
// modified.
type Table struct {
	regions [numRegions]Descriptor
	size    uint32
}

var layout = []Descriptor{
	{ID: ITCM, Name: "itcm", Base: 0x00000000, End: 0x02000000, Size: ITCMSize, Writable: true, Code: true},
	{ID: DTCM, Name: "dtcm", Base: DTCMDefaultBase, End: DTCMDefaultBase + DTCMSize, Size: DTCMSize, Writable: true},
	{ID: MainRAM, Name: "main ram", Base: 0x02000000, End: 0x03000000, Size: MainRAMSize, Writable: true, Code: true},
	{ID: SharedWRAM, Name: "shared wram", Base: 0x03000000, End: 0x04000000, Size: SharedWRAMSize, Writable: true, Code: true},
	{ID: ARM7WRAM, Name: "arm7 wram", Base: ARM7WRAMBase, End: 0x04000000, Size: ARM7WRAMSize, Writable: true, Code: true},
	{ID: ARM7VRAM, Name: "arm7 vram", Base: 0x06000000, End: 0x07000000, Size: ARM7VRAMSize, Writable: true, Code: true},
	{ID: VRAM, Name: "vram", Base: 0x06800000, End: 0x068A4000, Size: VRAMSize},
	{ID: OAM, Name: "oam", Base: 0x07000000, End: 0x08000000, Size: OAMSize},
	{ID: Palette, Name: "palette", Base: 0x05000000, End: 0x06000000, Size: PaletteSize},
	{ID: ARM9BIOS, Name: "arm9 bios", Base: ARM9BIOSBase, End: 0xFFFFFFFF, Size: ARM9BIOSSize, Code: true},
	{ID: ARM7BIOS, Name: "arm7 bios", Base: 0x00000000, End: ARM7BIOSSize, Size: ARM7BIOSSize, Code: true},
	{ID: GBASlot, Name: "gba slot", Base: GBASlotBase, End: GBASlotEnd},
	{ID: IO, Name: "io", Base: IOBase, End: 0x05000000},
}

// NewTable lays out every backed region once in the backing store. Offsets
// are page aligned so that each region can be mapped on its own.
func NewTable(pageSize uint32) *Table {
	t := &Table{}

	var offset uint32
	for _, d := range layout {
		if d.Size > 0 {
			d.Offset = offset
			offset += (d.Size + pageSize - 1) &^ (pageSize - 1)
		}
		t.regions[d.ID] = d
	}
	t.size = offset

	return t
}

// Get returns the descriptor of a region.
func (t *Table) Get(id ID) Descriptor {
	return t.regions[id]
}

// All returns every descriptor in ID order.
func (t *Table) All() []Descriptor {
	return append([]Descriptor(nil), t.regions[1:]...)
}

// StoreSize is the number of bytes the backing store must hold.
func (t *Table) StoreSize() uint32 {
	return t.size
}

// ByOffset returns the region owning a backing offset.
func (t *Table) ByOffset(offset uint32) (Descriptor, bool) {
	for _, d := range t.regions[1:] {
		if d.Size > 0 && offset >= d.Offset && offset-d.Offset < d.Size {
			return d, true
		}
	}
	return Descriptor{}, false
}

// CodeRanges returns the backing ranges of regions that may hold code.
func (t *Table) CodeRanges() []Descriptor {
	var out []Descriptor
	for _, d := range t.regions[1:] {
		if d.Code && d.Size > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Visible reports whether a region exists in the address space of cpu.
func Visible(cpu CPU, id ID) bool {
	switch id {
	case ITCM, DTCM, VRAM, OAM, Palette, ARM9BIOS:
		return cpu == ARM9
	case ARM7WRAM, ARM7VRAM, ARM7BIOS:
		return cpu == ARM7
	default:
		return id != None
	}
}

// Decode returns the fixed region for a guest address, ignoring TCM and the
// shared WRAM partitioning which depend on runtime control registers.
func (t *Table) Decode(cpu CPU, addr uint32) ID {
	switch addr >> 24 {
	case 0x00:
		if cpu == ARM7 && addr < ARM7BIOSSize {
			return ARM7BIOS
		}
	case 0x02:
		return MainRAM
	case 0x03:
		if cpu == ARM7 && addr >= ARM7WRAMBase {
			return ARM7WRAM
		}
		return SharedWRAM
	case 0x04:
		return IO
	case 0x05:
		if cpu == ARM9 {
			return Palette
		}
	case 0x06:
		if cpu == ARM7 {
			return ARM7VRAM
		}
		if t.regions[VRAM].Contains(addr) {
			return VRAM
		}
	case 0x07:
		if cpu == ARM9 {
			return OAM
		}
	case 0x08, 0x09:
		return GBASlot
	case 0x0A:
		if addr < GBASlotEnd {
			return GBASlot
		}
	case 0xFF:
		if cpu == ARM9 && addr >= ARM9BIOSBase {
			return ARM9BIOS
		}
	}

	return None
}
