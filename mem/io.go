package mem

import (
	"fmt"
	"sort"
)

// IOReadFunc returns the 32-bit register word at a word aligned address.
type IOReadFunc func(addr uint32) uint32

// IOWriteFunc stores the bytes of value selected by mask into the register
// word at a word aligned address. Values arrive already shifted into their
// byte lanes.
type IOWriteFunc func(addr uint32, value, mask uint32)

// IORegion is a registered register range. End is inclusive.
type IORegion struct {
	Name    string
	Start   uint32
	End     uint32
	OnRead  IOReadFunc
	OnWrite IOWriteFunc
}

const ioPageShift = 8

// IOMap holds the I/O registers of one CPU, bucketed by 256-byte page for
// lookup.
type IOMap struct {
	pages  map[uint32][]*IORegion
	sealed bool
}

// NewIOMap creates an empty register map.
func NewIOMap() *IOMap {
	return &IOMap{pages: make(map[uint32][]*IORegion)}
}

// Map registers a range. Either callback may be nil; reads then return zero
// and writes are dropped.
func (io *IOMap) Map(name string, start, end uint32, onRead IOReadFunc, onWrite IOWriteFunc) {
	if io.sealed {
		panic(fmt.Sprintf("io: %s mapped after execution started (%#08x-%#08x)", name, start, end))
	}
	if end < start {
		panic(fmt.Sprintf("io: %s has an empty range", name))
	}

	r := &IORegion{Name: name, Start: start, End: end, OnRead: onRead, OnWrite: onWrite}
	for page := start >> ioPageShift; page <= end>>ioPageShift; page++ {
		io.pages[page] = append(io.pages[page], r)
	}
}

// Seal forbids further registration.
func (io *IOMap) Seal() {
	io.sealed = true
}

// Find returns the region covering addr.
func (io *IOMap) Find(addr uint32) *IORegion {
	for _, r := range io.pages[addr>>ioPageShift] {
		if addr >= r.Start && addr <= r.End {
			return r
		}
	}
	return nil
}

// Regions returns every registered region ordered by start address.
func (io *IOMap) Regions() []*IORegion {
	seen := make(map[*IORegion]bool)
	var out []*IORegion
	for _, rs := range io.pages {
		for _, r := range rs {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// read returns the register word holding addr and whether any region
// claimed it.
func (io *IOMap) read(addr uint32) (uint32, bool) {
	word := addr &^ 3
	r := io.Find(word)
	if r == nil {
		return 0, false
	}
	if r.OnRead == nil {
		return 0, true
	}
	return r.OnRead(word), true
}

func (io *IOMap) write(addr, value uint32, size int) bool {
	word := addr &^ 3
	r := io.Find(word)
	if r == nil {
		return false
	}
	if r.OnWrite == nil {
		return true
	}

	shift := (addr & 3) * 8
	mask := sizeMask(size) << shift
	r.OnWrite(word, value<<shift&mask, mask)

	return true
}

func sizeMask(size int) uint32 {
	switch size {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}
