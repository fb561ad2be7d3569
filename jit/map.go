// Package jit translates guest code into host closures and keeps the
// translated blocks coherent with guest writes.
//
// Blocks are keyed by the backing-store offset of their guest bytes, so a
// write through either CPU or through any mirror finds the same entries.
package jit

import "github.com/sarchlab/dscore/mem/region"

// Geometry of the entry table.
const (
	// CoarseShift sizes the chunks of the first level (16KB of keys).
	CoarseShift = 14
	// EntryShift is the granularity of the second level (one word).
	EntryShift = 2

	finePerCoarse = 1 << (CoarseShift - EntryShift)
)

// Map is a two level table from key to block handle. Second level arrays
// exist only for chunks that overlap a code-eligible region. A zero entry
// means no block.
type Map struct {
	coarse [][]uint32
}

// NewMap creates a table for a store of size bytes with entries for the
// given code ranges.
func NewMap(size uint32, code []region.Descriptor) *Map {
	m := &Map{coarse: make([][]uint32, (uint64(size)+(1<<CoarseShift)-1)>>CoarseShift)}

	for _, d := range code {
		first := d.Offset >> CoarseShift
		last := (d.Offset + d.Size - 1) >> CoarseShift
		for i := first; i <= last && int(i) < len(m.coarse); i++ {
			if m.coarse[i] == nil {
				m.coarse[i] = make([]uint32, finePerCoarse)
			}
		}
	}

	return m
}

// Entry returns the slot for key, or nil if the key cannot hold code.
func (m *Map) Entry(key uint32) *uint32 {
	i := key >> CoarseShift
	if int(i) >= len(m.coarse) || m.coarse[i] == nil {
		return nil
	}
	return &m.coarse[i][(key>>EntryShift)&(finePerCoarse-1)]
}

// Get returns the handle stored for key.
func (m *Map) Get(key uint32) uint32 {
	if e := m.Entry(key); e != nil {
		return *e
	}
	return 0
}

// WriteEntries sets every slot of [key, key+size) to value.
func (m *Map) WriteEntries(key, size, value uint32) {
	for k := key &^ (1<<EntryShift - 1); k < key+size; k += 1 << EntryShift {
		if e := m.Entry(k); e != nil {
			*e = value
		}
	}
}

// FillEntries sets the empty slots of [key, key+size) to value.
func (m *Map) FillEntries(key, size, value uint32) {
	for k := key &^ (1<<EntryShift - 1); k < key+size; k += 1 << EntryShift {
		if e := m.Entry(k); e != nil && *e == 0 {
			*e = value
		}
	}
}

// ClearEntries zeroes the slots of [key, key+size) that hold value.
func (m *Map) ClearEntries(key, size, value uint32) {
	for k := key &^ (1<<EntryShift - 1); k < key+size; k += 1 << EntryShift {
		if e := m.Entry(k); e != nil && *e == value {
			*e = 0
		}
	}
}

// Reset zeroes every slot.
func (m *Map) Reset() {
	for _, fine := range m.coarse {
		clear(fine)
	}
}
