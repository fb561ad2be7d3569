package jit

import "slices"

// LivePageShift sizes the pages of the live range bitmap (512 bytes).
const LivePageShift = 9

// LiveRanges tracks which key pages are covered by at least one block and
// which blocks cover each page.
type LiveRanges struct {
	bits   []uint64
	blocks [][]*Block
}

// NewLiveRanges creates the bitmap for a store of size bytes.
func NewLiveRanges(size uint32) *LiveRanges {
	pages := (uint64(size) + 1<<LivePageShift - 1) >> LivePageShift
	return &LiveRanges{
		bits:   make([]uint64, (pages+63)/64),
		blocks: make([][]*Block, pages),
	}
}

// Test reports whether the page holding key is live.
func (l *LiveRanges) Test(key uint32) bool {
	p := key >> LivePageShift
	if int(p) >= len(l.blocks) {
		return false
	}
	return l.bits[p/64]&(1<<(p%64)) != 0
}

// Add registers b on every page it covers.
func (l *LiveRanges) Add(b *Block) {
	for p := b.Start >> LivePageShift; p <= (b.End-1)>>LivePageShift; p++ {
		if int(p) >= len(l.blocks) {
			break
		}
		l.blocks[p] = append(l.blocks[p], b)
		l.bits[p/64] |= 1 << (p % 64)
	}
}

// Remove unregisters b and clears pages left without blocks.
func (l *LiveRanges) Remove(b *Block) {
	for p := b.Start >> LivePageShift; p <= (b.End-1)>>LivePageShift; p++ {
		if int(p) >= len(l.blocks) {
			break
		}

		list := l.blocks[p]
		for i, other := range list {
			if other == b {
				list[i] = list[len(list)-1]
				list[len(list)-1] = nil
				list = list[:len(list)-1]
				break
			}
		}
		l.blocks[p] = list

		if len(list) == 0 {
			l.bits[p/64] &^= 1 << (p % 64)
		}
	}
}

// Overlapping returns the blocks that overlap [key, key+size). Each block
// appears once.
func (l *LiveRanges) Overlapping(key, size uint32) []*Block {
	var out []*Block
	end := key + size

	for p := key >> LivePageShift; p <= (end-1)>>LivePageShift; p++ {
		if int(p) >= len(l.blocks) {
			break
		}
		for _, b := range l.blocks[p] {
			if b.Start < end && key < b.End && !slices.Contains(out, b) {
				out = append(out, b)
			}
		}
	}

	return out
}

// Reset drops every block.
func (l *LiveRanges) Reset() {
	clear(l.bits)
	for i := range l.blocks {
		l.blocks[i] = nil
	}
}
