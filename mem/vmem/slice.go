package vmem

import "fmt"

// SliceBackend resolves pages to sub-slices of the store. Protection is
// enforced by the caller's page table rather than by the host.
type SliceBackend struct {
	store *Store
	pages [][]byte
}

// NewSliceBackend creates a slice backend for a window of size bytes.
func NewSliceBackend(store *Store, size uint32) *SliceBackend {
	return &SliceBackend{
		store: store,
		pages: make([][]byte, pageAlign(size)>>PageShift),
	}
}

// Map implements Backend.
func (b *SliceBackend) Map(addr, size, offset uint32, _ bool) error {
	if err := checkAligned(addr, size, offset); err != nil {
		return err
	}
	if offset+size > b.store.Size() {
		return fmt.Errorf("vmem: mapping %#x+%#x beyond store", offset, size)
	}

	first := addr >> PageShift
	for i := uint32(0); i < size>>PageShift; i++ {
		o := offset + i<<PageShift
		b.pages[first+i] = b.store.Slice(o, PageSize)
	}

	return nil
}

// Unmap implements Backend.
func (b *SliceBackend) Unmap(addr, size uint32) error {
	if err := checkAligned(addr, size, 0); err != nil {
		return err
	}

	first := addr >> PageShift
	clear(b.pages[first : first+size>>PageShift])

	return nil
}

// Page implements Backend.
func (b *SliceBackend) Page(addr uint32) []byte {
	return b.pages[addr>>PageShift]
}

// Close implements Backend.
func (b *SliceBackend) Close() error {
	b.pages = nil
	return nil
}
