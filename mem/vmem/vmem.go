// Package vmem holds guest memory: one backing store shared by both CPUs
// and the page mapping backends that expose windows of it.
//
// Two backends implement the same contract. The slice backend hands out
// sub-slices of the store and runs everywhere. The mmap backend reserves a
// host virtual range per CPU and maps store pages into it through a memfd,
// so that a guest page resolves to host memory the kernel actually backs.
package vmem

import (
	"errors"
	"fmt"
)

// Page geometry shared by every backend.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	PageMask  = PageSize - 1
)

// ErrUnsupported is returned by constructors that need host features the
// platform does not have.
var ErrUnsupported = errors.New("vmem: not supported on this platform")

// Store is the single backing allocation for every guest region.
type Store struct {
	data []byte
	fd   int
	free func() error
}

// NewStore allocates a store on the Go heap.
func NewStore(size uint32) *Store {
	return &Store{
		data: make([]byte, pageAlign(size)),
		fd:   -1,
	}
}

// Bytes returns the whole store.
func (s *Store) Bytes() []byte {
	return s.data
}

// Size returns the store size in bytes.
func (s *Store) Size() uint32 {
	return uint32(len(s.data))
}

// Slice returns size bytes at offset.
func (s *Store) Slice(offset, size uint32) []byte {
	return s.data[offset : offset+size : offset+size]
}

// Shared returns true if the store can be mapped by the mmap backend.
func (s *Store) Shared() bool {
	return s.fd >= 0
}

// Clear zeroes the store.
func (s *Store) Clear() {
	clear(s.data)
}

// Close releases host resources held by the store.
func (s *Store) Close() error {
	if s.free == nil {
		return nil
	}
	err := s.free()
	s.free = nil
	s.data = nil
	return err
}

func pageAlign(n uint32) uint32 {
	return (n + PageMask) &^ PageMask
}

// Backend maps page aligned guest ranges onto store offsets.
type Backend interface {
	// Map makes [addr, addr+size) resolve to the store at offset.
	Map(addr, size, offset uint32, writable bool) error

	// Unmap removes any mapping in [addr, addr+size).
	Unmap(addr, size uint32) error

	// Page returns the host bytes of the page holding addr. It must only
	// be called for mapped pages.
	Page(addr uint32) []byte

	// Close releases the backend.
	Close() error
}

// Kind selects a backend implementation.
type Kind string

// Backend kinds.
const (
	KindSlice Kind = "slice"
	KindMmap  Kind = "mmap"
)

// NewBackend creates a backend of the given kind over a window of size
// bytes of guest address space.
func NewBackend(kind Kind, store *Store, size uint32) (Backend, error) {
	switch kind {
	case KindSlice, "":
		return NewSliceBackend(store, size), nil
	case KindMmap:
		b, err := NewMmapBackend(store, size)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("vmem: unknown backend %q", kind)
	}
}

func checkAligned(addr, size, offset uint32) error {
	if addr&PageMask != 0 || size&PageMask != 0 || offset&PageMask != 0 {
		return fmt.Errorf("vmem: unaligned mapping addr=%#x size=%#x offset=%#x", addr, size, offset)
	}
	return nil
}
