//go:build linux && (amd64 || arm64)

package vmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// NewSharedStore allocates the store in a memfd so the mmap backend can map
// the same bytes into several windows.
func NewSharedStore(size uint32) (*Store, error) {
	size = pageAlign(size)

	fd, err := unix.MemfdCreate("dscore-store", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("vmem: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("vmem: ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("vmem: mmap store: %w", err)
	}

	s := &Store{data: data, fd: fd}
	s.free = func() error {
		err := unix.Munmap(data)
		if cerr := unix.Close(fd); err == nil {
			err = cerr
		}
		return err
	}

	return s, nil
}

// MmapBackend maps store pages into a reserved host range with MAP_FIXED.
// Unmapped pages are PROT_NONE so a stray host access faults instead of
// reading stale memory.
type MmapBackend struct {
	store   *Store
	reserve []byte
	base    unsafe.Pointer
}

// NewMmapBackend reserves size bytes of host address space.
func NewMmapBackend(store *Store, size uint32) (*MmapBackend, error) {
	if !store.Shared() {
		return nil, fmt.Errorf("vmem: mmap backend needs a shared store: %w", ErrUnsupported)
	}
	if unix.Getpagesize() != PageSize {
		return nil, fmt.Errorf("vmem: host page size %d: %w", unix.Getpagesize(), ErrUnsupported)
	}

	reserve, err := unix.Mmap(-1, 0, int(pageAlign(size)), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("vmem: reserve %#x bytes: %w", size, err)
	}

	return &MmapBackend{
		store:   store,
		reserve: reserve,
		base:    unsafe.Pointer(&reserve[0]),
	}, nil
}

func (b *MmapBackend) fixed(addr, size uint32, prot, flags, fd int, offset uint32) error {
	if uint64(addr)+uint64(size) > uint64(len(b.reserve)) {
		return fmt.Errorf("vmem: mapping %#x+%#x outside reservation", addr, size)
	}

	target := unsafe.Add(b.base, addr)
	r, _, errno := unix.Syscall6(unix.SYS_MMAP, uintptr(target), uintptr(size),
		uintptr(prot), uintptr(flags|unix.MAP_FIXED), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return fmt.Errorf("vmem: mmap %#x: %w", addr, errno)
	}
	if r != uintptr(target) {
		return fmt.Errorf("vmem: mmap %#x landed at %#x", addr, r)
	}

	return nil
}

// Map implements Backend.
func (b *MmapBackend) Map(addr, size, offset uint32, writable bool) error {
	if err := checkAligned(addr, size, offset); err != nil {
		return err
	}
	if offset+size > b.store.Size() {
		return fmt.Errorf("vmem: mapping %#x+%#x beyond store", offset, size)
	}

	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	return b.fixed(addr, size, prot, unix.MAP_SHARED, b.store.fd, offset)
}

// Unmap implements Backend.
func (b *MmapBackend) Unmap(addr, size uint32) error {
	if err := checkAligned(addr, size, 0); err != nil {
		return err
	}

	return b.fixed(addr, size, unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE, -1, 0)
}

// Page implements Backend.
func (b *MmapBackend) Page(addr uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(b.base, addr&^PageMask)), PageSize)
}

// Close implements Backend.
func (b *MmapBackend) Close() error {
	if b.reserve == nil {
		return nil
	}
	err := unix.Munmap(b.reserve)
	b.reserve = nil
	b.base = nil
	return err
}
