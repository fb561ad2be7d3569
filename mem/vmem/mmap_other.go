//go:build !(linux && (amd64 || arm64))

package vmem

// NewSharedStore is only available where the mmap backend is.
func NewSharedStore(size uint32) (*Store, error) {
	return nil, ErrUnsupported
}

// MmapBackend is unavailable on this platform.
type MmapBackend struct{ SliceBackend }

// NewMmapBackend always fails on this platform.
func NewMmapBackend(store *Store, size uint32) (*MmapBackend, error) {
	return nil, ErrUnsupported
}
