package jit

import "github.com/sarchlab/dscore/emu"

// HostOp is one translated guest instruction.
type HostOp func(c *emu.Core) emu.Result

// Memory is the arena translated code lives in. Freed slots are reused by
// blocks of exactly the same length; when the arena is full the cache is
// flushed.
type Memory struct {
	ops  []HostOp
	used uint32
	free map[uint32][]uint32
}

// NewMemory creates an arena holding capacity ops.
func NewMemory(capacity uint32) *Memory {
	return &Memory{
		ops:  make([]HostOp, capacity),
		free: make(map[uint32][]uint32),
	}
}

// Alloc reserves n slots and returns their offset. It fails when the arena
// is full.
func (m *Memory) Alloc(n uint32) (uint32, bool) {
	if list := m.free[n]; len(list) > 0 {
		off := list[len(list)-1]
		m.free[n] = list[:len(list)-1]
		return off, true
	}

	if m.used+n > uint32(len(m.ops)) {
		return 0, false
	}

	off := m.used
	m.used += n
	return off, true
}

// Free releases n slots at off.
func (m *Memory) Free(off, n uint32) {
	clear(m.ops[off : off+n])
	m.free[n] = append(m.free[n], off)
}

// Write stores ops at off.
func (m *Memory) Write(off uint32, ops []HostOp) {
	copy(m.ops[off:], ops)
}

// Ops returns the n ops at off.
func (m *Memory) Ops(off, n uint32) []HostOp {
	return m.ops[off : off+n]
}

// Used returns the high water mark in ops.
func (m *Memory) Used() uint32 {
	return m.used
}

// Cap returns the capacity in ops.
func (m *Memory) Cap() uint32 {
	return uint32(len(m.ops))
}

// Reset frees everything.
func (m *Memory) Reset() {
	clear(m.ops[:m.used])
	m.used = 0
	clear(m.free)
}
