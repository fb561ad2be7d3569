package emu

import "math/bits"

// BIOS call numbers handled at high level.
const (
	SWIWaitByLoop uint8 = 0x03
	SWIHalt       uint8 = 0x06
	SWIDiv        uint8 = 0x09
	SWISqrt       uint8 = 0x0D
)

// SWIHandler handles software interrupts in place of the BIOS.
type SWIHandler interface {
	// HandleSWI executes BIOS call num. It returns false to let the core
	// enter the SWI vector instead.
	HandleSWI(c *Core, num uint8) bool
}

// SWIFunc adapts a function to SWIHandler.
type SWIFunc func(c *Core, num uint8) bool

// HandleSWI calls f.
func (f SWIFunc) HandleSWI(c *Core, num uint8) bool {
	return f(c, num)
}

// DefaultSWIHandler implements the BIOS calls that programs run without a
// BIOS image rely on most.
type DefaultSWIHandler struct{}

// NewDefaultSWIHandler creates a DefaultSWIHandler.
func NewDefaultSWIHandler() *DefaultSWIHandler {
	return &DefaultSWIHandler{}
}

// HandleSWI executes BIOS call num.
func (h *DefaultSWIHandler) HandleSWI(c *Core, num uint8) bool {
	r := c.Regs()

	switch num {
	case SWIWaitByLoop:
		// Four cycles per iteration.
		c.AddCycles(uint64(r.R[0]) * 4)
		r.R[0] = 0
	case SWIHalt:
		c.Halt()
	case SWIDiv:
		h.div(r)
	case SWISqrt:
		r.R[0] = isqrt(r.R[0])
	default:
		return false
	}

	return true
}

// div sets R0 = R0/R1, R1 = R0%R1 and R3 = |R0/R1|. Division by zero
// returns +-1 with the dividend as remainder.
func (h *DefaultSWIHandler) div(r *RegFile) {
	num, den := int32(r.R[0]), int32(r.R[1])

	var q, rem int32
	if den == 0 {
		q, rem = 1, num
		if num < 0 {
			q = -1
		}
	} else {
		q, rem = num/den, num%den
	}

	abs := q
	if abs < 0 {
		abs = -abs
	}

	r.R[0], r.R[1], r.R[3] = uint32(q), uint32(rem), uint32(abs)
}

func isqrt(v uint32) uint32 {
	if v == 0 {
		return 0
	}

	// Newton iteration from a power of two above the root.
	x := uint32(1) << ((bits.Len32(v) + 1) / 2)
	for {
		y := (x + v/x) / 2
		if y >= x {
			return x
		}
		x = y
	}
}
