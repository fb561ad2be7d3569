package mem

import (
	"fmt"

	"github.com/sarchlab/dscore/mem/region"
)

// Mode selects how the dispatcher treats accesses that hit nothing.
type Mode uint8

// Access handling modes.
const (
	// Production returns the all-ones sentinel for reads and drops writes.
	Production Mode = iota
	// Diagnostic behaves like Production and logs every such access.
	Diagnostic
	// Strict panics with an *AccessError.
	Strict
)

func (m Mode) String() string {
	switch m {
	case Diagnostic:
		return "diagnostic"
	case Strict:
		return "strict"
	default:
		return "production"
	}
}

// ParseMode parses the textual form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "production":
		return Production, nil
	case "diagnostic":
		return Diagnostic, nil
	case "strict":
		return Strict, nil
	}
	return Production, fmt.Errorf("unknown memory mode %q", s)
}

// AccessError describes a guest access that no region could serve.
type AccessError struct {
	CPU    region.CPU
	Addr   uint32
	Size   int
	Write  bool
	Value  uint32
	Reason string
}

func (e *AccessError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("%s: %s%d at %#08x: %s", e.CPU, op, e.Size*8, e.Addr, e.Reason)
}

// Unmapped is the value returned by reads that hit nothing.
const Unmapped = 0xFFFFFFFF
