package mmu

// TCM is the runtime configuration of one tightly coupled memory window.
type TCM struct {
	Base    uint32
	Size    uint64
	Enabled bool

	// Load mode routes reads to the memory behind the window while writes
	// still land in the TCM.
	Load bool
}

// Contains returns true if addr falls inside the window.
func (t TCM) Contains(addr uint32) bool {
	return addr >= t.Base && uint64(addr-t.Base) < t.Size
}

// Readable returns true if reads at addr are served by the TCM.
func (t TCM) Readable(addr uint32) bool {
	return t.Enabled && !t.Load && t.Contains(addr)
}

// Writable returns true if writes at addr are served by the TCM.
func (t TCM) Writable(addr uint32) bool {
	return t.Enabled && t.Contains(addr)
}

// RegionSize decodes the size field of a CP15 TCM region register.
func RegionSize(v uint32) uint64 {
	return uint64(512) << ((v >> 1) & 0x1F)
}

// Control holds the control register state that shapes the address spaces.
// Both MMUs and the dispatcher share one Control.
type Control struct {
	ITCM TCM
	DTCM TCM

	// WRAMCNT splits shared WRAM between the CPUs.
	WRAMCNT uint8
}

// NewControl returns the state after reset: both TCMs disabled, all shared
// WRAM given to the ARM9.
func NewControl() *Control {
	return &Control{
		ITCM: TCM{Size: 32 * 1024 * 1024},
		DTCM: TCM{Base: 0x027C0000, Size: 16 * 1024},
	}
}
