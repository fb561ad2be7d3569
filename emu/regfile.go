// Package emu provides functional ARM32 emulation of both cores.
package emu

// Mode is the processor mode held in the low bits of the CPSR.
type Mode uint8

// Processor modes.
const (
	ModeUSR Mode = 0x10
	ModeFIQ Mode = 0x11
	ModeIRQ Mode = 0x12
	ModeSVC Mode = 0x13
	ModeABT Mode = 0x17
	ModeUND Mode = 0x1B
	ModeSYS Mode = 0x1F
)

// CPSR bits.
const (
	FlagN uint32 = 1 << 31
	FlagZ uint32 = 1 << 30
	FlagC uint32 = 1 << 29
	FlagV uint32 = 1 << 28
	FlagI uint32 = 1 << 7
	FlagF uint32 = 1 << 6
	FlagT uint32 = 1 << 5

	modeMask uint32 = 0x1F
)

// Register banks. User and system mode share bank 0.
const (
	bankUSR = iota
	bankFIQ
	bankIRQ
	bankSVC
	bankABT
	bankUND
	numBanks
)

func bankOf(m Mode) int {
	switch m {
	case ModeFIQ:
		return bankFIQ
	case ModeIRQ:
		return bankIRQ
	case ModeSVC:
		return bankSVC
	case ModeABT:
		return bankABT
	case ModeUND:
		return bankUND
	default:
		return bankUSR
	}
}

// RegFile represents the ARM32 register file.
// R holds the registers visible in the current mode; the banked copies of
// the other modes live in Banked, FIQHi and SPSRs.
type RegFile struct {
	// R holds R0-R15. R15 reads as the executing address plus 8 while an
	// instruction runs.
	R [16]uint32

	// CPSR is the current program status register.
	CPSR uint32

	// Banked holds R13 and R14 of each bank.
	Banked [numBanks][2]uint32

	// FIQHi holds R8-R12 for the non-FIQ modes (0) and FIQ mode (1).
	FIQHi [2][5]uint32

	// SPSRs holds the saved status register of each exception bank.
	SPSRs [numBanks]uint32
}

// Reset puts the register file in supervisor mode with interrupts masked.
func (r *RegFile) Reset() {
	*r = RegFile{}
	r.CPSR = uint32(ModeSVC) | FlagI | FlagF
}

// Mode returns the current processor mode.
func (r *RegFile) Mode() Mode {
	return Mode(r.CPSR & modeMask)
}

// SetCPSR writes the CPSR, swapping register banks when the mode changes.
func (r *RegFile) SetCPSR(v uint32) {
	from := bankOf(r.Mode())
	to := bankOf(Mode(v & modeMask))
	if from != to {
		r.switchBank(from, to)
	}
	r.CPSR = v
}

// SetMode changes the processor mode.
func (r *RegFile) SetMode(m Mode) {
	r.SetCPSR(r.CPSR&^modeMask | uint32(m))
}

func (r *RegFile) switchBank(from, to int) {
	r.Banked[from][0], r.Banked[from][1] = r.R[13], r.R[14]
	r.R[13], r.R[14] = r.Banked[to][0], r.Banked[to][1]

	if from != bankFIQ && to != bankFIQ {
		return
	}

	hiFrom, hiTo := 0, 1
	if from == bankFIQ {
		hiFrom, hiTo = 1, 0
	}
	copy(r.FIQHi[hiFrom][:], r.R[8:13])
	copy(r.R[8:13], r.FIQHi[hiTo][:])
}

// HasSPSR returns true if the current mode has a saved status register.
func (r *RegFile) HasSPSR() bool {
	return bankOf(r.Mode()) != bankUSR
}

// SPSR returns the saved status register of the current mode, or the CPSR
// in modes that have none.
func (r *RegFile) SPSR() uint32 {
	b := bankOf(r.Mode())
	if b == bankUSR {
		return r.CPSR
	}
	return r.SPSRs[b]
}

// SetSPSR writes the saved status register of the current mode. Writes in
// user and system mode are ignored.
func (r *RegFile) SetSPSR(v uint32) {
	if b := bankOf(r.Mode()); b != bankUSR {
		r.SPSRs[b] = v
	}
}

// UserReg reads a register of the user bank regardless of the mode.
func (r *RegFile) UserReg(i uint8) uint32 {
	b := bankOf(r.Mode())
	switch {
	case i >= 13 && i <= 14 && b != bankUSR:
		return r.Banked[bankUSR][i-13]
	case i >= 8 && i <= 12 && b == bankFIQ:
		return r.FIQHi[0][i-8]
	}
	return r.R[i]
}

// SetUserReg writes a register of the user bank regardless of the mode.
func (r *RegFile) SetUserReg(i uint8, v uint32) {
	b := bankOf(r.Mode())
	switch {
	case i >= 13 && i <= 14 && b != bankUSR:
		r.Banked[bankUSR][i-13] = v
	case i >= 8 && i <= 12 && b == bankFIQ:
		r.FIQHi[0][i-8] = v
	default:
		r.R[i] = v
	}
}

// N returns the negative flag.
func (r *RegFile) N() bool { return r.CPSR&FlagN != 0 }

// Z returns the zero flag.
func (r *RegFile) Z() bool { return r.CPSR&FlagZ != 0 }

// C returns the carry flag.
func (r *RegFile) C() bool { return r.CPSR&FlagC != 0 }

// V returns the overflow flag.
func (r *RegFile) V() bool { return r.CPSR&FlagV != 0 }

// IRQDisabled returns true if the I bit masks interrupts.
func (r *RegFile) IRQDisabled() bool { return r.CPSR&FlagI != 0 }

// Thumb returns true if the T bit is set.
func (r *RegFile) Thumb() bool { return r.CPSR&FlagT != 0 }

// SetFlags sets all four condition flags.
func (r *RegFile) SetFlags(n, z, c, v bool) {
	r.CPSR &^= FlagN | FlagZ | FlagC | FlagV
	r.CPSR |= flagBit(n, FlagN) | flagBit(z, FlagZ) | flagBit(c, FlagC) | flagBit(v, FlagV)
}

// SetNZ sets N and Z from a result, leaving C and V.
func (r *RegFile) SetNZ(result uint32) {
	r.CPSR &^= FlagN | FlagZ
	r.CPSR |= result & FlagN
	if result == 0 {
		r.CPSR |= FlagZ
	}
}

// SetNZC sets N and Z from a result and C from the shifter.
func (r *RegFile) SetNZC(result uint32, c bool) {
	r.SetNZ(result)
	r.CPSR = r.CPSR&^FlagC | flagBit(c, FlagC)
}

func flagBit(set bool, bit uint32) uint32 {
	if set {
		return bit
	}
	return 0
}
