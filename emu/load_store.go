package emu

import (
	"math/bits"

	"github.com/sarchlab/dscore/insts"
)

// Bus is the memory interface a core executes against.
type Bus interface {
	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32
	Write8(addr uint32, v uint8)
	Write16(addr uint32, v uint16)
	Write32(addr uint32, v uint32)

	// Fetch32 reads an instruction word.
	Fetch32(addr uint32) uint32
}

// MemoryTiming prices memory accesses in cycles of the core's clock.
type MemoryTiming interface {
	DataAccess(addr uint32, write bool) uint64
	Fetch(addr uint32) uint64
}

// Transfer is the outcome of a load or store that the core must apply.
type Transfer struct {
	// PC is the loaded program counter when LoadsPC is set.
	PC      uint32
	LoadsPC bool

	// RestoreCPSR is set by LDM with the S bit and the PC in the list.
	RestoreCPSR bool

	Cycles uint64
}

// LoadStoreUnit implements ARM32 load and store instructions.
type LoadStoreUnit struct {
	regFile *RegFile
	bus     Bus
	timing  MemoryTiming
}

// NewLoadStoreUnit creates a new LoadStoreUnit.
func NewLoadStoreUnit(regFile *RegFile, bus Bus, timing MemoryTiming) *LoadStoreUnit {
	return &LoadStoreUnit{regFile: regFile, bus: bus, timing: timing}
}

func (lsu *LoadStoreUnit) access(addr uint32, write bool) uint64 {
	if lsu.timing == nil {
		return 0
	}
	return lsu.timing.DataAccess(addr, write)
}

// offset computes the unsigned offset of a single transfer.
func (lsu *LoadStoreUnit) offset(inst *insts.Instruction) uint32 {
	if inst.HasImm {
		return inst.Imm
	}

	rm := lsu.regFile.R[inst.Rm]
	if inst.Format == insts.FormatLoadStoreHalf {
		return rm
	}

	v, _ := ShiftImm(inst.ShiftType, rm, inst.ShiftAmount, lsu.regFile.C())
	return v
}

// Single executes LDR, STR and their byte, halfword and signed forms.
func (lsu *LoadStoreUnit) Single(inst *insts.Instruction) Transfer {
	r := lsu.regFile
	base := r.R[inst.Rn]
	off := lsu.offset(inst)

	updated := base - off
	if inst.Up {
		updated = base + off
	}

	addr := base
	if inst.PreIndex {
		addr = updated
	}

	var t Transfer
	load := inst.Op != insts.OpSTR && inst.Op != insts.OpSTRB && inst.Op != insts.OpSTRH

	if !load {
		v := r.R[inst.Rd]
		if inst.Rd == insts.PC {
			v += 4
		}
		switch inst.Op {
		case insts.OpSTRB:
			lsu.bus.Write8(addr, uint8(v))
		case insts.OpSTRH:
			lsu.bus.Write16(addr, uint16(v))
		default:
			lsu.bus.Write32(addr, v)
		}
		t.Cycles = lsu.access(addr, true)
	}

	if !inst.PreIndex || inst.Writeback {
		lsu.writeback(inst.Rn, updated, &t)
	}

	if load {
		var v uint32
		switch inst.Op {
		case insts.OpLDRB:
			v = uint32(lsu.bus.Read8(addr))
		case insts.OpLDRH:
			v = uint32(lsu.bus.Read16(addr))
		case insts.OpLDRSB:
			v = uint32(int32(int8(lsu.bus.Read8(addr))))
		case insts.OpLDRSH:
			v = uint32(int32(int16(lsu.bus.Read16(addr))))
		default:
			v = bits.RotateLeft32(lsu.bus.Read32(addr), -int(addr&3)*8)
		}
		t.Cycles = lsu.access(addr, false)
		lsu.setReg(inst.Rd, v, &t)
	}

	return t
}

func (lsu *LoadStoreUnit) setReg(i uint8, v uint32, t *Transfer) {
	if i == insts.PC {
		t.PC, t.LoadsPC = v, true
		return
	}
	lsu.regFile.R[i] = v
}

func (lsu *LoadStoreUnit) writeback(rn uint8, v uint32, t *Transfer) {
	lsu.setReg(rn, v, t)
}

// Block executes LDM and STM. Registers move in ascending order from the
// lowest address; a register loaded from memory wins over the base
// writeback.
func (lsu *LoadStoreUnit) Block(inst *insts.Instruction) Transfer {
	r := lsu.regFile
	list := inst.RegList
	n := uint32(bits.OnesCount16(list))
	base := r.R[inst.Rn]

	var t Transfer
	if n == 0 {
		return t
	}

	var start, final uint32
	switch {
	case inst.Up && !inst.PreIndex:
		start, final = base, base+4*n
	case inst.Up:
		start, final = base+4, base+4*n
	case !inst.PreIndex:
		start, final = base-4*n+4, base-4*n
	default:
		start, final = base-4*n, base-4*n
	}

	pcInList := list&(1<<insts.PC) != 0
	userBank := inst.UserBank && (inst.Op == insts.OpSTM || !pcInList)

	if inst.Op == insts.OpSTM {
		addr := start
		for i := uint8(0); i < 16; i++ {
			if list&(1<<i) == 0 {
				continue
			}
			v := r.R[i]
			switch {
			case i == insts.PC:
				v += 4
			case userBank:
				v = r.UserReg(i)
			}
			lsu.bus.Write32(addr, v)
			t.Cycles += lsu.access(addr, true)
			addr += 4
		}
		if inst.Writeback {
			lsu.writeback(inst.Rn, final, &t)
		}
		return t
	}

	if inst.Writeback {
		lsu.writeback(inst.Rn, final, &t)
	}

	addr := start
	for i := uint8(0); i < 16; i++ {
		if list&(1<<i) == 0 {
			continue
		}
		v := lsu.bus.Read32(addr)
		t.Cycles += lsu.access(addr, false)
		addr += 4

		switch {
		case userBank && i != insts.PC:
			r.SetUserReg(i, v)
		default:
			lsu.setReg(i, v, &t)
		}
	}

	t.RestoreCPSR = inst.UserBank && pcInList
	return t
}
