package emu

import "github.com/sarchlab/dscore/insts"

// BranchUnit implements condition evaluation and ARM32 branches.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// CheckCondition evaluates a condition code against the CPSR flags.
func (b *BranchUnit) CheckCondition(cond insts.Cond) bool {
	r := b.regFile
	n, z, c, v := r.N(), r.Z(), r.C(), r.V()

	switch cond {
	case insts.CondEQ:
		return z
	case insts.CondNE:
		return !z
	case insts.CondCS:
		return c
	case insts.CondCC:
		return !c
	case insts.CondMI:
		return n
	case insts.CondPL:
		return !n
	case insts.CondVS:
		return v
	case insts.CondVC:
		return !v
	case insts.CondHI:
		return c && !z
	case insts.CondLS:
		return !c || z
	case insts.CondGE:
		return n == v
	case insts.CondLT:
		return n != v
	case insts.CondGT:
		return !z && n == v
	case insts.CondLE:
		return z || n != v
	default:
		// AL, and NV which the decoder only hands us for the unconditional
		// space it does not support.
		return true
	}
}

// Target returns the destination of B or BL executed at addr.
func (b *BranchUnit) Target(inst *insts.Instruction, addr uint32) uint32 {
	return addr + 8 + uint32(inst.BranchOffset)
}

// B branches to the target of inst executed at addr and returns it. BL
// also links the return address.
func (b *BranchUnit) B(inst *insts.Instruction, addr uint32) uint32 {
	if inst.Op == insts.OpBL {
		b.regFile.R[14] = addr + 4
	}
	return b.Target(inst, addr)
}

// BX returns the destination of BX or BLX (register) and whether it
// selects Thumb state. BLX links the return address.
func (b *BranchUnit) BX(inst *insts.Instruction, addr uint32) (uint32, bool) {
	target := b.regFile.R[inst.Rm]
	if inst.Op == insts.OpBLX {
		b.regFile.R[14] = addr + 4
	}
	if target&1 != 0 {
		return target &^ 1, true
	}
	return target &^ 3, false
}
