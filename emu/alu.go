package emu

import (
	"math/bits"

	"github.com/sarchlab/dscore/insts"
)

// ALU implements ARM32 data processing and multiply operations.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// ShiftImm applies an immediate shift the way the barrel shifter decodes
// it: LSR/ASR #0 mean #32 and ROR #0 means RRX.
func ShiftImm(t insts.ShiftType, v uint32, amount uint8, carryIn bool) (uint32, bool) {
	switch t {
	case insts.ShiftLSL:
		if amount == 0 {
			return v, carryIn
		}
		return v << amount, v&(1<<(32-amount)) != 0
	case insts.ShiftLSR:
		if amount == 0 {
			return 0, v&(1<<31) != 0
		}
		return v >> amount, v&(1<<(amount-1)) != 0
	case insts.ShiftASR:
		if amount == 0 {
			return uint32(int32(v) >> 31), v&(1<<31) != 0
		}
		return uint32(int32(v) >> amount), v&(1<<(amount-1)) != 0
	default:
		if amount == 0 {
			return v>>1 | flagBit(carryIn, 1<<31), v&1 != 0
		}
		return bits.RotateLeft32(v, -int(amount)), v&(1<<(amount-1)) != 0
	}
}

// ShiftReg applies a shift by the bottom byte of a register.
func ShiftReg(t insts.ShiftType, v uint32, amount uint32, carryIn bool) (uint32, bool) {
	amount &= 0xFF
	if amount == 0 {
		return v, carryIn
	}

	switch t {
	case insts.ShiftLSL:
		switch {
		case amount < 32:
			return v << amount, v&(1<<(32-amount)) != 0
		case amount == 32:
			return 0, v&1 != 0
		default:
			return 0, false
		}
	case insts.ShiftLSR:
		switch {
		case amount < 32:
			return v >> amount, v&(1<<(amount-1)) != 0
		case amount == 32:
			return 0, v&(1<<31) != 0
		default:
			return 0, false
		}
	case insts.ShiftASR:
		if amount >= 32 {
			return uint32(int32(v) >> 31), v&(1<<31) != 0
		}
		return uint32(int32(v) >> amount), v&(1<<(amount-1)) != 0
	default:
		amount &= 31
		if amount == 0 {
			return v, v&(1<<31) != 0
		}
		return bits.RotateLeft32(v, -int(amount)), v&(1<<(amount-1)) != 0
	}
}

// Operand2 evaluates the second operand of a data processing instruction
// and the shifter carry.
func (a *ALU) Operand2(inst *insts.Instruction) (uint32, bool) {
	carry := a.regFile.C()

	if inst.HasImm {
		if inst.Rotate != 0 {
			carry = inst.Imm&(1<<31) != 0
		}
		return inst.Imm, carry
	}

	rm := a.regFile.R[inst.Rm]
	if inst.ShiftByReg {
		// The PC reads one word further when a register shift adds a cycle.
		if inst.Rm == insts.PC {
			rm += 4
		}
		return ShiftReg(inst.ShiftType, rm, a.regFile.R[inst.Rs], carry)
	}

	return ShiftImm(inst.ShiftType, rm, inst.ShiftAmount, carry)
}

// DataProc computes a data processing instruction. It updates the flags
// when S is set (the caller handles the S bit with Rd == PC) and returns
// the result and whether Rd is written.
func (a *ALU) DataProc(inst *insts.Instruction) (uint32, bool) {
	op2, shiftCarry := a.Operand2(inst)

	rn := a.regFile.R[inst.Rn]
	if inst.Rn == insts.PC && inst.ShiftByReg {
		rn += 4
	}

	var (
		result  uint32
		logical bool
		c, v    bool
	)

	switch inst.Op {
	case insts.OpAND, insts.OpTST:
		result, logical = rn&op2, true
	case insts.OpEOR, insts.OpTEQ:
		result, logical = rn^op2, true
	case insts.OpORR:
		result, logical = rn|op2, true
	case insts.OpBIC:
		result, logical = rn&^op2, true
	case insts.OpMOV:
		result, logical = op2, true
	case insts.OpMVN:
		result, logical = ^op2, true
	case insts.OpSUB, insts.OpCMP:
		result, c, v = sub(rn, op2, true)
	case insts.OpRSB:
		result, c, v = sub(op2, rn, true)
	case insts.OpADD, insts.OpCMN:
		result, c, v = add(rn, op2, false)
	case insts.OpADC:
		result, c, v = add(rn, op2, a.regFile.C())
	case insts.OpSBC:
		result, c, v = sub(rn, op2, a.regFile.C())
	case insts.OpRSC:
		result, c, v = sub(op2, rn, a.regFile.C())
	}

	if inst.SetFlags && (inst.Rd != insts.PC || inst.Op.IsCompare()) {
		if logical {
			a.regFile.SetNZC(result, shiftCarry)
		} else {
			a.regFile.SetFlags(result&(1<<31) != 0, result == 0, c, v)
		}
	}

	return result, !inst.Op.IsCompare()
}

func add(x, y uint32, carryIn bool) (uint32, bool, bool) {
	var cin uint32
	if carryIn {
		cin = 1
	}
	sum, carry := bits.Add32(x, y, cin)
	overflow := (x^sum)&(y^sum)&(1<<31) != 0
	return sum, carry != 0, overflow
}

// sub computes x - y - !carryIn with ARM carry semantics: C is set when no
// borrow occurs.
func sub(x, y uint32, carryIn bool) (uint32, bool, bool) {
	var borrowIn uint32
	if !carryIn {
		borrowIn = 1
	}
	diff, borrow := bits.Sub32(x, y, borrowIn)
	overflow := (x^y)&(x^diff)&(1<<31) != 0
	return diff, borrow == 0, overflow
}

// Multiply executes MUL and MLA.
func (a *ALU) Multiply(inst *insts.Instruction) {
	r := a.regFile
	result := r.R[inst.Rm] * r.R[inst.Rs]
	if inst.Op == insts.OpMLA {
		result += r.R[inst.Rn]
	}

	r.R[inst.Rd] = result
	if inst.SetFlags {
		r.SetNZ(result)
	}
}

// MultiplyLong executes UMULL, UMLAL, SMULL and SMLAL. Rn holds RdHi and Rd
// holds RdLo.
func (a *ALU) MultiplyLong(inst *insts.Instruction) {
	r := a.regFile
	rm, rs := r.R[inst.Rm], r.R[inst.Rs]

	var result uint64
	switch inst.Op {
	case insts.OpUMULL, insts.OpUMLAL:
		result = uint64(rm) * uint64(rs)
	default:
		result = uint64(int64(int32(rm)) * int64(int32(rs)))
	}

	if inst.Op == insts.OpUMLAL || inst.Op == insts.OpSMLAL {
		result += uint64(r.R[inst.Rn])<<32 | uint64(r.R[inst.Rd])
	}

	r.R[inst.Rd] = uint32(result)
	r.R[inst.Rn] = uint32(result >> 32)

	if inst.SetFlags {
		r.CPSR &^= FlagN | FlagZ
		r.CPSR |= uint32(result>>32) & FlagN
		if result == 0 {
			r.CPSR |= FlagZ
		}
	}
}

// CLZ counts leading zeros of Rm into Rd.
func (a *ALU) CLZ(inst *insts.Instruction) {
	a.regFile.R[inst.Rd] = uint32(bits.LeadingZeros32(a.regFile.R[inst.Rm]))
}
