package benchmarks

import "encoding/binary"

// BuildProgram assembles instruction words into a byte slice.
func BuildProgram(instrs ...uint32) []byte {
	program := make([]byte, 4*len(instrs))
	for i, inst := range instrs {
		binary.LittleEndian.PutUint32(program[4*i:], inst)
	}
	return program
}

// Condition codes used by the encoders.
const (
	CondEQ uint32 = 0x0
	CondNE uint32 = 0x1
	CondGE uint32 = 0xA
	CondLT uint32 = 0xB
	CondAL uint32 = 0xE
)

// Instruction encoding helpers. All instructions are unconditional unless
// the name says otherwise.

func dataImm(opcode uint32, setFlags bool, rd, rn uint8, imm uint8) uint32 {
	inst := CondAL<<28 | 1<<25 | opcode<<21
	if setFlags {
		inst |= 1 << 20
	}
	return inst | uint32(rn&0xF)<<16 | uint32(rd&0xF)<<12 | uint32(imm)
}

func dataReg(opcode uint32, setFlags bool, rd, rn, rm uint8) uint32 {
	inst := CondAL<<28 | opcode<<21
	if setFlags {
		inst |= 1 << 20
	}
	return inst | uint32(rn&0xF)<<16 | uint32(rd&0xF)<<12 | uint32(rm&0xF)
}

// EncodeADDImm encodes ADD{S} Rd, Rn, #imm.
func EncodeADDImm(rd, rn, imm uint8, setFlags bool) uint32 {
	return dataImm(0x4, setFlags, rd, rn, imm)
}

// EncodeSUBImm encodes SUB{S} Rd, Rn, #imm.
func EncodeSUBImm(rd, rn, imm uint8, setFlags bool) uint32 {
	return dataImm(0x2, setFlags, rd, rn, imm)
}

// EncodeCMPImm encodes CMP Rn, #imm.
func EncodeCMPImm(rn, imm uint8) uint32 {
	return dataImm(0xA, true, 0, rn, imm)
}

// EncodeMOVImm encodes MOV Rd, #imm.
func EncodeMOVImm(rd, imm uint8) uint32 {
	return dataImm(0xD, false, rd, 0, imm)
}

// EncodeADDReg encodes ADD{S} Rd, Rn, Rm.
func EncodeADDReg(rd, rn, rm uint8, setFlags bool) uint32 {
	return dataReg(0x4, setFlags, rd, rn, rm)
}

// EncodeSUBReg encodes SUB{S} Rd, Rn, Rm.
func EncodeSUBReg(rd, rn, rm uint8, setFlags bool) uint32 {
	return dataReg(0x2, setFlags, rd, rn, rm)
}

// EncodeMUL encodes MUL Rd, Rm, Rs.
func EncodeMUL(rd, rm, rs uint8) uint32 {
	return CondAL<<28 | uint32(rd&0xF)<<16 | uint32(rs&0xF)<<8 | 0x90 | uint32(rm&0xF)
}

// EncodeMLA encodes MLA Rd, Rm, Rs, Rn.
func EncodeMLA(rd, rm, rs, rn uint8) uint32 {
	return CondAL<<28 | 1<<21 | uint32(rd&0xF)<<16 | uint32(rn&0xF)<<12 |
		uint32(rs&0xF)<<8 | 0x90 | uint32(rm&0xF)
}

// EncodeBCond encodes B<cond> with offset counted in bytes from the branch
// instruction itself.
func EncodeBCond(offset int32, cond uint32) uint32 {
	imm24 := uint32((offset-8)/4) & 0xFFFFFF
	return cond<<28 | 0x5<<25 | imm24
}

// EncodeB encodes an unconditional branch.
func EncodeB(offset int32) uint32 {
	return EncodeBCond(offset, CondAL)
}

// EncodeBL encodes BL with offset counted in bytes from the instruction.
func EncodeBL(offset int32) uint32 {
	return EncodeBCond(offset, CondAL) | 1<<24
}

// EncodeBXLR encodes BX LR.
func EncodeBXLR() uint32 {
	return 0xE12FFF1E
}

// EncodeLDR encodes LDR Rt, [Rn, #imm].
func EncodeLDR(rt, rn uint8, imm uint16) uint32 {
	return CondAL<<28 | 0x59<<20 | uint32(rn&0xF)<<16 | uint32(rt&0xF)<<12 | uint32(imm&0xFFF)
}

// EncodeSTR encodes STR Rt, [Rn, #imm].
func EncodeSTR(rt, rn uint8, imm uint16) uint32 {
	return CondAL<<28 | 0x58<<20 | uint32(rn&0xF)<<16 | uint32(rt&0xF)<<12 | uint32(imm&0xFFF)
}

// EncodeLDRPost encodes LDR Rt, [Rn], #imm.
func EncodeLDRPost(rt, rn uint8, imm uint16) uint32 {
	return CondAL<<28 | 0x49<<20 | uint32(rn&0xF)<<16 | uint32(rt&0xF)<<12 | uint32(imm&0xFFF)
}

// EncodeSTRPost encodes STR Rt, [Rn], #imm.
func EncodeSTRPost(rt, rn uint8, imm uint16) uint32 {
	return CondAL<<28 | 0x48<<20 | uint32(rn&0xF)<<16 | uint32(rt&0xF)<<12 | uint32(imm&0xFFF)
}

// EncodeSWI encodes SWI with a BIOS call number in bits 16-23.
func EncodeSWI(num uint8) uint32 {
	return CondAL<<28 | 0xF<<24 | uint32(num)<<16
}
