// Package insts provides ARM32 instruction definitions and decoding.
//
// This package decodes the ARMv5 subset run by the cores into structured
// instruction representations. It supports:
//   - Data processing: all sixteen opcodes with immediate and shifted
//     register operands
//   - Multiply: MUL, MLA and the long forms
//   - Load/store: word, byte, halfword and signed forms, LDM/STM
//   - Branches: B, BL, BX, BLX (register)
//   - System: SWI, MRS, MSR, MCR, MRC, CLZ
//
// Usage:
//
//	inst := insts.Decode(0xE3A0002A) // MOV R0, #42
//	fmt.Printf("Op: %v, Rd: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Imm)
package insts

// Op represents an ARM32 opcode.
type Op uint16

// ARM32 opcodes. The data processing opcodes follow their encoding order so
// that OpAND+opcode yields the operation.
const (
	OpUnknown Op = iota
	OpAND
	OpEOR
	OpSUB
	OpRSB
	OpADD
	OpADC
	OpSBC
	OpRSC
	OpTST
	OpTEQ
	OpCMP
	OpCMN
	OpORR
	OpMOV
	OpBIC
	OpMVN
	OpMUL
	OpMLA
	OpUMULL
	OpUMLAL
	OpSMULL
	OpSMLAL
	OpLDR
	OpSTR
	OpLDRB
	OpSTRB
	OpLDRH
	OpSTRH
	OpLDRSB
	OpLDRSH
	OpLDM
	OpSTM
	OpB
	OpBL
	OpBX
	OpBLX
	OpSWI
	OpMRS
	OpMSR
	OpMCR
	OpMRC
	OpCLZ
)

var opNames = [...]string{
	"???", "and", "eor", "sub", "rsb", "add", "adc", "sbc", "rsc",
	"tst", "teq", "cmp", "cmn", "orr", "mov", "bic", "mvn",
	"mul", "mla", "umull", "umlal", "smull", "smlal",
	"ldr", "str", "ldrb", "strb", "ldrh", "strh", "ldrsb", "ldrsh",
	"ldm", "stm", "b", "bl", "bx", "blx", "swi", "mrs", "msr",
	"mcr", "mrc", "clz",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return opNames[0]
}

// IsCompare returns true for data processing ops that only set flags.
func (op Op) IsCompare() bool {
	return op >= OpTST && op <= OpCMN
}

// IsDataProc returns true for the sixteen data processing ops.
func (op Op) IsDataProc() bool {
	return op >= OpAND && op <= OpMVN
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown       Format = iota
	FormatDataProc             // Data processing
	FormatMultiply             // MUL, MLA
	FormatMultiplyLong         // UMULL, UMLAL, SMULL, SMLAL
	FormatLoadStore            // Word and byte transfer
	FormatLoadStoreHalf        // Halfword and signed transfer
	FormatBlock                // LDM, STM
	FormatBranch               // B, BL
	FormatBranchReg            // BX, BLX
	FormatSWI                  // Software interrupt
	FormatPSR                  // MRS, MSR
	FormatCoproc               // MCR, MRC
	FormatMisc                 // CLZ
)

// Cond represents an ARM32 condition code.
type Cond uint8

// ARM32 condition codes.
const (
	CondEQ Cond = 0b0000 // Equal (Z == 1)
	CondNE Cond = 0b0001 // Not Equal (Z == 0)
	CondCS Cond = 0b0010 // Carry Set / Unsigned higher or same (C == 1)
	CondCC Cond = 0b0011 // Carry Clear / Unsigned lower (C == 0)
	CondMI Cond = 0b0100 // Minus / Negative (N == 1)
	CondPL Cond = 0b0101 // Plus / Positive or zero (N == 0)
	CondVS Cond = 0b0110 // Overflow (V == 1)
	CondVC Cond = 0b0111 // No overflow (V == 0)
	CondHI Cond = 0b1000 // Unsigned higher (C == 1 && Z == 0)
	CondLS Cond = 0b1001 // Unsigned lower or same (C == 0 || Z == 1)
	CondGE Cond = 0b1010 // Signed greater than or equal (N == V)
	CondLT Cond = 0b1011 // Signed less than (N != V)
	CondGT Cond = 0b1100 // Signed greater than (Z == 0 && N == V)
	CondLE Cond = 0b1101 // Signed less than or equal (Z == 1 || N != V)
	CondAL Cond = 0b1110 // Always (unconditional)
	CondNV Cond = 0b1111 // Unconditional instruction space
)

// ShiftType represents a shift type for register operands.
type ShiftType uint8

// Shift types.
const (
	ShiftLSL ShiftType = 0b00 // Logical shift left
	ShiftLSR ShiftType = 0b01 // Logical shift right
	ShiftASR ShiftType = 0b10 // Arithmetic shift right
	ShiftROR ShiftType = 0b11 // Rotate right (RRX when the amount is 0)
)

// PC is the register number of the program counter.
const PC = 15

// Instruction represents a decoded ARM32 instruction.
type Instruction struct {
	Word   uint32 // Raw encoding
	Op     Op     // Operation code
	Format Format // Encoding format
	Cond   Cond   // Condition code

	// Common fields
	SetFlags bool  // S bit
	Rd       uint8 // Destination register (RdLo for long multiplies)
	Rn       uint8 // First operand or base register (RdHi for long multiplies)
	Rm       uint8 // Second operand register
	Rs       uint8 // Shift or multiply register

	// Second operand
	HasImm      bool      // Operand is an immediate
	Imm         uint32    // Immediate value, already rotated for data processing
	Rotate      uint8     // Rotation applied to a data processing immediate
	ShiftType   ShiftType // Type of shift applied to Rm
	ShiftAmount uint8     // Immediate shift amount
	ShiftByReg  bool      // Shift amount comes from Rs

	// Load/store fields
	PreIndex  bool   // P bit
	Up        bool   // U bit
	Writeback bool   // W bit
	RegList   uint16 // LDM/STM register list
	UserBank  bool   // LDM/STM S bit: user bank or CPSR restore

	// Branch fields
	BranchOffset int32 // Signed offset in bytes from PC+8

	// PSR fields
	SPSR      bool  // R bit: access the SPSR
	FieldMask uint8 // MSR field mask (c, x, s, f)

	// Coprocessor fields
	CP   uint8
	Opc1 uint8
	Opc2 uint8
	CRn  uint8
	CRm  uint8
}

// WritesPC returns true if executing the instruction may load the PC.
func (i *Instruction) WritesPC() bool {
	switch i.Format {
	case FormatDataProc:
		return i.Rd == PC && !i.Op.IsCompare()
	case FormatLoadStore, FormatLoadStoreHalf:
		return (i.Rd == PC && (i.Op == OpLDR || i.Op == OpLDRB || i.Op == OpLDRH ||
			i.Op == OpLDRSB || i.Op == OpLDRSH)) ||
			(i.Rn == PC && (i.Writeback || !i.PreIndex))
	case FormatBlock:
		return (i.Op == OpLDM && i.RegList&(1<<PC) != 0) || (i.Writeback && i.Rn == PC)
	case FormatMultiply, FormatMisc:
		return i.Rd == PC
	case FormatMultiplyLong:
		return i.Rd == PC || i.Rn == PC
	case FormatCoproc:
		return i.Op == OpMRC && i.Rd == PC
	}
	return false
}

// EndsBlock returns true if no instruction may follow this one in a
// translated block: control flow, mode changes and coprocessor accesses
// leave the block, and so does anything the decoder does not know.
func (i *Instruction) EndsBlock() bool {
	switch i.Format {
	case FormatUnknown, FormatBranch, FormatBranchReg, FormatSWI, FormatCoproc:
		return true
	case FormatPSR:
		return i.Op == OpMSR && !i.SPSR
	}
	return i.WritesPC()
}
