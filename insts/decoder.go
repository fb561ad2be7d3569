package insts

// Decoder decodes ARM32 machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new ARM32 instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

var defaultDecoder Decoder

// Decode decodes one instruction word with the default decoder.
func Decode(word uint32) *Instruction {
	return defaultDecoder.Decode(word)
}

// Decode decodes a 32-bit ARM32 instruction word. It never fails: words it
// does not understand come back as OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{
		Word: word,
		Op:   OpUnknown,
		Cond: Cond(word >> 28),
	}

	if inst.Cond == CondNV {
		// BLX immediate and PLD live here; neither is supported.
		return inst
	}

	switch (word >> 25) & 0x7 { // bits [27:25]
	case 0b000:
		d.decodeGroup0(word, inst)
	case 0b001:
		if d.isPSRSpace(word) {
			d.decodeMSR(word, inst)
		} else {
			d.decodeDataProc(word, inst)
		}
	case 0b010:
		d.decodeLoadStore(word, inst)
	case 0b011:
		// Register offset transfer. Bit 4 set is the media/undefined space.
		if (word>>4)&1 == 0 {
			d.decodeLoadStore(word, inst)
		}
	case 0b100:
		d.decodeBlock(word, inst)
	case 0b101:
		d.decodeBranch(word, inst)
	case 0b111:
		d.decodeSystem(word, inst)
	}

	return inst
}

// isPSRSpace checks the TST/TEQ/CMP/CMN encodings without the S bit, which
// hold the PSR transfers and miscellaneous instructions.
func (d *Decoder) isPSRSpace(word uint32) bool {
	return (word>>23)&0x3 == 0b10 && (word>>20)&1 == 0
}

// decodeGroup0 splits the bits [27:25] == 000 space: multiplies, halfword
// transfers, miscellaneous instructions and register data processing.
func (d *Decoder) decodeGroup0(word uint32, inst *Instruction) {
	bits74 := (word >> 4) & 0xF

	switch {
	case bits74 == 0b1001:
		d.decodeMultiply(word, inst)
	case bits74&0b1001 == 0b1001:
		d.decodeLoadStoreHalf(word, inst)
	case d.isPSRSpace(word):
		d.decodeMisc(word, inst)
	default:
		d.decodeDataProc(word, inst)
	}
}

// decodeDataProc decodes data processing instructions.
// Format: cond | 00 | I | opcode | S | Rn | Rd | operand2
func (d *Decoder) decodeDataProc(word uint32, inst *Instruction) {
	inst.Format = FormatDataProc

	opcode := (word >> 21) & 0xF // bits [24:21]
	inst.Op = OpAND + Op(opcode)
	inst.SetFlags = (word>>20)&1 == 1
	inst.Rn = uint8((word >> 16) & 0xF)
	inst.Rd = uint8((word >> 12) & 0xF)

	if (word>>25)&1 == 1 {
		rot := uint8((word >> 8) & 0xF * 2)
		imm := word & 0xFF
		inst.HasImm = true
		inst.Rotate = rot
		inst.Imm = imm>>rot | imm<<((32-uint32(rot))&31)
		return
	}

	d.decodeShiftedReg(word, inst)
}

func (d *Decoder) decodeShiftedReg(word uint32, inst *Instruction) {
	inst.Rm = uint8(word & 0xF)
	inst.ShiftType = ShiftType((word >> 5) & 0x3)

	if (word>>4)&1 == 1 {
		inst.ShiftByReg = true
		inst.Rs = uint8((word >> 8) & 0xF)
		return
	}

	inst.ShiftAmount = uint8((word >> 7) & 0x1F)
}

// decodeMultiply decodes MUL/MLA and the long multiplies.
// Format: cond | 0000 | U A S | Rd/RdHi | Rn/RdLo | Rs | 1001 | Rm
func (d *Decoder) decodeMultiply(word uint32, inst *Instruction) {
	op := (word >> 21) & 0x7F // bits [27:21]

	inst.SetFlags = (word>>20)&1 == 1
	inst.Rs = uint8((word >> 8) & 0xF)
	inst.Rm = uint8(word & 0xF)

	switch op >> 2 {
	case 0b00000:
		inst.Format = FormatMultiply
		inst.Rd = uint8((word >> 16) & 0xF)
		inst.Rn = uint8((word >> 12) & 0xF)
		if op&1 == 1 {
			inst.Op = OpMLA
		} else {
			inst.Op = OpMUL
		}
	case 0b00001:
		inst.Format = FormatMultiplyLong
		inst.Rn = uint8((word >> 16) & 0xF) // RdHi
		inst.Rd = uint8((word >> 12) & 0xF) // RdLo
		inst.Op = [...]Op{OpUMULL, OpUMLAL, OpSMULL, OpSMLAL}[op&0x3]
	default:
		// SWP and friends.
		inst.SetFlags = false
	}
}

// decodeLoadStoreHalf decodes halfword and signed byte transfers.
// Format: cond | 000 | P U I W L | Rn | Rd | immH | 1 SH 1 | Rm/immL
func (d *Decoder) decodeLoadStoreHalf(word uint32, inst *Instruction) {
	load := (word>>20)&1 == 1
	sh := (word >> 5) & 0x3

	switch {
	case load && sh == 0b01:
		inst.Op = OpLDRH
	case load && sh == 0b10:
		inst.Op = OpLDRSB
	case load && sh == 0b11:
		inst.Op = OpLDRSH
	case !load && sh == 0b01:
		inst.Op = OpSTRH
	default:
		// LDRD/STRD are not supported.
		return
	}

	inst.Format = FormatLoadStoreHalf
	d.decodeAddressing(word, inst)

	if (word>>22)&1 == 1 {
		inst.HasImm = true
		inst.Imm = (word>>4)&0xF0 | word&0xF
	} else {
		inst.Rm = uint8(word & 0xF)
	}
}

func (d *Decoder) decodeAddressing(word uint32, inst *Instruction) {
	inst.PreIndex = (word>>24)&1 == 1
	inst.Up = (word>>23)&1 == 1
	inst.Writeback = (word>>21)&1 == 1
	inst.Rn = uint8((word >> 16) & 0xF)
	inst.Rd = uint8((word >> 12) & 0xF)
}

// decodeMisc decodes MRS, MSR (register), BX, BLX and CLZ.
func (d *Decoder) decodeMisc(word uint32, inst *Instruction) {
	switch {
	case word&0x0FBF0FFF == 0x010F0000:
		inst.Format = FormatPSR
		inst.Op = OpMRS
		inst.SPSR = (word>>22)&1 == 1
		inst.Rd = uint8((word >> 12) & 0xF)
	case word&0x0FB0FFF0 == 0x0120F000:
		d.decodeMSR(word, inst)
	case word&0x0FFFFFD0 == 0x012FFF10:
		inst.Format = FormatBranchReg
		inst.Op = OpBX
		if (word>>5)&1 == 1 {
			inst.Op = OpBLX
		}
		inst.Rm = uint8(word & 0xF)
	case word&0x0FFF0FF0 == 0x016F0F10:
		inst.Format = FormatMisc
		inst.Op = OpCLZ
		inst.Rd = uint8((word >> 12) & 0xF)
		inst.Rm = uint8(word & 0xF)
	}
}

// decodeMSR decodes both MSR forms.
// Format: cond | 00 I 10 R 10 | mask | 1111 | operand
func (d *Decoder) decodeMSR(word uint32, inst *Instruction) {
	if (word>>21)&1 == 0 || (word>>12)&0xF != 0xF {
		return
	}

	inst.Format = FormatPSR
	inst.Op = OpMSR
	inst.SPSR = (word>>22)&1 == 1
	inst.FieldMask = uint8((word >> 16) & 0xF)

	if (word>>25)&1 == 1 {
		rot := uint8((word >> 8) & 0xF * 2)
		imm := word & 0xFF
		inst.HasImm = true
		inst.Rotate = rot
		inst.Imm = imm>>rot | imm<<((32-uint32(rot))&31)
		return
	}

	inst.Rm = uint8(word & 0xF)
}

// decodeLoadStore decodes LDR/STR/LDRB/STRB.
// Format: cond | 01 | I P U B W L | Rn | Rd | offset
func (d *Decoder) decodeLoadStore(word uint32, inst *Instruction) {
	inst.Format = FormatLoadStore
	d.decodeAddressing(word, inst)

	load := (word>>20)&1 == 1
	byteAccess := (word>>22)&1 == 1

	switch {
	case load && byteAccess:
		inst.Op = OpLDRB
	case load:
		inst.Op = OpLDR
	case byteAccess:
		inst.Op = OpSTRB
	default:
		inst.Op = OpSTR
	}

	// Note the inverted sense of I compared to data processing.
	if (word>>25)&1 == 0 {
		inst.HasImm = true
		inst.Imm = word & 0xFFF
		return
	}

	d.decodeShiftedReg(word, inst)
}

// decodeBlock decodes LDM/STM.
// Format: cond | 100 | P U S W L | Rn | register list
func (d *Decoder) decodeBlock(word uint32, inst *Instruction) {
	inst.Format = FormatBlock
	d.decodeAddressing(word, inst)
	inst.Rd = 0
	inst.UserBank = (word>>22)&1 == 1
	inst.RegList = uint16(word & 0xFFFF)

	if (word>>20)&1 == 1 {
		inst.Op = OpLDM
	} else {
		inst.Op = OpSTM
	}
}

// decodeBranch decodes B and BL.
// Format: cond | 101 | L | imm24
func (d *Decoder) decodeBranch(word uint32, inst *Instruction) {
	inst.Format = FormatBranch

	// Sign-extend imm24 and multiply by 4
	inst.BranchOffset = int32(word<<8) >> 6

	if (word>>24)&1 == 1 {
		inst.Op = OpBL
	} else {
		inst.Op = OpB
	}
}

// decodeSystem decodes SWI and register transfers to coprocessors.
func (d *Decoder) decodeSystem(word uint32, inst *Instruction) {
	if (word>>24)&1 == 1 {
		inst.Format = FormatSWI
		inst.Op = OpSWI
		inst.Imm = word & 0xFFFFFF
		return
	}

	if (word>>4)&1 == 0 {
		// CDP
		return
	}

	inst.Format = FormatCoproc
	inst.Op = OpMCR
	if (word>>20)&1 == 1 {
		inst.Op = OpMRC
	}
	inst.Opc1 = uint8((word >> 21) & 0x7)
	inst.CRn = uint8((word >> 16) & 0xF)
	inst.Rd = uint8((word >> 12) & 0xF)
	inst.CP = uint8((word >> 8) & 0xF)
	inst.Opc2 = uint8((word >> 5) & 0x7)
	inst.CRm = uint8(word & 0xF)
}
