package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Data Processing", func() {
		// MOV R0, #42 -> 0xE3A0002A
		It("should decode MOV R0, #42", func() {
			inst := decoder.Decode(0xE3A0002A)

			Expect(inst.Op).To(Equal(insts.OpMOV))
			Expect(inst.Format).To(Equal(insts.FormatDataProc))
			Expect(inst.Cond).To(Equal(insts.CondAL))
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.HasImm).To(BeTrue())
			Expect(inst.Imm).To(Equal(uint32(42)))
			Expect(inst.SetFlags).To(BeFalse())
		})

		// MOV R1, #0x3F000000 -> 0xE3A0143F (imm8=0x3F, rotate field 4)
		It("should rotate the immediate", func() {
			inst := decoder.Decode(0xE3A0143F)

			Expect(inst.Rd).To(Equal(uint8(1)))
			Expect(inst.Imm).To(Equal(uint32(0x3F000000)))
			Expect(inst.Rotate).To(Equal(uint8(8)))
		})

		// ADDS R2, R3, R4, LSL #2 -> 0xE0932104
		It("should decode a shifted register operand", func() {
			inst := decoder.Decode(0xE0932104)

			Expect(inst.Op).To(Equal(insts.OpADD))
			Expect(inst.SetFlags).To(BeTrue())
			Expect(inst.Rd).To(Equal(uint8(2)))
			Expect(inst.Rn).To(Equal(uint8(3)))
			Expect(inst.Rm).To(Equal(uint8(4)))
			Expect(inst.HasImm).To(BeFalse())
			Expect(inst.ShiftType).To(Equal(insts.ShiftLSL))
			Expect(inst.ShiftAmount).To(Equal(uint8(2)))
		})

		// MOV R0, R1, LSR R2 -> 0xE1A00231
		It("should decode a register shifted register", func() {
			inst := decoder.Decode(0xE1A00231)

			Expect(inst.Op).To(Equal(insts.OpMOV))
			Expect(inst.ShiftByReg).To(BeTrue())
			Expect(inst.Rs).To(Equal(uint8(2)))
			Expect(inst.Rm).To(Equal(uint8(1)))
			Expect(inst.ShiftType).To(Equal(insts.ShiftLSR))
		})

		// CMP R0, #1 -> 0xE3500001
		It("should decode CMP as a compare", func() {
			inst := decoder.Decode(0xE3500001)

			Expect(inst.Op).To(Equal(insts.OpCMP))
			Expect(inst.Op.IsCompare()).To(BeTrue())
			Expect(inst.SetFlags).To(BeTrue())
			Expect(inst.Rn).To(Equal(uint8(0)))
		})

		// BEQ with a data processing word: MOVEQ R0, R0 -> 0x01A00000
		It("should keep the condition", func() {
			Expect(decoder.Decode(0x01A00000).Cond).To(Equal(insts.CondEQ))
		})
	})

	Describe("Multiply", func() {
		// MUL R0, R1, R2 -> 0xE0000291
		It("should decode MUL", func() {
			inst := decoder.Decode(0xE0000291)

			Expect(inst.Op).To(Equal(insts.OpMUL))
			Expect(inst.Format).To(Equal(insts.FormatMultiply))
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.Rm).To(Equal(uint8(1)))
			Expect(inst.Rs).To(Equal(uint8(2)))
		})

		// MLA R3, R1, R2, R4 -> 0xE0234291
		It("should decode MLA", func() {
			inst := decoder.Decode(0xE0234291)

			Expect(inst.Op).To(Equal(insts.OpMLA))
			Expect(inst.Rd).To(Equal(uint8(3)))
			Expect(inst.Rn).To(Equal(uint8(4)))
		})

		// UMULL R0, R1, R2, R3 -> 0xE0810392
		It("should decode UMULL", func() {
			inst := decoder.Decode(0xE0810392)

			Expect(inst.Op).To(Equal(insts.OpUMULL))
			Expect(inst.Format).To(Equal(insts.FormatMultiplyLong))
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.Rn).To(Equal(uint8(1)))
			Expect(inst.Rm).To(Equal(uint8(2)))
			Expect(inst.Rs).To(Equal(uint8(3)))
		})

		It("should decode SMLAL", func() {
			Expect(decoder.Decode(0xE0E10392).Op).To(Equal(insts.OpSMLAL))
		})
	})

	Describe("Load/Store", func() {
		// LDR R0, [R1, #4] -> 0xE5910004
		It("should decode an immediate offset load", func() {
			inst := decoder.Decode(0xE5910004)

			Expect(inst.Op).To(Equal(insts.OpLDR))
			Expect(inst.Format).To(Equal(insts.FormatLoadStore))
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.Rn).To(Equal(uint8(1)))
			Expect(inst.HasImm).To(BeTrue())
			Expect(inst.Imm).To(Equal(uint32(4)))
			Expect(inst.PreIndex).To(BeTrue())
			Expect(inst.Up).To(BeTrue())
			Expect(inst.Writeback).To(BeFalse())
		})

		// STRB R2, [R3], #-1 -> 0xE4432001
		It("should decode a post-indexed byte store", func() {
			inst := decoder.Decode(0xE4432001)

			Expect(inst.Op).To(Equal(insts.OpSTRB))
			Expect(inst.PreIndex).To(BeFalse())
			Expect(inst.Up).To(BeFalse())
			Expect(inst.Imm).To(Equal(uint32(1)))
		})

		// LDR R0, [R1, R2, LSL #2]! -> 0xE7B10102
		It("should decode a register offset with writeback", func() {
			inst := decoder.Decode(0xE7B10102)

			Expect(inst.Op).To(Equal(insts.OpLDR))
			Expect(inst.HasImm).To(BeFalse())
			Expect(inst.Rm).To(Equal(uint8(2)))
			Expect(inst.ShiftAmount).To(Equal(uint8(2)))
			Expect(inst.Writeback).To(BeTrue())
		})

		// LDRH R0, [R1, #2] -> 0xE1D100B2
		It("should decode LDRH", func() {
			inst := decoder.Decode(0xE1D100B2)

			Expect(inst.Op).To(Equal(insts.OpLDRH))
			Expect(inst.Format).To(Equal(insts.FormatLoadStoreHalf))
			Expect(inst.HasImm).To(BeTrue())
			Expect(inst.Imm).To(Equal(uint32(2)))
		})

		It("should decode the signed loads", func() {
			Expect(decoder.Decode(0xE1D100D0).Op).To(Equal(insts.OpLDRSB))
			Expect(decoder.Decode(0xE1D100F0).Op).To(Equal(insts.OpLDRSH))
		})

		// STRH R0, [R1], -R2 -> 0xE00100B2
		It("should decode a register offset STRH", func() {
			inst := decoder.Decode(0xE00100B2)

			Expect(inst.Op).To(Equal(insts.OpSTRH))
			Expect(inst.HasImm).To(BeFalse())
			Expect(inst.Rm).To(Equal(uint8(2)))
			Expect(inst.Up).To(BeFalse())
		})

		// LDMIA SP!, {R4-R6, PC} -> 0xE8BD8070
		It("should decode LDM and see the PC load", func() {
			inst := decoder.Decode(0xE8BD8070)

			Expect(inst.Op).To(Equal(insts.OpLDM))
			Expect(inst.Rn).To(Equal(uint8(13)))
			Expect(inst.RegList).To(Equal(uint16(0x8070)))
			Expect(inst.Writeback).To(BeTrue())
			Expect(inst.WritesPC()).To(BeTrue())
			Expect(inst.EndsBlock()).To(BeTrue())
		})

		// STMDB SP!, {R4, LR} -> 0xE92D4010
		It("should decode STM", func() {
			inst := decoder.Decode(0xE92D4010)

			Expect(inst.Op).To(Equal(insts.OpSTM))
			Expect(inst.PreIndex).To(BeTrue())
			Expect(inst.Up).To(BeFalse())
			Expect(inst.EndsBlock()).To(BeFalse())
		})
	})

	Describe("Branches", func() {
		It("should decode a branch to itself", func() {
			inst := decoder.Decode(0xEAFFFFFE)

			Expect(inst.Op).To(Equal(insts.OpB))
			Expect(inst.BranchOffset).To(Equal(int32(-8)))
		})

		It("should decode BL", func() {
			inst := decoder.Decode(0xEB000040)

			Expect(inst.Op).To(Equal(insts.OpBL))
			Expect(inst.BranchOffset).To(Equal(int32(0x100)))
		})

		It("should decode BX and BLX", func() {
			inst := decoder.Decode(0xE12FFF1E)
			Expect(inst.Op).To(Equal(insts.OpBX))
			Expect(inst.Rm).To(Equal(uint8(14)))

			Expect(decoder.Decode(0xE12FFF33).Op).To(Equal(insts.OpBLX))
		})
	})

	Describe("System", func() {
		It("should decode SWI", func() {
			inst := decoder.Decode(0xEF060000)

			Expect(inst.Op).To(Equal(insts.OpSWI))
			Expect(inst.Imm).To(Equal(uint32(0x060000)))
		})

		It("should decode MRS", func() {
			inst := decoder.Decode(0xE10F0000)
			Expect(inst.Op).To(Equal(insts.OpMRS))
			Expect(inst.SPSR).To(BeFalse())

			Expect(decoder.Decode(0xE14F0000).SPSR).To(BeTrue())
		})

		It("should decode MSR forms", func() {
			inst := decoder.Decode(0xE121F000)
			Expect(inst.Op).To(Equal(insts.OpMSR))
			Expect(inst.FieldMask).To(Equal(uint8(1)))
			Expect(inst.Rm).To(Equal(uint8(0)))

			inst = decoder.Decode(0xE328F20F)
			Expect(inst.Op).To(Equal(insts.OpMSR))
			Expect(inst.HasImm).To(BeTrue())
			Expect(inst.Imm).To(Equal(uint32(0xF0000000)))
			Expect(inst.FieldMask).To(Equal(uint8(8)))
		})

		// MRC p15, 0, R0, c1, c0, 0 -> 0xEE110F10
		It("should decode MRC", func() {
			inst := decoder.Decode(0xEE110F10)

			Expect(inst.Op).To(Equal(insts.OpMRC))
			Expect(inst.CP).To(Equal(uint8(15)))
			Expect(inst.CRn).To(Equal(uint8(1)))
			Expect(inst.CRm).To(Equal(uint8(0)))
			Expect(inst.Opc2).To(Equal(uint8(0)))
		})

		// MCR p15, 0, R0, c7, c0, 4 -> 0xEE070F90
		It("should decode MCR", func() {
			inst := decoder.Decode(0xEE070F90)

			Expect(inst.Op).To(Equal(insts.OpMCR))
			Expect(inst.CRn).To(Equal(uint8(7)))
			Expect(inst.Opc2).To(Equal(uint8(4)))
		})

		It("should decode CLZ", func() {
			inst := decoder.Decode(0xE16F0F11)

			Expect(inst.Op).To(Equal(insts.OpCLZ))
			Expect(inst.Rd).To(Equal(uint8(0)))
			Expect(inst.Rm).To(Equal(uint8(1)))
		})
	})

	Describe("Unknown", func() {
		It("should return OpUnknown for undefined encodings", func() {
			Expect(decoder.Decode(0xE7F000F0).Op).To(Equal(insts.OpUnknown))
			Expect(decoder.Decode(0xF57FF01F).Op).To(Equal(insts.OpUnknown))
		})
	})

	It("should decode through the package function", func() {
		Expect(insts.Decode(0xE3A0002A)).To(Equal(decoder.Decode(0xE3A0002A)))
	})
})

var _ = DescribeTable("EndsBlock",
	func(word uint32, ends bool) {
		Expect(insts.Decode(word).EndsBlock()).To(Equal(ends))
	},
	Entry("mov", uint32(0xE3A0002A), false),
	Entry("str", uint32(0xE5810000), false),
	Entry("mov pc, lr", uint32(0xE1A0F00E), true),
	Entry("cmp with rd bits set", uint32(0xE350F001), false),
	Entry("ldr pc", uint32(0xE49DF004), true),
	Entry("branch", uint32(0xEAFFFFFE), true),
	Entry("bx", uint32(0xE12FFF1E), true),
	Entry("swi", uint32(0xEF000000), true),
	Entry("msr cpsr", uint32(0xE121F000), true),
	Entry("msr spsr", uint32(0xE16FF000), false),
	Entry("mrs", uint32(0xE10F0000), false),
	Entry("mcr", uint32(0xEE070F90), true),
	Entry("undefined", uint32(0xE7F000F0), true),
)

var _ = Describe("Op", func() {
	It("should name ops for traces", func() {
		Expect(insts.OpADD.String()).To(Equal("add"))
		Expect(insts.OpCLZ.String()).To(Equal("clz"))
		Expect(insts.Op(999).String()).To(Equal("???"))
	})
})
