package benchmarks

import (
	"github.com/sarchlab/dscore/emu"
)

// haltCall ends every benchmark.
var haltCall = EncodeSWI(emu.SWIHalt)

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each one
// targets a specific part of the core, cache or translator.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		countLoop(),
		memorySequential(),
		functionCalls(),
		branchMix(),
		multiplyAccumulate(),
		selfModifying(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation: a loop,
// memory traffic and branch heavy code.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		countLoop(),
		memorySequential(),
		branchMix(),
	}
}

// 1. Arithmetic Sequential - straight line ALU throughput
func arithmeticSequential() Benchmark {
	instrs := make([]uint32, 0, 21)
	for i := 0; i < 20; i++ {
		r := uint8(i % 5)
		instrs = append(instrs, EncodeADDImm(r, r, 1, false))
	}
	instrs = append(instrs, haltCall)

	return Benchmark{
		Name:        "arithmetic_sequential",
		Description: "20 independent ADDs over five registers",
		Program:     BuildProgram(instrs...),
		ExpectedR0:  4,
	}
}

// 2. Dependency Chain - every ADD depends on the previous one
func dependencyChain() Benchmark {
	instrs := make([]uint32, 0, 21)
	for i := 0; i < 20; i++ {
		instrs = append(instrs, EncodeADDImm(0, 0, 1, false))
	}
	instrs = append(instrs, haltCall)

	return Benchmark{
		Name:        "dependency_chain",
		Description: "20 dependent ADDs (R0 = R0 + 1)",
		Program:     BuildProgram(instrs...),
		ExpectedR0:  20,
	}
}

// 3. Count Loop - one block re-entered many times
func countLoop() Benchmark {
	return Benchmark{
		Name:        "count_loop",
		Description: "200 iterations of a three instruction loop",
		Program: BuildProgram(
			EncodeMOVImm(0, 0),
			EncodeMOVImm(1, 200),
			EncodeADDImm(0, 0, 1, false), // loop:
			EncodeSUBImm(1, 1, 1, true),
			EncodeBCond(-8, CondNE),
			haltCall,
		),
		ExpectedR0: 200,
	}
}

// 4. Memory Sequential - fill 64 words, then sum them back
func memorySequential() Benchmark {
	return Benchmark{
		Name:        "memory_sequential",
		Description: "64 sequential stores followed by 64 sequential loads",
		Setup: func(regs *emu.RegFile) {
			regs.R[0] = 0
			regs.R[1] = DataAddr
			regs.R[3] = DataAddr
		},
		Program: BuildProgram(
			EncodeMOVImm(2, 64),
			EncodeSTRPost(2, 1, 4), // fill:
			EncodeSUBImm(2, 2, 1, true),
			EncodeBCond(-8, CondNE),
			EncodeMOVImm(2, 64),
			EncodeLDRPost(4, 3, 4), // sum:
			EncodeADDReg(0, 0, 4, false),
			EncodeSUBImm(2, 2, 1, true),
			EncodeBCond(-12, CondNE),
			haltCall,
		),
		ExpectedR0: 64 * 65 / 2,
	}
}

// 5. Function Calls - BL/BX round trips
func functionCalls() Benchmark {
	return Benchmark{
		Name:        "function_calls",
		Description: "10 calls to a leaf function adding 3",
		Program: BuildProgram(
			EncodeMOVImm(0, 0),
			EncodeMOVImm(4, 10),
			EncodeBL(16), // loop: bl add3
			EncodeSUBImm(4, 4, 1, true),
			EncodeBCond(-8, CondNE),
			haltCall,
			EncodeADDImm(0, 0, 3, false), // add3:
			EncodeBXLR(),
		),
		ExpectedR0: 30,
	}
}

// 6. Branch Mix - a data dependent branch inside a loop
func branchMix() Benchmark {
	return Benchmark{
		Name:        "branch_mix",
		Description: "100 iterations with a branch taken for the lower half",
		Program: BuildProgram(
			EncodeMOVImm(0, 0),
			EncodeMOVImm(1, 100),
			EncodeCMPImm(1, 50), // loop:
			EncodeBCond(8, CondLT),
			EncodeADDImm(0, 0, 2, false),
			EncodeADDImm(0, 0, 1, false), // skip:
			EncodeSUBImm(1, 1, 1, true),
			EncodeBCond(-20, CondNE),
			haltCall,
		),
		// 51 iterations add 3, 49 add 1.
		ExpectedR0: 51*3 + 49,
	}
}

// 7. Multiply Accumulate - sum of squares with MLA
func multiplyAccumulate() Benchmark {
	return Benchmark{
		Name:        "multiply_accumulate",
		Description: "sum of i*i for i in 1..16",
		Program: BuildProgram(
			EncodeMOVImm(0, 0),
			EncodeMOVImm(1, 16),
			EncodeMLA(0, 1, 1, 0), // loop:
			EncodeSUBImm(1, 1, 1, true),
			EncodeBCond(-8, CondNE),
			haltCall,
		),
		ExpectedR0: 16 * 17 * 33 / 6,
	}
}

// 8. Self Modifying - a store rewrites an instruction of the running loop
func selfModifying() Benchmark {
	return Benchmark{
		Name:        "self_modifying",
		Description: "the first iteration patches its own ADD #1 into ADD #5",
		Setup: func(regs *emu.RegFile) {
			regs.R[5] = EncodeADDImm(0, 0, 5, false)
			regs.R[6] = ProgramAddr + 8
		},
		Program: BuildProgram(
			EncodeMOVImm(0, 0),
			EncodeMOVImm(1, 2),
			EncodeADDImm(0, 0, 1, false), // loop: patched
			EncodeSTR(5, 6, 0),
			EncodeSUBImm(1, 1, 1, true),
			EncodeBCond(-12, CondNE),
			haltCall,
		),
		ExpectedR0: 1 + 5,
	}
}
