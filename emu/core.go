package emu

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dscore/insts"
	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/timing/latency"
)

// ErrUnsupported is recorded when the core enters a state it cannot run,
// such as Thumb.
var ErrUnsupported = errors.New("unsupported cpu state")

// Result tells the caller how an instruction left the core.
type Result uint8

// Results.
const (
	// ResultContinue means execution falls through to the next word.
	ResultContinue Result = iota
	// ResultBranch means the PC was written.
	ResultBranch
	// ResultException means an exception vector was entered.
	ResultException
	// ResultHalt means the core waits for an interrupt.
	ResultHalt
	// ResultStop means the core stopped with an error, see Err.
	ResultStop
)

// Ends returns true if execution cannot fall through.
func (r Result) Ends() bool {
	return r != ResultContinue
}

// Exception vector offsets.
const (
	VectorReset     uint32 = 0x00
	VectorUndefined uint32 = 0x04
	VectorSWI       uint32 = 0x08
	VectorIRQ       uint32 = 0x18

	highVectorBase uint32 = 0xFFFF0000
)

// Core executes ARM32 instructions for one CPU.
type Core struct {
	cpu     region.CPU
	regs    RegFile
	bus     Bus
	decoder *insts.Decoder

	// Execution units
	alu    *ALU
	lsu    *LoadStoreUnit
	branch *BranchUnit

	cp15      *CP15
	irq       *CpuRegs
	swi       SWIHandler
	lat       *latency.Table
	memTiming MemoryTiming

	// Execution state
	next             uint32
	result           Result
	cycles           uint64
	instructionCount uint64
	err              error

	log logr.Logger
}

// Option is a functional option for configuring a Core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// WithSWIHandler installs a high level handler for software interrupts.
// Numbers it does not handle still enter the SWI vector.
func WithSWIHandler(h SWIHandler) Option {
	return func(c *Core) {
		c.swi = h
	}
}

// WithLatency sets the instruction latency table.
func WithLatency(t *latency.Table) Option {
	return func(c *Core) {
		c.lat = t
	}
}

// WithMemoryTiming sets the model that prices memory accesses. It defaults
// to the wait states of the latency table.
func WithMemoryTiming(t MemoryTiming) Option {
	return func(c *Core) {
		c.memTiming = t
	}
}

// WithCpuRegs sets the interrupt controller of the core.
func WithCpuRegs(r *CpuRegs) Option {
	return func(c *Core) {
		c.irq = r
	}
}

// WithCP15 sets the system control coprocessor. Only the ARM9 has one.
func WithCP15(cp *CP15) Option {
	return func(c *Core) {
		c.cp15 = cp
	}
}

// NewCore creates a core for cpu that executes against bus.
func NewCore(cpu region.CPU, bus Bus, opts ...Option) *Core {
	c := &Core{
		cpu:     cpu,
		bus:     bus,
		decoder: insts.NewDecoder(),
		log:     logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.lat == nil {
		c.lat = latency.NewTable(cpu)
	}
	if c.memTiming == nil {
		c.memTiming = c.lat
	}
	if c.irq == nil {
		c.irq = NewCpuRegs(nil, 0, 0)
	}
	if c.cp15 == nil && cpu == region.ARM9 {
		c.cp15 = NewCP15(mmu.NewControl())
	}
	if cpu != region.ARM9 {
		c.cp15 = nil
	}

	c.alu = NewALU(&c.regs)
	c.lsu = NewLoadStoreUnit(&c.regs, bus, c.memTiming)
	c.branch = NewBranchUnit(&c.regs)
	c.irq.attach(c.regs.IRQDisabled)

	c.Reset()

	return c
}

// CPU returns which processor this core is.
func (c *Core) CPU() region.CPU { return c.cpu }

// Regs returns the register file.
func (c *Core) Regs() *RegFile { return &c.regs }

// CP15 returns the system control coprocessor, or nil on the ARM7.
func (c *Core) CP15() *CP15 { return c.cp15 }

// CpuRegs returns the interrupt controller.
func (c *Core) CpuRegs() *CpuRegs { return c.irq }

// Bus returns the memory the core executes against.
func (c *Core) Bus() Bus { return c.bus }

// MemoryTiming returns the model that prices memory accesses.
func (c *Core) MemoryTiming() MemoryTiming { return c.memTiming }

// Latency returns the instruction latency table.
func (c *Core) Latency() *latency.Table { return c.lat }

// PC returns the address of the next instruction.
func (c *Core) PC() uint32 { return c.regs.R[15] }

// SetPC sets the address of the next instruction.
func (c *Core) SetPC(pc uint32) { c.regs.R[15] = pc &^ 3 }

// Cycles returns the cycles the core has run, in its own clock.
func (c *Core) Cycles() uint64 { return c.cycles }

// AddCycles charges extra cycles.
func (c *Core) AddCycles(n uint64) { c.cycles += n }

// SetCycles sets the cycle counter.
func (c *Core) SetCycles(n uint64) { c.cycles = n }

// InstructionCount returns the number of instructions executed.
func (c *Core) InstructionCount() uint64 { return c.instructionCount }

// Err returns the error that stopped the core, if any.
func (c *Core) Err() error { return c.err }

// Halted returns true if the core cannot run: it waits for an interrupt or
// it stopped with an error.
func (c *Core) Halted() bool {
	return c.err != nil || c.irq.Halted()
}

// Halt makes the core wait for an interrupt.
func (c *Core) Halt() {
	c.irq.Halt()
	if c.irq.Halted() {
		c.result = ResultHalt
	}
}

// Reset puts the core in its power-on state at the reset vector.
func (c *Core) Reset() {
	c.regs.Reset()
	c.cycles = 0
	c.instructionCount = 0
	c.err = nil
	c.irq.Reset()
	if c.cp15 != nil {
		c.cp15.Reset()
	}
	c.regs.R[15] = c.VectorBase() + VectorReset
}

// VectorBase returns the base of the exception vectors.
func (c *Core) VectorBase() uint32 {
	if c.cp15 != nil && c.cp15.HighVectors() {
		return highVectorBase
	}
	return 0
}

// Step fetches, decodes and executes one instruction.
func (c *Core) Step() Result {
	if c.err != nil {
		return ResultStop
	}
	if c.irq.Halted() {
		return ResultHalt
	}

	addr := c.PC()
	word := c.bus.Fetch32(addr)
	c.cycles += c.memTiming.Fetch(addr)

	return c.Execute(c.decoder.Decode(word), addr)
}

// Execute runs a decoded instruction located at addr and charges its
// latency.
func (c *Core) Execute(inst *insts.Instruction, addr uint32) Result {
	if c.err != nil {
		return ResultStop
	}

	c.Begin(addr)
	if !c.CondPassed(inst.Cond) {
		return c.End(1)
	}

	extra := c.execute(inst, addr)

	return c.End(c.lat.GetLatency(inst) + extra)
}

// Begin starts an instruction at addr: R15 reads as addr+8 until End.
func (c *Core) Begin(addr uint32) {
	c.regs.R[15] = addr + 8
	c.next = addr + 4
	c.result = ResultContinue
}

// CondPassed evaluates a condition code against the current flags.
func (c *Core) CondPassed(cond insts.Cond) bool {
	return cond == insts.CondAL || c.branch.CheckCondition(cond)
}

// Jump sets the address the current instruction continues at.
func (c *Core) Jump(target uint32) {
	c.next = target
	if c.result == ResultContinue {
		c.result = ResultBranch
	}
}

// End finishes the current instruction, charging cycles.
func (c *Core) End(cycles uint64) Result {
	c.regs.R[15] = c.next
	c.cycles += cycles
	c.instructionCount++
	return c.result
}

func (c *Core) execute(inst *insts.Instruction, addr uint32) uint64 {
	switch inst.Format {
	case insts.FormatDataProc:
		c.dataProc(inst)
	case insts.FormatMultiply:
		c.alu.Multiply(inst)
	case insts.FormatMultiplyLong:
		c.alu.MultiplyLong(inst)
	case insts.FormatLoadStore, insts.FormatLoadStoreHalf:
		t := c.lsu.Single(inst)
		c.applyTransfer(t)
		return t.Cycles
	case insts.FormatBlock:
		t := c.lsu.Block(inst)
		c.applyTransfer(t)
		return t.Cycles
	case insts.FormatBranch:
		c.Jump(c.branch.B(inst, addr))
	case insts.FormatBranchReg:
		c.branchReg(inst, addr)
	case insts.FormatSWI:
		c.softwareInterrupt(inst, addr)
	case insts.FormatPSR:
		c.psr(inst)
	case insts.FormatCoproc:
		c.coproc(inst, addr)
	case insts.FormatMisc:
		if c.cpu != region.ARM9 {
			c.undefined(inst, addr)
			break
		}
		c.alu.CLZ(inst)
	default:
		c.undefined(inst, addr)
	}
	return 0
}

func (c *Core) dataProc(inst *insts.Instruction) {
	result, write := c.alu.DataProc(inst)
	if !write {
		return
	}

	if inst.Rd != insts.PC {
		c.regs.R[inst.Rd] = result
		return
	}

	if inst.SetFlags {
		c.setCPSR(c.regs.SPSR())
		if c.err != nil {
			return
		}
	}
	c.Jump(result &^ 3)
}

func (c *Core) branchReg(inst *insts.Instruction, addr uint32) {
	if inst.Op == insts.OpBLX && c.cpu != region.ARM9 {
		c.undefined(inst, addr)
		return
	}

	target, thumb := c.branch.BX(inst, addr)
	if thumb {
		c.thumb(target)
		return
	}
	c.Jump(target)
}

func (c *Core) applyTransfer(t Transfer) {
	if t.RestoreCPSR {
		c.setCPSR(c.regs.SPSR())
		if c.err != nil {
			return
		}
	}

	if !t.LoadsPC {
		return
	}

	// The ARM9 switches state on loads to the PC.
	if c.cpu == region.ARM9 && t.PC&1 != 0 {
		c.thumb(t.PC &^ 1)
		return
	}
	c.Jump(t.PC &^ 3)
}

func (c *Core) psr(inst *insts.Instruction) {
	if inst.Op == insts.OpMRS {
		if inst.SPSR {
			c.regs.R[inst.Rd] = c.regs.SPSR()
		} else {
			c.regs.R[inst.Rd] = c.regs.CPSR
		}
		return
	}

	v := inst.Imm
	if !inst.HasImm {
		v = c.regs.R[inst.Rm]
	}

	var mask uint32
	for i := 0; i < 4; i++ {
		if inst.FieldMask&(1<<i) != 0 {
			mask |= 0xFF << (8 * i)
		}
	}

	if inst.SPSR {
		c.regs.SetSPSR(c.regs.SPSR()&^mask | v&mask)
		return
	}

	if c.regs.Mode() == ModeUSR {
		mask &= 0xFF000000
	}
	c.setCPSR(c.regs.CPSR&^mask | v&mask)
}

// setCPSR writes the CPSR and re-evaluates the interrupt line.
func (c *Core) setCPSR(v uint32) {
	c.regs.SetCPSR(v)
	if c.regs.Thumb() {
		c.thumb(c.next)
		return
	}
	c.irq.CheckForInterrupt()
}

func (c *Core) coproc(inst *insts.Instruction, addr uint32) {
	if inst.CP != 15 || c.cp15 == nil {
		c.undefined(inst, addr)
		return
	}

	if inst.Op == insts.OpMCR {
		if c.cp15.Write(inst.CRn, inst.CRm, inst.Opc1, inst.Opc2, c.regs.R[inst.Rd]) {
			c.Halt()
		}
		return
	}

	v := c.cp15.Read(inst.CRn, inst.CRm, inst.Opc1, inst.Opc2)
	if inst.Rd == insts.PC {
		c.regs.CPSR = c.regs.CPSR&^0xF0000000 | v&0xF0000000
		return
	}
	c.regs.R[inst.Rd] = v
}

func (c *Core) softwareInterrupt(inst *insts.Instruction, addr uint32) {
	num := uint8(inst.Imm >> 16)
	if c.swi != nil && c.swi.HandleSWI(c, num) {
		return
	}
	c.raise(ModeSVC, VectorSWI, addr+4)
}

func (c *Core) undefined(inst *insts.Instruction, addr uint32) {
	c.log.V(1).Info("undefined instruction",
		"cpu", c.cpu, "pc", fmt.Sprintf("%08x", addr), "word", fmt.Sprintf("%08x", inst.Word))
	c.raise(ModeUND, VectorUndefined, addr+4)
}

// thumb stops the core: Thumb state is not emulated.
func (c *Core) thumb(target uint32) {
	c.fail(fmt.Errorf("%w: thumb state at %08x", ErrUnsupported, target))
}

func (c *Core) fail(err error) {
	c.err = err
	c.result = ResultStop
	c.log.Error(err, "core stopped", "cpu", c.cpu)
}

// raise enters an exception: the CPSR is saved to the SPSR of mode, IRQs
// are masked and execution continues at the vector.
func (c *Core) raise(mode Mode, vector, lr uint32) {
	cpsr := c.regs.CPSR
	c.regs.SetMode(mode)
	c.regs.SetSPSR(cpsr)
	c.regs.CPSR = (c.regs.CPSR | FlagI) &^ FlagT
	c.regs.R[14] = lr
	c.next = c.VectorBase() + vector
	c.result = ResultException
}

// Interrupt takes an IRQ between instructions. It returns false when the I
// bit masks it.
func (c *Core) Interrupt() bool {
	if c.err != nil || c.regs.IRQDisabled() {
		return false
	}

	c.raise(ModeIRQ, VectorIRQ, c.PC()+4)
	c.regs.R[15] = c.next
	c.irq.halted = false

	c.log.V(2).Info("irq", "cpu", c.cpu, "if", c.irq.IF())

	return true
}

// DeliverInterrupt takes an IRQ if the interrupt controller has one that
// can be taken now.
func (c *Core) DeliverInterrupt() bool {
	if !c.irq.Pending() {
		return false
	}
	return c.Interrupt()
}

// State is the persistent state of a core.
type State struct {
	Regs         RegFile
	Cycles       uint64
	Instructions uint64
	IRQ          CpuRegsState
	CP15         *CP15State
}

// State captures the core.
func (c *Core) State() State {
	s := State{
		Regs:         c.regs,
		Cycles:       c.cycles,
		Instructions: c.instructionCount,
		IRQ:          c.irq.State(),
	}
	if c.cp15 != nil {
		cp := c.cp15.State()
		s.CP15 = &cp
	}
	return s
}

// Restore loads captured state and clears any error.
func (c *Core) Restore(s State) {
	c.regs = s.Regs
	c.cycles = s.Cycles
	c.instructionCount = s.Instructions
	c.err = nil
	c.irq.Restore(s.IRQ)
	if c.cp15 != nil && s.CP15 != nil {
		c.cp15.Restore(*s.CP15)
	}
}
