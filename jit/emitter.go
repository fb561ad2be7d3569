package jit

import (
	"math/bits"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/insts"
	"github.com/sarchlab/dscore/timing/latency"
)

// Emitter turns one decoded guest instruction into a host op.
type Emitter interface {
	// Emit translates inst located at addr. fetch is the cost of fetching
	// the instruction word.
	Emit(inst *insts.Instruction, addr uint32, fetch uint64) HostOp
}

// ClosureEmitter is the portable backend: every instruction becomes a Go
// closure. Common forms get a specialised closure; everything else runs
// through the interpreter.
type ClosureEmitter struct {
	lat *latency.Table
}

// NewClosureEmitter creates a ClosureEmitter that charges latencies from
// lat.
func NewClosureEmitter(lat *latency.Table) *ClosureEmitter {
	return &ClosureEmitter{lat: lat}
}

// Emit translates inst located at addr.
func (e *ClosureEmitter) Emit(inst *insts.Instruction, addr uint32, fetch uint64) HostOp {
	cost := e.lat.GetLatency(inst) + fetch

	switch {
	case e.simpleDataProc(inst):
		return e.emitDataProc(inst, addr, cost, fetch)
	case e.simpleTransfer(inst):
		return e.emitTransfer(inst, addr, cost, fetch)
	case inst.Format == insts.FormatBranch:
		return e.emitBranch(inst, addr, cost, fetch)
	}

	return func(c *emu.Core) emu.Result {
		c.AddCycles(fetch)
		return c.Execute(inst, addr)
	}
}

// simpleDataProc matches MOV, ADD and SUB with an immediate that neither
// set flags nor touch the PC.
func (e *ClosureEmitter) simpleDataProc(inst *insts.Instruction) bool {
	if inst.Format != insts.FormatDataProc || !inst.HasImm || inst.SetFlags || inst.Rd == insts.PC {
		return false
	}
	switch inst.Op {
	case insts.OpMOV:
		return true
	case insts.OpADD, insts.OpSUB:
		return inst.Rn != insts.PC
	}
	return false
}

// simpleTransfer matches LDR and STR with an immediate offset, pre-indexed
// and without writeback, not involving the PC.
func (e *ClosureEmitter) simpleTransfer(inst *insts.Instruction) bool {
	return (inst.Op == insts.OpLDR || inst.Op == insts.OpSTR) &&
		inst.HasImm && inst.PreIndex && !inst.Writeback &&
		inst.Rd != insts.PC && inst.Rn != insts.PC
}

func (e *ClosureEmitter) emitDataProc(inst *insts.Instruction, addr uint32, cost, fetch uint64) HostOp {
	rd, rn, imm, cond := inst.Rd, inst.Rn, inst.Imm, inst.Cond

	var f func(r *emu.RegFile)
	switch inst.Op {
	case insts.OpMOV:
		f = func(r *emu.RegFile) { r.R[rd] = imm }
	case insts.OpADD:
		f = func(r *emu.RegFile) { r.R[rd] = r.R[rn] + imm }
	default:
		f = func(r *emu.RegFile) { r.R[rd] = r.R[rn] - imm }
	}

	return func(c *emu.Core) emu.Result {
		c.Begin(addr)
		if !c.CondPassed(cond) {
			return c.End(1 + fetch)
		}
		f(c.Regs())
		return c.End(cost)
	}
}

func (e *ClosureEmitter) emitTransfer(inst *insts.Instruction, addr uint32, cost, fetch uint64) HostOp {
	rd, rn, cond := inst.Rd, inst.Rn, inst.Cond
	off := inst.Imm
	if !inst.Up {
		off = -off
	}

	if inst.Op == insts.OpSTR {
		return func(c *emu.Core) emu.Result {
			c.Begin(addr)
			if !c.CondPassed(cond) {
				return c.End(1 + fetch)
			}
			r := c.Regs()
			a := r.R[rn] + off
			c.Bus().Write32(a, r.R[rd])
			return c.End(cost + c.MemoryTiming().DataAccess(a, true))
		}
	}

	return func(c *emu.Core) emu.Result {
		c.Begin(addr)
		if !c.CondPassed(cond) {
			return c.End(1 + fetch)
		}
		r := c.Regs()
		a := r.R[rn] + off
		r.R[rd] = bits.RotateLeft32(c.Bus().Read32(a), -int(a&3)*8)
		return c.End(cost + c.MemoryTiming().DataAccess(a, false))
	}
}

func (e *ClosureEmitter) emitBranch(inst *insts.Instruction, addr uint32, cost, fetch uint64) HostOp {
	target := addr + 8 + uint32(inst.BranchOffset)
	link := inst.Op == insts.OpBL
	cond := inst.Cond

	return func(c *emu.Core) emu.Result {
		c.Begin(addr)
		if !c.CondPassed(cond) {
			return c.End(1 + fetch)
		}
		if link {
			c.Regs().R[14] = addr + 4
		}
		c.Jump(target)
		return c.End(cost)
	}
}
