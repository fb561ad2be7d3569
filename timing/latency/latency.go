// Package latency provides instruction timing models for both cores.
//
// The latency values are estimates for the ARM946E-S and the ARM7TDMI and
// can be configured via TimingConfig.
package latency

import (
	"math/bits"

	"github.com/sarchlab/dscore/insts"
	"github.com/sarchlab/dscore/mem/region"
)

// Table provides instruction latency lookups for one core.
type Table struct {
	config  *TimingConfig
	core    *CoreTiming
	cpu     region.CPU
	regions *region.Table
}

// NewTable creates a new latency table with default timing values.
func NewTable(cpu region.CPU) *Table {
	return NewTableWithConfig(DefaultTimingConfig(), cpu)
}

// NewTableWithConfig creates a new latency table with custom timing
// configuration.
func NewTableWithConfig(config *TimingConfig, cpu region.CPU) *Table {
	return &Table{
		config:  config,
		core:    config.Core(cpu == region.ARM9),
		cpu:     cpu,
		regions: region.NewTable(4096),
	}
}

// GetLatency returns the execution latency in cycles for the given
// instruction, without memory wait states.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	c := t.core
	switch inst.Format {
	case insts.FormatDataProc:
		lat := c.ALULatency
		if inst.ShiftByReg {
			lat += c.ShiftByRegPenalty
		}
		if inst.WritesPC() {
			lat += c.BranchLatency
		}
		return lat

	case insts.FormatBranch, insts.FormatBranchReg:
		return c.BranchLatency

	case insts.FormatLoadStore, insts.FormatLoadStoreHalf:
		lat := c.StoreLatency
		if t.IsLoadOp(inst) {
			lat = c.LoadLatency
		}
		if inst.WritesPC() {
			lat += c.BranchLatency
		}
		return lat

	case insts.FormatBlock:
		n := uint64(bits.OnesCount16(inst.RegList))
		lat := c.LoadLatency + n*c.BlockTransferPerReg
		if inst.WritesPC() {
			lat += c.BranchLatency
		}
		return lat

	case insts.FormatMultiply:
		return c.MultiplyLatency

	case insts.FormatMultiplyLong:
		return c.MultiplyLongLatency

	case insts.FormatSWI:
		return c.SWILatency

	case insts.FormatCoproc:
		return c.CoprocLatency

	default:
		return c.ALULatency
	}
}

// AccessCycles returns the wait states of one access at addr.
func (t *Table) AccessCycles(addr uint32) uint64 {
	w := &t.core.WaitStates

	switch t.regions.Decode(t.cpu, addr) {
	case region.MainRAM:
		return w.MainRAM
	case region.SharedWRAM:
		return w.SharedWRAM
	case region.ARM7WRAM, region.ARM7VRAM:
		return w.ARM7WRAM
	case region.VRAM, region.OAM, region.Palette:
		return w.VRAM
	case region.IO:
		return w.IO
	case region.ARM9BIOS, region.ARM7BIOS:
		return w.BIOS
	case region.GBASlot:
		return w.GBASlot
	default:
		return w.TCM
	}
}

// DataAccess returns the cycles a data access at addr adds.
func (t *Table) DataAccess(addr uint32, _ bool) uint64 {
	return t.AccessCycles(addr)
}

// Fetch returns the cycles an instruction fetch at addr adds.
func (t *Table) Fetch(addr uint32) uint64 {
	return t.AccessCycles(addr)
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Format {
	case insts.FormatLoadStore, insts.FormatLoadStoreHalf, insts.FormatBlock:
		return true
	}
	return false
}

// IsLoadOp returns true if the instruction is a load operation.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpLDR, insts.OpLDRB, insts.OpLDRH, insts.OpLDRSB, insts.OpLDRSH, insts.OpLDM:
		return true
	}
	return false
}

// IsStoreOp returns true if the instruction is a store operation.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	switch inst.Op {
	case insts.OpSTR, insts.OpSTRB, insts.OpSTRH, insts.OpSTM:
		return true
	}
	return false
}

// IsBranchOp returns true if the instruction is a branch operation.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.Format == insts.FormatBranch || inst.Format == insts.FormatBranchReg
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}

// Core returns the timing of the table's core.
func (t *Table) Core() *CoreTiming {
	return t.core
}
