package machine

import (
	"fmt"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/loader"
	"github.com/sarchlab/dscore/mem/region"
)

// State the boot firmware leaves behind.
const (
	bootCP15Control = 0x0005707D
	bootDTCM        = 0x0300000A
	bootITCM        = 0x00000020
	bootWRAMCNT     = 3

	// HeaderAddr is where the firmware copies the cartridge header.
	HeaderAddr = 0x027FFE00
)

type bootStacks struct {
	svc, irq, sys uint32
}

var stacks = [2]bootStacks{
	region.ARM9: {svc: 0x03003FC0, irq: 0x03003F80, sys: 0x03002F7C},
	region.ARM7: {svc: 0x0380FFDC, irq: 0x0380FFB0, sys: 0x0380FF00},
}

// setupFirmware applies the control register and stack state of a booted
// system.
func (m *Machine) setupFirmware() {
	cp := m.cores[region.ARM9].CP15()
	cp.Write(9, 1, 0, 0, bootDTCM)
	cp.Write(9, 1, 0, 1, bootITCM)
	cp.Write(1, 0, 0, 0, bootCP15Control)

	m.SetWRAMCNT(bootWRAMCNT)

	for cpu, c := range m.cores {
		r := c.Regs()
		s := stacks[cpu]

		r.SetMode(emu.ModeSVC)
		r.R[13] = s.svc
		r.SetMode(emu.ModeIRQ)
		r.R[13] = s.irq
		r.SetMode(emu.ModeSYS)
		r.R[13] = s.sys
		r.CPSR &^= emu.FlagI | emu.FlagF
	}
}

// DirectBoot loads both binaries of rom and starts them at their entry
// points as the boot firmware would.
func (m *Machine) DirectBoot(rom *loader.ROM) error {
	m.setupFirmware()

	h := rom.Header
	if err := m.mem.Load(region.ARM9, HeaderAddr, rom.HeaderBytes()); err != nil {
		return fmt.Errorf("direct boot: header: %w", err)
	}
	if err := m.mem.Load(region.ARM9, h.ARM9.RAMAddr, rom.ARM9Binary()); err != nil {
		return fmt.Errorf("direct boot: arm9 binary: %w", err)
	}
	if err := m.mem.Load(region.ARM7, h.ARM7.RAMAddr, rom.ARM7Binary()); err != nil {
		return fmt.Errorf("direct boot: arm7 binary: %w", err)
	}

	m.cores[region.ARM9].SetPC(h.ARM9.Entry)
	m.cores[region.ARM7].SetPC(h.ARM7.Entry)

	m.log.Info("direct boot", "title", h.Title, "code", h.GameCode,
		"arm9", fmt.Sprintf("%08x", h.ARM9.Entry), "arm7", fmt.Sprintf("%08x", h.ARM7.Entry))

	return nil
}

// BootELF loads prog on cpu and starts it at its entry point. The other
// core is left halted.
func (m *Machine) BootELF(prog *loader.Program, cpu region.CPU) error {
	m.setupFirmware()

	if err := prog.LoadInto(m.mem, cpu); err != nil {
		return fmt.Errorf("boot elf: %w", err)
	}

	c := m.cores[cpu]
	c.Regs().R[13] = prog.InitialSP
	c.SetPC(prog.EntryPoint)

	m.cores[cpu^1].Halt()

	return nil
}
