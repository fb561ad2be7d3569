package machine

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/dscore/mem/region"
)

// IRQ dispatch stubs installed in place of a missing BIOS image. Like the
// real firmware they save the scratch registers, call the handler whose
// address the program stored just below the top of DTCM (ARM9) or of the
// I/O base (ARM7), and return from the exception.
var (
	arm9IRQStub = []uint32{
		0xE92D500F, // stmfd sp!, {r0-r3, r12, lr}
		0xEE190F11, // mrc p15, 0, r0, c9, c1, 0
		0xE1A00620, // mov r0, r0, lsr #12
		0xE1A00600, // mov r0, r0, lsl #12
		0xE2800901, // add r0, r0, #0x4000
		0xE28FE000, // add lr, pc, #0
		0xE510F004, // ldr pc, [r0, #-4]
		0xE8BD500F, // ldmfd sp!, {r0-r3, r12, lr}
		0xE25EF004, // subs pc, lr, #4
	}
	arm7IRQStub = []uint32{
		0xE92D500F, // stmfd sp!, {r0-r3, r12, lr}
		0xE3A00301, // mov r0, #0x04000000
		0xE28FE000, // add lr, pc, #0
		0xE510F004, // ldr pc, [r0, #-4]
		0xE8BD500F, // ldmfd sp!, {r0-r3, r12, lr}
		0xE25EF004, // subs pc, lr, #4
	}
)

// irqVector is the offset of the IRQ entry in both vector tables.
const irqVector = 0x18

func encode(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

// installIRQStubs writes the dispatch stubs into the BIOS regions that no
// image was loaded into.
func (m *Machine) installIRQStubs() error {
	if m.cfg.ARM9BIOS == "" {
		base := m.table.Get(region.ARM9BIOS).Base
		if err := m.mem.Load(region.ARM9, base+irqVector, encode(arm9IRQStub)); err != nil {
			return fmt.Errorf("machine: arm9 irq stub: %w", err)
		}
	}
	if m.cfg.ARM7BIOS == "" {
		base := m.table.Get(region.ARM7BIOS).Base
		if err := m.mem.Load(region.ARM7, base+irqVector, encode(arm7IRQStub)); err != nil {
			return fmt.Errorf("machine: arm7 irq stub: %w", err)
		}
	}
	return nil
}
