package emu

import (
	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/mem/region"
)

// CP15 control register bits.
const (
	ControlDCache      uint32 = 1 << 2
	ControlICache      uint32 = 1 << 12
	ControlHighVectors uint32 = 1 << 13
	ControlDTCMEnable  uint32 = 1 << 16
	ControlDTCMLoad    uint32 = 1 << 17
	ControlITCMEnable  uint32 = 1 << 18
	ControlITCMLoad    uint32 = 1 << 19

	controlReset uint32 = 0x00002078
)

// Identification registers reported by the ARM946E-S.
const (
	cp15MainID   uint32 = 0x41059461
	cp15CacheID  uint32 = 0x0F0D2112
	cp15TCMSizes uint32 = 0x00140180
)

// TCMHook is called after a TCM window changed, with the configuration it
// had before.
type TCMHook func(id region.ID, prev mmu.TCM)

// CP15State is the persistent part of the system control coprocessor.
type CP15State struct {
	Control     uint32
	DTCMSetting uint32
	ITCMSetting uint32
	Other       map[uint32]uint32
}

// CP15 models the system control coprocessor of the ARM9: the control
// register, the TCM region registers and the wait-for-interrupt ops. Cache
// maintenance and protection unit writes are recorded and otherwise ignored.
type CP15 struct {
	control     uint32
	dtcmSetting uint32
	itcmSetting uint32
	other       map[uint32]uint32

	ctrl *mmu.Control
	hook TCMHook
}

// NewCP15 creates a CP15 that drives the TCM state in ctrl.
func NewCP15(ctrl *mmu.Control) *CP15 {
	c := &CP15{ctrl: ctrl}
	c.Reset()
	return c
}

// SetTCMHook installs the callback run after TCM changes.
func (c *CP15) SetTCMHook(h TCMHook) {
	c.hook = h
}

// Control returns the shared control state.
func (c *CP15) Control() *mmu.Control {
	return c.ctrl
}

// Reset restores the power-on values. The TCM state is updated without
// calling the hook.
func (c *CP15) Reset() {
	c.control = controlReset
	c.dtcmSetting = 0
	c.itcmSetting = 0
	c.other = make(map[uint32]uint32)
	c.apply()
}

func cp15Key(crn, crm, opc1, opc2 uint8) uint32 {
	return uint32(crn)<<12 | uint32(crm)<<8 | uint32(opc1)<<4 | uint32(opc2)
}

// Read returns the value of a coprocessor register.
func (c *CP15) Read(crn, crm, opc1, opc2 uint8) uint32 {
	switch {
	case crn == 0 && crm == 0 && opc2 == 1:
		return cp15CacheID
	case crn == 0 && crm == 0 && opc2 == 2:
		return cp15TCMSizes
	case crn == 0 && crm == 0:
		return cp15MainID
	case crn == 1 && crm == 0 && opc2 == 0:
		return c.control
	case crn == 9 && crm == 1 && opc2 == 0:
		return c.dtcmSetting
	case crn == 9 && crm == 1 && opc2 == 1:
		return c.itcmSetting
	}
	return c.other[cp15Key(crn, crm, opc1, opc2)]
}

// Write updates a coprocessor register. It returns true if the write asks
// the core to wait for an interrupt.
func (c *CP15) Write(crn, crm, opc1, opc2 uint8, v uint32) bool {
	switch {
	case crn == 1 && crm == 0 && opc2 == 0:
		// Bits 3-6 always read as one.
		c.control = c.control&^0x000FF085 | v&0x000FF085 | 0x78
		c.update()
	case crn == 9 && crm == 1 && opc2 == 0:
		c.dtcmSetting = v
		c.update()
	case crn == 9 && crm == 1 && opc2 == 1:
		c.itcmSetting = v
		c.update()
	case crn == 7 && crm == 0 && opc2 == 4, crn == 7 && crm == 8 && opc2 == 2:
		return true
	default:
		c.other[cp15Key(crn, crm, opc1, opc2)] = v
	}
	return false
}

func (c *CP15) update() {
	prevI, prevD := c.ctrl.ITCM, c.ctrl.DTCM
	c.apply()

	if c.hook == nil {
		return
	}
	if c.ctrl.ITCM != prevI {
		c.hook(region.ITCM, prevI)
	}
	if c.ctrl.DTCM != prevD {
		c.hook(region.DTCM, prevD)
	}
}

// apply derives the TCM windows from the register values. The ITCM base is
// fixed at zero.
func (c *CP15) apply() {
	c.ctrl.DTCM = mmu.TCM{
		Base:    c.dtcmSetting & 0xFFFFF000,
		Size:    mmu.RegionSize(c.dtcmSetting),
		Enabled: c.control&ControlDTCMEnable != 0,
		Load:    c.control&ControlDTCMLoad != 0,
	}
	c.ctrl.ITCM = mmu.TCM{
		Size:    mmu.RegionSize(c.itcmSetting),
		Enabled: c.control&ControlITCMEnable != 0,
		Load:    c.control&ControlITCMLoad != 0,
	}
}

// HighVectors returns true if exceptions vector to 0xFFFF0000.
func (c *CP15) HighVectors() bool {
	return c.control&ControlHighVectors != 0
}

// ICacheEnabled returns true if the instruction cache is on.
func (c *CP15) ICacheEnabled() bool {
	return c.control&ControlICache != 0
}

// DCacheEnabled returns true if the data cache is on.
func (c *CP15) DCacheEnabled() bool {
	return c.control&ControlDCache != 0
}

// State captures the register values.
func (c *CP15) State() CP15State {
	other := make(map[uint32]uint32, len(c.other))
	for k, v := range c.other {
		other[k] = v
	}
	return CP15State{
		Control:     c.control,
		DTCMSetting: c.dtcmSetting,
		ITCMSetting: c.itcmSetting,
		Other:       other,
	}
}

// Restore loads captured values and rederives the TCM windows. The caller
// rebuilds the mappings.
func (c *CP15) Restore(s CP15State) {
	c.control = s.Control
	c.dtcmSetting = s.DTCMSetting
	c.itcmSetting = s.ITCMSetting
	c.other = make(map[uint32]uint32, len(s.Other))
	for k, v := range s.Other {
		c.other[k] = v
	}
	c.apply()
}
