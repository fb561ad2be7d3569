package machine

import (
	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/mem/region"
)

// System register addresses.
const (
	RegIPCSync  = 0x04000180
	RegIME      = 0x04000208
	RegIE       = 0x04000210
	RegIF       = 0x04000214
	RegWRAMCNT  = 0x04000247
	RegWRAMSTAT = 0x04000241
	RegPOSTFLG  = 0x04000300
	RegHALTCNT  = 0x04000301
)

// IPCSYNC bits.
const (
	ipcSyncOut    uint32 = 0xF << 8
	ipcSyncSend   uint32 = 1 << 13
	ipcSyncEnable uint32 = 1 << 14
)

// sysRegs are the interrupt, IPC and memory control registers of one CPU.
type sysRegs struct {
	m   *Machine
	cpu region.CPU

	ipcSync uint32
	postFlg uint8
}

func merge(old, value, mask uint32) uint32 {
	return old&^mask | value&mask
}

func (s *sysRegs) irq() *emu.CpuRegs {
	return s.m.cores[s.cpu].CpuRegs()
}

func (s *sysRegs) remote() *sysRegs {
	return s.m.sys[s.cpu^1]
}

func (s *sysRegs) mapInto(io *mem.IOMap) {
	io.Map("ipcsync", RegIPCSync, RegIPCSync+3, s.readIPCSync, s.writeIPCSync)
	io.Map("ime", RegIME, RegIME+3,
		func(uint32) uint32 {
			if s.irq().IME() {
				return 1
			}
			return 0
		},
		func(_, value, mask uint32) {
			if mask&1 != 0 {
				s.irq().WriteIME(value)
			}
		})
	io.Map("ie/if", RegIE, RegIF+3, s.readIRQ, s.writeIRQ)

	if s.cpu == region.ARM9 {
		io.Map("wramcnt", RegWRAMCNT&^3, RegWRAMCNT,
			func(uint32) uint32 { return uint32(s.m.ctrl.WRAMCNT) << 24 },
			func(_, value, mask uint32) {
				if mask&0xFF000000 != 0 {
					s.m.SetWRAMCNT(uint8(value >> 24))
				}
			})
	} else {
		io.Map("wramstat", RegWRAMSTAT&^3, RegWRAMSTAT|3,
			func(uint32) uint32 { return uint32(s.m.ctrl.WRAMCNT) << 8 },
			nil)
	}

	io.Map("postflg/haltcnt", RegPOSTFLG, RegPOSTFLG+3, s.readPower, s.writePower)
}

func (s *sysRegs) readIPCSync(uint32) uint32 {
	in := s.remote().ipcSync & ipcSyncOut >> 8
	return s.ipcSync&(ipcSyncOut|ipcSyncEnable) | in
}

func (s *sysRegs) writeIPCSync(_, value, mask uint32) {
	s.ipcSync = merge(s.ipcSync, value, mask&(ipcSyncOut|ipcSyncEnable))

	if value&mask&ipcSyncSend == 0 {
		return
	}
	r := s.remote()
	if r.ipcSync&ipcSyncEnable != 0 {
		r.irq().SendInterrupt(emu.IRQIPCSync)
	}
}

func (s *sysRegs) readIRQ(addr uint32) uint32 {
	if addr == RegIE {
		return s.irq().IE()
	}
	return s.irq().IF()
}

func (s *sysRegs) writeIRQ(addr, value, mask uint32) {
	r := s.irq()
	if addr == RegIE {
		r.WriteIE(merge(r.IE(), value, mask))
		return
	}
	r.WriteIF(value & mask)
}

func (s *sysRegs) readPower(uint32) uint32 {
	return uint32(s.postFlg)
}

func (s *sysRegs) writePower(_, value, mask uint32) {
	if mask&0xFF != 0 {
		s.postFlg |= uint8(value) & 1
	}

	// HALTCNT exists on the ARM7 only; mode 2 halts the core.
	if s.cpu == region.ARM7 && mask&0xFF00 != 0 && (value>>8)&0xC0 == 0x80 {
		s.m.cores[s.cpu].Halt()
	}
}

func (s *sysRegs) state() sysState {
	return sysState{IPCSync: s.ipcSync, PostFlg: s.postFlg}
}

func (s *sysRegs) restore(st sysState) {
	s.ipcSync, s.postFlg = st.IPCSync, st.PostFlg
}

// sysState is the persistent part of sysRegs.
type sysState struct {
	IPCSync uint32
	PostFlg uint8
}
