package emu

import "github.com/sarchlab/dscore/timing/cycle"

// Interrupt request bits of IE and IF.
const (
	IRQVBlank  uint32 = 1 << 0
	IRQHBlank  uint32 = 1 << 1
	IRQVCount  uint32 = 1 << 2
	IRQTimer0  uint32 = 1 << 3
	IRQTimer1  uint32 = 1 << 4
	IRQTimer2  uint32 = 1 << 5
	IRQTimer3  uint32 = 1 << 6
	IRQIPCSync uint32 = 1 << 16
)

// Scheduler accepts immediate events.
type Scheduler interface {
	ScheduleImm(typ cycle.EventType, arg uint32)
}

// CpuRegsState is the persistent part of CpuRegs.
type CpuRegsState struct {
	IE     uint32
	IF     uint32
	IME    bool
	Halted bool
}

// CpuRegs is the interrupt controller of one core. A raised interrupt that
// the core accepts is delivered through an immediate event so that it is
// taken between blocks.
type CpuRegs struct {
	ie, flags uint32
	ime       bool
	halted    bool

	sched  Scheduler
	event  cycle.EventType
	arg    uint32
	masked func() bool
}

// NewCpuRegs creates an interrupt controller that posts delivery events
// of type event with argument arg. sched may be nil.
func NewCpuRegs(sched Scheduler, event cycle.EventType, arg uint32) *CpuRegs {
	return &CpuRegs{sched: sched, event: event, arg: arg}
}

// attach ties the controller to the I bit of a core.
func (r *CpuRegs) attach(masked func() bool) {
	r.masked = masked
}

func (r *CpuRegs) irqMasked() bool {
	return r.masked != nil && r.masked()
}

// SendInterrupt raises the bits in flag.
func (r *CpuRegs) SendInterrupt(flag uint32) {
	r.flags |= flag
	r.CheckForInterrupt()
}

// CheckForInterrupt re-evaluates the interrupt line. It must run after any
// change to IE, IF, IME or the I bit. A requested interrupt always wakes the
// core; it is delivered only when IME is set and the I bit is clear.
func (r *CpuRegs) CheckForInterrupt() {
	if r.ie&r.flags == 0 {
		return
	}

	if r.ime && !r.irqMasked() && r.sched != nil {
		r.sched.ScheduleImm(r.event, r.arg)
	}
	r.halted = false
}

// Pending returns true if an interrupt can be taken now.
func (r *CpuRegs) Pending() bool {
	return r.ime && r.ie&r.flags != 0 && !r.irqMasked()
}

// IE returns the enable mask.
func (r *CpuRegs) IE() uint32 { return r.ie }

// IF returns the request flags.
func (r *CpuRegs) IF() uint32 { return r.flags }

// IME returns the master enable.
func (r *CpuRegs) IME() bool { return r.ime }

// WriteIE replaces the enable mask.
func (r *CpuRegs) WriteIE(v uint32) {
	r.ie = v
	r.CheckForInterrupt()
}

// WriteIF acknowledges the bits set in v.
func (r *CpuRegs) WriteIF(v uint32) {
	r.flags &^= v
}

// WriteIME sets the master enable from bit 0 of v.
func (r *CpuRegs) WriteIME(v uint32) {
	r.ime = v&1 != 0
	r.CheckForInterrupt()
}

// Halt stops the core until an enabled interrupt is requested. It has no
// effect while one is already requested.
func (r *CpuRegs) Halt() {
	r.halted = r.ie&r.flags == 0
}

// Halted returns true while the core waits for an interrupt.
func (r *CpuRegs) Halted() bool {
	return r.halted
}

// State captures the registers.
func (r *CpuRegs) State() CpuRegsState {
	return CpuRegsState{IE: r.ie, IF: r.flags, IME: r.ime, Halted: r.halted}
}

// Restore loads captured registers without posting events.
func (r *CpuRegs) Restore(s CpuRegsState) {
	r.ie, r.flags, r.ime, r.halted = s.IE, s.IF, s.IME, s.Halted
}

// Reset clears every register.
func (r *CpuRegs) Reset() {
	r.Restore(CpuRegsState{})
}
