// Package timers models the four 16-bit timers of one CPU.
//
// A running timer is not ticked. It records the cycle it was started at and
// schedules a single event for its next overflow; reads derive the counter
// from the elapsed cycles. Reconfiguring a timer reschedules it and records
// the new target, so an overflow event that fires with a different target
// belongs to an older configuration and is ignored.
package timers

import (
	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/timing/cycle"
)

// Control register bits.
const (
	ControlPrescaler uint16 = 0x3
	ControlCountUp   uint16 = 1 << 2
	ControlIRQ       uint16 = 1 << 6
	ControlEnable    uint16 = 1 << 7

	controlMask uint16 = 0xC7
)

// IOBase is the address of the first timer register word.
const IOBase = 0x04000100

// NumChannels is the number of timers per CPU.
const NumChannels = 4

// prescalerShift maps the prescaler field to log2 of the divider.
var prescalerShift = [4]uint{0, 6, 8, 10}

// Interrupter accepts interrupt requests.
type Interrupter interface {
	SendInterrupt(flag uint32)
}

// Channel is the persistent state of one timer.
type Channel struct {
	Reload  uint16
	Control uint16

	// Counter is the value at Start. Start is the cycle the counter was
	// last latched.
	Counter uint16
	Start   uint64

	// Target is the cycle of the scheduled overflow, zero when none.
	Target uint64
}

func (c *Channel) enabled() bool { return c.Control&ControlEnable != 0 }

func (c *Channel) countUp(i int) bool { return i > 0 && c.Control&ControlCountUp != 0 }

func (c *Channel) shift() uint { return prescalerShift[c.Control&ControlPrescaler] }

// Timers is the timer block of one CPU.
type Timers struct {
	ch    [NumChannels]Channel
	sched *cycle.Manager
	irq   Interrupter
	event cycle.EventType

	// Overflows counts overflow events per channel.
	overflows [NumChannels]uint64
}

// New creates the timers and registers the overflow handler for event.
func New(sched *cycle.Manager, irq Interrupter, event cycle.EventType, name string) *Timers {
	t := &Timers{sched: sched, irq: irq, event: event}
	sched.Register(event, name, t.onOverflow)
	return t
}

// Channel returns a copy of channel i.
func (t *Timers) Channel(i int) Channel {
	return t.ch[i]
}

// Overflows returns how many times channel i overflowed.
func (t *Timers) Overflows(i int) uint64 {
	return t.overflows[i]
}

// Counter returns the current value of channel i.
func (t *Timers) Counter(i int) uint16 {
	c := &t.ch[i]
	if !c.enabled() || c.countUp(i) {
		return c.Counter
	}

	period := uint64(0x10000 - uint32(c.Reload))
	elapsed := (t.sched.Cycles() - c.Start) >> c.shift()
	start := uint64(c.Counter)

	if start+elapsed < 0x10000 {
		return uint16(start + elapsed)
	}
	// Past an overflow the event has not handled yet.
	over := start + elapsed - 0x10000
	return uint16(uint64(c.Reload) + over%period)
}

// WriteReload sets the value loaded on start and overflow.
func (t *Timers) WriteReload(i int, v uint16) {
	t.ch[i].Reload = v
}

// WriteControl updates the control register of channel i.
func (t *Timers) WriteControl(i int, v uint16) {
	c := &t.ch[i]
	v &= controlMask
	was := c.enabled()

	// Latch the running count before the old configuration is lost.
	if was {
		c.Counter = t.Counter(i)
	}
	c.Control = v
	c.Start = t.sched.Cycles()
	c.Target = 0

	if !c.enabled() {
		return
	}
	if !was {
		c.Counter = c.Reload
	}
	t.schedule(i)
}

func (t *Timers) schedule(i int) {
	c := &t.ch[i]
	if c.countUp(i) {
		return
	}

	full := uint64(0x10000-uint32(c.Counter)) << c.shift()
	var delay uint64
	if elapsed := t.sched.Cycles() - c.Start; elapsed < full {
		delay = full - elapsed
	}
	c.Target = t.sched.Schedule(delay, t.event, uint32(i))
}

func (t *Timers) onOverflow(m *cycle.Manager, arg uint32) {
	i := int(arg)
	c := &t.ch[i]
	if !c.enabled() || m.EventCycle() != c.Target {
		return
	}

	c.Counter = c.Reload
	c.Start = c.Target
	t.overflow(i)
	t.schedule(i)
}

// overflow raises the interrupt of channel i and clocks a cascaded
// neighbour.
func (t *Timers) overflow(i int) {
	t.overflows[i]++
	if t.ch[i].Control&ControlIRQ != 0 && t.irq != nil {
		t.irq.SendInterrupt(1 << (3 + i))
	}

	if i+1 >= NumChannels {
		return
	}
	next := &t.ch[i+1]
	if !next.enabled() || !next.countUp(i+1) {
		return
	}

	if next.Counter == 0xFFFF {
		next.Counter = next.Reload
		t.overflow(i + 1)
		return
	}
	next.Counter++
}

// Map registers TMxCNT_L and TMxCNT_H of every channel in io.
func (t *Timers) Map(io *mem.IOMap) {
	io.Map("timers", IOBase, IOBase+4*NumChannels-1, t.read, t.write)
}

func (t *Timers) read(addr uint32) uint32 {
	i := int(addr-IOBase) / 4
	return uint32(t.Counter(i)) | uint32(t.ch[i].Control)<<16
}

func (t *Timers) write(addr, value, mask uint32) {
	i := int(addr-IOBase) / 4
	if mask&0xFFFF != 0 {
		reload := uint32(t.ch[i].Reload)&^mask | value&mask
		t.WriteReload(i, uint16(reload))
	}
	if mask>>16 != 0 {
		ctrl := uint32(t.ch[i].Control)<<16&^mask | value&mask
		t.WriteControl(i, uint16(ctrl>>16))
	}
}

// State is the persistent state of the timers.
type State struct {
	Channels [NumChannels]Channel
}

// State captures every channel. Pending overflow events travel with the
// scheduler snapshot.
func (t *Timers) State() State {
	return State{Channels: t.ch}
}

// Restore loads captured channels.
func (t *Timers) Restore(s State) {
	t.ch = s.Channels
}

// Reset stops every channel.
func (t *Timers) Reset() {
	t.ch = [NumChannels]Channel{}
	t.overflows = [NumChannels]uint64{}
}
