// Package video drives the scanline timing of the display: HBlank and
// VBlank flags, the VCount match and their interrupts, on both CPUs.
//
// Rendering is not modeled. The unit exists to keep a recurring event in
// the scheduler and to signal the end of each frame.
package video

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/timing/cycle"
)

// Display timing in system cycles.
const (
	LineCycles   = 2130
	HBlankCycles = 1536
	Lines        = 263
	VisibleLines = 192
)

// DISPSTAT bits.
const (
	StatVBlank     uint16 = 1 << 0
	StatHBlank     uint16 = 1 << 1
	StatVCount     uint16 = 1 << 2
	StatVBlankIRQ  uint16 = 1 << 3
	StatHBlankIRQ  uint16 = 1 << 4
	StatVCountIRQ  uint16 = 1 << 5
	statWritable   uint16 = 0xFFB8
	statVCountHigh uint16 = 1 << 7
)

// Interrupt request bits shared by both CPUs.
const (
	irqVBlank uint32 = 1 << 0
	irqHBlank uint32 = 1 << 1
	irqVCount uint32 = 1 << 2
)

// IOBase is the address of the DISPSTAT/VCOUNT register word.
const IOBase = 0x04000004

// Event arguments.
const (
	phaseHBlank uint32 = iota
	phaseLineEnd
)

// Interrupter accepts interrupt requests.
type Interrupter interface {
	SendInterrupt(flag uint32)
}

// Option configures a Video.
type Option func(*Video)

// WithFrameDone sets the callback run when VBlank starts.
func WithFrameDone(f func(frame uint64)) Option {
	return func(v *Video) {
		v.frameDone = f
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(v *Video) {
		v.log = log
	}
}

// State is the persistent state of the display timing.
type State struct {
	Line     uint16
	DispStat [2]uint16
	Frames   uint64
	Due      uint64
}

// Video is the display timing unit.
type Video struct {
	line     uint16
	dispStat [2]uint16
	frames   uint64

	// due is the cycle the pending phase is due, which may be earlier
	// than the event target after a late dispatch.
	due uint64

	irq       [2]Interrupter
	sched     *cycle.Manager
	event     cycle.EventType
	frameDone func(frame uint64)
	log       logr.Logger
}

// New creates the unit and registers its handler for event. Start must be
// called to begin the first line.
func New(sched *cycle.Manager, arm9, arm7 Interrupter, event cycle.EventType, opts ...Option) *Video {
	v := &Video{
		irq:   [2]Interrupter{arm9, arm7},
		sched: sched,
		event: event,
		log:   logr.Discard(),
	}

	for _, opt := range opts {
		opt(v)
	}

	sched.Register(event, "video", v.onEvent)

	return v
}

// Start schedules the first HBlank of line 0.
func (v *Video) Start() {
	v.due = v.sched.Cycles()
	v.scheduleFrom(v.sched, HBlankCycles, phaseHBlank)
}

// Line returns the current scanline.
func (v *Video) Line() uint16 { return v.line }

// Frames returns the number of completed frames.
func (v *Video) Frames() uint64 { return v.frames }

// DispStat returns DISPSTAT as seen by cpu.
func (v *Video) DispStat(cpu region.CPU) uint16 { return v.dispStat[cpu] }

func (v *Video) onEvent(m *cycle.Manager, arg uint32) {
	switch arg {
	case phaseHBlank:
		v.hblank()
		v.scheduleFrom(m, LineCycles-HBlankCycles, phaseLineEnd)
	case phaseLineEnd:
		v.nextLine()
		v.scheduleFrom(m, HBlankCycles, phaseHBlank)
	}
}

// scheduleFrom schedules the next phase relative to the cycle the previous
// one was due, so late dispatch does not stretch the frame.
func (v *Video) scheduleFrom(m *cycle.Manager, delay uint64, phase uint32) {
	v.due += delay
	delay = 1
	if now := m.Cycles(); v.due > now {
		delay = v.due - now
	}
	m.Schedule(delay, v.event, phase)
}

func (v *Video) hblank() {
	for cpu := range v.dispStat {
		v.dispStat[cpu] |= StatHBlank
		if v.dispStat[cpu]&StatHBlankIRQ != 0 {
			v.raise(cpu, irqHBlank)
		}
	}
}

func (v *Video) nextLine() {
	v.line++
	if v.line == Lines {
		v.line = 0
	}

	for cpu := range v.dispStat {
		s := v.dispStat[cpu] &^ StatHBlank

		switch v.line {
		case VisibleLines:
			s |= StatVBlank
			if s&StatVBlankIRQ != 0 {
				v.raise(cpu, irqVBlank)
			}
		case Lines - 1:
			s &^= StatVBlank
		}

		if v.line == vcountSetting(s) {
			s |= StatVCount
			if s&StatVCountIRQ != 0 {
				v.raise(cpu, irqVCount)
			}
		} else {
			s &^= StatVCount
		}

		v.dispStat[cpu] = s
	}

	if v.line == VisibleLines {
		v.frames++
		v.log.V(2).Info("frame", "n", v.frames)
		if v.frameDone != nil {
			v.frameDone(v.frames)
		}
	}
}

func vcountSetting(s uint16) uint16 {
	setting := s >> 8
	if s&statVCountHigh != 0 {
		setting |= 0x100
	}
	return setting
}

func (v *Video) raise(cpu int, flag uint32) {
	if v.irq[cpu] != nil {
		v.irq[cpu].SendInterrupt(flag)
	}
}

// WriteDispStat updates the writable DISPSTAT bits of cpu.
func (v *Video) WriteDispStat(cpu region.CPU, value uint16) {
	v.dispStat[cpu] = v.dispStat[cpu]&^statWritable | value&statWritable
}

// Map registers DISPSTAT and VCOUNT of cpu in io.
func (v *Video) Map(cpu region.CPU, io *mem.IOMap) {
	io.Map("dispstat", IOBase, IOBase+3,
		func(uint32) uint32 {
			return uint32(v.dispStat[cpu]) | uint32(v.line)<<16
		},
		func(_, value, mask uint32) {
			if mask&0xFFFF == 0 {
				return
			}
			cur := uint32(v.dispStat[cpu])
			v.WriteDispStat(cpu, uint16(cur&^mask|value&mask))
		})
}

// State captures the unit. The pending line event travels with the
// scheduler snapshot.
func (v *Video) State() State {
	return State{Line: v.line, DispStat: v.dispStat, Frames: v.frames, Due: v.due}
}

// Restore loads captured state.
func (v *Video) Restore(s State) {
	v.line, v.dispStat, v.frames, v.due = s.Line, s.DispStat, s.Frames, s.Due
}

// Reset returns to the top of the frame. The caller resets the scheduler
// and calls Start again.
func (v *Video) Reset() {
	v.Restore(State{})
}
