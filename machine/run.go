package machine

import (
	"context"
	"fmt"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/timing/latency"
)

// ARM9ClockRatio is the ARM9 clock over the system clock.
const ARM9ClockRatio = uint64(latency.ARM9Clock / latency.SystemClock)

// RunSlice advances the machine by at most limit system cycles. The slice
// ends early at the next scheduled event, and is empty while an immediate
// event is pending. The ARM9 runs first, then the ARM7, then the scheduler
// catches up and dispatches due events.
func (m *Machine) RunSlice(limit uint64) error {
	if err := m.Err(); err != nil {
		return err
	}

	now := m.sched.Cycles()

	if m.halted(region.ARM9) && m.halted(region.ARM7) && !m.sched.ImmediatePending() {
		m.sched.JumpToNextEvent()
		m.syncCores()
		m.sched.CheckEvents()
		return m.Err()
	}

	target := now + limit
	if next, ok := m.sched.NextEventCycle(); ok && next < target {
		target = next
	}
	if m.sched.ImmediatePending() {
		target = now
	}

	if target > now {
		if err := m.runCore(region.ARM9, target*ARM9ClockRatio); err != nil {
			return err
		}

		// An interrupt raised by the ARM9 ends the slice where it stopped.
		if m.sched.ImmediatePending() {
			if t := m.cores[region.ARM9].Cycles() / ARM9ClockRatio; t < target {
				target = max(t, now)
			}
		}

		if err := m.runCore(region.ARM7, target); err != nil {
			return err
		}
	}

	m.sched.AddCycles(target - now)
	m.sched.CheckEvents()

	return m.Err()
}

func (m *Machine) halted(cpu region.CPU) bool {
	return m.cores[cpu].Halted()
}

// syncCores moves halted cores up to the scheduler.
func (m *Machine) syncCores() {
	now := m.sched.Cycles()
	targets := [2]uint64{now * ARM9ClockRatio, now}

	for cpu, c := range m.cores {
		if c.Cycles() < targets[cpu] {
			c.SetCycles(targets[cpu])
		}
	}
}

// runCore executes cpu until its cycle counter reaches target, it halts,
// or it posts an immediate event.
func (m *Machine) runCore(cpu region.CPU, target uint64) error {
	c := m.cores[cpu]
	t := m.translators[cpu]
	stopOnImm := !m.sched.ImmediatePending()

	for c.Cycles() < target {
		if c.Halted() {
			if err := c.Err(); err != nil {
				return fmt.Errorf("%s: %w", cpu, err)
			}
			c.SetCycles(target)
			break
		}

		var res emu.Result
		if t != nil {
			var err error
			if res, err = t.Step(); err != nil {
				m.fail(fmt.Errorf("%s: %w", cpu, err))
				return m.err
			}
		} else {
			res = c.Step()
		}

		if res == emu.ResultStop || stopOnImm && m.sched.ImmediatePending() {
			break
		}
	}

	if err := c.Err(); err != nil {
		return fmt.Errorf("%s: %w", cpu, err)
	}
	return m.err
}

// RunFrame runs until the next VBlank starts.
func (m *Machine) RunFrame() error {
	frame := m.video.Frames()
	for m.video.Frames() == frame {
		if err := m.RunSlice(m.cfg.SliceCycles); err != nil {
			return err
		}
	}
	return nil
}

// RunCycles runs until the scheduler has advanced by n system cycles.
func (m *Machine) RunCycles(n uint64) error {
	end := m.sched.Cycles() + n
	for m.sched.Cycles() < end {
		if err := m.RunSlice(min(m.cfg.SliceCycles, end-m.sched.Cycles())); err != nil {
			return err
		}
	}
	return nil
}

// Run executes frames until ctx is cancelled or the machine stops. A
// cancelled context is not an error.
func (m *Machine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.RunFrame(); err != nil {
			return err
		}
	}
}
