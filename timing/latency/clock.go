package latency

import (
	"time"

	"github.com/sarchlab/akita/v4/sim"
)

// Clock rates. The scheduler counts in ARM7 cycles; the ARM9 runs twice as
// fast.
const (
	ARM9Clock   sim.Freq = 67.027964 * sim.MHz
	ARM7Clock   sim.Freq = 33.513982 * sim.MHz
	SystemClock          = ARM7Clock
)

// Frame geometry in system cycles.
const (
	CyclesPerLine  = 2130
	LinesPerFrame  = 263
	CyclesPerFrame = CyclesPerLine * LinesPerFrame
)

// Duration converts system cycles to wall time.
func Duration(cycles uint64) time.Duration {
	return time.Duration(float64(cycles) / float64(SystemClock) * float64(time.Second))
}

// FrameRate returns the emulated refresh rate in Hz.
func FrameRate() float64 {
	return float64(SystemClock) / CyclesPerFrame
}
