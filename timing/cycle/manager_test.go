package cycle_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/timing/cycle"
)

const (
	timerA cycle.EventType = iota
	timerB
	cascade
	recurring
)

type firing struct {
	typ   cycle.EventType
	arg   uint32
	cycle uint64
}

var _ = Describe("Manager", func() {
	var (
		m     *cycle.Manager
		fired []firing
	)

	record := func(typ cycle.EventType) cycle.Handler {
		return func(m *cycle.Manager, arg uint32) {
			fired = append(fired, firing{typ: typ, arg: arg, cycle: m.EventCycle()})
		}
	}

	BeforeEach(func() {
		fired = nil
		m = cycle.NewManager()
		m.Register(timerA, "timer a", record(timerA))
		m.Register(timerB, "timer b", record(timerB))
		m.Register(recurring, "recurring", record(recurring))
	})

	Describe("Schedule", func() {
		It("should return the absolute target cycle", func() {
			m.AddCycles(100)
			Expect(m.Schedule(10, timerA, 0)).To(Equal(uint64(110)))
		})

		It("should clamp a zero delay to one cycle", func() {
			m.AddCycles(7)
			Expect(m.Schedule(0, timerA, 0)).To(Equal(uint64(8)))
		})

		It("should not fire events before their target", func() {
			m.Schedule(10, timerA, 0)
			m.AddCycles(9)
			Expect(m.CheckEvents()).To(BeFalse())
			Expect(fired).To(BeEmpty())
		})
	})

	Describe("CheckEvents", func() {
		It("should fire TimerB then TimerA exactly once", func() {
			m.Schedule(10, timerA, 0)
			m.Schedule(5, timerB, 0)
			m.AddCycles(12)

			Expect(m.CheckEvents()).To(BeTrue())
			Expect(fired).To(HaveLen(2))
			Expect(fired[0].typ).To(Equal(timerB))
			Expect(fired[1].typ).To(Equal(timerA))

			Expect(m.CheckEvents()).To(BeFalse())
			Expect(fired).To(HaveLen(2))
		})

		It("should fire equal targets in scheduling order", func() {
			for i := uint32(0); i < 8; i++ {
				m.Schedule(20, timerA, i)
			}
			m.Schedule(5, timerB, 99)
			m.AddCycles(20)
			m.CheckEvents()

			Expect(fired).To(HaveLen(9))
			Expect(fired[0].arg).To(Equal(uint32(99)))
			for i := 1; i < 9; i++ {
				Expect(fired[i].arg).To(Equal(uint32(i - 1)))
			}
		})

		It("should dispatch in non-decreasing target order", func() {
			delays := []uint64{40, 3, 17, 17, 1, 90, 40, 2}
			for i, d := range delays {
				m.Schedule(d, timerA, uint32(i))
			}
			m.AddCycles(100)
			m.CheckEvents()

			Expect(fired).To(HaveLen(len(delays)))
			for i := 1; i < len(fired); i++ {
				Expect(fired[i].cycle).To(BeNumerically(">=", fired[i-1].cycle))
			}
		})

		It("should fire immediate events before due cycle events", func() {
			m.Schedule(1, timerA, 0)
			m.AddCycles(5)
			m.ScheduleImm(timerB, 1)

			m.CheckEvents()
			Expect(fired).To(HaveLen(2))
			Expect(fired[0].typ).To(Equal(timerB))
			Expect(fired[1].typ).To(Equal(timerA))
		})

		It("should drain immediates scheduled while draining", func() {
			depth := 0
			m.Register(cascade, "cascade", func(m *cycle.Manager, arg uint32) {
				fired = append(fired, firing{typ: cascade, arg: arg})
				if depth < 3 {
					depth++
					m.ScheduleImm(cascade, arg+1)
				}
			})
			m.ScheduleImm(cascade, 0)

			Expect(m.CheckEvents()).To(BeTrue())
			Expect(fired).To(HaveLen(4))
			Expect(m.ImmediatePending()).To(BeFalse())
		})

		It("should drain immediates raised by a cycle event before the next cycle event", func() {
			m.Register(cascade, "cascade", func(m *cycle.Manager, arg uint32) {
				fired = append(fired, firing{typ: cascade, arg: arg})
				m.ScheduleImm(timerB, 7)
			})
			m.Schedule(2, cascade, 0)
			m.Schedule(3, timerA, 0)
			m.AddCycles(3)
			m.CheckEvents()

			Expect(fired).To(HaveLen(3))
			Expect(fired[0].typ).To(Equal(cascade))
			Expect(fired[1].typ).To(Equal(timerB))
			Expect(fired[2].typ).To(Equal(timerA))
		})

		It("should tolerate re-entrant scheduling from a callback", func() {
			count := 0
			m.Register(recurring, "recurring", func(m *cycle.Manager, _ uint32) {
				count++
				m.Schedule(10, recurring, 0)
			})
			m.Schedule(10, recurring, 0)

			for i := 0; i < 5; i++ {
				m.AddCycles(10)
				m.CheckEvents()
			}
			Expect(count).To(Equal(5))
			Expect(m.Pending()).To(Equal(1))
		})

		It("should panic when no handler is registered", func() {
			m.Schedule(1, cycle.EventType(40), 0)
			m.AddCycles(1)
			Expect(func() { m.CheckEvents() }).To(Panic())
		})
	})

	Describe("Stale events", func() {
		It("should let a handler discard a superseded callback", func() {
			var recorded uint64
			acted := 0
			m.Register(cascade, "timer", func(m *cycle.Manager, _ uint32) {
				if m.EventCycle() != recorded {
					return
				}
				acted++
			})

			recorded = m.Schedule(10, cascade, 0)
			m.AddCycles(4)
			recorded = m.Schedule(20, cascade, 0)

			m.AddCycles(30)
			m.CheckEvents()
			Expect(acted).To(Equal(1))
		})
	})

	Describe("JumpToNextEvent", func() {
		It("should move the counter to the earliest event", func() {
			m.Schedule(500, recurring, 0)
			m.Schedule(300, timerA, 0)
			m.JumpToNextEvent()
			Expect(m.Cycles()).To(Equal(uint64(300)))

			m.CheckEvents()
			Expect(fired).To(HaveLen(1))
			Expect(fired[0].typ).To(Equal(timerA))
		})

		It("should panic on an empty queue", func() {
			Expect(func() { m.JumpToNextEvent() }).To(Panic())
		})
	})

	Describe("Snapshot", func() {
		It("should restore pending events with tie order intact", func() {
			m.Schedule(10, timerA, 1)
			m.Schedule(10, timerA, 2)
			m.Schedule(4, timerB, 3)
			m.AddCycles(2)
			snap := m.Snapshot()

			other := cycle.NewManager()
			other.Register(timerA, "timer a", record(timerA))
			other.Register(timerB, "timer b", record(timerB))
			other.Restore(snap)

			Expect(other.Cycles()).To(Equal(uint64(2)))
			other.AddCycles(20)
			other.CheckEvents()
			Expect(fired).To(HaveLen(3))
			Expect(fired[0].arg).To(Equal(uint32(3)))
			Expect(fired[1].arg).To(Equal(uint32(1)))
			Expect(fired[2].arg).To(Equal(uint32(2)))
		})
	})
})
