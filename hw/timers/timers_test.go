package timers_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/hw/timers"
	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/timing/cycle"
)

type recordingIRQ struct {
	flags []uint32
}

func (r *recordingIRQ) SendInterrupt(flag uint32) {
	r.flags = append(r.flags, flag)
}

var _ = Describe("Timers", func() {
	var (
		sched *cycle.Manager
		irq   *recordingIRQ
		t     *timers.Timers
	)

	advance := func(n uint64) {
		sched.AddCycles(n)
		sched.CheckEvents()
	}

	BeforeEach(func() {
		sched = cycle.NewManager()
		irq = &recordingIRQ{}
		t = timers.New(sched, irq, 1, "timers")
	})

	It("should count from the reload value", func() {
		t.WriteReload(0, 0xFFF0)
		t.WriteControl(0, timers.ControlEnable)

		advance(5)
		Expect(t.Counter(0)).To(Equal(uint16(0xFFF5)))
	})

	It("should overflow, reload and raise the interrupt", func() {
		t.WriteReload(0, 0xFFF0)
		t.WriteControl(0, timers.ControlEnable|timers.ControlIRQ)

		advance(15)
		Expect(t.Overflows(0)).To(BeZero())

		advance(1)
		Expect(t.Overflows(0)).To(Equal(uint64(1)))
		Expect(t.Counter(0)).To(Equal(uint16(0xFFF0)))
		Expect(irq.flags).To(Equal([]uint32{1 << 3}))

		advance(16)
		Expect(t.Overflows(0)).To(Equal(uint64(2)))
	})

	It("should divide the clock by the prescaler", func() {
		t.WriteReload(2, 0xFFFF)
		t.WriteControl(2, timers.ControlEnable|1)

		advance(63)
		Expect(t.Overflows(2)).To(BeZero())
		advance(1)
		Expect(t.Overflows(2)).To(Equal(uint64(1)))
	})

	It("should ignore the overflow of a superseded configuration", func() {
		t.WriteReload(0, 0xFF00)
		t.WriteControl(0, timers.ControlEnable)

		advance(100)
		t.WriteControl(0, timers.ControlEnable|1)
		Expect(t.Channel(0).Counter).To(Equal(uint16(0xFF64)))
		Expect(t.Channel(0).Target).To(Equal(uint64(100 + 0x9C*64)))

		advance(156)
		Expect(t.Overflows(0)).To(BeZero())

		advance(0x9C*64 - 156)
		Expect(t.Overflows(0)).To(Equal(uint64(1)))
	})

	It("should drop the pending overflow when stopped", func() {
		t.WriteReload(1, 0xFFF0)
		t.WriteControl(1, timers.ControlEnable)
		advance(4)
		t.WriteControl(1, 0)

		advance(100)
		Expect(t.Overflows(1)).To(BeZero())
		Expect(t.Counter(1)).To(Equal(uint16(0xFFF4)))
	})

	It("should cascade into a count-up timer", func() {
		t.WriteReload(0, 0xFFFF)
		t.WriteControl(0, timers.ControlEnable)
		t.WriteReload(1, 0xFFFE)
		t.WriteControl(1, timers.ControlEnable|timers.ControlCountUp|timers.ControlIRQ)

		advance(1)
		Expect(t.Counter(1)).To(Equal(uint16(0xFFFF)))
		Expect(irq.flags).To(BeEmpty())

		advance(1)
		Expect(t.Counter(1)).To(Equal(uint16(0xFFFE)))
		Expect(irq.flags).To(Equal([]uint32{1 << 4}))
	})

	It("should not count up timer 0", func() {
		t.WriteReload(0, 0xFFFF)
		t.WriteControl(0, timers.ControlEnable|timers.ControlCountUp)

		advance(1)
		Expect(t.Overflows(0)).To(Equal(uint64(1)))
	})

	It("should expose the registers through the I/O map", func() {
		io := mem.NewIOMap()
		t.Map(io)

		r := io.Find(timers.IOBase + 4)
		Expect(r).NotTo(BeNil())

		r.OnWrite(timers.IOBase+4, 0x00C0FFF0, 0xFFFFFFFF)
		Expect(t.Channel(1).Reload).To(Equal(uint16(0xFFF0)))
		Expect(r.OnRead(timers.IOBase + 4)).To(Equal(uint32(0x00C0FFF0)))

		r.OnWrite(timers.IOBase+4, 0x1234, 0xFFFF)
		Expect(t.Channel(1).Reload).To(Equal(uint16(0x1234)))
		Expect(t.Channel(1).Control).To(Equal(uint16(0xC0)))
	})

	It("should restore captured channels", func() {
		t.WriteReload(3, 0x8000)
		t.WriteControl(3, timers.ControlEnable)
		s := t.State()

		t.Reset()
		Expect(t.Channel(3).Reload).To(BeZero())

		t.Restore(s)
		Expect(t.Channel(3)).To(Equal(s.Channels[3]))
	})
})
