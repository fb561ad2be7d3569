package machine_test

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/hw/video"
	"github.com/sarchlab/dscore/machine"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/timing/latency"
)

var _ = Describe("Machine", func() {
	for _, useJIT := range []bool{false, true} {
		name := "interpreted"
		if useJIT {
			name = "translated"
		}

		Context(name, func() {
			var m *machine.Machine

			BeforeEach(func() {
				var err error
				m, err = machine.New(testConfig(useJIT))
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(m.Close)
			})

			It("should run both cores for a frame", func() {
				Expect(m.DirectBoot(buildROM(counterLoop, counterLoop))).To(Succeed())

				Expect(m.RunFrame()).To(Succeed())

				Expect(m.Video().Frames()).To(Equal(uint64(1)))
				Expect(m.Scheduler().Cycles()).To(Equal(uint64(video.VisibleLines * video.LineCycles)))
				Expect(m.Core(region.ARM9).Regs().R[0]).To(BeNumerically(">", 1000))
				Expect(m.Core(region.ARM7).Regs().R[0]).To(BeNumerically(">", 1000))
				Expect(m.Core(region.ARM9).Cycles()).To(BeNumerically(">=", 2*m.Scheduler().Cycles()))
				Expect(m.Core(region.ARM7).Cycles()).To(BeNumerically(">=", m.Scheduler().Cycles()))

				if useJIT {
					Expect(m.JIT(region.ARM9).Stats().Hits).To(BeNumerically(">", 0))
				} else {
					Expect(m.JIT(region.ARM9)).To(BeNil())
				}
			})

			It("should take timer interrupts through the BIOS stub", func() {
				idle := words(0xEAFFFFFE) // b .
				Expect(m.DirectBoot(buildROM(idle, idle))).To(Succeed())

				handler := words(
					0xE3A01301, // mov r1, #0x04000000
					0xE3A02008, // mov r2, #8
					0xE5812214, // str r2, [r1, #0x214]
					0xE2855001, // add r5, r5, #1
					0xE12FFF1E, // bx lr
				)
				mm := m.Memory()
				Expect(mm.Load(region.ARM7, 0x03800000, handler)).To(Succeed())
				mm.Write32(region.ARM7, 0x03FFFFFC, 0x03800000)

				mm.Write32(region.ARM7, machine.RegIE, emu.IRQTimer0)
				mm.Write32(region.ARM7, machine.RegIME, 1)
				mm.Write32(region.ARM7, 0x04000100, 0x00C0FF00)

				Expect(m.RunCycles(1000)).To(Succeed())

				arm7 := m.Core(region.ARM7)
				Expect(arm7.Regs().R[5]).To(BeNumerically(">=", 2))
				Expect(m.Timers(region.ARM7).Overflows(0)).To(Equal(uint64(3)))
				Expect(arm7.PC()).To(Equal(uint32(arm7Entry)))
				Expect(arm7.Regs().Mode()).To(Equal(emu.ModeSYS))
			})
		})
	}

	Describe("clocks", func() {
		It("should run the arm9 at the ratio of the two clocks", func() {
			Expect(float64(machine.ARM9ClockRatio)).To(BeNumerically("~",
				float64(latency.ARM9Clock)/float64(latency.SystemClock), 1e-9))

			m, err := machine.New(testConfig(false))
			Expect(err).NotTo(HaveOccurred())
			idle := words(0xEAFFFFFE) // b .
			Expect(m.DirectBoot(buildROM(idle, idle))).To(Succeed())

			Expect(m.RunCycles(1000)).To(Succeed())

			now := m.Scheduler().Cycles()
			Expect(m.Core(region.ARM9).Cycles()).To(BeNumerically(">=", now*machine.ARM9ClockRatio))
			Expect(m.Core(region.ARM7).Cycles()).To(BeNumerically(">=", now))
		})
	})

	Describe("configuration", func() {
		It("should reject an invalid config", func() {
			c := testConfig(true)
			c.SliceCycles = 0
			_, err := machine.New(c)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("direct boot", func() {
		var m *machine.Machine

		BeforeEach(func() {
			var err error
			m, err = machine.New(testConfig(true))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
			Expect(m.DirectBoot(buildROM(counterLoop, counterLoop))).To(Succeed())
		})

		It("should set up the firmware state", func() {
			ctrl := m.Control()
			Expect(ctrl.DTCM.Enabled).To(BeTrue())
			Expect(ctrl.DTCM.Base).To(Equal(uint32(0x03000000)))
			Expect(ctrl.ITCM.Enabled).To(BeTrue())
			Expect(ctrl.WRAMCNT).To(Equal(uint8(3)))

			Expect(m.Core(region.ARM9).PC()).To(Equal(uint32(arm9Entry)))
			Expect(m.Core(region.ARM7).PC()).To(Equal(uint32(arm7Entry)))
			Expect(m.Core(region.ARM9).Regs().R[13]).To(Equal(uint32(0x03002F7C)))
		})

		It("should copy the header and binaries", func() {
			mm := m.Memory()
			Expect(mm.Read32(region.ARM9, arm9Entry)).To(Equal(uint32(0xE2800001)))
			Expect(mm.Read32(region.ARM7, arm7Entry)).To(Equal(uint32(0xE2800001)))
			Expect(mm.Read8(region.ARM9, machine.HeaderAddr)).To(Equal(uint8('M')))
		})

		It("should install the IRQ stubs", func() {
			mm := m.Memory()
			Expect(mm.Read32(region.ARM7, 0x18)).To(Equal(uint32(0xE92D500F)))
			Expect(mm.Read32(region.ARM9, 0xFFFF0018)).To(Equal(uint32(0xE92D500F)))
		})
	})

	Describe("system registers", func() {
		var m *machine.Machine

		BeforeEach(func() {
			var err error
			m, err = machine.New(testConfig(false))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
		})

		It("should repartition shared WRAM", func() {
			mm := m.Memory()
			mm.Write8(region.ARM9, machine.RegWRAMCNT, 0)
			mm.Write32(region.ARM9, 0x03000000, 0xCAFEF00D)

			mm.Write8(region.ARM9, machine.RegWRAMCNT, 3)
			Expect(m.Control().WRAMCNT).To(Equal(uint8(3)))
			Expect(mm.Read8(region.ARM7, machine.RegWRAMSTAT)).To(Equal(uint8(3)))
			Expect(mm.Read32(region.ARM7, 0x03000000)).To(Equal(uint32(0xCAFEF00D)))
		})

		It("should pass IPCSYNC values and interrupts", func() {
			mm := m.Memory()
			mm.Write32(region.ARM7, machine.RegIPCSync, 1<<14)
			mm.Write32(region.ARM9, machine.RegIPCSync, 5<<8|1<<13)

			Expect(mm.Read32(region.ARM7, machine.RegIPCSync) & 0xF).To(Equal(uint32(5)))
			Expect(m.Core(region.ARM7).CpuRegs().IF() & emu.IRQIPCSync).NotTo(BeZero())
			Expect(m.Core(region.ARM9).CpuRegs().IF()).To(BeZero())
		})

		It("should acknowledge IF bits on write", func() {
			irq := m.Core(region.ARM9).CpuRegs()
			irq.SendInterrupt(emu.IRQVBlank | emu.IRQTimer1)

			m.Memory().Write32(region.ARM9, machine.RegIF, emu.IRQVBlank)
			Expect(irq.IF()).To(Equal(emu.IRQTimer1))
		})

		It("should halt the ARM7 through HALTCNT", func() {
			m.Memory().Write8(region.ARM7, machine.RegHALTCNT, 0x80)
			Expect(m.Core(region.ARM7).Halted()).To(BeTrue())

			m.Memory().Write8(region.ARM9, machine.RegHALTCNT, 0x80)
			Expect(m.Core(region.ARM9).Halted()).To(BeFalse())
		})
	})

	Describe("RunSlice", func() {
		var m *machine.Machine

		BeforeEach(func() {
			var err error
			m, err = machine.New(testConfig(true))
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
		})

		It("should jump to the next event while both cores are halted", func() {
			m.Core(region.ARM9).Halt()
			m.Core(region.ARM7).Halt()

			Expect(m.RunSlice(100)).To(Succeed())

			Expect(m.Scheduler().Cycles()).To(Equal(uint64(video.HBlankCycles)))
			Expect(m.Core(region.ARM9).Cycles()).To(Equal(uint64(2 * video.HBlankCycles)))
			Expect(m.Core(region.ARM7).Cycles()).To(Equal(uint64(video.HBlankCycles)))
		})

		It("should stop at the next event", func() {
			Expect(m.DirectBoot(buildROM(counterLoop, counterLoop))).To(Succeed())

			Expect(m.RunSlice(100000)).To(Succeed())
			Expect(m.Scheduler().Cycles()).To(Equal(uint64(video.HBlankCycles)))
			Expect(m.Video().DispStat(region.ARM9) & video.StatHBlank).NotTo(BeZero())
		})

		It("should report a core that stopped", func() {
			thumb := words(
				0xE3A00001, // mov r0, #1
				0xE12FFF10, // bx r0
			)
			Expect(m.DirectBoot(buildROM(thumb, counterLoop))).To(Succeed())

			err := m.RunFrame()
			Expect(errors.Is(err, emu.ErrUnsupported)).To(BeTrue())
			Expect(errors.Is(m.Err(), emu.ErrUnsupported)).To(BeTrue())
		})
	})

	Describe("save states", func() {
		newMachine := func() *machine.Machine {
			c := testConfig(true)
			c.Timing.ARM9ICache.Size = 0
			c.Timing.ARM9DCache.Size = 0
			m, err := machine.New(c)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Close)
			return m
		}

		It("should resume where the state was saved", func() {
			m := newMachine()
			Expect(m.DirectBoot(buildROM(counterLoop, counterLoop))).To(Succeed())
			Expect(m.RunCycles(5000)).To(Succeed())

			var buf bytes.Buffer
			h, err := m.SaveState(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.Machine).To(Equal(m.ID().String()))
			Expect(h.Version).To(Equal(machine.StateVersion))

			Expect(m.RunCycles(20000)).To(Succeed())
			want := [2]emu.State{m.Core(region.ARM9).State(), m.Core(region.ARM7).State()}
			wantCycles := m.Scheduler().Cycles()

			other := newMachine()
			loaded, err := other.LoadState(&buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ID).To(Equal(h.ID))

			Expect(other.RunCycles(20000)).To(Succeed())
			got := [2]emu.State{other.Core(region.ARM9).State(), other.Core(region.ARM7).State()}

			Expect(cmp.Diff(want, got)).To(BeEmpty())
			Expect(other.Scheduler().Cycles()).To(Equal(wantCycles))
			Expect(other.Control().WRAMCNT).To(Equal(uint8(3)))
		})

		It("should reject a newer major version", func() {
			var buf bytes.Buffer
			enc := gob.NewEncoder(&buf)
			Expect(enc.Encode(machine.StateHeader{Magic: "DSCORE-STATE", Version: "2.0.0"})).To(Succeed())

			_, err := newMachine().LoadState(&buf)
			Expect(errors.Is(err, machine.ErrIncompatibleState)).To(BeTrue())
		})

		It("should reject data that is not a save state", func() {
			var buf bytes.Buffer
			Expect(gob.NewEncoder(&buf).Encode(machine.StateHeader{Magic: "nope", Version: "1.0.0"})).To(Succeed())

			_, err := newMachine().LoadState(&buf)
			Expect(errors.Is(err, machine.ErrIncompatibleState)).To(BeTrue())
		})
	})
})
