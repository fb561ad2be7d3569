// Package machine assembles both cores, their memory and the peripherals
// into one system and drives them on a shared timeline.
package machine

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/rs/xid"

	"github.com/sarchlab/dscore/config"
	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/hw/timers"
	"github.com/sarchlab/dscore/hw/video"
	"github.com/sarchlab/dscore/jit"
	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/mem/mmu"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/mem/vmem"
	"github.com/sarchlab/dscore/timing/cache"
	"github.com/sarchlab/dscore/timing/cycle"
	"github.com/sarchlab/dscore/timing/latency"
)

// Event types of the dispatch table.
const (
	EventARM9IRQ cycle.EventType = iota
	EventARM7IRQ
	EventARM9Timers
	EventARM7Timers
	EventVideo
)

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger handed to every component.
func WithLogger(log logr.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithFrameDone sets a callback run at the start of every VBlank.
func WithFrameDone(f func(frame uint64)) Option {
	return func(m *Machine) {
		m.frameDone = f
	}
}

// WithSWIHandler replaces the high level BIOS call handler of both cores.
// It takes effect only when the configuration enables HLE BIOS calls.
func WithSWIHandler(h emu.SWIHandler) Option {
	return func(m *Machine) {
		m.swi = h
	}
}

// Machine owns every component of the system. It is not safe for
// concurrent use.
type Machine struct {
	id  xid.ID
	cfg *config.Config

	table *region.Table
	store *vmem.Store
	ctrl  *mmu.Control
	mmus  [2]*mmu.Mmu
	mem   *mem.Memory
	sched *cycle.Manager

	cores       [2]*emu.Core
	lat         [2]*latency.Table
	caches      [2]*jit.Cache
	translators [2]*jit.Translator
	cacheTiming *cache.Timing

	timers [2]*timers.Timers
	video  *video.Video
	sys    [2]*sysRegs

	frameDone func(frame uint64)
	swi       emu.SWIHandler
	log       logr.Logger
	err       error
}

// New builds a machine from cfg. Both cores start at their reset vectors.
func New(cfg *config.Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		id:  xid.New(),
		cfg: cfg.Clone(),
		swi: emu.NewDefaultSWIHandler(),
		log: logr.Discard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := m.buildMemory(); err != nil {
		_ = m.Close()
		return nil, err
	}
	m.buildCores()
	if err := m.mmus[region.ARM9].UpdateAll(); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("machine: %w", err)
	}
	m.buildJIT()
	m.buildPeripherals()

	if err := m.loadBIOS(); err != nil {
		_ = m.Close()
		return nil, err
	}
	if m.cfg.HLEBios {
		if err := m.installIRQStubs(); err != nil {
			_ = m.Close()
			return nil, err
		}
	}

	m.video.Start()
	m.log.Info("machine created", "id", m.id.String(), "jit", m.cfg.JIT, "backend", m.cfg.Backend)

	return m, nil
}

func (m *Machine) buildMemory() error {
	m.table = region.NewTable(vmem.PageSize)

	var err error
	if m.cfg.Backend == vmem.KindMmap {
		m.store, err = vmem.NewSharedStore(m.table.StoreSize())
		if err != nil {
			return fmt.Errorf("machine: backing store: %w", err)
		}
	} else {
		m.store = vmem.NewStore(m.table.StoreSize())
	}

	m.ctrl = mmu.NewControl()
	for _, cpu := range []region.CPU{region.ARM9, region.ARM7} {
		m.mmus[cpu], err = mmu.New(cpu, m.table, m.store, m.ctrl,
			mmu.WithBackend(m.cfg.Backend),
			mmu.WithLogger(m.log.WithName("mmu").WithValues("cpu", cpu)))
		if err != nil {
			return fmt.Errorf("machine: %w", err)
		}
	}

	m.mem, err = mem.New(m.table, m.store, m.mmus[region.ARM9], m.mmus[region.ARM7],
		mem.WithMode(m.cfg.Mode()),
		mem.WithLogger(m.log.WithName("mem")))
	if err != nil {
		return fmt.Errorf("machine: %w", err)
	}

	m.sched = cycle.NewManager(cycle.WithLogger(m.log.WithName("cycle")))

	return nil
}

func (m *Machine) buildCores() {
	irqEvents := [2]cycle.EventType{EventARM9IRQ, EventARM7IRQ}

	for _, cpu := range []region.CPU{region.ARM9, region.ARM7} {
		m.lat[cpu] = latency.NewTableWithConfig(&m.cfg.Timing, cpu)

		opts := []emu.Option{
			emu.WithLogger(m.log.WithName("core").WithValues("cpu", cpu)),
			emu.WithLatency(m.lat[cpu]),
			emu.WithCpuRegs(emu.NewCpuRegs(m.sched, irqEvents[cpu], uint32(cpu))),
		}
		if m.cfg.HLEBios {
			opts = append(opts, emu.WithSWIHandler(m.swi))
		}
		if cpu == region.ARM9 {
			cp := emu.NewCP15(m.ctrl)
			cp.SetTCMHook(m.onTCMChange)
			m.cacheTiming = cache.NewTiming(m.lat[cpu], cp)
			opts = append(opts, emu.WithCP15(cp), emu.WithMemoryTiming(m.cacheTiming))
		}

		m.cores[cpu] = emu.NewCore(cpu, m.mem.Bus(cpu), opts...)
		m.sched.Register(irqEvents[cpu], cpu.String()+" irq", m.deliverInterrupt)
	}
}

func (m *Machine) buildJIT() {
	if !m.cfg.JIT {
		return
	}

	for _, cpu := range []region.CPU{region.ARM9, region.ARM7} {
		m.caches[cpu] = jit.NewCache(cpu, m.table,
			jit.WithCodeSize(m.cfg.CodeSize),
			jit.WithCacheLogger(m.log.WithName("jit").WithValues("cpu", cpu)))
		m.mem.SetCodeCache(cpu, m.caches[cpu])

		key := func(addr uint32) (uint32, bool) {
			return m.mem.JitKey(cpu, addr)
		}
		m.translators[cpu] = jit.NewTranslator(m.cores[cpu], m.caches[cpu], key,
			jit.WithMaxBlockInstructions(m.cfg.MaxBlockInstructions),
			jit.WithTranslatorLogger(m.log.WithName("translator").WithValues("cpu", cpu)))
	}
}

func (m *Machine) buildPeripherals() {
	arm9, arm7 := m.cores[region.ARM9].CpuRegs(), m.cores[region.ARM7].CpuRegs()

	m.timers[region.ARM9] = timers.New(m.sched, arm9, EventARM9Timers, "arm9 timers")
	m.timers[region.ARM7] = timers.New(m.sched, arm7, EventARM7Timers, "arm7 timers")
	m.video = video.New(m.sched, arm9, arm7, EventVideo,
		video.WithLogger(m.log.WithName("video")),
		video.WithFrameDone(m.onFrame))

	for _, cpu := range []region.CPU{region.ARM9, region.ARM7} {
		io := m.mem.IO(cpu)
		m.sys[cpu] = &sysRegs{m: m, cpu: cpu}
		m.sys[cpu].mapInto(io)
		m.timers[cpu].Map(io)
		m.video.Map(cpu, io)
		io.Seal()
	}
}

func (m *Machine) loadBIOS() error {
	images := []struct {
		cpu  region.CPU
		path string
		id   region.ID
	}{
		{region.ARM9, m.cfg.ARM9BIOS, region.ARM9BIOS},
		{region.ARM7, m.cfg.ARM7BIOS, region.ARM7BIOS},
	}

	for _, img := range images {
		if img.path == "" {
			continue
		}
		data, err := os.ReadFile(img.path)
		if err != nil {
			return fmt.Errorf("machine: %s bios: %w", img.cpu, err)
		}
		d := m.table.Get(img.id)
		if uint32(len(data)) > d.Size {
			return fmt.Errorf("machine: %s bios is %d bytes, at most %d fit", img.cpu, len(data), d.Size)
		}
		if err := m.mem.Load(img.cpu, d.Base, data); err != nil {
			return fmt.Errorf("machine: %w", err)
		}
	}

	return nil
}

// onTCMChange remaps a moved TCM window and drops code translated from it.
func (m *Machine) onTCMChange(id region.ID, prev mmu.TCM) {
	mm := m.mmus[region.ARM9]

	var err error
	if id == region.ITCM {
		err = mm.UpdateITCM(prev)
	} else {
		err = mm.UpdateDTCM(prev)
	}
	if err != nil {
		m.fail(fmt.Errorf("machine: remap %v: %w", id, err))
		return
	}

	if c := m.caches[region.ARM9]; c != nil {
		d := m.table.Get(id)
		c.Invalidate(d.Offset, d.Size)
	}
}

// SetWRAMCNT repartitions shared WRAM and remaps both CPUs.
func (m *Machine) SetWRAMCNT(v uint8) {
	v &= 3
	if m.ctrl.WRAMCNT == v {
		return
	}
	m.ctrl.WRAMCNT = v

	for _, mm := range m.mmus {
		if err := mm.UpdateWRAM(); err != nil {
			m.fail(fmt.Errorf("machine: remap shared wram: %w", err))
			return
		}
	}

	d := m.table.Get(region.SharedWRAM)
	for _, c := range m.caches {
		if c != nil {
			c.Invalidate(d.Offset, d.Size)
		}
	}

	m.log.V(1).Info("wramcnt", "value", v)
}

func (m *Machine) deliverInterrupt(_ *cycle.Manager, arg uint32) {
	m.cores[arg].DeliverInterrupt()
}

func (m *Machine) onFrame(frame uint64) {
	if m.frameDone != nil {
		m.frameDone(frame)
	}
}

func (m *Machine) fail(err error) {
	if m.err == nil {
		m.err = err
		m.log.Error(err, "machine stopped")
	}
}

// ID returns the identifier of this machine instance.
func (m *Machine) ID() xid.ID { return m.id }

// Config returns the configuration the machine was built with.
func (m *Machine) Config() *config.Config { return m.cfg }

// Core returns the core of cpu.
func (m *Machine) Core(cpu region.CPU) *emu.Core { return m.cores[cpu] }

// Memory returns the dispatcher.
func (m *Machine) Memory() *mem.Memory { return m.mem }

// Scheduler returns the event queue.
func (m *Machine) Scheduler() *cycle.Manager { return m.sched }

// JIT returns the code cache of cpu, or nil when the translator is off.
func (m *Machine) JIT(cpu region.CPU) *jit.Cache { return m.caches[cpu] }

// CacheTiming returns the ARM9 cache model.
func (m *Machine) CacheTiming() *cache.Timing { return m.cacheTiming }

// Timers returns the timers of cpu.
func (m *Machine) Timers(cpu region.CPU) *timers.Timers { return m.timers[cpu] }

// Video returns the display timing unit.
func (m *Machine) Video() *video.Video { return m.video }

// Control returns the shared TCM and WRAMCNT state.
func (m *Machine) Control() *mmu.Control { return m.ctrl }

// Err returns the error that stopped the machine, if any.
func (m *Machine) Err() error {
	if m.err != nil {
		return m.err
	}
	return errors.Join(m.cores[region.ARM9].Err(), m.cores[region.ARM7].Err())
}

// Close releases the mappings and the backing store.
func (m *Machine) Close() error {
	var errs []error
	for _, mm := range m.mmus {
		if mm != nil {
			errs = append(errs, mm.Close())
		}
	}
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	return errors.Join(errs...)
}
