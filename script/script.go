// Package script drives a machine from Lua. A script sees a global table
// "ds" with memory, register and run control functions:
//
//	ds.write32("arm9", 0x02000000, 0xE2800001)
//	ds.set_pc("arm9", 0x02000000)
//	ds.run_cycles(1000)
//	print(ds.reg("arm9", 0))
//
// Addresses and values are plain Lua numbers holding unsigned 32-bit
// integers.
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/dscore/machine"
	"github.com/sarchlab/dscore/mem/region"
)

// Host runs Lua scripts against one machine. It is not safe for concurrent
// use.
type Host struct {
	m   *machine.Machine
	L   *lua.LState
	out io.Writer
	log logr.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithOutput sets where print writes.
func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		h.out = w
	}
}

// WithLogger sets the logger behind ds.log.
func WithLogger(log logr.Logger) Option {
	return func(h *Host) {
		h.log = log
	}
}

// New creates a host bound to m.
func New(m *machine.Machine, opts ...Option) *Host {
	h := &Host{
		m:   m,
		L:   lua.NewState(),
		out: os.Stdout,
		log: logr.Discard(),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.register()

	return h
}

// Close releases the interpreter.
func (h *Host) Close() {
	h.L.Close()
}

// Run executes src. Cancelling ctx stops the script.
func (h *Host) Run(ctx context.Context, src string) error {
	h.L.SetContext(ctx)
	defer h.L.RemoveContext()

	if err := h.L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// RunFile executes the script at path.
func (h *Host) RunFile(ctx context.Context, path string) error {
	h.L.SetContext(ctx)
	defer h.L.RemoveContext()

	if err := h.L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// Global returns a global variable as a Go value: numbers become float64,
// strings string, booleans bool and anything else nil.
func (h *Host) Global(name string) any {
	switch v := h.L.GetGlobal(name).(type) {
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case lua.LBool:
		return bool(v)
	default:
		return nil
	}
}

func (h *Host) register() {
	ds := h.L.NewTable()
	h.L.SetFuncs(ds, map[string]lua.LGFunction{
		"read8":      h.read(1),
		"read16":     h.read(2),
		"read32":     h.read(4),
		"write8":     h.write(1),
		"write16":    h.write(2),
		"write32":    h.write(4),
		"reg":        h.reg,
		"set_reg":    h.setReg,
		"pc":         h.pc,
		"set_pc":     h.setPC,
		"cpsr":       h.cpsr,
		"halted":     h.halted,
		"irq":        h.irq,
		"run_cycles": h.runCycles,
		"run_frame":  h.runFrame,
		"cycles":     h.cycles,
		"frames":     h.frames,
		"jit_stats":  h.jitStats,
		"log":        h.logLine,
	})
	h.L.SetGlobal("ds", ds)
	h.L.SetGlobal("print", h.L.NewFunction(h.print))
}

func checkCPU(L *lua.LState, n int) region.CPU {
	switch strings.ToLower(L.CheckString(n)) {
	case "arm9":
		return region.ARM9
	case "arm7":
		return region.ARM7
	}
	L.ArgError(n, "cpu must be \"arm9\" or \"arm7\"")
	return 0
}

func checkU32(L *lua.LState, n int) uint32 {
	return uint32(int64(L.CheckNumber(n)))
}

func checkReg(L *lua.LState, n int) int {
	r := L.CheckInt(n)
	if r < 0 || r > 15 {
		L.ArgError(n, "register must be 0-15")
	}
	return r
}

func (h *Host) read(size int) lua.LGFunction {
	return func(L *lua.LState) int {
		cpu, addr := checkCPU(L, 1), checkU32(L, 2)

		var v uint32
		switch size {
		case 1:
			v = uint32(h.m.Memory().Read8(cpu, addr))
		case 2:
			v = uint32(h.m.Memory().Read16(cpu, addr))
		default:
			v = h.m.Memory().Read32(cpu, addr)
		}

		L.Push(lua.LNumber(v))
		return 1
	}
}

func (h *Host) write(size int) lua.LGFunction {
	return func(L *lua.LState) int {
		cpu, addr, v := checkCPU(L, 1), checkU32(L, 2), checkU32(L, 3)

		switch size {
		case 1:
			h.m.Memory().Write8(cpu, addr, uint8(v))
		case 2:
			h.m.Memory().Write16(cpu, addr, uint16(v))
		default:
			h.m.Memory().Write32(cpu, addr, v)
		}
		return 0
	}
}

func (h *Host) reg(L *lua.LState) int {
	cpu, r := checkCPU(L, 1), checkReg(L, 2)
	L.Push(lua.LNumber(h.m.Core(cpu).Regs().R[r]))
	return 1
}

func (h *Host) setReg(L *lua.LState) int {
	cpu, r, v := checkCPU(L, 1), checkReg(L, 2), checkU32(L, 3)
	if r == 15 {
		h.m.Core(cpu).SetPC(v)
		return 0
	}
	h.m.Core(cpu).Regs().R[r] = v
	return 0
}

func (h *Host) pc(L *lua.LState) int {
	L.Push(lua.LNumber(h.m.Core(checkCPU(L, 1)).PC()))
	return 1
}

func (h *Host) setPC(L *lua.LState) int {
	h.m.Core(checkCPU(L, 1)).SetPC(checkU32(L, 2))
	return 0
}

func (h *Host) cpsr(L *lua.LState) int {
	L.Push(lua.LNumber(h.m.Core(checkCPU(L, 1)).Regs().CPSR))
	return 1
}

func (h *Host) halted(L *lua.LState) int {
	L.Push(lua.LBool(h.m.Core(checkCPU(L, 1)).Halted()))
	return 1
}

func (h *Host) irq(L *lua.LState) int {
	cpu, flags := checkCPU(L, 1), checkU32(L, 2)
	h.m.Core(cpu).CpuRegs().SendInterrupt(flags)
	return 0
}

// runErr raises err in the script so that it unwinds to Run.
func runErr(L *lua.LState, err error) int {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (h *Host) runCycles(L *lua.LState) int {
	n := L.CheckInt64(1)
	if n < 0 {
		L.ArgError(1, "cycle count must not be negative")
	}
	return runErr(L, h.m.RunCycles(uint64(n)))
}

func (h *Host) runFrame(L *lua.LState) int {
	frames := L.OptInt(1, 1)
	for i := 0; i < frames; i++ {
		if L.Context() != nil && L.Context().Err() != nil {
			break
		}
		if err := h.m.RunFrame(); err != nil {
			return runErr(L, err)
		}
	}
	return 0
}

func (h *Host) cycles(L *lua.LState) int {
	L.Push(lua.LNumber(h.m.Scheduler().Cycles()))
	return 1
}

func (h *Host) frames(L *lua.LState) int {
	L.Push(lua.LNumber(h.m.Video().Frames()))
	return 1
}

func (h *Host) jitStats(L *lua.LState) int {
	c := h.m.JIT(checkCPU(L, 1))
	if c == nil {
		L.Push(lua.LNil)
		return 1
	}

	s := c.Stats()
	t := L.NewTable()
	L.SetField(t, "hits", lua.LNumber(s.Hits))
	L.SetField(t, "misses", lua.LNumber(s.Misses))
	L.SetField(t, "compiled", lua.LNumber(s.Compiled))
	L.SetField(t, "invalidated", lua.LNumber(s.Invalidated))
	L.SetField(t, "flushes", lua.LNumber(s.Flushes))
	L.SetField(t, "blocks", lua.LNumber(c.Blocks()))
	L.Push(t)
	return 1
}

func (h *Host) logLine(L *lua.LState) int {
	h.log.Info(L.CheckString(1), "cycle", h.m.Scheduler().Cycles())
	return 0
}

func (h *Host) print(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	_, _ = fmt.Fprintln(h.out, strings.Join(parts, "\t"))
	return 0
}
