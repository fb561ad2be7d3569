// Package main runs a program on the dual core machine.
//
// Usage:
//
//	dscore [options] <rom.nds | program.elf>
//
// A .nds image is direct booted on both cores; an ELF file is loaded on the
// core selected by -cpu while the other one stays halted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/term"

	"github.com/sarchlab/dscore/config"
	"github.com/sarchlab/dscore/loader"
	"github.com/sarchlab/dscore/logging"
	"github.com/sarchlab/dscore/machine"
	"github.com/sarchlab/dscore/mem/region"
	"github.com/sarchlab/dscore/mem/vmem"
	"github.com/sarchlab/dscore/script"
)

var (
	configPath = flag.String("config", "", "Path to a JSON or YAML configuration file")
	noJIT      = flag.Bool("no-jit", false, "Interpret both cores")
	backend    = flag.String("backend", "", "Memory backend: slice or mmap")
	memMode    = flag.String("mode", "", "Unmapped access mode: production, diagnostic or strict")
	cpuName    = flag.String("cpu", "arm9", "Core an ELF program runs on")
	frames     = flag.Int("frames", 60, "Frames to run (0 = until interrupted)")
	scriptPath = flag.String("script", "", "Lua script to run instead of the frame loop")
	loadState  = flag.String("load-state", "", "Resume from a save state")
	saveState  = flag.String("save-state", "", "Write a save state on exit")
	verbosity  = flag.Int("v", -1, "Log verbosity (overrides the config file)")
	jsonLog    = flag.Bool("json-log", false, "Log JSON lines")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 && *scriptPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: dscore [options] <rom.nds | program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Verbosity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}

	if *noJIT {
		cfg.JIT = false
	}
	if *backend != "" {
		cfg.Backend = vmem.Kind(*backend)
	}
	if *memMode != "" {
		cfg.MemoryMode = *memMode
	}
	if *verbosity >= 0 {
		cfg.Verbosity = *verbosity
	}

	return cfg, cfg.Validate()
}

func newLogger(v int) logr.Logger {
	if *jsonLog {
		return logging.NewJSON(os.Stderr, v)
	}
	return logging.New(os.Stderr, v)
}

func run(ctx context.Context, cfg *config.Config, log logr.Logger) error {
	p := newProgress()

	m, err := machine.New(cfg,
		machine.WithLogger(log),
		machine.WithFrameDone(p.frame))
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if flag.NArg() > 0 {
		if err := boot(m, flag.Arg(0)); err != nil {
			return err
		}
	}

	if *loadState != "" {
		if err := restore(m, *loadState, log); err != nil {
			return err
		}
	}

	start := time.Now()
	if *scriptPath != "" {
		err = runScript(ctx, m, log)
	} else {
		err = runFrames(ctx, m)
	}
	p.done()
	if err != nil {
		return err
	}

	report(m, time.Since(start))

	if *saveState != "" {
		return save(m, *saveState, log)
	}
	return nil
}

func boot(m *machine.Machine, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".nds") {
		rom, err := loader.LoadROM(path)
		if err != nil {
			return err
		}
		return m.DirectBoot(rom)
	}

	prog, err := loader.Load(path)
	if err != nil {
		return err
	}

	cpu := region.ARM9
	switch *cpuName {
	case "arm9":
	case "arm7":
		cpu = region.ARM7
	default:
		return fmt.Errorf("unknown cpu %q", *cpuName)
	}

	return m.BootELF(prog, cpu)
}

func runFrames(ctx context.Context, m *machine.Machine) error {
	if *frames == 0 {
		return m.Run(ctx)
	}

	for i := 0; i < *frames; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.RunFrame(); err != nil {
			return err
		}
	}
	return nil
}

func runScript(ctx context.Context, m *machine.Machine, log logr.Logger) error {
	h := script.New(m, script.WithLogger(log.WithName("script")))
	defer h.Close()

	err := h.RunFile(ctx, *scriptPath)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

func restore(m *machine.Machine, path string, log logr.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h, err := m.LoadState(f)
	if err != nil {
		return err
	}
	log.Info("state loaded", "path", path, "version", h.Version, "cycle", h.Cycles)
	return nil
}

func save(m *machine.Machine, path string, log logr.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	h, err := m.SaveState(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	log.Info("state saved", "path", path, "id", h.ID)
	return nil
}

func report(m *machine.Machine, elapsed time.Duration) {
	arm9, arm7 := m.Core(region.ARM9), m.Core(region.ARM7)

	fmt.Printf("Machine: %s\n", m.ID())
	fmt.Printf("Frames: %d\n", m.Video().Frames())
	fmt.Printf("System cycles: %d\n", m.Scheduler().Cycles())
	fmt.Printf("ARM9: %d instructions, pc 0x%08X\n", arm9.InstructionCount(), arm9.PC())
	fmt.Printf("ARM7: %d instructions, pc 0x%08X\n", arm7.InstructionCount(), arm7.PC())

	for _, cpu := range []region.CPU{region.ARM9, region.ARM7} {
		if c := m.JIT(cpu); c != nil {
			s := c.Stats()
			fmt.Printf("%s blocks: %d compiled, %d hits, %d invalidated, %d flushes\n",
				strings.ToUpper(cpu.String()), s.Compiled, s.Hits, s.Invalidated, s.Flushes)
		}
	}

	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("Elapsed time: %v (%.1f frames/s)\n", elapsed, float64(m.Video().Frames())/secs)
	}
}

// progress shows the frame count on a terminal.
type progress struct {
	tty   bool
	width int
	last  time.Time
}

func newProgress() *progress {
	fd := int(os.Stderr.Fd())
	p := &progress{tty: term.IsTerminal(fd), width: 80}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		p.width = w
	}
	return p
}

func (p *progress) frame(n uint64) {
	if !p.tty || time.Since(p.last) < 100*time.Millisecond {
		return
	}
	p.last = time.Now()

	line := fmt.Sprintf("frame %d", n)
	if *frames > 0 {
		line = fmt.Sprintf("frame %d/%d", n, *frames)
	}
	if len(line) > p.width-1 {
		line = line[:p.width-1]
	}
	fmt.Fprintf(os.Stderr, "\r%-*s", p.width-1, line)
}

func (p *progress) done() {
	if p.tty && !p.last.IsZero() {
		fmt.Fprintf(os.Stderr, "\r%*s\r", p.width-1, "")
	}
}
