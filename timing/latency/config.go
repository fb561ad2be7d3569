package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// CoreTiming holds the instruction costs of one core, in cycles of that
// core's clock.
type CoreTiming struct {
	// ALULatency is the cost of a data processing instruction.
	// Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency" yaml:"alu_latency"`

	// ShiftByRegPenalty is added when the shift amount comes from a
	// register. Default: 1 cycle.
	ShiftByRegPenalty uint64 `json:"shift_by_reg_penalty" yaml:"shift_by_reg_penalty"`

	// BranchLatency is the cost of a taken branch including the pipeline
	// refill. Default: 3 cycles.
	BranchLatency uint64 `json:"branch_latency" yaml:"branch_latency"`

	// LoadLatency is the base cost of a single load before wait states.
	LoadLatency uint64 `json:"load_latency" yaml:"load_latency"`

	// StoreLatency is the base cost of a single store before wait states.
	StoreLatency uint64 `json:"store_latency" yaml:"store_latency"`

	// MultiplyLatency is the cost of MUL and MLA.
	MultiplyLatency uint64 `json:"multiply_latency" yaml:"multiply_latency"`

	// MultiplyLongLatency is the cost of the 64-bit multiplies.
	MultiplyLongLatency uint64 `json:"multiply_long_latency" yaml:"multiply_long_latency"`

	// BlockTransferPerReg is added per register moved by LDM/STM.
	BlockTransferPerReg uint64 `json:"block_transfer_per_reg" yaml:"block_transfer_per_reg"`

	// SWILatency is the cost of entering a software interrupt.
	SWILatency uint64 `json:"swi_latency" yaml:"swi_latency"`

	// CoprocLatency is the cost of MCR/MRC.
	CoprocLatency uint64 `json:"coproc_latency" yaml:"coproc_latency"`

	// WaitStates are the extra cycles per access by region.
	WaitStates WaitStates `json:"wait_states" yaml:"wait_states"`
}

// WaitStates holds extra cycles per memory access for each kind of region.
type WaitStates struct {
	TCM        uint64 `json:"tcm" yaml:"tcm"`
	MainRAM    uint64 `json:"main_ram" yaml:"main_ram"`
	SharedWRAM uint64 `json:"shared_wram" yaml:"shared_wram"`
	ARM7WRAM   uint64 `json:"arm7_wram" yaml:"arm7_wram"`
	VRAM       uint64 `json:"vram" yaml:"vram"`
	IO         uint64 `json:"io" yaml:"io"`
	BIOS       uint64 `json:"bios" yaml:"bios"`
	GBASlot    uint64 `json:"gba_slot" yaml:"gba_slot"`
}

// CacheConfig describes one ARM9 cache.
type CacheConfig struct {
	Size        uint64 `json:"size" yaml:"size"`
	Assoc       uint64 `json:"assoc" yaml:"assoc"`
	LineSize    uint64 `json:"line_size" yaml:"line_size"`
	HitLatency  uint64 `json:"hit_latency" yaml:"hit_latency"`
	MissPenalty uint64 `json:"miss_penalty" yaml:"miss_penalty"`
}

// TimingConfig holds the timing of both cores and the ARM9 caches.
type TimingConfig struct {
	ARM9 CoreTiming `json:"arm9" yaml:"arm9"`
	ARM7 CoreTiming `json:"arm7" yaml:"arm7"`

	// ARM9ICache and ARM9DCache size the cache models. A zero Size
	// disables the model.
	ARM9ICache CacheConfig `json:"arm9_icache" yaml:"arm9_icache"`
	ARM9DCache CacheConfig `json:"arm9_dcache" yaml:"arm9_dcache"`
}

// DefaultTimingConfig returns a TimingConfig with ARM946E-S and ARM7TDMI
// estimates.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ARM9: CoreTiming{
			ALULatency:          1,
			ShiftByRegPenalty:   1,
			BranchLatency:       3,
			LoadLatency:         1,
			StoreLatency:        1,
			MultiplyLatency:     2,
			MultiplyLongLatency: 3,
			BlockTransferPerReg: 1,
			SWILatency:          3,
			CoprocLatency:       2,
			WaitStates: WaitStates{
				MainRAM:    8,
				SharedWRAM: 4,
				VRAM:       4,
				IO:         4,
				BIOS:       4,
				GBASlot:    16,
			},
		},
		ARM7: CoreTiming{
			ALULatency:          1,
			ShiftByRegPenalty:   1,
			BranchLatency:       3,
			LoadLatency:         3,
			StoreLatency:        2,
			MultiplyLatency:     3,
			MultiplyLongLatency: 4,
			BlockTransferPerReg: 1,
			SWILatency:          3,
			CoprocLatency:       1,
			WaitStates: WaitStates{
				MainRAM: 1,
				IO:      1,
				GBASlot: 8,
			},
		},
		ARM9ICache: CacheConfig{Size: 8 * 1024, Assoc: 4, LineSize: 32, MissPenalty: 8},
		ARM9DCache: CacheConfig{Size: 4 * 1024, Assoc: 4, LineSize: 32, MissPenalty: 8},
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if err := c.ARM9.validate("arm9"); err != nil {
		return err
	}
	if err := c.ARM7.validate("arm7"); err != nil {
		return err
	}
	if err := c.ARM9ICache.validate("arm9_icache"); err != nil {
		return err
	}
	return c.ARM9DCache.validate("arm9_dcache")
}

func (t *CoreTiming) validate(name string) error {
	if t.ALULatency == 0 {
		return fmt.Errorf("%s.alu_latency must be > 0", name)
	}
	if t.BranchLatency == 0 {
		return fmt.Errorf("%s.branch_latency must be > 0", name)
	}
	if t.LoadLatency == 0 {
		return fmt.Errorf("%s.load_latency must be > 0", name)
	}
	if t.StoreLatency == 0 {
		return fmt.Errorf("%s.store_latency must be > 0", name)
	}
	if t.MultiplyLatency == 0 || t.MultiplyLongLatency == 0 {
		return fmt.Errorf("%s multiply latencies must be > 0", name)
	}
	if t.SWILatency == 0 {
		return fmt.Errorf("%s.swi_latency must be > 0", name)
	}
	return nil
}

func (c *CacheConfig) validate(name string) error {
	if c.Size == 0 {
		return nil
	}
	if c.LineSize == 0 || c.LineSize&(c.LineSize-1) != 0 {
		return fmt.Errorf("%s.line_size must be a power of two", name)
	}
	if c.Assoc == 0 || c.Size%(c.Assoc*c.LineSize) != 0 {
		return fmt.Errorf("%s.size must be a multiple of assoc * line_size", name)
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}

// Core returns the timing of one core by name.
func (c *TimingConfig) Core(arm9 bool) *CoreTiming {
	if arm9 {
		return &c.ARM9
	}
	return &c.ARM7
}
