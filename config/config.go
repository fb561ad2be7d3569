// Package config holds the machine configuration and reads it from JSON or
// YAML files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/dscore/mem"
	"github.com/sarchlab/dscore/mem/vmem"
	"github.com/sarchlab/dscore/timing/latency"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config configures a machine.
type Config struct {
	// Backend selects how guest pages are mapped: "slice" or "mmap".
	Backend vmem.Kind `json:"backend" yaml:"backend"`

	// MemoryMode selects how unmapped accesses are handled: "production",
	// "diagnostic" or "strict".
	MemoryMode string `json:"memory_mode" yaml:"memory_mode"`

	// JIT enables the translator. When false both cores are interpreted.
	JIT bool `json:"jit" yaml:"jit"`

	// MaxBlockInstructions caps the length of a translated block.
	MaxBlockInstructions int `json:"max_block_instructions" yaml:"max_block_instructions"`

	// CodeSize is the capacity of each code arena in host ops.
	CodeSize uint32 `json:"code_size" yaml:"code_size"`

	// HLEBios handles common BIOS calls without a BIOS image.
	HLEBios bool `json:"hle_bios" yaml:"hle_bios"`

	// ARM9BIOS and ARM7BIOS are optional BIOS image paths.
	ARM9BIOS string `json:"arm9_bios,omitempty" yaml:"arm9_bios,omitempty"`
	ARM7BIOS string `json:"arm7_bios,omitempty" yaml:"arm7_bios,omitempty"`

	// SliceCycles bounds one scheduling slice in system cycles.
	SliceCycles uint64 `json:"slice_cycles" yaml:"slice_cycles"`

	// Verbosity is the log level; higher is chattier.
	Verbosity int `json:"verbosity" yaml:"verbosity"`

	// Timing holds the core and cache timing.
	Timing latency.TimingConfig `json:"timing" yaml:"timing"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend:              vmem.KindSlice,
		MemoryMode:           mem.Production.String(),
		JIT:                  true,
		MaxBlockInstructions: 32,
		CodeSize:             1 << 20,
		HLEBios:              true,
		SliceCycles:          2130,
		Timing:               *latency.DefaultTimingConfig(),
	}
}

// isYAML reports whether path names a YAML file.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a configuration file on top of the defaults. The format
// follows the file extension: .yaml and .yml are YAML, anything else JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	c := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Save writes the configuration in the format its extension selects.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case vmem.KindSlice, vmem.KindMmap:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}

	if _, err := mem.ParseMode(c.MemoryMode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.MaxBlockInstructions < 1 {
		return fmt.Errorf("%w: max_block_instructions must be > 0", ErrInvalid)
	}
	if c.CodeSize < uint32(c.MaxBlockInstructions) {
		return fmt.Errorf("%w: code_size must hold at least one block", ErrInvalid)
	}
	if c.SliceCycles == 0 {
		return fmt.Errorf("%w: slice_cycles must be > 0", ErrInvalid)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return nil
}

// Mode returns the parsed memory mode. The configuration must be valid.
func (c *Config) Mode() mem.Mode {
	m, _ := mem.ParseMode(c.MemoryMode)
	return m
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
