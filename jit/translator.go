package jit

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/insts"
)

// DefaultMaxBlockInstructions caps the length of a block.
const DefaultMaxBlockInstructions = 32

// KeyFunc returns the key of a guest address, or false if the address
// cannot hold translated code.
type KeyFunc func(addr uint32) (uint32, bool)

// Translator compiles guest code of one core into blocks of its cache.
type Translator struct {
	core    *emu.Core
	cache   *Cache
	key     KeyFunc
	emitter Emitter
	decoder *insts.Decoder

	maxInstructions int
	log             logr.Logger
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithEmitter sets the code generation backend.
func WithEmitter(e Emitter) TranslatorOption {
	return func(t *Translator) {
		t.emitter = e
	}
}

// WithMaxBlockInstructions caps the length of a block.
func WithMaxBlockInstructions(n int) TranslatorOption {
	return func(t *Translator) {
		t.maxInstructions = n
	}
}

// WithTranslatorLogger sets the logger.
func WithTranslatorLogger(log logr.Logger) TranslatorOption {
	return func(t *Translator) {
		t.log = log
	}
}

// NewTranslator creates a translator for core that stores blocks in cache.
func NewTranslator(core *emu.Core, cache *Cache, key KeyFunc, opts ...TranslatorOption) *Translator {
	t := &Translator{
		core:            core,
		cache:           cache,
		key:             key,
		decoder:         insts.NewDecoder(),
		maxInstructions: DefaultMaxBlockInstructions,
		log:             logr.Discard(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.emitter == nil {
		t.emitter = NewClosureEmitter(core.Latency())
	}
	if t.maxInstructions < 1 {
		t.maxInstructions = 1
	}

	return t
}

// Cache returns the cache blocks are stored in.
func (t *Translator) Cache() *Cache {
	return t.cache
}

// Translate compiles the block starting at pc. The block ends after the
// first instruction that leaves the straight line, where the keys stop
// being contiguous, or at the length cap.
func (t *Translator) Translate(pc uint32) (*Block, error) {
	start, ok := t.key(pc)
	if !ok {
		return nil, fmt.Errorf("jit: %08x cannot hold translated code", pc)
	}

	bus := t.core.Bus()
	lat := t.core.Latency()

	b := &Block{Start: start, GuestStart: pc}
	ops := make([]HostOp, 0, t.maxInstructions)

	addr, key := pc, start
	for len(ops) < t.maxInstructions {
		inst := t.decoder.Decode(bus.Fetch32(addr))
		fetch := lat.Fetch(addr)

		ops = append(ops, t.emitter.Emit(inst, addr, fetch))
		b.Cycles += lat.GetLatency(inst) + fetch
		b.End = key + 4

		if inst.EndsBlock() {
			break
		}

		next, ok := t.key(addr + 4)
		if !ok || next != key+4 {
			break
		}
		addr, key = addr+4, next
	}

	if err := t.cache.Insert(b, ops); err != nil {
		return nil, err
	}

	t.log.V(2).Info("compiled block",
		"cpu", t.core.CPU(), "pc", fmt.Sprintf("%08x", pc),
		"key", fmt.Sprintf("%08x", start), "ops", len(ops))

	return b, nil
}

// Step runs one block at the core's PC, translating it first if needed.
// Addresses that cannot hold translated code are interpreted one
// instruction at a time.
func (t *Translator) Step() (emu.Result, error) {
	if t.core.Halted() {
		return t.core.Step(), nil
	}

	pc := t.core.PC()

	key, ok := t.key(pc)
	if !ok {
		return t.core.Step(), nil
	}

	b := t.cache.Lookup(key, pc)
	if b == nil {
		var err error
		if b, err = t.Translate(pc); err != nil {
			return emu.ResultStop, err
		}
	}

	return t.cache.Execute(t.core, b), nil
}
