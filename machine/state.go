package machine

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/xid"

	"github.com/sarchlab/dscore/emu"
	"github.com/sarchlab/dscore/hw/timers"
	"github.com/sarchlab/dscore/hw/video"
	"github.com/sarchlab/dscore/timing/cycle"
)

// StateVersion is the format version written into save states.
const StateVersion = "1.1.0"

// stateConstraint selects the versions LoadState accepts.
const stateConstraint = "^1.0.0"

const stateMagic = "DSCORE-STATE"

// ErrIncompatibleState is returned for save states this build cannot read.
var ErrIncompatibleState = errors.New("incompatible save state")

// StateHeader identifies a save state.
type StateHeader struct {
	Magic   string
	Version string
	ID      string
	Machine string
	Cycles  uint64
}

// snapshot is everything a save state restores. Translated code is never
// saved; it is rebuilt on demand.
type snapshot struct {
	Store   []byte
	Sched   cycle.Snapshot
	Cores   [2]emu.State
	WRAMCNT uint8
	Timers  [2]timers.State
	Video   video.State
	Sys     [2]sysState
}

// SaveState writes the machine to w and returns the header it wrote.
func (m *Machine) SaveState(w io.Writer) (StateHeader, error) {
	h := StateHeader{
		Magic:   stateMagic,
		Version: StateVersion,
		ID:      xid.New().String(),
		Machine: m.id.String(),
		Cycles:  m.sched.Cycles(),
	}

	s := snapshot{
		Store:   m.store.Bytes(),
		Sched:   m.sched.Snapshot(),
		WRAMCNT: m.ctrl.WRAMCNT,
		Video:   m.video.State(),
	}
	for i := range m.cores {
		s.Cores[i] = m.cores[i].State()
		s.Timers[i] = m.timers[i].State()
		s.Sys[i] = m.sys[i].state()
	}

	enc := gob.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		return h, fmt.Errorf("save state header: %w", err)
	}
	if err := enc.Encode(&s); err != nil {
		return h, fmt.Errorf("save state: %w", err)
	}

	m.log.V(1).Info("state saved", "id", h.ID, "cycle", h.Cycles)

	return h, nil
}

// checkVersion reports whether a state of version v can be loaded.
func checkVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrIncompatibleState, v, err)
	}

	c, err := semver.NewConstraint(stateConstraint)
	if err != nil {
		return err
	}
	if !c.Check(version) {
		return fmt.Errorf("%w: version %s does not satisfy %s", ErrIncompatibleState, version, stateConstraint)
	}

	return nil
}

// LoadState replaces the machine state with one read from r.
func (m *Machine) LoadState(r io.Reader) (StateHeader, error) {
	dec := gob.NewDecoder(r)

	var h StateHeader
	if err := dec.Decode(&h); err != nil {
		return h, fmt.Errorf("load state header: %w", err)
	}
	if h.Magic != stateMagic {
		return h, fmt.Errorf("%w: bad magic %q", ErrIncompatibleState, h.Magic)
	}
	if err := checkVersion(h.Version); err != nil {
		return h, err
	}
	if _, err := xid.FromString(h.ID); err != nil {
		return h, fmt.Errorf("%w: state id %q: %v", ErrIncompatibleState, h.ID, err)
	}

	var s snapshot
	if err := dec.Decode(&s); err != nil {
		return h, fmt.Errorf("load state: %w", err)
	}
	if len(s.Store) != len(m.store.Bytes()) {
		return h, fmt.Errorf("%w: store is %d bytes, want %d",
			ErrIncompatibleState, len(s.Store), len(m.store.Bytes()))
	}

	if err := m.restore(&s); err != nil {
		return h, err
	}

	m.log.V(1).Info("state loaded", "id", h.ID, "from", h.Machine, "cycle", h.Cycles)

	return h, nil
}

func (m *Machine) restore(s *snapshot) error {
	copy(m.store.Bytes(), s.Store)

	for i := range m.cores {
		m.cores[i].Restore(s.Cores[i])
		m.timers[i].Restore(s.Timers[i])
		m.sys[i].restore(s.Sys[i])
	}
	m.video.Restore(s.Video)
	m.ctrl.WRAMCNT = s.WRAMCNT

	for _, mm := range m.mmus {
		if err := mm.UpdateAll(); err != nil {
			return fmt.Errorf("load state: %w", err)
		}
	}

	for _, c := range m.caches {
		if c != nil {
			c.Reset()
		}
	}
	if m.cacheTiming != nil {
		m.cacheTiming.Reset()
	}

	m.sched.Restore(s.Sched)
	m.err = nil

	return nil
}
