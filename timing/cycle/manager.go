// Package cycle provides the cycle-ordered event scheduler that drives all
// hardware timing.
//
// The Manager owns a monotonically increasing cycle counter, a queue of
// events ordered by target cycle and a separate queue of immediate events
// that fire ahead of anything cycle based. Producers only schedule events;
// they never hold references to queued ones. A callback that has been
// superseded by a later reconfiguration is expected to detect that itself by
// comparing EventCycle against the target it recorded when scheduling.
package cycle

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// EventType indexes the dispatch table.
type EventType uint8

// MaxEventTypes is the size of the dispatch table.
const MaxEventTypes = 64

// Handler is invoked when an event of the registered type fires.
type Handler func(m *Manager, arg uint32)

// Event is a pending callback.
type Event struct {
	Target uint64
	Type   EventType
	Arg    uint32
}

// Manager is the event queue. It is not safe for concurrent use; the whole
// timeline is advanced by a single driving loop.
type Manager struct {
	cycles uint64

	// events is sorted by descending Target so the next event is at the
	// tail. Among equal targets the earliest scheduled sits closest to the
	// tail.
	events []Event

	imm    []Event
	immBuf []Event

	handlers [MaxEventTypes]Handler
	names    [MaxEventTypes]string

	dispatching uint64
	log         logr.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for scheduling diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates an empty event queue at cycle zero.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		events: make([]Event, 0, 32),
		imm:    make([]Event, 0, 8),
		immBuf: make([]Event, 0, 8),
		log:    logr.Discard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Register installs the handler for an event type. The name is only used in
// diagnostics.
func (m *Manager) Register(typ EventType, name string, h Handler) {
	if int(typ) >= MaxEventTypes {
		panic(fmt.Sprintf("cycle: event type %d out of range", typ))
	}
	m.handlers[typ] = h
	m.names[typ] = name
}

// Cycles returns the current cycle count.
func (m *Manager) Cycles() uint64 {
	return m.cycles
}

// AddCycles advances the cycle counter.
func (m *Manager) AddCycles(n uint64) {
	m.cycles += n
}

// Schedule queues an event delay cycles from now and returns its absolute
// target cycle. A delay of zero is treated as one so that the queue always
// makes forward progress.
func (m *Manager) Schedule(delay uint64, typ EventType, arg uint32) uint64 {
	if delay == 0 {
		m.log.V(1).Info("zero delay schedule clamped", "event", m.names[typ], "cycle", m.cycles)
		delay = 1
	}

	target := m.cycles + delay
	m.insert(Event{Target: target, Type: typ, Arg: arg})

	return target
}

func (m *Manager) insert(e Event) {
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].Target <= e.Target
	})

	m.events = append(m.events, Event{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = e
}

// ScheduleImm queues an event that fires at the current instant, before
// any cycle based event.
func (m *Manager) ScheduleImm(typ EventType, arg uint32) {
	m.imm = append(m.imm, Event{Target: m.cycles, Type: typ, Arg: arg})
}

// ImmediatePending returns true if an immediate event is waiting.
func (m *Manager) ImmediatePending() bool {
	return len(m.imm) > 0
}

// Pending returns the number of queued cycle based events.
func (m *Manager) Pending() int {
	return len(m.events)
}

// NextEventCycle returns the target of the earliest queued event.
func (m *Manager) NextEventCycle() (uint64, bool) {
	if len(m.events) == 0 {
		return 0, false
	}
	return m.events[len(m.events)-1].Target, true
}

// EventCycle returns the target cycle of the event currently being
// dispatched. Handlers compare it with the target they recorded when
// scheduling to discard superseded callbacks.
func (m *Manager) EventCycle() uint64 {
	return m.dispatching
}

// CheckEvents dispatches all immediate events and then every queued event
// whose target has been reached. Immediate events scheduled by a callback
// are drained before the next cycle based event. Returns true if any event
// fired.
func (m *Manager) CheckEvents() bool {
	triggered := m.drainImmediate()

	for len(m.events) > 0 {
		last := len(m.events) - 1
		e := m.events[last]
		if e.Target > m.cycles {
			break
		}
		m.events = m.events[:last]

		m.dispatch(e)
		m.drainImmediate()
		triggered = true
	}

	return triggered
}

func (m *Manager) drainImmediate() bool {
	triggered := false

	for len(m.imm) > 0 {
		m.immBuf, m.imm = m.imm, m.immBuf[:0]
		for _, e := range m.immBuf {
			m.dispatch(e)
		}
		triggered = true
	}

	return triggered
}

func (m *Manager) dispatch(e Event) {
	h := m.handlers[e.Type]
	if h == nil {
		panic(fmt.Sprintf("cycle: no handler registered for event type %d", e.Type))
	}

	prev := m.dispatching
	m.dispatching = e.Target
	h(m, e.Arg)
	m.dispatching = prev
}

// JumpToNextEvent moves the cycle counter to the earliest queued event. It
// is used while every core is halted. The queue must not be empty: some
// recurring event (video timing) is always expected to be pending.
func (m *Manager) JumpToNextEvent() {
	if len(m.events) == 0 {
		panic("cycle: jump to next event on an empty queue")
	}

	next := m.events[len(m.events)-1].Target
	if next > m.cycles {
		m.cycles = next
	}
}

// Reset discards all events and rewinds the counter. Handlers stay
// registered.
func (m *Manager) Reset() {
	m.cycles = 0
	m.events = m.events[:0]
	m.imm = m.imm[:0]
	m.immBuf = m.immBuf[:0]
	m.dispatching = 0
}

// Snapshot is the serialisable state of the queue.
type Snapshot struct {
	Cycles    uint64
	Events    []Event
	Immediate []Event
}

// Snapshot returns a copy of the queue in dispatch order.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		Cycles:    m.cycles,
		Events:    make([]Event, 0, len(m.events)),
		Immediate: append([]Event(nil), m.imm...),
	}

	for i := len(m.events) - 1; i >= 0; i-- {
		s.Events = append(s.Events, m.events[i])
	}

	return s
}

// Restore replaces the queue with a snapshot. Events are reinserted in
// snapshot order so ties keep their original ordering.
func (m *Manager) Restore(s Snapshot) {
	m.Reset()
	m.cycles = s.Cycles
	for _, e := range s.Events {
		m.insert(e)
	}
	m.imm = append(m.imm, s.Immediate...)
}
