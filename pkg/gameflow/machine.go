package gameflow

import (
	"log/slog"
	"sync"
)

// TransitionFunc receives one (from, to) pair per applied transition.
type TransitionFunc func(from, to Phase)

// Machine is the phase state machine. It is the sole writer of the
// current phase; readers snapshot it through Current().
type Machine struct {
	mu      sync.RWMutex
	current Phase
	onTrans TransitionFunc
}

// NewMachine creates a machine starting at Idle.
// onTransition may be nil.
func NewMachine(onTransition TransitionFunc) *Machine {
	return &Machine{
		current: PhaseIdle,
		onTrans: onTransition,
	}
}

// Current returns a snapshot of the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Ingest feeds a raw client phase string into the machine. Same-phase
// inputs are no-ops. Disallowed edges are logged and applied — the
// client is authoritative.
func (m *Machine) Ingest(raw string) {
	m.apply(FromRaw(raw))
}

// Reset forces the machine back to Idle, emitting a transition if the
// prior phase was non-Idle. Used on client disconnect.
func (m *Machine) Reset() {
	m.apply(PhaseIdle)
}

func (m *Machine) apply(to Phase) {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return
	}
	if !edgeAllowed(from, to) {
		slog.Warn("Unexpected phase transition, applying anyway",
			"from", from, "to", to)
	}
	m.current = to
	cb := m.onTrans
	m.mu.Unlock()

	slog.Info("Phase transition", "from", from, "to", to)
	if cb != nil {
		cb(from, to)
	}
}
