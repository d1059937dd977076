package advisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/willckim/rift-architect/pkg/gameflow"
)

// FlagStore reads the persisted per-advisor enable flags.
type FlagStore interface {
	AdvisorEnabled(name string) bool
}

// alwaysEnabled is the fallback when no store is wired.
type alwaysEnabled struct{}

func (alwaysEnabled) AdvisorEnabled(string) bool { return true }

// Runtime owns the advisor lifecycle: at most one active advisor,
// chosen by the phase→advisor map, with deactivation of the outgoing
// advisor completing before the incoming one starts.
type Runtime struct {
	mu       sync.Mutex
	advisors map[gameflow.Phase]Advisor
	flags    FlagStore

	active gameflow.Phase // phase key of the active advisor; Idle = none
	paused bool
}

// NewRuntime creates a runtime. flags may be nil (all enabled).
func NewRuntime(flags FlagStore) *Runtime {
	if flags == nil {
		flags = alwaysEnabled{}
	}
	return &Runtime{
		advisors: make(map[gameflow.Phase]Advisor),
		flags:    flags,
	}
}

// Register maps a phase to its advisor. Call before the first
// OnTransition; the static
// mapping is ChampSelect→draft, InGame→live, PostGame→post.
func (r *Runtime) Register(phase gameflow.Phase, adv Advisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advisors[phase] = adv
}

// OnTransition is wired as the phase machine's callback. Runs the
// deactivate-then-activate sequence synchronously so ordering is
// guaranteed.
func (r *Runtime) OnTransition(from, to gameflow.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == to {
		return // activation is idempotent
	}
	r.deactivateLocked()

	if r.paused {
		return
	}
	adv, ok := r.advisors[to]
	if !ok {
		return
	}
	if !r.flags.AdvisorEnabled(adv.Name()) {
		slog.Info("Advisor disabled, skipping activation", "advisor", adv.Name())
		return
	}
	if err := adv.OnActivate(context.Background()); err != nil {
		slog.Error("Advisor activation failed", "advisor", adv.Name(), "error", err)
		return
	}
	r.active = to
	slog.Info("Advisor activated", "advisor", adv.Name(), "phase", to)
}

// PauseAdvisors deactivates the current advisor and blocks future
// activations without changing the phase. Used on credential loss.
func (r *Runtime) PauseAdvisors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	r.deactivateLocked()
	slog.Info("Advisors paused")
}

// ResumeAdvisors lifts the pause. The next phase transition activates
// normally; the current phase's advisor is not retroactively started.
func (r *Runtime) ResumeAdvisors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	slog.Info("Advisors resumed")
}

// DeactivateAll stops whatever is active. Used on client disconnect
// and process shutdown. In-flight LLM calls complete on their own
// goroutines; the deactivated advisor discards their results.
func (r *Runtime) DeactivateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivateLocked()
}

// Active returns the active advisor's name, empty when none.
func (r *Runtime) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if adv, ok := r.advisors[r.active]; ok {
		return adv.Name()
	}
	return ""
}

func (r *Runtime) deactivateLocked() {
	if adv, ok := r.advisors[r.active]; ok {
		adv.OnDeactivate()
		slog.Info("Advisor deactivated", "advisor", adv.Name())
	}
	r.active = gameflow.PhaseIdle
}
