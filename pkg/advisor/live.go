package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/willckim/rift-architect/pkg/overlay"
	"github.com/willckim/rift-architect/pkg/triggers"
)

// LiveAdvisor consumes the trigger engine's LLM-worthy escalations and
// turns them into macro calls. Deterministic triggers never reach it —
// the engine dispatches those directly.
type LiveAdvisor struct {
	invoker *Invoker
	sink    overlay.Sink

	active atomic.Bool

	mu          sync.Mutex
	lastContext []byte
}

// NewLiveAdvisor creates the live advisor.
func NewLiveAdvisor(invoker *Invoker, sink overlay.Sink) *LiveAdvisor {
	return &LiveAdvisor{invoker: invoker, sink: sink}
}

func (l *LiveAdvisor) Name() string { return "live" }

func (l *LiveAdvisor) SystemPrompt() string {
	return "You are a macro coach watching a live game. Given the current " +
		"triggers and game state, produce one short, actionable call for the " +
		"team. Lead with the action, then one clause of reasoning."
}

func (l *LiveAdvisor) Tools() []ToolSchema {
	return []ToolSchema{{
		Name:        "get_game_context",
		Description: "Returns the latest game-state context JSON.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}}
}

func (l *LiveAdvisor) HandleTool(_ context.Context, name string, _ json.RawMessage) (string, error) {
	if name != "get_game_context" {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastContext == nil {
		return "", fmt.Errorf("no game context observed yet")
	}
	return string(l.lastContext), nil
}

// OnActivate marks the advisor live. The trigger engine pushes input;
// there is no poll loop to start.
func (l *LiveAdvisor) OnActivate(context.Context) error {
	l.active.Store(true)
	return nil
}

// OnDeactivate stops accepting triggers. An in-flight invocation
// completes but its result is discarded.
func (l *LiveAdvisor) OnDeactivate() {
	l.active.Store(false)
}

// HandleTriggers is the engine's escalation target. It never blocks
// the engine: the invocation runs on its own goroutine, and an
// overlapping one is dropped by the invoker.
func (l *LiveAdvisor) HandleTriggers(contextJSON []byte) {
	if !l.active.Load() {
		return
	}
	l.mu.Lock()
	l.lastContext = contextJSON
	l.mu.Unlock()

	go func() {
		res := l.invoker.Invoke(context.Background(), l, string(contextJSON), "macro")
		if res == nil {
			return
		}
		if !l.active.Load() {
			slog.Debug("Discarding live advice after deactivation")
			return
		}
		if res.Err != nil {
			slog.Warn("Live invocation failed", "error", res.Err)
			return
		}

		var ctx triggers.Context
		_ = json.Unmarshal(contextJSON, &ctx)
		callType := "MACRO_ADVICE"
		if len(ctx.Triggers) > 0 {
			callType = ctx.Triggers[0].Kind
		}
		urgency := overlay.UrgencySuggestion
		if len(ctx.Triggers) > 0 {
			urgency = ctx.Triggers[0].Urgency
		}
		l.sink.Send(overlay.ChannelMacroCall, overlay.MacroCall{
			ID:       uuid.New().String(),
			Urgency:  urgency,
			CallType: callType,
			Message:  res.Text,
			GameTime: ctx.GameTime,
		})
	}()
}
