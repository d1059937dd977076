package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/willckim/rift-architect/pkg/lcu"
	"github.com/willckim/rift-architect/pkg/overlay"
)

// draftPollInterval is the champ-select poll cadence.
const draftPollInterval = 3 * time.Second

// draftPhaseTag marks draft-time invocation contexts.
const draftPhaseTag = "draft_phase"

// ClientProvider returns the current LCU client, nil when the client
// is disconnected. Read at call time so credential rotation is free.
type ClientProvider func() *lcu.Client

// DraftAdvisor polls the champ-select session, invokes the LLM when
// the action list changes, and closes itself once the local pick is
// committed.
type DraftAdvisor struct {
	clients ClientProvider
	invoker *Invoker
	sink    overlay.Sink

	mu        sync.Mutex
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	lastHash  uint64
	finalized bool
	lastState []byte
}

// NewDraftAdvisor creates the draft advisor.
func NewDraftAdvisor(clients ClientProvider, invoker *Invoker, sink overlay.Sink) *DraftAdvisor {
	return &DraftAdvisor{clients: clients, invoker: invoker, sink: sink}
}

func (d *DraftAdvisor) Name() string { return "draft" }

func (d *DraftAdvisor) SystemPrompt() string {
	return "You are a draft-phase coach. Given the current bans and picks, " +
		"recommend the strongest pick for the local player's role and explain " +
		"the matchup reasoning in two sentences."
}

func (d *DraftAdvisor) Tools() []ToolSchema {
	return []ToolSchema{{
		Name:        "get_draft_state",
		Description: "Returns the latest champ-select session as JSON.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}}
}

func (d *DraftAdvisor) HandleTool(_ context.Context, name string, _ json.RawMessage) (string, error) {
	if name != "get_draft_state" {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastState == nil {
		return "", fmt.Errorf("no draft state observed yet")
	}
	return string(d.lastState), nil
}

// OnActivate starts the poll loop. Idempotent.
func (d *DraftAdvisor) OnActivate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.finalized = false
	d.lastHash = 0
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.run(ctx, d.stopCh)
	return nil
}

// OnDeactivate stops the poll loop and waits for it to exit. Per-draft
// state is reset by the next OnActivate; the last observed session is kept.
func (d *DraftAdvisor) OnDeactivate() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *DraftAdvisor) run(ctx context.Context, stopCh chan struct{}) {
	defer d.wg.Done()
	ticker := time.NewTicker(draftPollInterval)
	defer ticker.Stop()

	d.poll(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll fetches the session, invokes on change, and finalizes when the
// local pick completes. Fetch failures are absorbed per tick.
func (d *DraftAdvisor) poll(ctx context.Context) {
	client := d.clients()
	if client == nil {
		return
	}
	sess, err := client.ChampSelect(ctx)
	if err != nil {
		slog.Debug("Champ-select poll failed", "error", err)
		return
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.lastState = raw
	d.mu.Unlock()

	if d.localPickCommitted(sess) {
		d.finalize()
		return
	}

	h := hashActions(sess.Actions)
	d.mu.Lock()
	changed := h != d.lastHash
	d.lastHash = h
	d.mu.Unlock()
	if !changed {
		return
	}

	d.sink.Send(overlay.ChannelDraftPhaseUpdate, overlay.DraftUpdate{Phase: draftPhaseTag})

	res := d.invoker.Invoke(ctx, d, string(raw), draftPhaseTag)
	if res == nil {
		return // overlapping invocation dropped
	}
	if res.Err != nil {
		slog.Warn("Draft invocation failed", "error", res.Err)
		d.sink.Send(overlay.ChannelDraftRecommendation, overlay.DraftUpdate{Error: res.Err.Error()})
		return
	}
	d.sink.Send(overlay.ChannelDraftRecommendation, overlay.DraftUpdate{Recommendation: res.Text})
}

func (d *DraftAdvisor) localPickCommitted(sess *lcu.ChampSelectSession) bool {
	for _, group := range sess.Actions {
		for _, a := range group {
			if a.Type == "pick" && a.ActorCellID == sess.LocalPlayerCellID && a.Completed {
				return true
			}
		}
	}
	return false
}

// finalize announces the committed pick and shuts the poller down.
// Runs on the poll goroutine, so it only closes stopCh and does not
// wait on the WaitGroup; the loop exits on its next select.
func (d *DraftAdvisor) finalize() {
	d.mu.Lock()
	if d.finalized || !d.running {
		d.mu.Unlock()
		return
	}
	d.finalized = true
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.sink.Send(overlay.ChannelDraftFinalized, struct{}{})
	slog.Info("Draft finalized, advisor closing")
}

func hashActions(actions [][]lcu.ChampSelectAction) uint64 {
	h := fnv.New64a()
	raw, _ := json.Marshal(actions)
	h.Write(raw)
	return h.Sum64()
}
