package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/willckim/rift-architect/pkg/overlay"
)

// recentMatchCount is how many stored records feed the local score.
const recentMatchCount = 10

// eogContextCap truncates the end-of-game blob in the LLM context.
const eogContextCap = 4096

// MatchRecord is one finished game in the local store.
type MatchRecord struct {
	PUUID     string
	Win       bool
	Kills     int
	Deaths    int
	Assists   int
	CreatedAt time.Time
}

// MatchStore persists and reads back recent match records.
type MatchStore interface {
	RecentMatches(ctx context.Context, puuid string, n int) ([]MatchRecord, error)
	SaveMatch(ctx context.Context, rec MatchRecord) error
}

// IdentityProvider returns the connected summoner's PUUID, empty when
// unknown.
type IdentityProvider func() string

// PostAdvisor runs once per game end: it fetches the end-of-game blob,
// computes a deterministic performance score from recent records, and
// makes a single LLM invocation for the review.
type PostAdvisor struct {
	clients  ClientProvider
	store    MatchStore
	identity IdentityProvider
	invoker  *Invoker
	sink     overlay.Sink

	mu      sync.Mutex
	running bool
	lastEOG []byte
}

// NewPostAdvisor creates the post-game advisor. store and identity
// may be nil; the score then falls back to the current game only.
func NewPostAdvisor(clients ClientProvider, store MatchStore, identity IdentityProvider, invoker *Invoker, sink overlay.Sink) *PostAdvisor {
	return &PostAdvisor{
		clients:  clients,
		store:    store,
		identity: identity,
		invoker:  invoker,
		sink:     sink,
	}
}

func (p *PostAdvisor) Name() string { return "post" }

func (p *PostAdvisor) SystemPrompt() string {
	return "You are a post-game reviewer. Given the final scoreboard and the " +
		"player's recent performance score, name the single biggest improvement " +
		"for next game. Be specific and kind."
}

func (p *PostAdvisor) Tools() []ToolSchema {
	return []ToolSchema{{
		Name:        "get_scoreboard",
		Description: "Returns the raw end-of-game scoreboard JSON.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}}
}

func (p *PostAdvisor) HandleTool(_ context.Context, name string, _ json.RawMessage) (string, error) {
	if name != "get_scoreboard" {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastEOG == nil {
		return "", fmt.Errorf("no end-of-game data yet")
	}
	return string(p.lastEOG), nil
}

// OnActivate runs the one-shot pipeline in the background. Idempotent.
func (p *PostAdvisor) OnActivate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	go p.review(ctx)
	return nil
}

func (p *PostAdvisor) OnDeactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.lastEOG = nil
}

func (p *PostAdvisor) review(ctx context.Context) {
	client := p.clients()
	if client == nil {
		return
	}
	blob, err := client.EOGStatsBlock(ctx)
	if err != nil {
		slog.Warn("End-of-game fetch failed", "error", err)
		return
	}
	p.mu.Lock()
	p.lastEOG = blob
	p.mu.Unlock()

	rec, ok := parseEOG(blob)
	puuid := ""
	if p.identity != nil {
		puuid = p.identity()
	}
	if ok && p.store != nil && puuid != "" {
		rec.PUUID = puuid
		rec.CreatedAt = time.Now()
		if err := p.store.SaveMatch(ctx, rec); err != nil {
			slog.Warn("Match record save failed", "error", err)
		}
	}

	score := p.computeScore(ctx, puuid, rec, ok)

	contextText, err := json.Marshal(map[string]any{
		"performanceScore": score,
		"endOfGame":        json.RawMessage(truncate(blob, eogContextCap)),
	})
	if err != nil {
		return
	}

	res := p.invoker.Invoke(ctx, p, string(contextText), "post_game")
	if res == nil {
		return
	}
	p.mu.Lock()
	active := p.running
	p.mu.Unlock()
	if !active {
		slog.Debug("Discarding post-game review after deactivation")
		return
	}
	if res.Err != nil {
		slog.Warn("Post-game invocation failed", "error", res.Err)
		return
	}
	p.sink.Send(overlay.ChannelStatusUpdate, overlay.StatusUpdate{
		Text: fmt.Sprintf("Post-game review (score %d): %s", score, res.Text),
	})
}

// computeScore is the deterministic local score over recent records:
// 50 points of win rate plus KDA, clamped to [0, 100].
func (p *PostAdvisor) computeScore(ctx context.Context, puuid string, current MatchRecord, haveCurrent bool) int {
	var records []MatchRecord
	if p.store != nil && puuid != "" {
		if recent, err := p.store.RecentMatches(ctx, puuid, recentMatchCount); err == nil {
			records = recent
		}
	}
	if len(records) == 0 && haveCurrent {
		records = []MatchRecord{current}
	}
	if len(records) == 0 {
		return 0
	}

	wins, kdaSum := 0, 0.0
	for _, r := range records {
		if r.Win {
			wins++
		}
		kdaSum += float64(r.Kills+r.Assists) / math.Max(1, float64(r.Deaths))
	}
	score := 50*float64(wins)/float64(len(records)) + 10*kdaSum/float64(len(records))
	return int(math.Max(0, math.Min(100, score)))
}

// eogStats is the minimal slice of the scoreboard blob the core reads.
type eogStats struct {
	LocalPlayer struct {
		Stats map[string]float64 `json:"stats"`
	} `json:"localPlayer"`
}

func parseEOG(blob []byte) (MatchRecord, bool) {
	var eog eogStats
	if err := json.Unmarshal(blob, &eog); err != nil || eog.LocalPlayer.Stats == nil {
		return MatchRecord{}, false
	}
	s := eog.LocalPlayer.Stats
	return MatchRecord{
		Win:     s["WIN"] == 1,
		Kills:   int(s["CHAMPIONS_KILLED"]),
		Deaths:  int(s["NUM_DEATHS"]),
		Assists: int(s["ASSISTS"]),
	}, true
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	// Keep the context valid JSON by quoting the truncated blob.
	quoted, _ := json.Marshal(string(b[:n]) + "…(truncated)")
	return quoted
}
