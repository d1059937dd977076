package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/willckim/rift-architect/pkg/advisor"
	"github.com/willckim/rift-architect/pkg/config"
	"github.com/willckim/rift-architect/pkg/gameflow"
	"github.com/willckim/rift-architect/pkg/lcu"
)

// gameflowPhaseURI is the event-bus topic feeding the phase machine.
const gameflowPhaseURI = "/lol-gameflow/v1/gameflow-phase"

// buildDiscovery assembles the client discovery stack: install-dir
// finder (pinned path or process scan), event bus, discovery loop.
func buildDiscovery(cfg *config.Config) (*lcu.Discovery, *lcu.EventBus, *summonerIdentity) {
	var finder lcu.InstallDirFinder = lcu.ProcessFinder{}
	if cfg.Discovery.InstallDir != "" {
		finder = lcu.StaticFinder{Dir: cfg.Discovery.InstallDir}
	}
	bus := lcu.NewEventBus()
	discovery := lcu.NewDiscovery(finder, bus, lcu.Hooks{})
	return discovery, bus, &summonerIdentity{}
}

// summonerIdentity caches the connected player's identity.
type summonerIdentity struct {
	mu    sync.RWMutex
	id    string
	name  string
}

// PUUID implements the advisor identity provider.
func (s *summonerIdentity) PUUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *summonerIdentity) refresh(ctx context.Context, client *lcu.Client) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	summoner, err := client.CurrentSummoner(reqCtx)
	if err != nil {
		slog.Warn("Current-summoner fetch failed", "error", err)
		return
	}
	s.mu.Lock()
	s.id = summoner.PUUID
	s.name = fmt.Sprintf("%s#%s", summoner.GameName, summoner.TagLine)
	s.mu.Unlock()
	slog.Info("Summoner identified", "name", s.name, "level", summoner.SummonerLevel)
}

func (s *summonerIdentity) clear() {
	s.mu.Lock()
	s.id, s.name = "", ""
	s.mu.Unlock()
}

// seedPhase pulls the current phase once on connect so the machine
// does not wait for the next event-bus update.
func seedPhase(ctx context.Context, client *lcu.Client, machine *gameflow.Machine) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	phase, err := client.GameflowPhase(reqCtx)
	if err != nil {
		slog.Debug("Initial phase fetch failed", "error", err)
		return
	}
	machine.Ingest(phase)
}

// newHTTPLLM builds the LLM transport from the RIFT_LLM_ENDPOINT hook:
// the user supplies a local endpoint that accepts the request JSON and
// answers with the response JSON. Without it, invocations fail soft
// and advisors stay deterministic-only.
func newHTTPLLM() advisor.LLMFunc {
	endpoint := os.Getenv("RIFT_LLM_ENDPOINT")
	if endpoint == "" {
		slog.Warn("RIFT_LLM_ENDPOINT not set, advisors run without LLM output")
		return nil
	}
	client := &http.Client{}

	return func(ctx context.Context, req *advisor.LLMRequest) (*advisor.LLMResponse, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal llm request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("llm endpoint: %w", err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("llm endpoint returned %d", resp.StatusCode)
		}
		var out advisor.LLMResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode llm response: %w", err)
		}
		return &out, nil
	}
}
