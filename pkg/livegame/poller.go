package livegame

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultBaseURL is the fixed loopback telemetry endpoint. No auth,
// self-signed TLS.
const DefaultBaseURL = "https://127.0.0.1:2999/liveclientdata"

// Poll cadences. Snapshots are idempotent so the slower cadence is
// fine; events carry the sub-5s signals.
const (
	snapshotInterval = 10 * time.Second
	eventInterval    = 5 * time.Second
)

const (
	pathAllGameData = "/allgamedata"
	pathEventData   = "/eventdata"
)

// Poller polls the telemetry endpoint on two cadences and publishes
// snapshots and newly seen events. Transient poll failures are
// absorbed silently — the next tick is soon. Reachability flips are
// surfaced through OnAvailability.
type Poller struct {
	base   string
	client *http.Client

	// OnAvailability fires on reachability edges. Set before Start.
	OnAvailability func(available bool)

	// snapshots holds at most one entry; a newer snapshot evicts an
	// unconsumed older one (missing a snapshot is harmless).
	snapshots chan Snapshot
	events    chan []GameEvent

	mu         sync.Mutex
	available  bool
	maxEventID int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a poller against base (DefaultBaseURL in
// production). client must accept the endpoint's self-signed loopback
// certificate.
func NewPoller(base string, client *http.Client) *Poller {
	return &Poller{
		base:       base,
		client:     client,
		snapshots:  make(chan Snapshot, 1),
		events:     make(chan []GameEvent, 16),
		maxEventID: -1, // the feed's first event carries ID 0
		stopCh:     make(chan struct{}),
	}
}

// Snapshots is the bounded snapshot stream.
func (p *Poller) Snapshots() <-chan Snapshot { return p.snapshots }

// Events is the new-event stream. Every emission contains only events
// with IDs strictly greater than anything previously emitted, in
// ascending order.
func (p *Poller) Events() <-chan []GameEvent { return p.events }

// Start launches both poll loops.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.loop(ctx, snapshotInterval, p.pollSnapshot)
	go p.loop(ctx, eventInterval, p.pollEvents)
}

// Stop halts polling.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Reset clears the event high-water mark for a new match.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.maxEventID = -1
	p.mu.Unlock()
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, poll func(context.Context)) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

func (p *Poller) pollSnapshot(ctx context.Context) {
	var snap Snapshot
	if err := p.get(ctx, pathAllGameData, &snap); err != nil {
		p.setAvailable(false)
		return
	}
	p.setAvailable(true)

	// Drop the oldest unconsumed snapshot rather than block.
	for {
		select {
		case p.snapshots <- snap:
			return
		default:
			select {
			case <-p.snapshots:
			default:
			}
		}
	}
}

func (p *Poller) pollEvents(ctx context.Context) {
	var feed eventFeed
	if err := p.get(ctx, pathEventData, &feed); err != nil {
		p.setAvailable(false)
		return
	}
	p.setAvailable(true)

	fresh := p.filterNew(feed.Events)
	if len(fresh) == 0 {
		return
	}
	select {
	case p.events <- fresh:
	default:
		slog.Warn("Event stream backed up, dropping batch", "count", len(fresh))
	}
}

// filterNew keeps events above the high-water mark, sorted ascending,
// and advances the mark.
func (p *Poller) filterNew(events []GameEvent) []GameEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var fresh []GameEvent
	for _, ev := range events {
		if ev.EventID > p.maxEventID {
			fresh = append(fresh, ev)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].EventID < fresh[j].EventID })
	if n := len(fresh); n > 0 {
		p.maxEventID = fresh[n-1].EventID
	}
	return fresh
}

func (p *Poller) setAvailable(v bool) {
	p.mu.Lock()
	changed := p.available != v
	p.available = v
	p.mu.Unlock()
	if changed {
		slog.Info("Live telemetry availability changed", "available", v)
		if p.OnAvailability != nil {
			p.OnAvailability(v)
		}
	}
}

// Available reports current reachability.
func (p *Poller) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *Poller) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry %s returned %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
