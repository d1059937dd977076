package lcu

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// discoveryInterval is the poll cadence for client detection.
const discoveryInterval = 3 * time.Second

// Hooks are the edge-triggered discovery callbacks. Both run on the
// discovery goroutine; keep them short.
type Hooks struct {
	// OnConnected fires when credentials appear. The client handle is
	// valid until OnDisconnected.
	OnConnected func(*Client)
	// OnDisconnected fires when credentials vanish.
	OnDisconnected func()
}

// Discovery polls the host for a running client and maintains the
// connected/disconnected edge. It owns the credentials and the event
// bus lifetime; everything else sees only the emitted *Client.
type Discovery struct {
	finder   InstallDirFinder
	bus      *EventBus
	hooks    Hooks
	interval time.Duration

	mu      sync.RWMutex
	current *Client

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDiscovery creates a discovery loop. bus may be nil when no event
// subscription is wanted (tests).
func NewDiscovery(finder InstallDirFinder, bus *EventBus, hooks Hooks) *Discovery {
	return &Discovery{
		finder:   finder,
		bus:      bus,
		hooks:    hooks,
		interval: discoveryInterval,
		stopCh:   make(chan struct{}),
	}
}

// SetHooks replaces the edge callbacks. Must be called before Start.
func (d *Discovery) SetHooks(hooks Hooks) {
	d.hooks = hooks
}

// Start launches the poll loop.
func (d *Discovery) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop halts polling and closes the event channel.
func (d *Discovery) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	if d.bus != nil {
		d.bus.Close()
	}
}

// Client returns the current client handle, nil when disconnected.
func (d *Discovery) Client() *Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Connected reports whether credentials currently exist.
func (d *Discovery) Connected() bool {
	return d.Client() != nil
}

func (d *Discovery) run(ctx context.Context) {
	defer d.wg.Done()
	slog.Info("Client discovery started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Ticks run synchronously on this goroutine, so polling is
	// non-reentrant by construction.
	d.tick(ctx)
	for {
		select {
		case <-d.stopCh:
			slog.Info("Client discovery stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick performs one discovery pass. Never raises: a missing client is
// the normal case, not an error.
func (d *Discovery) tick(ctx context.Context) {
	creds, found := d.locate(ctx)

	d.mu.RLock()
	current := d.current
	d.mu.RUnlock()

	switch {
	case current == nil && found:
		client := NewClient(creds)
		d.mu.Lock()
		d.current = client
		d.mu.Unlock()
		slog.Info("Client connected", "port", creds.Port, "pid", creds.ProcessID)
		if d.bus != nil {
			d.bus.Connect(creds)
		}
		if d.hooks.OnConnected != nil {
			d.hooks.OnConnected(client)
		}

	case current != nil && !found:
		d.mu.Lock()
		d.current = nil
		d.mu.Unlock()
		slog.Info("Client disconnected")
		if d.bus != nil {
			d.bus.Close()
		}
		if d.hooks.OnDisconnected != nil {
			d.hooks.OnDisconnected()
		}

	case current != nil && found && current.Credentials() != creds:
		// The client restarted between ticks; treat as a full edge.
		d.mu.Lock()
		d.current = nil
		d.mu.Unlock()
		slog.Info("Client credentials changed, reconnecting")
		if d.bus != nil {
			d.bus.Close()
		}
		if d.hooks.OnDisconnected != nil {
			d.hooks.OnDisconnected()
		}
	}
}

func (d *Discovery) locate(ctx context.Context) (Credentials, bool) {
	dir, ok := d.finder.FindInstallDir(ctx)
	if !ok {
		return Credentials{}, false
	}
	creds, err := ReadHandoff(dir)
	if err != nil {
		// Malformed or missing handoff content counts as not-found.
		return Credentials{}, false
	}
	return creds, true
}
