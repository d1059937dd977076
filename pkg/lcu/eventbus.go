package lcu

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event bus protocol constants. The client speaks a WAMP-like framing:
// a subscribe frame [5, topic] out, event frames [8, topic, payload] in.
const (
	opSubscribe = 5
	opEvent     = 8
	eventTopic  = "OnJsonApiEvent"
)

// reconnectDelay is how long the bus waits before re-dialing after a
// dropped connection, while credentials remain valid.
const reconnectDelay = 3 * time.Second

// BusEvent is one event frame from the client's event bus.
type BusEvent struct {
	URI       string          `json:"uri"`
	Data      json.RawMessage `json:"data"`
	EventType string          `json:"eventType"`
}

// BusHandler receives events for a subscribed URI.
type BusHandler func(BusEvent)

// EventBus maintains the persistent message subscription to the
// client's event bus. It reconnects after 3 s while credentials are
// still valid and stops permanently once they are cleared.
type EventBus struct {
	mu       sync.Mutex
	handlers map[string][]BusHandler
	creds    *Credentials
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// dial is swapped by tests.
	dial func(ctx context.Context, creds Credentials) (*websocket.Conn, error)
}

// NewEventBus creates a bus with no connection. Register handlers with
// Subscribe, then Connect when credentials appear.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[string][]BusHandler),
		dial:     dialLCU,
	}
}

// Subscribe registers a handler for events whose URI matches exactly.
// An empty uri subscribes to every event.
func (b *EventBus) Subscribe(uri string, h BusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[uri] = append(b.handlers[uri], h)
}

// Connect starts the subscription loop for the given credentials,
// replacing any previous connection.
func (b *EventBus) Connect(creds Credentials) {
	b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.creds = &creds
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(ctx, creds)
}

// Close clears credentials and stops the loop permanently (until the
// next Connect). Safe to call when not connected.
func (b *EventBus) Close() {
	b.mu.Lock()
	b.creds = nil
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

func (b *EventBus) valid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creds != nil
}

func (b *EventBus) run(ctx context.Context, creds Credentials) {
	defer b.wg.Done()
	for b.valid() && ctx.Err() == nil {
		conn, err := b.dial(ctx, creds)
		if err != nil {
			slog.Debug("Event bus dial failed, will retry", "error", err)
			if !sleepOrDone(ctx, reconnectDelay) {
				return
			}
			continue
		}
		if err := b.subscribeAndRead(ctx, conn); err != nil {
			slog.Debug("Event bus connection dropped", "error", err)
		}
		conn.Close(websocket.StatusNormalClosure, "")
		if !sleepOrDone(ctx, reconnectDelay) {
			return
		}
	}
}

func (b *EventBus) subscribeAndRead(ctx context.Context, conn *websocket.Conn) error {
	sub, err := json.Marshal([]any{opSubscribe, eventTopic})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return err
	}
	slog.Info("Event bus subscribed", "topic", eventTopic)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		b.dispatch(data)
	}
}

// dispatch parses an event frame and fans it out. Malformed frames are
// dropped silently.
func (b *EventBus) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) != 3 {
		return
	}
	var op int
	if err := json.Unmarshal(frame[0], &op); err != nil || op != opEvent {
		return
	}
	var ev BusEvent
	if err := json.Unmarshal(frame[2], &ev); err != nil {
		return
	}

	b.mu.Lock()
	hs := append([]BusHandler(nil), b.handlers[ev.URI]...)
	hs = append(hs, b.handlers[""]...)
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func dialLCU(ctx context.Context, creds Credentials) (*websocket.Conn, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(basicAuthUser + ":" + creds.Secret))
	header := http.Header{}
	header.Set("Authorization", "Basic "+auth)

	conn, _, err := websocket.Dial(ctx, creds.WebSocketURL(), &websocket.DialOptions{
		HTTPClient: NewLoopbackHTTPClient(0),
		HTTPHeader: header,
	})
	return conn, err
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
