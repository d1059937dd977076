package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// writeTimeout bounds a single WebSocket send so one stuck overlay
// cannot stall the broadcast fan-out.
const writeTimeout = 5 * time.Second

// clientMessage is what overlay windows send us: subscription control.
type clientMessage struct {
	Type    string `json:"type"` // "subscribe" | "unsubscribe"
	Channel string `json:"channel"`
}

// envelope wraps every broadcast payload with its channel name.
type envelope struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// connection is a single overlay window.
//
// subscriptions is accessed without a lock: all reads and writes happen
// on the goroutine that owns the connection (handleConnection's read
// loop and its deferred cleanup).
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// Server fans typed payloads out to subscribed overlay windows. It
// implements Sink, so producers need no knowledge of WebSockets.
type Server struct {
	mu          sync.RWMutex
	connections map[string]*connection
	channels    map[string]map[string]bool // channel → set of connection ids

	// OnConnections, when set, observes the connection count after
	// every register/unregister (feeds the metrics gauge).
	OnConnections func(n int)
}

// NewServer creates an empty broadcast server.
func NewServer() *Server {
	return &Server{
		connections: make(map[string]*connection),
		channels:    make(map[string]map[string]bool),
	}
}

// Register mounts the WebSocket endpoint on a gin router.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/overlay/ws", func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			// The daemon only listens on loopback; overlay windows load
			// from app-local origins that never match the Host header.
			InsecureSkipVerify: true,
		})
		if err != nil {
			slog.Warn("Overlay WebSocket accept failed", "error", err)
			return
		}
		s.handleConnection(c.Request.Context(), conn)
	})
}

// Send implements Sink by broadcasting to the channel's subscribers.
func (s *Server) Send(channel string, payload any) {
	data, err := json.Marshal(envelope{Channel: channel, Payload: payload})
	if err != nil {
		slog.Error("Overlay payload marshal failed", "channel", channel, "error", err)
		return
	}
	s.broadcast(channel, data)
}

// handleConnection blocks until the overlay window disconnects.
func (s *Server) handleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
	s.register(c)
	defer s.unregister(c)

	s.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid overlay message", "connection_id", c.id, "error", err)
			continue
		}
		s.handleClientMessage(c, &msg)
	}
}

func (s *Server) handleClientMessage(c *connection, msg *clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Channel] = true
		s.mu.Lock()
		if s.channels[msg.Channel] == nil {
			s.channels[msg.Channel] = make(map[string]bool)
		}
		s.channels[msg.Channel][c.id] = true
		s.mu.Unlock()
		s.sendJSON(c, map[string]string{"type": "subscribed", "channel": msg.Channel})
	case "unsubscribe":
		delete(c.subscriptions, msg.Channel)
		s.removeFromChannel(msg.Channel, c.id)
	default:
		slog.Warn("Unknown overlay message type", "type", msg.Type)
	}
}

func (s *Server) broadcast(channel string, data []byte) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.channels[channel]))
	for id := range s.channels[channel] {
		ids = append(ids, id)
	}
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	// Send outside the lock; a slow window only stalls its own write.
	for _, c := range conns {
		s.write(c, data)
	}
}

func (s *Server) write(c *connection, data []byte) {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Overlay write failed, dropping connection", "connection_id", c.id)
		c.cancel()
	}
}

func (s *Server) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.write(c, data)
}

func (s *Server) register(c *connection) {
	s.mu.Lock()
	s.connections[c.id] = c
	n := len(s.connections)
	s.mu.Unlock()
	slog.Info("Overlay connected", "connection_id", c.id)
	if s.OnConnections != nil {
		s.OnConnections(n)
	}
}

func (s *Server) unregister(c *connection) {
	c.cancel()
	s.mu.Lock()
	delete(s.connections, c.id)
	for ch := range c.subscriptions {
		if set := s.channels[ch]; set != nil {
			delete(set, c.id)
			if len(set) == 0 {
				delete(s.channels, ch)
			}
		}
	}
	n := len(s.connections)
	s.mu.Unlock()
	slog.Info("Overlay disconnected", "connection_id", c.id)
	if s.OnConnections != nil {
		s.OnConnections(n)
	}
}

func (s *Server) removeFromChannel(channel, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.channels[channel]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.channels, channel)
		}
	}
}

// ConnectionCount returns the number of attached overlay windows.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
