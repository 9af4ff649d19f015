package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parkgate/backend/services/gate-service/internal/metrics"
)

const deviceKeyHeader = "X-Device-Key"

// Direction is the lane a reader is mounted on.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// ParseDirection accepts "entry" or "exit" in any case.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case DirectionEntry:
		return DirectionEntry, nil
	case DirectionExit:
		return DirectionExit, nil
	}
	return "", fmt.Errorf("scanner: unknown direction %q", raw)
}

// Gate identifies a connected reader.
type Gate struct {
	ID        string    `json:"gate_id"`
	Direction Direction `json:"direction"`
}

// Reply is written back to the reader after each accepted scan.
type Reply struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Processor turns one scan into a lifecycle transition.
type Processor interface {
	Process(ctx context.Context, gate Gate, text string) Reply
}

// FeedOptions tunes the websocket feed.
type FeedOptions struct {
	Debounce     time.Duration
	WriteTimeout time.Duration
}

// Server upgrades reader connections and runs one scan task per gate.
type Server struct {
	manager   *Manager
	processor Processor
	keys      *DeviceKeys
	opts      FeedOptions
	metrics   *metrics.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewServer builds the feed server.
func NewServer(manager *Manager, processor Processor, keys *DeviceKeys, opts FeedOptions, m *metrics.Metrics, logger *zap.Logger) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Server{
		manager:   manager,
		processor: processor,
		keys:      keys,
		opts:      opts,
		metrics:   m,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for /ws/scanner.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	gateID := strings.TrimSpace(r.URL.Query().Get("gate_id"))
	if gateID == "" {
		http.Error(w, "gate_id is required", http.StatusBadRequest)
		return
	}
	direction, err := ParseDirection(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, "mode must be entry or exit", http.StatusBadRequest)
		return
	}
	key := r.Header.Get(deviceKeyHeader)
	if key == "" {
		key = r.URL.Query().Get("device_key")
	}
	if err := s.keys.Verify(key); err != nil {
		s.logger.Warn("scanner refused", zap.String("gate_id", gateID), zap.Error(err))
		http.Error(w, "invalid device key", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	gate := Gate{ID: gateID, Direction: direction}
	conn := newConnection(gate, ws, s.opts.WriteTimeout, s.logger)
	if previous := s.manager.Add(conn); previous != nil {
		s.logger.Info("gate reconnected, dropping previous feed", zap.String("gate_id", gateID))
		previous.Close()
	}
	go conn.writePump()
	go conn.readPump()

	handle := Start(context.Background(), conn, func(ctx context.Context, text string) {
		reply := s.processor.Process(ctx, gate, text)
		if !reply.Success {
			s.metrics.Scan(string(direction), reply.Code)
		}
		conn.SendJSON(reply)
	},
		WithDebounce(s.opts.Debounce),
		WithLogger(s.logger),
		WithMetrics(s.metrics, string(direction)),
	)
	go func() {
		<-handle.Done()
		conn.Close()
		s.manager.Remove(conn)
		s.logger.Info("gate disconnected", zap.String("gate_id", gateID))
	}()
	s.logger.Info("gate connected", zap.String("gate_id", gateID), zap.String("direction", string(direction)))
}

// Connection is one reader's websocket. It is the Source of that reader's scan task.
type Connection struct {
	gate         Gate
	ws           *websocket.Conn
	reads        chan string
	send         chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *zap.Logger
}

func newConnection(gate Gate, ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	return &Connection{
		gate:         gate,
		ws:           ws,
		reads:        make(chan string, 16),
		send:         make(chan []byte, 16),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Gate returns the reader's identity.
func (c *Connection) Gate() Gate {
	return c.gate
}

// Next implements Source.
func (c *Connection) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-c.reads:
		if !ok {
			return "", ErrSourceClosed
		}
		return text, nil
	}
}

func (c *Connection) readPump() {
	defer close(c.reads)
	c.ws.SetReadLimit(64 * 1024)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		kind, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("scanner read closed", zap.String("gate_id", c.gate.ID), zap.Error(err))
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case c.reads <- string(message):
		case <-c.closed:
			return
		default:
			c.logger.Warn("dropping scan, reader is busy", zap.String("gate_id", c.gate.ID))
		}
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeTimeout))
			_ = c.ws.Close()
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("scanner write failed", zap.String("gate_id", c.gate.ID), zap.Error(err))
				c.Close()
			}
		}
	}
}

// SendJSON enqueues a reply for writing.
func (c *Connection) SendJSON(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encode scanner reply", zap.Error(err))
		return
	}
	select {
	case c.send <- msg:
	case <-c.closed:
	default:
		c.logger.Warn("dropping outgoing reply, buffer full", zap.String("gate_id", c.gate.ID))
	}
}

// Ping sends a keepalive.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// Close ends the connection; the scan task stops once the read side drains.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		// Unblock ReadMessage; writePump sends the close frame.
		_ = c.ws.SetReadDeadline(time.Now())
	})
}

// Manager tracks one feed per gate.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
}

// NewManager builds connection manager.
func NewManager(pingInterval time.Duration) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
	}
}

// Add registers conn and returns the feed it replaces, if any.
func (m *Manager) Add(conn *Connection) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.connections[conn.gate.ID]
	m.connections[conn.gate.ID] = conn
	return previous
}

// Remove drops conn unless it has already been replaced.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[conn.gate.ID] == conn {
		delete(m.connections, conn.gate.ID)
	}
}

// Gates lists connected readers.
func (m *Manager) Gates() []Gate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gates := make([]Gate, 0, len(m.connections))
	for _, c := range m.connections {
		gates = append(gates, c.gate)
	}
	return gates
}

// Start pings every reader until ctx is done, then closes them all.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.mu.RLock()
			for _, conn := range m.connections {
				_ = conn.Ping()
			}
			m.mu.RUnlock()
		}
	}
}

// CloseAll ends every connected feed.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.connections {
		conn.Close()
	}
}
