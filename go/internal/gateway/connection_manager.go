package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/trivia/go/internal/backend"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/mcdev12/trivia/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// Leaver removes a player from a room.
type Leaver interface {
	LeaveRoom(ctx context.Context, code, username string) (*backend.LeaveRoomResult, error)
}

// ConnectionManager manages WebSocket connections grouped by room code.
type ConnectionManager struct {
	relay    relay.Relay
	leaver   Leaver
	clock    clockwork.Clock
	config   ConnectionConfig
	upgrader websocket.Upgrader

	mu            sync.RWMutex
	rooms         map[string]map[*Connection]bool
	presence      map[member]int
	pendingLeaves map[member]clockwork.Timer
	closed        bool
}

// member is one player of one room.
type member struct {
	room     string
	username string
}

// Connection is one WebSocket client.
type Connection struct {
	ID          string
	Room        string
	Username    string
	ConnectedAt time.Time

	conn    *websocket.Conn
	manager *ConnectionManager
	send    chan []byte

	mu     sync.Mutex
	subs   map[string]relay.Handle
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	// LeaveGrace is how long a player may stay disconnected before the
	// gateway removes them from their room.
	LeaveGrace  time.Duration
	CheckOrigin func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		LeaveGrace:      15 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Option configures a ConnectionManager.
type Option func(*ConnectionManager)

// WithClock sets the clock used for leave grace timers.
func WithClock(c clockwork.Clock) Option {
	return func(cm *ConnectionManager) { cm.clock = c }
}

// WithLeaver enables leave-on-disconnect through l.
func WithLeaver(l Leaver) Option {
	return func(cm *ConnectionManager) { cm.leaver = l }
}

// NewConnectionManager creates a manager whose connections subscribe
// through r.
func NewConnectionManager(r relay.Relay, config ConnectionConfig, opts ...Option) *ConnectionManager {
	cm := &ConnectionManager{
		relay: r,
		clock: clockwork.NewRealClock(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:        config,
		rooms:         make(map[string]map[*Connection]bool),
		presence:      make(map[member]int),
		pendingLeaves: make(map[member]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection for
// room. An empty username marks a watcher that is never removed from the
// room.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, room, username string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Room:        room,
		Username:    username,
		ConnectedAt: cm.clock.Now(),
		conn:        conn,
		manager:     cm,
		send:        make(chan []byte, cm.config.SendBuffer),
		subs:        make(map[string]relay.Handle),
	}
	if err := cm.registerConnection(c); err != nil {
		_ = conn.Close()
		return err
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("room_code", room).
		Str("username", username).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.closed {
		return fmt.Errorf("connection manager closed")
	}

	if cm.rooms[c.Room] == nil {
		cm.rooms[c.Room] = make(map[*Connection]bool)
	}
	cm.rooms[c.Room][c] = true

	if c.Username != "" {
		key := member{room: c.Room, username: c.Username}
		cm.presence[key]++
		if timer, ok := cm.pendingLeaves[key]; ok {
			timer.Stop()
			delete(cm.pendingLeaves, key)
			log.Info().
				Str("room_code", c.Room).
				Str("username", c.Username).
				Msg("player reconnected within grace period")
		}
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("room_code", c.Room).
		Int("room_connections", len(cm.rooms[c.Room])).
		Msg("connection registered")
	return nil
}

func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	conns, ok := cm.rooms[c.Room]
	if !ok || !conns[c] {
		cm.mu.Unlock()
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(cm.rooms, c.Room)
	}

	leave := false
	key := member{room: c.Room, username: c.Username}
	if c.Username != "" {
		cm.presence[key]--
		if cm.presence[key] <= 0 {
			delete(cm.presence, key)
			leave = !cm.closed
		}
	}
	if leave && cm.leaver != nil {
		if timer, ok := cm.pendingLeaves[key]; ok {
			timer.Stop()
		}
		cm.pendingLeaves[key] = cm.clock.AfterFunc(cm.config.LeaveGrace, func() { cm.leave(key) })
	}
	cm.mu.Unlock()

	c.close()

	log.Info().
		Str("connection_id", c.ID).
		Str("room_code", c.Room).
		Str("username", c.Username).
		Bool("leave_scheduled", leave && cm.leaver != nil).
		Msg("connection unregistered")
}

// leave removes a player whose connections stayed closed for the grace
// period.
func (cm *ConnectionManager) leave(key member) {
	cm.mu.Lock()
	if cm.presence[key] > 0 || cm.closed {
		cm.mu.Unlock()
		return
	}
	delete(cm.pendingLeaves, key)
	cm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := cm.leaver.LeaveRoom(ctx, key.room, key.username)
	if err != nil {
		log.Error().Err(err).Str("room_code", key.room).Str("username", key.username).Msg("leave after disconnect failed")
		return
	}
	log.Info().
		Str("room_code", key.room).
		Str("username", key.username).
		Bool("room_deleted", res.RoomDeleted).
		Msg("player left after disconnect")
}

// Stats describes the active connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
	PendingLeaves    int            `json:"pending_leaves"`
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	s := Stats{
		ActiveRooms:     len(cm.rooms),
		RoomConnections: make(map[string]int, len(cm.rooms)),
		PendingLeaves:   len(cm.pendingLeaves),
	}
	for room, conns := range cm.rooms {
		s.TotalConnections += len(conns)
		s.RoomConnections[room] = len(conns)
	}
	return s
}

// Close drops every connection and cancels pending leaves.
func (cm *ConnectionManager) Close() {
	cm.mu.Lock()
	cm.closed = true
	for key, timer := range cm.pendingLeaves {
		timer.Stop()
		delete(cm.pendingLeaves, key)
	}
	var conns []*Connection
	for _, set := range cm.rooms {
		for c := range set {
			conns = append(conns, c)
		}
	}
	cm.mu.Unlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
	}
}

// enqueue queues a frame for the write pump. A full buffer means the
// client cannot keep up, so the connection is dropped.
func (c *Connection) enqueue(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()

	log.Warn().
		Str("connection_id", c.ID).
		Str("username", c.Username).
		Msg("connection send buffer full, closing connection")
	c.manager.unregisterConnection(c)
}

// close stops the connection's subscriptions and its write pump.
func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for id, h := range subs {
		if err := c.manager.relay.Unsubscribe(h); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Str("subscription", id).Msg("unsubscribe on close")
		}
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles frames from the client until the connection fails.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.handleClientMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.enqueue(ServerFrame{Type: FrameError, Error: "malformed frame"})
		return
	}
	if frame.ID == "" {
		c.enqueue(ServerFrame{Type: FrameError, Error: "frame id is required"})
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		c.subscribe(frame)
	case FrameUnsubscribe:
		c.unsubscribe(frame.ID)
	default:
		c.enqueue(ServerFrame{Type: FrameError, ID: frame.ID, Error: fmt.Sprintf("unknown frame type %q", frame.Type)})
	}
}

func (c *Connection) subscribe(frame ClientFrame) {
	if frame.Filter == nil {
		c.enqueue(ServerFrame{Type: FrameError, ID: frame.ID, Error: "filter is required"})
		return
	}
	if err := frame.Filter.Validate(); err != nil {
		c.enqueue(ServerFrame{Type: FrameError, ID: frame.ID, Error: err.Error()})
		return
	}

	c.mu.Lock()
	_, dup := c.subs[frame.ID]
	c.mu.Unlock()
	if dup {
		c.enqueue(ServerFrame{Type: FrameError, ID: frame.ID, Error: "subscription id already in use"})
		return
	}

	id := frame.ID
	h, err := c.manager.relay.Subscribe(context.Background(), *frame.Filter, func(ch models.Change) {
		c.enqueue(ServerFrame{Type: FrameChange, ID: id, Change: &ch})
	})
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Str("filter", frame.Filter.Key()).Msg("relay subscribe failed")
		c.enqueue(ServerFrame{Type: FrameError, ID: id, Error: "subscribe failed"})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.manager.relay.Unsubscribe(h)
		return
	}
	c.subs[id] = h
	c.mu.Unlock()

	log.Debug().Str("connection_id", c.ID).Str("subscription", id).Str("filter", frame.Filter.Key()).Msg("subscribed")
	c.enqueue(ServerFrame{Type: FrameSubscribed, ID: id})
}

func (c *Connection) unsubscribe(id string) {
	c.mu.Lock()
	h, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if !ok {
		c.enqueue(ServerFrame{Type: FrameError, ID: id, Error: "unknown subscription"})
		return
	}
	if err := c.manager.relay.Unsubscribe(h); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Str("subscription", id).Msg("relay unsubscribe failed")
	}
	c.enqueue(ServerFrame{Type: FrameUnsubscribed, ID: id})
}
