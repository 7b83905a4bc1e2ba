// Package hub provides connection and room management for WebSocket clients.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/ratelimit"
	"github.com/xiaot623/gogo/realtime/internal/relay"
)

// Connection represents a single authenticated WebSocket connection.
type Connection struct {
	ID        string
	Principal domain.Principal
	Conn      *websocket.Conn
	Send      chan []byte
	// Window is the connection's rate-limit state.
	Window ratelimit.Window

	rooms map[string]bool // guarded by hub.mu
	hub   *Hub
	mu    sync.Mutex
}

// Hub manages all connections and the rooms they have joined.
type Hub struct {
	node   string
	logger *zap.Logger
	relay  relay.Relay

	// Connections indexed by connection ID
	connections map[string]*Connection

	// principals maps principal id to set of connection IDs
	principals map[string]map[string]bool

	// rooms maps room id to set of connection IDs
	rooms map[string]map[string]bool

	// Broadcast channel drained by Run; its order is the delivery order.
	broadcast chan *RoomMessage

	events      atomic.Int64
	rateLimited atomic.Int64

	mu sync.RWMutex
}

// RoomMessage is used to broadcast a message to a room.
type RoomMessage struct {
	Room    string
	Data    []byte
	Exclude string
}

// Option configures a Hub.
type Option func(*Hub)

// WithRelay publishes every local broadcast through r.
func WithRelay(r relay.Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// WithNodeID sets the id used to recognise this process's own envelopes.
func WithNodeID(id string) Option {
	return func(h *Hub) { h.node = id }
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		node:        uuid.New().String(),
		logger:      logger,
		connections: make(map[string]*Connection),
		principals:  make(map[string]map[string]bool),
		rooms:       make(map[string]map[string]bool),
		broadcast:   make(chan *RoomMessage, 256),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Node returns this hub's node id.
func (h *Hub) Node() string { return h.node }

// Run starts the hub's main loop. It also consumes the relay when one is set.
func (h *Hub) Run(ctx context.Context) {
	if h.relay != nil {
		go func() {
			if err := h.relay.Subscribe(ctx, h.deliverRemote); err != nil {
				h.logger.Error("relay subscription ended", zap.Error(err))
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) dispatch(msg *RoomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.rooms[msg.Room] {
		if connID == msg.Exclude {
			continue
		}
		conn, exists := h.connections[connID]
		if !exists {
			continue
		}
		select {
		case conn.Send <- msg.Data:
		default:
			// Buffer full, close the connection
			h.logger.Warn("connection buffer full, closing", zap.String("conn_id", connID))
			go h.evict(conn)
		}
	}
}

// evict closes the socket so the read loop runs the normal disconnect path.
func (h *Hub) evict(conn *Connection) {
	if conn.Conn != nil {
		_ = conn.Close()
		return
	}
	h.Unregister(conn)
}

func (h *Hub) deliverRemote(env relay.Envelope) {
	if env.Node == h.node {
		return
	}
	h.broadcast <- &RoomMessage{Room: env.Room, Data: env.Data, Exclude: env.Exclude}
}

// NewConnection creates a connection for an authenticated principal. It is
// not reachable by broadcasts until registered.
func (h *Hub) NewConnection(ws *websocket.Conn, principal domain.Principal) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		Principal: principal,
		Conn:      ws,
		Send:      make(chan []byte, 256),
		rooms:     make(map[string]bool),
		hub:       h,
	}
}

// Register adds conn to the hub and joins it to its principal's personal
// room. It reports whether this is the principal's first live connection.
func (h *Hub) Register(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn.ID] = conn
	pid := conn.Principal.ID
	first := len(h.principals[pid]) == 0
	if h.principals[pid] == nil {
		h.principals[pid] = make(map[string]bool)
	}
	h.principals[pid][conn.ID] = true
	h.joinLocked(conn, UserRoom(pid))

	h.logger.Debug("connection registered",
		zap.String("conn_id", conn.ID),
		zap.String("principal_id", pid),
		zap.String("role", string(conn.Principal.Role)))
	return first
}

// Unregister removes conn from every room and closes its send channel. It
// reports whether the principal has no live connections left. Repeated
// calls are no-ops returning false.
func (h *Hub) Unregister(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; !ok {
		return false
	}
	delete(h.connections, conn.ID)
	for room := range conn.rooms {
		h.leaveLocked(conn, room)
	}

	pid := conn.Principal.ID
	last := false
	if h.principals[pid] != nil {
		delete(h.principals[pid], conn.ID)
		if len(h.principals[pid]) == 0 {
			delete(h.principals, pid)
			last = true
		}
	}
	close(conn.Send)

	h.logger.Debug("connection unregistered", zap.String("conn_id", conn.ID), zap.Bool("last", last))
	return last
}

// Join subscribes conn to room. Authorization is the caller's job.
func (h *Hub) Join(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	h.joinLocked(conn, room)
}

// JoinPrincipal subscribes every live connection of principalID to room and
// returns how many were joined.
func (h *Hub) JoinPrincipal(principalID, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for connID := range h.principals[principalID] {
		if conn, ok := h.connections[connID]; ok {
			h.joinLocked(conn, room)
			n++
		}
	}
	return n
}

// Leave unsubscribes conn from room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn, room)
}

func (h *Hub) joinLocked(conn *Connection, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][conn.ID] = true
	conn.rooms[room] = true
}

func (h *Hub) leaveLocked(conn *Connection, room string) {
	delete(conn.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom reports whether conn has joined room.
func (h *Hub) InRoom(conn *Connection, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return conn.rooms[room]
}

// Broadcast queues data for every connection in room except exclude.
// Messages are delivered in the order Broadcast is called.
func (h *Hub) Broadcast(room string, data []byte, exclude *Connection) {
	msg := &RoomMessage{Room: room, Data: data}
	if exclude != nil {
		msg.Exclude = exclude.ID
	}
	h.broadcast <- msg

	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := h.relay.Publish(ctx, relay.Envelope{Node: h.node, Room: room, Exclude: msg.Exclude, Data: data})
		if err != nil {
			h.logger.Warn("relay publish failed", zap.String("room", room), zap.Error(err))
		}
	}
}

// BroadcastJSON sends a JSON message to every connection in room except exclude.
func (h *Hub) BroadcastJSON(room string, v interface{}, exclude *Connection) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(room, data, exclude)
	return nil
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// IsOnline reports whether principalID has any live connection.
func (h *Hub) IsOnline(principalID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.principals[principalID]) > 0
}

// CountEvent records one processed inbound event.
func (h *Hub) CountEvent() { h.events.Add(1) }

// CountRateLimited records one event rejected by the rate limiter.
func (h *Hub) CountRateLimited() { h.rateLimited.Add(1) }

// Stats is a snapshot of hub counters.
type Stats struct {
	Connections   int            `json:"connections"`
	Principals    int            `json:"principals"`
	Rooms         int            `json:"rooms"`
	RoomsByKind   map[string]int `json:"rooms_by_kind"`
	Events        int64          `json:"events"`
	RateLimited   int64          `json:"rate_limited"`
	PendingOutbox int            `json:"pending_broadcasts"`
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byKind := make(map[string]int)
	for room := range h.rooms {
		byKind[RoomKind(room)]++
	}
	return Stats{
		Connections:   len(h.connections),
		Principals:    len(h.principals),
		Rooms:         len(h.rooms),
		RoomsByKind:   byKind,
		Events:        h.events.Load(),
		RateLimited:   h.rateLimited.Load(),
		PendingOutbox: len(h.broadcast),
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrConnectionClosed is returned when sending to an unregistered connection.
var ErrConnectionClosed = &ConnectionClosedError{}

// ConnectionClosedError represents a send after unregister.
type ConnectionClosedError struct{}

func (e *ConnectionClosedError) Error() string {
	return "connection closed"
}
