package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/blitz/go/internal/auth"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the WebSocket connections of this instance. Each
// connection belongs to at most one room; the manager keeps the relay
// subscribed to exactly the rooms that have local connections.
type ConnectionManager struct {
	// Connection pools organized by room ID
	roomConnections map[string]map[*Connection]bool
	connections     map[*Connection]bool
	// Highest event version delivered per room
	lastVersion map[string]int64
	mu          sync.RWMutex

	// Serializes bus subscribe/unsubscribe against pool changes
	subMu sync.Mutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	bus      relay.Bus
	handler  *Dispatcher
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	Identity auth.Identity
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// RoomID is guarded by Manager.mu
	RoomID string
	closed bool

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	RequestTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		RequestTimeout:  5 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager fed by bus. Frames read
// from clients are handed to handler.
func NewConnectionManager(config ConnectionConfig, bus relay.Bus, handler *Dispatcher) *ConnectionManager {
	defaults := DefaultConnectionConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		connections:     make(map[*Connection]bool),
		lastVersion:     make(map[string]int64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		bus:     bus,
		handler: handler,
	}
}

// Start consumes relayed events until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	events := cm.bus.Events()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case evt, ok := <-events:
			if !ok {
				log.Warn().Msg("relay event channel closed")
				cm.closeAll()
				return
			}
			cm.handleEvent(evt)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket for identity
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity auth.Identity) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user", identity.Name()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true
}

// unregisterConnection removes conn and closes its send channel. It reports
// the room conn was in, and whether this call did the removal.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.connections[conn] {
		return "", false
	}
	delete(cm.connections, conn)
	conn.closed = true
	close(conn.Send)

	roomID := conn.RoomID
	cm.removeFromRoomLocked(conn, roomID)
	conn.RoomID = ""
	log.Info().
		Str("connection_id", conn.ID).
		Str("user", conn.Identity.Name()).
		Str("room_id", roomID).
		Msg("connection unregistered")
	return roomID, true
}

// disconnect tears conn down once and releases its room membership.
func (cm *ConnectionManager) disconnect(conn *Connection) {
	roomID, removed := cm.unregisterConnection(conn)
	if !removed {
		return
	}
	_ = conn.Conn.Close()
	if roomID == "" {
		return
	}
	cm.detach(conn, roomID)
	if cm.handler != nil {
		cm.handler.connectionClosed(conn, roomID)
	}
}

// attach moves conn into roomID's pool, subscribing the relay when conn is
// the first local connection for the room. It returns the room conn was in
// before, if any.
func (cm *ConnectionManager) attach(ctx context.Context, conn *Connection, roomID string) (string, error) {
	cm.subMu.Lock()
	defer cm.subMu.Unlock()

	cm.mu.Lock()
	previous := conn.RoomID
	if previous == roomID {
		cm.mu.Unlock()
		return previous, nil
	}
	if conn.closed {
		cm.mu.Unlock()
		return previous, fmt.Errorf("connection %s is closed", conn.ID)
	}
	cm.removeFromRoomLocked(conn, previous)
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.RoomID = roomID
	first := len(cm.roomConnections[roomID]) == 1
	previousEmpty := previous != "" && len(cm.roomConnections[previous]) == 0
	cm.mu.Unlock()

	if previousEmpty {
		cm.unsubscribe(ctx, previous)
	}
	if first {
		if err := cm.bus.Subscribe(ctx, roomID); err != nil {
			cm.mu.Lock()
			cm.removeFromRoomLocked(conn, roomID)
			conn.RoomID = ""
			cm.mu.Unlock()
			return previous, fmt.Errorf("failed to subscribe to room %s: %w", roomID, err)
		}
	}
	return previous, nil
}

// detach removes conn from roomID's pool, unsubscribing the relay when the
// pool is empty. It is safe to call after conn has already left the pool.
func (cm *ConnectionManager) detach(conn *Connection, roomID string) {
	cm.subMu.Lock()
	defer cm.subMu.Unlock()

	cm.mu.Lock()
	cm.removeFromRoomLocked(conn, roomID)
	if conn.RoomID == roomID {
		conn.RoomID = ""
	}
	empty := len(cm.roomConnections[roomID]) == 0
	cm.mu.Unlock()

	if empty {
		ctx, cancel := context.WithTimeout(context.Background(), cm.config.RequestTimeout)
		defer cancel()
		cm.unsubscribe(ctx, roomID)
	}
}

func (cm *ConnectionManager) removeFromRoomLocked(conn *Connection, roomID string) {
	if roomID == "" {
		return
	}
	connections, exists := cm.roomConnections[roomID]
	if !exists {
		return
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.roomConnections, roomID)
		delete(cm.lastVersion, roomID)
	}
}

func (cm *ConnectionManager) unsubscribe(ctx context.Context, roomID string) {
	if err := cm.bus.Unsubscribe(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to unsubscribe from room")
	}
}

// roomOf returns the room conn is currently in.
func (cm *ConnectionManager) roomOf(conn *Connection) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return conn.RoomID
}

// handleEvent delivers a relayed event to the room's local connections.
// Events older than the last one delivered for the room are dropped.
func (cm *ConnectionManager) handleEvent(evt *relay.Event) {
	out, err := translate(evt)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", evt.RoomID).
			Str("event_type", string(evt.EventType)).
			Msg("failed to translate room event")
		return
	}

	var slow []*Connection

	cm.mu.Lock()
	connections, exists := cm.roomConnections[evt.RoomID]
	if !exists {
		cm.mu.Unlock()
		return
	}
	if last, seen := cm.lastVersion[evt.RoomID]; seen && evt.Version < last {
		cm.mu.Unlock()
		log.Debug().
			Str("room_id", evt.RoomID).
			Int64("version", evt.Version).
			Int64("last_version", last).
			Msg("dropping stale room event")
		return
	}
	cm.lastVersion[evt.RoomID] = evt.Version

	delivered := 0
	for conn := range connections {
		if out.Exclude != "" && conn.Identity.Name() == out.Exclude {
			continue
		}
		select {
		case conn.Send <- out.Frame:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.Unlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user", conn.Identity.Name()).
			Msg("connection send buffer full, closing connection")
		go cm.disconnect(conn)
	}

	log.Debug().
		Str("event_type", string(evt.EventType)).
		Str("room_id", evt.RoomID).
		Int64("version", evt.Version).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// sendTo queues a frame for a single connection. It reports false when the
// connection is closed or its buffer is full.
func (cm *ConnectionManager) sendTo(conn *Connection, frame []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if conn.closed {
		return false
	}
	select {
	case conn.Send <- frame:
		return true
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("connection send buffer full, dropping reply")
		return false
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	connections := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		connections = append(connections, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range connections {
		cm.disconnect(conn)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int, len(cm.roomConnections))
	for roomID, connections := range cm.roomConnections {
		roomCounts[roomID] = len(connections)
	}

	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Manager.disconnect(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames in order and hands them to the dispatcher
func (c *Connection) readPump() {
	defer c.Manager.disconnect(c)

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if c.Manager.handler != nil {
			c.Manager.handler.handleClientMessage(c, message)
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
