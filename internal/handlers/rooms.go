package handlers

import (
	"sync"

	"chat-sync/internal/protocol"
	"chat-sync/internal/utils"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RoomManager struct {
	// roomID -> connectionID -> *websocket.Conn
	rooms map[string]map[string]*websocket.Conn
	mu    sync.RWMutex
	// connID -> metadata (includes connection reference)
	connMeta map[string]ConnMeta
	logger   zerolog.Logger
}

var Manager = &RoomManager{
	rooms:    make(map[string]map[string]*websocket.Conn),
	connMeta: make(map[string]ConnMeta),
	logger:   log.Logger,
}

type ConnMeta struct {
	UserID   int
	Username string
	Conn     *websocket.Conn
}

func (m *RoomManager) Join(room string, connID string, c *websocket.Conn, userID int, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room]; !ok {
		m.rooms[room] = make(map[string]*websocket.Conn)
	}
	m.rooms[room][connID] = c
	m.connMeta[connID] = ConnMeta{UserID: userID, Username: username, Conn: c}
}

func (m *RoomManager) Leave(room string, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room]; ok {
		delete(m.rooms[room], connID)
		if len(m.rooms[room]) == 0 {
			delete(m.rooms, room)
		}
	}
}

// Broadcast fans an envelope out to every connection in the room, except the
// excluded one. Writes go out under the read lock; the manager is the only
// writer per connection so this serializes correctly.
func (m *RoomManager) Broadcast(room string, env *protocol.Envelope, excludeConnID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if connections, ok := m.rooms[room]; ok {
		for id, conn := range connections {
			if id == excludeConnID {
				continue
			}
			if err := utils.SendJSON(conn, env); err != nil {
				m.logger.Warn().Err(err).Str("room", room).Msg("broadcast write failed")
				// Let the connection's read loop handle the disconnect.
			}
		}
	}
}

// IsUserOnline checks if any active connection belongs to the given user
func (m *RoomManager) IsUserOnline(userID int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, meta := range m.connMeta {
		if meta.UserID == userID {
			return true
		}
	}
	return false
}

// RegisterConnection stores metadata for a new websocket connection.
// Returns true if this is the first connection for this user.
func (m *RoomManager) RegisterConnection(connID string, userID int, username string, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOnline := false
	for _, meta := range m.connMeta {
		if meta.UserID == userID {
			wasOnline = true
			break
		}
	}

	m.connMeta[connID] = ConnMeta{UserID: userID, Username: username, Conn: conn}
	return !wasOnline
}

// UnregisterConnection removes metadata and removes the connection from any
// rooms. Returns true if this was the user's last connection.
func (m *RoomManager) UnregisterConnection(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, exists := m.connMeta[connID]
	if !exists {
		return false
	}
	userID := meta.UserID

	for room, conns := range m.rooms {
		if _, ok := conns[connID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.rooms, room)
			}
		}
	}

	delete(m.connMeta, connID)

	for _, other := range m.connMeta {
		if other.UserID == userID {
			return false
		}
	}
	return true
}

// SendToUser sends an envelope to all connections of a specific user.
func (m *RoomManager) SendToUser(userID int, env *protocol.Envelope) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, meta := range m.connMeta {
		if meta.UserID == userID && meta.Conn != nil {
			if err := utils.SendJSON(meta.Conn, env); err != nil {
				m.logger.Warn().Err(err).Int("user_id", userID).Msg("user write failed")
			}
		}
	}
}

// SendToUsers sends an envelope to all connections of multiple users.
func (m *RoomManager) SendToUsers(userIDs []int, env *protocol.Envelope) {
	for _, userID := range userIDs {
		m.SendToUser(userID, env)
	}
}

// IsUserInRoom checks if a user is currently in a specific room
func (m *RoomManager) IsUserInRoom(userID int, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roomConns, ok := m.rooms[roomID]
	if !ok {
		return false
	}

	for connID := range roomConns {
		if meta, ok := m.connMeta[connID]; ok && meta.UserID == userID {
			return true
		}
	}
	return false
}
