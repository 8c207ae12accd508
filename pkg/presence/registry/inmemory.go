package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sachkumarathunga/LinkMate/pkg/presence"
)

// InMemoryManager is the single-process implementation of presence.Manager.
// Connection sets are maps keyed by connection id, so re-registering the
// same pair can never create a duplicate entry.
type InMemoryManager struct {
	conns map[uuid.UUID]*presence.Connection
	users map[string]*presence.User
	rooms map[string]*presence.Room

	connMu sync.RWMutex
	userMu sync.RWMutex
	roomMu sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*presence.Connection),
		users:  make(map[string]*presence.User),
		rooms:  make(map[string]*presence.Room),
		logger: logger.With(slog.String("component", "presence_registry")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ presence.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn presence.Transport, ipAddr string) (*presence.Connection, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &presence.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.connMu.Lock()
	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		m.connMu.Unlock()
		return nil
	}
	delete(m.conns, connID)
	m.connMu.Unlock()

	// detach conn from its user; drop the user entry once no connections
	// remain, which is what marks the user offline.
	if conn.User != nil {
		m.userMu.Lock()
		user := conn.User
		delete(user.Connections, connID)
		if len(user.Connections) == 0 {
			delete(m.users, user.ID)
			m.logger.Debug("User went offline", slog.String("userID", user.ID))
		}
		m.userMu.Unlock()
	}

	// purge the connection from every room it joined so stale subscriptions
	// can't accumulate.
	m.roomMu.Lock()
	for roomID, room := range m.rooms {
		if _, member := room.Members[connID]; !member {
			continue
		}
		delete(room.Members, connID)
		if len(room.Members) == 0 {
			delete(m.rooms, roomID)
			m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
		}
	}
	m.roomMu.Unlock()

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*presence.Connection, bool) {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*presence.Connection, bool) {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldestConn *presence.Connection
	var oldestTime time.Time

	for _, conn := range user.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestTime) {
			oldestConn = conn
			oldestTime = conn.CreatedAt
		}
	}

	if oldestConn == nil {
		return nil, false // User has no connections.
	}
	return oldestConn, true
}

// --- User Attribution ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID string) (*presence.User, error) {
	if userID == "" {
		return nil, errors.New("cannot associate connection with empty user id")
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()
	m.userMu.Lock()
	defer m.userMu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, errors.New("cannot associate user with unknown connection")
	}

	// A connection id lives under at most one user. A repeated setup for a
	// different identity moves the connection rather than duplicating it.
	if prev := conn.User; prev != nil && prev.ID != userID {
		delete(prev.Connections, connID)
		if len(prev.Connections) == 0 {
			delete(m.users, prev.ID)
		}
	}

	// Find or create the user entry.
	user, exists := m.users[userID]
	if !exists {
		user = &presence.User{
			ID:          userID,
			Connections: make(map[uuid.UUID]*presence.Connection),
		}
		m.users[userID] = user
		m.logger.Debug("User came online", slog.String("userID", userID))
	}

	conn.User = user
	user.Connections[connID] = conn

	m.logger.Debug("Associated connection with user", slog.String("connID", connID.String()), slog.String("userID", userID))
	return user, nil
}

// --- Presence Reads ---

func (m *InMemoryManager) ConnectionsFor(userID string) []presence.Transport {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil // offline or unknown: a valid empty result
	}
	conns := make([]presence.Transport, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c.Transport)
	}
	return conns
}

func (m *InMemoryManager) ConnectionCount(userID string) int {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0
	}
	return len(user.Connections)
}

func (m *InMemoryManager) ConnectionCountForIP(ipAddr string) int {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	count := 0
	for _, conn := range m.conns {
		if conn.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

func (m *InMemoryManager) IsOnline(userID string) bool {
	return m.ConnectionCount(userID) > 0
}

func (m *InMemoryManager) OnlineUserIDs() []string {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	ids := make([]string, 0, len(m.users))
	for id, user := range m.users {
		if len(user.Connections) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (m *InMemoryManager) OnlineSnapshot() map[string][]string {
	m.userMu.RLock()
	defer m.userMu.RUnlock()

	snapshot := make(map[string][]string, len(m.users))
	for id, user := range m.users {
		if len(user.Connections) == 0 {
			continue
		}
		connIDs := make([]string, 0, len(user.Connections))
		for connID := range user.Connections {
			connIDs = append(connIDs, connID.String())
		}
		snapshot[id] = connIDs
	}
	return snapshot
}

func (m *InMemoryManager) AllConnections() []presence.Transport {
	m.connMu.RLock()
	defer m.connMu.RUnlock()

	conns := make([]presence.Transport, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c.Transport)
	}
	return conns
}

// --- Room Membership ---

func (m *InMemoryManager) JoinRoom(chatID string, connID uuid.UUID) error {
	m.connMu.RLock()
	conn, ok := m.conns[connID]
	m.connMu.RUnlock()
	if !ok {
		return errors.New("cannot join room: connection not found")
	}

	m.roomMu.Lock()
	defer m.roomMu.Unlock()

	room, exists := m.rooms[chatID]
	if !exists {
		room = &presence.Room{
			ID:      chatID,
			Members: make(map[uuid.UUID]*presence.Connection),
		}
		m.rooms[chatID] = room
	}
	room.Members[connID] = conn

	m.logger.Debug("Connection joined room", slog.String("connID", connID.String()), slog.String("roomID", chatID))
	return nil
}

func (m *InMemoryManager) RoomConnections(chatID string) []presence.Transport {
	m.roomMu.RLock()
	defer m.roomMu.RUnlock()

	room, ok := m.rooms[chatID]
	if !ok {
		return nil // empty room: a valid empty result
	}
	conns := make([]presence.Transport, 0, len(room.Members))
	for _, c := range room.Members {
		conns = append(conns, c.Transport)
	}
	return conns
}
