package presence

import "github.com/google/uuid"

// Transport is the send side of one live connection. *transport.Connection
// satisfies it; tests substitute in-memory fakes.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Manager owns all in-memory connection, presence and room state for one
// process. All mutations are synchronous; a register is visible to every
// read issued after it returns.
type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn Transport, ipAddr string) (*Connection, error)
	// DeregisterConnection removes the connection from its user entry and
	// from every room it joined. No-op if the connection is unknown.
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- User Attribution ---
	// AssociateUser links a connection to a user, creating the user entry if
	// absent. Idempotent for a repeated (user, connection) pair; a connection
	// already attributed to a different user is moved.
	AssociateUser(connID uuid.UUID, userID string) (*User, error)

	// --- Presence Reads ---
	ConnectionsFor(userID string) []Transport
	ConnectionCount(userID string) int
	ConnectionCountForIP(ipAddr string) int
	IsOnline(userID string) bool
	OnlineUserIDs() []string
	// OnlineSnapshot returns userID -> connection id strings, the payload of
	// the "online users" announcement.
	OnlineSnapshot() map[string][]string
	AllConnections() []Transport

	// --- Room Membership ---
	// JoinRoom subscribes a connection to a chat room, creating the room if
	// it doesn't exist. There is no explicit leave; membership ends when the
	// connection is deregistered.
	JoinRoom(chatID string, connID uuid.UUID) error
	RoomConnections(chatID string) []Transport
}
