package presence

import (
	"time"

	"github.com/google/uuid"
)

// Connection is the registry's view of a single transport-layer connection.
// The registry holds it by identifier only; the transport layer owns the
// underlying session.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport Transport // The actual connection for sending messages
	User      *User     // Pointer to the owning user (nil until setup)
	CreatedAt time.Time
}

// User aggregates all live connections attributed to one user identity.
// A user with zero connections is removed from the registry entirely, so
// the presence of a User entry is what "online" means.
type User struct {
	ID          string
	Connections map[uuid.UUID]*Connection
}

// Room is an ephemeral subscription group of connections scoped to one chat.
// Membership is keyed by connection, not user: each open client joins with
// whichever connection has that chat on screen.
type Room struct {
	ID      string
	Members map[uuid.UUID]*Connection
}
