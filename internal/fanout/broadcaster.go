// Package fanout pushes presence announcements and message events to the
// right live connections. Every send is fire-and-forget: a slow or dead
// client can delay only its own delivery.
package fanout

import (
	"log/slog"

	"github.com/sachkumarathunga/LinkMate/pkg/presence"
	"github.com/sachkumarathunga/LinkMate/pkg/protocol"
)

// Broadcaster announces the current presence view to every connected client
// after each registry mutation. Presence is best-effort; a missed
// announcement is repaired by the next one.
type Broadcaster struct {
	logger  *slog.Logger
	manager presence.Manager
}

func NewBroadcaster(logger *slog.Logger, manager presence.Manager) *Broadcaster {
	return &Broadcaster{
		logger:  logger.With(slog.String("component", "presence_broadcaster")),
		manager: manager,
	}
}

// Announce snapshots the registry and pushes both presence views to all
// connected clients, including ones that have not completed setup yet.
// The registry is the single source of truth: the "online users" map and
// the "user online" id list are both derived from it here.
func (b *Broadcaster) Announce() {
	snapshot := b.manager.OnlineSnapshot()
	snapshotFrame, err := protocol.Encode(protocol.EventOnlineUsers, snapshot)
	if err != nil {
		b.logger.Error("Failed to encode online users announcement", slog.Any("error", err))
		return
	}

	ids := b.manager.OnlineUserIDs()
	idsFrame, err := protocol.Encode(protocol.EventUserOnline, ids)
	if err != nil {
		b.logger.Error("Failed to encode online ids announcement", slog.Any("error", err))
		return
	}

	conns := b.manager.AllConnections()
	for _, conn := range conns {
		conn.Send(snapshotFrame)
		conn.Send(idsFrame)
	}
	b.logger.Debug("Announced presence", slog.Int("online", len(ids)), slog.Int("recipients", len(conns)))
}
