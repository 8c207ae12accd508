// Package router dispatches incoming wire events to the presence registry
// and the fanout layer. Every failure degrades to dropping the offending
// event; nothing here may panic into the transport read loop.
package router

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sachkumarathunga/LinkMate/internal/fanout"
	"github.com/sachkumarathunga/LinkMate/pkg/config"
	"github.com/sachkumarathunga/LinkMate/pkg/presence"
	"github.com/sachkumarathunga/LinkMate/pkg/presence/mirror"
	"github.com/sachkumarathunga/LinkMate/pkg/protocol"
)

type EventRouter struct {
	logger      *slog.Logger
	manager     presence.Manager
	fanout      *fanout.Fanout
	broadcaster *fanout.Broadcaster
	identity    presence.IdentityLookup
	mirror      mirror.Mirror
	limit       config.ConnectionLimitConfig
}

// Deps carries the collaborators the router needs. Identity and Mirror are
// optional; nil means allow-all identity and no cross-process mirroring.
type Deps struct {
	Manager     presence.Manager
	Fanout      *fanout.Fanout
	Broadcaster *fanout.Broadcaster
	Identity    presence.IdentityLookup
	Mirror      mirror.Mirror
	Limit       config.ConnectionLimitConfig
}

func NewEventRouter(logger *slog.Logger, deps Deps) *EventRouter {
	identity := deps.Identity
	if identity == nil {
		identity = presence.AllowAllIdentity{}
	}
	mir := deps.Mirror
	if mir == nil {
		mir = mirror.Nop{}
	}
	return &EventRouter{
		logger:      logger.With(slog.String("component", "event_router")),
		manager:     deps.Manager,
		fanout:      deps.Fanout,
		broadcaster: deps.Broadcaster,
		identity:    identity,
		mirror:      mir,
		limit:       deps.Limit,
	}
}

// HandleMessage is the transport's message callback. It runs synchronously
// per connection; registry mutations it performs are visible to the presence
// announcement computed in the same invocation.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	frame, err := protocol.Decode(msg)
	if err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		return
	}

	conn, ok := r.manager.GetConnection(connID)
	if !ok {
		r.logger.Warn("Received event for unknown connection", slog.String("connID", connID.String()), slog.String("event", frame.Event))
		return
	}

	r.logger.Debug("Handling event", slog.String("event", frame.Event), slog.String("connID", connID.String()))
	switch frame.Event {
	case protocol.EventSetup:
		r.handleSetup(ctx, conn, frame.Payload)
	case protocol.EventJoinChat:
		r.handleJoinChat(conn, frame.Payload)
	case protocol.EventTyping, protocol.EventStopTyping:
		r.handleTyping(frame.Event, conn, frame.Payload)
	case protocol.EventNewMessage:
		r.handleNewMessage(ctx, conn, frame.Payload)
	case protocol.EventUserOnline, protocol.EventUserOffline:
		r.handlePresenceHint(frame.Event, conn, frame.Payload)
	default:
		r.logger.Warn("Received unknown event", slog.String("event", frame.Event), slog.String("connID", connID.String()))
	}
}

// HandleDisconnect is the transport's close callback. The connection is
// removed from the registry and all rooms before the presence announcement
// is computed, so no dangling identifier survives the disconnect.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID, cause error) {
	var userID string
	if conn, ok := r.manager.GetConnection(connID); ok && conn.User != nil {
		userID = conn.User.ID
	}

	if err := r.manager.DeregisterConnection(connID); err != nil {
		r.logger.Error("Failed to deregister connection", slog.String("connID", connID.String()), slog.Any("error", err))
	}

	if userID != "" {
		if err := r.mirror.SetOffline(context.Background(), userID, connID.String()); err != nil {
			r.logger.Warn("Failed to mirror user offline", slog.String("userID", userID), slog.Any("error", err))
		}
	}

	r.logger.Info("Connection closed", slog.String("connID", connID.String()), slog.Any("reason", cause))
	r.broadcaster.Announce()
}
