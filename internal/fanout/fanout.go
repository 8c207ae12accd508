package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sachkumarathunga/LinkMate/pkg/presence"
	"github.com/sachkumarathunga/LinkMate/pkg/protocol"
)

// Fanout delivers message events to chat members and room subscribers.
type Fanout struct {
	logger    *slog.Logger
	manager   presence.Manager
	directory presence.ChatDirectory
}

func NewFanout(logger *slog.Logger, manager presence.Manager, directory presence.ChatDirectory) *Fanout {
	if directory == nil {
		directory = presence.EmptyDirectory{}
	}
	return &Fanout{
		logger:    logger.With(slog.String("component", "delivery_fanout")),
		manager:   manager,
		directory: directory,
	}
}

// Deliver pushes a message event to every live connection of every chat
// member except the sender, and to the chat's room subscribers minus the
// originating connection. The two paths may overlap; within one call,
// delivery is at-least-once, not exactly-once.
//
// A member with no live connections is skipped silently: the persisted
// message record owned by the REST layer is what that client fetches on
// reconnect.
func (f *Fanout) Deliver(ctx context.Context, ev presence.MessageEvent, payload json.RawMessage, origin uuid.UUID) error {
	if ev.ChatID == "" {
		return errors.New("message event missing chat id")
	}

	members := ev.Members
	if len(members) == 0 {
		looked, err := f.directory.ChatMembers(ctx, ev.ChatID)
		if err != nil {
			return fmt.Errorf("failed to resolve members for chat '%s': %w", ev.ChatID, err)
		}
		members = looked
	}
	if len(members) == 0 {
		return fmt.Errorf("message event for chat '%s' has no members", ev.ChatID)
	}

	frame, err := protocol.Encode(protocol.EventMessageReceived, payload)
	if err != nil {
		return fmt.Errorf("failed to encode message event: %w", err)
	}

	delivered := 0
	for _, member := range members {
		if member == ev.Sender {
			continue
		}
		for _, conn := range f.manager.ConnectionsFor(member) {
			conn.Send(frame)
			delivered++
		}
	}

	// Room broadcast reaches whoever has the chat open, excluding only the
	// originating connection. The sender's other connections do receive it.
	for _, conn := range f.manager.RoomConnections(ev.ChatID) {
		if conn.ID() == origin {
			continue
		}
		conn.Send(frame)
		delivered++
	}

	f.logger.Debug("Delivered message event",
		slog.String("chatID", ev.ChatID),
		slog.String("sender", ev.Sender),
		slog.Int("deliveries", delivered),
	)
	return nil
}

// Relay forwards a typing-indicator event verbatim to the chat's room,
// excluding the originating connection. The server keeps no typing state;
// staleness is bounded by the client-side stop-typing debounce.
func (f *Fanout) Relay(event, chatID string, payload json.RawMessage, origin uuid.UUID) error {
	if chatID == "" {
		return fmt.Errorf("%s event missing chat id", event)
	}

	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	for _, conn := range f.manager.RoomConnections(chatID) {
		if conn.ID() == origin {
			continue
		}
		conn.Send(frame)
	}
	return nil
}
