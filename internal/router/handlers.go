package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/sachkumarathunga/LinkMate/pkg/presence"
)

// handleSetup attributes the connection to a user identity and announces the
// updated presence view. A missing or unknown user id drops the event with a
// warning; the client simply stays unattributed.
func (r *EventRouter) handleSetup(ctx context.Context, conn *presence.Connection, payload json.RawMessage) {
	userID := stringPayload(payload, "userId")
	if userID == "" {
		r.logger.Warn("Setup event without user id", slog.String("connID", conn.ID.String()))
		return
	}

	exists, err := r.identity.UserExists(ctx, userID)
	if err != nil {
		// Identity lookup is advisory; presence must keep working when the
		// account store is unreachable.
		r.logger.Warn("Identity lookup failed, accepting setup", slog.String("userID", userID), slog.Any("error", err))
	} else if !exists {
		r.logger.Warn("Setup for unknown user id", slog.String("userID", userID))
		return
	}

	if r.limit.MaxPerUser > 0 && r.manager.ConnectionCount(userID) >= r.limit.MaxPerUser {
		switch r.limit.Mode {
		case "cycle":
			if oldest, found := r.manager.FindOldestUserConnection(userID); found {
				r.logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
				oldest.Transport.Close(errors.New("connection cycled by new connection"))
			}
		default: // reject
			r.logger.Warn("User connection limit reached, rejecting setup", slog.String("userID", userID))
			conn.Transport.Close(errors.New("too many active connections"))
			return
		}
	}

	if _, err := r.manager.AssociateUser(conn.ID, userID); err != nil {
		r.logger.Warn("Failed to associate user with connection", slog.String("userID", userID), slog.Any("error", err))
		return
	}

	if err := r.mirror.SetOnline(ctx, userID, conn.ID.String()); err != nil {
		r.logger.Warn("Failed to mirror user online", slog.String("userID", userID), slog.Any("error", err))
	}

	r.logger.Info("User setup complete", slog.String("userID", userID), slog.String("connID", conn.ID.String()))
	r.broadcaster.Announce()
}

func (r *EventRouter) handleJoinChat(conn *presence.Connection, payload json.RawMessage) {
	chatID := stringPayload(payload, "chatId")
	if chatID == "" {
		r.logger.Warn("Join chat event without chat id", slog.String("connID", conn.ID.String()))
		return
	}
	if err := r.manager.JoinRoom(chatID, conn.ID); err != nil {
		r.logger.Warn("Failed to join chat room", slog.String("chatID", chatID), slog.Any("error", err))
		return
	}
	r.logger.Info("Connection joined chat", slog.String("chatID", chatID), slog.String("connID", conn.ID.String()))
}

// handleTyping relays typing and stop-typing events verbatim to the chat's
// room. The server keeps no indicator state.
func (r *EventRouter) handleTyping(event string, conn *presence.Connection, payload json.RawMessage) {
	chatID := gjson.GetBytes(payload, "chatId").String()
	if chatID == "" {
		r.logger.Warn("Typing event without chat id", slog.String("event", event), slog.String("connID", conn.ID.String()))
		return
	}
	if err := r.fanout.Relay(event, chatID, payload, conn.ID); err != nil {
		r.logger.Warn("Failed to relay typing event", slog.String("event", event), slog.Any("error", err))
	}
}

// handleNewMessage triggers fanout for a message the REST layer has already
// persisted. The payload is relayed to recipients untouched.
func (r *EventRouter) handleNewMessage(ctx context.Context, conn *presence.Connection, payload json.RawMessage) {
	ev, err := parseMessageEvent(payload)
	if err != nil {
		r.logger.Warn("Dropping malformed message event", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}
	if err := r.fanout.Deliver(ctx, ev, payload, conn.ID); err != nil {
		r.logger.Warn("Message fanout failed", slog.String("chatID", ev.ChatID), slog.Any("error", err))
	}
}

// handlePresenceHint covers the legacy explicit online/offline events. The
// registry is the source of truth, so the hint only triggers a re-announce;
// it never mutates a separately-tracked list.
func (r *EventRouter) handlePresenceHint(event string, conn *presence.Connection, payload json.RawMessage) {
	r.logger.Debug("Presence hint received",
		slog.String("event", event),
		slog.String("userID", stringPayload(payload, "userId")),
		slog.String("connID", conn.ID.String()),
	)
	r.broadcaster.Announce()
}

// stringPayload accepts either a bare JSON string payload or an object
// carrying the value under the given key. The original client sends both
// shapes depending on the event.
func stringPayload(payload json.RawMessage, key string) string {
	parsed := gjson.ParseBytes(payload)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	return parsed.Get(key).String()
}

// parseMessageEvent extracts the routing fields from a new-message payload.
// Both the flat shape ({chatId, sender, members}) and the original nested
// shape ({chat: {_id, users: [{_id}]}, sender: {_id}}) are accepted.
func parseMessageEvent(payload json.RawMessage) (presence.MessageEvent, error) {
	g := gjson.ParseBytes(payload)
	var ev presence.MessageEvent

	ev.ChatID = g.Get("chatId").String()
	if ev.ChatID == "" {
		ev.ChatID = g.Get("chat._id").String()
	}
	if ev.ChatID == "" {
		return ev, errors.New("message event missing chat id")
	}

	sender := g.Get("sender")
	if sender.Type == gjson.String {
		ev.Sender = sender.String()
	} else {
		ev.Sender = sender.Get("_id").String()
	}

	members := g.Get("members")
	if !members.Exists() {
		members = g.Get("chat.users")
	}
	for _, member := range members.Array() {
		if member.Type == gjson.String {
			ev.Members = append(ev.Members, member.String())
			continue
		}
		if id := member.Get("_id").String(); id != "" {
			ev.Members = append(ev.Members, id)
		}
	}
	return ev, nil
}
