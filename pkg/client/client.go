// Package client is a Go client for the presence service, mirroring the
// behavior of the web front end: setup on dial, per-chat room joins, and a
// debounced typing indicator.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/sachkumarathunga/LinkMate/pkg/protocol"
)

// Handlers receive server-pushed events. Nil handlers drop their events.
type Handlers struct {
	OnMessageReceived func(payload json.RawMessage)
	OnOnlineUsers     func(snapshot map[string][]string)
	OnUserOnline      func(ids []string)
	OnTyping          func(payload json.RawMessage)
	OnStopTyping      func(payload json.RawMessage)
}

type Client struct {
	conn     *websocket.Conn
	userID   string
	handlers Handlers
	typing   *typingNotifier

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	logger *slog.Logger
}

// Dial connects to the service, emits the setup event for userID and starts
// reading server events.
func Dial(ctx context.Context, url, userID string, handlers Handlers, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		userID:   userID,
		handlers: handlers,
		ctx:      clientCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger.With(slog.String("component", "linkmate_client"), slog.String("userID", userID)),
	}
	c.typing = newTypingNotifier(c.emit, defaultTypingIdle, c.logger)

	if err := c.emit(protocol.EventSetup, userID); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(c.ctx, websocket.MessageText, frame)
}

// JoinChat subscribes this connection to a chat's room. Rooms are not
// persisted server-side; rejoin after every reconnect.
func (c *Client) JoinChat(chatID string) error {
	return c.emit(protocol.EventJoinChat, chatID)
}

// SendMessage notifies the service of a message the REST layer has already
// persisted, and clears any pending typing indicator for the chat.
func (c *Client) SendMessage(chatID string, message any) error {
	if err := c.emit(protocol.EventNewMessage, message); err != nil {
		return err
	}
	return c.typing.Stop(chatID, c.userID)
}

// Keystroke reports typing activity. Each call emits a typing event and
// re-arms the idle timer; once the timer lapses a single stop-typing event
// is emitted, bounding how long a stale indicator can survive.
func (c *Client) Keystroke(chatID, displayName string) error {
	return c.typing.Keystroke(chatID, c.userID, displayName)
}

// StopTyping clears the indicator immediately.
func (c *Client) StopTyping(chatID string) error {
	return c.typing.Stop(chatID, c.userID)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.logger.Debug("Read loop ending", slog.Any("error", err))
			return
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed server frame", slog.Any("error", err))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventMessageReceived:
		if c.handlers.OnMessageReceived != nil {
			c.handlers.OnMessageReceived(frame.Payload)
		}
	case protocol.EventOnlineUsers:
		if c.handlers.OnOnlineUsers != nil {
			var snapshot map[string][]string
			if err := json.Unmarshal(frame.Payload, &snapshot); err != nil {
				c.logger.Warn("Malformed online users payload", slog.Any("error", err))
				return
			}
			c.handlers.OnOnlineUsers(snapshot)
		}
	case protocol.EventUserOnline:
		if c.handlers.OnUserOnline != nil {
			var ids []string
			if err := json.Unmarshal(frame.Payload, &ids); err != nil {
				c.logger.Warn("Malformed online ids payload", slog.Any("error", err))
				return
			}
			c.handlers.OnUserOnline(ids)
		}
	case protocol.EventTyping:
		if c.handlers.OnTyping != nil {
			c.handlers.OnTyping(frame.Payload)
		}
	case protocol.EventStopTyping:
		if c.handlers.OnStopTyping != nil {
			c.handlers.OnStopTyping(frame.Payload)
		}
	default:
		c.logger.Debug("Ignoring unknown server event", slog.String("event", frame.Event))
	}
}

// Close tears the connection down. The server treats the disconnect as the
// offline signal; no explicit event is required.
func (c *Client) Close() error {
	c.typing.cancelTimer()
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

// Done is closed once the read loop has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
