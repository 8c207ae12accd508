package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sachkumarathunga/LinkMate/pkg/protocol"
)

// defaultTypingIdle is how long after the last keystroke the indicator is
// cleared automatically if no explicit stop arrives.
const defaultTypingIdle = 2 * time.Second

type typingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// typingNotifier debounces the stop-typing event: every keystroke emits a
// typing event and re-arms the idle timer; when the timer lapses, exactly
// one stop-typing event is emitted.
type typingNotifier struct {
	emit   func(event string, payload any) error
	idle   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	chatID string
	userID string
}

func newTypingNotifier(emit func(event string, payload any) error, idle time.Duration, logger *slog.Logger) *typingNotifier {
	return &typingNotifier{emit: emit, idle: idle, logger: logger}
}

func (n *typingNotifier) Keystroke(chatID, userID, name string) error {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.active = true
	n.chatID = chatID
	n.userID = userID
	n.timer = time.AfterFunc(n.idle, n.idleLapsed)
	n.mu.Unlock()

	return n.emit(protocol.EventTyping, typingPayload{ChatID: chatID, UserID: userID, Name: name})
}

// Stop clears a pending indicator immediately. No-op when nothing is pending.
func (n *typingNotifier) Stop(chatID, userID string) error {
	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return nil
	}
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
	}
	n.mu.Unlock()

	return n.emit(protocol.EventStopTyping, typingPayload{ChatID: chatID, UserID: userID})
}

func (n *typingNotifier) idleLapsed() {
	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	chatID, userID := n.chatID, n.userID
	n.mu.Unlock()

	if err := n.emit(protocol.EventStopTyping, typingPayload{ChatID: chatID, UserID: userID}); err != nil {
		// The timer has no caller to return to; surface the stale
		// indicator in the log instead.
		n.logger.Warn("Failed to clear typing indicator", slog.String("chatID", chatID), slog.Any("error", err))
	}
}

func (n *typingNotifier) cancelTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
	}
}
