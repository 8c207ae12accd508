package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sachkumarathunga/LinkMate/pkg/presence"
	"github.com/sachkumarathunga/LinkMate/pkg/presence/registry"
	"github.com/sachkumarathunga/LinkMate/pkg/protocol"
)

type mockConn struct {
	id   uuid.UUID
	mu   sync.Mutex
	recv [][]byte
}

func newMockConn() *mockConn {
	return &mockConn{id: uuid.New()}
}

func (m *mockConn) ID() uuid.UUID { return m.id }

func (m *mockConn) Send(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recv = append(m.recv, data)
}

func (m *mockConn) Close(err error) {}

func (m *mockConn) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := make([]protocol.Frame, 0, len(m.recv))
	for _, raw := range m.recv {
		f, err := protocol.Decode(raw)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

func (m *mockConn) countEvent(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, f := range m.frames(t) {
		if f.Event == event {
			n++
		}
	}
	return n
}

// deadConn models a transport mid-teardown: once its context is cancelled a
// real connection drops queued sends silently, so Send records the drop and
// returns immediately.
type deadConn struct {
	id      uuid.UUID
	dropped atomic.Int32
}

func newDeadConn() *deadConn { return &deadConn{id: uuid.New()} }

func (d *deadConn) ID() uuid.UUID { return d.id }

func (d *deadConn) Send(data []byte) { d.dropped.Add(1) }

func (d *deadConn) Close(err error) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestManager() *registry.InMemoryManager {
	return registry.NewInMemoryManager(testLogger())
}

// connect registers a mock connection and attributes it to userID.
func connect(t *testing.T, m presence.Manager, userID string) *mockConn {
	t.Helper()
	conn := newMockConn()
	_, err := m.RegisterConnection(conn, "127.0.0.1")
	require.NoError(t, err)
	_, err = m.AssociateUser(conn.ID(), userID)
	require.NoError(t, err)
	return conn
}

func TestDeliver_MemberPathSkipsSender(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	sender := connect(t, m, "sam")
	aliceConn1 := connect(t, m, "alice")
	aliceConn2 := connect(t, m, "alice")
	bobConn := connect(t, m, "bob")

	ev := presence.MessageEvent{ChatID: "chat-1", Sender: "sam", Members: []string{"sam", "alice", "bob"}}
	payload := json.RawMessage(`{"chatId":"chat-1","sender":"sam","content":"hi"}`)
	require.NoError(t, f.Deliver(context.Background(), ev, payload, sender.ID()))

	assert.Equal(t, 1, aliceConn1.countEvent(t, protocol.EventMessageReceived))
	assert.Equal(t, 1, aliceConn2.countEvent(t, protocol.EventMessageReceived))
	assert.Equal(t, 1, bobConn.countEvent(t, protocol.EventMessageReceived))
	assert.Equal(t, 0, sender.countEvent(t, protocol.EventMessageReceived),
		"member path must never reach the sender's own connections")
}

func TestDeliver_PayloadRelayedVerbatim(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	sender := connect(t, m, "sam")
	bobConn := connect(t, m, "bob")

	payload := json.RawMessage(`{"chatId":"c","sender":"sam","content":"hello","image":"/uploads/a.png"}`)
	ev := presence.MessageEvent{ChatID: "c", Sender: "sam", Members: []string{"sam", "bob"}}
	require.NoError(t, f.Deliver(context.Background(), ev, payload, sender.ID()))

	frames := bobConn.frames(t)
	require.Len(t, frames, 1)
	assert.JSONEq(t, string(payload), string(frames[0].Payload))
}

func TestDeliver_OfflineMemberIsSkippedSilently(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	sender := connect(t, m, "sam")

	// bob has no live connections; delivery drops his copy without error.
	ev := presence.MessageEvent{ChatID: "chat-1", Sender: "sam", Members: []string{"sam", "bob"}}
	err := f.Deliver(context.Background(), ev, json.RawMessage(`{}`), sender.ID())
	assert.NoError(t, err)
	assert.Equal(t, 0, sender.countEvent(t, protocol.EventMessageReceived))
}

func TestDeliver_RoomPathReachesSubscribersMinusOrigin(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	senderConn := connect(t, m, "sam")
	senderOther := connect(t, m, "sam")
	watcher := connect(t, m, "eve") // room subscriber who is not a chat member

	require.NoError(t, m.JoinRoom("chat-1", senderConn.ID()))
	require.NoError(t, m.JoinRoom("chat-1", senderOther.ID()))
	require.NoError(t, m.JoinRoom("chat-1", watcher.ID()))

	ev := presence.MessageEvent{ChatID: "chat-1", Sender: "sam", Members: []string{"sam"}}
	require.NoError(t, f.Deliver(context.Background(), ev, json.RawMessage(`{}`), senderConn.ID()))

	assert.Equal(t, 0, senderConn.countEvent(t, protocol.EventMessageReceived),
		"originating connection is excluded from the room broadcast")
	assert.Equal(t, 1, senderOther.countEvent(t, protocol.EventMessageReceived),
		"the sender's other room-subscribed connections do receive the event")
	assert.Equal(t, 1, watcher.countEvent(t, protocol.EventMessageReceived))
}

func TestDeliver_OverlapDeliversAtLeastOnce(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	sender := connect(t, m, "sam")
	bobConn := connect(t, m, "bob")
	require.NoError(t, m.JoinRoom("chat-1", bobConn.ID()))

	ev := presence.MessageEvent{ChatID: "chat-1", Sender: "sam", Members: []string{"sam", "bob"}}
	require.NoError(t, f.Deliver(context.Background(), ev, json.RawMessage(`{}`), sender.ID()))

	// bob is both a member and a room subscriber: one copy per path.
	assert.Equal(t, 2, bobConn.countEvent(t, protocol.EventMessageReceived))
}

func TestDeliver_MalformedEvent(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)
	sender := connect(t, m, "sam")

	err := f.Deliver(context.Background(), presence.MessageEvent{Sender: "sam"}, json.RawMessage(`{}`), sender.ID())
	assert.Error(t, err, "missing chat id is rejected")

	err = f.Deliver(context.Background(), presence.MessageEvent{ChatID: "c", Sender: "sam"}, json.RawMessage(`{}`), sender.ID())
	assert.Error(t, err, "missing members with no directory fallback is rejected")
}

type staticDirectory struct {
	members map[string][]string
}

func (d staticDirectory) ChatMembers(_ context.Context, chatID string) ([]string, error) {
	return d.members[chatID], nil
}

func TestDeliver_DirectoryFallback(t *testing.T) {
	m := newTestManager()
	dir := staticDirectory{members: map[string][]string{"chat-1": {"sam", "bob"}}}
	f := NewFanout(testLogger(), m, dir)

	sender := connect(t, m, "sam")
	bobConn := connect(t, m, "bob")

	// Event arrives without a member list; the chat directory fills it in.
	ev := presence.MessageEvent{ChatID: "chat-1", Sender: "sam"}
	require.NoError(t, f.Deliver(context.Background(), ev, json.RawMessage(`{}`), sender.ID()))
	assert.Equal(t, 1, bobConn.countEvent(t, protocol.EventMessageReceived))
}

func TestRelay_TypingReachesRoomMinusOrigin(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	alice := connect(t, m, "alice")
	bob := connect(t, m, "bob")
	require.NoError(t, m.JoinRoom("chat-1", alice.ID()))
	require.NoError(t, m.JoinRoom("chat-1", bob.ID()))

	payload := json.RawMessage(`{"chatId":"chat-1","userId":"alice","name":"Alice"}`)
	require.NoError(t, f.Relay(protocol.EventTyping, "chat-1", payload, alice.ID()))

	assert.Equal(t, 0, alice.countEvent(t, protocol.EventTyping))
	require.Equal(t, 1, bob.countEvent(t, protocol.EventTyping))
	frames := bob.frames(t)
	assert.JSONEq(t, string(payload), string(frames[0].Payload), "typing events are relayed verbatim")

	require.NoError(t, f.Relay(protocol.EventStopTyping, "chat-1", payload, alice.ID()))
	assert.Equal(t, 1, bob.countEvent(t, protocol.EventStopTyping))
}

func TestDeliver_DeadConnectionDoesNotStopOthers(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)

	sender := connect(t, m, "sam")

	// One of alice's connections is mid-teardown; her live one and bob
	// still receive their copies.
	dead := newDeadConn()
	_, err := m.RegisterConnection(dead, "127.0.0.1")
	require.NoError(t, err)
	_, err = m.AssociateUser(dead.ID(), "alice")
	require.NoError(t, err)
	aliceLive := connect(t, m, "alice")
	bobConn := connect(t, m, "bob")

	ev := presence.MessageEvent{ChatID: "chat-1", Sender: "sam", Members: []string{"sam", "alice", "bob"}}
	require.NoError(t, f.Deliver(context.Background(), ev, json.RawMessage(`{}`), sender.ID()))

	assert.Equal(t, 1, aliceLive.countEvent(t, protocol.EventMessageReceived))
	assert.Equal(t, 1, bobConn.countEvent(t, protocol.EventMessageReceived))
	assert.EqualValues(t, 1, dead.dropped.Load())
}

func TestRelay_EmptyRoomIsNoError(t *testing.T) {
	m := newTestManager()
	f := NewFanout(testLogger(), m, nil)
	origin := connect(t, m, "alice")

	assert.NoError(t, f.Relay(protocol.EventTyping, "empty-chat", json.RawMessage(`{}`), origin.ID()))
}
