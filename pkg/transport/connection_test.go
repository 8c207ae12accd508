package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dialPair upgrades one websocket and returns the server side wrapped in a
// *Connection plus the raw client side. When run is false the pumps are not
// started, modelling a connection torn down before Run.
func dialPair(t *testing.T, ctx context.Context, wg *sync.WaitGroup, run bool) (*Connection, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		conn := NewConnection(ctx, wg, ws, ConnectionConfig{},
			func(context.Context, uuid.UUID, []byte) {}, nil, testLogger())
		if run {
			conn.Run()
		}
		connCh <- conn
		<-conn.Done()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case conn := <-connCh:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never produced a connection")
		return nil, nil
	}
}

func TestSendDeliversToPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	conn, client := dialPair(t, ctx, &wg, true)
	defer conn.Close(nil)

	conn.Send([]byte(`{"event":"message received"}`))

	readCtx, cancelRead := context.WithTimeout(ctx, 2*time.Second)
	defer cancelRead()
	_, data, err := client.Read(readCtx)
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if got := string(data); got != `{"event":"message received"}` {
		t.Fatalf("unexpected frame: %s", got)
	}
}

// Send must stay safe after Close: a broadcast loop may hold a snapshot that
// includes a connection another goroutine is tearing down.
func TestSendAfterCloseIsANoOp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	conn, _ := dialPair(t, ctx, &wg, true)
	conn.Close(nil)
	<-conn.Done()

	// Well past the channel buffer, so a blocked or panicking Send is
	// caught either way.
	sent := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			conn.Send([]byte("late"))
		}
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked after Close")
	}
	wg.Wait()
}

func TestConcurrentSendAndClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	conn, _ := dialPair(t, ctx, &wg, true)

	start := make(chan struct{})
	var senders sync.WaitGroup
	for i := 0; i < 8; i++ {
		senders.Add(1)
		go func() {
			defer senders.Done()
			<-start
			for j := 0; j < 200; j++ {
				conn.Send([]byte(`{"event":"user online"}`))
			}
		}()
	}
	close(start)
	conn.Close(nil)

	finished := make(chan struct{})
	go func() {
		senders.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("senders did not finish after Close")
	}
	wg.Wait()
}

// Closing before Run must still balance the wait group: the registration
// error path in the server closes connections whose pumps never started.
func TestCloseBeforeRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	conn, _ := dialPair(t, ctx, &wg, false)
	conn.Close(nil)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never reported done")
	}
	wg.Wait()
}
