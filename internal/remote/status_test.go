package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) ObserveStatusEvent(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[status]++
}

// eventServer sends batches[i] on the i-th connection and then drops it.
func eventServer(t *testing.T, batches [][]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(conns.Add(1)) - 1
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		if n >= len(batches) {
			// Hold the connection until the client goes away.
			_, _, _ = conn.Read(r.Context())
			return
		}
		for _, msg := range batches[n] {
			if err := wsjson.Write(r.Context(), conn, msg); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusGoingAway, "batch done")
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/events"
}

func TestWatchReconnectsAndStopsOnHandlerError(t *testing.T) {
	srv, conns := eventServer(t, [][]any{
		{Event{Status: StatusLog, Msg: "compiling"}},
		{
			map[string]string{"status": "PROGRESS", "msg": "ignored"},
			`{"status":"UPLOADED","msg":"results.zip"}`,
			Event{Status: StatusError, Msg: "segfault"},
		},
	})

	rec := &countingRecorder{}
	w, err := NewWatcher(wsURL(srv.URL), WithBackOff(&backoff.ZeroBackOff{}), WithEventRecorder(rec))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errDone := errors.New("done")
	var got []Event
	err = w.Watch(ctx, func(_ context.Context, ev Event) error {
		got = append(got, ev)
		if ev.Status == StatusError {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("Watch() error = %v, want handler error", err)
	}

	want := []Event{
		{Status: StatusLog, Msg: "compiling"},
		{Status: StatusUploaded, Msg: "results.zip"},
		{Status: StatusError, Msg: "segfault"},
	}
	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if conns.Load() != 2 {
		t.Fatalf("connections = %d, want 2", conns.Load())
	}
	if rec.counts["PROGRESS"] != 1 || rec.counts["LOG"] != 1 {
		t.Fatalf("recorded = %v", rec.counts)
	}
}

func TestWatchReturnsWhenContextEnds(t *testing.T) {
	srv, _ := eventServer(t, nil)
	w, err := NewWatcher(wsURL(srv.URL))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = w.Watch(ctx, func(context.Context, Event) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Watch() error = %v, want DeadlineExceeded", err)
	}
}

func TestWatchGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	w, err := NewWatcher(wsURL(srv.URL), WithBackOff(&backoff.ZeroBackOff{}), WithMaxAttempts(3))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	err = w.Watch(context.Background(), func(context.Context, Event) error { return nil })
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("Watch() error = %v, want ErrRemote", err)
	}
}

// broadcastServer only delivers events to clients connected at the time
// of the broadcast, like a simulator publishing to its subscriber set.
type broadcastServer struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newBroadcastServer(t *testing.T) (*broadcastServer, *httptest.Server) {
	t.Helper()
	b := &broadcastServer{conns: map[*websocket.Conn]struct{}{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()
		_, _, _ = conn.Read(r.Context())
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *broadcastServer) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *broadcastServer) broadcast(ctx context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		_ = wsjson.Write(ctx, conn, ev)
	}
}

func waitForSubscribers(t *testing.T, b *broadcastServer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", b.subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectReceivesEventsSentBeforeWatch(t *testing.T) {
	b, srv := newBroadcastServer(t)
	w, err := NewWatcher(wsURL(srv.URL), WithBackOff(&backoff.ZeroBackOff{}))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := w.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForSubscribers(t, b, 1)
	b.broadcast(ctx, Event{Status: StatusLog, Msg: "started"})
	b.broadcast(ctx, Event{Status: StatusUploaded, Msg: "results.zip"})

	errDone := errors.New("done")
	var got []Event
	err = stream.Watch(ctx, func(_ context.Context, ev Event) error {
		got = append(got, ev)
		if ev.Status == StatusUploaded {
			return errDone
		}
		return nil
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("Watch() error = %v, want handler error", err)
	}
	if len(got) != 2 || got[0].Msg != "started" || got[1].Msg != "results.zip" {
		t.Fatalf("events = %+v, want started then results.zip", got)
	}

	if err := stream.Watch(ctx, func(context.Context, Event) error { return nil }); err == nil {
		t.Fatalf("second Watch() error = nil, want error")
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() after Watch error = %v, want nil", err)
	}
}

func TestStreamCloseWithoutWatch(t *testing.T) {
	b, srv := newBroadcastServer(t)
	w, err := NewWatcher(wsURL(srv.URL))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := w.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitForSubscribers(t, b, 1)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	waitForSubscribers(t, b, 0)
	if err := stream.Watch(ctx, func(context.Context, Event) error { return nil }); err == nil {
		t.Fatalf("Watch() after Close error = nil, want error")
	}
}

func TestEventsURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:5000":        "ws://localhost:5000/events",
		"https://sim.example.com/api/": "wss://sim.example.com/events",
	}
	for in, want := range tests {
		got, err := EventsURL(in)
		if err != nil || got != want {
			t.Fatalf("EventsURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := EventsURL("tcp://host"); err == nil {
		t.Fatalf("EventsURL(tcp) error = nil")
	}
}

func TestDecodeEventAcceptsEncodedString(t *testing.T) {
	ev, err := decodeEvent([]byte(`"{\"status\":\"LOG\",\"msg\":\"hi\"}"`))
	if err != nil || ev != (Event{Status: StatusLog, Msg: "hi"}) {
		t.Fatalf("decodeEvent() = %+v, %v", ev, err)
	}
	if _, err := decodeEvent([]byte(`[1,2]`)); err == nil {
		t.Fatalf("decodeEvent(array) error = nil")
	}
}
