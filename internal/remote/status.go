package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/signalsfoundry/scenario-composer/internal/logging"
)

// Status is the kind of a status channel event.
type Status string

const (
	StatusLog      Status = "LOG"
	StatusUploaded Status = "UPLOADED"
	StatusError    Status = "ERROR"
)

// Known reports whether s is one of the statuses the simulator sends.
func (s Status) Known() bool {
	switch s {
	case StatusLog, StatusUploaded, StatusError:
		return true
	}
	return false
}

// Event is one message on the status channel.
type Event struct {
	Status Status `json:"status"`
	Msg    string `json:"msg"`
}

// Handler consumes status events. Returning an error stops Watch with
// that error.
type Handler func(ctx context.Context, ev Event) error

// EventRecorder counts received status events.
type EventRecorder interface {
	ObserveStatusEvent(status string)
}

// EventsURL derives the status channel URL from a simulator base URL:
// http becomes ws, https becomes wss and the path is /events.
func EventsURL(base string) (string, error) {
	u, err := parseBase(base)
	if err != nil {
		return "", err
	}
	out := url.URL{Host: u.Host, Path: "/events"}
	if u.Scheme == "https" {
		out.Scheme = "wss"
	} else {
		out.Scheme = "ws"
	}
	return out.String(), nil
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithWatchLogger sets the watcher's logger.
func WithWatchLogger(log logging.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// WithEventRecorder reports every received event to r.
func WithEventRecorder(r EventRecorder) WatcherOption {
	return func(w *Watcher) {
		w.recorder = r
	}
}

// WithBackOff sets the reconnect policy. The policy is reset after every
// successful connection.
func WithBackOff(b backoff.BackOff) WatcherOption {
	return func(w *Watcher) {
		if b != nil {
			w.backoff = b
		}
	}
}

// WithMaxAttempts bounds the number of consecutive failed connection
// attempts. Zero means unlimited.
func WithMaxAttempts(n uint) WatcherOption {
	return func(w *Watcher) {
		w.maxAttempts = n
	}
}

// Watcher follows the simulator's status channel.
type Watcher struct {
	url         string
	log         logging.Logger
	recorder    EventRecorder
	backoff     backoff.BackOff
	maxAttempts uint
	readLimit   int64
}

// NewWatcher returns a watcher for the WebSocket endpoint eventsURL.
func NewWatcher(eventsURL string, opts ...WatcherOption) (*Watcher, error) {
	u, err := url.Parse(strings.TrimSpace(eventsURL))
	if err != nil {
		return nil, fmt.Errorf("invalid events URL %q: %w", eventsURL, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("invalid events URL %q: scheme must be ws or wss", eventsURL)
	}
	w := &Watcher{
		url:       u.String(),
		log:       logging.Noop(),
		backoff:   defaultBackOff(),
		readLimit: 1 << 20,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// Watch connects to the status channel and passes every event to handler,
// reconnecting with backoff whenever the connection drops. It returns when
// ctx ends, when handler returns an error, or when the attempt limit is
// exhausted.
func (w *Watcher) Watch(ctx context.Context, handler Handler) error {
	return w.watch(ctx, handler, nil)
}

// Stream is a status channel connection opened before the request whose
// events it should observe. Events that arrive before Watch is called are
// held by the connection and delivered first.
type Stream struct {
	w    *Watcher
	conn *websocket.Conn
}

// Connect opens the status channel once, without retrying. Use it to
// subscribe before submitting work so no early event is missed, then call
// Stream.Watch. Close the stream if it is never watched.
func (w *Watcher) Connect(ctx context.Context) (*Stream, error) {
	conn, err := w.dial(ctx)
	if err != nil {
		return nil, err
	}
	w.log.Info(ctx, "status channel connected", logging.String("url", w.url))
	return &Stream{w: w, conn: conn}, nil
}

// Watch consumes the open connection and then behaves like Watcher.Watch.
// A stream can be watched once.
func (s *Stream) Watch(ctx context.Context, handler Handler) error {
	conn := s.conn
	s.conn = nil
	if conn == nil {
		return errors.New("remote: status stream already consumed")
	}
	return s.w.watch(ctx, handler, conn)
}

// Close releases a stream that was not watched.
func (s *Stream) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	return conn.Close(websocket.StatusNormalClosure, "not watched")
}

func (w *Watcher) watch(ctx context.Context, handler Handler, first *websocket.Conn) error {
	if handler == nil {
		if first != nil {
			_ = first.CloseNow()
		}
		return errors.New("remote: nil status handler")
	}
	defer func() {
		if first != nil {
			_ = first.CloseNow()
		}
	}()
	attempts := uint(0)
	op := func() (struct{}, error) {
		attempts++
		conn := first
		first = nil
		err := w.session(ctx, handler, conn, func() {
			attempts = 0
			w.backoff.Reset()
		})
		var herr *handlerError
		if errors.As(err, &herr) {
			return struct{}{}, backoff.Permanent(herr.err)
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if w.maxAttempts > 0 && attempts >= w.maxAttempts {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(w.backoff),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.log.Warn(ctx, "status channel disconnected",
				logging.String("url", w.url),
				logging.Err(err),
				logging.Duration("retry_in", next),
			)
		}),
	)
	return err
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }
func (e *handlerError) Unwrap() error { return e.err }

func (w *Watcher) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrRemote, w.url, err)
	}
	conn.SetReadLimit(w.readLimit)
	return conn, nil
}

// session runs one connection until it fails, dialing first when conn is
// nil. connected is called once the connection is up.
func (w *Watcher) session(ctx context.Context, handler Handler, conn *websocket.Conn, connected func()) error {
	if conn == nil {
		var err error
		if conn, err = w.dial(ctx); err != nil {
			return err
		}
		w.log.Info(ctx, "status channel connected", logging.String("url", w.url))
	}
	defer conn.CloseNow()
	connected()

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return fmt.Errorf("%w: status channel closed by server", ErrRemote)
			}
			return fmt.Errorf("%w: read status: %w", ErrRemote, err)
		}

		ev, err := decodeEvent(raw)
		if err != nil {
			w.log.Warn(ctx, "malformed status event", logging.Err(err))
			continue
		}
		if w.recorder != nil {
			w.recorder.ObserveStatusEvent(string(ev.Status))
		}
		if !ev.Status.Known() {
			w.log.Warn(ctx, "unknown status event skipped", logging.String("status", string(ev.Status)))
			continue
		}
		if err := handler(ctx, ev); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "watch finished")
			return &handlerError{err: err}
		}
	}
}

// decodeEvent accepts an event object or a JSON string holding one.
func decodeEvent(raw json.RawMessage) (Event, error) {
	data := bytes.TrimSpace(raw)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Event{}, err
		}
		data = []byte(inner)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode status event: %w", err)
	}
	return ev, nil
}
