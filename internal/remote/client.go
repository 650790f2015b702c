// Package remote talks to the simulator service: it submits and stops
// simulations over HTTP and follows the status channel over WebSocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalsfoundry/scenario-composer/internal/logging"
	"github.com/signalsfoundry/scenario-composer/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	routeStart = "start"
	routeStop  = "stop"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10

	defaultTimeout = 30 * time.Second
)

// RequestRecorder observes every simulator request. code is 0 when no
// response was received.
type RequestRecorder interface {
	ObserveRequest(route string, code int, d time.Duration)
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for request logging.
func WithLogger(log logging.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRequestRecorder reports each request to r.
func WithRequestRecorder(r RequestRecorder) ClientOption {
	return func(c *Client) {
		c.recorder = r
	}
}

// Client submits scenario documents to a simulator service.
type Client struct {
	base     *url.URL
	http     *http.Client
	log      logging.Logger
	recorder RequestRecorder
}

// NewClient returns a client for the simulator at baseURL, which must be
// an absolute http or https URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: defaultTimeout},
		log:  logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid simulator URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid simulator URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid simulator URL %q: missing host", raw)
	}
	return u, nil
}

// BaseURL returns the simulator URL the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Start asks the simulator to run document. The document is sent
// verbatim as the request body.
func (c *Client) Start(ctx context.Context, document string) error {
	return c.post(ctx, routeStart, "application/xml", []byte(document))
}

// Stop asks the simulator to abort the running simulation.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, routeStop, "", nil)
}

func (c *Client) endpoint(route string) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + route
	return u.String()
}

func (c *Client) post(ctx context.Context, route, contentType string, body []byte) (err error) {
	ctx, reqLog := logging.WithRequestLogger(ctx, c.log)
	target := c.endpoint(route)
	ctx, span := observability.StartSpan(ctx, "remote."+route, trace.SpanKindClient,
		attribute.String("http.request.method", http.MethodPost),
		attribute.String("url.full", target),
		attribute.Int("http.request.body.size", len(body)),
	)
	start := time.Now()
	code := 0
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveRequest(route, code, time.Since(start))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build %s request: %w", ErrRemote, route, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		reqLog.Warn(ctx, "simulator request failed",
			logging.String("route", route),
			logging.Err(err),
		)
		return fmt.Errorf("%w: %s: %w", ErrRemote, route, err)
	}
	defer resp.Body.Close()
	code = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", code))

	if code >= 200 && code < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		reqLog.Info(ctx, "simulator request accepted",
			logging.String("route", route),
			logging.Int("status", code),
			logging.Duration("elapsed", time.Since(start)),
		)
		return nil
	}

	rerr := &RemoteError{StatusCode: code, Message: errorMessage(resp)}
	reqLog.Warn(ctx, "simulator rejected request",
		logging.String("route", route),
		logging.Int("status", code),
		logging.String("message", rerr.Message),
	)
	return rerr
}

// errorMessage extracts a human readable reason from an error response:
// the JSON "error" field when present, else the trimmed body, else the
// status text.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && strings.TrimSpace(payload.Error) != "" {
		return strings.TrimSpace(payload.Error)
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
