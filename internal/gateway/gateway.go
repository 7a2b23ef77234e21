// Package gateway makes outbound HTTP calls replayable.
//
// Every successful (2xx) response is cached under a hash of the request and
// the event number current when it was made. While a replay is running the
// replay context's API mode decides whether a call is served from that
// cache, made live, or both, so that replayed history observes the same
// responses it observed the first time.
package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roach88/chronicle/internal/canon"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/replay"
	"github.com/roach88/chronicle/internal/store"
)

// ErrNoCachedResponseDuringReplay is returned in CacheOnly mode when no
// response was recorded for the request at or before the replay position.
var ErrNoCachedResponseDuringReplay = errors.New("no cached response during replay")

// Positioner reports the current durable event number.
// *eventstore.Store implements it.
type Positioner interface {
	LastEventNumber(ctx context.Context) (int64, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Cached is true when the response was served from the cache.
	Cached bool
}

// Client performs cache-aware HTTP calls.
type Client struct {
	db      *store.Store
	events  Positioner
	rc      *replay.Context
	http    *http.Client
	now     func() time.Time
	log     *slog.Logger
	metrics metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for live calls. Its transport is
// wrapped for tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces time.Now for cache timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithMetrics(m metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client.
func New(db *store.Store, events Positioner, rc *replay.Context, opts ...Option) *Client {
	c := &Client{
		db:      db,
		events:  events,
		rc:      rc,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
		log:     slog.Default(),
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.http
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = otelhttp.NewTransport(base)
	c.http = &hc

	c.log = c.log.With(slog.String("component", "gateway"))
	return c
}

// Do performs req according to the replay state. Non-2xx responses are
// returned as is and never cached.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	key := canon.RequestKey(req.Method, req.URL.String(), body)

	if !c.rc.IsReplaying() {
		position, err := c.events.LastEventNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
		return c.live(ctx, req, key, position)
	}

	position := c.rc.Position()
	switch mode := c.rc.APIMode(); mode {
	case replay.ExternalOnly:
		return c.live(ctx, req, key, position)

	case replay.CacheOnly, replay.CacheThenExternal:
		resp, err := c.lookup(ctx, key, position)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			c.metrics.GatewayCacheHit()
			return resp, nil
		}
		c.metrics.GatewayCacheMiss()
		if mode == replay.CacheOnly {
			return nil, fmt.Errorf("%w: %s %s at event %d",
				ErrNoCachedResponseDuringReplay, req.Method, req.URL.Redacted(), position)
		}
		c.log.Debug("cache miss during replay, calling out", "url", req.URL.Redacted(), "position", position)
		return c.live(ctx, req, key, position)

	default:
		return nil, fmt.Errorf("gateway: unknown API replay mode %q", mode)
	}
}

func (c *Client) live(ctx context.Context, req *http.Request, key string, position int64) (*Response, error) {
	httpResp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		c.metrics.GatewayLiveCall(false)
		return nil, fmt.Errorf("gateway: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.GatewayLiveCall(false)
		return nil, fmt.Errorf("gateway: read response of %s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	resp := &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header.Clone(), Body: data}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.metrics.GatewayLiveCall(ok)
	if !ok {
		c.log.Debug("non-2xx response not cached", "url", req.URL.Redacted(), "status", resp.StatusCode)
		return resp, nil
	}

	if err := c.save(ctx, key, position, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// lookup returns the newest response recorded at or before position, or
// nil when there is none.
func (c *Client) lookup(ctx context.Context, key string, position int64) (*Response, error) {
	var (
		resp   Response
		header string
	)
	err := c.db.DB().QueryRowContext(ctx, `
		SELECT status, header, body FROM api_responses
		WHERE request_key = ? AND event_number <= ?
		ORDER BY event_number DESC
		LIMIT 1
	`, key, position).Scan(&resp.StatusCode, &header, &resp.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: read cached response: %w", err)
	}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("gateway: decode cached header: %w", err)
	}
	resp.Cached = true
	return &resp, nil
}

func (c *Client) save(ctx context.Context, key string, position int64, resp *Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("gateway: encode header: %w", err)
	}
	_, err = c.db.DB().ExecContext(ctx, `
		INSERT INTO api_responses (request_key, event_number, status, header, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_key, event_number) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			created_at = excluded.created_at
	`, key, position, resp.StatusCode, string(header), resp.Body, store.Nanos(c.now()))
	if err != nil {
		return fmt.Errorf("gateway: cache response: %w", err)
	}
	return nil
}

// readBody drains req.Body and puts an equivalent reader back.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("gateway: read request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}
