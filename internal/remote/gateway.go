package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/sadhana/internal/journal"
)

// Endpoint paths on the tracker API.
const (
	TrackerPath = "/v1/sadana-tracker"
	CatalogPath = "/v1/sadanas"
	UserPath    = "/v1/user"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultFetchLimit   = 100
	DefaultConcurrency  = 4
	requestIDHeader     = "X-Request-ID"
	maxErrorBodyPreview = 512
)

// Gateway talks to the remote tracker. It holds no cached state; every call
// is a network round trip.
//
// A Gateway is safe for concurrent use.
type Gateway struct {
	baseURL     string
	client      *http.Client
	timeout     time.Duration
	limiter     *rate.Limiter
	fetchLimit  int
	concurrency int
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the base client. The bearer transport wraps its
// Transport.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

// WithTimeout bounds every request. Zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithFetchLimit sets the page size FetchAll requests.
func WithFetchLimit(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.fetchLimit = n
		}
	}
}

// WithConcurrency caps how many pages FetchAll requests at once.
func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTracerProvider sets the tracer provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		if tp != nil {
			g.tracer = tp.Tracer("github.com/roach88/sadhana/internal/remote")
		}
	}
}

// New creates a gateway for baseURL authenticated with accessToken.
func New(baseURL, accessToken string, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      http.DefaultClient,
		timeout:     DefaultTimeout,
		fetchLimit:  DefaultFetchLimit,
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("github.com/roach88/sadhana/internal/remote"),
	}
	for _, opt := range opts {
		opt(g)
	}

	base := g.client
	g.client = &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   base.Transport,
		},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
	}
	return g
}

// FetchPage fetches one page of day buckets and flattens it, newest first.
// Duplicates are preserved.
func (g *Gateway) FetchPage(ctx context.Context, page, pageSize int) (journal.RemotePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = g.fetchLimit
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))

	body, err := g.do(ctx, http.MethodGet, TrackerPath+"?"+q.Encode(), nil)
	if err != nil {
		return journal.RemotePage{}, fmt.Errorf("fetch page %d: %w", page, err)
	}
	rp, err := decodeTrackerPage(body)
	if err != nil {
		return journal.RemotePage{}, fmt.Errorf("fetch page %d: %w", page, err)
	}
	return rp, nil
}

// FetchAll fetches page 1, then every remaining page concurrently, and
// returns the concatenation sorted newest first.
func (g *Gateway) FetchAll(ctx context.Context) (journal.Log, error) {
	first, err := g.FetchPage(ctx, 1, g.fetchLimit)
	if err != nil {
		return nil, err
	}
	if first.TotalPages <= 1 {
		return first.Items, nil
	}

	pages := make([]journal.Log, first.TotalPages)
	pages[0] = first.Items

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for p := 2; p <= first.TotalPages; p++ {
		p := p
		eg.Go(func() error {
			rp, err := g.FetchPage(egCtx, p, g.fetchLimit)
			if err != nil {
				return err
			}
			pages[p-1] = rp.Items
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	all := journal.Log{}
	for _, items := range pages {
		all = append(all, items...)
	}
	return journal.Sorted(all), nil
}

// Submit records ev remotely. A duplicate for the same day is reported as a
// Conflict error.
func (g *Gateway) Submit(ctx context.Context, ev journal.Event) error {
	_, err := g.do(ctx, http.MethodPost, TrackerPath, eventBody{DayKey: ev.DayKey, ItemID: ev.ItemID})
	if err != nil {
		return withKey(fmt.Errorf("submit %s: %w", ev.Key(), err), ev.Key())
	}
	return nil
}

// Remove deletes the remote record for ev.
func (g *Gateway) Remove(ctx context.Context, ev journal.Event) error {
	_, err := g.do(ctx, http.MethodDelete, TrackerPath, eventBody{DayKey: ev.DayKey, ItemID: ev.ItemID})
	if err != nil {
		return withKey(fmt.Errorf("remove %s: %w", ev.Key(), err), ev.Key())
	}
	return nil
}

// Catalog fetches every trackable item, active or not.
func (g *Gateway) Catalog(ctx context.Context) ([]journal.Item, error) {
	body, err := g.do(ctx, http.MethodGet, CatalogPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return decodeCatalog(body)
}

// Profile fetches the authenticated user's record.
func (g *Gateway) Profile(ctx context.Context) (Profile, error) {
	body, err := g.do(ctx, http.MethodGet, UserPath, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	return decodeProfile(body)
}

// UpdateDecay pushes the decay preference.
func (g *Gateway) UpdateDecay(ctx context.Context, decay int) error {
	payload := struct {
		DecayPoints int `json:"decayPoints"`
	}{decay}
	if _, err := g.do(ctx, http.MethodPatch, UserPath, payload); err != nil {
		return fmt.Errorf("update decay: %w", err)
	}
	return nil
}

// do performs one request and returns the body of a 2xx response. Failures
// come back as *Error, except cancellation of ctx itself which is returned
// as ctx.Err().
func (g *Gateway) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, span := g.tracer.Start(ctx, "remote "+method+" "+strings.SplitN(path, "?", 2)[0],
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &Error{Kind: Transient, Message: "rate limited", Err: err}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Kind: Hard, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: Hard, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, newRequestID())

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			span.SetStatus(codes.Error, "canceled")
			return nil, ctx.Err()
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			span.SetStatus(codes.Error, "timeout")
			return nil, &Error{Kind: Timeout, Message: "Request timed out", Err: err}
		default:
			span.SetStatus(codes.Error, "network")
			g.logger.Debug("remote request failed",
				zap.String("method", method), zap.String("path", path), zap.Error(err))
			return nil, &Error{Kind: Transient, Message: failureMessage(0, "", ""), Err: err}
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: Timeout, Status: resp.StatusCode, Message: "Request timed out", Err: err}
		}
		return nil, &Error{Kind: Transient, Status: resp.StatusCode, Message: "read response", Err: err}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	g.logger.Debug("remote request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	eb := decodeErrorBody(body)
	raw := string(body)
	if len(raw) > maxErrorBodyPreview {
		raw = raw[:maxErrorBodyPreview]
	}
	rerr := classify(resp.StatusCode, failureMessage(resp.StatusCode, eb.Message, raw), eb.Code, raw)
	if rerr.Kind == Conflict {
		g.logger.Info("remote conflict", zap.String("path", path), zap.String("message", rerr.Message))
	} else {
		span.SetStatus(codes.Error, rerr.Message)
	}
	return nil, rerr
}

// withKey attaches the event key to a wrapped *Error.
func withKey(err error, k journal.Key) error {
	var re *Error
	if errors.As(err, &re) {
		re.Key = &k
	}
	return err
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
