package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Decoder turns a raw HTTP response body into the venue's native JSON
// records. Most of these endpoints return a bare JSON array; venues that
// wrap it in an envelope (OKX's {"data": [...]}) supply their own decoder.
type Decoder func(body []byte) ([]RawRecord, error)

// DecodeJSONArray is the default Decoder for endpoints returning a bare
// JSON array of objects.
func DecodeJSONArray(body []byte) ([]RawRecord, error) {
	var rows []RawRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Fetcher is the public C3 contract: paged HTTP client with direct/proxy
// pools, per-request timeouts, 429/5xx retry+backoff, and rolling stats.
type Fetcher struct {
	venue   string
	pools   map[ConnKind]*ClientPool
	guards  map[string]*Guard  // keyed by endpoint name
	stats   map[string]*Stats  // keyed by endpoint name
	policy  map[string]Policy  // keyed by endpoint name
	cache   *ResponseCache
	log     zerolog.Logger
	nowFunc func() time.Time

	// Observe and ObserveLatency are optional hooks for the caller's metrics
	// registry; both are nil-safe (Fetcher works standalone without them).
	Observe        func(endpoint, outcome string)
	ObserveLatency func(endpoint string, d time.Duration)
}

// NewFetcher wires one Fetcher per venue; pools is pre-built by the caller
// (NewClientPool per connKind) so the direct/proxy split and proxy
// credentials are configured once at startup.
func NewFetcher(venue string, pools map[ConnKind]*ClientPool, cache *ResponseCache, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		venue:   venue,
		pools:   pools,
		guards:  make(map[string]*Guard),
		stats:   make(map[string]*Stats),
		policy:  make(map[string]Policy),
		cache:   cache,
		log:     log,
		nowFunc: time.Now,
	}
}

// RegisterEndpoint installs the RateLimitPolicy for one venue-endpoint,
// creating its Guard (limiter+breaker) and Stats.
func (f *Fetcher) RegisterEndpoint(endpoint string, p Policy) {
	f.policy[endpoint] = p
	f.guards[endpoint] = NewGuard(f.venue+"."+endpoint, p)
	f.stats[endpoint] = NewStats()
}

// Stats returns a point-in-time snapshot for heartbeat logging.
func (f *Fetcher) Stats(endpoint string) Snapshot {
	if s, ok := f.stats[endpoint]; ok {
		return s.Snapshot()
	}
	return Snapshot{}
}

// Fetch performs one guarded, retried HTTP GET and decodes the body via dec.
// It is the primitive both single-shot endpoints (OI, funding snapshots)
// and the paging helper FetchPaged build on. symbol is recorded against the
// endpoint's rolling stats on unrecoverable failure so a heartbeat can
// report which symbols are failing; pass "" if the caller has no single
// symbol in scope.
func (f *Fetcher) Fetch(ctx context.Context, endpoint, symbol string, kind ConnKind, req *http.Request, dec Decoder) ([]RawRecord, error) {
	pool, ok := f.pools[kind]
	if !ok {
		return nil, fmt.Errorf("fetch: no pool configured for connKind %q", kind)
	}
	guard, ok := f.guards[endpoint]
	if !ok {
		return nil, fmt.Errorf("fetch: endpoint %q not registered", endpoint)
	}
	policy := f.policy[endpoint]
	stats := f.stats[endpoint]

	cacheKey := f.venue + "|" + endpoint + "|" + req.URL.String()
	if cached, found := f.cache.Get(ctx, cacheKey); found {
		return dec(cached)
	}

	// Jittered sleep before every paged request (§4.3).
	delay := policy.PageDelay(kind)
	if delay > 0 {
		jitter := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := guard.Wait(ctx); err != nil {
		return nil, err
	}

	deadline := f.nowFunc().Add(2 * time.Minute) // wall-clock budget for indefinite 5xx/418 retry
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := guard.Execute(func() (any, error) {
			return f.doOnce(ctx, pool, endpoint, kind, req, stats)
		})
		if err == nil {
			body := result.([]byte)
			rows, decErr := dec(body)
			if decErr != nil {
				return nil, fmt.Errorf("%w: %v", errSchema, decErr)
			}
			stats.RecordSuccess()
			if f.Observe != nil {
				f.Observe(endpoint, "success")
			}
			if ttl := 5 * time.Second; ttl > 0 {
				f.cache.Set(ctx, cacheKey, body, ttl)
			}
			return rows, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			if symbol != "" {
				stats.RecordFailedSymbol(symbol)
			}
			return nil, fmt.Errorf("%w: circuit open for %s.%s", ErrUnrecoverable, f.venue, endpoint)
		}

		var rl *rateLimitedErr
		var transient *transientErr
		switch {
		case errors.As(err, &rl):
			stats.RecordRateLimited(kind)
			if f.Observe != nil {
				f.Observe(endpoint, "rate_limited")
			}
			maxRetries := policy.MaxRetries
			if maxRetries <= 0 {
				maxRetries = 3
			}
			if attempt >= maxRetries {
				if symbol != "" {
					stats.RecordFailedSymbol(symbol)
				}
				return nil, ErrRetriesExhausted
			}
			backoff := policy.BaseBackoff
			if backoff <= 0 {
				backoff = 500 * time.Millisecond
			}
			sleep := backoff << uint(attempt)
			lastErr = err
			if err := sleepOrDone(ctx, sleep); err != nil {
				return nil, err
			}
			continue
		case errors.As(err, &transient):
			stats.RecordTransient(kind)
			if f.Observe != nil {
				f.Observe(endpoint, "transient")
			}
			if f.nowFunc().After(deadline) {
				if symbol != "" {
					stats.RecordFailedSymbol(symbol)
				}
				return nil, fmt.Errorf("%w: transient retry budget exhausted", err)
			}
			sleep := time.Duration(800+rand.Intn(400)) * time.Millisecond
			lastErr = err
			if err := sleepOrDone(ctx, sleep); err != nil {
				return nil, err
			}
			continue
		default:
			if f.Observe != nil {
				f.Observe(endpoint, "error")
			}
			if symbol != "" {
				stats.RecordFailedSymbol(symbol)
			}
			return nil, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
		}
	}
	_ = lastErr
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errSchema = errors.New("fetch: schema/parse error")

type rateLimitedErr struct{ status int }

func (e *rateLimitedErr) Error() string { return fmt.Sprintf("fetch: HTTP %d rate limited", e.status) }

type transientErr struct{ status int }

func (e *transientErr) Error() string { return fmt.Sprintf("fetch: HTTP %d transient", e.status) }

func (f *Fetcher) doOnce(ctx context.Context, pool *ClientPool, endpoint string, kind ConnKind, req *http.Request, stats *Stats) ([]byte, error) {
	stats.RecordRequest(kind)
	start := f.nowFunc()
	resp, err := pool.Do(ctx, req)
	if f.ObserveLatency != nil {
		f.ObserveLatency(endpoint, f.nowFunc().Sub(start))
	}
	if err != nil {
		return nil, &transientErr{status: 0}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &transientErr{status: resp.StatusCode}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &rateLimitedErr{status: resp.StatusCode}
	case resp.StatusCode == 418 || resp.StatusCode >= 500:
		return nil, &transientErr{status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetch: HTTP %d: %s", resp.StatusCode, string(body))
	default:
		return body, nil
	}
}
