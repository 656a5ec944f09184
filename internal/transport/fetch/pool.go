package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ClientPool is a connKind-scoped *http.Client, grounded on the teacher's
// httpclient.ClientPool (jittered pacing + bounded concurrency), generalized
// here into the direct-vs-proxy split §4.3 requires: one pool per connKind,
// each with its own client, concurrency ceiling, and page-delay
// distribution.
type ClientPool struct {
	kind      ConnKind
	client    *http.Client
	semaphore chan struct{}
	log       zerolog.Logger
}

// NewClientPool builds a pool for one connKind. When proxyURL is non-empty
// the client routes every request through it (basic auth supported via
// userinfo in proxyURL), per §6 ("Proxy support is HTTP/HTTPS with basic
// auth, used interchangeably with direct by the fetcher").
func NewClientPool(kind ConnKind, maxConcurrency int, timeout time.Duration, proxyURL string, log zerolog.Logger) (*ClientPool, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("fetch: invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}

	return &ClientPool{
		kind:      kind,
		client:    &http.Client{Timeout: timeout, Transport: transport},
		semaphore: make(chan struct{}, maxConcurrency),
		log:       log,
	}, nil
}

// Do executes a single request under the pool's concurrency ceiling. Retry
// and backoff policy live in Fetcher, not here; this layer only bounds
// parallelism and executes the round trip.
func (p *ClientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.client.Do(req.WithContext(ctx))
}
