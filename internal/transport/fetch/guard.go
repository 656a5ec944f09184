package fetch

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Guard composes the DOMAIN STACK's token-bucket admission (x/time/rate,
// replacing the teacher's hand-rolled limiter) and circuit breaker
// (gobreaker), additive to each other and to the 429/5xx retry policy in
// Fetcher: the limiter paces requests before they are sent, the breaker
// short-circuits a venue-endpoint that is sustainedly failing (§4.3).
type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds one Guard per venue-endpoint from its Policy.
func NewGuard(name string, p Policy) *Guard {
	limit := rate.Limit(p.SustainedRPS)
	if p.SustainedRPS <= 0 {
		limit = rate.Inf
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Guard{
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Wait blocks until the token bucket admits the next request.
func (g *Guard) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Execute runs fn through the circuit breaker; when the breaker is open,
// gobreaker.ErrOpenState is returned without calling fn.
func (g *Guard) Execute(fn func() (any, error)) (any, error) {
	return g.breaker.Execute(fn)
}

// State exposes the breaker's current state for heartbeat/status reporting.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}
