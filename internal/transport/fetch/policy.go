// Package fetch implements the rate-limited, paged REST fetcher (C3): a
// direct/proxy connection split, per-venue-endpoint token-bucket admission,
// a circuit breaker additive to 429/5xx retry+backoff, and a rolling stats
// snapshot for heartbeat logging.
package fetch

import (
	"errors"
	"time"
)

// ConnKind selects which connection pool a request is routed through.
type ConnKind string

const (
	Direct ConnKind = "direct"
	Proxy  ConnKind = "proxy"
)

// ErrRetriesExhausted is returned when a 429 response survives every
// configured retry attempt (§4.3 error policy).
var ErrRetriesExhausted = errors.New("fetch: retries exhausted")

// ErrUnrecoverable marks an error class §4.3 says to record and abandon
// rather than retry.
var ErrUnrecoverable = errors.New("fetch: unrecoverable error")

// Policy is a venue-endpoint's RateLimitPolicy value (§9 "global
// retry/backoff knobs → a RateLimitPolicy value"), composed at
// configuration time and passed to the fetcher rather than read from
// ambient constants.
type Policy struct {
	BaseURL        string
	MaxPageSize    int
	DirectDelay    time.Duration
	ProxyDelay     time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	SustainedRPS   float64
	Burst          int
	DirectShare    float64
}

// PageDelay returns the connKind-dependent page delay the jittered sleep is
// drawn from (§4.3: "uniform(0, pageDelay) before each paged request").
func (p Policy) PageDelay(kind ConnKind) time.Duration {
	if kind == Proxy {
		return p.ProxyDelay
	}
	return p.DirectDelay
}

// RawRecord is one decoded JSON object/array element from a venue response,
// left as a map so per-endpoint decoders can type-assert the fields they
// need without this package knowing every venue's wire shape.
type RawRecord = map[string]any
