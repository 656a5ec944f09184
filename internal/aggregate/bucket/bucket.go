// Package bucket implements C5, the minute bucket aggregator: trade
// (TBV/TSV) and liquidation (LQL/LQS) events are accumulated per
// (venue,symbol,minute) and flushed into PerpSamples on a 15s tick.
//
// Grounded on the teacher's async.Batcher[T] flush-timer/buffer-swap
// shape (internal/infrastructure/async/batch.go), generalized from a
// single size/time-triggered byte buffer to a sharded map of time
// buckets flushed by age rather than by size.
package bucket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/perpingest/internal/ingest/model"
)

// Side distinguishes which accumulator field an incoming event feeds.
type Side int

const (
	TakerBuy Side = iota
	TakerSell
	LiqLong
	LiqShort
)

type key struct {
	venue  model.Exchange
	symbol string
	minute int64
}

type tradeBucket struct {
	tbv, tsv float64
}

type liqBucket struct {
	lql, lqs float64
}

// Flusher is called with the samples produced by one flush pass; it is
// expected to hand them to C6 (row merger) and onward to C7.
type Flusher func(ctx context.Context, samples []*model.PerpSample)

// Aggregator owns the in-memory bucket maps and the flush ticker.
type Aggregator struct {
	mu      sync.Mutex
	trades  map[key]*tradeBucket
	liqs    map[key]*liqBucket
	flush   Flusher
	log     zerolog.Logger
	nowFunc func() time.Time
}

func New(flush Flusher, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		trades:  make(map[key]*tradeBucket),
		liqs:    make(map[key]*liqBucket),
		flush:   flush,
		log:     log.With().Str("component", "bucket").Logger(),
		nowFunc: time.Now,
	}
}

// AddTrade records a taker trade of qty at tsMillis into the bucket for
// (venue,symbol,minute). Side is resolved by the caller from the venue's
// raw field per §4.5: Binance `!m`=buy, Bybit `S=="Buy"`, OKX
// `side=="buy"`.
func (a *Aggregator) AddTrade(venue model.Exchange, symbol string, tsMillis int64, qty float64, side Side) {
	k := key{venue: venue, symbol: symbol, minute: minuteFloor(tsMillis)}

	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.trades[k]
	if !ok {
		b = &tradeBucket{}
		a.trades[k] = b
	}
	switch side {
	case TakerBuy:
		b.tbv += qty
	case TakerSell:
		b.tsv += qty
	}
}

// AddLiquidation records a liquidated position's notional (price*qty) at
// tsMillis. Side is resolved by the caller from the venue-inverted raw
// field per §4.5: Binance BUY->short, SELL->long; Bybit Buy->long,
// Sell->short; OKX buy->short, sell->long.
func (a *Aggregator) AddLiquidation(venue model.Exchange, symbol string, tsMillis int64, notional float64, side Side) {
	k := key{venue: venue, symbol: symbol, minute: minuteFloor(tsMillis)}

	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.liqs[k]
	if !ok {
		b = &liqBucket{}
		a.liqs[k] = b
	}
	switch side {
	case LiqLong:
		b.lql += notional
	case LiqShort:
		b.lqs += notional
	}
}

// Run drives the 15s flush tick until ctx is cancelled, then performs one
// final drain of every remaining bucket regardless of age (graceful
// drain, §5: "flush all due buckets, terminate").
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flushDue(ctx, false)
		case <-ctx.Done():
			a.flushDue(ctx, true)
			return
		}
	}
}

// ForceFlushAll flushes every bucket regardless of age. Used by the
// shutdown drain path and by tests that don't want to wait on the ticker.
func (a *Aggregator) ForceFlushAll(ctx context.Context) {
	a.flushDue(ctx, true)
}

// flushDue flushes all buckets whose minute is older than now-60s, or
// every bucket unconditionally when force is true (shutdown drain).
func (a *Aggregator) flushDue(ctx context.Context, force bool) {
	cutoff := a.nowFunc().UnixMilli() - 60_000

	a.mu.Lock()
	var samples []*model.PerpSample

	for k, b := range a.trades {
		if !force && k.minute >= cutoff {
			continue
		}
		tbv, tsv := b.tbv, b.tsv
		samples = append(samples, &model.PerpSample{
			TS: k.minute, Symbol: k.symbol, Exchange: k.venue,
			Spec: model.NewPerpSpec("bucket"),
			TBV:  &tbv, TSV: &tsv,
		})
		delete(a.trades, k)
	}
	for k, b := range a.liqs {
		if !force && k.minute >= cutoff {
			continue
		}
		lql, lqs := b.lql, b.lqs
		samples = append(samples, &model.PerpSample{
			TS: k.minute, Symbol: k.symbol, Exchange: k.venue,
			Spec: model.NewPerpSpec("bucket"),
			LQL:  &lql, LQS: &lqs,
		})
		delete(a.liqs, k)
	}
	a.mu.Unlock()

	if len(samples) > 0 && a.flush != nil {
		a.flush(ctx, samples)
	}
}

func minuteFloor(ms int64) int64 {
	return ms - ms%60_000
}
