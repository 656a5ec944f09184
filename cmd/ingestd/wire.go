package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sawpanic/perpingest/internal/aggregate/bucket"
	"github.com/sawpanic/perpingest/internal/aggregate/merge"
	"github.com/sawpanic/perpingest/internal/config"
	"github.com/sawpanic/perpingest/internal/httpapi"
	"github.com/sawpanic/perpingest/internal/infrastructure/async"
	"github.com/sawpanic/perpingest/internal/infrastructure/db"
	"github.com/sawpanic/perpingest/internal/ingest/indicator"
	"github.com/sawpanic/perpingest/internal/ingest/model"
	appmetrics "github.com/sawpanic/perpingest/internal/metrics"
	"github.com/sawpanic/perpingest/internal/orchestrate"
	"github.com/sawpanic/perpingest/internal/sink"
	"github.com/sawpanic/perpingest/internal/storage"
	"github.com/sawpanic/perpingest/internal/transport/fetch"
	"github.com/sawpanic/perpingest/internal/transport/ws"
)

// restMetrics lists every REST-backfilled metric this pipeline ingests, in
// the order their per-venue BackfillUnits are registered.
var restMetrics = []string{"ohlcv", "oi", "pfr", "lsr"}

// App wires every completed component into one running process: C1-C10
// plus the ambient metrics/HTTP surface.
type App struct {
	cfg    config.Config
	log    zerolog.Logger
	dbm    *db.Manager
	gw     *storage.Gateway
	me     *storage.MetricsEngine
	snk    *sink.Sink
	reg    *appmetrics.Registry
	status *httpapi.Status
	srv    *http.Server

	fetchers map[model.Exchange]*fetch.Fetcher
	pools    map[fetch.ConnKind]*fetch.ClientPool

	bucketAgg  *bucket.Aggregator
	wsEvents   chan ws.Event
	wsHeart    chan ws.Heartbeat
	sessions   map[model.Exchange]*ws.Session
}

// buildApp constructs every component but does not start anything.
func buildApp(cfg config.Config, log zerolog.Logger) (*App, error) {
	dbm, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("ingestd: connect database: %w", err)
	}

	gw := storage.NewGateway(dbm.DB(), log)
	me := storage.NewMetricsEngine(gw, log)
	snk := sink.New(dbm.DB(), log)

	promReg := prometheus.NewRegistry()
	reg := appmetrics.New(promReg)
	status := httpapi.NewStatus(dbm)
	status.SetUpsertLatencyFunc(gw.Latency)
	srv := httpapi.NewServer(cfg.HTTP.ListenAddr, status, promReg)

	a := &App{
		cfg: cfg, log: log, dbm: dbm, gw: gw, me: me, snk: snk,
		reg: reg, status: status, srv: srv,
		fetchers: make(map[model.Exchange]*fetch.Fetcher),
		wsEvents: make(chan ws.Event, 4096),
		wsHeart:  make(chan ws.Heartbeat, 64),
		sessions: make(map[model.Exchange]*ws.Session),
	}

	a.pools, err = buildPools(cfg, log)
	if err != nil {
		return nil, err
	}

	a.bucketAgg = bucket.New(a.flushSamples, log)

	for _, exch := range model.AllExchanges {
		vc, ok := cfg.Venues[string(exch)]
		if !ok {
			continue
		}
		f := fetch.NewFetcher(string(exch), a.pools, fetch.NewResponseCache(nil), log)
		venueLabel := string(exch)
		f.Observe = func(endpoint, outcome string) {
			a.reg.FetchRequests.WithLabelValues(venueLabel, endpoint, outcome).Inc()
			if outcome == "rate_limited" || outcome == "transient" {
				a.reg.FetchRateLimited.WithLabelValues(venueLabel, endpoint).Inc()
			}
		}
		f.ObserveLatency = func(endpoint string, d time.Duration) {
			a.reg.FetchLatency.WithLabelValues(venueLabel, endpoint).Observe(d.Seconds())
		}
		for name, ep := range vc.Endpoints {
			f.RegisterEndpoint(name, fetch.Policy{
				BaseURL: ep.BaseURL, MaxPageSize: ep.MaxPageSize,
				DirectDelay: ep.DirectDelay, ProxyDelay: ep.ProxyDelay,
				RequestTimeout: ep.RequestTimeout, MaxRetries: ep.MaxRetries,
				BaseBackoff: ep.BaseBackoff, SustainedRPS: ep.SustainedRPS,
				Burst: ep.Burst, DirectShare: ep.DirectShare,
			})
		}
		a.fetchers[exch] = f

		dec := venueDecoder(exch)
		symbols := venueInstrumentIDs(exch, cfg.Symbols)
		sess := ws.NewSession(string(exch), vc.WSBaseURL, symbols, dec, a.wsEvents, a.wsHeart, log)
		sess.OnConnect = func(venue string) {
			a.reg.WSConnections.WithLabelValues(venue).Inc()
			a.snk.Heartbeat(context.Background(), venue, "ws", sink.StatusConnected, "websocket connected")
		}
		sess.OnReconnect = func(venue string) { a.reg.WSReconnects.WithLabelValues(venue).Inc() }
		a.sessions[exch] = sess
	}

	return a, nil
}

func buildPools(cfg config.Config, log zerolog.Logger) (map[fetch.ConnKind]*fetch.ClientPool, error) {
	pools := make(map[fetch.ConnKind]*fetch.ClientPool)
	direct, err := fetch.NewClientPool(fetch.Direct, 16, 30*time.Second, "", log)
	if err != nil {
		return nil, err
	}
	pools[fetch.Direct] = direct

	if cfg.Proxy.Enabled() {
		proxyURL := cfg.Proxy.URL
		if cfg.Proxy.User != "" {
			u, err := url.Parse(cfg.Proxy.URL)
			if err == nil {
				u.User = url.UserPassword(cfg.Proxy.User, cfg.Proxy.Password)
				proxyURL = u.String()
			}
		}
		proxy, err := fetch.NewClientPool(fetch.Proxy, 16, 30*time.Second, proxyURL, log)
		if err != nil {
			return nil, err
		}
		pools[fetch.Proxy] = proxy
	}
	return pools, nil
}

func venueDecoder(exch model.Exchange) ws.Decoder {
	switch exch {
	case model.Bybit:
		return ws.BybitDecoder{}
	case model.OKX:
		return ws.OKXDecoder{}
	default:
		return ws.BinanceDecoder{}
	}
}

func venueInstrumentIDs(exch model.Exchange, canonical []string) []string {
	var out []string
	for _, c := range canonical {
		if c == model.MarketSymbol {
			continue // MT is computed, not subscribed
		}
		if id, ok := venueInstrumentID(exch, c); ok {
			out = append(out, id)
		}
	}
	return out
}

// flushSamples is the bucket aggregator's Flusher: merge then upsert.
func (a *App) flushSamples(ctx context.Context, samples []*model.PerpSample) {
	merged := merge.Merge(samples)
	if err := a.gw.Upsert(ctx, merged); err != nil {
		a.snk.Error(ctx, "all", "bucket", "flush upsert failed", err)
		a.reg.StorageUpsertErrors.WithLabelValues("perp_data").Inc()
	}
	a.reg.StorageUpsertRows.WithLabelValues("perp_data").Add(float64(len(merged)))

	seen := make(map[model.Exchange]struct{}, len(merged))
	for _, s := range merged {
		if _, ok := seen[s.Exchange]; ok {
			continue
		}
		seen[s.Exchange] = struct{}{}
		a.reg.BucketFlushes.WithLabelValues(string(s.Exchange)).Inc()
	}
}

// withLifecycleHeartbeat wraps a collector's Run function with a started
// heartbeat before it runs and a stopped heartbeat (best-effort, on a fresh
// context) after it returns, per §4.10/§5's collector lifecycle reporting.
func (a *App) withLifecycleHeartbeat(venue, component string, run func(ctx context.Context)) func(ctx context.Context) {
	return func(ctx context.Context) {
		a.snk.Heartbeat(ctx, venue, component, sink.StatusStarted, component+" started")
		run(ctx)
		a.snk.Heartbeat(context.Background(), venue, component, sink.StatusStopped, component+" stopped")
	}
}

// withBackfillHeartbeat reports completed or error for a one-shot backfill
// unit, the remaining two statuses of the §4.10 vocabulary not already
// covered by collector start/stop or the per-minute WS pull signal.
func (a *App) withBackfillHeartbeat(exch model.Exchange, metric string, run func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := run(ctx)
		if err != nil {
			a.snk.Heartbeat(context.Background(), string(exch), "backfill-"+metric, sink.StatusError, err.Error())
			return err
		}
		a.snk.Heartbeat(context.Background(), string(exch), "backfill-"+metric, sink.StatusCompleted, "backfill completed")
		return nil
	}
}

// drainEvents consumes decoded WebSocket events until ctx is cancelled:
// candles are merged and upserted directly, trades/liquidations feed the
// bucket aggregator, and heartbeats are persisted through C10 and flip
// the venue's /healthz readiness flag.
func (a *App) drainEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.wsEvents:
			a.handleEvent(ctx, ev)
		case hb := <-a.wsHeart:
			a.status.SetReady(hb.Venue, true)
			a.snk.Heartbeat(ctx, hb.Venue, "ws", sink.StatusRunning, fmt.Sprintf("pull complete for minute %d (%d symbols)", hb.MinuteTS, hb.SymbolsSet))
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev ws.Event) {
	exch := a.exchangeForEvent(ev)
	if exch == "" {
		return
	}
	a.reg.WSEventsReceived.WithLabelValues(string(exch), eventKindName(ev.Kind)).Inc()

	switch ev.Kind {
	case ws.KindCandle:
		if s := candleFromEvent(exch, ev); s != nil {
			a.flushSamples(ctx, []*model.PerpSample{s})
		}
	case ws.KindTrade:
		feedTrade(exch, ev, a.bucketAgg)
	case ws.KindLiquidation:
		feedLiquidation(exch, ev, a.bucketAgg)
	}
}

// exchangeForEvent recovers which venue produced ev by checking which
// session's symbol set it came from; cheap linear scan over at most three
// sessions.
func (a *App) exchangeForEvent(ev ws.Event) model.Exchange {
	for exch, s := range a.sessions {
		for _, sym := range s.Symbols {
			if sym == ev.Symbol {
				return exch
			}
		}
	}
	return ""
}

func eventKindName(k ws.EventKind) string {
	switch k {
	case ws.KindCandle:
		return "candle"
	case ws.KindTrade:
		return "trade"
	case ws.KindLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// buildOrchestrator assembles the C9 lifecycle from every wired component.
func (a *App) buildOrchestrator() *orchestrate.Orchestrator {
	o := orchestrate.New(a.log, a.cfg.Backfill.MaxConcurrentUnits, a.cfg.Metrics.IncrementalCadence)

	o.InitStorage = func(ctx context.Context) error {
		return storage.EnsureSchema(ctx, a.dbm.DB(), a.cfg.Retention.Duration())
	}

	for _, exch := range model.AllExchanges {
		f, ok := a.fetchers[exch]
		if !ok {
			continue
		}
		for _, sym := range a.cfg.Symbols {
			if sym == model.MarketSymbol {
				continue
			}
			for _, metric := range restMetrics {
				exch, sym, metric := exch, sym, metric
				o.Backfills = append(o.Backfills, orchestrate.BackfillUnit{
					Name: fmt.Sprintf("%s-%s-%s", exch, sym, metric),
					Run: a.withBackfillHeartbeat(exch, metric, func(ctx context.Context) error {
						return a.runBackfillUnit(ctx, f, exch, sym, metric)
					}),
				})
			}
		}
	}

	// MT synthesis and RSI both depend on OHLCV backfills having
	// completed for every venue/symbol, so they run as "Last" units
	// after the bounded pool drains (§4.9 step 3).
	o.Backfills = append(o.Backfills,
		orchestrate.BackfillUnit{Name: "binance-rsi", Last: true, Run: a.withBackfillHeartbeat(model.Binance, "rsi", a.runRSIBackfill)},
		orchestrate.BackfillUnit{Name: "mt-synthesis", Last: true, Run: a.withBackfillHeartbeat(model.Binance, "mt-synthesis", a.runMTSynthesis)},
	)

	for _, exch := range model.AllExchanges {
		s, ok := a.sessions[exch]
		if !ok {
			continue
		}
		exch := exch
		o.Collectors = append(o.Collectors, orchestrate.Collector{
			Name: string(exch) + "-ws",
			Run:  a.withLifecycleHeartbeat(string(exch), string(exch)+"-ws", s.Run),
		})
	}
	o.Collectors = append(o.Collectors,
		orchestrate.Collector{Name: "event-drain", Run: a.withLifecycleHeartbeat("all", "event-drain", a.drainEvents)},
		orchestrate.Collector{Name: "bucket-flush", Run: a.withLifecycleHeartbeat("all", "bucket-flush", a.bucketAgg.Run)},
	)

	o.RunMetricsOnce = a.runMetricsPass
	o.DrainBuckets = a.bucketAgg.ForceFlushAll

	return o
}

// runBackfillUnit pages through one venue-symbol-metric's REST history
// back to the retention window, decodes it, and writes it through C6/C7.
func (a *App) runBackfillUnit(ctx context.Context, f *fetch.Fetcher, exch model.Exchange, canonicalSymbol, metric string) error {
	venueSym, ok := venueInstrumentID(exch, canonicalSymbol)
	if !ok {
		return nil // not a listed instrument on this venue; sparse-by-design
	}

	policy, decode, timestampOf, ok := a.endpointSpec(exch, metric)
	if !ok {
		return nil // endpoint not configured for this venue; sparse-by-design
	}

	from, to := storage.RetentionWindow(time.Now(), a.cfg.Retention.Duration())

	rows, err := f.FetchPaged(ctx, to+1, fetch.PageParams{
		Endpoint:    metric,
		Symbol:      canonicalSymbol,
		Kind:        connKindFor(policy),
		WindowStart: from,
		Limit:       policy.MaxPageSize,
		Build: func(after int64) (*http.Request, error) {
			return buildPagedRequest(policy, exch, metric, venueSym, after)
		},
		Decode:      decode,
		TimestampOf: timestampOf,
	})
	if err != nil {
		a.snk.Error(ctx, string(exch), "backfill-"+metric, "paged fetch failed", err)
		return err
	}

	var samples []*model.PerpSample
	switch metric {
	case "ohlcv":
		samples = decodeOHLCV(exch, canonicalSymbol, rows)
	case "oi":
		samples = decodeOI(exch, canonicalSymbol, rows)
	case "pfr":
		samples = decodePFR(exch, canonicalSymbol, rows)
	case "lsr":
		samples = decodeLSR(exch, canonicalSymbol, rows)
	}
	if len(samples) == 0 {
		return nil
	}
	return a.gw.Upsert(ctx, merge.Merge(samples))
}

func (a *App) endpointSpec(exch model.Exchange, metric string) (fetch.Policy, fetch.Decoder, func(fetch.RawRecord) int64, bool) {
	vc, ok := a.cfg.Venues[string(exch)]
	if !ok {
		return fetch.Policy{}, nil, nil, false
	}
	ep, ok := vc.Endpoints[metric]
	if !ok {
		return fetch.Policy{}, nil, nil, false
	}
	policy := fetch.Policy{
		BaseURL: ep.BaseURL, MaxPageSize: ep.MaxPageSize,
		DirectDelay: ep.DirectDelay, ProxyDelay: ep.ProxyDelay,
		RequestTimeout: ep.RequestTimeout, MaxRetries: ep.MaxRetries,
		BaseBackoff: ep.BaseBackoff, SustainedRPS: ep.SustainedRPS,
		Burst: ep.Burst, DirectShare: ep.DirectShare,
	}

	if metric == "ohlcv" {
		fields := klineFields(exch)
		tsField := fields[0]
		return policy, arrayEnvelope(exch, fields), func(r fetch.RawRecord) int64 {
			f, _ := asFloat(r[tsField])
			return int64(f)
		}, true
	}

	spec := map[string]map[model.Exchange]valueFieldSpec{"oi": oiFieldSpec, "pfr": pfrFieldSpec, "lsr": lsrFieldSpec}[metric]
	fieldSpec, ok := spec[exch]
	if !ok {
		return fetch.Policy{}, nil, nil, false
	}
	return policy, envelope(exch), func(r fetch.RawRecord) int64 {
		f, _ := asFloat(r[fieldSpec.tsField])
		return int64(f)
	}, true
}

func connKindFor(p fetch.Policy) fetch.ConnKind {
	if p.DirectShare >= 1 || p.DirectShare == 0 {
		return fetch.Direct
	}
	return fetch.Proxy
}

// buildPagedRequest builds one page's HTTP GET. Query parameter names
// follow each venue's actual history-endpoint convention closely enough
// to document the wiring; a production deployment would pin these against
// the live API reference per venue.
func buildPagedRequest(policy fetch.Policy, exch model.Exchange, metric, venueSym string, after int64) (*http.Request, error) {
	u, err := url.Parse(policy.BaseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()

	switch exch {
	case model.Binance:
		q.Set("symbol", venueSym)
	case model.Bybit:
		q.Set("category", "linear")
		q.Set("symbol", venueSym)
	case model.OKX:
		q.Set("instId", venueSym)
	}

	if metric == "ohlcv" {
		q.Set("interval", "1m")
	}
	q.Set("limit", strconv.Itoa(policy.MaxPageSize))
	q.Set("endTime", strconv.FormatInt(after, 10))

	u.RawQuery = q.Encode()
	return http.NewRequest(http.MethodGet, u.String(), nil)
}

// runRSIBackfill computes RSI1/RSI60 over Binance's stored close series
// and writes them back (RSI is sparse-by-design on Bybit/OKX, §7).
func (a *App) runRSIBackfill(ctx context.Context) error {
	from, to := storage.RetentionWindow(time.Now(), a.cfg.Retention.Duration())
	var out []*model.PerpSample

	for _, sym := range a.cfg.Symbols {
		if sym == model.MarketSymbol {
			continue
		}
		rows, err := a.gw.FetchWindow(ctx, sym, model.Binance, from, to)
		if err != nil {
			return err
		}
		closes := make([]float64, len(rows))
		for i, r := range rows {
			if r.C != nil {
				closes[i] = *r.C
			}
		}
		rsi1 := indicator.RSI(closes)
		rsi60series := indicator.RSI(indicator.Aggregate60m(closes))

		for i, r := range rows {
			if rsi1[i] == nil {
				continue
			}
			s := &model.PerpSample{TS: r.TS, Symbol: sym, Exchange: model.Binance, Spec: model.NewPerpSpec("bin-rsi")}
			s.RSI1 = rsi1[i]
			if j := i / 60; j < len(rsi60series) {
				s.RSI60 = rsi60series[j]
			}
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return a.gw.Upsert(ctx, merge.Merge(out))
}

// runMTSynthesis computes the MT synthetic aggregate index as the mean
// OHLCV across the configured basket of majors on Binance, the venue with
// the most complete coverage. This resolves an open question the source
// left unspecified (§ GLOSSARY "a fixed basket of majors") — see DESIGN.md.
func (a *App) runMTSynthesis(ctx context.Context) error {
	from, to := storage.RetentionWindow(time.Now(), a.cfg.Retention.Duration())

	basket := make([][]*model.PerpSample, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		if sym == model.MarketSymbol {
			continue
		}
		rows, err := a.gw.FetchWindow(ctx, sym, model.Binance, from, to)
		if err != nil {
			return err
		}
		basket = append(basket, rows)
	}
	if len(basket) == 0 {
		return nil
	}

	byTS := make(map[int64][]*model.PerpSample)
	for _, series := range basket {
		for _, r := range series {
			byTS[r.TS] = append(byTS[r.TS], r)
		}
	}

	var out []*model.PerpSample
	for ts, rows := range byTS {
		var sumO, sumH, sumL, sumC, sumV float64
		var n int
		for _, r := range rows {
			if r.O == nil || r.H == nil || r.L == nil || r.C == nil || r.V == nil {
				continue
			}
			sumO += *r.O
			sumH += *r.H
			sumL += *r.L
			sumC += *r.C
			sumV += *r.V
			n++
		}
		if n == 0 {
			continue
		}
		o, h, l, c, v := sumO/float64(n), sumH/float64(n), sumL/float64(n), sumC/float64(n), sumV
		out = append(out, &model.PerpSample{
			TS: ts, Symbol: model.MarketSymbol, Exchange: model.Binance,
			Spec: model.NewPerpSpec("mt-basket"),
			O:    &o, H: &h, L: &l, C: &c, V: &v,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return a.gw.Upsert(ctx, merge.Merge(out))
}

// runMetricsPass is C9's 60s-cadence step: recompute derived metrics for
// every configured symbol across every venue.
func (a *App) runMetricsPass(ctx context.Context) error {
	start := time.Now()
	from, to := storage.RetentionWindow(time.Now(), a.cfg.Retention.Duration())

	maxConcurrent := a.cfg.Metrics.MaxConcurrentKeys
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	// §4.8 "~6-8 concurrent keys": bounded via the ambient WorkerPool rather
	// than a bespoke semaphore, so the fan-out limit and its queue/latency
	// accounting live in one place.
	keys := make([][2]any, 0, len(a.cfg.Symbols)*len(model.AllExchanges))
	for _, sym := range a.cfg.Symbols {
		for _, exch := range model.AllExchanges {
			if sym == model.MarketSymbol && exch != model.Binance {
				continue // MT only exists under Binance in this wiring
			}
			keys = append(keys, [2]any{sym, exch})
		}
	}

	pool := async.NewWorkerPool(maxConcurrent, len(keys))
	pool.Start()
	errs := make(chan error, len(keys))
	for _, k := range keys {
		sym, exch := k[0].(string), k[1].(model.Exchange)
		id := fmt.Sprintf("%s-%s", exch, sym)
		_ = pool.Submit(id, func(ctx context.Context) error {
			err := a.computeAndUpsertMetrics(ctx, sym, exch, from, to)
			errs <- err
			return err
		})
	}
	pool.Stop() // waits for every queued key to finish

	var firstErr error
	for i := 0; i < len(keys); i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.reg.MetricsEngineRuns.Inc()
	a.reg.MetricsEngineLatency.Observe(time.Since(start).Seconds())
	return firstErr
}

func (a *App) computeAndUpsertMetrics(ctx context.Context, sym string, exch model.Exchange, from, to int64) error {
	rows, err := a.gw.FetchWindow(ctx, sym, exch, from, to)
	if err != nil {
		a.snk.Error(ctx, string(exch), "metrics", "fetch window failed", err)
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	pm := storage.Compute(sym, exch, rows)
	return a.me.Upsert(ctx, pm)
}

// Close shuts down the database pool; called after the orchestrator and
// HTTP server have both stopped.
func (a *App) Close() error {
	return a.dbm.Close()
}
