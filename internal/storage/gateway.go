// Package storage implements C7 (storage gateway) and C8 (derived-metrics
// engine) over a single shared *sqlx.DB.
//
// Grounded on the teacher's internal/persistence/postgres repositories
// (trades_repo.go's sqlx prepared-statement / tx-batch pattern), adapted
// from per-row INSERT to the ON CONFLICT ... COALESCE bulk upsert this
// domain's additive semantics require.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/telemetry/latency"
)

const chunkSize = 5000

// Gateway is the C7 write path: bulk COALESCE upsert into perp_data.
type Gateway struct {
	db    *sqlx.DB
	log   zerolog.Logger
	stage *latency.Histogram
}

func NewGateway(db *sqlx.DB, log zerolog.Logger) *Gateway {
	return &Gateway{
		db:    db,
		log:   log.With().Str("component", "storage").Logger(),
		stage: latency.NewHistogram(latency.StageData, 1000),
	}
}

// Latency returns rolling p50/p95/p99 upsert latency, surfaced on /healthz.
func (g *Gateway) Latency() latency.LatencyMetrics { return g.stage.Metrics() }

// Upsert writes rows in chunks of chunkSize. A failing chunk is retried
// once; persistent failure is logged and does not abort sibling chunks
// (§4.7). After every chunk has been attempted, the first persistent
// chunk error is returned.
func (g *Gateway) Upsert(ctx context.Context, rows []*model.PerpSample) error {
	var firstErr error
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		timer := latency.StartTimer()
		err := g.upsertChunk(ctx, chunk)
		if err != nil {
			g.log.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("upsert chunk failed, retrying once")
			err = g.upsertChunk(ctx, chunk)
		}
		g.stage.Record(timer.Stop())
		if err != nil {
			g.log.Error().Err(err).Int("chunk_size", len(chunk)).Msg("upsert chunk failed permanently, continuing with remaining chunks")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (g *Gateway) upsertChunk(ctx context.Context, rows []*model.PerpSample) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("storage: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		spec, err := json.Marshal(r.Spec.Slice())
		if err != nil {
			return fmt.Errorf("storage: marshal perpspec: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			r.TS, r.Symbol, string(r.Exchange), spec,
			r.O, r.H, r.L, r.C, r.V,
			r.OI, r.PFR, r.LSR, r.RSI1, r.RSI60,
			r.TBV, r.TSV, r.LQL, r.LQS, r.Notes,
		); err != nil {
			return fmt.Errorf("storage: exec upsert: %w", err)
		}
	}

	return tx.Commit()
}

const upsertSQL = `
INSERT INTO perp_data (
	ts, symbol, exchange, perpspec,
	o, h, l, c, v,
	oi, pfr, lsr, rsi1, rsi60,
	tbv, tsv, lql, lqs, notes
) VALUES (
	$1, $2, $3, $4,
	$5, $6, $7, $8, $9,
	$10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19
)
ON CONFLICT (ts, symbol, exchange) DO UPDATE SET
	perpspec = (
		SELECT to_jsonb(array_agg(DISTINCT tag ORDER BY tag))
		FROM jsonb_array_elements_text(perp_data.perpspec || EXCLUDED.perpspec) AS tag
	),
	o        = COALESCE(EXCLUDED.o, perp_data.o),
	h        = COALESCE(EXCLUDED.h, perp_data.h),
	l        = COALESCE(EXCLUDED.l, perp_data.l),
	c        = COALESCE(EXCLUDED.c, perp_data.c),
	v        = COALESCE(EXCLUDED.v, perp_data.v),
	oi       = COALESCE(EXCLUDED.oi, perp_data.oi),
	pfr      = COALESCE(EXCLUDED.pfr, perp_data.pfr),
	lsr      = COALESCE(EXCLUDED.lsr, perp_data.lsr),
	rsi1     = COALESCE(EXCLUDED.rsi1, perp_data.rsi1),
	rsi60    = COALESCE(EXCLUDED.rsi60, perp_data.rsi60),
	tbv      = COALESCE(EXCLUDED.tbv, perp_data.tbv),
	tsv      = COALESCE(EXCLUDED.tsv, perp_data.tsv),
	lql      = COALESCE(EXCLUDED.lql, perp_data.lql),
	lqs      = COALESCE(EXCLUDED.lqs, perp_data.lqs),
	notes    = COALESCE(EXCLUDED.notes, perp_data.notes)
`

// Row is a flat scan target for reading back perp_data for the metrics
// engine (C8); mirrors PerpSample but with a plain Go time for ordering
// convenience isn't needed since TS is already epoch-ms.
type Row struct {
	model.PerpSample
	Spec json.RawMessage `db:"perpspec"`
}

// FetchWindow returns all rows for (symbol,exchange) with
// ts in [from,to], ordered ascending — the input series for C8's
// positional lookback (§4.8).
func (g *Gateway) FetchWindow(ctx context.Context, symbol string, exchange model.Exchange, from, to int64) ([]*model.PerpSample, error) {
	query := `
		SELECT ts, symbol, exchange,
			o, h, l, c, v,
			oi, pfr, lsr, rsi1, rsi60,
			tbv, tsv, lql, lqs, notes
		FROM perp_data
		WHERE symbol = $1 AND exchange = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`

	var out []*model.PerpSample
	rows, err := g.db.QueryxContext(ctx, query, symbol, string(exchange), from, to)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch window: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.PerpSample
		s.Exchange = exchange
		if err := rows.Scan(
			&s.TS, &s.Symbol, &s.Exchange,
			&s.O, &s.H, &s.L, &s.C, &s.V,
			&s.OI, &s.PFR, &s.LSR, &s.RSI1, &s.RSI60,
			&s.TBV, &s.TSV, &s.LQL, &s.LQS, &s.Notes,
		); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// RetentionWindow returns the [from,to] bound for C8's backfill pass:
// 10 days plus 15 minutes of head-room for the 10-minute lookback.
func RetentionWindow(now time.Time, retention time.Duration) (from, to int64) {
	to = now.UnixMilli()
	from = now.Add(-retention).Add(-15 * time.Minute).UnixMilli()
	return from, to
}
