package storage

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/sawpanic/perpingest/internal/ingest/model"
)

// MetricsEngine implements C8: positional lookback percent-change
// computation over the unified table, with the c_chg_1m detect-column
// idempotency gate.
type MetricsEngine struct {
	gw  *Gateway
	log zerolog.Logger
}

func NewMetricsEngine(gw *Gateway, log zerolog.Logger) *MetricsEngine {
	return &MetricsEngine{gw: gw, log: log.With().Str("component", "metrics").Logger()}
}

// Compute derives a PerpMetric row per input row in rows (already ordered
// ascending by ts, as returned by Gateway.FetchWindow). The MT-symbol
// skip rule (§4.8) leaves venue-only metrics' _chg_ columns nil (null).
func Compute(symbol string, exchange model.Exchange, rows []*model.PerpSample) []*model.PerpMetric {
	out := make([]*model.PerpMetric, len(rows))

	for i, row := range rows {
		pm := &model.PerpMetric{
			TS: row.TS, Symbol: row.Symbol, Exchange: row.Exchange,
			O: row.O, H: row.H, L: row.L, C: row.C, V: row.V,
			OI: row.OI, PFR: row.PFR, LSR: row.LSR,
			RSI1: row.RSI1, RSI60: row.RSI60,
			TBV: row.TBV, TSV: row.TSV, LQL: row.LQL, LQS: row.LQS,
			Changes:      make(map[model.Window]map[model.Metric]*float64),
			LQSideChange: make(map[model.Window]*string),
		}

		for _, w := range model.AllWindows {
			pm.Changes[w] = make(map[model.Metric]*float64)
			for _, m := range model.AllMetrics {
				if symbol == model.MarketSymbol && model.VenueOnlyMetrics[m] {
					pm.Changes[w][m] = nil
					continue
				}
				pm.Changes[w][m] = percentChange(rows, i, int(w), m)
			}
			pm.LQSideChange[w] = majorityLiqSide(rows, i, int(w))
		}

		out[i] = pm
	}

	return out
}

// percentChange computes M_chg_W for row i using the row W positions
// earlier in the series (positional, not time-based, per §4.8).
func percentChange(rows []*model.PerpSample, i, w int, m model.Metric) *float64 {
	j := i - w
	if j < 0 {
		return nil
	}
	curr := rows[i].Field(m)
	prev := rows[j].Field(m)
	if *curr == nil || *prev == nil || **prev == 0 {
		return nil
	}

	v := 100 * (**curr - **prev) / math.Abs(**prev)
	if v > model.ClampMagnitude {
		v = model.ClampMagnitude
	} else if v < -model.ClampMagnitude {
		v = -model.ClampMagnitude
	}
	return &v
}

// majorityLiqSide computes the window-majority liquidation side over the
// last w samples ending at i: majority by count of (lql>0 vs lqs>0)
// occurrences, tie-break by summed qty, remaining tie -> nil (§4.8).
func majorityLiqSide(rows []*model.PerpSample, i, w int) *string {
	start := i - w + 1
	if start < 0 {
		start = 0
	}

	var longCount, shortCount int
	var longSum, shortSum float64
	for k := start; k <= i; k++ {
		if rows[k].LQL != nil && *rows[k].LQL > 0 {
			longCount++
			longSum += *rows[k].LQL
		}
		if rows[k].LQS != nil && *rows[k].LQS > 0 {
			shortCount++
			shortSum += *rows[k].LQS
		}
	}

	if longCount == 0 && shortCount == 0 {
		return nil
	}
	if longCount > shortCount {
		s := "long"
		return &s
	}
	if shortCount > longCount {
		s := "short"
		return &s
	}
	if longSum > shortSum {
		s := "long"
		return &s
	}
	if shortSum > longSum {
		s := "short"
		return &s
	}
	return nil
}

// Upsert writes metrics rows with the detect-column idempotency gate:
// raw mirror columns are always refreshed; the _chg_ columns (including
// lqside_chg_*) are only written when the existing row's c_chg_1m is
// null (§4.8).
func (e *MetricsEngine) Upsert(ctx context.Context, metrics []*model.PerpMetric) error {
	for start := 0; start < len(metrics); start += chunkSize {
		end := start + chunkSize
		if end > len(metrics) {
			end = len(metrics)
		}
		chunk := metrics[start:end]
		if err := e.upsertChunk(ctx, chunk); err != nil {
			e.log.Error().Err(err).Int("chunk_size", len(chunk)).Msg("metrics upsert chunk failed")
		}
	}
	return nil
}

func (e *MetricsEngine) upsertChunk(ctx context.Context, metrics []*model.PerpMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := e.gw.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: metrics begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, metricsUpsertSQL)
	if err != nil {
		return fmt.Errorf("storage: metrics prepare: %w", err)
	}
	defer stmt.Close()

	for _, pm := range metrics {
		args := metricsArgs(pm)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("storage: metrics exec: %w", err)
		}
	}

	return tx.Commit()
}

func metricsArgs(pm *model.PerpMetric) []any {
	col := func(m model.Metric, w model.Window) *float64 { return pm.Changes[w][m] }
	lq := func(w model.Window) *string { return pm.LQSideChange[w] }

	return []any{
		pm.TS, pm.Symbol, string(pm.Exchange),
		pm.O, pm.H, pm.L, pm.C, pm.V,
		pm.OI, pm.PFR, pm.LSR, pm.RSI1, pm.RSI60,
		pm.TBV, pm.TSV, pm.LQL, pm.LQS,
		col(model.MetricClose, 1), col(model.MetricClose, 5), col(model.MetricClose, 10),
		col(model.MetricVolume, 1), col(model.MetricVolume, 5), col(model.MetricVolume, 10),
		col(model.MetricOI, 1), col(model.MetricOI, 5), col(model.MetricOI, 10),
		col(model.MetricPFR, 1), col(model.MetricPFR, 5), col(model.MetricPFR, 10),
		col(model.MetricLSR, 1), col(model.MetricLSR, 5), col(model.MetricLSR, 10),
		col(model.MetricRSI1, 1), col(model.MetricRSI1, 5), col(model.MetricRSI1, 10),
		col(model.MetricRSI60, 1), col(model.MetricRSI60, 5), col(model.MetricRSI60, 10),
		col(model.MetricTBV, 1), col(model.MetricTBV, 5), col(model.MetricTBV, 10),
		col(model.MetricTSV, 1), col(model.MetricTSV, 5), col(model.MetricTSV, 10),
		col(model.MetricLQL, 1), col(model.MetricLQL, 5), col(model.MetricLQL, 10),
		col(model.MetricLQS, 1), col(model.MetricLQS, 5), col(model.MetricLQS, 10),
		lq(1), lq(5), lq(10),
	}
}

const metricsUpsertSQL = `
INSERT INTO perp_metrics (
	ts, symbol, exchange,
	o, h, l, c, v,
	oi, pfr, lsr, rsi1, rsi60,
	tbv, tsv, lql, lqs,
	c_chg_1m, c_chg_5m, c_chg_10m,
	v_chg_1m, v_chg_5m, v_chg_10m,
	oi_chg_1m, oi_chg_5m, oi_chg_10m,
	pfr_chg_1m, pfr_chg_5m, pfr_chg_10m,
	lsr_chg_1m, lsr_chg_5m, lsr_chg_10m,
	rsi1_chg_1m, rsi1_chg_5m, rsi1_chg_10m,
	rsi60_chg_1m, rsi60_chg_5m, rsi60_chg_10m,
	tbv_chg_1m, tbv_chg_5m, tbv_chg_10m,
	tsv_chg_1m, tsv_chg_5m, tsv_chg_10m,
	lql_chg_1m, lql_chg_5m, lql_chg_10m,
	lqs_chg_1m, lqs_chg_5m, lqs_chg_10m,
	lqside_chg_1m, lqside_chg_5m, lqside_chg_10m
) VALUES (
	$1, $2, $3,
	$4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13,
	$14, $15, $16, $17,
	$18, $19, $20,
	$21, $22, $23,
	$24, $25, $26,
	$27, $28, $29,
	$30, $31, $32,
	$33, $34, $35,
	$36, $37, $38,
	$39, $40, $41,
	$42, $43, $44,
	$45, $46, $47,
	$48, $49, $50,
	$51, $52, $53
)
ON CONFLICT (ts, symbol, exchange) DO UPDATE SET
	o = EXCLUDED.o, h = EXCLUDED.h, l = EXCLUDED.l, c = EXCLUDED.c, v = EXCLUDED.v,
	oi = EXCLUDED.oi, pfr = EXCLUDED.pfr, lsr = EXCLUDED.lsr,
	rsi1 = EXCLUDED.rsi1, rsi60 = EXCLUDED.rsi60,
	tbv = EXCLUDED.tbv, tsv = EXCLUDED.tsv, lql = EXCLUDED.lql, lqs = EXCLUDED.lqs,
	c_chg_1m     = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.c_chg_1m     ELSE perp_metrics.c_chg_1m     END,
	c_chg_5m     = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.c_chg_5m     ELSE perp_metrics.c_chg_5m     END,
	c_chg_10m    = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.c_chg_10m    ELSE perp_metrics.c_chg_10m    END,
	v_chg_1m     = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.v_chg_1m     ELSE perp_metrics.v_chg_1m     END,
	v_chg_5m     = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.v_chg_5m     ELSE perp_metrics.v_chg_5m     END,
	v_chg_10m    = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.v_chg_10m    ELSE perp_metrics.v_chg_10m    END,
	oi_chg_1m    = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.oi_chg_1m    ELSE perp_metrics.oi_chg_1m    END,
	oi_chg_5m    = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.oi_chg_5m    ELSE perp_metrics.oi_chg_5m    END,
	oi_chg_10m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.oi_chg_10m   ELSE perp_metrics.oi_chg_10m   END,
	pfr_chg_1m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.pfr_chg_1m   ELSE perp_metrics.pfr_chg_1m   END,
	pfr_chg_5m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.pfr_chg_5m   ELSE perp_metrics.pfr_chg_5m   END,
	pfr_chg_10m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.pfr_chg_10m  ELSE perp_metrics.pfr_chg_10m  END,
	lsr_chg_1m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lsr_chg_1m   ELSE perp_metrics.lsr_chg_1m   END,
	lsr_chg_5m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lsr_chg_5m   ELSE perp_metrics.lsr_chg_5m   END,
	lsr_chg_10m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lsr_chg_10m  ELSE perp_metrics.lsr_chg_10m  END,
	rsi1_chg_1m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.rsi1_chg_1m  ELSE perp_metrics.rsi1_chg_1m  END,
	rsi1_chg_5m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.rsi1_chg_5m  ELSE perp_metrics.rsi1_chg_5m  END,
	rsi1_chg_10m = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.rsi1_chg_10m ELSE perp_metrics.rsi1_chg_10m END,
	rsi60_chg_1m = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.rsi60_chg_1m ELSE perp_metrics.rsi60_chg_1m END,
	rsi60_chg_5m = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.rsi60_chg_5m ELSE perp_metrics.rsi60_chg_5m END,
	rsi60_chg_10m= CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.rsi60_chg_10m ELSE perp_metrics.rsi60_chg_10m END,
	tbv_chg_1m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.tbv_chg_1m   ELSE perp_metrics.tbv_chg_1m   END,
	tbv_chg_5m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.tbv_chg_5m   ELSE perp_metrics.tbv_chg_5m   END,
	tbv_chg_10m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.tbv_chg_10m  ELSE perp_metrics.tbv_chg_10m  END,
	tsv_chg_1m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.tsv_chg_1m   ELSE perp_metrics.tsv_chg_1m   END,
	tsv_chg_5m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.tsv_chg_5m   ELSE perp_metrics.tsv_chg_5m   END,
	tsv_chg_10m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.tsv_chg_10m  ELSE perp_metrics.tsv_chg_10m  END,
	lql_chg_1m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lql_chg_1m   ELSE perp_metrics.lql_chg_1m   END,
	lql_chg_5m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lql_chg_5m   ELSE perp_metrics.lql_chg_5m   END,
	lql_chg_10m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lql_chg_10m  ELSE perp_metrics.lql_chg_10m  END,
	lqs_chg_1m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lqs_chg_1m   ELSE perp_metrics.lqs_chg_1m   END,
	lqs_chg_5m   = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lqs_chg_5m   ELSE perp_metrics.lqs_chg_5m   END,
	lqs_chg_10m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lqs_chg_10m  ELSE perp_metrics.lqs_chg_10m  END,
	lqside_chg_1m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lqside_chg_1m  ELSE perp_metrics.lqside_chg_1m  END,
	lqside_chg_5m  = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lqside_chg_5m  ELSE perp_metrics.lqside_chg_5m  END,
	lqside_chg_10m = CASE WHEN perp_metrics.c_chg_1m IS NULL THEN EXCLUDED.lqside_chg_10m ELSE perp_metrics.lqside_chg_10m END
`
