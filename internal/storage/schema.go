package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// EnsureSchema creates the unified table, derived-metrics table, and the
// C10 status/error sink tables if they don't already exist, and installs
// the retention policy. Idempotent; called once at C9 startup (§4.7).
func EnsureSchema(ctx context.Context, db *sqlx.DB, retention time.Duration) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS perp_data (
			ts       BIGINT NOT NULL,
			symbol   TEXT NOT NULL,
			exchange TEXT NOT NULL,
			perpspec JSONB NOT NULL DEFAULT '[]',
			o DOUBLE PRECISION, h DOUBLE PRECISION, l DOUBLE PRECISION,
			c DOUBLE PRECISION, v DOUBLE PRECISION,
			oi DOUBLE PRECISION, pfr DOUBLE PRECISION, lsr DOUBLE PRECISION,
			rsi1 DOUBLE PRECISION, rsi60 DOUBLE PRECISION,
			tbv DOUBLE PRECISION, tsv DOUBLE PRECISION,
			lql DOUBLE PRECISION, lqs DOUBLE PRECISION,
			notes TEXT,
			PRIMARY KEY (ts, symbol, exchange)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_perp_data_symbol_exchange_ts ON perp_data (symbol, exchange, ts)`,
		`CREATE TABLE IF NOT EXISTS perp_metrics (
			ts       BIGINT NOT NULL,
			symbol   TEXT NOT NULL,
			exchange TEXT NOT NULL,
			o DOUBLE PRECISION, h DOUBLE PRECISION, l DOUBLE PRECISION,
			c DOUBLE PRECISION, v DOUBLE PRECISION,
			oi DOUBLE PRECISION, pfr DOUBLE PRECISION, lsr DOUBLE PRECISION,
			rsi1 DOUBLE PRECISION, rsi60 DOUBLE PRECISION,
			tbv DOUBLE PRECISION, tsv DOUBLE PRECISION,
			lql DOUBLE PRECISION, lqs DOUBLE PRECISION,
			c_chg_1m DOUBLE PRECISION, c_chg_5m DOUBLE PRECISION, c_chg_10m DOUBLE PRECISION,
			v_chg_1m DOUBLE PRECISION, v_chg_5m DOUBLE PRECISION, v_chg_10m DOUBLE PRECISION,
			oi_chg_1m DOUBLE PRECISION, oi_chg_5m DOUBLE PRECISION, oi_chg_10m DOUBLE PRECISION,
			pfr_chg_1m DOUBLE PRECISION, pfr_chg_5m DOUBLE PRECISION, pfr_chg_10m DOUBLE PRECISION,
			lsr_chg_1m DOUBLE PRECISION, lsr_chg_5m DOUBLE PRECISION, lsr_chg_10m DOUBLE PRECISION,
			rsi1_chg_1m DOUBLE PRECISION, rsi1_chg_5m DOUBLE PRECISION, rsi1_chg_10m DOUBLE PRECISION,
			rsi60_chg_1m DOUBLE PRECISION, rsi60_chg_5m DOUBLE PRECISION, rsi60_chg_10m DOUBLE PRECISION,
			tbv_chg_1m DOUBLE PRECISION, tbv_chg_5m DOUBLE PRECISION, tbv_chg_10m DOUBLE PRECISION,
			tsv_chg_1m DOUBLE PRECISION, tsv_chg_5m DOUBLE PRECISION, tsv_chg_10m DOUBLE PRECISION,
			lql_chg_1m DOUBLE PRECISION, lql_chg_5m DOUBLE PRECISION, lql_chg_10m DOUBLE PRECISION,
			lqs_chg_1m DOUBLE PRECISION, lqs_chg_5m DOUBLE PRECISION, lqs_chg_10m DOUBLE PRECISION,
			lqside_chg_1m TEXT, lqside_chg_5m TEXT, lqside_chg_10m TEXT,
			PRIMARY KEY (ts, symbol, exchange)
		)`,
		`CREATE TABLE IF NOT EXISTS perp_status (
			id          UUID PRIMARY KEY,
			ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
			venue       TEXT NOT NULL,
			component   TEXT NOT NULL,
			status      TEXT NOT NULL,
			message     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS perp_errors (
			id          UUID PRIMARY KEY,
			ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
			venue       TEXT NOT NULL,
			component   TEXT NOT NULL,
			message     TEXT NOT NULL,
			detail      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_perp_status_ts ON perp_status (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_perp_errors_ts ON perp_errors (ts)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: schema setup: %w", err)
		}
	}

	// Best-effort TimescaleDB hypertable conversion; perp_data works as a
	// plain table when the extension isn't installed.
	_, _ = db.ExecContext(ctx, `SELECT create_hypertable('perp_data', 'ts', chunk_time_interval => 86400000, if_not_exists => TRUE, migrate_data => TRUE)`)

	days := int(retention / (24 * time.Hour))
	if days <= 0 {
		days = 10
	}
	cutoffQuery := fmt.Sprintf(`DELETE FROM perp_data WHERE ts < (extract(epoch from now())::bigint * 1000) - %d * 86400000`, days)
	_, _ = db.ExecContext(ctx, cutoffQuery)

	return nil
}
