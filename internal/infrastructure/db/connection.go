// Package db manages the single shared Postgres connection pool that C7,
// C8, and C10 all write through (§4.7: "a single `*sqlx.DB` with a bounded
// pool ... shared by C7, C8, and C10").
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/perpingest/internal/config"
	"github.com/sawpanic/perpingest/internal/secrets"
)

// dsnRedactor scrubs DSNs embedded in driver error strings (pq occasionally
// echoes the connection string it failed to parse) before they reach logs.
var dsnRedactor = secrets.NewRedactor()

// Manager owns the *sqlx.DB and its pool settings, grounded on the
// teacher's single-manager-wraps-sqlx.DB pattern, trimmed of the
// repository-collection wiring this domain doesn't need (storage readers
// and writers are constructed directly from the *sqlx.DB, see
// internal/storage).
type Manager struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
}

// NewManager opens and pings the database, configuring the pool from cfg.
func NewManager(cfg config.DatabaseConfig) (*Manager, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("db: DSN is required")
	}

	sdb, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %s", dsnRedactor.RedactString(err.Error()))
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}

	sdb.SetMaxOpenConns(maxOpen)
	sdb.SetMaxIdleConns(maxIdle)
	sdb.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sdb.PingContext(ctx); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("db: ping: %s", dsnRedactor.RedactString(err.Error()))
	}

	return &Manager{db: sdb, cfg: cfg}, nil
}

// DB returns the underlying *sqlx.DB for repository construction.
func (m *Manager) DB() *sqlx.DB { return m.db }

// Close closes the pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Ping checks connectivity with a bounded timeout, used by the /healthz
// handler and `ingestd healthcheck`.
func (m *Manager) Ping(ctx context.Context) error {
	timeout := m.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.db.PingContext(ctx)
}

// Stats exposes sqlx/database-sql pool stats for the metrics/health surface.
func (m *Manager) Stats() map[string]any {
	s := m.db.Stats()
	return map[string]any{
		"max_open":      s.MaxOpenConnections,
		"open":          s.OpenConnections,
		"in_use":        s.InUse,
		"idle":          s.Idle,
		"wait_count":    s.WaitCount,
		"wait_duration": s.WaitDuration.String(),
	}
}
