// Package sink implements C10: an append-only heartbeat/error recorder.
// Every write is best-effort — a sink failure is logged and never
// propagated to the producer that reported the event.
//
// Grounded on the teacher's persistence/postgres repository shape
// (prepared INSERT + sqlx), reduced to the two append-only tables this
// domain needs and given UUID correlation IDs per the DOMAIN STACK's
// google/uuid wiring.
package sink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// HeartbeatStatus is the closed status vocabulary heartbeats report (§4.10).
type HeartbeatStatus string

const (
	StatusStarted   HeartbeatStatus = "started"
	StatusRunning   HeartbeatStatus = "running"
	StatusConnected HeartbeatStatus = "connected"
	StatusStopped   HeartbeatStatus = "stopped"
	StatusCompleted HeartbeatStatus = "completed"
	StatusError     HeartbeatStatus = "error"
)

type Sink struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func New(db *sqlx.DB, log zerolog.Logger) *Sink {
	return &Sink{db: db, log: log.With().Str("component", "sink").Logger()}
}

// Heartbeat records a status event drawn from HeartbeatStatus (e.g. a
// per-minute pull-complete signal from C4, or a paging-progress note from
// C3/C9). message carries free-text detail alongside the closed status.
func (s *Sink) Heartbeat(ctx context.Context, venue, component string, status HeartbeatStatus, message string) {
	id := uuid.New()
	s.log.Info().Str("correlation_id", id.String()).Str("venue", venue).Str("source", component).Str("status", string(status)).Msg(message)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO perp_status (id, ts, venue, component, status, message) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, time.Now(), venue, component, string(status), message)
	if err != nil {
		s.log.Warn().Err(err).Str("correlation_id", id.String()).Msg("failed to persist heartbeat")
	}
}

// Error records a failure without aborting the caller; callers should
// continue normal operation after calling this.
func (s *Sink) Error(ctx context.Context, venue, component, message string, detail error) {
	id := uuid.New()
	var detailStr *string
	if detail != nil {
		d := detail.Error()
		detailStr = &d
	}
	s.log.Error().Err(detail).Str("correlation_id", id.String()).Str("venue", venue).Str("source", component).Msg(message)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO perp_errors (id, ts, venue, component, message, detail) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, time.Now(), venue, component, message, detailStr)
	if err != nil {
		s.log.Error().Err(err).Str("correlation_id", id.String()).Msg("failed to persist error record")
	}
}
