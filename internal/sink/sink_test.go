package sink_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/sink"
)

func TestSink_HeartbeatBestEffortOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "postgres")
	s := sink.New(sdb, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO perp_status")).
		WillReturnError(errors.New("connection reset"))

	require.NotPanics(t, func() {
		s.Heartbeat(context.Background(), "binance", "ws", sink.StatusRunning, "pull complete")
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_HeartbeatPersistsStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "postgres")
	s := sink.New(sdb, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO perp_status")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "binance", "ws", string(sink.StatusStarted), "websocket started").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s.Heartbeat(context.Background(), "binance", "ws", sink.StatusStarted, "websocket started")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_ErrorPersistsDetail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "postgres")
	s := sink.New(sdb, zerolog.Nop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO perp_errors")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s.Error(context.Background(), "bybit", "fetch", "retries exhausted", errors.New("429"))
	require.NoError(t, mock.ExpectationsWereMet())
}
