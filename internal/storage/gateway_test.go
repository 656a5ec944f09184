package storage_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/storage"
)

func newMockGateway(t *testing.T) (*storage.Gateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sdb := sqlx.NewDb(db, "postgres")
	return storage.NewGateway(sdb, zerolog.Nop()), mock
}

func TestGateway_UpsertExecutesWithinTransaction(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO perp_data"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO perp_data")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c := 1.5
	err := gw.Upsert(context.Background(), []*model.PerpSample{
		{TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("bin-ohlcv"), C: &c},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGateway_RetriesOnceOnChunkFailure(t *testing.T) {
	gw, mock := newMockGateway(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO perp_data"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO perp_data")).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO perp_data"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO perp_data")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c := 1.5
	err := gw.Upsert(context.Background(), []*model.PerpSample{
		{TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("bin-ohlcv"), C: &c},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
