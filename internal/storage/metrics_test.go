package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/storage"
)

func f(v float64) *float64 { return &v }

func TestCompute_PositionalLookbackOneMinute(t *testing.T) {
	rows := []*model.PerpSample{
		{TS: 0, Symbol: "BTC", Exchange: model.Binance, C: f(100)},
		{TS: 60_000, Symbol: "BTC", Exchange: model.Binance, C: f(110)},
	}
	out := storage.Compute("BTC", model.Binance, rows)
	require.Len(t, out, 2)
	require.Nil(t, out[0].Changes[1][model.MetricClose])
	require.NotNil(t, out[1].Changes[1][model.MetricClose])
	require.InDelta(t, 10.0, *out[1].Changes[1][model.MetricClose], 0.0001)
}

func TestCompute_ClampsExtremeChange(t *testing.T) {
	rows := []*model.PerpSample{
		{TS: 0, Symbol: "BTC", Exchange: model.Binance, C: f(0.0001)},
		{TS: 60_000, Symbol: "BTC", Exchange: model.Binance, C: f(100000)},
	}
	out := storage.Compute("BTC", model.Binance, rows)
	require.InDelta(t, model.ClampMagnitude, *out[1].Changes[1][model.MetricClose], 0.0001)
}

func TestCompute_SkipsVenueOnlyMetricsForMTSymbol(t *testing.T) {
	rows := []*model.PerpSample{
		{TS: 0, Symbol: model.MarketSymbol, Exchange: model.Binance, OI: f(100)},
		{TS: 60_000, Symbol: model.MarketSymbol, Exchange: model.Binance, OI: f(110)},
	}
	out := storage.Compute(model.MarketSymbol, model.Binance, rows)
	require.Nil(t, out[1].Changes[1][model.MetricOI])
}

func TestCompute_ZeroPrevYieldsNilChange(t *testing.T) {
	rows := []*model.PerpSample{
		{TS: 0, Symbol: "BTC", Exchange: model.Binance, C: f(0)},
		{TS: 60_000, Symbol: "BTC", Exchange: model.Binance, C: f(5)},
	}
	out := storage.Compute("BTC", model.Binance, rows)
	require.Nil(t, out[1].Changes[1][model.MetricClose])
}

func TestCompute_MajoritySideByCount(t *testing.T) {
	rows := []*model.PerpSample{
		{TS: 0, Symbol: "BTC", Exchange: model.Binance, LQL: f(100)},
		{TS: 60_000, Symbol: "BTC", Exchange: model.Binance, LQS: f(200)},
		{TS: 120_000, Symbol: "BTC", Exchange: model.Binance, LQL: f(50)},
	}
	out := storage.Compute("BTC", model.Binance, rows)
	side := out[2].LQSideChange[5]
	require.NotNil(t, side)
	require.Equal(t, "long", *side)
}

func TestCompute_MajoritySideIdempotentOverUnchangedWindow(t *testing.T) {
	rows := []*model.PerpSample{
		{TS: 0, Symbol: "BTC", Exchange: model.Binance, LQL: f(100)},
		{TS: 60_000, Symbol: "BTC", Exchange: model.Binance, LQS: f(200)},
	}
	first := storage.Compute("BTC", model.Binance, rows)
	second := storage.Compute("BTC", model.Binance, rows)
	require.Equal(t, first[1].LQSideChange[1], second[1].LQSideChange[1])
}
