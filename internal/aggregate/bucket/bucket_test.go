package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/aggregate/bucket"
	"github.com/sawpanic/perpingest/internal/ingest/model"
)

func TestAggregator_ForceFlushAllDrainsBucketsOfEveryAge(t *testing.T) {
	var flushed []*model.PerpSample
	a := bucket.New(func(ctx context.Context, samples []*model.PerpSample) {
		flushed = append(flushed, samples...)
	}, zerolog.Nop())

	now := time.Now().UnixMilli()
	oldMinute := now - 5*60_000
	a.AddTrade(model.Binance, "BTCUSDT", oldMinute, 10, bucket.TakerBuy)
	a.AddTrade(model.Binance, "BTCUSDT", now, 20, bucket.TakerBuy)

	// Force-flush everything to exercise the drain path deterministically.
	a.ForceFlushAll(context.Background())

	require.Len(t, flushed, 2)
}

func TestAggregator_AccumulatesTradeSides(t *testing.T) {
	var flushed []*model.PerpSample
	a := bucket.New(func(ctx context.Context, samples []*model.PerpSample) {
		flushed = append(flushed, samples...)
	}, zerolog.Nop())

	ts := int64(1_700_000_000_000)
	ts -= ts % 60_000
	a.AddTrade(model.Bybit, "ETHUSDT", ts, 5, bucket.TakerBuy)
	a.AddTrade(model.Bybit, "ETHUSDT", ts, 3, bucket.TakerSell)

	a.ForceFlushAll(context.Background())

	require.Len(t, flushed, 1)
	require.NotNil(t, flushed[0].TBV)
	require.NotNil(t, flushed[0].TSV)
	require.InDelta(t, 5, *flushed[0].TBV, 0.0001)
	require.InDelta(t, 3, *flushed[0].TSV, 0.0001)
}

func TestRedistributeTakerVolume_EqualSplitFallback(t *testing.T) {
	out := bucket.RedistributeTakerVolume(100, nil, false)
	for _, v := range out {
		require.InDelta(t, 20, v, 0.0001)
	}
}

func TestRedistributeTakerVolume_SumsToTotal(t *testing.T) {
	points := []bucket.OHLCVPoint{
		{Volume: 10, Close: 100},
		{Volume: 20, Close: 101},
		{Volume: 5, Close: 99},
		{Volume: 15, Close: 102},
		{Volume: 50, Close: 103},
	}
	out := bucket.RedistributeTakerVolume(200, points, false)
	sum := 0.0
	for _, v := range out {
		sum += v
	}
	require.InDelta(t, 200, sum, 0.01)
}

func TestRedistributeTakerVolume_ZeroVolumeFallsBackToEqual(t *testing.T) {
	points := make([]bucket.OHLCVPoint, 5)
	out := bucket.RedistributeTakerVolume(50, points, false)
	for _, v := range out {
		require.InDelta(t, 10, v, 0.0001)
	}
}

func TestRedistributeTakerVolume_MirrorSplitsOppositeOfUpweighted(t *testing.T) {
	// volumes=[1,1,1,1,1], closes=[10,11,11,10,12]: minute 3 is the only
	// down-close (index 3 close=10 after index 2 close=11), so TSV
	// (mirror=true) should concentrate weight there while TBV
	// (mirror=false) concentrates weight on the up-minutes (1, 4).
	points := []bucket.OHLCVPoint{
		{Volume: 1, Close: 10},
		{Volume: 1, Close: 11},
		{Volume: 1, Close: 11},
		{Volume: 1, Close: 10},
		{Volume: 1, Close: 12},
	}

	tbv := bucket.RedistributeTakerVolume(100, points, false)
	tsv := bucket.RedistributeTakerVolume(50, points, true)

	require.NotEqual(t, tbv, tsv)

	// Down-minute (index 3, close fell from 11 to 10) gets more TSV weight
	// than any other minute.
	for i, v := range tsv {
		if i == 3 {
			continue
		}
		require.Greater(t, tsv[3], v, "down-minute %d should carry the most TSV weight, got %v at index %d", 3, v, i)
	}

	// Up-minutes (index 1 and 4) carry more TBV weight than the down-minute.
	require.Greater(t, tbv[1], tbv[3])
	require.Greater(t, tbv[4], tbv[3])
}
