package merge_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/aggregate/merge"
	"github.com/sawpanic/perpingest/internal/ingest/model"
)

func f(v float64) *float64 { return &v }

func TestMerge_UnionsDisjointFieldsAndTags(t *testing.T) {
	ohlcv := &model.PerpSample{
		TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("bin-ohlcv"),
		O: f(1), H: f(2), L: f(0.5), C: f(1.5), V: f(10),
	}
	pfr := &model.PerpSample{
		TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("bin-pfr"),
		PFR: f(0.0001),
	}

	out := merge.Merge([]*model.PerpSample{ohlcv, pfr})
	require.Len(t, out, 1)
	row := out[0]
	require.Equal(t, 1.5, *row.C)
	require.Equal(t, 0.0001, *row.PFR)
	require.ElementsMatch(t, []string{"bin-ohlcv", "bin-pfr"}, row.Spec.Slice())
}

func TestMerge_LaterNonNullWinsAndTagDeduplicates(t *testing.T) {
	first := &model.PerpSample{
		TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("bin-ohlcv"),
		C: f(1.5),
	}
	second := &model.PerpSample{
		TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("bin-ohlcv"),
		C: f(1.6),
	}

	out := merge.Merge([]*model.PerpSample{first, second})
	require.Len(t, out, 1)
	require.Equal(t, 1.6, *out[0].C)
	require.Equal(t, []string{"bin-ohlcv"}, out[0].Spec.Slice())
}

func TestMerge_GroupsByDistinctKey(t *testing.T) {
	a := &model.PerpSample{TS: 1000, Symbol: "BTC", Exchange: model.Binance, Spec: model.NewPerpSpec("x"), C: f(1)}
	b := &model.PerpSample{TS: 1000, Symbol: "ETH", Exchange: model.Binance, Spec: model.NewPerpSpec("x"), C: f(2)}

	out := merge.Merge([]*model.PerpSample{a, b})
	require.Len(t, out, 2)
}
