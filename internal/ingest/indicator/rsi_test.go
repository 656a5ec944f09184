package indicator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/ingest/indicator"
)

func TestRSI_InsufficientHistoryIsNil(t *testing.T) {
	closes := []float64{1, 2, 3}
	out := indicator.RSI(closes)
	require.Len(t, out, 3)
	for _, v := range out {
		require.Nil(t, v)
	}
}

func TestRSI_AllGainsIsHundred(t *testing.T) {
	closes := make([]float64, indicator.Period+2)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	out := indicator.RSI(closes)
	require.NotNil(t, out[indicator.Period])
	require.InDelta(t, 100.0, *out[indicator.Period], 0.001)
}

func TestAggregate60m_TakesLastCloseOfEachWindow(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = float64(i)
	}
	out := indicator.Aggregate60m(closes)
	require.Equal(t, []float64{59, 119}, out)
}
