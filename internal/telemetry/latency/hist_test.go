package latency_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/telemetry/latency"
)

func TestHistogram_PercentilesOverRollingWindow(t *testing.T) {
	h := latency.NewHistogram(latency.StageData, 10)
	for i := 1; i <= 10; i++ {
		h.Record(time.Duration(i) * time.Millisecond)
	}

	require.Equal(t, 10, h.Count())
	require.InDelta(t, 5.5, h.P50(), 0.5)
	require.InDelta(t, 10, h.P99(), 0.5)
}

func TestHistogram_EvictsOldestOnOverflow(t *testing.T) {
	h := latency.NewHistogram(latency.StageData, 3)
	h.Record(1 * time.Millisecond)
	h.Record(2 * time.Millisecond)
	h.Record(3 * time.Millisecond)
	h.Record(100 * time.Millisecond) // evicts the 1ms sample

	require.Equal(t, 3, h.Count())
	// window is {2, 3, 100}: index 0.99*2 = 1.98 interpolates to
	// 3*0.02 + 100*0.98 = 98.06.
	require.InDelta(t, 98.06, h.P99(), 0.5)
}

func TestTimer_StopReturnsElapsedWithoutPackageState(t *testing.T) {
	timer := latency.StartTimer()
	time.Sleep(time.Millisecond)
	d := timer.Stop()
	require.Greater(t, d, time.Duration(0))
}
