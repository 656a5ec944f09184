package orchestrate_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/orchestrate"
)

func TestOrchestrator_RunsLastUnitAfterOthers(t *testing.T) {
	var order []string
	o := orchestrate.New(zerolog.Nop(), 2, time.Hour)
	o.InitStorage = func(ctx context.Context) error { return nil }
	o.Backfills = []orchestrate.BackfillUnit{
		{Name: "a", Run: func(ctx context.Context) error { order = append(order, "a"); return nil }},
		{Name: "b", Run: func(ctx context.Context) error { order = append(order, "b"); return nil }},
		{Name: "z", Last: true, Run: func(ctx context.Context) error { order = append(order, "z"); return nil }},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // no collectors/metrics configured, so Run returns immediately after backfills

	require.NoError(t, o.Run(ctx))
	require.Equal(t, "z", order[len(order)-1])
	require.Len(t, order, 3)
}

func TestOrchestrator_RunsMetricsOnceImmediatelyThenStopsOnCancel(t *testing.T) {
	var calls int32
	o := orchestrate.New(zerolog.Nop(), 5, 10*time.Millisecond)
	o.RunMetricsOnce = func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	require.NoError(t, o.Run(ctx))
	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}
