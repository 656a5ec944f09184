package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/transport/fetch"
)

func newTestFetcher(t *testing.T, base string) *fetch.Fetcher {
	t.Helper()
	pool, err := fetch.NewClientPool(fetch.Direct, 4, 5*time.Second, "", zerolog.Nop())
	require.NoError(t, err)
	f := fetch.NewFetcher("test", map[fetch.ConnKind]*fetch.ClientPool{fetch.Direct: pool}, fetch.NewResponseCache(nil), zerolog.Nop())
	f.RegisterEndpoint("ep", fetch.Policy{
		BaseURL: base, MaxPageSize: 2, MaxRetries: 3, BaseBackoff: time.Millisecond,
		SustainedRPS: 1000, Burst: 1000,
	})
	return f
}

func TestFetch_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"ts":1,"v":"x"}]`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	rows, err := f.Fetch(context.Background(), "ep", "BTCUSDT", fetch.Direct, req, fetch.DecodeJSONArray)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetch_ExhaustsRetriesOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := f.Fetch(context.Background(), "ep", "BTCUSDT", fetch.Direct, req, fetch.DecodeJSONArray)
	require.ErrorIs(t, err, fetch.ErrRetriesExhausted)

	snap := f.Stats("ep")
	require.Contains(t, snap.FailedSymbols, "BTCUSDT")
}

func TestFetchPaged_StopsOnShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		switch after {
		case "1000":
			w.Write([]byte(`[{"ts":900},{"ts":800}]`))
		default:
			w.Write([]byte(`[{"ts":700}]`))
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	rows, err := f.FetchPaged(context.Background(), 1000, fetch.PageParams{
		Endpoint:    "ep",
		Kind:        fetch.Direct,
		WindowStart: 0,
		Limit:       2,
		Build: func(after int64) (*http.Request, error) {
			return http.NewRequest(http.MethodGet, fmt.Sprintf("%s?after=%d", srv.URL, after), nil)
		},
		Decode: fetch.DecodeJSONArray,
		TimestampOf: func(r fetch.RawRecord) int64 {
			v, _ := r["ts"].(float64)
			return int64(v)
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
}
