package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/transport/ws"
)

func TestSession_StreamsConfirmedCandleAndHeartbeats(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, _ = conn.ReadMessage() // subscribe frame

		msg := `{"stream":"btcusdt@kline_1m","data":{"s":"BTCUSDT","k":{"x":true}}}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	events := make(chan ws.Event, 8)
	heartbeats := make(chan ws.Heartbeat, 8)
	s := ws.NewSession("binance", wsURL, []string{"BTCUSDT"}, ws.BinanceDecoder{}, events, heartbeats, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go s.Run(ctx)

	select {
	case ev := <-events:
		require.Equal(t, ws.KindCandle, ev.Kind)
		require.Equal(t, "BTCUSDT", ev.Symbol)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for candle event")
	}

	select {
	case hb := <-heartbeats:
		require.Equal(t, "binance", hb.Venue)
		require.Equal(t, 1, hb.SymbolsSet)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}
