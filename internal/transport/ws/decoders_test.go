package ws_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/perpingest/internal/transport/ws"
)

func TestBinanceDecoder_DropsUnconfirmedCandle(t *testing.T) {
	d := ws.BinanceDecoder{}
	raw := []byte(`{"stream":"btcusdt@kline_1m","data":{"s":"BTCUSDT","k":{"x":false}}}`)
	_, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBinanceDecoder_AcceptsConfirmedCandle(t *testing.T) {
	d := ws.BinanceDecoder{}
	raw := []byte(`{"stream":"btcusdt@kline_1m","data":{"s":"BTCUSDT","k":{"x":true}}}`)
	ev, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ws.KindCandle, ev.Kind)
	require.Equal(t, "BTCUSDT", ev.Symbol)
}

func TestBybitDecoder_ChunksAtTwoHundred(t *testing.T) {
	d := ws.BybitDecoder{}
	symbols := make([]string, 250)
	for i := range symbols {
		symbols[i] = "SYM"
	}
	frames := d.SubscribeFrames(symbols)
	// 250 symbols x 3 topics = 750 args, at most 200 args per frame.
	require.Len(t, frames, 4)
}

func TestBybitDecoder_DropsUnconfirmedCandle(t *testing.T) {
	d := ws.BybitDecoder{}
	raw := []byte(`{"topic":"kline.1.BTCUSDT","data":[{"confirm":false}]}`)
	_, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBybitDecoder_IgnoresAckFrame(t *testing.T) {
	d := ws.BybitDecoder{}
	raw := []byte(`{"op":"subscribe","success":true}`)
	_, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOKXDecoder_DropsUnconfirmedCandle(t *testing.T) {
	d := ws.OKXDecoder{}
	raw := []byte(`{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"data":[["1","2","3","4","5","6","7","8","0"]]}`)
	_, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOKXDecoder_AcceptsConfirmedCandle(t *testing.T) {
	d := ws.OKXDecoder{}
	raw := []byte(`{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"data":[["1","2","3","4","5","6","7","8","1"]]}`)
	ev, ok, err := d.Decode(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "BTC-USDT-SWAP", ev.Symbol)
}

func TestOKXDecoder_IsPing(t *testing.T) {
	d := ws.OKXDecoder{}
	require.True(t, d.IsPing([]byte("ping")))
	require.False(t, d.IsPing([]byte(`{"arg":{}}`)))
}
