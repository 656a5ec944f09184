package ws

import (
	"encoding/json"
	"strings"
)

// BinanceDecoder handles combined-stream kline/trade/forceOrder frames.
// Confirmed-candle gate: `k.x == true` (§4.4).
type BinanceDecoder struct{}

func (BinanceDecoder) SubscribeFrames(symbols []string) [][]byte {
	params := make([]string, 0, len(symbols)*2)
	for _, sym := range symbols {
		low := strings.ToLower(sym)
		params = append(params, low+"@kline_1m", low+"@aggTrade", low+"@forceOrder")
	}
	frame, _ := json.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     1,
	})
	return [][]byte{frame}
}

func (BinanceDecoder) IsPing(raw []byte) bool { return false } // gorilla handles control-frame pings

func (BinanceDecoder) Decode(raw []byte) (Event, bool, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil {
		return Event{}, false, nil
	}

	switch {
	case strings.Contains(env.Stream, "@kline"):
		var k struct {
			Symbol string `json:"s"`
			K      struct {
				Closed bool `json:"x"`
			} `json:"k"`
		}
		if err := json.Unmarshal(env.Data, &k); err != nil {
			return Event{}, false, err
		}
		if !k.K.Closed {
			return Event{}, false, nil
		}
		return Event{Kind: KindCandle, Symbol: k.Symbol, Payload: env.Data}, true, nil

	case strings.Contains(env.Stream, "@aggTrade"):
		var t struct {
			Symbol string `json:"s"`
		}
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: KindTrade, Symbol: t.Symbol, Payload: env.Data}, true, nil

	case strings.Contains(env.Stream, "@forceOrder"):
		var f struct {
			Order struct {
				Symbol string `json:"s"`
			} `json:"o"`
		}
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return Event{}, false, err
		}
		return Event{Kind: KindLiquidation, Symbol: f.Order.Symbol, Payload: env.Data}, true, nil
	}
	return Event{}, false, nil
}

// BybitDecoder handles v5 linear-category public topics. Bybit requires
// one subscription per instrument, chunked at <=200 per args array, with
// ~50ms stagger between frames (§4.4) — staggering between frames is
// handled by Session.subscribe; this decoder only performs the chunking.
type BybitDecoder struct{}

const bybitMaxArgsPerFrame = 200

func (BybitDecoder) SubscribeFrames(symbols []string) [][]byte {
	var args []string
	for _, sym := range symbols {
		args = append(args, "kline.1."+sym, "publicTrade."+sym, "liquidation."+sym)
	}

	var frames [][]byte
	for i := 0; i < len(args); i += bybitMaxArgsPerFrame {
		end := i + bybitMaxArgsPerFrame
		if end > len(args) {
			end = len(args)
		}
		frame, _ := json.Marshal(map[string]any{
			"op":   "subscribe",
			"args": args[i:end],
		})
		frames = append(frames, frame)
	}
	return frames
}

func (BybitDecoder) IsPing(raw []byte) bool {
	return strings.Contains(string(raw), `"op":"ping"`)
}

func (BybitDecoder) Decode(raw []byte) (Event, bool, error) {
	var env struct {
		Topic string          `json:"topic"`
		Op    string          `json:"op"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false, nil
	}
	if env.Op != "" || env.Topic == "" {
		return Event{}, false, nil // ack/pong/subscribe-status frame, not data
	}

	parts := strings.Split(env.Topic, ".")
	symbol := parts[len(parts)-1]

	switch {
	case strings.HasPrefix(env.Topic, "kline."):
		var candles []struct {
			Confirm bool `json:"confirm"`
		}
		if err := json.Unmarshal(env.Data, &candles); err != nil || len(candles) == 0 {
			return Event{}, false, nil
		}
		if !candles[0].Confirm {
			return Event{}, false, nil
		}
		return Event{Kind: KindCandle, Symbol: symbol, Payload: env.Data}, true, nil

	case strings.HasPrefix(env.Topic, "publicTrade."):
		return Event{Kind: KindTrade, Symbol: symbol, Payload: env.Data}, true, nil

	case strings.HasPrefix(env.Topic, "liquidation."):
		return Event{Kind: KindLiquidation, Symbol: symbol, Payload: env.Data}, true, nil
	}
	return Event{}, false, nil
}

// OKXDecoder handles the public business WebSocket, which wraps every
// push in {"arg":{...},"data":[...]}. Confirmed-candle gate:
// `confirm == "1"` (§4.4). OKX's literal "ping" text frame must be
// answered with a literal "pong" (IsPing covers this).
type OKXDecoder struct{}

func (OKXDecoder) SubscribeFrames(symbols []string) [][]byte {
	var args []map[string]string
	for _, sym := range symbols {
		args = append(args, map[string]string{"channel": "candle1m", "instId": sym})
		args = append(args, map[string]string{"channel": "trades", "instId": sym})
		args = append(args, map[string]string{"channel": "liquidation-orders", "instId": sym})
	}
	frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{frame}
}

func (OKXDecoder) IsPing(raw []byte) bool {
	return string(raw) == "ping"
}

func (OKXDecoder) Decode(raw []byte) (Event, bool, error) {
	if string(raw) == "ping" || string(raw) == "pong" {
		return Event{}, false, nil
	}
	var env struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		return Event{}, false, nil
	}

	switch env.Arg.Channel {
	case "candle1m":
		var row []string
		if err := json.Unmarshal(env.Data[0], &row); err != nil || len(row) < 9 {
			return Event{}, false, nil
		}
		confirm := row[8]
		if confirm != "1" {
			return Event{}, false, nil
		}
		return Event{Kind: KindCandle, Symbol: env.Arg.InstID, Payload: env.Data[0]}, true, nil

	case "trades":
		return Event{Kind: KindTrade, Symbol: env.Arg.InstID, Payload: env.Data[0]}, true, nil

	case "liquidation-orders":
		return Event{Kind: KindLiquidation, Symbol: env.Arg.InstID, Payload: env.Data[0]}, true, nil
	}
	return Event{}, false, nil
}
