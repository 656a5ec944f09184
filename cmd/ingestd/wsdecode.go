package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sawpanic/perpingest/internal/aggregate/bucket"
	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/ingest/symbol"
	"github.com/sawpanic/perpingest/internal/ingest/timestamp"
	"github.com/sawpanic/perpingest/internal/transport/ws"
)

// num parses a field that may arrive as a JSON number or a quoted string,
// the convention every one of these venues mixes within the same payload.
func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// candleFromEvent converts a confirmed KindCandle event's venue-specific
// payload into an OHLCV PerpSample partial.
func candleFromEvent(exch model.Exchange, ev ws.Event) *model.PerpSample {
	canonical, ok := symbol.FromVenue(exch, ev.Symbol)
	if !ok {
		return nil
	}

	raw, ok := ev.Payload.(json.RawMessage)
	if !ok {
		return nil
	}

	var tsMillis int64
	var o, h, l, c, v *float64

	switch exch {
	case model.Binance:
		var env struct {
			K struct {
				StartTime int64  `json:"t"`
				Open      string `json:"o"`
				High      string `json:"h"`
				Low       string `json:"l"`
				Close     string `json:"c"`
				Volume    string `json:"v"`
			} `json:"k"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil
		}
		tsMillis = env.K.StartTime
		o = parsePtr(env.K.Open)
		h = parsePtr(env.K.High)
		l = parsePtr(env.K.Low)
		c = parsePtr(env.K.Close)
		v = parsePtr(env.K.Volume)

	case model.Bybit:
		var candles []struct {
			Start  int64  `json:"start"`
			Open   string `json:"open"`
			High   string `json:"high"`
			Low    string `json:"low"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		}
		if err := json.Unmarshal(raw, &candles); err != nil || len(candles) == 0 {
			return nil
		}
		tsMillis = candles[0].Start
		o = parsePtr(candles[0].Open)
		h = parsePtr(candles[0].High)
		l = parsePtr(candles[0].Low)
		c = parsePtr(candles[0].Close)
		v = parsePtr(candles[0].Volume)

	case model.OKX:
		var row []string
		if err := json.Unmarshal(raw, &row); err != nil || len(row) < 6 {
			return nil
		}
		if n, err := strconv.ParseInt(row[0], 10, 64); err == nil {
			tsMillis = n
		}
		o = parsePtr(row[1])
		h = parsePtr(row[2])
		l = parsePtr(row[3])
		c = parsePtr(row[4])
		v = parsePtr(row[5])
	}

	ts, err := timestamp.NormalizeFloor(tsMillis)
	if err != nil {
		return nil
	}

	return &model.PerpSample{
		TS: ts, Symbol: canonical, Exchange: exch,
		Spec: model.NewPerpSpec(string(exch) + "-ohlcv-ws"),
		O:    o, H: h, L: l, C: c, V: v,
	}
}

func parsePtr(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// feedTrade decodes a KindTrade event and records it into the bucket
// aggregator under the venue's buy/sell convention (§4.5).
func feedTrade(exch model.Exchange, ev ws.Event, agg *bucket.Aggregator) {
	canonical, ok := symbol.FromVenue(exch, ev.Symbol)
	if !ok {
		return
	}
	raw, ok := ev.Payload.(json.RawMessage)
	if !ok {
		return
	}

	var tsMillis int64
	var price, qty float64
	var side bucket.Side

	switch exch {
	case model.Binance:
		var t struct {
			Price        string `json:"p"`
			Qty          string `json:"q"`
			Time         int64  `json:"T"`
			BuyerIsMaker bool   `json:"m"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return
		}
		tsMillis = t.Time
		price, _ = strconv.ParseFloat(t.Price, 64)
		qty, _ = strconv.ParseFloat(t.Qty, 64)
		if t.BuyerIsMaker {
			side = bucket.TakerSell
		} else {
			side = bucket.TakerBuy
		}

	case model.Bybit:
		var trades []struct {
			Time  int64  `json:"T"`
			Side  string `json:"S"`
			Qty   string `json:"v"`
			Price string `json:"p"`
		}
		if err := json.Unmarshal(raw, &trades); err != nil || len(trades) == 0 {
			return
		}
		tsMillis = trades[0].Time
		price, _ = strconv.ParseFloat(trades[0].Price, 64)
		qty, _ = strconv.ParseFloat(trades[0].Qty, 64)
		if strings.EqualFold(trades[0].Side, "Buy") {
			side = bucket.TakerBuy
		} else {
			side = bucket.TakerSell
		}

	case model.OKX:
		var t struct {
			Px   string `json:"px"`
			Sz   string `json:"sz"`
			Side string `json:"side"`
			Ts   string `json:"ts"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return
		}
		tsMillis, _ = strconv.ParseInt(t.Ts, 10, 64)
		price, _ = strconv.ParseFloat(t.Px, 64)
		qty, _ = strconv.ParseFloat(t.Sz, 64)
		if t.Side == "buy" {
			side = bucket.TakerBuy
		} else {
			side = bucket.TakerSell
		}
	}

	if tsMillis == 0 || price == 0 || qty == 0 {
		return
	}
	agg.AddTrade(exch, canonical, tsMillis, price*qty, side)
}

// feedLiquidation decodes a KindLiquidation event and records its
// USD notional into the bucket aggregator under the venue's side
// convention (§4.5): Binance and OKX report the order side, the opposite
// of the liquidated position; Bybit reports the position side directly.
func feedLiquidation(exch model.Exchange, ev ws.Event, agg *bucket.Aggregator) {
	canonical, ok := symbol.FromVenue(exch, ev.Symbol)
	if !ok {
		return
	}
	raw, ok := ev.Payload.(json.RawMessage)
	if !ok {
		return
	}

	var tsMillis int64
	var price, qty float64
	var side bucket.Side

	switch exch {
	case model.Binance:
		var f struct {
			Order struct {
				Side  string `json:"S"`
				Price string `json:"p"`
				Qty   string `json:"q"`
				Time  int64  `json:"T"`
			} `json:"o"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return
		}
		tsMillis = f.Order.Time
		price, _ = strconv.ParseFloat(f.Order.Price, 64)
		qty, _ = strconv.ParseFloat(f.Order.Qty, 64)
		if f.Order.Side == "BUY" {
			side = bucket.LiqShort
		} else {
			side = bucket.LiqLong
		}

	case model.Bybit:
		var liqs []struct {
			Time  int64  `json:"updatedTime"`
			Side  string `json:"side"`
			Price string `json:"price"`
			Size  string `json:"size"`
		}
		if err := json.Unmarshal(raw, &liqs); err != nil || len(liqs) == 0 {
			return
		}
		tsMillis = liqs[0].Time
		price, _ = strconv.ParseFloat(liqs[0].Price, 64)
		qty, _ = strconv.ParseFloat(liqs[0].Size, 64)
		if strings.EqualFold(liqs[0].Side, "Buy") {
			side = bucket.LiqLong
		} else {
			side = bucket.LiqShort
		}

	case model.OKX:
		var l struct {
			Side string `json:"side"`
			BkPx string `json:"bkPx"`
			Sz   string `json:"sz"`
			Ts   string `json:"ts"`
		}
		if err := json.Unmarshal(raw, &l); err != nil {
			return
		}
		tsMillis, _ = strconv.ParseInt(l.Ts, 10, 64)
		price, _ = strconv.ParseFloat(l.BkPx, 64)
		qty, _ = strconv.ParseFloat(l.Sz, 64)
		if l.Side == "buy" {
			side = bucket.LiqShort
		} else {
			side = bucket.LiqLong
		}
	}

	if tsMillis == 0 || price == 0 || qty == 0 {
		return
	}
	agg.AddLiquidation(exch, canonical, tsMillis, price*qty, side)
}
