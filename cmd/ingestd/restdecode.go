package main

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/ingest/symbol"
	"github.com/sawpanic/perpingest/internal/ingest/timestamp"
	"github.com/sawpanic/perpingest/internal/transport/fetch"
)

// envelope unwraps the venue-specific response wrapper down to the bare
// array of records every REST backfill endpoint ultimately returns:
// Binance responds with a top-level array, Bybit nests it under
// result.list, OKX under data.
func envelope(exch model.Exchange) fetch.Decoder {
	switch exch {
	case model.Bybit:
		return func(body []byte) ([]fetch.RawRecord, error) {
			var env struct {
				Result struct {
					List []fetch.RawRecord `json:"list"`
				} `json:"result"`
			}
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, err
			}
			return env.Result.List, nil
		}
	case model.OKX:
		return func(body []byte) ([]fetch.RawRecord, error) {
			var env struct {
				Data []fetch.RawRecord `json:"data"`
			}
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, err
			}
			return env.Data, nil
		}
	default: // Binance: bare array
		return fetch.DecodeJSONArray
	}
}

// arrayEnvelope is the kline-shaped variant: every venue returns an array
// of arrays (not objects) for candle history, wrapped the same way object
// endpoints are. Each inner array is re-keyed into a RawRecord under
// positional field names so the rest of the pipeline can treat it like any
// other record.
func arrayEnvelope(exch model.Exchange, fields []string) fetch.Decoder {
	unwrap := func(body []byte) ([]json.RawMessage, error) {
		switch exch {
		case model.Bybit:
			var env struct {
				Result struct {
					List []json.RawMessage `json:"list"`
				} `json:"result"`
			}
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, err
			}
			return env.Result.List, nil
		case model.OKX:
			var env struct {
				Data []json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, err
			}
			return env.Data, nil
		default:
			var rows []json.RawMessage
			if err := json.Unmarshal(body, &rows); err != nil {
				return nil, err
			}
			return rows, nil
		}
	}

	return func(body []byte) ([]fetch.RawRecord, error) {
		rows, err := unwrap(body)
		if err != nil {
			return nil, err
		}
		out := make([]fetch.RawRecord, 0, len(rows))
		for _, raw := range rows {
			var arr []any
			if err := json.Unmarshal(raw, &arr); err != nil {
				return nil, err
			}
			rec := make(fetch.RawRecord, len(fields))
			for i, f := range fields {
				if i < len(arr) {
					rec[f] = arr[i]
				}
			}
			out = append(out, rec)
		}
		return out, nil
	}
}

// binanceKlineFields/bybitKlineFields/okxKlineFields name each venue's
// positional candle-array columns; OKX additionally carries a trailing
// "confirm" flag (ignored for REST history — only the WS stream gates on
// it, since REST history endpoints only ever return closed candles).
var (
	binanceKlineFields = []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}
	bybitKlineFields   = []string{"start", "open", "high", "low", "close", "volume", "turnover"}
	okxKlineFields     = []string{"ts", "open", "high", "low", "close", "volume", "volCcy", "volCcyQuote", "confirm"}
)

func klineFields(exch model.Exchange) []string {
	switch exch {
	case model.Bybit:
		return bybitKlineFields
	case model.OKX:
		return okxKlineFields
	default:
		return binanceKlineFields
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func floatPtr(rec fetch.RawRecord, key string) *float64 {
	v, ok := rec[key]
	if !ok {
		return nil
	}
	f, ok := asFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// decodeOHLCV turns one venue's kline history page into canonical OHLCV
// partials tagged "<venue>-ohlcv".
func decodeOHLCV(exch model.Exchange, canonical string, rows []fetch.RawRecord) []*model.PerpSample {
	tsKey := "open_time"
	if exch != model.Binance {
		tsKey = map[model.Exchange]string{model.Bybit: "start", model.OKX: "ts"}[exch]
	}

	out := make([]*model.PerpSample, 0, len(rows))
	for _, r := range rows {
		rawTS, ok := r[tsKey]
		if !ok {
			continue
		}
		tsVal, ok := asFloat(rawTS)
		if !ok {
			continue
		}
		ts, err := timestamp.NormalizeFloor(int64(tsVal))
		if err != nil {
			continue
		}
		out = append(out, &model.PerpSample{
			TS: ts, Symbol: canonical, Exchange: exch,
			Spec: model.NewPerpSpec(string(exch) + "-ohlcv"),
			O:    floatPtr(r, "open"), H: floatPtr(r, "high"), L: floatPtr(r, "low"),
			C: floatPtr(r, "close"), V: floatPtr(r, "volume"),
		})
	}
	return out
}

// decodeOI/decodePFR/decodeLSR share the same object-record shape: a
// timestamp field plus one numeric value field, keyed differently per
// venue's wire format.
type valueFieldSpec struct {
	tsField    string
	valueField string
}

var oiFieldSpec = map[model.Exchange]valueFieldSpec{
	model.Binance: {tsField: "timestamp", valueField: "sumOpenInterestValue"},
	model.Bybit:   {tsField: "timestamp", valueField: "openInterestValue"},
	model.OKX:     {tsField: "ts", valueField: "oiCcy"},
}

var pfrFieldSpec = map[model.Exchange]valueFieldSpec{
	model.Binance: {tsField: "fundingTime", valueField: "fundingRate"},
	model.Bybit:   {tsField: "fundingRateTimestamp", valueField: "fundingRate"},
	model.OKX:     {tsField: "fundingTime", valueField: "fundingRate"},
}

var lsrFieldSpec = map[model.Exchange]valueFieldSpec{
	model.Binance: {tsField: "timestamp", valueField: "longShortRatio"},
	model.Bybit:   {tsField: "timestamp", valueField: "buyRatio"},
	// OKX has no directly comparable long/short account ratio endpoint;
	// left unmapped, so decodeLSR returns nil for OKX.
}

func decodeValueField(exch model.Exchange, canonical string, rows []fetch.RawRecord, spec valueFieldSpec, tag string, apply func(s *model.PerpSample, v *float64)) []*model.PerpSample {
	out := make([]*model.PerpSample, 0, len(rows))
	for _, r := range rows {
		rawTS, ok := r[spec.tsField]
		if !ok {
			continue
		}
		tsVal, ok := asFloat(rawTS)
		if !ok {
			continue
		}
		ts, err := timestamp.NormalizeFloor(int64(tsVal))
		if err != nil {
			continue
		}
		val := floatPtr(r, spec.valueField)
		if val == nil {
			continue
		}
		s := &model.PerpSample{TS: ts, Symbol: canonical, Exchange: exch, Spec: model.NewPerpSpec(tag)}
		apply(s, val)
		out = append(out, s)
	}
	return out
}

func decodeOI(exch model.Exchange, canonical string, rows []fetch.RawRecord) []*model.PerpSample {
	spec, ok := oiFieldSpec[exch]
	if !ok {
		return nil
	}
	return decodeValueField(exch, canonical, rows, spec, string(exch)+"-oi", func(s *model.PerpSample, v *float64) { s.OI = v })
}

func decodePFR(exch model.Exchange, canonical string, rows []fetch.RawRecord) []*model.PerpSample {
	spec, ok := pfrFieldSpec[exch]
	if !ok {
		return nil
	}
	return decodeValueField(exch, canonical, rows, spec, string(exch)+"-pfr", func(s *model.PerpSample, v *float64) { s.PFR = v })
}

func decodeLSR(exch model.Exchange, canonical string, rows []fetch.RawRecord) []*model.PerpSample {
	spec, ok := lsrFieldSpec[exch]
	if !ok {
		return nil
	}
	return decodeValueField(exch, canonical, rows, spec, string(exch)+"-lsr", func(s *model.PerpSample, v *float64) { s.LSR = v })
}

// venueInstrumentID resolves the canonical symbol to the venue's REST wire
// id. ok is false only for an empty symbol or an unknown venue; MT maps
// like any other symbol, so callers skip it themselves.
func venueInstrumentID(exch model.Exchange, canonical string) (string, bool) {
	return symbol.ToVenue(exch, canonical, false)
}
