// Package model defines the canonical perpetual-futures record types shared
// across the ingestion pipeline: the unified sample row, the derived metric
// row, and the small enums (exchange, window, metric) the rest of the
// pipeline is parameterized by.
package model

import (
	"sort"
	"strconv"
)

// Exchange identifies one of the three supported perpetual venues.
type Exchange string

const (
	Binance Exchange = "bin"
	Bybit   Exchange = "byb"
	OKX     Exchange = "okx"
)

var AllExchanges = []Exchange{Binance, Bybit, OKX}

// MarketSymbol is the synthetic aggregate index symbol; only OHLCV-like
// fields are ever populated for it (invariant 6).
const MarketSymbol = "MT"

// Window is a lookback width, in minutes, used by the derived-metrics engine.
type Window int

const (
	Window1  Window = 1
	Window5  Window = 5
	Window10 Window = 10
)

var AllWindows = []Window{Window1, Window5, Window10}

// Metric names one of the numeric fields percent-change features are
// computed over.
type Metric string

const (
	MetricClose  Metric = "c"
	MetricVolume Metric = "v"
	MetricOI     Metric = "oi"
	MetricPFR    Metric = "pfr"
	MetricLSR    Metric = "lsr"
	MetricRSI1   Metric = "rsi1"
	MetricRSI60  Metric = "rsi60"
	MetricTBV    Metric = "tbv"
	MetricTSV    Metric = "tsv"
	MetricLQL    Metric = "lql"
	MetricLQS    Metric = "lqs"
)

// AllMetrics lists every metric that participates in derived percent-change
// computation, in a stable order so generated column lists are deterministic.
var AllMetrics = []Metric{
	MetricClose, MetricVolume, MetricOI, MetricPFR, MetricLSR,
	MetricRSI1, MetricRSI60, MetricTBV, MetricTSV, MetricLQL, MetricLQS,
}

// VenueOnlyMetrics are the fields whose _chg_ columns the derived-metrics
// engine leaves null for the MT synthetic symbol (§4.8 MT-specific rule).
// tbv and tsv are not in this set.
var VenueOnlyMetrics = map[Metric]bool{
	MetricOI:  true,
	MetricPFR: true,
	MetricLSR: true,
	MetricLQL: true,
	MetricLQS: true,
}

// ClampMagnitude bounds a derived percent-change value to the spec's
// ±9999.999 envelope.
const ClampMagnitude = 9999.999

// PerpSpec is an unordered set of feed-provenance tags, e.g. "bin-ohlcv",
// serialized as a JSON array but always treated as a set: membership,
// union, never removal (invariant 3).
type PerpSpec map[string]struct{}

func NewPerpSpec(tags ...string) PerpSpec {
	s := make(PerpSpec, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func (s PerpSpec) Add(tag string) {
	s[tag] = struct{}{}
}

// Union returns a new set containing every tag from s and other.
func (s PerpSpec) Union(other PerpSpec) PerpSpec {
	out := make(PerpSpec, len(s)+len(other))
	for t := range s {
		out[t] = struct{}{}
	}
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Slice returns the set's members in sorted order, for deterministic JSON
// encoding and test assertions.
func (s PerpSpec) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PerpSample is the canonical unified row, keyed by (TS, Symbol, Exchange).
// Every numeric field is a pointer so that "not present in this partial
// record" (nil) is distinguishable from "present and zero" (non-nil, 0) —
// required for the additive, non-clobbering upsert semantics of C6/C7.
type PerpSample struct {
	TS       int64    `db:"ts"`
	Symbol   string   `db:"symbol"`
	Exchange Exchange `db:"exchange"`
	Spec     PerpSpec `db:"-"`

	O *float64 `db:"o"`
	H *float64 `db:"h"`
	L *float64 `db:"l"`
	C *float64 `db:"c"`
	V *float64 `db:"v"`

	OI    *float64 `db:"oi"`
	PFR   *float64 `db:"pfr"`
	LSR   *float64 `db:"lsr"`
	RSI1  *float64 `db:"rsi1"`
	RSI60 *float64 `db:"rsi60"`

	TBV *float64 `db:"tbv"`
	TSV *float64 `db:"tsv"`
	LQL *float64 `db:"lql"`
	LQS *float64 `db:"lqs"`

	Notes *string `db:"notes"`
}

// Key identifies a PerpSample/PerpMetric uniquely.
type Key struct {
	TS       int64
	Symbol   string
	Exchange Exchange
}

func (s *PerpSample) Key() Key {
	return Key{TS: s.TS, Symbol: s.Symbol, Exchange: s.Exchange}
}

// Field returns the pointer for a named metric, so generic merge/clamp code
// can operate uniformly instead of repeating a field-by-field switch at every
// call site.
func (s *PerpSample) Field(m Metric) **float64 {
	switch m {
	case MetricClose:
		return &s.C
	case MetricVolume:
		return &s.V
	case MetricOI:
		return &s.OI
	case MetricPFR:
		return &s.PFR
	case MetricLSR:
		return &s.LSR
	case MetricRSI1:
		return &s.RSI1
	case MetricRSI60:
		return &s.RSI60
	case MetricTBV:
		return &s.TBV
	case MetricTSV:
		return &s.TSV
	case MetricLQL:
		return &s.LQL
	case MetricLQS:
		return &s.LQS
	default:
		return nil
	}
}

// PerpMetric is the derived row: raw fields mirrored through plus, for every
// (metric, window) pair, a percent-change column and (for liquidations) a
// window-majority side column.
type PerpMetric struct {
	TS       int64    `db:"ts"`
	Symbol   string   `db:"symbol"`
	Exchange Exchange `db:"exchange"`

	O *float64 `db:"o"`
	H *float64 `db:"h"`
	L *float64 `db:"l"`
	C *float64 `db:"c"`
	V *float64 `db:"v"`

	OI    *float64 `db:"oi"`
	PFR   *float64 `db:"pfr"`
	LSR   *float64 `db:"lsr"`
	RSI1  *float64 `db:"rsi1"`
	RSI60 *float64 `db:"rsi60"`
	TBV   *float64 `db:"tbv"`
	TSV   *float64 `db:"tsv"`
	LQL   *float64 `db:"lql"`
	LQS   *float64 `db:"lqs"`

	// Changes[window][metric] = percent change, nil if undefined.
	Changes map[Window]map[Metric]*float64 `db:"-"`

	// LQSideChange[window] = "long"|"short"|nil (window-majority side).
	LQSideChange map[Window]*string `db:"-"`
}

func (m *PerpMetric) Key() Key {
	return Key{TS: m.TS, Symbol: m.Symbol, Exchange: m.Exchange}
}

// ColumnName returns the storage column name for a (metric, window) pair,
// e.g. "c_chg_1m" — also the name of the spec's detect column.
func ColumnName(m Metric, w Window) string {
	return string(m) + "_chg_" + strconv.Itoa(int(w)) + "m"
}

// DetectColumn is the column whose null-ness gates idempotent recompute of
// every _chg_ column (§3 Lifecycles, §4.8).
const DetectColumn = "c_chg_1m"
