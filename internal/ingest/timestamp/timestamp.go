// Package timestamp normalizes the heterogeneous time representations
// emitted by venue REST and WebSocket payloads (seconds, milliseconds,
// ISO-8601 strings, JSON numbers) into epoch-millisecond integers floored to
// a minute boundary.
package timestamp

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadTimestamp is returned when a value cannot be parsed as any of the
// accepted timestamp shapes.
var ErrBadTimestamp = errors.New("timestamp: unparseable value")

// secondsThreshold is the heuristic cutover: any numeric value below this is
// assumed to be seconds-since-epoch rather than milliseconds. 10^12 ms is
// September 2001; no venue emits second-precision timestamps that large.
const secondsThreshold = 1_000_000_000_000

// Normalize accepts an int64, float64, or string and returns epoch
// milliseconds. Strings are tried as ISO-8601 first, then as a numeric
// literal. The result is NOT floored to a minute; callers floor explicitly
// via Floor when they know a value is meant to sit on the minute grid.
func Normalize(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return normalizeNumeric(float64(t)), nil
	case int:
		return normalizeNumeric(float64(t)), nil
	case float64:
		return normalizeNumeric(t), nil
	case string:
		return normalizeString(t)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrBadTimestamp, v)
	}
}

func normalizeNumeric(n float64) int64 {
	if n < secondsThreshold {
		return int64(n * 1000)
	}
	return int64(n)
}

func normalizeString(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	var n float64
	if _, err := fmt.Sscanf(s, "%f", &n); err == nil {
		return normalizeNumeric(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// Floor rounds an epoch-millisecond timestamp down to the start of its
// containing minute, per invariant 1 (ts mod 60_000 == 0).
func Floor(ms int64) int64 {
	const minuteMs = 60_000
	if ms < 0 {
		return -(((-ms) + minuteMs - 1) / minuteMs) * minuteMs
	}
	return (ms / minuteMs) * minuteMs
}

// NormalizeFloor is Normalize followed by Floor, the common case for
// incoming candle/event timestamps.
func NormalizeFloor(v any) (int64, error) {
	ms, err := Normalize(v)
	if err != nil {
		return 0, err
	}
	return Floor(ms), nil
}
