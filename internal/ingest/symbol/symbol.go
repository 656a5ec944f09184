// Package symbol implements the per-venue bi-directional mapping between a
// canonical symbol (e.g. "BTC") and each exchange's instrument id (C2).
package symbol

import (
	"strings"

	"github.com/sawpanic/perpingest/internal/ingest/model"
)

// thousandPrefixed is the fixed Bybit set whose instrument id carries a
// "1000" multiplier prefix (§4.2).
var thousandPrefixed = map[string]bool{
	"BONK":  true,
	"PEPE":  true,
	"FLOKI": true,
	"TOSHI": true,
}

// ToVenue maps a canonical symbol to its venue-specific instrument id.
// ws selects the lower-case Binance WS convention; REST calls pass ws=false.
// The bool return is false on a miss — unknown venue symbols are not an
// error at the mapper (§4.2); callers decide policy.
func ToVenue(exch model.Exchange, canonical string, ws bool) (string, bool) {
	if canonical == "" {
		return "", false
	}
	switch exch {
	case model.Binance:
		id := canonical + "USDT"
		if ws {
			id = strings.ToLower(id)
		} else {
			id = strings.ToUpper(id)
		}
		return id, true
	case model.OKX:
		return strings.ToUpper(canonical) + "-USDT-SWAP", true
	case model.Bybit:
		base := strings.ToUpper(canonical)
		if thousandPrefixed[base] {
			return "1000" + base + "USDT", true
		}
		return base + "USDT", true
	default:
		return "", false
	}
}

// FromVenue maps a venue-specific instrument id back to its canonical
// symbol.
func FromVenue(exch model.Exchange, venueSymbol string) (string, bool) {
	if venueSymbol == "" {
		return "", false
	}
	switch exch {
	case model.Binance:
		id := strings.ToUpper(venueSymbol)
		if !strings.HasSuffix(id, "USDT") {
			return "", false
		}
		return strings.TrimSuffix(id, "USDT"), true
	case model.OKX:
		id := strings.ToUpper(venueSymbol)
		if !strings.HasSuffix(id, "-USDT-SWAP") {
			return "", false
		}
		return strings.TrimSuffix(id, "-USDT-SWAP"), true
	case model.Bybit:
		id := strings.ToUpper(venueSymbol)
		if !strings.HasSuffix(id, "USDT") {
			return "", false
		}
		base := strings.TrimSuffix(id, "USDT")
		if strings.HasPrefix(base, "1000") {
			stripped := strings.TrimPrefix(base, "1000")
			if thousandPrefixed[stripped] {
				return stripped, true
			}
		}
		return base, true
	default:
		return "", false
	}
}
