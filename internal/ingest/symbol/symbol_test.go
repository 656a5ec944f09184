package symbol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/perpingest/internal/ingest/model"
	"github.com/sawpanic/perpingest/internal/ingest/symbol"
)

func TestToVenue_Binance(t *testing.T) {
	ws, ok := symbol.ToVenue(model.Binance, "BTC", true)
	assert.True(t, ok)
	assert.Equal(t, "btcusdt", ws)

	rest, ok := symbol.ToVenue(model.Binance, "BTC", false)
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", rest)
}

func TestToVenue_OKX(t *testing.T) {
	id, ok := symbol.ToVenue(model.OKX, "ETH", false)
	assert.True(t, ok)
	assert.Equal(t, "ETH-USDT-SWAP", id)
}

func TestToVenue_BybitThousandPrefix(t *testing.T) {
	id, ok := symbol.ToVenue(model.Bybit, "BONK", false)
	assert.True(t, ok)
	assert.Equal(t, "1000BONKUSDT", id)

	id, ok = symbol.ToVenue(model.Bybit, "BTC", false)
	assert.True(t, ok)
	assert.Equal(t, "BTCUSDT", id)
}

func TestFromVenue_BybitStripsThousandPrefixOnlyForKnownSet(t *testing.T) {
	canonical, ok := symbol.FromVenue(model.Bybit, "1000BONKUSDT")
	assert.True(t, ok)
	assert.Equal(t, "BONK", canonical)

	// "1000X" is not in the fixed set, so no stripping occurs.
	canonical, ok = symbol.FromVenue(model.Bybit, "1000XUSDT")
	assert.True(t, ok)
	assert.Equal(t, "1000X", canonical)
}

func TestFromVenue_UnknownFormatIsMiss(t *testing.T) {
	_, ok := symbol.FromVenue(model.OKX, "garbage")
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	for _, exch := range model.AllExchanges {
		for _, sym := range []string{"BTC", "ETH", "SOL"} {
			venueID, ok := symbol.ToVenue(exch, sym, false)
			assert.True(t, ok)
			back, ok := symbol.FromVenue(exch, venueID)
			assert.True(t, ok)
			assert.Equal(t, sym, back)
		}
	}
}
