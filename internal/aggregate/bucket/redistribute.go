package bucket

// OHLCVPoint is one of the five 1-minute rows used to weight a 5-minute
// taker-volume aggregate back onto its constituent minutes (§4.5).
type OHLCVPoint struct {
	Volume float64
	Close  float64
}

// RedistributeTakerVolume splits a 5-minute taker-buy/sell total across
// the five 1-minute slots in points, weighted by each minute's share of
// volume and the direction of its close-to-close move:
//
//	w_i = (v_i / sum(v)) * (1 + sign(delta c_i)) / 2, normalized to sum to 1
//
// mirror flips the sign term for the taker-sell side, which concentrates
// weight on down-minutes instead of up-minutes:
//
//	w_i = (v_i / sum(v)) * (1 - sign(delta c_i)) / 2, normalized to sum to 1
//
// Call with mirror=false for TBV and mirror=true for TSV (§4.5).
//
// Falls back to an equal 1/5 split when points doesn't have exactly five
// entries, is non-consecutive (caller's responsibility to pass
// consecutive minutes), or sum(v) == 0.
func RedistributeTakerVolume(total float64, points []OHLCVPoint, mirror bool) [5]float64 {
	var out [5]float64
	equal := func() [5]float64 {
		var e [5]float64
		share := total / 5
		for i := range e {
			e[i] = share
		}
		return e
	}

	if len(points) != 5 {
		return equal()
	}

	sumV := 0.0
	for _, p := range points {
		sumV += p.Volume
	}
	if sumV == 0 {
		return equal()
	}

	signMul := 1.0
	if mirror {
		signMul = -1.0
	}

	weights := make([]float64, 5)
	sumW := 0.0
	for i, p := range points {
		sign := 0.0 // point 0 has no prior close within the window; treated as flat
		if i > 0 {
			delta := p.Close - points[i-1].Close
			switch {
			case delta > 0:
				sign = 1
			case delta < 0:
				sign = -1
			}
		}
		w := (p.Volume / sumV) * (1 + signMul*sign) / 2
		weights[i] = w
		sumW += w
	}

	if sumW == 0 {
		return equal()
	}

	for i := range out {
		out[i] = total * (weights[i] / sumW)
	}
	return out
}
