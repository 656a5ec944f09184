// Package indicator computes the one derived signal this pipeline carries
// through from source rather than deriving in C8: RSI, sparse-by-design
// (Binance only; §7 "RSI only on Binance" is not an error condition for
// the other two venues).
package indicator

// Period is the RSI lookback used throughout this pipeline (period 11,
// matching the upstream source this spec was distilled from rather than
// the textbook 14).
const Period = 11

// RSI computes Wilder's relative strength index over closes, seeded with a
// simple average of the first Period gains/losses and smoothed thereafter.
// Returns one value per input index; the first Period entries are nil
// (insufficient history).
func RSI(closes []float64) []*float64 {
	out := make([]*float64, len(closes))
	if len(closes) <= Period {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= Period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / Period
	avgLoss := lossSum / Period
	out[Period] = rsiValue(avgGain, avgLoss)

	for i := Period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(Period-1) + gain) / Period
		avgLoss = (avgLoss*(Period-1) + loss) / Period
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) *float64 {
	if avgLoss == 0 {
		v := 100.0
		return &v
	}
	rs := avgGain / avgLoss
	v := 100 - (100 / (1 + rs))
	return &v
}

// Aggregate60m downsamples a 1-minute close series into 60-minute closes
// (the last close of each 60-sample window), the input RSI60 is computed
// over, per the GLOSSARY "computed on 1-minute and 60-minute aggregated closes".
func Aggregate60m(closes1m []float64) []float64 {
	if len(closes1m) == 0 {
		return nil
	}
	out := make([]float64, 0, len(closes1m)/60+1)
	for i := 59; i < len(closes1m); i += 60 {
		out = append(out, closes1m[i])
	}
	return out
}
