package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMA returns the exponential moving average of the full series with the
// standard 2/(n+1) smoothing, seeded with the first close.
func EMA(closes []float64, n int) float64 {
	if len(closes) == 0 || n <= 0 {
		return math.NaN()
	}
	k := 2.0 / (float64(n) + 1.0)
	ema := closes[0]
	for _, c := range closes[1:] {
		ema = c*k + ema*(1.0-k)
	}
	return ema
}

// EMASlope is the difference between the EMA over the full window and the
// EMA over the window minus its last candle. Positive means rising.
func EMASlope(closes []float64, n int) float64 {
	if len(closes) < 2 || n <= 0 {
		return math.NaN()
	}
	return EMA(closes, n) - EMA(closes[:len(closes)-1], n)
}
