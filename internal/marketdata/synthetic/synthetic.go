// Package synthetic generates deterministic OHLCV windows for DRY_RUN
// mode and tests. Each symbol gets a repeatable sine-wave range around a
// per-asset base price, so the analyzer sees a tradeable range without any
// network dependency.
package synthetic

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/types"
)

// Source implements interfaces.MarketData from a generator function.
type Source struct {
	// AmplitudePct is half the simulated range as a fraction of base price.
	AmplitudePct float64
	// Period is the sine period in candles.
	Period float64
	// BasePrices seeds per-asset prices; unknown assets get 100.
	BasePrices map[string]float64
	// now is swapped in tests for reproducible windows.
	now func() time.Time
}

var _ interfaces.MarketData = (*Source)(nil)

func New() *Source {
	return &Source{
		AmplitudePct: 0.02,
		Period:       48,
		BasePrices: map[string]float64{
			"BTC": 42000, "ETH": 2500, "XRP": 0.60,
			"LTC": 80, "BCH": 250, "LINK": 15,
			"DOGE": 0.12, "SHIB": 0.00002, "TRUMP": 8,
		},
		now: time.Now,
	}
}

// FetchCandles returns `limit` candles ending at the candle boundary before
// now, oldest first. The series depends only on symbol and candle index, so
// two calls for the same window return identical data.
func (s *Source) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step, err := timeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}

	base, ok := s.BasePrices[tier.AssetOf(symbol)]
	if !ok {
		base = 100
	}
	phase := float64(symbolSeed(symbol) % 1000)

	end := s.now().Truncate(step)
	candles := make([]types.Candle, 0, limit)
	for i := limit; i > 0; i-- {
		ts := end.Add(-time.Duration(i) * step)
		idx := float64(ts.UnixNano() / int64(step))
		mid := base * (1 + s.AmplitudePct*math.Sin((idx+phase)*2*math.Pi/s.Period))
		next := base * (1 + s.AmplitudePct*math.Sin((idx+1+phase)*2*math.Pi/s.Period))
		wick := base * s.AmplitudePct * 0.1
		c := types.Candle{
			Ts:    ts.Unix(),
			Open:  mid,
			Close: next,
			High:  math.Max(mid, next) + wick,
			Low:   math.Min(mid, next) - wick,
			Vol:   1000 + 500*math.Abs(math.Sin(idx+phase)),
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64()
}

func timeframeDuration(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m", "":
		return 15 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	}
	return 0, &UnknownTimeframeError{Timeframe: tf}
}

// UnknownTimeframeError reports an unsupported candle interval.
type UnknownTimeframeError struct {
	Timeframe string
}

func (e *UnknownTimeframeError) Error() string {
	return "synthetic: unknown timeframe " + e.Timeframe
}
