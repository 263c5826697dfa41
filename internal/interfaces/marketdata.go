package interfaces

import (
	"context"

	"crypto-range-bot/internal/types"
)

// MarketData supplies ordered OHLCV windows, oldest first.
type MarketData interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.Candle, error)
}
