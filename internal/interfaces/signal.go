package interfaces

import (
	"context"

	"crypto-range-bot/internal/types"
)

// Signaler decides trade direction from a candle window. The engine treats
// it as opaque: any BUY/SELL it emits still has to clear the lifecycle,
// risk and guardrail gates.
type Signaler interface {
	Generate(ctx context.Context, symbol string, candles []types.Candle) (types.Signal, error)
	ShouldExit(ctx context.Context, symbol string, candles []types.Candle, currentPrice float64) (bool, string, error)
}

// CheckpointSubscriber is optionally implemented by a Signaler that wants
// to be told when an open trade reaches a lifecycle checkpoint. The state
// machine only reports elapsed time; what to do about it is the
// subscriber's business.
type CheckpointSubscriber interface {
	OnCheckpoint(ctx context.Context, symbol string, checkpoint int, candlesOpen int)
}
