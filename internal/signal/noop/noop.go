// Package noop is a signaler that never trades. Used when the bot should
// run its full cycle (quotes, range analysis, monitoring) without ever
// reaching the execution path.
package noop

import (
	"context"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/types"
)

type Signaler struct{}

var _ interfaces.Signaler = Signaler{}

func New() Signaler { return Signaler{} }

func (Signaler) Generate(ctx context.Context, symbol string, candles []types.Candle) (types.Signal, error) {
	return types.Signal{Action: types.ActionHold, Reason: "noop signaler"}, nil
}

func (Signaler) ShouldExit(ctx context.Context, symbol string, candles []types.Candle, currentPrice float64) (bool, string, error) {
	return false, "", nil
}
