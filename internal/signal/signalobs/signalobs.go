package signalobs

import (
	"context"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/trace"
	"crypto-range-bot/internal/types"
)

// observableSignaler wraps a Signaler with observability (logging & tracing)
type observableSignaler struct {
	signaler interfaces.Signaler
}

// Compile-time interface checks. The wrapper always exposes the optional
// hooks and forwards them only when the wrapped signaler has them, so
// wrapping never hides a CheckpointSubscriber from the engine.
var (
	_ interfaces.Signaler             = (*observableSignaler)(nil)
	_ interfaces.CheckpointSubscriber = (*observableSignaler)(nil)
)

// Wrap wraps a signaler with observability middleware
func Wrap(signaler interfaces.Signaler) interfaces.Signaler {
	return &observableSignaler{
		signaler: signaler,
	}
}

// Generate produces a trade signal with observability
func (sg *observableSignaler) Generate(ctx context.Context, symbol string, candles []types.Candle) (types.Signal, error) {
	ctx, span := trace.StartSpan(ctx, "signal.Generate")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Generating signal",
		"symbol", symbol,
		"candles", len(candles),
	)

	sig, err := sg.signaler.Generate(ctx, symbol, candles)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to generate signal", err, "symbol", symbol)
		return types.Signal{}, err
	}

	logger.DebugSkip(ctx, 1, "Signal generated",
		"symbol", symbol,
		"action", sig.Action,
		"confidence", sig.Confidence,
		"reason", sig.Reason,
	)
	return sig, nil
}

// ShouldExit evaluates the exit condition with observability
func (sg *observableSignaler) ShouldExit(ctx context.Context, symbol string, candles []types.Candle, currentPrice float64) (bool, string, error) {
	ctx, span := trace.StartSpan(ctx, "signal.ShouldExit")
	defer span.End()

	exit, reason, err := sg.signaler.ShouldExit(ctx, symbol, candles, currentPrice)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to evaluate exit condition", err, "symbol", symbol)
		return false, "", err
	}

	if exit {
		logger.InfoSkip(ctx, 1, "Exit condition met",
			"symbol", symbol,
			"reason", reason,
			"price", currentPrice,
		)
	}
	return exit, reason, nil
}

// OnCheckpoint forwards checkpoint notifications when the wrapped signaler
// subscribes to them
func (sg *observableSignaler) OnCheckpoint(ctx context.Context, symbol string, checkpoint int, candlesOpen int) {
	sub, ok := sg.signaler.(interfaces.CheckpointSubscriber)
	if !ok {
		return
	}

	ctx, span := trace.StartSpan(ctx, "signal.OnCheckpoint")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Checkpoint reached",
		"symbol", symbol,
		"checkpoint", checkpoint,
		"candles_open", candlesOpen,
	)
	sub.OnCheckpoint(ctx, symbol, checkpoint, candlesOpen)
}

// Forget clears per-symbol signal state when the wrapped signaler keeps any
func (sg *observableSignaler) Forget(symbol string) {
	f, ok := sg.signaler.(interface{ Forget(symbol string) })
	if !ok {
		return
	}
	f.Forget(symbol)
}
