package engineobs

import (
	"context"
	"time"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/trace"
	"crypto-range-bot/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()

	start := time.Now()

	logger.DebugSkip(ctx, 1, "Starting symbol step",
		"symbol", symbol,
	)

	result, err := oe.engine.Step(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Symbol step failed", err,
			"symbol", symbol,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.InfoSkip(ctx, 1, "Symbol step completed",
		"symbol", symbol,
		"action", result.Action,
		"reason", result.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

func (oe *observableEngine) RunCycle(ctx context.Context) ([]*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.RunCycle")
	defer span.End()

	start := time.Now()

	results, err := oe.engine.RunCycle(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Cycle completed with errors", err,
			"results", len(results),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return results, err
	}

	logger.InfoSkip(ctx, 1, "Cycle completed",
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (oe *observableEngine) RangeAnalyses() map[string]rangescan.Analysis {
	return oe.engine.RangeAnalyses()
}
