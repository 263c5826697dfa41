package interfaces

import (
	"context"

	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/types"
)

type Engine interface {
	// Step processes a single symbol within the current cycle tick.
	Step(ctx context.Context, symbol string) (*types.StepResult, error)
	// RunCycle processes every configured symbol once and then advances
	// cooldowns. One call per tick.
	RunCycle(ctx context.Context) ([]*types.StepResult, error)
	// RangeAnalyses returns the latest range snapshot per symbol, for the
	// monitoring surface.
	RangeAnalyses() map[string]rangescan.Analysis
}
