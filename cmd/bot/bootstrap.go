package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"crypto-range-bot/internal/broker/brokerobs"
	"crypto-range-bot/internal/broker/paper"
	"crypto-range-bot/internal/engine"
	"crypto-range-bot/internal/engine/engineobs"
	"crypto-range-bot/internal/guardrails"
	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/lifecycle"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/marketdata/synthetic"
	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/risk"
	"crypto-range-bot/internal/signal/emaslope"
	"crypto-range-bot/internal/signal/noop"
	"crypto-range-bot/internal/signal/signalobs"
	"crypto-range-bot/internal/store"
	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/trace"
	"crypto-range-bot/internal/tradelog"
)

// initializeSystem initializes env, logger and tracer
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	path := os.Getenv("TRADER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old tradelog files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := tradelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// buildTierTable builds the symbol whitelist with any config overrides
func buildTierTable(cfg *store.Config) *tier.Table {
	table := tier.NewTable(cfg.Universe)
	for asset, o := range cfg.Risk.Tiers {
		table.Override(asset, tier.Limits{
			Tier:                tier.Tier(o.Tier),
			MaxRiskPct:          o.MaxRiskPct,
			RiskWeight:          o.RiskWeight,
			MaxSpreadPct:        o.MaxSpreadPct,
			MaxPositionNotional: o.MaxPositionNotional,
			EntryZonePct:        o.EntryZonePct,
			NoShort:             o.NoShort,
		})
	}
	return table
}

// initializeBroker returns the broker for the configured mode, wrapped with
// observability middleware
func initializeBroker(ctx context.Context, cfg *store.Config) interfaces.Broker {
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders are simulated")
	}

	// TODO: LIVE mode needs a real exchange adapter; until then both modes
	// run against the paper broker and LIVE refuses to start in main.
	brk := paper.New(paper.Params{
		SpreadPct:      cfg.Broker.PaperSlippagePct,
		RequestsPerSec: cfg.Broker.RequestsPerSec,
	})

	return brokerobs.Wrap(brk)
}

// initializeSignaler returns the configured signaler
func initializeSignaler(ctx context.Context, cfg *store.Config, analyzer *rangescan.Analyzer) interfaces.Signaler {
	switch cfg.Signal.Provider {
	case "EMA":
		return signalobs.Wrap(emaslope.New(analyzer, cfg.Signal.EMAPeriod))
	default:
		logger.Warn(ctx, "No signal provider configured - using noop signaler (always HOLD)")
		return signalobs.Wrap(noop.New())
	}
}

// initializeEngine wires every component and wraps the engine with
// observability middleware
func initializeEngine(cfg *store.Config, brk interfaces.Broker, sig interfaces.Signaler,
	analyzer *rangescan.Analyzer, registry *lifecycle.Registry, ledger *risk.Ledger, exec *guardrails.Executor) interfaces.Engine {

	md := synthetic.New()
	eng := engine.New(cfg, brk, sig, md, analyzer, registry, ledger, exec)
	return engineobs.Wrap(eng)
}

func executionConfig(cfg *store.Config) guardrails.Config {
	return guardrails.Config{
		FillTimeout:       time.Duration(cfg.Execution.FillTimeoutSeconds) * time.Second,
		FillPollInterval:  time.Duration(cfg.Execution.FillPollIntervalMs) * time.Millisecond,
		DuplicateCooldown: time.Duration(cfg.Execution.DuplicateCooldownSeconds) * time.Second,
		MinOrderNotional:  cfg.Execution.MinOrderNotional,
		LimitOffsetPct:    cfg.Execution.LimitOffsetPct,
		Mode:              cfg.Mode,
	}
}
