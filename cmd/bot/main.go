package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-range-bot/internal/eod"
	"crypto-range-bot/internal/guardrails"
	"crypto-range-bot/internal/lifecycle"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/metrics"
	"crypto-range-bot/internal/monitor"
	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/risk"
	"crypto-range-bot/internal/trace"
)

func main() {
	if err := initializeSystem(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer trace.Shutdown(context.Background())

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}
	if cfg.Mode == "LIVE" {
		logger.Error(ctx, "LIVE mode has no exchange adapter wired yet, refusing to start")
		os.Exit(1)
	}

	compressOldLogs(ctx)

	tiers := buildTierTable(cfg)
	analyzer := rangescan.New(rangescan.Config{
		LookbackCandles:        cfg.Range.LookbackCandles,
		ChopThresholdPct:       cfg.Range.ChopThresholdPct,
		ExhaustionThresholdPct: cfg.Range.ExhaustionThresholdPct,
		MinRangePct:            cfg.Range.MinRangePct,
	}, tiers)
	registry := lifecycle.New(lifecycle.Config{
		Checkpoint1Candles: cfg.Lifecycle.Checkpoint1Candles,
		Checkpoint2Candles: cfg.Lifecycle.Checkpoint2Candles,
		CooldownCandles:    cfg.Lifecycle.CooldownCandles,
	})
	ledger := risk.New(risk.Config{
		AccountBalance:       cfg.Account.Balance,
		PortfolioMaxRiskPct:  cfg.Risk.PortfolioMaxRiskPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
		MaxOpenPositions:     cfg.Risk.MaxOpenPositions,
	}, tiers)
	exec := guardrails.New(executionConfig(cfg), tiers)

	brk := initializeBroker(ctx, cfg)
	sig := initializeSignaler(ctx, cfg, analyzer)
	eng := initializeEngine(cfg, brk, sig, analyzer, registry, ledger, exec)

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.New(cfg.Monitor.Addr, eng, registry, ledger, exec)
		mon.Start(ctx)
	}
	metrics.AccountBalance.Set(cfg.Account.Balance)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	resetc := make(chan os.Signal, 1)
	signal.Notify(resetc, syscall.SIGUSR1)

	tick := time.NewTicker(time.Duration(cfg.PollSeconds) * time.Second)
	defer tick.Stop()
	eodTick := time.NewTicker(60 * time.Second)
	defer eodTick.Stop()

	nextReset := nextUTCMidnight()

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"universe", cfg.Universe,
		"poll_seconds", cfg.PollSeconds,
		"workers", cfg.Workers,
	)

	for {
		select {
		case <-tick.C:
			if time.Now().UTC().After(nextReset) {
				ledger.ResetDaily(ctx)
				nextReset = nextUTCMidnight()
			}
			results, err := eng.RunCycle(ctx)
			if err != nil {
				logger.ErrorWithErr(ctx, "Cycle error", err, "results", len(results))
			}

		case <-eodTick.C:
			if ok, _ := eod.ShouldRunNow(); ok {
				if p, err := eod.SummarizeYesterday(); err == nil && p != "" {
					logger.Info(ctx, "EOD summary written", "path", p)
				}
			}

		case <-resetc:
			logger.Info(ctx, "Manual daily reset requested")
			ledger.ResetDaily(ctx)

		case <-sigc:
			logger.Info(ctx, "Shutting down")
			cancel()
			if mon != nil {
				mon.Stop(context.Background())
			}
			if p, err := eod.SummarizeDay(time.Now().UTC()); err == nil && p != "" {
				logger.Info(context.Background(), "EOD summary written", "path", p)
			}
			return

		case <-ctx.Done():
			return
		}
	}
}

func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
