package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crypto-range-bot/internal/guardrails"
	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/lifecycle"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/metrics"
	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/risk"
	"crypto-range-bot/internal/store"
	"crypto-range-bot/internal/tradelog"
	"crypto-range-bot/internal/types"
)

// signalForgetter is implemented by signalers that keep per-symbol exit
// state and want it cleared when a trade ends.
type signalForgetter interface {
	Forget(symbol string)
}

type engine struct {
	cfg      *store.Config
	brk      interfaces.Broker
	sig      interfaces.Signaler
	md       interfaces.MarketData
	analyzer *rangescan.Analyzer
	registry *lifecycle.Registry
	ledger   *risk.Ledger
	exec     *guardrails.Executor

	// one lock per symbol so RunCycle workers never interleave the entry
	// and exit paths of the same symbol
	symMuMu sync.Mutex
	symMu   map[string]*sync.Mutex

	cacheMu    sync.RWMutex
	rangeCache map[string]rangescan.Analysis
}

func newEngine(cfg *store.Config, brk interfaces.Broker, sig interfaces.Signaler, md interfaces.MarketData,
	analyzer *rangescan.Analyzer, registry *lifecycle.Registry, ledger *risk.Ledger, exec *guardrails.Executor) *engine {

	e := &engine{
		cfg:        cfg,
		brk:        brk,
		sig:        sig,
		md:         md,
		analyzer:   analyzer,
		registry:   registry,
		ledger:     ledger,
		exec:       exec,
		symMu:      make(map[string]*sync.Mutex),
		rangeCache: make(map[string]rangescan.Analysis),
	}
	for _, s := range cfg.Universe {
		e.symMu[s] = &sync.Mutex{}
	}
	if sub, ok := sig.(interfaces.CheckpointSubscriber); ok {
		registry.SetCheckpointSubscriber(sub.OnCheckpoint)
	}
	return e
}

func (e *engine) lockFor(symbol string) *sync.Mutex {
	e.symMuMu.Lock()
	defer e.symMuMu.Unlock()
	mu, ok := e.symMu[symbol]
	if !ok {
		// symbol outside the configured universe
		mu = &sync.Mutex{}
		e.symMu[symbol] = mu
	}
	return mu
}

// Step runs one full pass for a symbol: fetch candles, analyze the range,
// then either manage the open trade or evaluate a new entry.
func (e *engine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	e.lockFor(symbol).Lock()
	defer e.lockFor(symbol).Unlock()

	limit := e.cfg.Range.LookbackCandles + e.cfg.Signal.EMAPeriod
	candles, err := e.md.FetchCandles(ctx, symbol, e.cfg.Timeframe, limit)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch candles", err, "symbol", symbol)
		return nil, err
	}

	an := e.analyzer.Analyze(symbol, candles)
	e.cacheMu.Lock()
	e.rangeCache[symbol] = an
	e.cacheMu.Unlock()

	price := an.Price
	if price <= 0 && len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}
	now := time.Now().Unix()
	if len(candles) > 0 {
		now = candles[len(candles)-1].Ts
	}

	if t := e.registry.CurrentTrade(symbol); t != nil {
		return e.manageOpenTrade(ctx, t, an, candles, price, now)
	}
	return e.evaluateEntry(ctx, symbol, an, candles, price, now)
}

// manageOpenTrade advances the trade clock and decides whether to close.
func (e *engine) manageOpenTrade(ctx context.Context, t *lifecycle.Trade, an rangescan.Analysis,
	candles []types.Candle, price float64, now int64) (*types.StepResult, error) {

	symbol := t.Symbol
	hold := &types.StepResult{Symbol: symbol, Action: types.ActionHold, Price: price, Time: now}

	// A trade stuck in EXITING had its close order fail last cycle; retry
	// the close before anything else.
	if t.State == lifecycle.StateExiting {
		return e.closeTrade(ctx, t, price, now, t.ExitReason)
	}

	if err := e.registry.AdvanceCheckpoint(ctx, symbol, t.CandlesOpen+1); err != nil {
		logger.ErrorWithErr(ctx, "Checkpoint advance failed", err, "symbol", symbol)
		return nil, err
	}

	if force, reason := e.analyzer.ShouldForceExit(an); force {
		logger.Risk(ctx, symbol, "FORCED_EXIT", "reason", reason)
		return e.closeTrade(ctx, t, price, now, reason)
	}

	exit, reason, err := e.sig.ShouldExit(ctx, symbol, candles, price)
	if err != nil {
		logger.ErrorWithErr(ctx, "Exit signal failed", err, "symbol", symbol)
		return nil, err
	}
	if exit {
		return e.closeTrade(ctx, t, price, now, reason)
	}

	hold.Reason = "holding open trade"
	return hold, nil
}

// closeTrade submits the reducing order and, on fill, settles the trade in
// both the lifecycle registry and the risk ledger.
func (e *engine) closeTrade(ctx context.Context, t *lifecycle.Trade, price float64, now int64, reason string) (*types.StepResult, error) {
	symbol := t.Symbol

	tick, err := e.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if t.State != lifecycle.StateExiting {
		if err := e.registry.MarkExiting(ctx, symbol); err != nil {
			return nil, err
		}
	}

	side := types.SideSell
	if t.Direction == types.SideSell {
		side = types.SideBuy
	}

	ok, msg, att := e.exec.ExecuteClose(ctx, e.brk, symbol, side, t.Qty, tick.Bid, tick.Ask)
	if !ok {
		// Trade stays EXITING, retried next cycle.
		logger.Warn(ctx, "Close order did not fill, will retry",
			"symbol", symbol, "outcome", msg)
		e.rememberExitReason(symbol, reason)
		return &types.StepResult{Symbol: symbol, Action: side, Price: price, Time: now,
			Reason: "exit pending: " + msg}, nil
	}

	closed, err := e.registry.CloseTrade(ctx, symbol, att.LimitPrice, reason)
	if err != nil {
		return nil, err
	}
	if _, err := e.ledger.ClosePosition(ctx, symbol, att.LimitPrice, reason); err != nil {
		logger.ErrorWithErr(ctx, "Ledger close failed", err, "symbol", symbol)
	}
	if f, ok := e.sig.(signalForgetter); ok {
		f.Forget(symbol)
	}

	logger.Trade(ctx, symbol, side, closed.Qty, att.LimitPrice, att.OrderID,
		"event", "TRADE_CLOSED",
		"pnl", closed.PnL,
		"pnl_pct", closed.PnLPct,
		"exit_reason", reason,
	)
	_ = tradelog.Append(tradelog.Entry{
		Symbol:  symbol,
		Side:    side,
		Qty:     closed.Qty,
		Price:   att.LimitPrice,
		OrderID: att.OrderID,
		Reason:  reason,
		PnL:     closed.PnL,
	})

	return &types.StepResult{
		Symbol: symbol,
		Action: side,
		Price:  att.LimitPrice,
		Time:   now,
		Orders: []types.OrderResp{{OrderID: att.OrderID, Status: types.OrderStatusFilled}},
		Reason: reason,
	}, nil
}

// rememberExitReason pins the exit reason on the EXITING trade so the
// retry path closes with the original cause, not a recomputed one.
func (e *engine) rememberExitReason(symbol, reason string) {
	e.registry.SetExitReason(symbol, reason)
}

// evaluateEntry runs the entry gate sequence: range analysis, signal,
// lifecycle, risk ledger, then guardrails.
func (e *engine) evaluateEntry(ctx context.Context, symbol string, an rangescan.Analysis,
	candles []types.Candle, price float64, now int64) (*types.StepResult, error) {

	hold := func(reason string) *types.StepResult {
		return &types.StepResult{Symbol: symbol, Action: types.ActionHold, Price: price, Time: now, Reason: reason}
	}

	if halted, why := e.ledger.Halted(); halted {
		return hold("trading halted: " + why), nil
	}
	if ok, reason := e.analyzer.CanTrade(an); !ok {
		return hold(reason), nil
	}

	sig, err := e.sig.Generate(ctx, symbol, candles)
	if err != nil {
		logger.ErrorWithErr(ctx, "Signal generation failed", err, "symbol", symbol)
		return nil, err
	}
	if sig.Action == types.ActionHold {
		return hold(sig.Reason), nil
	}

	qty := e.pickQty(symbol)

	if ok, reason := e.registry.CanEnterTrade(symbol); !ok {
		return hold(reason), nil
	}
	if ok, reason := e.ledger.CanOpenPosition(symbol, sig.Action, qty, price); !ok {
		logger.Risk(ctx, symbol, "ENTRY_BLOCKED", "reason", reason)
		return hold(reason), nil
	}

	tick, err := e.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if _, err := e.registry.OpenTrade(ctx, symbol, sig.Action, price, qty, an.RangePosition); err != nil {
		return hold(err.Error()), nil
	}
	if err := e.registry.MarkEntryPending(ctx, symbol); err != nil {
		e.registry.AbortEntry(ctx, symbol, err.Error())
		return nil, err
	}

	ok, msg, att := e.exec.ValidateAndExecute(ctx, e.brk, symbol, sig.Action, qty, tick.Bid, tick.Ask)
	if !ok {
		e.registry.AbortEntry(ctx, symbol, msg)
		if f, fok := e.sig.(signalForgetter); fok {
			f.Forget(symbol)
		}
		return hold("entry rejected: " + msg), nil
	}

	if err := e.registry.ConfirmEntry(ctx, symbol); err != nil {
		return nil, err
	}
	if _, err := e.ledger.OpenPosition(ctx, symbol, sig.Action, qty, att.LimitPrice); err != nil {
		// Ledger re-check failed after the fill. Unwind immediately.
		logger.ErrorWithErr(ctx, "Ledger rejected filled entry, unwinding", err, "symbol", symbol)
		t := e.registry.CurrentTrade(symbol)
		if t != nil {
			return e.closeTrade(ctx, t, att.LimitPrice, now, "risk ledger rejection")
		}
		return nil, err
	}

	logger.Trade(ctx, symbol, sig.Action, qty, att.LimitPrice, att.OrderID,
		"event", "TRADE_OPENED",
		"range_position", fmt.Sprintf("%.2f", an.RangePosition),
		"confidence", sig.Confidence,
	)
	_ = tradelog.Append(tradelog.Entry{
		Symbol:  symbol,
		Side:    sig.Action,
		Qty:     qty,
		Price:   att.LimitPrice,
		OrderID: att.OrderID,
		Reason:  sig.Reason,
	})

	return &types.StepResult{
		Symbol: symbol,
		Action: sig.Action,
		Price:  att.LimitPrice,
		Time:   now,
		Orders: []types.OrderResp{{OrderID: att.OrderID, Status: types.OrderStatusFilled}},
		Reason: sig.Reason,
	}, nil
}

// RunCycle steps every symbol in the universe with a bounded worker pool
// and decrements lifecycle cooldowns exactly once per tick.
func (e *engine) RunCycle(ctx context.Context) ([]*types.StepResult, error) {
	e.registry.DecrementCooldowns()

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*types.StepResult
		firstEr error
	)

	for _, symbol := range e.cfg.Universe {
		symbol := symbol
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := e.Step(ctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstEr == nil {
					firstEr = fmt.Errorf("%s: %w", symbol, err)
				}
				return
			}
			results = append(results, res)
		}()
	}
	wg.Wait()

	metrics.Cycles.Inc()
	return results, firstEr
}

// fetchTicker tolerates transient broker unreachability inside the
// configured grace window, retrying with exponential backoff. Beyond the
// window the error surfaces and the cycle skips the symbol.
func (e *engine) fetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = time.Duration(e.cfg.Broker.GraceWindowSeconds) * time.Second

	var tick types.Ticker
	op := func() error {
		t, err := e.brk.GetTicker(ctx, symbol)
		if err != nil {
			logger.Warn(ctx, "Ticker fetch failed, retrying within grace window",
				"symbol", symbol, "error", err.Error())
			return err
		}
		tick = t
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return types.Ticker{}, fmt.Errorf("broker unreachable beyond grace window: %w", err)
	}
	return tick, nil
}

func (e *engine) pickQty(symbol string) float64 {
	if v, ok := e.cfg.Qty.PerSymbol[symbol]; ok {
		return v
	}
	return e.cfg.Qty.Default
}

// RangeAnalyses returns the latest per-symbol range snapshots.
func (e *engine) RangeAnalyses() map[string]rangescan.Analysis {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	out := make(map[string]rangescan.Analysis, len(e.rangeCache))
	for k, v := range e.rangeCache {
		out[k] = v
	}
	return out
}
