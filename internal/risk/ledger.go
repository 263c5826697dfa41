// Package risk owns the portfolio risk ledger: account balance, per-symbol
// and aggregate exposure, loss streaks, daily loss and the trading-halt
// latch. The ledger is a single-writer resource; every mutation runs under
// one mutex so the aggregate-exposure invariant holds at all times.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/metrics"
	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/types"
)

// Halt reasons set by the ledger itself.
const (
	HaltMaxConsecutiveLosses = "MAX_CONSECUTIVE_LOSSES"
	HaltMaxDailyLoss         = "MAX_DAILY_LOSS"
	HaltExposureMismatch     = "EXPOSURE_MISMATCH"
)

// Position is one open exposure entry.
type Position struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Qty        float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	Risk       float64   `json:"risk"` // weighted notional counted against the caps
	OpenedAt   time.Time `json:"opened_at"`
}

// ClosedPosition is the realized result of a position.
type ClosedPosition struct {
	Position
	ExitPrice  float64   `json:"exit_price"`
	ExitReason string    `json:"exit_reason"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Stats is the read-only monitoring snapshot.
type Stats struct {
	AccountBalance    float64            `json:"account_balance"`
	AggregateExposure float64            `json:"aggregate_exposure"`
	ExposurePct       float64            `json:"exposure_pct"`
	MaxExposure       float64            `json:"max_exposure"`
	OpenPositions     int                `json:"open_positions"`
	ExposureBySymbol  map[string]float64 `json:"exposure_by_symbol"`
	ConsecutiveLosses int                `json:"consecutive_losses"`
	DailyLoss         float64            `json:"daily_loss"`
	TradingHalted     bool               `json:"trading_halted"`
	HaltReason        string             `json:"halt_reason,omitempty"`
	TotalClosed       int                `json:"total_closed"`
	WinningTrades     int                `json:"winning_trades"`
	LosingTrades      int                `json:"losing_trades"`
	TotalPnL          float64            `json:"total_pnl"`
}

// Config carries the portfolio-level limits.
type Config struct {
	AccountBalance       float64
	PortfolioMaxRiskPct  float64
	MaxConsecutiveLosses int
	MaxDailyLossPct      float64
	MaxOpenPositions     int
}

type Ledger struct {
	mu sync.Mutex

	cfg   Config
	tiers *tier.Table

	balance           float64
	dailyStartBalance float64
	openExposure      map[string]float64
	positions         map[string]Position
	aggregateExposure float64

	consecutiveLosses int
	dailyLoss         float64
	halted            bool
	haltReason        string

	history []ClosedPosition
}

func New(cfg Config, tiers *tier.Table) *Ledger {
	if cfg.AccountBalance <= 0 {
		cfg.AccountBalance = 10000
	}
	if cfg.PortfolioMaxRiskPct <= 0 {
		cfg.PortfolioMaxRiskPct = 3.0
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = 5
	}
	if cfg.MaxDailyLossPct <= 0 {
		cfg.MaxDailyLossPct = 5.0
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 6
	}
	l := &Ledger{
		cfg:               cfg,
		tiers:             tiers,
		balance:           cfg.AccountBalance,
		dailyStartBalance: cfg.AccountBalance,
		openExposure:      make(map[string]float64),
		positions:         make(map[string]Position),
	}
	metrics.AccountBalance.Set(l.balance)
	return l
}

// tradeRisk is the amount counted against the caps: notional weighted by
// the tier's RiskWeight.
func (l *Ledger) tradeRisk(symbol string, qty, entryPrice float64) float64 {
	limits := l.tiers.LimitsFor(symbol)
	w := limits.RiskWeight
	if w <= 0 {
		w = 1.0
	}
	return qty * entryPrice * w
}

// CanOpenPosition runs every portfolio-level entry check in order. The
// first failing check wins; the reason is suitable for logging.
func (l *Ledger) CanOpenPosition(symbol, direction string, qty, entryPrice float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canOpenLocked(symbol, direction, qty, entryPrice)
}

func (l *Ledger) canOpenLocked(symbol, direction string, qty, entryPrice float64) (bool, string) {
	if l.halted {
		return false, fmt.Sprintf("trading halted: %s", l.haltReason)
	}
	if _, open := l.positions[symbol]; open {
		return false, "position already open"
	}
	if l.consecutiveLosses >= l.cfg.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached (%d)", l.cfg.MaxConsecutiveLosses)
	}
	if lossPct := l.dailyLossPctLocked(); lossPct >= l.cfg.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss limit reached (%.2f%% >= %.2f%%)", lossPct, l.cfg.MaxDailyLossPct)
	}
	if len(l.positions) >= l.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("max open positions reached (%d)", l.cfg.MaxOpenPositions)
	}

	limits := l.tiers.LimitsFor(symbol)
	if direction == types.SideSell && limits.NoShort {
		return false, fmt.Sprintf("%s tier forbids SELL entries", limits.Tier)
	}

	risk := l.tradeRisk(symbol, qty, entryPrice)
	if notional := qty * entryPrice; notional > limits.MaxPositionNotional {
		return false, fmt.Sprintf("position $%.2f exceeds tier notional cap $%.2f", notional, limits.MaxPositionNotional)
	}
	if tierCap := l.balance * limits.MaxRiskPct / 100; risk > tierCap {
		return false, fmt.Sprintf("risk $%.2f exceeds tier limit $%.2f (%.2f%%)", risk, tierCap, limits.MaxRiskPct)
	}
	if portfolioCap := l.balance * l.cfg.PortfolioMaxRiskPct / 100; l.aggregateExposure+risk > portfolioCap {
		return false, fmt.Sprintf("portfolio exposure $%.2f would exceed cap $%.2f (%.2f%%)",
			l.aggregateExposure+risk, portfolioCap, l.cfg.PortfolioMaxRiskPct)
	}
	return true, ""
}

// OpenPosition records a newly opened position's exposure. Callers must
// have passed CanOpenPosition; it is re-checked here because the broker
// call between the two may span ticks.
func (l *Ledger) OpenPosition(ctx context.Context, symbol, direction string, qty, entryPrice float64) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ok, reason := l.canOpenLocked(symbol, direction, qty, entryPrice); !ok {
		return Position{}, fmt.Errorf("%s: cannot open position: %s", symbol, reason)
	}

	risk := l.tradeRisk(symbol, qty, entryPrice)
	pos := Position{
		Symbol:     symbol,
		Direction:  direction,
		Qty:        qty,
		EntryPrice: entryPrice,
		Risk:       risk,
		OpenedAt:   time.Now().UTC(),
	}
	l.positions[symbol] = pos
	l.openExposure[symbol] = risk
	l.aggregateExposure += risk

	l.verifyExposureLocked(ctx)
	metrics.AggregateExposure.Set(l.aggregateExposure)

	logger.Info(ctx, "Position opened",
		"symbol", symbol,
		"direction", direction,
		"quantity", qty,
		"entry_price", entryPrice,
		"risk", risk,
		"aggregate_exposure", l.aggregateExposure,
	)
	return pos, nil
}

// ClosePosition removes exposure, realizes pnl, and trips the halt latch
// when a loss threshold is breached. Halts are never cleared here.
func (l *Ledger) ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason string) (ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, open := l.positions[symbol]
	if !open {
		return ClosedPosition{}, fmt.Errorf("%s: no open position", symbol)
	}

	dir := 1.0
	if pos.Direction == types.SideSell {
		dir = -1.0
	}
	pnl := (exitPrice - pos.EntryPrice) * pos.Qty * dir

	closed := ClosedPosition{
		Position:   pos,
		ExitPrice:  exitPrice,
		ExitReason: reason,
		PnL:        pnl,
		ClosedAt:   time.Now().UTC(),
	}
	if notional := pos.EntryPrice * pos.Qty; notional > 0 {
		closed.PnLPct = pnl / notional * 100
	}

	delete(l.positions, symbol)
	l.aggregateExposure -= l.openExposure[symbol]
	delete(l.openExposure, symbol)
	if l.aggregateExposure < 0 && l.aggregateExposure > -1e-9 {
		l.aggregateExposure = 0 // float dust
	}

	if pnl < 0 {
		l.dailyLoss += -pnl
		l.consecutiveLosses++
	} else {
		l.consecutiveLosses = 0
	}
	l.balance += pnl
	l.history = append(l.history, closed)

	if l.consecutiveLosses >= l.cfg.MaxConsecutiveLosses {
		l.haltLocked(ctx, HaltMaxConsecutiveLosses)
	} else if l.dailyLossPctLocked() >= l.cfg.MaxDailyLossPct {
		l.haltLocked(ctx, HaltMaxDailyLoss)
	}

	l.verifyExposureLocked(ctx)
	metrics.AggregateExposure.Set(l.aggregateExposure)
	metrics.AccountBalance.Set(l.balance)

	logger.Info(ctx, "Position closed",
		"symbol", symbol,
		"reason", reason,
		"exit_price", exitPrice,
		"pnl", pnl,
		"balance", l.balance,
		"consecutive_losses", l.consecutiveLosses,
	)
	return closed, nil
}

// Halt latches the halt flag. Used for externally detected consistency
// faults as well as internal threshold breaches.
func (l *Ledger) Halt(ctx context.Context, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haltLocked(ctx, reason)
}

func (l *Ledger) haltLocked(ctx context.Context, reason string) {
	if l.halted {
		return
	}
	l.halted = true
	l.haltReason = reason
	metrics.TradingHalted.Set(1)
	logger.Risk(ctx, "", "TRADING_HALTED", "reason", reason)
}

// Halted reports the halt latch and its reason.
func (l *Ledger) Halted() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted, l.haltReason
}

// ResetDaily is the explicit supervisor reset for a new trading day:
// daily loss and the loss streak are cleared and the halt latch released.
// Nothing inside the ledger calls this.
func (l *Ledger) ResetDaily(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	logger.Info(ctx, "Daily risk reset",
		"balance", l.balance,
		"daily_loss", l.dailyLoss,
		"was_halted", l.halted,
		"halt_reason", l.haltReason,
	)
	l.dailyLoss = 0
	l.dailyStartBalance = l.balance
	l.consecutiveLosses = 0
	l.halted = false
	l.haltReason = ""
	metrics.TradingHalted.Set(0)
}

// verifyExposureLocked checks the ledger invariant: the aggregate equals
// the sum of the per-symbol entries. A mismatch is a consistency fault and
// halts trading rather than being silently corrected.
func (l *Ledger) verifyExposureLocked(ctx context.Context) {
	var sum float64
	for _, v := range l.openExposure {
		sum += v
	}
	if math.Abs(sum-l.aggregateExposure) > 1e-6 {
		logger.Error(ctx, "Exposure ledger mismatch",
			"aggregate", l.aggregateExposure,
			"sum", sum,
		)
		l.haltLocked(ctx, HaltExposureMismatch)
	}
}

func (l *Ledger) dailyLossPctLocked() float64 {
	if l.dailyStartBalance <= 0 {
		return 0
	}
	return l.dailyLoss / l.dailyStartBalance * 100
}

// GetStats returns the read-only monitoring snapshot.
func (l *Ledger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		AccountBalance:    l.balance,
		AggregateExposure: l.aggregateExposure,
		MaxExposure:       l.balance * l.cfg.PortfolioMaxRiskPct / 100,
		OpenPositions:     len(l.positions),
		ExposureBySymbol:  make(map[string]float64, len(l.openExposure)),
		ConsecutiveLosses: l.consecutiveLosses,
		DailyLoss:         l.dailyLoss,
		TradingHalted:     l.halted,
		HaltReason:        l.haltReason,
		TotalClosed:       len(l.history),
	}
	if l.balance > 0 {
		s.ExposurePct = l.aggregateExposure / l.balance * 100
	}
	for sym, v := range l.openExposure {
		s.ExposureBySymbol[sym] = v
	}
	for _, c := range l.history {
		s.TotalPnL += c.PnL
		if c.PnL > 0 {
			s.WinningTrades++
		} else if c.PnL < 0 {
			s.LosingTrades++
		}
	}
	return s
}
