// Package lifecycle tracks each symbol through an explicit trade state
// machine:
//
//	NO_TRADE → ARMED → ENTRY_PENDING → OPEN → CHECKPOINT_1 → CHECKPOINT_2
//	         → EXITING → EXIT_CONFIRMED → (cooldown) → NO_TRADE
//
// Transitions live in a single table keyed by {state, event}; anything not
// in the table is rejected with a TransitionError rather than silently
// ignored.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/metrics"
	"crypto-range-bot/internal/types"
)

// State is a trade lifecycle state.
type State string

const (
	StateNoTrade       State = "NO_TRADE"
	StateArmed         State = "ARMED"
	StateEntryPending  State = "ENTRY_PENDING"
	StateOpen          State = "OPEN"
	StateCheckpoint1   State = "CHECKPOINT_1"
	StateCheckpoint2   State = "CHECKPOINT_2"
	StateExiting       State = "EXITING"
	StateExitConfirmed State = "EXIT_CONFIRMED"
)

// Event drives a transition between states.
type Event string

const (
	EventEntrySubmitted Event = "ENTRY_SUBMITTED"
	EventEntryFilled    Event = "ENTRY_FILLED"
	EventCheckpoint1    Event = "CHECKPOINT_1_REACHED"
	EventCheckpoint2    Event = "CHECKPOINT_2_REACHED"
	EventExitSubmitted  Event = "EXIT_SUBMITTED"
	EventExitFilled     Event = "EXIT_FILLED"
)

// transitions is the exhaustive legal-transition table.
var transitions = map[State]map[Event]State{
	StateArmed: {
		EventEntrySubmitted: StateEntryPending,
	},
	StateEntryPending: {
		EventEntryFilled: StateOpen,
	},
	StateOpen: {
		EventCheckpoint1:   StateCheckpoint1,
		EventExitSubmitted: StateExiting,
	},
	StateCheckpoint1: {
		EventCheckpoint2:   StateCheckpoint2,
		EventExitSubmitted: StateExiting,
	},
	StateCheckpoint2: {
		EventExitSubmitted: StateExiting,
	},
	StateExiting: {
		EventExitFilled: StateExitConfirmed,
	},
}

// TransitionError reports an illegal {state, event} pair.
type TransitionError struct {
	Symbol string
	From   State
	Event  Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition: no %s from %s", e.Symbol, e.Event, e.From)
}

// StateChange is one entry in a trade's state history.
type StateChange struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// Trade is the lifecycle record for one position. Mutated only by Registry
// methods; snapshots handed out by the registry are copies.
type Trade struct {
	Symbol             string        `json:"symbol"`
	Direction          string        `json:"direction"`
	EntryPrice         float64       `json:"entry_price"`
	Qty                float64       `json:"quantity"`
	EntryRangePosition float64       `json:"entry_range_position"`
	State              State         `json:"state"`
	CandlesOpen        int           `json:"candles_open"`
	OpenedAt           time.Time     `json:"opened_at"`
	ExitPrice          float64       `json:"exit_price,omitempty"`
	ExitReason         string        `json:"exit_reason,omitempty"`
	PnL                float64       `json:"pnl"`
	PnLPct             float64       `json:"pnl_pct"`
	ClosedAt           time.Time     `json:"closed_at,omitempty"`
	StateHistory       []StateChange `json:"state_history,omitempty"`
}

// CheckpointFunc receives checkpoint-reached notifications. The registry
// only reports elapsed candles; any reaction belongs to the subscriber.
type CheckpointFunc func(ctx context.Context, symbol string, checkpoint, candlesOpen int)

// Config holds checkpoint and cooldown candle counts.
type Config struct {
	Checkpoint1Candles int
	Checkpoint2Candles int
	CooldownCandles    int
}

// Registry owns one state machine per symbol plus cooldowns and history.
type Registry struct {
	mu sync.RWMutex

	cfg       Config
	trades    map[string]*Trade
	cooldowns map[string]int
	history   map[string][]Trade

	onCheckpoint CheckpointFunc
}

func New(cfg Config) *Registry {
	if cfg.Checkpoint1Candles <= 0 {
		cfg.Checkpoint1Candles = 6
	}
	if cfg.Checkpoint2Candles <= 0 {
		cfg.Checkpoint2Candles = 12
	}
	if cfg.CooldownCandles <= 0 {
		cfg.CooldownCandles = 8
	}
	return &Registry{
		cfg:       cfg,
		trades:    make(map[string]*Trade),
		cooldowns: make(map[string]int),
		history:   make(map[string][]Trade),
	}
}

// SetCheckpointSubscriber registers the checkpoint event receiver.
func (r *Registry) SetCheckpointSubscriber(fn CheckpointFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCheckpoint = fn
}

// apply moves a trade through the transition table.
func (r *Registry) apply(t *Trade, ev Event, note string) error {
	next, ok := transitions[t.State][ev]
	if !ok {
		return &TransitionError{Symbol: t.Symbol, From: t.State, Event: ev}
	}
	t.State = next
	t.StateHistory = append(t.StateHistory, StateChange{State: next, At: time.Now().UTC(), Note: note})
	return nil
}

// CanEnterTrade reports whether a new trade may be opened for the symbol.
func (r *Registry) CanEnterTrade(symbol string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canEnterLocked(symbol)
}

func (r *Registry) canEnterLocked(symbol string) (bool, string) {
	if r.trades[symbol] != nil {
		return false, "trade already open"
	}
	if cd := r.cooldowns[symbol]; cd > 0 {
		return false, fmt.Sprintf("in cooldown (%d candles remaining)", cd)
	}
	return true, ""
}

// OpenTrade creates a trade in ARMED. The caller confirms broker execution
// with MarkEntryPending + ConfirmEntry before the trade counts as OPEN.
func (r *Registry) OpenTrade(ctx context.Context, symbol, direction string, entryPrice, qty, entryRangePosition float64) (*Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, reason := r.canEnterLocked(symbol); !ok {
		return nil, fmt.Errorf("%s: cannot enter trade: %s", symbol, reason)
	}
	if direction != types.SideBuy && direction != types.SideSell {
		return nil, fmt.Errorf("%s: invalid direction %q", symbol, direction)
	}

	now := time.Now().UTC()
	t := &Trade{
		Symbol:             symbol,
		Direction:          direction,
		EntryPrice:         entryPrice,
		Qty:                qty,
		EntryRangePosition: entryRangePosition,
		State:              StateArmed,
		OpenedAt:           now,
		StateHistory:       []StateChange{{State: StateArmed, At: now, Note: "entry signal"}},
	}
	r.trades[symbol] = t

	logger.Info(ctx, "Trade armed",
		"symbol", symbol,
		"direction", direction,
		"entry_price", entryPrice,
		"quantity", qty,
		"entry_range_position", entryRangePosition,
	)
	return r.snapshot(t), nil
}

// MarkEntryPending records that the entry order was submitted.
func (r *Registry) MarkEntryPending(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trades[symbol]
	if t == nil {
		return fmt.Errorf("%s: no armed trade", symbol)
	}
	return r.apply(t, EventEntrySubmitted, "entry order submitted")
}

// ConfirmEntry moves the trade to OPEN after the entry order filled.
func (r *Registry) ConfirmEntry(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trades[symbol]
	if t == nil {
		return fmt.Errorf("%s: no pending trade", symbol)
	}
	if err := r.apply(t, EventEntryFilled, "entry filled"); err != nil {
		return err
	}
	t.OpenedAt = time.Now().UTC()
	metrics.OpenTrades.Set(float64(len(r.trades)))
	logger.Info(ctx, "Trade opened",
		"symbol", symbol,
		"direction", t.Direction,
		"entry_price", t.EntryPrice,
		"quantity", t.Qty,
	)
	return nil
}

// AbortEntry discards an armed or entry-pending trade whose order never
// executed. No cooldown: nothing was opened.
func (r *Registry) AbortEntry(ctx context.Context, symbol, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trades[symbol]
	if t == nil {
		return
	}
	if t.State != StateArmed && t.State != StateEntryPending {
		logger.Warn(ctx, "AbortEntry ignored for non-pending trade", "symbol", symbol, "state", string(t.State))
		return
	}
	delete(r.trades, symbol)
	logger.Info(ctx, "Trade entry aborted", "symbol", symbol, "reason", reason)
}

// AdvanceCheckpoint records the trade's elapsed candle count and fires the
// checkpoint transitions once their thresholds are reached. The subscriber
// is notified outside the registry lock.
func (r *Registry) AdvanceCheckpoint(ctx context.Context, symbol string, candlesOpen int) error {
	r.mu.Lock()
	t := r.trades[symbol]
	if t == nil {
		r.mu.Unlock()
		return fmt.Errorf("%s: no open trade", symbol)
	}

	t.CandlesOpen = candlesOpen

	type firing struct{ checkpoint, candles int }
	var fired []firing

	if t.State == StateOpen && candlesOpen >= r.cfg.Checkpoint1Candles {
		if err := r.apply(t, EventCheckpoint1, fmt.Sprintf("%d candles open", candlesOpen)); err != nil {
			r.mu.Unlock()
			return err
		}
		fired = append(fired, firing{1, candlesOpen})
	}
	if t.State == StateCheckpoint1 && candlesOpen >= r.cfg.Checkpoint2Candles {
		if err := r.apply(t, EventCheckpoint2, fmt.Sprintf("%d candles open", candlesOpen)); err != nil {
			r.mu.Unlock()
			return err
		}
		fired = append(fired, firing{2, candlesOpen})
	}
	onCheckpoint := r.onCheckpoint
	r.mu.Unlock()

	for _, f := range fired {
		logger.Info(ctx, "Checkpoint reached", "symbol", symbol, "checkpoint", f.checkpoint, "candles_open", f.candles)
		if onCheckpoint != nil {
			onCheckpoint(ctx, symbol, f.checkpoint, f.candles)
		}
	}
	return nil
}

// MarkExiting records that the exit order was submitted.
func (r *Registry) MarkExiting(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trades[symbol]
	if t == nil {
		return fmt.Errorf("%s: no open trade", symbol)
	}
	return r.apply(t, EventExitSubmitted, "exit order submitted")
}

// SetExitReason pins the pending exit cause on a trade whose close order
// has not filled yet, so a retried close keeps the original reason.
func (r *Registry) SetExitReason(symbol, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.trades[symbol]; t != nil {
		t.ExitReason = reason
	}
}

// CloseTrade confirms the exit, computes signed pnl, appends the trade to
// history and starts the cooldown countdown. Legal from OPEN, either
// checkpoint, or EXITING; the missing intermediate events are applied so
// the history stays complete.
func (r *Registry) CloseTrade(ctx context.Context, symbol string, exitPrice float64, reason string) (*Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.trades[symbol]
	if t == nil {
		return nil, fmt.Errorf("%s: no open trade to close", symbol)
	}

	if t.State != StateExiting {
		if err := r.apply(t, EventExitSubmitted, "exit: "+reason); err != nil {
			return nil, err
		}
	}
	if err := r.apply(t, EventExitFilled, "exit filled"); err != nil {
		return nil, err
	}

	dir := 1.0
	if t.Direction == types.SideSell {
		dir = -1.0
	}
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	t.ClosedAt = time.Now().UTC()
	t.PnL = (exitPrice - t.EntryPrice) * t.Qty * dir
	if notional := t.EntryPrice * t.Qty; notional > 0 {
		t.PnLPct = t.PnL / notional * 100
	}

	r.history[symbol] = append(r.history[symbol], *t)
	r.cooldowns[symbol] = r.cfg.CooldownCandles
	delete(r.trades, symbol)

	result := "flat"
	if t.PnL > 0 {
		result = "win"
	} else if t.PnL < 0 {
		result = "loss"
	}
	metrics.TradesClosed.WithLabelValues(result).Inc()
	metrics.OpenTrades.Set(float64(len(r.trades)))

	logger.Info(ctx, "Trade closed",
		"symbol", symbol,
		"reason", reason,
		"entry_price", t.EntryPrice,
		"exit_price", exitPrice,
		"pnl", t.PnL,
		"pnl_pct", t.PnLPct,
		"cooldown_candles", r.cfg.CooldownCandles,
	)

	snap := *t
	return &snap, nil
}

// DecrementCooldowns advances every active cooldown by one candle. Called
// exactly once per orchestrator cycle, after all symbols are processed.
func (r *Registry) DecrementCooldowns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for symbol, cd := range r.cooldowns {
		if cd <= 0 {
			continue
		}
		r.cooldowns[symbol] = cd - 1
		if r.cooldowns[symbol] == 0 {
			delete(r.cooldowns, symbol)
		}
	}
}

// CooldownRemaining returns the candles left before the symbol may re-arm.
func (r *Registry) CooldownRemaining(symbol string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cooldowns[symbol]
}

// CurrentTrade returns a copy of the symbol's trade, or nil.
func (r *Registry) CurrentTrade(symbol string) *Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := r.trades[symbol]
	if t == nil {
		return nil
	}
	return r.snapshot(t)
}

// ActiveTrades returns copies of every non-NO_TRADE trade, sorted by symbol.
func (r *Registry) ActiveTrades() []Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Trade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, *r.snapshot(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TradeHistory returns closed trades; symbol == "" means all symbols,
// ordered by open time.
func (r *Registry) TradeHistory(symbol string) []Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if symbol != "" {
		return append([]Trade(nil), r.history[symbol]...)
	}
	var all []Trade
	for _, trades := range r.history {
		all = append(all, trades...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OpenedAt.Before(all[j].OpenedAt) })
	return all
}

// Stats summarizes closed trades across all symbols.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	MaxWin        float64 `json:"max_win"`
	MaxLoss       float64 `json:"max_loss"`
}

func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, trades := range r.history {
		for _, t := range trades {
			s.TotalTrades++
			s.TotalPnL += t.PnL
			switch {
			case t.PnL > 0:
				s.WinningTrades++
				if t.PnL > s.MaxWin {
					s.MaxWin = t.PnL
				}
			case t.PnL < 0:
				s.LosingTrades++
				if t.PnL < s.MaxLoss {
					s.MaxLoss = t.PnL
				}
			}
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
	}
	return s
}

func (r *Registry) snapshot(t *Trade) *Trade {
	snap := *t
	snap.StateHistory = append([]StateChange(nil), t.StateHistory...)
	return &snap
}
