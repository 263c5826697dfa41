// Package guardrails is the single chokepoint every order passes through.
// No other path may call the broker's order placement. Each attempt runs a
// fixed sequence of pre-submission checks, then submits a limit order and
// waits for the fill with a bounded, cancellable poll; on timeout the
// order is cancelled and a partial fill counts as failure.
package guardrails

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/metrics"
	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/tradelog"
	"crypto-range-bot/internal/types"
)

// Rejection reason codes. Stable strings: they feed metrics labels and the
// monitoring counters.
const (
	ReasonNotWhitelisted = "SYMBOL_NOT_WHITELISTED"
	ReasonNoShort        = "MEME_NO_SHORT"
	ReasonSpreadTooWide  = "SPREAD_TOO_WIDE"
	ReasonOrderTooSmall  = "ORDER_TOO_SMALL"
	ReasonBadQuote       = "BAD_QUOTE"
	ReasonDuplicate      = "DUPLICATE_ORDER"
	ReasonBrokerError    = "BROKER_ERROR"
	ReasonFillTimeout    = "FILL_TIMEOUT"
	ReasonOrderRejected  = "ORDER_REJECTED"
)

// Final attempt outcomes.
const (
	OutcomeFilled    = "FILLED"
	OutcomeRejected  = "REJECTED"
	OutcomeCancelled = "CANCELLED"
	OutcomeTimeout   = "TIMEOUT"
)

// GuardOutcome records one check within an attempt.
type GuardOutcome struct {
	Guard  string `json:"guard"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Attempt is the append-only audit record of one order attempt. Never
// mutated after Complete; retained for monitoring.
type Attempt struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Side        string         `json:"side"`
	Qty         float64        `json:"quantity"`
	LimitPrice  float64        `json:"limit_price,omitempty"`
	OrderID     string         `json:"order_id,omitempty"`
	Guards      []GuardOutcome `json:"guards"`
	Outcome     string         `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Stats is the running execution statistics snapshot.
type Stats struct {
	Attempted        int            `json:"attempted"`
	Accepted         int            `json:"accepted"`
	RejectedByReason map[string]int `json:"rejected_by_reason"`
	MeanFillLatency  float64        `json:"mean_fill_latency_ms"`
}

// Config holds the execution parameters.
type Config struct {
	FillTimeout       time.Duration
	FillPollInterval  time.Duration
	DuplicateCooldown time.Duration
	MinOrderNotional  float64
	LimitOffsetPct    float64 // epsilon applied to bid/ask when building the limit price
	Mode              string  // DRY_RUN or LIVE, metrics label only
}

// Executor validates and submits orders.
type Executor struct {
	mu sync.Mutex

	cfg   Config
	tiers *tier.Table

	lastAccepted map[string]time.Time // "symbol|side" -> last accepted submit
	attempts     []Attempt

	attempted      int
	accepted       int
	rejected       map[string]int
	fillLatencySum time.Duration
	fillCount      int

	now func() time.Time
}

func New(cfg Config, tiers *tier.Table) *Executor {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 5 * time.Second
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 500 * time.Millisecond
	}
	if cfg.DuplicateCooldown <= 0 {
		cfg.DuplicateCooldown = 10 * time.Second
	}
	if cfg.MinOrderNotional <= 0 {
		cfg.MinOrderNotional = 10
	}
	if cfg.LimitOffsetPct <= 0 {
		cfg.LimitOffsetPct = 0.001
	}
	return &Executor{
		cfg:          cfg,
		tiers:        tiers,
		lastAccepted: make(map[string]time.Time),
		rejected:     make(map[string]int),
		now:          time.Now,
	}
}

// BuildLimitPrice constructs the passive limit price: BUY slightly under
// the bid, SELL slightly over the ask. Market orders are never used.
func (e *Executor) BuildLimitPrice(side string, bid, ask float64) float64 {
	if side == types.SideBuy {
		return bid * (1 - e.cfg.LimitOffsetPct)
	}
	return ask * (1 + e.cfg.LimitOffsetPct)
}

// ValidateAndExecute runs the guard sequence and, if every check passes,
// submits the order and waits for the fill. Returns (success, message,
// attempt). The sequence is strictly fail-fast and deterministic: cheap
// structural checks (whitelist, direction) run before the quote-derived
// ones, so identical inputs always fail at the same guard first.
func (e *Executor) ValidateAndExecute(ctx context.Context, broker interfaces.Broker, symbol, side string, qty, bid, ask float64) (bool, string, *Attempt) {
	att := &Attempt{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		StartedAt: e.now().UTC(),
	}
	e.mu.Lock()
	e.attempted++
	e.mu.Unlock()

	limits := e.tiers.LimitsFor(symbol)

	// Guard: symbol whitelist.
	if !e.tiers.Allowed(symbol) {
		return e.reject(ctx, att, "whitelist", ReasonNotWhitelisted,
			fmt.Sprintf("%s not in whitelist", symbol))
	}
	att.Guards = append(att.Guards, GuardOutcome{Guard: "whitelist", Passed: true})

	// Guard: direction restriction for no-short tiers.
	if side == types.SideSell && limits.NoShort {
		return e.reject(ctx, att, "direction", ReasonNoShort,
			fmt.Sprintf("%s tier is BUY only", limits.Tier))
	}
	att.Guards = append(att.Guards, GuardOutcome{Guard: "direction", Passed: true})

	// Guard: spread relative to mid.
	if bid <= 0 || ask <= 0 || bid > ask {
		return e.reject(ctx, att, "spread", ReasonBadQuote,
			fmt.Sprintf("bad quote bid=%.8f ask=%.8f", bid, ask))
	}
	mid := (bid + ask) / 2
	spread := (ask - bid) / mid
	if spread > limits.MaxSpreadPct {
		return e.reject(ctx, att, "spread", ReasonSpreadTooWide,
			fmt.Sprintf("spread %.4f%% exceeds max %.4f%%", spread*100, limits.MaxSpreadPct*100))
	}
	att.Guards = append(att.Guards, GuardOutcome{Guard: "spread", Passed: true})

	// Guard: minimum notional at mid.
	if qty <= 0 || qty*mid < e.cfg.MinOrderNotional {
		return e.reject(ctx, att, "min_notional", ReasonOrderTooSmall,
			fmt.Sprintf("notional $%.2f below minimum $%.2f", qty*mid, e.cfg.MinOrderNotional))
	}
	att.Guards = append(att.Guards, GuardOutcome{Guard: "min_notional", Passed: true})

	// Limit-price construction. Not a rejection point, still audited.
	att.LimitPrice = e.BuildLimitPrice(side, bid, ask)
	att.Guards = append(att.Guards, GuardOutcome{Guard: "limit_price", Passed: true,
		Detail: fmt.Sprintf("%.8f", att.LimitPrice)})

	// Guard: duplicate suppression per (symbol, side).
	dupKey := symbol + "|" + side
	e.mu.Lock()
	last, seen := e.lastAccepted[dupKey]
	e.mu.Unlock()
	if seen && e.now().Sub(last) < e.cfg.DuplicateCooldown {
		return e.reject(ctx, att, "duplicate", ReasonDuplicate,
			fmt.Sprintf("accepted %s ago, cooldown %s", e.now().Sub(last).Round(time.Millisecond), e.cfg.DuplicateCooldown))
	}
	att.Guards = append(att.Guards, GuardOutcome{Guard: "duplicate", Passed: true})

	// Submit.
	resp, err := broker.PlaceLimitOrder(ctx, types.OrderReq{
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Price:  att.LimitPrice,
		Tag:    att.ID,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Order submission failed", err, "symbol", symbol, "side", side)
		return e.reject(ctx, att, "submit", ReasonBrokerError, err.Error())
	}
	att.OrderID = resp.OrderID
	att.Guards = append(att.Guards, GuardOutcome{Guard: "submit", Passed: true, Detail: resp.OrderID})
	metrics.Orders.WithLabelValues(e.cfg.Mode, side).Inc()

	e.mu.Lock()
	e.lastAccepted[dupKey] = e.now()
	e.mu.Unlock()

	logger.Info(ctx, "Order submitted",
		"symbol", symbol,
		"side", side,
		"quantity", qty,
		"limit_price", att.LimitPrice,
		"order_id", resp.OrderID,
	)

	// Guard: bounded fill wait.
	return e.waitForFill(ctx, broker, att)
}

// ExecuteClose submits a position-reducing order. Entry guards do not
// apply to closes (a no-short tier must still be able to SELL out of a
// long); only the quote sanity check, submission and the bounded fill wait
// run. The attempt is audited like any other.
func (e *Executor) ExecuteClose(ctx context.Context, broker interfaces.Broker, symbol, side string, qty, bid, ask float64) (bool, string, *Attempt) {
	att := &Attempt{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		StartedAt: e.now().UTC(),
	}
	e.mu.Lock()
	e.attempted++
	e.mu.Unlock()

	if bid <= 0 || ask <= 0 || bid > ask {
		return e.reject(ctx, att, "spread", ReasonBadQuote,
			fmt.Sprintf("bad quote bid=%.8f ask=%.8f", bid, ask))
	}

	att.LimitPrice = e.BuildLimitPrice(side, bid, ask)
	att.Guards = append(att.Guards, GuardOutcome{Guard: "limit_price", Passed: true,
		Detail: fmt.Sprintf("%.8f", att.LimitPrice)})

	resp, err := broker.PlaceLimitOrder(ctx, types.OrderReq{
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Price:  att.LimitPrice,
		Tag:    att.ID,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "Close order submission failed", err, "symbol", symbol, "side", side)
		return e.reject(ctx, att, "submit", ReasonBrokerError, err.Error())
	}
	att.OrderID = resp.OrderID
	att.Guards = append(att.Guards, GuardOutcome{Guard: "submit", Passed: true, Detail: resp.OrderID})
	metrics.Orders.WithLabelValues(e.cfg.Mode, side).Inc()

	logger.Info(ctx, "Close order submitted",
		"symbol", symbol,
		"side", side,
		"quantity", qty,
		"limit_price", att.LimitPrice,
		"order_id", resp.OrderID,
	)

	return e.waitForFill(ctx, broker, att)
}

// waitForFill polls order status until filled, a terminal broker state, or
// the timeout. The wait is a select on a ticker and ctx.Done(): shutdown
// interrupts it promptly and leaves the outstanding order for manual
// reconciliation instead of force-cancelling mid-shutdown.
func (e *Executor) waitForFill(ctx context.Context, broker interfaces.Broker, att *Attempt) (bool, string, *Attempt) {
	submitted := e.now()
	deadline := time.NewTimer(e.cfg.FillTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(e.cfg.FillPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Warn(ctx, "Fill wait cancelled by shutdown, order left for reconciliation",
				"symbol", att.Symbol, "order_id", att.OrderID)
			return e.complete(ctx, att, false, OutcomeCancelled, "shutdown during fill wait")

		case <-deadline.C:
			// Timeout: cancel whatever is outstanding. A partial fill is
			// still a failure; the remainder is cancelled with the order.
			if err := broker.CancelOrder(ctx, att.OrderID); err != nil {
				logger.ErrorWithErr(ctx, "Failed to cancel timed-out order", err,
					"symbol", att.Symbol, "order_id", att.OrderID)
			}
			att.Guards = append(att.Guards, GuardOutcome{Guard: "fill_wait", Passed: false, Detail: ReasonFillTimeout})
			logger.Warn(ctx, "Order not filled within timeout, cancelled",
				"symbol", att.Symbol,
				"order_id", att.OrderID,
				"timeout", e.cfg.FillTimeout.String(),
			)
			return e.complete(ctx, att, false, OutcomeTimeout, ReasonFillTimeout)

		case <-poll.C:
			st, err := broker.GetOrderStatus(ctx, att.OrderID)
			if err != nil {
				logger.ErrorWithErr(ctx, "Order status check failed", err,
					"symbol", att.Symbol, "order_id", att.OrderID)
				continue // transient; the timeout still bounds the wait
			}
			switch st.Status {
			case types.OrderStatusFilled:
				latency := e.now().Sub(submitted)
				att.Guards = append(att.Guards, GuardOutcome{Guard: "fill_wait", Passed: true,
					Detail: latency.Round(time.Millisecond).String()})
				e.mu.Lock()
				e.fillLatencySum += latency
				e.fillCount++
				e.mu.Unlock()
				metrics.FillLatency.Observe(latency.Seconds())
				return e.complete(ctx, att, true, OutcomeFilled, "")
			case types.OrderStatusCancelled:
				att.Guards = append(att.Guards, GuardOutcome{Guard: "fill_wait", Passed: false, Detail: "cancelled by broker"})
				return e.complete(ctx, att, false, OutcomeCancelled, "cancelled by broker")
			case types.OrderStatusRejected:
				att.Guards = append(att.Guards, GuardOutcome{Guard: "fill_wait", Passed: false, Detail: "rejected by broker"})
				return e.complete(ctx, att, false, OutcomeRejected, ReasonOrderRejected)
			}
		}
	}
}

func (e *Executor) reject(ctx context.Context, att *Attempt, guard, reason, detail string) (bool, string, *Attempt) {
	att.Guards = append(att.Guards, GuardOutcome{Guard: guard, Passed: false, Detail: detail})
	logger.Warn(ctx, "Order rejected by guardrail",
		"symbol", att.Symbol,
		"side", att.Side,
		"guard", guard,
		"reason", reason,
		"detail", detail,
	)
	metrics.GuardRejections.WithLabelValues(reason).Inc()
	return e.complete(ctx, att, false, OutcomeRejected, reason)
}

func (e *Executor) complete(ctx context.Context, att *Attempt, success bool, outcome, reason string) (bool, string, *Attempt) {
	att.Outcome = outcome
	att.Reason = reason
	att.CompletedAt = e.now().UTC()

	e.mu.Lock()
	if success {
		e.accepted++
	} else {
		e.rejected[reason]++
	}
	e.attempts = append(e.attempts, *att)
	e.mu.Unlock()

	metrics.ExecutionAttempts.WithLabelValues(outcomeLabel(outcome)).Inc()
	if err := tradelog.AppendAttempt(tradelog.AttemptEntry{
		AttemptID:  att.ID,
		Symbol:     att.Symbol,
		Side:       att.Side,
		Qty:        att.Qty,
		LimitPrice: att.LimitPrice,
		OrderID:    att.OrderID,
		Outcome:    outcome,
		Reason:     reason,
	}); err != nil {
		logger.Warn(ctx, "Failed to append attempt audit entry", "error", err)
	}

	msg := outcome
	if reason != "" {
		msg = reason
	}
	return success, msg, att
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case OutcomeFilled:
		return "filled"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "rejected"
	}
}

// GetStats returns the running execution statistics.
func (e *Executor) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Attempted:        e.attempted,
		Accepted:         e.accepted,
		RejectedByReason: make(map[string]int, len(e.rejected)),
	}
	for k, v := range e.rejected {
		s.RejectedByReason[k] = v
	}
	if e.fillCount > 0 {
		s.MeanFillLatency = float64(e.fillLatencySum.Milliseconds()) / float64(e.fillCount)
	}
	return s
}

// Attempts returns a copy of the audit trail, oldest first.
func (e *Executor) Attempts() []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Attempt(nil), e.attempts...)
}
