package guardrails

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/types"
)

// fakeBroker scripts order behavior for guard tests.
type fakeBroker struct {
	placeErr  error
	status    string // status returned by GetOrderStatus
	placed    []types.OrderReq
	cancelled []string
}

func (f *fakeBroker) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	return types.Ticker{Bid: 100, Ask: 100.01, Last: 100}, nil
}

func (f *fakeBroker) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if f.placeErr != nil {
		return types.OrderResp{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return types.OrderResp{OrderID: "ord-1", Status: types.OrderStatusOpen}, nil
}

func (f *fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	st := f.status
	if st == "" {
		st = types.OrderStatusFilled
	}
	s := types.OrderStatus{Status: st}
	if st == types.OrderStatusFilled {
		s.FilledQty = 1
	}
	return s, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func testExecutor(t *testing.T) *Executor {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	return New(Config{
		FillTimeout:       200 * time.Millisecond,
		FillPollInterval:  10 * time.Millisecond,
		DuplicateCooldown: 10 * time.Second,
		MinOrderNotional:  10,
		LimitOffsetPct:    0.001,
		Mode:              "DRY_RUN",
	}, tier.NewTable(nil))
}

func lastGuard(att *Attempt) GuardOutcome {
	return att.Guards[len(att.Guards)-1]
}

func TestAcceptedOrderFills(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	ok, msg, att := e.ValidateAndExecute(context.Background(), brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010)
	if !ok {
		t.Fatalf("expected fill, got %s", msg)
	}
	if att.Outcome != OutcomeFilled {
		t.Errorf("expected FILLED outcome, got %s", att.Outcome)
	}
	if len(brk.placed) != 1 {
		t.Fatalf("expected one order, got %d", len(brk.placed))
	}
	want := 100000 * (1 - 0.001)
	if brk.placed[0].Price != want {
		t.Errorf("expected limit price %.2f, got %.2f", want, brk.placed[0].Price)
	}

	s := e.GetStats()
	if s.Attempted != 1 || s.Accepted != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestWhitelistRejection(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	ok, reason, att := e.ValidateAndExecute(context.Background(), brk, "PEPE/USD", types.SideBuy, 100, 1.0, 1.0001)
	if ok {
		t.Fatal("expected whitelist rejection")
	}
	if reason != ReasonNotWhitelisted {
		t.Errorf("expected %s, got %s", ReasonNotWhitelisted, reason)
	}
	if g := lastGuard(att); g.Guard != "whitelist" || g.Passed {
		t.Errorf("unexpected failing guard: %+v", g)
	}
	if len(brk.placed) != 0 {
		t.Error("rejected order must never reach the broker")
	}
}

func TestNoShortBeforeSpread(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	// quote is also too wide for DOGE, but the direction guard runs first
	ok, reason, att := e.ValidateAndExecute(context.Background(), brk, "DOGE/USD", types.SideSell, 500, 0.12, 0.13)
	if ok {
		t.Fatal("expected rejection")
	}
	if reason != ReasonNoShort {
		t.Errorf("expected %s, got %s", ReasonNoShort, reason)
	}
	if g := lastGuard(att); g.Guard != "direction" {
		t.Errorf("expected direction guard to fail first, got %s", g.Guard)
	}
}

func TestSpreadTooWide(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	// 6bps spread against BTC's 5bps cap
	ok, reason, _ := e.ValidateAndExecute(context.Background(), brk, "BTC/USD", types.SideBuy, 0.001, 100, 100.06)
	if ok {
		t.Fatal("expected spread rejection")
	}
	if reason != ReasonSpreadTooWide {
		t.Errorf("expected %s, got %s", ReasonSpreadTooWide, reason)
	}
}

func TestBadQuote(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	ok, reason, _ := e.ValidateAndExecute(context.Background(), brk, "BTC/USD", types.SideBuy, 0.001, 100.05, 100)
	if ok {
		t.Fatal("expected bad quote rejection for crossed book")
	}
	if reason != ReasonBadQuote {
		t.Errorf("expected %s, got %s", ReasonBadQuote, reason)
	}
}

func TestMinNotional(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	// $6 notional against the $10 floor
	ok, reason, _ := e.ValidateAndExecute(context.Background(), brk, "XRP/USD", types.SideBuy, 10, 0.60, 0.6001)
	if ok {
		t.Fatal("expected min notional rejection")
	}
	if reason != ReasonOrderTooSmall {
		t.Errorf("expected %s, got %s", ReasonOrderTooSmall, reason)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}
	ctx := context.Background()

	if ok, msg, _ := e.ValidateAndExecute(ctx, brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010); !ok {
		t.Fatalf("first order should fill: %s", msg)
	}
	ok, reason, _ := e.ValidateAndExecute(ctx, brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010)
	if ok {
		t.Fatal("expected duplicate rejection inside cooldown")
	}
	if reason != ReasonDuplicate {
		t.Errorf("expected %s, got %s", ReasonDuplicate, reason)
	}

	// opposite side is not a duplicate; exits must never be blocked here
	if ok, msg, _ := e.ValidateAndExecute(ctx, brk, "ETH/USD", types.SideBuy, 0.01, 2500, 2500.2); !ok {
		t.Errorf("different symbol should pass: %s", msg)
	}
}

func TestDuplicateExpiresAfterCooldown(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}
	ctx := context.Background()

	base := time.Now()
	e.now = func() time.Time { return base }
	if ok, msg, _ := e.ValidateAndExecute(ctx, brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010); !ok {
		t.Fatalf("first order should fill: %s", msg)
	}

	e.now = func() time.Time { return base.Add(11 * time.Second) }
	if ok, msg, _ := e.ValidateAndExecute(ctx, brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010); !ok {
		t.Errorf("cooldown elapsed, expected fill: %s", msg)
	}
}

func TestFillTimeout(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{status: types.OrderStatusOpen}

	ok, reason, att := e.ValidateAndExecute(context.Background(), brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010)
	if ok {
		t.Fatal("expected fill timeout")
	}
	if reason != ReasonFillTimeout {
		t.Errorf("expected %s, got %s", ReasonFillTimeout, reason)
	}
	if att.Outcome != OutcomeTimeout {
		t.Errorf("expected TIMEOUT outcome, got %s", att.Outcome)
	}
	if len(brk.cancelled) != 1 || brk.cancelled[0] != "ord-1" {
		t.Errorf("timed-out order must be cancelled, got %v", brk.cancelled)
	}
}

func TestBrokerRejection(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{status: types.OrderStatusRejected}

	ok, reason, _ := e.ValidateAndExecute(context.Background(), brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010)
	if ok {
		t.Fatal("expected broker rejection")
	}
	if reason != ReasonOrderRejected {
		t.Errorf("expected %s, got %s", ReasonOrderRejected, reason)
	}
}

func TestSubmitError(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{placeErr: errors.New("exchange down")}

	ok, reason, _ := e.ValidateAndExecute(context.Background(), brk, "BTC/USD", types.SideBuy, 0.001, 100000, 100010)
	if ok {
		t.Fatal("expected submit failure")
	}
	if reason != ReasonBrokerError {
		t.Errorf("expected %s, got %s", ReasonBrokerError, reason)
	}
}

func TestExecuteCloseSkipsEntryGuards(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	// SELL out of a DOGE long: the no-short entry guard must not apply
	ok, msg, att := e.ExecuteClose(context.Background(), brk, "DOGE/USD", types.SideSell, 200, 0.12, 0.1201)
	if !ok {
		t.Fatalf("close should fill: %s", msg)
	}
	if att.Outcome != OutcomeFilled {
		t.Errorf("expected FILLED, got %s", att.Outcome)
	}
}

func TestDeterministicFirstFailingGuard(t *testing.T) {
	e := testExecutor(t)
	brk := &fakeBroker{}

	// same inputs twice: same guard fails both times
	_, r1, a1 := e.ValidateAndExecute(context.Background(), brk, "DOGE/USD", types.SideSell, 500, 0.12, 0.13)
	_, r2, a2 := e.ValidateAndExecute(context.Background(), brk, "DOGE/USD", types.SideSell, 500, 0.12, 0.13)
	if r1 != r2 {
		t.Errorf("rejection reasons differ: %s vs %s", r1, r2)
	}
	if lastGuard(a1).Guard != lastGuard(a2).Guard {
		t.Errorf("failing guards differ: %s vs %s", lastGuard(a1).Guard, lastGuard(a2).Guard)
	}
}
