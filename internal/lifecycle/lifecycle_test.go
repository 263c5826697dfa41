package lifecycle

import (
	"context"
	"errors"
	"testing"

	"crypto-range-bot/internal/types"
)

func testRegistry() *Registry {
	return New(Config{Checkpoint1Candles: 6, Checkpoint2Candles: 12, CooldownCandles: 8})
}

func openTrade(t *testing.T, r *Registry, symbol string) {
	t.Helper()
	ctx := context.Background()
	if _, err := r.OpenTrade(ctx, symbol, types.SideBuy, 100, 1, 0.15); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	if err := r.MarkEntryPending(ctx, symbol); err != nil {
		t.Fatalf("MarkEntryPending: %v", err)
	}
	if err := r.ConfirmEntry(ctx, symbol); err != nil {
		t.Fatalf("ConfirmEntry: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()

	openTrade(t, r, "BTC/USD")

	tr := r.CurrentTrade("BTC/USD")
	if tr == nil || tr.State != StateOpen {
		t.Fatalf("expected OPEN trade, got %+v", tr)
	}

	closed, err := r.CloseTrade(ctx, "BTC/USD", 100, "target reached")
	if err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if closed.PnL != 0 {
		t.Errorf("entry 100 exit 100 should be zero pnl, got %.4f", closed.PnL)
	}
	if closed.State != StateExitConfirmed {
		t.Errorf("expected EXIT_CONFIRMED, got %s", closed.State)
	}
	if r.CurrentTrade("BTC/USD") != nil {
		t.Error("closed trade should leave the registry")
	}
}

func TestShortTradePnLSign(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	if _, err := r.OpenTrade(ctx, "ETH/USD", types.SideSell, 100, 2, 0.9); err != nil {
		t.Fatalf("OpenTrade: %v", err)
	}
	if err := r.MarkEntryPending(ctx, "ETH/USD"); err != nil {
		t.Fatal(err)
	}
	if err := r.ConfirmEntry(ctx, "ETH/USD"); err != nil {
		t.Fatal(err)
	}

	closed, err := r.CloseTrade(ctx, "ETH/USD", 90, "target reached")
	if err != nil {
		t.Fatal(err)
	}
	if closed.PnL != 20 {
		t.Errorf("short from 100 to 90 on qty 2 should gain 20, got %.4f", closed.PnL)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	if _, err := r.OpenTrade(ctx, "BTC/USD", types.SideBuy, 100, 1, 0.1); err != nil {
		t.Fatal(err)
	}

	// ARMED cannot take ENTRY_FILLED directly
	err := r.ConfirmEntry(ctx, "BTC/USD")
	if err == nil {
		t.Fatal("expected transition error from ARMED on ENTRY_FILLED")
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %T: %v", err, err)
	}
	if te.From != StateArmed || te.Event != EventEntryFilled {
		t.Errorf("unexpected error detail: %+v", te)
	}
}

func TestDoubleOpenRejected(t *testing.T) {
	r := testRegistry()
	openTrade(t, r, "BTC/USD")

	ok, reason := r.CanEnterTrade("BTC/USD")
	if ok {
		t.Fatal("expected entry rejection while trade open")
	}
	if reason != "trade already open" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestCooldownBlocksReentry(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	openTrade(t, r, "BTC/USD")
	if _, err := r.CloseTrade(ctx, "BTC/USD", 105, "target"); err != nil {
		t.Fatal(err)
	}

	if ok, _ := r.CanEnterTrade("BTC/USD"); ok {
		t.Fatal("expected cooldown to block re-entry")
	}
	if cd := r.CooldownRemaining("BTC/USD"); cd != 8 {
		t.Errorf("expected 8 cooldown candles, got %d", cd)
	}

	for i := 0; i < 8; i++ {
		r.DecrementCooldowns()
	}
	if ok, reason := r.CanEnterTrade("BTC/USD"); !ok {
		t.Errorf("cooldown elapsed but entry still blocked: %s", reason)
	}
}

func TestCheckpointsFire(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	openTrade(t, r, "BTC/USD")

	var fired []int
	r.SetCheckpointSubscriber(func(ctx context.Context, symbol string, checkpoint, candlesOpen int) {
		fired = append(fired, checkpoint)
	})

	for i := 1; i <= 12; i++ {
		if err := r.AdvanceCheckpoint(ctx, "BTC/USD", i); err != nil {
			t.Fatalf("AdvanceCheckpoint(%d): %v", i, err)
		}
	}

	tr := r.CurrentTrade("BTC/USD")
	if tr.State != StateCheckpoint2 {
		t.Errorf("expected CHECKPOINT_2 after 12 candles, got %s", tr.State)
	}
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Errorf("expected checkpoints [1 2], got %v", fired)
	}
}

func TestAbortEntryNoCooldown(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	if _, err := r.OpenTrade(ctx, "BTC/USD", types.SideBuy, 100, 1, 0.1); err != nil {
		t.Fatal(err)
	}
	r.AbortEntry(ctx, "BTC/USD", "fill timeout")

	if r.CurrentTrade("BTC/USD") != nil {
		t.Error("aborted trade should leave the registry")
	}
	if ok, reason := r.CanEnterTrade("BTC/USD"); !ok {
		t.Errorf("abort must not start a cooldown: %s", reason)
	}
	if len(r.TradeHistory("BTC/USD")) != 0 {
		t.Error("aborted entry must not appear in history")
	}
}

func TestCloseFromCheckpointBackfillsHistory(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()
	openTrade(t, r, "BTC/USD")
	if err := r.AdvanceCheckpoint(ctx, "BTC/USD", 6); err != nil {
		t.Fatal(err)
	}

	closed, err := r.CloseTrade(ctx, "BTC/USD", 110, "reversion target")
	if err != nil {
		t.Fatal(err)
	}

	// History must include EXITING before EXIT_CONFIRMED even though the
	// caller skipped MarkExiting.
	states := make([]State, 0, len(closed.StateHistory))
	for _, sc := range closed.StateHistory {
		states = append(states, sc.State)
	}
	sawExiting := false
	for _, s := range states {
		if s == StateExiting {
			sawExiting = true
		}
	}
	if !sawExiting {
		t.Errorf("state history missing EXITING: %v", states)
	}
	if closed.PnL != 10 {
		t.Errorf("expected pnl 10, got %.4f", closed.PnL)
	}
}

func TestGetStats(t *testing.T) {
	r := testRegistry()
	ctx := context.Background()

	openTrade(t, r, "BTC/USD")
	if _, err := r.CloseTrade(ctx, "BTC/USD", 110, "win"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		r.DecrementCooldowns()
	}
	openTrade(t, r, "BTC/USD")
	if _, err := r.CloseTrade(ctx, "BTC/USD", 95, "loss"); err != nil {
		t.Fatal(err)
	}

	s := r.GetStats()
	if s.TotalTrades != 2 || s.WinningTrades != 1 || s.LosingTrades != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if s.WinRate != 50 {
		t.Errorf("expected 50%% win rate, got %.2f", s.WinRate)
	}
	if s.TotalPnL != 5 {
		t.Errorf("expected total pnl 5, got %.4f", s.TotalPnL)
	}
}
