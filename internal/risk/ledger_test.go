package risk

import (
	"context"
	"strings"
	"testing"

	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/types"
)

func testLedger() *Ledger {
	return New(Config{
		AccountBalance:       10000,
		PortfolioMaxRiskPct:  3.0,
		MaxConsecutiveLosses: 5,
		MaxDailyLossPct:      5.0,
		MaxOpenPositions:     6,
	}, tier.NewTable(nil))
}

func TestOpenAndClosePosition(t *testing.T) {
	l := testLedger()
	ctx := context.Background()

	// 0.0005 BTC at 100000 = $50 notional, within the 0.75% tier cap ($75)
	if ok, reason := l.CanOpenPosition("BTC/USD", types.SideBuy, 0.0005, 100000); !ok {
		t.Fatalf("expected entry allowed: %s", reason)
	}
	pos, err := l.OpenPosition(ctx, "BTC/USD", types.SideBuy, 0.0005, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Risk != 50 {
		t.Errorf("expected risk 50, got %.2f", pos.Risk)
	}

	s := l.GetStats()
	if s.AggregateExposure != 50 || s.OpenPositions != 1 {
		t.Errorf("unexpected stats after open: %+v", s)
	}

	closed, err := l.ClosePosition(ctx, "BTC/USD", 102000, "target")
	if err != nil {
		t.Fatal(err)
	}
	if closed.PnL != 1.0 {
		t.Errorf("expected pnl 1.0, got %.4f", closed.PnL)
	}

	s = l.GetStats()
	if s.AggregateExposure != 0 || s.OpenPositions != 0 {
		t.Errorf("exposure should drain on close: %+v", s)
	}
	if s.AccountBalance != 10001 {
		t.Errorf("expected balance 10001, got %.2f", s.AccountBalance)
	}
}

func TestConsecutiveLossHalt(t *testing.T) {
	l := testLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.OpenPosition(ctx, "BTC/USD", types.SideBuy, 0.0005, 100000); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if _, err := l.ClosePosition(ctx, "BTC/USD", 99000, "stop"); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	halted, reason := l.Halted()
	if !halted {
		t.Fatal("expected halt after 5 consecutive losses")
	}
	if reason != HaltMaxConsecutiveLosses {
		t.Errorf("expected %s, got %s", HaltMaxConsecutiveLosses, reason)
	}
	if ok, why := l.CanOpenPosition("ETH/USD", types.SideBuy, 0.01, 2500); ok {
		t.Error("halted ledger must reject entries")
	} else if !strings.Contains(why, "halted") {
		t.Errorf("unexpected rejection reason: %s", why)
	}
}

func TestWinResetsLossStreak(t *testing.T) {
	l := testLedger()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := l.OpenPosition(ctx, "BTC/USD", types.SideBuy, 0.0005, 100000); err != nil {
			t.Fatal(err)
		}
		if _, err := l.ClosePosition(ctx, "BTC/USD", 99000, "stop"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.OpenPosition(ctx, "BTC/USD", types.SideBuy, 0.0005, 100000); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ClosePosition(ctx, "BTC/USD", 101000, "target"); err != nil {
		t.Fatal(err)
	}

	if halted, _ := l.Halted(); halted {
		t.Error("win before the fifth loss must not halt")
	}
	if s := l.GetStats(); s.ConsecutiveLosses != 0 {
		t.Errorf("win should reset loss streak, got %d", s.ConsecutiveLosses)
	}
}

func TestDailyLossHalt(t *testing.T) {
	l := testLedger()
	ctx := context.Background()

	// one loss of $501 breaches the 5% daily limit on a $10k account
	if _, err := l.OpenPosition(ctx, "LINK/USD", types.SideBuy, 2, 15); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ClosePosition(ctx, "LINK/USD", 15, "flat"); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	l.dailyLoss = 501
	l.mu.Unlock()

	if ok, reason := l.CanOpenPosition("BTC/USD", types.SideBuy, 0.0005, 100000); ok {
		t.Error("daily loss breach must block entries")
	} else if !strings.Contains(reason, "daily loss") {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestNoShortTier(t *testing.T) {
	l := testLedger()
	ok, reason := l.CanOpenPosition("DOGE/USD", types.SideSell, 100, 0.12)
	if ok {
		t.Fatal("restricted tier must reject SELL entries")
	}
	if !strings.Contains(reason, "SELL") {
		t.Errorf("unexpected reason: %s", reason)
	}

	// BUY on the same tier is fine
	if ok, reason := l.CanOpenPosition("DOGE/USD", types.SideBuy, 100, 0.12); !ok {
		t.Errorf("BUY on restricted tier should pass: %s", reason)
	}
}

func TestTierNotionalCap(t *testing.T) {
	l := testLedger()
	// DOGE notional cap is $200
	if ok, reason := l.CanOpenPosition("DOGE/USD", types.SideBuy, 2000, 0.12); ok {
		t.Error("expected tier notional cap rejection")
	} else if !strings.Contains(reason, "notional cap") {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestTierRiskCap(t *testing.T) {
	l := testLedger()
	// $80 weighted notional exceeds BTC's 0.75% cap ($75) but not its
	// notional cap
	if ok, reason := l.CanOpenPosition("BTC/USD", types.SideBuy, 0.0008, 100000); ok {
		t.Error("expected tier risk cap rejection")
	} else if !strings.Contains(reason, "tier limit") {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestPortfolioCapAcrossSymbols(t *testing.T) {
	l := testLedger()
	ctx := context.Background()

	// portfolio cap is 3% of 10k = $300
	if _, err := l.OpenPosition(ctx, "BTC/USD", types.SideBuy, 0.0007, 100000); err != nil { // $70
		t.Fatal(err)
	}
	if _, err := l.OpenPosition(ctx, "ETH/USD", types.SideBuy, 0.028, 2500); err != nil { // $70
		t.Fatal(err)
	}
	if _, err := l.OpenPosition(ctx, "XRP/USD", types.SideBuy, 80, 0.60); err != nil { // $48
		t.Fatal(err)
	}
	if _, err := l.OpenPosition(ctx, "LINK/USD", types.SideBuy, 3, 15); err != nil { // $45
		t.Fatal(err)
	}
	if _, err := l.OpenPosition(ctx, "BCH/USD", types.SideBuy, 0.6, 80); err != nil { // $48, total $281
		t.Fatal(err)
	}

	// $40 is inside LTC's tier cap but takes the aggregate past $300
	if ok, reason := l.CanOpenPosition("LTC/USD", types.SideBuy, 0.5, 80); ok {
		t.Error("expected portfolio cap rejection")
	} else if !strings.Contains(reason, "portfolio") {
		t.Errorf("unexpected reason: %s", reason)
	}

	// the aggregate invariant held throughout
	s := l.GetStats()
	if s.AggregateExposure > s.MaxExposure {
		t.Errorf("aggregate %.2f exceeds cap %.2f", s.AggregateExposure, s.MaxExposure)
	}
	if s.TradingHalted {
		t.Errorf("no consistency fault expected: %+v", s)
	}
}

func TestDuplicatePositionRejected(t *testing.T) {
	l := testLedger()
	ctx := context.Background()
	if _, err := l.OpenPosition(ctx, "BTC/USD", types.SideBuy, 0.0005, 100000); err != nil {
		t.Fatal(err)
	}
	if ok, reason := l.CanOpenPosition("BTC/USD", types.SideBuy, 0.0005, 100000); ok {
		t.Error("expected duplicate position rejection")
	} else if reason != "position already open" {
		t.Errorf("unexpected reason: %s", reason)
	}
}

func TestResetDailyClearsHalt(t *testing.T) {
	l := testLedger()
	ctx := context.Background()
	l.Halt(ctx, HaltMaxDailyLoss)

	if halted, _ := l.Halted(); !halted {
		t.Fatal("setup: expected halt")
	}
	l.ResetDaily(ctx)
	if halted, _ := l.Halted(); halted {
		t.Error("ResetDaily must release the halt latch")
	}
	if s := l.GetStats(); s.DailyLoss != 0 || s.ConsecutiveLosses != 0 {
		t.Errorf("ResetDaily must clear daily counters: %+v", s)
	}
}
