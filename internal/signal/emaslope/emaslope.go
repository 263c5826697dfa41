// Package emaslope implements the default range-reversion signaler. It
// buys the bottom of the range and sells the top, but only when the EMA
// slope agrees that momentum has stopped running against the entry.
package emaslope

import (
	"context"
	"fmt"
	"sync"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/ta"
	"crypto-range-bot/internal/types"
)

type openState struct {
	direction string
	// tightened is set at the second checkpoint: after that the exit
	// target drops from the far band to mid range.
	tightened bool
}

type Signaler struct {
	analyzer  *rangescan.Analyzer
	emaPeriod int

	mu   sync.Mutex
	open map[string]*openState
}

var _ interfaces.Signaler = (*Signaler)(nil)
var _ interfaces.CheckpointSubscriber = (*Signaler)(nil)

func New(analyzer *rangescan.Analyzer, emaPeriod int) *Signaler {
	if emaPeriod <= 0 {
		emaPeriod = 20
	}
	return &Signaler{
		analyzer:  analyzer,
		emaPeriod: emaPeriod,
		open:      make(map[string]*openState),
	}
}

// Generate emits BUY in the bottom entry zone when the EMA has stopped
// falling, SELL in the top entry zone when it has stopped rising, and HOLD
// everywhere else. Confidence scales with how deep into the entry zone the
// price sits.
func (s *Signaler) Generate(ctx context.Context, symbol string, candles []types.Candle) (types.Signal, error) {
	if len(candles) < s.emaPeriod+1 {
		return types.Signal{Action: types.ActionHold, Reason: "insufficient candles for EMA"}, nil
	}

	an := s.analyzer.Analyze(symbol, candles)
	if ok, reason := s.analyzer.CanTrade(an); !ok {
		return types.Signal{Action: types.ActionHold, Reason: reason}, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	slope := ta.EMASlope(closes, s.emaPeriod)

	switch an.Zone {
	case rangescan.ZoneEntryBottom:
		if slope < 0 {
			return types.Signal{Action: types.ActionHold, Reason: "EMA still falling at range bottom"}, nil
		}
		sig := types.Signal{
			Action:     types.ActionBuy,
			Reason:     fmt.Sprintf("range bottom (%.0f%%), EMA slope %.6f", an.RangePosition*100, slope),
			Confidence: 1 - an.RangePosition/s.analyzer.EntryZonePct(symbol),
		}
		s.markOpen(symbol, types.SideBuy)
		logger.Decision(ctx, symbol, sig.Action, sig.Confidence, sig.Reason)
		return sig, nil

	case rangescan.ZoneEntryTop:
		if slope > 0 {
			return types.Signal{Action: types.ActionHold, Reason: "EMA still rising at range top"}, nil
		}
		sig := types.Signal{
			Action:     types.ActionSell,
			Reason:     fmt.Sprintf("range top (%.0f%%), EMA slope %.6f", an.RangePosition*100, slope),
			Confidence: 1 - (1-an.RangePosition)/s.analyzer.EntryZonePct(symbol),
		}
		s.markOpen(symbol, types.SideSell)
		logger.Decision(ctx, symbol, sig.Action, sig.Confidence, sig.Reason)
		return sig, nil
	}

	return types.Signal{Action: types.ActionHold, Reason: "outside entry zones"}, nil
}

// ShouldExit reports whether an open position has reached its reversion
// target. Longs target the upper half of the range, shorts the lower half;
// after the second checkpoint the target tightens to mid range.
func (s *Signaler) ShouldExit(ctx context.Context, symbol string, candles []types.Candle, currentPrice float64) (bool, string, error) {
	s.mu.Lock()
	st, ok := s.open[symbol]
	s.mu.Unlock()
	if !ok {
		return false, "", nil
	}

	an := s.analyzer.Analyze(symbol, candles)
	if an.Degenerate {
		return false, "", nil
	}

	target := 0.70
	if st.tightened {
		target = 0.50
	}

	switch st.direction {
	case types.SideBuy:
		if an.RangePosition >= target {
			return true, fmt.Sprintf("reversion target reached (%.0f%% >= %.0f%%)", an.RangePosition*100, target*100), nil
		}
	case types.SideSell:
		if an.RangePosition <= 1-target {
			return true, fmt.Sprintf("reversion target reached (%.0f%% <= %.0f%%)", an.RangePosition*100, (1-target)*100), nil
		}
	}
	return false, "", nil
}

// OnCheckpoint tightens the exit target once a trade has been open long
// enough to hit its second checkpoint.
func (s *Signaler) OnCheckpoint(ctx context.Context, symbol string, checkpoint int, candlesOpen int) {
	if checkpoint < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.open[symbol]; ok && !st.tightened {
		st.tightened = true
		logger.Info(ctx, "Exit target tightened to mid range",
			"symbol", symbol,
			"checkpoint", checkpoint,
			"candles_open", candlesOpen,
		)
	}
}

// Forget clears per-symbol exit state after a trade closes or aborts.
func (s *Signaler) Forget(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, symbol)
}

func (s *Signaler) markOpen(symbol, direction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[symbol] = &openState{direction: direction}
}
