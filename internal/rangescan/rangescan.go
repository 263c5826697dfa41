// Package rangescan classifies where price sits inside its recent trading
// range and flags chop (range too small to trade) and exhaustion (range
// expanded enough that an open position should be force-closed). Analyze is
// a pure function of the candle window and the configured thresholds.
package rangescan

import (
	"fmt"

	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/types"
)

// Zone is the classification of the current price within its range.
type Zone string

const (
	ZoneEntryBottom Zone = "ENTRY_BOTTOM"
	ZoneLower       Zone = "LOWER"
	ZoneMiddle      Zone = "MIDDLE"
	ZoneUpper       Zone = "UPPER"
	ZoneEntryTop    Zone = "ENTRY_TOP"
	ZoneUnknown     Zone = "UNKNOWN"
)

// Analysis is the per-symbol, per-cycle range snapshot. Recomputed every
// tick, never stored beyond the monitoring cache.
type Analysis struct {
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	RangeHigh          float64 `json:"range_high"`
	RangeLow           float64 `json:"range_low"`
	RangeSize          float64 `json:"range_size"`
	RangePosition      float64 `json:"range_position"`
	Zone               Zone    `json:"zone"`
	VolatilityPct      float64 `json:"volatility_pct"`
	ChopDetected       bool    `json:"chop_detected"`
	ExhaustionDetected bool    `json:"exhaustion_detected"`
	MinRangeMet        bool    `json:"min_range_met"`
	Degenerate         bool    `json:"degenerate"`
}

// Config holds the analyzer thresholds. Zero values are replaced with the
// production defaults.
type Config struct {
	LookbackCandles        int
	ChopThresholdPct       float64
	ExhaustionThresholdPct float64
	MinRangePct            float64
}

type Analyzer struct {
	cfg   Config
	tiers *tier.Table
}

func New(cfg Config, tiers *tier.Table) *Analyzer {
	if cfg.LookbackCandles <= 0 {
		cfg.LookbackCandles = 96
	}
	if cfg.ChopThresholdPct <= 0 {
		cfg.ChopThresholdPct = 1.0
	}
	if cfg.ExhaustionThresholdPct <= 0 {
		cfg.ExhaustionThresholdPct = 10.0
	}
	if cfg.MinRangePct <= 0 {
		cfg.MinRangePct = 0.5
	}
	return &Analyzer{cfg: cfg, tiers: tiers}
}

// Analyze computes the range snapshot for the trailing lookback window.
// A window shorter than the lookback, or one where high == low, is
// degenerate: range position 0, chop set, no trade possible.
func (a *Analyzer) Analyze(symbol string, candles []types.Candle) Analysis {
	an := Analysis{Symbol: symbol, Zone: ZoneUnknown}

	if len(candles) < a.cfg.LookbackCandles {
		an.Degenerate = true
		an.ChopDetected = true
		return an
	}

	window := candles[len(candles)-a.cfg.LookbackCandles:]
	high, low := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	close := window[len(window)-1].Close

	an.Price = close
	an.RangeHigh = high
	an.RangeLow = low
	an.RangeSize = high - low

	if an.RangeSize <= 0 || low <= 0 {
		// Flat window: nothing to position against, treat as chop.
		an.Degenerate = true
		an.ChopDetected = true
		an.RangePosition = 0
		an.Zone = a.zoneFor(symbol, 0)
		return an
	}

	an.RangePosition = clamp((close-low)/an.RangeSize, 0, 1)
	an.VolatilityPct = an.RangeSize / low * 100
	an.ChopDetected = an.VolatilityPct < a.cfg.ChopThresholdPct
	an.ExhaustionDetected = an.VolatilityPct > a.cfg.ExhaustionThresholdPct
	an.MinRangeMet = an.VolatilityPct >= a.cfg.MinRangePct
	an.Zone = a.zoneFor(symbol, an.RangePosition)

	return an
}

// zoneFor maps a range position to its zone using the symbol's tier entry
// band. Comparisons at the entry thresholds are inclusive on the entry
// side: position == entry_zone_pct is still ENTRY_BOTTOM.
func (a *Analyzer) zoneFor(symbol string, position float64) Zone {
	entryZone := a.tiers.LimitsFor(symbol).EntryZonePct
	switch {
	case position <= entryZone:
		return ZoneEntryBottom
	case position >= 1-entryZone:
		return ZoneEntryTop
	case position > 0.30 && position < 0.70:
		return ZoneMiddle
	case position < 0.5:
		return ZoneLower
	default:
		return ZoneUpper
	}
}

// EntryZonePct exposes the symbol's entry band width for callers that
// scale confidence by depth into the zone.
func (a *Analyzer) EntryZonePct(symbol string) float64 {
	return a.tiers.LimitsFor(symbol).EntryZonePct
}

// CanTrade reports whether the analysis permits opening a trade.
func (a *Analyzer) CanTrade(an Analysis) (bool, string) {
	if an.Degenerate {
		return false, "degenerate window"
	}
	if an.ChopDetected {
		return false, fmt.Sprintf("market chop (%.2f%% < %.2f%%)", an.VolatilityPct, a.cfg.ChopThresholdPct)
	}
	if !an.MinRangeMet {
		return false, fmt.Sprintf("range too small (%.2f%% < %.2f%%)", an.VolatilityPct, a.cfg.MinRangePct)
	}
	if an.Zone == ZoneMiddle {
		return false, fmt.Sprintf("middle of range (%.0f%%)", an.RangePosition*100)
	}
	return true, ""
}

// ShouldForceExit reports whether an open position must be closed on
// volatility exhaustion.
func (a *Analyzer) ShouldForceExit(an Analysis) (bool, string) {
	if an.ExhaustionDetected {
		return true, fmt.Sprintf("volatility exhaustion (%.2f%% > %.2f%%)", an.VolatilityPct, a.cfg.ExhaustionThresholdPct)
	}
	return false, ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
