// Package tier classifies tradable symbols into risk tiers and carries the
// per-tier limit tables used by range analysis, the risk ledger and the
// execution guardrails. One parameterized table instead of one config blob
// per symbol.
package tier

import "strings"

// Tier is the risk class of an asset.
type Tier string

const (
	Major      Tier = "MAJOR"
	Mid        Tier = "MID"
	Restricted Tier = "RESTRICTED"
)

// Limits are the trading limits attached to a single asset.
type Limits struct {
	Tier                Tier
	MaxRiskPct          float64 // max per-trade risk as % of account balance
	RiskWeight          float64 // multiplier applied to notional when computing risk
	MaxSpreadPct        float64 // max (ask-bid)/mid, as a fraction
	MaxPositionNotional float64 // hard cap on position value in quote currency
	EntryZonePct        float64 // entry band width at range extremes (0..1)
	NoShort             bool    // SELL entries forbidden
}

// Table maps base assets to limits and carries the symbol whitelist.
type Table struct {
	limits    map[string]Limits
	whitelist map[string]bool
	fallback  Limits
}

// defaultLimits mirror the production tier tables: two majors, liquid
// mid-caps, and the restricted meme tier (buy-only, tighter entries).
func defaultLimits() map[string]Limits {
	return map[string]Limits{
		"BTC":   {Tier: Major, MaxRiskPct: 0.75, RiskWeight: 1.0, MaxSpreadPct: 0.0005, MaxPositionNotional: 5000, EntryZonePct: 0.20},
		"ETH":   {Tier: Major, MaxRiskPct: 0.75, RiskWeight: 1.0, MaxSpreadPct: 0.0005, MaxPositionNotional: 3000, EntryZonePct: 0.20},
		"XRP":   {Tier: Mid, MaxRiskPct: 0.50, RiskWeight: 1.0, MaxSpreadPct: 0.0008, MaxPositionNotional: 500, EntryZonePct: 0.20},
		"LTC":   {Tier: Mid, MaxRiskPct: 0.50, RiskWeight: 1.0, MaxSpreadPct: 0.0010, MaxPositionNotional: 500, EntryZonePct: 0.20},
		"BCH":   {Tier: Mid, MaxRiskPct: 0.50, RiskWeight: 1.0, MaxSpreadPct: 0.0010, MaxPositionNotional: 500, EntryZonePct: 0.20},
		"LINK":  {Tier: Mid, MaxRiskPct: 0.50, RiskWeight: 1.0, MaxSpreadPct: 0.0010, MaxPositionNotional: 500, EntryZonePct: 0.20},
		"DOGE":  {Tier: Restricted, MaxRiskPct: 0.30, RiskWeight: 1.0, MaxSpreadPct: 0.0012, MaxPositionNotional: 200, EntryZonePct: 0.15, NoShort: true},
		"SHIB":  {Tier: Restricted, MaxRiskPct: 0.20, RiskWeight: 1.0, MaxSpreadPct: 0.0020, MaxPositionNotional: 100, EntryZonePct: 0.15, NoShort: true},
		"TRUMP": {Tier: Restricted, MaxRiskPct: 0.10, RiskWeight: 1.0, MaxSpreadPct: 0.0025, MaxPositionNotional: 50, EntryZonePct: 0.15, NoShort: true},
	}
}

// NewTable builds a tier table. whitelist entries are symbols such as
// "BTC/USD"; an empty whitelist means every asset in the limits table is
// allowed against USD and USDT.
func NewTable(whitelist []string) *Table {
	t := &Table{
		limits:    defaultLimits(),
		whitelist: make(map[string]bool),
		fallback:  Limits{Tier: Mid, MaxRiskPct: 0.50, RiskWeight: 1.0, MaxSpreadPct: 0.0010, MaxPositionNotional: 500, EntryZonePct: 0.20},
	}
	if len(whitelist) == 0 {
		for asset := range t.limits {
			t.whitelist[asset+"/USD"] = true
			t.whitelist[asset+"/USDT"] = true
		}
	} else {
		for _, s := range whitelist {
			t.whitelist[Normalize(s)] = true
		}
	}
	return t
}

// Override replaces the limits for one asset.
func (t *Table) Override(asset string, l Limits) {
	if l.RiskWeight <= 0 {
		l.RiskWeight = 1.0
	}
	t.limits[strings.ToUpper(asset)] = l
}

// Normalize converts exchange symbol spellings to the canonical BASE/QUOTE
// form: "BTC_USD" and "BTC-USD" both become "BTC/USD".
func Normalize(symbol string) string {
	s := strings.ReplaceAll(symbol, "_", "/")
	s = strings.ReplaceAll(s, "-", "/")
	return strings.ToUpper(s)
}

// AssetOf extracts the base asset from a symbol: "BTC_USD" -> "BTC".
func AssetOf(symbol string) string {
	return strings.SplitN(Normalize(symbol), "/", 2)[0]
}

// Allowed reports whitelist membership.
func (t *Table) Allowed(symbol string) bool {
	return t.whitelist[Normalize(symbol)]
}

// LimitsFor returns the limits for a symbol's base asset, falling back to
// the mid-tier defaults for unknown assets.
func (t *Table) LimitsFor(symbol string) Limits {
	if l, ok := t.limits[AssetOf(symbol)]; ok {
		return l
	}
	return t.fallback
}

// TierOf returns the risk tier of a symbol's base asset.
func (t *Table) TierOf(symbol string) Tier {
	return t.LimitsFor(symbol).Tier
}
