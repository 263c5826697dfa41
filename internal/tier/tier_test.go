package tier

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"BTC_USD":  "BTC/USD",
		"btc-usd":  "BTC/USD",
		"ETH/USDT": "ETH/USDT",
		"DOGE_usd": "DOGE/USD",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAssetOf(t *testing.T) {
	if got := AssetOf("BTC_USD"); got != "BTC" {
		t.Errorf("AssetOf(BTC_USD) = %q", got)
	}
	if got := AssetOf("shib/usdt"); got != "SHIB" {
		t.Errorf("AssetOf(shib/usdt) = %q", got)
	}
}

func TestDefaultWhitelist(t *testing.T) {
	table := NewTable(nil)
	if !table.Allowed("BTC/USD") || !table.Allowed("BTC/USDT") {
		t.Error("default whitelist should allow BTC against USD and USDT")
	}
	if table.Allowed("PEPE/USD") {
		t.Error("unknown asset must not be whitelisted by default")
	}
}

func TestExplicitWhitelist(t *testing.T) {
	table := NewTable([]string{"BTC_USD", "eth/usd"})
	if !table.Allowed("BTC/USD") {
		t.Error("BTC_USD should normalize into the whitelist")
	}
	if !table.Allowed("ETH/USD") {
		t.Error("eth/usd should normalize into the whitelist")
	}
	if table.Allowed("XRP/USD") {
		t.Error("symbols outside an explicit whitelist must be rejected")
	}
}

func TestTierAssignments(t *testing.T) {
	table := NewTable(nil)
	if table.TierOf("BTC/USD") != Major {
		t.Error("BTC should be major tier")
	}
	if table.TierOf("LINK/USD") != Mid {
		t.Error("LINK should be mid tier")
	}
	if table.TierOf("DOGE/USD") != Restricted {
		t.Error("DOGE should be restricted tier")
	}
	if !table.LimitsFor("DOGE/USD").NoShort {
		t.Error("restricted tier should be buy-only")
	}
}

func TestUnknownAssetFallback(t *testing.T) {
	table := NewTable(nil)
	l := table.LimitsFor("PEPE/USD")
	if l.Tier != Mid {
		t.Errorf("unknown asset should get mid-tier limits, got %s", l.Tier)
	}
	if l.RiskWeight != 1.0 {
		t.Errorf("fallback risk weight should be 1.0, got %.2f", l.RiskWeight)
	}
}

func TestOverride(t *testing.T) {
	table := NewTable(nil)
	table.Override("BTC", Limits{Tier: Major, MaxRiskPct: 1.5, MaxSpreadPct: 0.001, MaxPositionNotional: 9000, EntryZonePct: 0.25})

	l := table.LimitsFor("BTC/USD")
	if l.MaxRiskPct != 1.5 || l.MaxPositionNotional != 9000 {
		t.Errorf("override not applied: %+v", l)
	}
	if l.RiskWeight != 1.0 {
		t.Errorf("zero risk weight should default to 1.0, got %.2f", l.RiskWeight)
	}
}
