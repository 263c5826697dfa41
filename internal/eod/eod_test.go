package eod

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"crypto-range-bot/internal/tradelog"
)

func TestSummarizeDay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	entries := []tradelog.Entry{
		{Symbol: "BTC/USD", Side: "BUY", Qty: 0.001, Price: 42000, OrderID: "a", Reason: "entry"},
		{Symbol: "BTC/USD", Side: "SELL", Qty: 0.001, Price: 42500, OrderID: "b", Reason: "exit", PnL: 0.5},
		{Symbol: "DOGE/USD", Side: "BUY", Qty: 200, Price: 0.12, OrderID: "c", Reason: "entry"},
	}
	for _, e := range entries {
		if err := tradelog.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	path, err := SummarizeDay(time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if path == "" {
		t.Fatal("expected a summary path")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	// header + BTC + DOGE + TOTAL
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[1][0] != "BTC/USD" {
		t.Errorf("expected BTC/USD first, got %s", rows[1][0])
	}
	pnl, err := strconv.ParseFloat(rows[1][5], 64)
	if err != nil {
		t.Fatal(err)
	}
	if pnl != 0.5 {
		t.Errorf("expected BTC realized pnl 0.5, got %.2f", pnl)
	}
}

func TestSummarizeDayNoFile(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	path, err := SummarizeDay(time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Errorf("no trades should produce no summary, got %s", path)
	}
}

func TestShouldRunNowSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	now := time.Now().UTC()
	if now.Hour() == 0 && now.Minute() < 6 {
		t.Skip("inside the EOD grace window")
	}

	yesterday := now.AddDate(0, 0, -1)
	day := yesterday.Format("2006-01-02")
	if err := os.WriteFile(filepath.Join(dir, day+".txt"), []byte(`{"Symbol":"BTC/USD","Side":"BUY","Qty":1,"Price":100}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, outPath := ShouldRunNow()
	if !ok {
		t.Fatal("summary for yesterday should be due")
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outPath, []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := ShouldRunNow(); ok {
		t.Error("existing summary should not be regenerated")
	}
}
