package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	if err := Append(Entry{Symbol: "BTC/USD", Side: "BUY", Qty: 0.001, Price: 42000, OrderID: "x", Reason: "entry"}); err != nil {
		t.Fatal(err)
	}
	if err := Append(Entry{Symbol: "BTC/USD", Side: "SELL", Qty: 0.001, Price: 42500, OrderID: "y", Reason: "exit", PnL: 0.5}); err != nil {
		t.Fatal(err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, day+".txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lines))
	}
	if lines[0].Side != "BUY" || lines[1].PnL != 0.5 {
		t.Errorf("unexpected entries: %+v", lines)
	}
	if lines[0].Time == "" {
		t.Error("entries should be timestamped")
	}
}

func TestAppendAttemptSeparateFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	if err := AppendAttempt(AttemptEntry{AttemptID: "a1", Symbol: "BTC/USD", Side: "BUY", Qty: 0.001, LimitPrice: 41958, Outcome: "REJECTED", Reason: "SPREAD_TOO_WIDE"}); err != nil {
		t.Fatal(err)
	}

	day := time.Now().UTC().Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, "attempts", day+".txt")); err != nil {
		t.Errorf("attempt audit file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, day+".txt")); !os.IsNotExist(err) {
		t.Error("attempts must not land in the trade log")
	}
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	old := filepath.Join(dir, "2020-01-01.txt")
	if err := os.WriteFile(old, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	if err := CompressOlder(7); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old file should be removed after compression")
	}
	if _, err := os.Stat(old + ".gz"); err != nil {
		t.Errorf("compressed file missing: %v", err)
	}
}
