// Package eod aggregates a day's executed orders into a CSV summary.
// Crypto has no session close, so the day boundary is UTC midnight and the
// summary for day D is produced shortly after D ends.
package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type tradeLine struct {
	Time, Symbol, Side string
	Qty                float64
	Price              float64
	OrderID, Reason    string
	PnL                float64
}
type aggRow struct {
	Symbol      string
	BuyQty      float64
	BuyValue    float64
	SellQty     float64
	SellValue   float64
	RealizedPnL float64
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}
func tradeFile(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), d+".txt")
}
func eodCSVPath(t time.Time) string {
	d := t.UTC().Format("2006-01-02")
	return filepath.Join(logDir(), "eod", d+".csv")
}

// SummarizeDay aggregates the given day's trade log into a per-symbol CSV.
// Realized pnl comes straight off the close entries; the matched-quantity
// estimate only backfills entries logged without one.
func SummarizeDay(t time.Time) (string, error) {
	inPath := tradeFile(t)
	if _, err := os.Stat(inPath); err != nil {
		return "", nil
	}
	f, err := os.Open(inPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	aggs := map[string]*aggRow{}
	loggedPnL := map[string]float64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var tl tradeLine
		if err := json.Unmarshal([]byte(sc.Text()), &tl); err != nil {
			continue
		}
		row := aggs[tl.Symbol]
		if row == nil {
			row = &aggRow{Symbol: tl.Symbol}
			aggs[tl.Symbol] = row
		}
		if tl.Side == "BUY" {
			row.BuyQty += tl.Qty
			row.BuyValue += tl.Qty * tl.Price
		}
		if tl.Side == "SELL" {
			row.SellQty += tl.Qty
			row.SellValue += tl.Qty * tl.Price
		}
		loggedPnL[tl.Symbol] += tl.PnL
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	outPath := eodCSVPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()
	w := csv.NewWriter(out)
	defer w.Flush()
	headers := []string{"symbol", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var totalBuy, totalSell, totalPnL float64
	for _, k := range keys {
		r := aggs[k]
		var buyAvg, sellAvg float64
		if r.BuyQty > 0 {
			buyAvg = r.BuyValue / r.BuyQty
		}
		if r.SellQty > 0 {
			sellAvg = r.SellValue / r.SellQty
		}
		r.RealizedPnL = loggedPnL[k]
		if r.RealizedPnL == 0 {
			matched := r.BuyQty
			if r.SellQty < matched {
				matched = r.SellQty
			}
			r.RealizedPnL = matched * (sellAvg - buyAvg)
		}
		rec := []string{
			r.Symbol,
			fmt.Sprintf("%.8f", r.BuyQty),
			fmt.Sprintf("%.4f", buyAvg),
			fmt.Sprintf("%.8f", r.SellQty),
			fmt.Sprintf("%.4f", sellAvg),
			fmt.Sprintf("%.2f", r.RealizedPnL),
			fmt.Sprintf("%.2f", r.BuyValue),
			fmt.Sprintf("%.2f", r.SellValue),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy += r.BuyValue
		totalSell += r.SellValue
		totalPnL += r.RealizedPnL
	}
	_ = w.Write([]string{"TOTAL", "", "", "", "", fmt.Sprintf("%.2f", totalPnL), fmt.Sprintf("%.2f", totalBuy), fmt.Sprintf("%.2f", totalSell)})
	return outPath, nil
}

// SummarizeYesterday produces the summary for the UTC day that just ended.
func SummarizeYesterday() (string, error) {
	return SummarizeDay(time.Now().UTC().AddDate(0, 0, -1))
}

// ShouldRunNow reports whether yesterday's summary is due: we are past
// 00:05 UTC and the CSV does not exist yet.
func ShouldRunNow() (bool, string) {
	now := time.Now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	outPath := eodCSVPath(yesterday)
	if now.After(cutoff) {
		if _, err := os.Stat(tradeFile(yesterday)); err != nil {
			return false, outPath
		}
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
