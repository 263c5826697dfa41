package engine

import (
	"crypto-range-bot/internal/guardrails"
	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/lifecycle"
	"crypto-range-bot/internal/rangescan"
	"crypto-range-bot/internal/risk"
	"crypto-range-bot/internal/store"
)

func New(cfg *store.Config, brk interfaces.Broker, sig interfaces.Signaler, md interfaces.MarketData,
	analyzer *rangescan.Analyzer, registry *lifecycle.Registry, ledger *risk.Ledger, exec *guardrails.Executor) interfaces.Engine {
	return newEngine(cfg, brk, sig, md, analyzer, registry, ledger, exec)
}
