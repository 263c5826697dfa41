// Package monitor exposes the bot's read-only operational surface over
// HTTP: risk ledger stats, execution stats, active trades, trade history,
// the latest range analyses and the Prometheus scrape endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-range-bot/internal/guardrails"
	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/lifecycle"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/risk"
)

// Server serves the monitoring endpoints. All handlers read snapshots;
// nothing here mutates trading state.
type Server struct {
	addr     string
	engine   interfaces.Engine
	registry *lifecycle.Registry
	ledger   *risk.Ledger
	exec     *guardrails.Executor

	httpSrv *http.Server
}

func New(addr string, eng interfaces.Engine, registry *lifecycle.Registry, ledger *risk.Ledger, exec *guardrails.Executor) *Server {
	return &Server{
		addr:     addr,
		engine:   eng,
		registry: registry,
		ledger:   ledger,
		exec:     exec,
	}
}

// Start runs the HTTP server in the background. Errors other than a clean
// shutdown are logged, not fatal; trading continues without monitoring.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/risk", s.handleRisk)
	mux.HandleFunc("/execution", s.handleExecution)
	mux.HandleFunc("/trades", s.handleTrades)
	mux.HandleFunc("/trades/history", s.handleHistory)
	mux.HandleFunc("/ranges", s.handleRanges)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Monitoring server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorWithErr(ctx, "Monitoring server stopped", err, "addr", s.addr)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if s.httpSrv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr(ctx, "Monitoring server shutdown failed", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	halted, reason := s.ledger.Halted()
	writeJSON(w, map[string]any{
		"status":      "ok",
		"halted":      halted,
		"halt_reason": reason,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ledger.GetStats())
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.exec.GetStats())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.ActiveTrades())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	writeJSON(w, s.registry.TradeHistory(symbol))
}

func (s *Server) handleRanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.RangeAnalyses())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
