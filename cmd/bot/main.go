// tradecore-engine is the core trading engine process: it loads
// configuration, wires every component through internal/engine, and drives
// the stdio command surface (C23) on stdin/stdout until a shutdown signal
// arrives.
//
// Architecture:
//
//	cmd/bot/main.go     — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	internal/engine     — orchestrator: wires clock, WAL, books, router, risk, OMS, strategies, stdio
//	internal/market     — order book, subscription fan-out, kline aggregation, quality detection
//	internal/exchange   — adapter contract, Binance reference adapter, router, rate limiting
//	internal/oms        — order state machine, client-id allocator, crash recovery via the WAL
//	internal/risk       — pre-trade rule chain and per-venue circuit breaker
//	internal/strategy   — strategy templates, hot-reloadable runtime
//	internal/bridge     — signal → risk → router wiring for strategy-originated orders
//	internal/stdio      — NDJSON command parser, emitter, and handler (C23)
//	internal/wal        — segmented, CRC-guarded write-ahead log (C8)
//
// The process speaks no HTTP beyond an optional Prometheus /metrics text
// endpoint; every order and market command flows over the stdio protocol
// described in spec §6, for a surrounding process supervisor to forward.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tradecore/engine/internal/config"
	"github.com/tradecore/engine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADECORE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx, os.Stdin); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("engine started",
		"mode", cfg.Mode,
		"markets", len(cfg.Market),
		"strategies", len(cfg.Strategy),
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	eng.Stop()
	logger.Info("engine stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
