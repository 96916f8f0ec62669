// Package main is the entry point for the pumpwatch engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pumpwatch/engine/internal/config"
	"github.com/pumpwatch/engine/internal/ingest"
	"github.com/pumpwatch/engine/internal/metrics"
	"github.com/pumpwatch/engine/internal/notify"
	"github.com/pumpwatch/engine/internal/server"
	"github.com/pumpwatch/engine/internal/store"
	"github.com/pumpwatch/engine/internal/trade"
	"github.com/pumpwatch/engine/internal/ui"
	"github.com/pumpwatch/engine/internal/wallet"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("pumpwatch starting",
		"version", "1.0.0",
	)

	slog.Info("config_loaded",
		"feed_ws_url", cfg.FeedWSURL,
		"trade_api_url", cfg.TradeAPIURL,
		"solana_rpc_url", cfg.SolanaRPCURL,
		"http_addr", cfg.HTTPAddr,
		"secure_dir", cfg.SecureDir,
		"retry_base_delay", cfg.RetryBaseDelay,
		"retry_max_delay", cfg.RetryMaxDelay,
		"enable_tui", cfg.EnableTUI,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tokens := store.NewTokenStore()
	tracker := metrics.NewTracker()
	notifier := notify.NewNotifier()

	wallets, err := wallet.NewStore(cfg.SecureDir)
	if err != nil {
		slog.Error("failed to open wallet store", "error", err)
		os.Exit(1)
	}

	monitor := ingest.NewMonitor(cfg.FeedWSURL, tokens, notifier, tracker, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	monitor.Start(ctx)

	balances := wallet.NewBalanceClient(cfg.SolanaRPCURL)
	trader := trade.NewClient(cfg.TradeAPIURL)

	srv := server.New(cfg.HTTPAddr, notifier, tokens, wallets, balances, trader, tracker, cfg.ObserverSendBuffer)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("http_server_failed", "error", err)
			cancel()
		}
	}()

	slog.Info("engine_started",
		"status", "listening for token events",
		"http_addr", cfg.HTTPAddr,
		"tui_enabled", cfg.EnableTUI,
	)

	if cfg.EnableTUI {
		app := ui.NewApp(tracker, cfg.UIRefreshRate)
		notifier.Register(app.Observer())

		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
				cancel()
			}
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
		case <-ctx.Done():
		}
	}

	cancel()

	slog.Info("shutting_down", "status", "stopping http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http_shutdown_error", "error", err)
	}
	shutdownCancel()

	slog.Info("shutting_down", "status", "stopping feed monitor")
	monitor.Stop()

	slog.Info("shutdown_complete")
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
