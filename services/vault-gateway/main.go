package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"growvault/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logging.Setup("vault-gateway", os.Getenv("GROWVAULT_ENV"))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		slog.Error("open sqlite store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ledger := NewRPCLedgerClient(cfg.NodeURL, cfg.NodeAuthToken)
	retrier := newReadRetrier(cfg.ReadRetryAttempts, cfg.ReadRetryBaseDelay)
	registry := NewLockRegistry(store, ledger, retrier)
	settlement := NewSettlementService(store, ledger, retrier)
	limiter := newIPRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	server := NewServer(ledger, registry, settlement, retrier, cfg.LegendaryThreshold, logger, limiter)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		slog.Info("vault gateway listening", "address", cfg.ListenAddress, "node", cfg.NodeURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down vault gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
