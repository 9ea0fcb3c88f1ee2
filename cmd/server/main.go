package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-simulator-go/internal/api"
	"trading-simulator-go/internal/binance"
	"trading-simulator-go/internal/config"
	"trading-simulator-go/internal/database"
	"trading-simulator-go/internal/engine"
	"trading-simulator-go/internal/logger"
	"trading-simulator-go/internal/marketdata"
	"trading-simulator-go/internal/observability"
	"trading-simulator-go/internal/simulator"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restClient := binance.NewRestClient(&cfg.Binance, log)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := restClient.GetServerTime(pingCtx); err != nil {
		// Cached candles and inline bars still work without the exchange.
		log.Warn("Binance API unreachable, serving cached data only until it recovers", zap.Error(err))
	} else {
		log.Info("Successfully connected to Binance API.")
	}
	cancel()

	opts, err := engine.OptionsFromConfig(cfg.Engine)
	if err != nil {
		log.Fatal("Invalid engine configuration", zap.Error(err))
	}
	sim := simulator.New(engine.NewMatcher(opts, log), cfg.Engine.Workers, log)
	provider := marketdata.NewCachedProvider(database.NewCandleStore(db), restClient, log)

	server := api.NewServer(cfg.API, sim, provider, observability.NewMetrics(""), log)
	server.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Simulator has been shut down.")
}
