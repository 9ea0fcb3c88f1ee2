package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trading-simulator-go/internal/binance"
	"trading-simulator-go/internal/config"
	"trading-simulator-go/internal/database"
	"trading-simulator-go/internal/logger"
	"trading-simulator-go/internal/models"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		configDir = pflag.String("config", "./configs", "directory holding config.yml")
		symbols   = pflag.StringSlice("symbols", []string{"BTCUSDT"}, "symbols to backfill")
		tfFlag    = pflag.String("timeframe", "1h", "bar timeframe (1m, 5m, 15m, 30m, 1h, 2h, 4h, 1d)")
		fromFlag  = pflag.String("from", time.Now().UTC().AddDate(0, 0, -30).Format(dateLayout), "first day, YYYY-MM-DD or RFC3339")
		toFlag    = pflag.String("to", time.Now().UTC().Format(dateLayout), "last day, YYYY-MM-DD or RFC3339")
		workers   = pflag.Int("workers", 2, "symbols fetched concurrently")
	)
	pflag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tf, err := models.ParseTimeframe(*tfFlag)
	if err != nil {
		log.Fatal("Invalid timeframe", zap.Error(err))
	}
	from, err := parseDate(*fromFlag, false)
	if err != nil {
		log.Fatal("Invalid --from", zap.Error(err))
	}
	to, err := parseDate(*toFlag, true)
	if err != nil {
		log.Fatal("Invalid --to", zap.Error(err))
	}

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := database.NewCandleStore(db)
	client := binance.NewRestClient(&cfg.Binance, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pool.New().WithContext(ctx).WithMaxGoroutines(max(*workers, 1))
	for _, symbol := range *symbols {
		symbol := strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		p.Go(func(ctx context.Context) error {
			bars, err := client.GetKlines(ctx, symbol, tf, from, to)
			if err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			inserted, err := store.SaveBars(ctx, symbol, tf, bars)
			if err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			total, err := store.Count(ctx, symbol, tf)
			if err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			log.Info("Backfilled candles",
				zap.String("symbol", symbol),
				zap.String("timeframe", tf.String()),
				zap.Int("fetched", len(bars)),
				zap.Int64("inserted", inserted),
				zap.Int64("stored", total),
			)
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		log.Fatal("Backfill failed", zap.Error(err))
	}
	log.Info("Backfill complete")
}

// parseDate accepts a plain date or a full RFC3339 timestamp. A plain date
// used as an upper bound covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
