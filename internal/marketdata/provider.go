package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-simulator-go/internal/binance"
	"trading-simulator-go/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable marks failures of the upstream market data source.
	ErrUnavailable = errors.New("market data unavailable")
	// ErrNoData is returned when neither the cache nor the exchange has bars for the range.
	ErrNoData = errors.New("no market data for range")
)

// Provider supplies validated bar series.
type Provider interface {
	Series(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) (*models.BarSeries, error)
}

// CandleStore is the persistence the cached provider reads through.
type CandleStore interface {
	SaveBars(ctx context.Context, symbol string, tf models.Timeframe, bars []models.Bar) (int64, error)
	LoadBars(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error)
}

// CachedProvider serves bars from the candle store and backfills missing
// ranges from the exchange.
type CachedProvider struct {
	store  CandleStore
	client binance.KlineClient
	logger *zap.Logger
	now    func() time.Time
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider creates a provider. client may be nil, in which case only
// cached bars are served.
func NewCachedProvider(store CandleStore, client binance.KlineClient, logger *zap.Logger) *CachedProvider {
	return &CachedProvider{
		store:  store,
		client: client,
		logger: logger.Named("marketdata"),
		now:    time.Now,
	}
}

func (p *CachedProvider) Series(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) (*models.BarSeries, error) {
	if symbol == "" {
		return nil, models.NewValidationError("symbol", "must not be empty")
	}
	if !tf.Valid() {
		return nil, models.NewValidationError("timeframe", "unsupported timeframe %q", tf)
	}
	if from.IsZero() || to.IsZero() {
		return nil, models.NewValidationError("start", "start and end are required when no bars are supplied")
	}
	if to.Before(from) {
		return nil, models.NewValidationError("end", "%s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	bars, err := p.store.LoadBars(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached bars: %w", err)
	}

	if !p.covers(bars, tf, from, to) && p.client != nil {
		p.logger.Info("Cache miss, fetching klines",
			zap.String("symbol", symbol),
			zap.String("timeframe", tf.String()),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Int("cached", len(bars)),
		)
		fetched, err := p.client.GetKlines(ctx, symbol, tf, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		inserted, err := p.store.SaveBars(ctx, symbol, tf, fetched)
		if err != nil {
			return nil, fmt.Errorf("failed to cache bars: %w", err)
		}
		p.logger.Debug("Cached klines", zap.Int("fetched", len(fetched)), zap.Int64("inserted", inserted))

		if bars, err = p.store.LoadBars(ctx, symbol, tf, from, to); err != nil {
			return nil, fmt.Errorf("failed to load cached bars: %w", err)
		}
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, tf)
	}

	series, err := models.NewBarSeries(symbol, tf, bars)
	if err != nil {
		return nil, fmt.Errorf("%w: stored bars are inconsistent: %v", ErrUnavailable, err)
	}
	return series, nil
}

// covers reports whether bars span the requested range at both ends. Interior
// gaps are accepted as genuine gaps in trading. When the range reaches the
// present, the bar still forming is never cached, so one more step of slack is
// allowed at the end.
func (p *CachedProvider) covers(bars []models.Bar, tf models.Timeframe, from, to time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	step := tf.Duration()
	if bars[0].Timestamp.Sub(from) >= step {
		return false
	}
	limit, slack := to, step
	if now := p.now(); now.Before(limit) {
		limit, slack = now, 2*step
	}
	return limit.Sub(bars[len(bars)-1].Timestamp) < slack
}
