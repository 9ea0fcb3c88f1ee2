package simulator

import (
	"context"
	"fmt"
	"time"

	"trading-simulator-go/internal/engine"
	"trading-simulator-go/internal/metrics"
	"trading-simulator-go/internal/models"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Simulator runs a batch of orders against one bar series and aggregates the trades.
type Simulator struct {
	matcher *engine.Matcher
	workers int
	logger  *zap.Logger
}

// New creates a Simulator. workers bounds how many orders are matched at once;
// 0 means GOMAXPROCS.
func New(matcher *engine.Matcher, workers int, logger *zap.Logger) *Simulator {
	return &Simulator{
		matcher: matcher,
		workers: workers,
		logger:  logger.Named("simulator"),
	}
}

// Simulate validates the whole request, matches every order independently and
// returns trades and outcomes in the order the orders were given.
//
// Any validation problem rejects the request before matching starts. Orders that
// expire or stay open are reported as outcomes. Numeric failures and context
// cancellation abort the run with no partial result.
func (s *Simulator) Simulate(ctx context.Context, series *models.BarSeries, orders []models.OrderSpec) (*models.SimulationResult, error) {
	if series == nil || series.Len() == 0 {
		return nil, models.NewValidationError("bars", "bar series is empty")
	}
	if err := ValidateOrders(series, orders); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	indices := make([]int, len(orders))
	for i := range indices {
		indices[i] = i
	}

	mapper := iter.Mapper[int, models.OrderOutcome]{MaxGoroutines: s.workers}
	outcomes, err := mapper.MapErr(indices, func(i *int) (models.OrderOutcome, error) {
		if err := ctx.Err(); err != nil {
			return models.OrderOutcome{}, err
		}
		return s.matcher.Match(*i, orders[*i], series)
	})
	if err != nil {
		s.logger.Error("Simulation aborted", zap.Error(err))
		return nil, fmt.Errorf("simulation aborted: %w", err)
	}

	result := &models.SimulationResult{
		Symbol:    series.Symbol(),
		Timeframe: series.Timeframe(),
		Trades:    make([]models.Trade, 0, len(outcomes)),
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case models.OutcomeFilled:
			result.Trades = append(result.Trades, *o.Trade)
		case models.OutcomeExpired:
			result.ExpiredCount++
		case models.OutcomeUnresolved:
			result.UnresolvedCount++
		}
	}
	result.Metrics = metrics.Aggregate(result.Trades)

	s.logger.Info("Simulation complete",
		zap.String("symbol", result.Symbol),
		zap.String("timeframe", result.Timeframe.String()),
		zap.Int("bars", series.Len()),
		zap.Int("orders", len(orders)),
		zap.Int("trades", len(result.Trades)),
		zap.Int("expired", result.ExpiredCount),
		zap.Int("unresolved", result.UnresolvedCount),
		zap.Float64("total_pnl", result.Metrics.TotalPnL),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// ValidateOrders checks every order against series and reports all problems together.
func ValidateOrders(series *models.BarSeries, orders []models.OrderSpec) error {
	var errs error
	for i, o := range orders {
		if err := validateOrder(series, o); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("orders[%d]: %w", i, err))
		}
	}
	return errs
}

func validateOrder(series *models.BarSeries, o models.OrderSpec) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.Timeframe != "" && o.Timeframe != series.Timeframe() {
		return models.NewValidationError("timeframe", "order timeframe %s does not match series timeframe %s",
			o.Timeframe, series.Timeframe())
	}
	start, err := o.Entry.Resolve(series)
	if err != nil {
		return err
	}
	if o.Type == models.OrderTypeMarket {
		return o.CheckEntryPrice(series.At(start).Open)
	}
	return nil
}
