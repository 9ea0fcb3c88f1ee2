package engine

import (
	"trading-simulator-go/internal/models"

	"go.uber.org/zap"
)

// Matcher decides how a single order executes against a bar series.
// It holds no per-order state and is safe for concurrent use.
type Matcher struct {
	opts   Options
	logger *zap.Logger
}

// NewMatcher creates a matcher with the given options.
func NewMatcher(opts Options, logger *zap.Logger) *Matcher {
	if opts.TieBreak == "" {
		opts.TieBreak = TieBreakStopFirst
	}
	return &Matcher{
		opts:   opts,
		logger: logger.Named("matcher"),
	}
}

type fill struct {
	index int
	price float64
}

type exit struct {
	index  int
	price  float64
	result models.TradeResult
}

// Match replays order (the index-th order of a batch) against series.
//
// Entry: a market order fills at the open of its entry bar, and its levels must
// bracket that open. A limit order fills at
// exactly its limit price on the first bar, the entry bar included, whose range
// contains that price.
//
// Exit: bars strictly after the fill bar are checked for the stop-loss and
// take-profit levels; a touch exits at the level price. A bar touching both is
// settled by the tie-break policy. If the timeout bar is reached with no touch,
// the trade closes at that bar's close.
//
// Expired and unresolved orders are returned as outcomes, not errors. Errors are
// either validation errors or ErrNumeric.
func (m *Matcher) Match(index int, order models.OrderSpec, series *models.BarSeries) (models.OrderOutcome, error) {
	outcome := models.OrderOutcome{OrderIndex: index, OrderID: order.ID}

	if err := order.Validate(); err != nil {
		return outcome, err
	}
	if order.Timeframe != "" && order.Timeframe != series.Timeframe() {
		return outcome, models.NewValidationError("timeframe", "order timeframe %s does not match series timeframe %s",
			order.Timeframe, series.Timeframe())
	}
	start, err := order.Entry.Resolve(series)
	if err != nil {
		return outcome, err
	}
	if order.Type == models.OrderTypeMarket {
		if err := order.CheckEntryPrice(series.At(start).Open); err != nil {
			return outcome, err
		}
	}

	timeout := order.Timeout
	if timeout.IsZero() {
		timeout = m.opts.DefaultTimeout
	}

	l := m.logger.With(zap.Int("order_index", index), zap.String("order_id", order.ID))

	entry, reason, ok := m.fillEntry(order, series, start, timeout)
	if !ok {
		l.Debug("Order expired", zap.Int("start", start), zap.String("reason", reason))
		outcome.Status = models.OutcomeExpired
		outcome.Reason = reason
		return outcome, nil
	}

	entryTime := series.At(entry.index).Timestamp
	entryIndex, entryPrice := entry.index, entry.price
	outcome.EntryIndex = &entryIndex
	outcome.EntryTime = &entryTime
	outcome.EntryPrice = &entryPrice

	out, reason, ok := m.resolveExit(order, series, entry, timeout)
	if !ok {
		l.Debug("Position unresolved", zap.Int("entry_index", entry.index), zap.String("reason", reason))
		outcome.Status = models.OutcomeUnresolved
		outcome.Reason = reason
		return outcome, nil
	}

	pnl, pnlPct, err := computePnL(order.Side, entry.price, out.price)
	if err != nil {
		return outcome, err
	}

	trade := models.Trade{
		OrderID:    order.ID,
		OrderIndex: index,
		Side:       order.Side,
		Type:       order.Type,
		EntryIndex: entry.index,
		EntryTime:  entryTime,
		EntryPrice: entry.price,
		ExitIndex:  out.index,
		ExitTime:   series.At(out.index).Timestamp,
		ExitPrice:  out.price,
		Result:     out.result,
		PnL:        pnl,
		PnLPercent: pnlPct,
		BarsHeld:   out.index - entry.index,
	}
	l.Debug("Order filled",
		zap.Int("entry_index", trade.EntryIndex),
		zap.Float64("entry_price", trade.EntryPrice),
		zap.Int("exit_index", trade.ExitIndex),
		zap.Float64("exit_price", trade.ExitPrice),
		zap.String("result", string(trade.Result)),
		zap.Float64("pnl", trade.PnL),
	)

	outcome.Status = models.OutcomeFilled
	outcome.Trade = &trade
	return outcome, nil
}

func (m *Matcher) fillEntry(order models.OrderSpec, series *models.BarSeries, start int, timeout models.Timeout) (fill, string, bool) {
	if order.Type == models.OrderTypeMarket {
		return fill{index: start, price: series.At(start).Open}, "", true
	}

	limit := *order.LimitPrice
	last, timeoutBar, capped := m.scanWindow(series, start, start, timeout)
	for i := start; i <= last; i++ {
		if m.contains(series.At(i), limit) {
			return fill{index: i, price: limit}, "", true
		}
	}

	switch {
	case timeoutBar:
		return fill{}, "entry timeout reached before the limit price traded", false
	case capped:
		return fill{}, "scan limit reached before the limit price traded", false
	}
	return fill{}, "limit price never traded before the series ended", false
}

func (m *Matcher) resolveExit(order models.OrderSpec, series *models.BarSeries, entry fill, timeout models.Timeout) (exit, string, bool) {
	first := entry.index + 1
	last, timeoutBar, capped := m.scanWindow(series, entry.index, first, timeout)
	for i := first; i <= last; i++ {
		bar := series.At(i)
		if result, price, ok := m.touch(order, bar); ok {
			return exit{index: i, price: price, result: result}, "", true
		}
		if timeoutBar && i == last {
			return exit{index: i, price: bar.Close, result: models.TradeResultTimeout}, "", true
		}
	}

	if capped {
		return exit{}, "scan limit reached with the position still open", false
	}
	return exit{}, "no exit level or timeout reached before the series ended", false
}

// scanWindow returns the last index to examine when scanning forward from first.
// timeoutBar reports that last is the bar on which the timeout elapses; capped
// reports that the scan limit cut the window short.
func (m *Matcher) scanWindow(series *models.BarSeries, anchor, first int, timeout models.Timeout) (last int, timeoutBar, capped bool) {
	last = series.Len() - 1
	if t, ok := timeoutIndex(series, anchor, timeout); ok && t <= last {
		last, timeoutBar = t, true
	}
	if m.opts.MaxScanBars > 0 {
		if limit := first + m.opts.MaxScanBars - 1; limit < last {
			last, timeoutBar, capped = limit, false, true
		}
	}
	return last, timeoutBar, capped
}

// timeoutIndex finds the bar on which timeout elapses when counted from anchor.
// For a bar count that is anchor+N; for a duration it is the first bar at least
// that long after the anchor bar, so gaps in the data count as elapsed time.
func timeoutIndex(series *models.BarSeries, anchor int, timeout models.Timeout) (int, bool) {
	switch {
	case timeout.Bars > 0:
		i := anchor + timeout.Bars
		return i, i < series.Len()
	case timeout.Duration > 0:
		return series.IndexAtOrAfter(series.At(anchor).Timestamp.Add(timeout.Duration))
	}
	return 0, false
}

// touch reports whether bar reaches the order's stop-loss or take-profit.
// Trading through a level counts as touching it.
func (m *Matcher) touch(order models.OrderSpec, bar models.Bar) (models.TradeResult, float64, bool) {
	eps := m.opts.PriceEpsilon
	buy := order.Side == models.OrderSideBuy

	var stopHit, targetHit bool
	if order.StopLoss != nil {
		if buy {
			stopHit = bar.Low <= *order.StopLoss+eps
		} else {
			stopHit = bar.High >= *order.StopLoss-eps
		}
	}
	if order.TakeProfit != nil {
		if buy {
			targetHit = bar.High >= *order.TakeProfit-eps
		} else {
			targetHit = bar.Low <= *order.TakeProfit+eps
		}
	}

	switch {
	case stopHit && targetHit:
		if m.opts.TieBreak == TieBreakTargetFirst {
			return models.TradeResultTakeProfit, *order.TakeProfit, true
		}
		return models.TradeResultStopLoss, *order.StopLoss, true
	case stopHit:
		return models.TradeResultStopLoss, *order.StopLoss, true
	case targetHit:
		return models.TradeResultTakeProfit, *order.TakeProfit, true
	}
	return "", 0, false
}

func (m *Matcher) contains(bar models.Bar, price float64) bool {
	eps := m.opts.PriceEpsilon
	return bar.Low-eps <= price && price <= bar.High+eps
}
