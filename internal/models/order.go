package models

import (
	"time"

	"go.uber.org/multierr"
)

// EntryPoint designates the bar an order becomes active on. The zero value means the first bar.
type EntryPoint struct {
	Index *int      `json:"index,omitempty"`
	Time  time.Time `json:"time,omitempty"`
}

// FirstBar activates the order on the first bar of the series.
func FirstBar() EntryPoint { return EntryPoint{} }

// AtIndex activates the order on bar i.
func AtIndex(i int) EntryPoint { return EntryPoint{Index: &i} }

// AtTime activates the order on the first bar at or after t.
func AtTime(t time.Time) EntryPoint { return EntryPoint{Time: t} }

// Resolve maps the entry point onto a bar index of s.
// A time before the series start resolves to the first bar.
func (e EntryPoint) Resolve(s *BarSeries) (int, error) {
	switch {
	case e.Index != nil:
		if *e.Index < 0 || *e.Index >= s.Len() {
			return 0, invalid("entry.index", "index %d outside series of %d bars", *e.Index, s.Len())
		}
		return *e.Index, nil
	case !e.Time.IsZero():
		i, ok := s.IndexAtOrAfter(e.Time)
		if !ok {
			return 0, invalid("entry.time", "%s is after the last bar (%s)",
				e.Time.UTC().Format(time.RFC3339), s.End().Format(time.RFC3339))
		}
		return i, nil
	}
	return 0, nil
}

// Timeout bounds how long an order may wait for a fill and how long a position may stay open.
// Only one of Bars and Duration may be set; the zero value means no timeout.
type Timeout struct {
	Bars     int           `json:"bars,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (t Timeout) IsZero() bool { return t.Bars == 0 && t.Duration == 0 }

// Price is a helper for filling the optional price fields of OrderSpec.
func Price(p float64) *float64 { return &p }

// OrderSpec describes one order to simulate.
type OrderSpec struct {
	ID         string     `json:"id,omitempty"`
	Side       OrderSide  `json:"side"`
	Type       OrderType  `json:"type"`
	LimitPrice *float64   `json:"limit_price,omitempty"`
	StopLoss   *float64   `json:"stop_loss,omitempty"`
	TakeProfit *float64   `json:"take_profit,omitempty"`
	Entry      EntryPoint `json:"entry"`
	Timeout    Timeout    `json:"timeout"`
	// Timeframe is optional. When set it must match the series the order is run against.
	Timeframe Timeframe `json:"timeframe,omitempty"`
}

// Validate reports every structural problem of the order at once.
func (o OrderSpec) Validate() error {
	var err error

	if !o.Side.Valid() {
		err = multierr.Append(err, invalid("side", "unknown side %q", o.Side))
	}
	if !o.Type.Valid() {
		err = multierr.Append(err, invalid("type", "unknown order type %q", o.Type))
	}
	if o.Timeframe != "" && !o.Timeframe.Valid() {
		err = multierr.Append(err, invalid("timeframe", "unsupported timeframe %q", o.Timeframe))
	}

	switch o.Type {
	case OrderTypeLimit:
		if o.LimitPrice == nil {
			err = multierr.Append(err, invalid("limit_price", "required for limit orders"))
		}
	case OrderTypeMarket:
		if o.LimitPrice != nil {
			err = multierr.Append(err, invalid("limit_price", "not allowed on market orders"))
		}
	}

	err = multierr.Append(err, checkPrice("limit_price", o.LimitPrice))
	err = multierr.Append(err, checkPrice("stop_loss", o.StopLoss))
	err = multierr.Append(err, checkPrice("take_profit", o.TakeProfit))

	if o.Entry.Index != nil && !o.Entry.Time.IsZero() {
		err = multierr.Append(err, invalid("entry", "set either index or time, not both"))
	}
	if o.Entry.Index != nil && *o.Entry.Index < 0 {
		err = multierr.Append(err, invalid("entry.index", "must not be negative"))
	}

	switch {
	case o.Timeout.Bars < 0:
		err = multierr.Append(err, invalid("timeout.bars", "must not be negative"))
	case o.Timeout.Duration < 0:
		err = multierr.Append(err, invalid("timeout.duration", "must not be negative"))
	case o.Timeout.Bars > 0 && o.Timeout.Duration > 0:
		err = multierr.Append(err, invalid("timeout", "set either bars or duration, not both"))
	}

	if err != nil {
		return err
	}
	return o.checkLevels()
}

// checkLevels enforces stop < target for buys (the mirror for sells) and, for
// limit orders, that both levels sit on the correct side of the limit price.
func (o OrderSpec) checkLevels() error {
	var err error
	below, above, belowName, aboveName := o.bracket()
	if below != nil && above != nil && *below >= *above {
		err = multierr.Append(err, invalid(belowName, "%v must be below %s %v for a %s order",
			*below, aboveName, *above, o.Side))
	}
	if o.Type == OrderTypeLimit && o.LimitPrice != nil {
		err = multierr.Append(err, o.checkAgainst(*o.LimitPrice, "limit price"))
	}
	return err
}

// CheckEntryPrice verifies the levels against a known entry price, such as the
// open of the bar a market order fills on.
func (o OrderSpec) CheckEntryPrice(price float64) error {
	return o.checkAgainst(price, "entry price")
}

func (o OrderSpec) checkAgainst(ref float64, refName string) error {
	var err error
	below, above, belowName, aboveName := o.bracket()
	if below != nil && *below >= ref {
		err = multierr.Append(err, invalid(belowName, "%v must be below %s %v for a %s order",
			*below, refName, ref, o.Side))
	}
	if above != nil && *above <= ref {
		err = multierr.Append(err, invalid(aboveName, "%v must be above %s %v for a %s order",
			*above, refName, ref, o.Side))
	}
	return err
}

// bracket returns the level that must sit below the entry and the one that must sit above it.
func (o OrderSpec) bracket() (below, above *float64, belowName, aboveName string) {
	if o.Side == OrderSideSell {
		return o.TakeProfit, o.StopLoss, "take_profit", "stop_loss"
	}
	return o.StopLoss, o.TakeProfit, "stop_loss", "take_profit"
}

func checkPrice(field string, p *float64) error {
	if p == nil {
		return nil
	}
	if !isFinite(*p) || *p <= 0 {
		return invalid(field, "must be a positive finite number, got %v", *p)
	}
	return nil
}
