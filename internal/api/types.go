package api

import (
	"fmt"
	"math"
	"time"

	"trading-simulator-go/internal/models"

	"go.uber.org/multierr"
)

// SimulateRequest is the body of POST /api/v1/simulate.
// When Bars is empty the series is loaded from the market data provider for [Start, End].
type SimulateRequest struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Start     time.Time      `json:"start,omitempty"`
	End       time.Time      `json:"end,omitempty"`
	Bars      []models.Bar   `json:"bars,omitempty"`
	Orders    []OrderRequest `json:"orders"`
}

// OrderRequest is the wire form of models.OrderSpec.
type OrderRequest struct {
	ID         string   `json:"id,omitempty"`
	Side       string   `json:"side"`
	Type       string   `json:"type"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`

	EntryIndex *int       `json:"entry_index,omitempty"`
	EntryTime  *time.Time `json:"entry_time,omitempty"`

	TimeoutBars     int    `json:"timeout_bars,omitempty"`
	TimeoutDuration string `json:"timeout_duration,omitempty"` // Go duration, e.g. "90m"
}

// SimulateResponse mirrors models.SimulationResult with JSON-safe metrics.
type SimulateResponse struct {
	Symbol          string                `json:"symbol"`
	Timeframe       string                `json:"timeframe"`
	BarCount        int                   `json:"bar_count"`
	Trades          []models.Trade        `json:"trades"`
	Outcomes        []models.OrderOutcome `json:"outcomes"`
	ExpiredCount    int                   `json:"expired_count"`
	UnresolvedCount int                   `json:"unresolved_count"`
	Metrics         MetricsResponse       `json:"metrics"`
}

// MetricsResponse replaces the profit factor with null when it is infinite,
// which encoding/json cannot represent.
type MetricsResponse struct {
	models.SimulationMetrics
	ProfitFactor *float64 `json:"profit_factor"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type InfoResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Docs    string `json:"docs"`
}

type TimeframeInfo struct {
	Code    string `json:"code"`
	Seconds int64  `json:"seconds"`
}

// timeframe parses the request timeframe.
func (r SimulateRequest) timeframe() (models.Timeframe, error) {
	tf, err := models.ParseTimeframe(r.Timeframe)
	if err != nil {
		return "", models.NewValidationError("timeframe", "unsupported timeframe %q", r.Timeframe)
	}
	return tf, nil
}

// orders converts every order, reporting all problems together.
func (r SimulateRequest) orders(tf models.Timeframe) ([]models.OrderSpec, error) {
	var errs error
	specs := make([]models.OrderSpec, len(r.Orders))
	for i, o := range r.Orders {
		spec, err := o.toSpec(tf)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("orders[%d]: %w", i, err))
			continue
		}
		specs[i] = spec
	}
	if errs != nil {
		return nil, errs
	}
	return specs, nil
}

func (o OrderRequest) toSpec(tf models.Timeframe) (models.OrderSpec, error) {
	var errs error

	side, err := models.ParseOrderSide(o.Side)
	if err != nil {
		errs = multierr.Append(errs, models.NewValidationError("side", "%v", err))
	}
	typ, err := models.ParseOrderType(o.Type)
	if err != nil {
		errs = multierr.Append(errs, models.NewValidationError("type", "%v", err))
	}

	var timeout models.Timeout
	timeout.Bars = o.TimeoutBars
	if o.TimeoutDuration != "" {
		d, err := time.ParseDuration(o.TimeoutDuration)
		if err != nil {
			errs = multierr.Append(errs, models.NewValidationError("timeout_duration", "%q is not a duration", o.TimeoutDuration))
		}
		timeout.Duration = d
	}
	if errs != nil {
		return models.OrderSpec{}, errs
	}

	entry := models.FirstBar()
	switch {
	case o.EntryIndex != nil && o.EntryTime != nil:
		entry = models.EntryPoint{Index: o.EntryIndex, Time: *o.EntryTime}
	case o.EntryIndex != nil:
		entry = models.AtIndex(*o.EntryIndex)
	case o.EntryTime != nil:
		entry = models.AtTime(*o.EntryTime)
	}

	return models.OrderSpec{
		ID:         o.ID,
		Side:       side,
		Type:       typ,
		LimitPrice: o.LimitPrice,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Entry:      entry,
		Timeout:    timeout,
		Timeframe:  tf,
	}, nil
}

func newSimulateResponse(res *models.SimulationResult, barCount int) SimulateResponse {
	trades := res.Trades
	if trades == nil {
		trades = []models.Trade{}
	}
	outcomes := res.Outcomes
	if outcomes == nil {
		outcomes = []models.OrderOutcome{}
	}

	return SimulateResponse{
		Symbol:          res.Symbol,
		Timeframe:       res.Timeframe.String(),
		BarCount:        barCount,
		Trades:          trades,
		Outcomes:        outcomes,
		ExpiredCount:    res.ExpiredCount,
		UnresolvedCount: res.UnresolvedCount,
		Metrics:         newMetricsResponse(res.Metrics),
	}
}

func newMetricsResponse(m models.SimulationMetrics) MetricsResponse {
	resp := MetricsResponse{SimulationMetrics: m}
	if !m.ProfitFactorInfinite && !math.IsInf(m.ProfitFactor, 0) && !math.IsNaN(m.ProfitFactor) {
		pf := m.ProfitFactor
		resp.ProfitFactor = &pf
	}
	return resp
}
