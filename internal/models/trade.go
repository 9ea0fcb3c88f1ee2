package models

import "time"

// Trade is a filled and closed order. It is only produced by the matching engine.
type Trade struct {
	OrderID    string      `json:"order_id,omitempty"`
	OrderIndex int         `json:"order_index"`
	Side       OrderSide   `json:"side"`
	Type       OrderType   `json:"type"`
	EntryIndex int         `json:"entry_index"`
	EntryTime  time.Time   `json:"entry_time"`
	EntryPrice float64     `json:"entry_price"`
	ExitIndex  int         `json:"exit_index"`
	ExitTime   time.Time   `json:"exit_time"`
	ExitPrice  float64     `json:"exit_price"`
	Result     TradeResult `json:"result"`
	PnL        float64     `json:"pnl"`
	PnLPercent float64     `json:"pnl_percent"` // fraction of entry price, 0.07 == 7%
	BarsHeld   int         `json:"bars_held"`
}

// OrderOutcome is what happened to one submitted order.
// Trade is set only for OutcomeFilled; the entry fields are set for OutcomeFilled and OutcomeUnresolved.
type OrderOutcome struct {
	OrderIndex int           `json:"order_index"`
	OrderID    string        `json:"order_id,omitempty"`
	Status     OutcomeStatus `json:"status"`
	Trade      *Trade        `json:"trade,omitempty"`
	EntryIndex *int          `json:"entry_index,omitempty"`
	EntryTime  *time.Time    `json:"entry_time,omitempty"`
	EntryPrice *float64      `json:"entry_price,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// SimulationMetrics summarises the closed trades of one run.
type SimulationMetrics struct {
	TotalTrades     int `json:"total_trades"`
	WinningTrades   int `json:"winning_trades"`
	LosingTrades    int `json:"losing_trades"`
	BreakevenTrades int `json:"breakeven_trades"`

	WinRate     float64 `json:"win_rate"`
	AverageWin  float64 `json:"average_win"`
	AverageLoss float64 `json:"average_loss"` // negative or zero
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"` // negative or zero
	AveragePnL  float64 `json:"average_pnl"`

	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPercent float64 `json:"total_pnl_percent"`
	GrossProfit     float64 `json:"gross_profit"`
	GrossLoss       float64 `json:"gross_loss"` // negative or zero

	// ProfitFactor is +Inf when there are winners but no losers; ProfitFactorInfinite flags that case.
	ProfitFactor         float64 `json:"profit_factor"`
	ProfitFactorInfinite bool    `json:"profit_factor_infinite"`

	MaxDrawdown          float64 `json:"max_drawdown"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`

	TakeProfitCount int     `json:"take_profit_count"`
	StopLossCount   int     `json:"stop_loss_count"`
	TimeoutCount    int     `json:"timeout_count"`
	AverageBarsHeld float64 `json:"average_bars_held"`
}

// SimulationResult is the full answer to one simulation request.
type SimulationResult struct {
	Symbol          string            `json:"symbol,omitempty"`
	Timeframe       Timeframe         `json:"timeframe"`
	Trades          []Trade           `json:"trades"`
	Outcomes        []OrderOutcome    `json:"outcomes"`
	ExpiredCount    int               `json:"expired_count"`
	UnresolvedCount int               `json:"unresolved_count"`
	Metrics         SimulationMetrics `json:"metrics"`
}
