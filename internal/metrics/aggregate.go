// Package metrics turns the trades of one simulation run into performance statistics.
package metrics

import (
	"math"
	"sort"

	"trading-simulator-go/internal/models"

	"github.com/shopspring/decimal"
)

// Aggregate computes the metrics of a set of closed trades. It never fails:
// an empty input yields zero metrics.
//
// Order-dependent figures (drawdown, losing streaks) walk the trades by exit
// time, then exit bar, then order index, so the result does not depend on the
// order trades are passed in.
func Aggregate(trades []models.Trade) models.SimulationMetrics {
	var m models.SimulationMetrics
	n := len(trades)
	if n == 0 {
		return m
	}

	sorted := chronological(trades)

	var (
		total, grossProfit, grossLoss, pctSum decimal.Decimal
		cum, peak, maxDD                      decimal.Decimal
		barsHeld                              int
		streak                                int
	)

	for _, t := range sorted {
		pnl := decimal.NewFromFloat(t.PnL)
		total = total.Add(pnl)
		pctSum = pctSum.Add(decimal.NewFromFloat(t.PnLPercent))
		barsHeld += t.BarsHeld

		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossProfit = grossProfit.Add(pnl)
			m.LargestWin = math.Max(m.LargestWin, t.PnL)
			streak = 0
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss = grossLoss.Add(pnl)
			m.LargestLoss = math.Min(m.LargestLoss, t.PnL)
			streak++
			if streak > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = streak
			}
		default:
			m.BreakevenTrades++
			streak = 0
		}

		switch t.Result {
		case models.TradeResultTakeProfit:
			m.TakeProfitCount++
		case models.TradeResultStopLoss:
			m.StopLossCount++
		case models.TradeResultTimeout:
			m.TimeoutCount++
		}

		// Drawdown is measured on the cumulative PnL curve, which starts flat at zero.
		cum = cum.Add(pnl)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := peak.Sub(cum); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}

	count := decimal.NewFromInt(int64(n))
	m.TotalTrades = n
	m.WinRate = float64(m.WinningTrades) / float64(n)
	m.TotalPnL = total.InexactFloat64()
	m.TotalPnLPercent = pctSum.InexactFloat64()
	m.AveragePnL = total.Div(count).InexactFloat64()
	m.GrossProfit = grossProfit.InexactFloat64()
	m.GrossLoss = grossLoss.InexactFloat64()
	m.MaxDrawdown = maxDD.InexactFloat64()
	m.AverageBarsHeld = float64(barsHeld) / float64(n)

	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades))).InexactFloat64()
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(m.LosingTrades))).InexactFloat64()
	}

	m.ProfitFactor, m.ProfitFactorInfinite = profitFactor(grossProfit, grossLoss)
	return m
}

// profitFactor is gross profit over absolute gross loss. With no losses it is
// +Inf if anything was won and 0 otherwise.
func profitFactor(grossProfit, grossLoss decimal.Decimal) (float64, bool) {
	if grossLoss.IsZero() {
		if grossProfit.IsPositive() {
			return math.Inf(1), true
		}
		return 0, false
	}
	return grossProfit.Div(grossLoss.Abs()).InexactFloat64(), false
}

func chronological(trades []models.Trade) []models.Trade {
	sorted := make([]models.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ExitTime.Equal(b.ExitTime) {
			return a.ExitTime.Before(b.ExitTime)
		}
		if a.ExitIndex != b.ExitIndex {
			return a.ExitIndex < b.ExitIndex
		}
		return a.OrderIndex < b.OrderIndex
	})
	return sorted
}
