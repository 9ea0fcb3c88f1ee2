package engine

import (
	"errors"
	"fmt"
	"math"

	"trading-simulator-go/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNumeric is returned when price arithmetic leaves the finite range.
// It is fatal for the whole simulation.
var ErrNumeric = errors.New("non-finite arithmetic result")

// computePnL returns the per-unit profit and the profit as a fraction of the entry price.
// Decimal arithmetic keeps 107 - 100.1 at 6.9 instead of 6.900000000000006.
func computePnL(side models.OrderSide, entryPrice, exitPrice float64) (float64, float64, error) {
	if !finite(entryPrice) || !finite(exitPrice) || entryPrice <= 0 {
		return 0, 0, fmt.Errorf("%w: entry %v exit %v", ErrNumeric, entryPrice, exitPrice)
	}

	entry := decimal.NewFromFloat(entryPrice)
	pnl := decimal.NewFromFloat(exitPrice).Sub(entry).Mul(decimal.NewFromFloat(side.Sign()))
	pct := pnl.Div(entry)

	pnlF, pctF := pnl.InexactFloat64(), pct.InexactFloat64()
	if !finite(pnlF) || !finite(pctF) {
		return 0, 0, fmt.Errorf("%w: pnl %s", ErrNumeric, pnl)
	}
	return pnlF, pctF, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
