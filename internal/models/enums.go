package models

import (
	"fmt"
	"strings"
	"time"
)

// OrderType is the entry type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

// ParseOrderType accepts the wire codes (MKT, LMT) and the long names.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MKT", "MARKET":
		return OrderTypeMarket, nil
	case "LMT", "LIMIT":
		return OrderTypeLimit, nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide is case-insensitive.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return OrderSideBuy, nil
	case "sell", "short":
		return OrderSideSell, nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// Sign is +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// TradeResult is how a filled order was closed.
type TradeResult string

const (
	TradeResultTakeProfit TradeResult = "tp"
	TradeResultStopLoss   TradeResult = "sl"
	TradeResultTimeout    TradeResult = "timeout"
)

// OutcomeStatus classifies what happened to a submitted order.
type OutcomeStatus string

const (
	// OutcomeFilled means the order was filled and closed; the outcome carries a Trade.
	OutcomeFilled OutcomeStatus = "filled"
	// OutcomeExpired means a limit order never traded at its price.
	OutcomeExpired OutcomeStatus = "expired"
	// OutcomeUnresolved means the position was opened but no exit was reached before the data ran out.
	OutcomeUnresolved OutcomeStatus = "unresolved"
)

// Timeframe is the duration covered by one bar.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Timeframes lists every supported timeframe from shortest to longest.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe2h, Timeframe4h, Timeframe1d,
}

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe accepts the canonical codes plus a few common aliases (m5, h1, d1).
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1m", "m1":
		return Timeframe1m, nil
	case "5m", "m5":
		return Timeframe5m, nil
	case "15m", "m15":
		return Timeframe15m, nil
	case "30m", "m30":
		return Timeframe30m, nil
	case "1h", "h1", "60m":
		return Timeframe1h, nil
	case "2h", "h2":
		return Timeframe2h, nil
	case "4h", "h4":
		return Timeframe4h, nil
	case "1d", "d1", "1day", "day":
		return Timeframe1d, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

// Duration returns the bar length, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe2h:
		return 2 * time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

func (tf Timeframe) Valid() bool { return tf.Duration() > 0 }
