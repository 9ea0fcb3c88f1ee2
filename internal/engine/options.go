package engine

import (
	"fmt"
	"strings"

	"trading-simulator-go/internal/config"
	"trading-simulator-go/internal/models"
)

// TieBreak decides the exit when one bar touches both the stop-loss and the take-profit.
// Bars carry no intrabar path, so either choice is an assumption.
type TieBreak string

const (
	// TieBreakStopFirst assumes the adverse level traded first. This is the default.
	TieBreakStopFirst TieBreak = "stop_first"
	// TieBreakTargetFirst assumes the favourable level traded first.
	TieBreakTargetFirst TieBreak = "target_first"
)

// ParseTieBreak maps a config value to a TieBreak. Empty selects TieBreakStopFirst.
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stop_first", "sl_first", "conservative":
		return TieBreakStopFirst, nil
	case "target_first", "tp_first", "optimistic":
		return TieBreakTargetFirst, nil
	}
	return "", fmt.Errorf("unknown tie break policy %q", s)
}

// Options are the engine-wide tolerances. The zero value is usable: exact price
// comparison, no default timeout, no scan limit, stop-first tie break.
type Options struct {
	// PriceEpsilon widens every touch test by this absolute amount.
	PriceEpsilon float64
	// DefaultTimeout applies to orders that carry no timeout of their own.
	DefaultTimeout models.Timeout
	// MaxScanBars caps the bars examined in each phase (entry, exit) of one order. 0 means no cap.
	MaxScanBars int
	TieBreak    TieBreak
}

// OptionsFromConfig converts the loaded engine configuration.
func OptionsFromConfig(cfg config.Engine) (Options, error) {
	tb, err := ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return Options{}, err
	}
	if cfg.PriceEpsilon < 0 {
		return Options{}, fmt.Errorf("price epsilon must not be negative")
	}
	return Options{
		PriceEpsilon:   cfg.PriceEpsilon,
		DefaultTimeout: models.Timeout{Bars: cfg.DefaultTimeoutBars},
		MaxScanBars:    cfg.MaxScanBars,
		TieBreak:       tb,
	}, nil
}
