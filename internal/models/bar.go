package models

import (
	"math"
	"sort"
	"time"
)

// Bar is one OHLCV candle. Timestamp is the bar's open time.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the price invariants of a single bar.
func (b Bar) Validate() error {
	for _, p := range []struct {
		name  string
		value float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
		if !isFinite(p.value) || p.value <= 0 {
			return invalid(p.name, "price must be a positive finite number, got %v", p.value)
		}
	}
	if !isFinite(b.Volume) || b.Volume < 0 {
		return invalid("volume", "must be a non-negative finite number, got %v", b.Volume)
	}
	if b.Low > b.High {
		return invalid("low", "low %v is above high %v", b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High {
		return invalid("open", "open %v outside [%v, %v]", b.Open, b.Low, b.High)
	}
	if b.Close < b.Low || b.Close > b.High {
		return invalid("close", "close %v outside [%v, %v]", b.Close, b.Low, b.High)
	}
	return nil
}

// BarSeries is an immutable, chronologically ordered run of bars sharing one timeframe.
// It is safe for concurrent readers.
type BarSeries struct {
	symbol    string
	timeframe Timeframe
	bars      []Bar
}

// NewBarSeries validates bars and takes a private copy of them.
//
// Timestamps must be strictly increasing and at least one timeframe apart. Gaps
// (weekends, halts) are allowed.
func NewBarSeries(symbol string, tf Timeframe, bars []Bar) (*BarSeries, error) {
	if !tf.Valid() {
		return nil, invalid("timeframe", "unsupported timeframe %q", tf)
	}
	if len(bars) == 0 {
		return nil, invalid("bars", "bar series is empty")
	}

	step := tf.Duration()
	owned := make([]Bar, len(bars))
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return nil, indexed("bars", i, err)
		}
		if b.Timestamp.IsZero() {
			return nil, invalid(fieldIndex("bars", i)+".timestamp", "timestamp is missing")
		}
		if i > 0 {
			prev := bars[i-1].Timestamp
			switch {
			case b.Timestamp.Equal(prev):
				return nil, invalid(fieldIndex("bars", i)+".timestamp", "duplicate timestamp %s", b.Timestamp.Format(time.RFC3339))
			case b.Timestamp.Before(prev):
				return nil, invalid(fieldIndex("bars", i)+".timestamp", "timestamps are not increasing (%s after %s)",
					b.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339))
			case b.Timestamp.Sub(prev) < step:
				return nil, invalid(fieldIndex("bars", i)+".timestamp", "bars are %s apart, less than one %s bar",
					b.Timestamp.Sub(prev), tf)
			}
		}
		b.Timestamp = b.Timestamp.UTC()
		owned[i] = b
	}

	return &BarSeries{symbol: symbol, timeframe: tf, bars: owned}, nil
}

func (s *BarSeries) Symbol() string       { return s.symbol }
func (s *BarSeries) Timeframe() Timeframe { return s.timeframe }
func (s *BarSeries) Len() int             { return len(s.bars) }

// At returns the bar at index i. It panics when i is out of range, like a slice.
func (s *BarSeries) At(i int) Bar { return s.bars[i] }

// Start is the timestamp of the first bar.
func (s *BarSeries) Start() time.Time { return s.bars[0].Timestamp }

// End is the timestamp of the last bar.
func (s *BarSeries) End() time.Time { return s.bars[len(s.bars)-1].Timestamp }

// Bars returns a copy of the underlying bars.
func (s *BarSeries) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// IndexAtOrAfter returns the first bar whose timestamp is not before t.
// The second result is false when t is after the last bar.
func (s *BarSeries) IndexAtOrAfter(t time.Time) (int, bool) {
	i := sort.Search(len(s.bars), func(i int) bool {
		return !s.bars[i].Timestamp.Before(t)
	})
	return i, i < len(s.bars)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
