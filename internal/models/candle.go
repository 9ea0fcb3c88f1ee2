package models

import "time"

// Candle is the stored form of a Bar in the market data cache.
type Candle struct {
	ID        uint    `gorm:"primaryKey"`
	Symbol    string  `gorm:"uniqueIndex:idx_candle_key;not null"`
	Timeframe string  `gorm:"uniqueIndex:idx_candle_key;not null"`
	OpenTime  int64   `gorm:"uniqueIndex:idx_candle_key;not null"` // unix milliseconds
	Open      float64 `gorm:"not null"`
	High      float64 `gorm:"not null"`
	Low       float64 `gorm:"not null"`
	Close     float64 `gorm:"not null"`
	Volume    float64
	CreatedAt time.Time
}

// NewCandle converts a bar for storage.
func NewCandle(symbol string, tf Timeframe, b Bar) Candle {
	return Candle{
		Symbol:    symbol,
		Timeframe: string(tf),
		OpenTime:  b.Timestamp.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

// Bar converts the stored candle back into a bar.
func (c Candle) Bar() Bar {
	return Bar{
		Timestamp: time.UnixMilli(c.OpenTime).UTC(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}
