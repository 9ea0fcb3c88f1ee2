package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trading-simulator-go/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabase opens the candle cache and migrates its schema.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Every pooled connection to an in-memory sqlite database sees its own empty database.
	if strings.Contains(dsn, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates or updates the tables. Cached candles are kept across restarts.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Candle{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// CandleStore persists bars per symbol and timeframe.
type CandleStore struct {
	db *gorm.DB
}

// NewCandleStore creates a store on an opened database.
func NewCandleStore(db *gorm.DB) *CandleStore {
	return &CandleStore{db: db}
}

// SaveBars stores bars, skipping ones already present. It returns how many rows were inserted.
func (s *CandleStore) SaveBars(ctx context.Context, symbol string, tf models.Timeframe, bars []models.Bar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	candles := make([]models.Candle, len(bars))
	for i, b := range bars {
		candles[i] = models.NewCandle(symbol, tf, b)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&candles, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to save %d candles for %s %s: %w", len(bars), symbol, tf, res.Error)
	}
	return res.RowsAffected, nil
}

// LoadBars returns the stored bars with from <= open time <= to, oldest first.
func (s *CandleStore) LoadBars(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	var candles []models.Candle
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND open_time BETWEEN ? AND ?",
			symbol, string(tf), from.UnixMilli(), to.UnixMilli()).
		Order("open_time asc").
		Find(&candles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load candles for %s %s: %w", symbol, tf, err)
	}

	bars := make([]models.Bar, len(candles))
	for i, c := range candles {
		bars[i] = c.Bar()
	}
	return bars, nil
}

// Count returns how many candles are stored for symbol and timeframe.
func (s *CandleStore) Count(ctx context.Context, symbol string, tf models.Timeframe) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Candle{}).
		Where("symbol = ? AND timeframe = ?", symbol, string(tf)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count candles for %s %s: %w", symbol, tf, err)
	}
	return n, nil
}
