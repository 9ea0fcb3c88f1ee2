package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	API      API      `mapstructure:"api"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
	Binance  Binance  `mapstructure:"binance"`
	Engine   Engine   `mapstructure:"engine"`
}

// API holds the configuration for the HTTP server.
type API struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Debug       bool     `mapstructure:"debug"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr is the listen address for the HTTP server.
func (a API) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database holds the configuration for the candle cache.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Binance holds the configuration for the market data API.
type Binance struct {
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	PageLimit      int     `mapstructure:"page_limit"`
}

// Engine holds the numeric tolerances and defaults of the matching engine.
type Engine struct {
	PriceEpsilon       float64 `mapstructure:"price_epsilon"`
	DefaultTimeoutBars int     `mapstructure:"default_timeout_bars"`
	MaxScanBars        int     `mapstructure:"max_scan_bars"`
	TieBreak           string  `mapstructure:"tie_break"`
	Workers            int     `mapstructure:"workers"`
}

// EnvFileVar names the environment variable pointing at an optional .env file.
const EnvFileVar = "ENV"

// LoadConfig reads configs/config.yml from path, an optional .env file and environment variables.
// Nested keys are addressed with a double underscore, e.g. API__PORT=9000.
func LoadConfig(path string) (Config, error) {
	var config Config

	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		envFile = filepath.Join(path, ".env")
	}
	// The env file is optional.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, config.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8002)
	v.SetDefault("api.debug", true)
	v.SetDefault("api.cors_origins", []string{"http://localhost:4200"})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("database.dsn", "simulator.db")

	v.SetDefault("binance.base_url", "https://api.binance.com/api/v3")
	v.SetDefault("binance.rate_limit", 10) // requests per second
	v.SetDefault("binance.rate_limit_burst", 5)
	v.SetDefault("binance.page_limit", 1000)

	v.SetDefault("engine.price_epsilon", 1e-9)
	v.SetDefault("engine.default_timeout_bars", 0)
	v.SetDefault("engine.max_scan_bars", 0)
	v.SetDefault("engine.tie_break", "stop_first")
	v.SetDefault("engine.workers", 0)
}

// Validate rejects values the rest of the application cannot work with.
func (c Config) Validate() error {
	switch {
	case c.API.Port <= 0 || c.API.Port > 65535:
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	case c.Engine.PriceEpsilon < 0:
		return fmt.Errorf("engine.price_epsilon must not be negative")
	case c.Engine.DefaultTimeoutBars < 0:
		return fmt.Errorf("engine.default_timeout_bars must not be negative")
	case c.Engine.MaxScanBars < 0:
		return fmt.Errorf("engine.max_scan_bars must not be negative")
	case c.Engine.Workers < 0:
		return fmt.Errorf("engine.workers must not be negative")
	case c.Binance.PageLimit <= 0 || c.Binance.PageLimit > 1000:
		return fmt.Errorf("binance.page_limit must be in (0, 1000]")
	}
	return nil
}
