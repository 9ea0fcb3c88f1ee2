package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"trading-simulator-go/internal/config"
	"trading-simulator-go/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.binance.com/api/v3"
	defaultPageLimit = 1000
	maxRetries       = 3
)

// KlineClient is the part of the Binance API the simulator uses.
type KlineClient interface {
	GetServerTime(ctx context.Context) (int64, error)
	GetKlines(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error)
}

// RestClient is a client for the public Binance market data endpoints.
type RestClient struct {
	client    *resty.Client
	logger    *zap.Logger
	limiter   *rate.Limiter
	pageLimit int
	now       func() time.Time
}

var _ KlineClient = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 || pageLimit > defaultPageLimit {
		pageLimit = defaultPageLimit
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	return &RestClient{
		client:    resty.New().SetBaseURL(baseURL).SetTimeout(30 * time.Second),
		logger:    logger.Named("binance"),
		limiter:   rate.NewLimiter(limit, max(cfg.RateLimitBurst, 1)),
		pageLimit: pageLimit,
		now:       time.Now,
	}
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	type serverTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().SetResult(&serverTimeResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/time", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return resp.Result().(*serverTimeResponse).ServerTime, nil
}

// GetKlines fetches every closed bar of symbol/tf opening within [from, to],
// paging through the endpoint as needed. The bar still forming is left out.
func (c *RestClient) GetKlines(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("end %s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	var bars []models.Bar
	start, end := from.UnixMilli(), to.UnixMilli()
	for start <= end {
		page, rows, err := c.getKlinePage(ctx, symbol, tf, start, end)
		if err != nil {
			return nil, err
		}
		bars = append(bars, page...)

		if rows < c.pageLimit || len(page) == 0 {
			break
		}
		next := page[len(page)-1].Timestamp.UnixMilli() + 1
		if next <= start {
			break
		}
		start = next
	}

	c.logger.Debug("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("interval", tf.String()),
		zap.Int("count", len(bars)),
	)
	return bars, nil
}

// getKlinePage returns the closed bars of one page and the number of rows the
// exchange sent.
func (c *RestClient) getKlinePage(ctx context.Context, symbol string, tf models.Timeframe, start, end int64) ([]models.Bar, int, error) {
	var rows [][]interface{}
	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"interval":  tf.String(),
			"startTime": strconv.FormatInt(start, 10),
			"endTime":   strconv.FormatInt(end, 10),
			"limit":     strconv.Itoa(c.pageLimit),
		}).
		SetResult(&rows)

	if _, err := c.doRequest(ctx, http.MethodGet, "/klines", req); err != nil {
		return nil, 0, fmt.Errorf("failed to get klines for %s %s: %w", symbol, tf, err)
	}

	now := c.now()
	bars := make([]models.Bar, 0, len(rows))
	for i, row := range rows {
		b, closeTime, err := parseKline(row)
		if err != nil {
			return nil, 0, fmt.Errorf("kline %d for %s: %w", i, symbol, err)
		}
		if !closeTime.Before(now) {
			c.logger.Debug("Skipping open kline", zap.String("symbol", symbol), zap.Time("open_time", b.Timestamp))
			continue
		}
		bars = append(bars, b)
	}
	return bars, len(rows), nil
}

// parseKline decodes one kline row: [openTime, open, high, low, close, volume, closeTime, ...].
// Prices come as strings, times as numbers.
func parseKline(row []interface{}) (models.Bar, time.Time, error) {
	if len(row) < 7 {
		return models.Bar{}, time.Time{}, fmt.Errorf("expected at least 7 fields, got %d", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return models.Bar{}, time.Time{}, fmt.Errorf("open time is %T, not a number", row[0])
	}
	closeTime, ok := row[6].(float64)
	if !ok {
		return models.Bar{}, time.Time{}, fmt.Errorf("close time is %T, not a number", row[6])
	}

	var vals [5]float64
	for i := range vals {
		s, ok := row[i+1].(string)
		if !ok {
			return models.Bar{}, time.Time{}, fmt.Errorf("field %d is %T, not a string", i+1, row[i+1])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Bar{}, time.Time{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	return models.Bar{
		Timestamp: time.UnixMilli(int64(openTime)).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, time.UnixMilli(int64(closeTime)).UTC(), nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)
	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else if ctx.Err() == nil {
			// Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil {
		err = fmt.Errorf("last status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
