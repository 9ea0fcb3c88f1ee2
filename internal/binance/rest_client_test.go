package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"trading-simulator-go/internal/config"
	"trading-simulator-go/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler, pageLimit int) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	rc := &RestClient{
		client:    resty.New().SetBaseURL(server.URL),
		logger:    zap.NewNop(),
		limiter:   rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		pageLimit: pageLimit,
		now:       time.Now,
	}

	return rc, server
}

func klineRow(openTime time.Time, o, h, l, c float64) string {
	return fmt.Sprintf(`[%d,"%g","%g","%g","%g","12.5",%d,"0",3,"0","0","0"]`,
		openTime.UnixMilli(), o, h, l, c, openTime.Add(time.Minute).UnixMilli()-1)
}

func TestNewRestClient(t *testing.T) {
	rc := NewRestClient(&config.Binance{RateLimit: 5, RateLimitBurst: 2, PageLimit: 5000}, zap.NewNop())
	assert.Equal(t, defaultPageLimit, rc.pageLimit)
	assert.Equal(t, defaultBaseURL, rc.client.BaseURL)
	assert.Equal(t, rate.Limit(5), rc.limiter.Limit())

	rc = NewRestClient(&config.Binance{BaseURL: "http://localhost:9999", PageLimit: 200}, zap.NewNop())
	assert.Equal(t, 200, rc.pageLimit)
	assert.Equal(t, "http://localhost:9999", rc.client.BaseURL)
	assert.Equal(t, rate.Inf, rc.limiter.Limit())
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		expectedTime := time.Now().UnixMilli()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/time", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `{"serverTime": %d}`, expectedTime)
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()

		serverTime, err := rc.GetServerTime(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, expectedTime, serverTime)
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1100, "msg": "Illegal characters found in parameter"}`))
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()

		serverTime, err := rc.GetServerTime(context.Background())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get server time")
		assert.Contains(t, err.Error(), "request failed")
		assert.Equal(t, int64(0), serverTime)
	})
}

func TestGetKlines(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("SinglePage", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/klines", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "BTCUSDT", q.Get("symbol"))
			assert.Equal(t, "1m", q.Get("interval"))
			assert.Equal(t, strconv.FormatInt(t0.UnixMilli(), 10), q.Get("startTime"))
			assert.Equal(t, "1000", q.Get("limit"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, "[%s,%s]",
				klineRow(t0, 100, 105, 99, 104),
				klineRow(t0.Add(time.Minute), 104, 106, 103, 105.5))
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()

		bars, err := rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe1m, t0, t0.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, models.Bar{Timestamp: t0, Open: 100, High: 105, Low: 99, Close: 104, Volume: 12.5}, bars[0])
		assert.Equal(t, 105.5, bars[1].Close)
		assert.Equal(t, time.UTC, bars[1].Timestamp.Location())
	})

	t.Run("Paginates", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&calls, 1)
			start, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
			assert.NoError(t, err)
			first := time.UnixMilli(start).UTC()
			w.Header().Set("Content-Type", "application/json")
			switch n {
			case 1:
				assert.Equal(t, t0, first)
				_, _ = fmt.Fprintf(w, "[%s,%s]", klineRow(t0, 1, 2, 1, 2), klineRow(t0.Add(time.Minute), 2, 3, 2, 3))
			case 2:
				assert.Equal(t, t0.Add(time.Minute+time.Millisecond), first)
				_, _ = fmt.Fprintf(w, "[%s]", klineRow(t0.Add(2*time.Minute), 3, 4, 3, 4))
			default:
				t.Errorf("unexpected request %d", n)
			}
		})

		rc, server := setupTestServer(handler, 2)
		defer server.Close()

		bars, err := rc.GetKlines(context.Background(), "ETHUSDT", models.Timeframe1m, t0, t0.Add(10*time.Minute))
		require.NoError(t, err)
		require.Len(t, bars, 3)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
		assert.Equal(t, t0.Add(2*time.Minute), bars[2].Timestamp)
	})

	t.Run("MalformedRow", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, `[[%d,"abc","2","1","2","1",%d]]`, t0.UnixMilli(), t0.Add(time.Minute).UnixMilli()-1)
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()

		_, err := rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe1m, t0, t0.Add(time.Hour))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kline 0 for BTCUSDT")
	})

	t.Run("SkipsOpenKline", func(t *testing.T) {
		now := t0.Add(2*time.Minute + 30*time.Second)
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, "[%s,%s,%s]",
				klineRow(t0, 100, 101, 99, 100),
				klineRow(t0.Add(time.Minute), 100, 102, 99, 101),
				klineRow(t0.Add(2*time.Minute), 101, 101, 100, 100)) // closes at t0+3m
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()
		rc.now = func() time.Time { return now }

		bars, err := rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe1m, t0, now)
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, t0.Add(time.Minute), bars[1].Timestamp)

		// Once the bar has closed it is returned.
		rc.now = func() time.Time { return t0.Add(3 * time.Minute) }
		bars, err = rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe1m, t0, now)
		require.NoError(t, err)
		assert.Len(t, bars, 3)
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		rc, server := setupTestServer(http.NotFoundHandler(), 1000)
		defer server.Close()

		_, err := rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe("3m"), t0, t0.Add(time.Hour))
		assert.ErrorContains(t, err, "unsupported timeframe")

		_, err = rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe1m, t0, t0.Add(-time.Hour))
		assert.ErrorContains(t, err, "before start")
	})

	t.Run("RetriesRateLimit", func(t *testing.T) {
		var calls int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprintf(w, "[%s]", klineRow(t0, 1, 2, 1, 2))
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()

		bars, err := rc.GetKlines(context.Background(), "BTCUSDT", models.Timeframe1m, t0, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, bars, 1)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("ContextCancelledDuringBackoff", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		rc, server := setupTestServer(handler, 1000)
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := rc.GetKlines(ctx, "BTCUSDT", models.Timeframe1m, t0, t0.Add(time.Hour))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
