package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-simulator-go/internal/config"
	"trading-simulator-go/internal/engine"
	"trading-simulator-go/internal/marketdata"
	"trading-simulator-go/internal/models"
	"trading-simulator-go/internal/observability"
	"trading-simulator-go/internal/simulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Series(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) (*models.BarSeries, error) {
	args := m.Called(ctx, symbol, tf, from, to)
	series, _ := args.Get(0).(*models.BarSeries)
	return series, args.Error(1)
}

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func scenarioBars() []models.Bar {
	return []models.Bar{
		{Timestamp: t0, Open: 100, High: 105, Low: 99, Close: 102, Volume: 1000},
		{Timestamp: t0.Add(time.Hour), Open: 102, High: 110, Low: 101, Close: 108, Volume: 1000},
	}
}

func newTestServer(provider marketdata.Provider) *Server {
	sim := simulator.New(engine.NewMatcher(engine.Options{PriceEpsilon: 1e-9}, zap.NewNop()), 2, zap.NewNop())
	cfg := config.API{Host: "127.0.0.1", Port: 0, CORSOrigins: []string{"http://localhost:4200"}}
	if provider == nil {
		return NewServer(cfg, sim, nil, observability.NewMetrics("test"), zap.NewNop())
	}
	return NewServer(cfg, sim, provider, observability.NewMetrics("test"), zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		// Sent as is, so malformed bodies reach the handler.
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRootAndHealth(t *testing.T) {
	h := newTestServer(nil).Handler()

	rec := doJSON(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "Trading Simulator API", info.Message)
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestServer(nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestTimeframes(t *testing.T) {
	rec := doJSON(t, newTestServer(nil).Handler(), http.MethodGet, "/api/v1/timeframes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []TimeframeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, len(models.Timeframes))
	assert.Equal(t, TimeframeInfo{Code: "1m", Seconds: 60}, out[0])
	assert.Equal(t, TimeframeInfo{Code: "1d", Seconds: 86400}, out[len(out)-1])
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(nil).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/simulate", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/simulate", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSimulate_InlineBars(t *testing.T) {
	body := SimulateRequest{
		Symbol:    "TEST",
		Timeframe: "1h",
		Bars:      scenarioBars(),
		Orders: []OrderRequest{
			{ID: "a", Side: "buy", Type: "MKT", StopLoss: models.Price(98), TakeProfit: models.Price(107)},
			{ID: "b", Side: "BUY", Type: "limit", LimitPrice: models.Price(99), StopLoss: models.Price(95), TakeProfit: models.Price(107)},
		},
	}

	rec := doJSON(t, newTestServer(nil).Handler(), http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SimulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "TEST", resp.Symbol)
	assert.Equal(t, "1h", resp.Timeframe)
	assert.Equal(t, 2, resp.BarCount)
	require.Len(t, resp.Trades, 2)
	assert.Equal(t, "a", resp.Trades[0].OrderID)
	assert.Equal(t, 7.0, resp.Trades[0].PnL)
	assert.Equal(t, 8.0, resp.Trades[1].PnL)
	assert.Equal(t, 2, resp.Metrics.TotalTrades)
	assert.Equal(t, 15.0, resp.Metrics.TotalPnL)
	assert.True(t, resp.Metrics.ProfitFactorInfinite)
	assert.Nil(t, resp.Metrics.ProfitFactor)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generic))
	metrics := generic["metrics"].(map[string]interface{})
	v, ok := metrics["profit_factor"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestSimulate_FiniteProfitFactor(t *testing.T) {
	body := SimulateRequest{
		Symbol:    "TEST",
		Timeframe: "1h",
		Bars:      scenarioBars(),
		Orders: []OrderRequest{
			{Side: "buy", Type: "MKT", StopLoss: models.Price(98), TakeProfit: models.Price(107)},
			{Side: "sell", Type: "MKT", StopLoss: models.Price(109), TakeProfit: models.Price(90)},
		},
	}

	rec := doJSON(t, newTestServer(nil).Handler(), http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SimulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Trades, 2)
	assert.Equal(t, models.TradeResultStopLoss, resp.Trades[1].Result)
	assert.Equal(t, -9.0, resp.Trades[1].PnL)
	require.NotNil(t, resp.Metrics.ProfitFactor)
	assert.InDelta(t, 7.0/9.0, *resp.Metrics.ProfitFactor, 1e-12)
	assert.False(t, resp.Metrics.ProfitFactorInfinite)
}

func TestSimulate_FromProvider(t *testing.T) {
	series, err := models.NewBarSeries("BTCUSDT", models.Timeframe1h, scenarioBars())
	require.NoError(t, err)

	provider := new(mockProvider)
	provider.On("Series", mock.Anything, "BTCUSDT", models.Timeframe1h, t0, t0.Add(time.Hour)).Return(series, nil).Once()

	body := SimulateRequest{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     t0,
		End:       t0.Add(time.Hour),
		Orders: []OrderRequest{
			{Side: "buy", Type: "MKT", StopLoss: models.Price(98), TakeProfit: models.Price(107), TimeoutDuration: "2h"},
		},
	}

	rec := doJSON(t, newTestServer(provider).Handler(), http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SimulateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BTCUSDT", resp.Symbol)
	assert.Len(t, resp.Trades, 1)
	provider.AssertExpectations(t)
}

func TestSimulate_Errors(t *testing.T) {
	validOrder := OrderRequest{Side: "buy", Type: "MKT", StopLoss: models.Price(98), TakeProfit: models.Price(107)}

	tests := []struct {
		name        string
		body        interface{}
		providerErr error
		wantStatus  int
		wantError   string
		wantDetail  string
	}{
		{
			name:       "MalformedJSON",
			body:       []byte(`{"symbol": 5`),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "UnknownTimeframe",
			body:       SimulateRequest{Symbol: "TEST", Timeframe: "3m", Bars: scenarioBars(), Orders: []OrderRequest{validOrder}},
			wantStatus: http.StatusBadRequest,
			wantError:  "validation failed",
			wantDetail: "timeframe",
		},
		{
			name: "InvalidOrders",
			body: SimulateRequest{Symbol: "TEST", Timeframe: "1h", Bars: scenarioBars(), Orders: []OrderRequest{
				validOrder,
				{Side: "up", Type: "MKT"},
				{Side: "buy", Type: "MKT", StopLoss: models.Price(110), TakeProfit: models.Price(95)},
			}},
			wantStatus: http.StatusBadRequest,
			wantError:  "validation failed",
			wantDetail: "orders[1]",
		},
		{
			name: "InvalidBars",
			body: SimulateRequest{Symbol: "TEST", Timeframe: "1h", Bars: []models.Bar{
				{Timestamp: t0, Open: 100, High: 99, Low: 98, Close: 99},
			}, Orders: []OrderRequest{validOrder}},
			wantStatus: http.StatusBadRequest,
			wantError:  "validation failed",
			wantDetail: "bars[0]",
		},
		{
			name:        "ProviderUnavailable",
			body:        SimulateRequest{Symbol: "BTCUSDT", Timeframe: "1h", Start: t0, End: t0.Add(time.Hour), Orders: []OrderRequest{validOrder}},
			providerErr: fmt.Errorf("%w: timeout", marketdata.ErrUnavailable),
			wantStatus:  http.StatusBadGateway,
			wantError:   "market data unavailable",
		},
		{
			name:        "ProviderNoData",
			body:        SimulateRequest{Symbol: "BTCUSDT", Timeframe: "1h", Start: t0, End: t0.Add(time.Hour), Orders: []OrderRequest{validOrder}},
			providerErr: fmt.Errorf("%w: BTCUSDT 1h", marketdata.ErrNoData),
			wantStatus:  http.StatusNotFound,
			wantError:   "no market data",
		},
		{
			name:        "ProviderFailure",
			body:        SimulateRequest{Symbol: "BTCUSDT", Timeframe: "1h", Start: t0, End: t0.Add(time.Hour), Orders: []OrderRequest{validOrder}},
			providerErr: fmt.Errorf("failed to load cached bars: disk I/O error"),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(mockProvider)
			provider.On("Series", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.providerErr)

			rec := doJSON(t, newTestServer(provider).Handler(), http.MethodPost, "/api/v1/simulate", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
			if tt.wantDetail != "" {
				require.NotEmpty(t, resp.Details)
				assert.Contains(t, resp.Details[0], tt.wantDetail)
			}
		})
	}
}

func TestSimulate_InvalidOrdersReportsEveryProblem(t *testing.T) {
	body := SimulateRequest{Symbol: "TEST", Timeframe: "1h", Bars: scenarioBars(), Orders: []OrderRequest{
		{Side: "up", Type: "MKT"},
		{Side: "buy", Type: "MKT", TimeoutDuration: "soon"},
	}}

	rec := doJSON(t, newTestServer(nil).Handler(), http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Details, 2)
	assert.Contains(t, resp.Details[0], "orders[0]")
	assert.Contains(t, resp.Details[1], "orders[1]")
	assert.Contains(t, resp.Details[1], "timeout_duration")
}

func TestSimulate_NoProviderRequiresBars(t *testing.T) {
	body := SimulateRequest{Symbol: "TEST", Timeframe: "1h", Start: t0, End: t0.Add(time.Hour)}

	rec := doJSON(t, newTestServer(nil).Handler(), http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bars")
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(nil).Handler()

	body := SimulateRequest{
		Symbol:    "TEST",
		Timeframe: "1h",
		Bars:      scenarioBars(),
		Orders:    []OrderRequest{{Side: "buy", Type: "MKT", StopLoss: models.Price(98), TakeProfit: models.Price(107)}},
	}
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPost, "/api/v1/simulate", body).Code)

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_engine_simulations_total{result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `test_engine_trade_results_total{result="tp"} 1`)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="POST",route="/api/v1/simulate",status="200"} 1`)
}

func TestSimulate_ValidationDetailsOnePerProblem(t *testing.T) {
	body := SimulateRequest{Symbol: "TEST", Timeframe: "1h", Bars: scenarioBars(), Orders: []OrderRequest{
		{Side: "buy", Type: "MKT", StopLoss: models.Price(98), TakeProfit: models.Price(107)},
		// no limit price and a negative timeout
		{Side: "buy", Type: "LMT", TimeoutBars: -1},
		// stop above the entry bar open
		{Side: "buy", Type: "MKT", StopLoss: models.Price(101), TakeProfit: models.Price(110)},
	}}

	rec := doJSON(t, newTestServer(nil).Handler(), http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Details, 3)
	assert.Contains(t, resp.Details[0], "orders[1]: limit_price")
	assert.Contains(t, resp.Details[1], "orders[1]: timeout.bars")
	assert.Contains(t, resp.Details[2], "orders[2]: stop_loss: 101 must be below entry price 100")
}

func TestErrorDetails(t *testing.T) {
	nested := multierr.Combine(
		models.NewValidationError("side", "unknown"),
		models.NewValidationError("type", "unknown"),
	)
	err := multierr.Combine(
		fmt.Errorf("orders[0]: %w", nested),
		fmt.Errorf("orders[3]: %w", models.NewValidationError("entry.index", "out of range")),
		models.NewValidationError("symbol", "must not be empty"),
	)

	assert.Equal(t, []string{
		"orders[0]: side: unknown",
		"orders[0]: type: unknown",
		"orders[3]: entry.index: out of range",
		"symbol: must not be empty",
	}, errorDetails(err))
}
