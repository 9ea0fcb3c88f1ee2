package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"trading-simulator-go/internal/marketdata"
	"trading-simulator-go/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, InfoResponse{
		Message: "Trading Simulator API",
		Version: Version,
		Docs:    "/api/v1",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTimeframes(w http.ResponseWriter, r *http.Request) {
	out := make([]TimeframeInfo, len(models.Timeframes))
	for i, tf := range models.Timeframes {
		out[i] = TimeframeInfo{Code: tf.String(), Seconds: int64(tf.Duration().Seconds())}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ctx := r.Context()
	series, orders, err := s.prepare(ctx, req)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}

	started := time.Now()
	result, err := s.simulator.Simulate(ctx, series, orders)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	s.metrics.ObserveSimulation(result, time.Since(started))

	respondJSON(w, http.StatusOK, newSimulateResponse(result, series.Len()))
}

// prepare resolves the bar series and converts the orders of req.
func (s *Server) prepare(ctx context.Context, req SimulateRequest) (*models.BarSeries, []models.OrderSpec, error) {
	if req.Symbol == "" {
		return nil, nil, models.NewValidationError("symbol", "must not be empty")
	}
	tf, err := req.timeframe()
	if err != nil {
		return nil, nil, err
	}
	orders, err := req.orders(tf)
	if err != nil {
		return nil, nil, err
	}

	var series *models.BarSeries
	switch {
	case len(req.Bars) > 0:
		series, err = models.NewBarSeries(req.Symbol, tf, req.Bars)
	case s.provider == nil:
		err = models.NewValidationError("bars", "required when no market data source is configured")
	default:
		series, err = s.provider.Series(ctx, req.Symbol, tf, req.Start, req.End)
	}
	if err != nil {
		return nil, nil, err
	}
	return series, orders, nil
}

func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	s.metrics.ObserveFailure(errors.Is(err, models.ErrValidation))
	switch {
	case errors.Is(err, models.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation failed", errorDetails(err)...)
	case errors.Is(err, marketdata.ErrNoData):
		respondError(w, http.StatusNotFound, "no market data", err.Error())
	case errors.Is(err, marketdata.ErrUnavailable):
		s.logger.Warn("Market data unavailable", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		respondError(w, http.StatusBadGateway, "market data unavailable", err.Error())
	default:
		s.logger.Error("Simulation failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		if s.cfg.Debug {
			respondError(w, http.StatusInternalServerError, "internal error", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// errorDetails flattens a multierr into one message per problem. Wrapped
// multierrs such as "orders[2]: a; b" are expanded with their prefix kept.
func errorDetails(err error) []string {
	var details []string
	for _, e := range multierr.Errors(err) {
		inner := errors.Unwrap(e)
		if inner == nil || len(multierr.Errors(inner)) < 2 {
			details = append(details, e.Error())
			continue
		}
		prefix := strings.TrimSuffix(e.Error(), inner.Error())
		for _, d := range errorDetails(inner) {
			details = append(details, prefix+d)
		}
	}
	return details
}
