package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/b3-market-data/internal/market"
)

type fakeStore struct {
	mu        sync.Mutex
	summaries map[string]market.TradeSummary
	err       error
	pingErr   error
	panicMsg  string
	lastSince time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{summaries: map[string]market.TradeSummary{
		"PETR4": {Ticker: "PETR4", MaxRangeValue: 38.9, MaxDailyVolume: 120000},
		"VALE3": {Ticker: "VALE3", MaxRangeValue: 62, MaxDailyVolume: 98000},
	}}
}

func (s *fakeStore) ListSummaries(_ context.Context, since time.Time) ([]market.TradeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.lastSince = since
	if s.err != nil {
		return nil, s.err
	}
	return []market.TradeSummary{s.summaries["PETR4"], s.summaries["VALE3"]}, nil
}

func (s *fakeStore) GetSummary(_ context.Context, ticker string, since time.Time) (market.TradeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSince = since
	if s.err != nil {
		return market.TradeSummary{}, s.err
	}
	if summary, ok := s.summaries[ticker]; ok {
		return summary, nil
	}
	return market.TradeSummary{Ticker: ticker}, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func serve(t *testing.T, store Store, target string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewServer(store, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	store := newFakeStore()
	store.pingErr = errors.New("connection refused")
	rec = serve(t, store, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database unavailable")
}

func TestListTrades(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	rec := serve(t, store, "/v1/trades")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []market.TradeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "PETR4", got[0].Ticker)
	assert.True(t, store.lastSince.IsZero())
}

func TestListTradesSinceDate(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	rec := serve(t, store, "/v1/trades?date=2024-05-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC), store.lastSince)
}

func TestListTradesBadDate(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/v1/trades?date=02/05/2024")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "YYYY-MM-DD")
}

func TestListTradesStoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.err = errors.New("relation does not exist")
	rec := serve(t, store, "/v1/trades")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
}

func TestGetTrade(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/v1/trades/petr4?date=2024-05-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticker":"PETR4","max_range_value":38.9,"max_daily_volume":120000}`, rec.Body.String())
}

func TestGetTradeUnknownTickerIsZero(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/v1/trades/XPTO3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticker":"XPTO3","max_range_value":0,"max_daily_volume":0}`, rec.Body.String())
}

func TestGetTradeBadDate(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/v1/trades/PETR4?date=yesterday")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoverFromPanic(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.panicMsg = "boom"
	rec := serve(t, store, "/v1/trades")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDPropagates(t *testing.T) {
	t.Parallel()

	server := NewServer(newFakeStore(), nil, WithRequestTimeout(0))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	_ = serve(t, newFakeStore(), "/healthz")
	rec := serve(t, newFakeStore(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeStore(), "/v1/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
