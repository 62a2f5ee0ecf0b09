package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
	"github.com/helioquant/horizon/internal/metrics"
	"github.com/helioquant/horizon/internal/pipeline"
)

type fixedProvider struct {
	set domain.SeriesSet
}

func (p fixedProvider) Series(_ context.Context, symbol string, _ time.Time) (domain.SeriesSet, error) {
	set := p.set
	set.Symbol = symbol
	return set, nil
}

func testSeries(n int) domain.SeriesSet {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var set domain.SeriesSet
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.1 + 0.8*math.Sin(float64(i)/6)
		set.Bars = append(set.Bars, domain.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      price - 0.2,
			High:      price + 1.0,
			Low:       price - 1.0,
			Close:     price,
			Volume:    900_000,
		})
	}
	return set
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := config.Default()
	m := metrics.NewRegistry()
	runner := pipeline.NewRunner(cfg, fixedProvider{set: testSeries(260)},
		pipeline.Options{Metrics: m}, zerolog.Nop())
	srv := NewServer(cfg.Server, runner, m, zerolog.Nop())

	asOf := testSeries(260).Bars[259].Timestamp.Format("2006-01-02")
	return srv, asOf
}

func postForecast(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/forecast", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestForecast_HappyPath(t *testing.T) {
	srv, asOf := newTestServer(t)

	body := `{"symbol":"AAPL","as_of":"` + asOf + `","account":{"capital":100000}}`
	w := postForecast(t, srv.Router(), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rec domain.ForecastRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Len(t, rec.Predictions, 5)
}

func TestForecast_MissingSymbol(t *testing.T) {
	srv, asOf := newTestServer(t)

	w := postForecast(t, srv.Router(), `{"as_of":"`+asOf+`","account":{"capital":100000}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "symbol is required")
}

func TestForecast_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postForecast(t, srv.Router(), `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForecast_InvalidAccountMapsTo400(t *testing.T) {
	srv, asOf := newTestServer(t)

	body := `{"symbol":"AAPL","as_of":"` + asOf + `","account":{"capital":-5}}`
	w := postForecast(t, srv.Router(), body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_risk_parameters", resp.Error.Kind)
}

func TestForecast_BadDate(t *testing.T) {
	srv, _ := newTestServer(t)

	w := postForecast(t, srv.Router(), `{"symbol":"AAPL","as_of":"03/10/2025"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "horizon_forecasts_total")
}

func TestStream_BatchOverWebsocket(t *testing.T) {
	srv, asOf := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(streamRequest{
		Symbols: []string{"AAPL", "MSFT"},
		AsOf:    asOf,
		Account: domain.AccountRisk{Capital: 100_000},
	}))

	for _, want := range []string{"AAPL", "MSFT"} {
		var frame streamFrame
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, want, frame.Symbol)
		assert.Empty(t, frame.Error)
		require.NotNil(t, frame.Record)
		assert.Len(t, frame.Record.Predictions, 5)
	}
}

func TestStream_EmptySymbols(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(streamRequest{}))

	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "bad_request", frame.Kind)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidRiskParameters))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrInsufficientHistory))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrEnsembleExhausted))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
