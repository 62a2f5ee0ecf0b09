// Package httpapi exposes the forecasting pipeline over HTTP: a
// synchronous forecast endpoint, a websocket stream for batch runs,
// health and Prometheus metrics.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
	"github.com/helioquant/horizon/internal/metrics"
	"github.com/helioquant/horizon/internal/pipeline"
)

// Server is the HTTP front end. All handlers are safe for concurrent
// use; the pipeline underneath is stateless per request.
type Server struct {
	cfg      config.ServerConfig
	runner   *pipeline.Runner
	metrics  *metrics.Registry
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer wires the handlers around a pipeline runner.
func NewServer(cfg config.ServerConfig, runner *pipeline.Runner, m *metrics.Registry, log zerolog.Logger) *Server {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 50
	}
	return &Server{
		cfg:     cfg,
		runner:  runner,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: log.With().Str("component", "httpapi").Logger(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogging)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/forecast", s.handleForecast).Methods(http.MethodPost)
	r.HandleFunc("/v1/stream", s.handleStream).Methods(http.MethodGet)

	return r
}

// ListenAndServe blocks serving the API until ctx is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// forecastRequest is the wire form of one forecast request.
type forecastRequest struct {
	Symbol  string             `json:"symbol"`
	AsOf    string             `json:"as_of"` // YYYY-MM-DD, defaults to today
	Account domain.AccountRisk `json:"account"`
}

func (fr forecastRequest) toPipeline() (pipeline.Request, error) {
	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if fr.AsOf != "" {
		parsed, err := time.Parse("2006-01-02", fr.AsOf)
		if err != nil {
			return pipeline.Request{}, err
		}
		asOf = parsed
	}
	return pipeline.Request{Symbol: fr.Symbol, AsOf: asOf, Account: fr.Account}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if !s.limiter.Allow() {
		s.writeError(w, "forecast", started, http.StatusTooManyRequests,
			"rate_limited", "request rate limit exceeded")
		return
	}

	var req forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "forecast", started, http.StatusBadRequest,
			"bad_request", "malformed request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		s.writeError(w, "forecast", started, http.StatusBadRequest,
			"bad_request", "symbol is required")
		return
	}

	preq, err := req.toPipeline()
	if err != nil {
		s.writeError(w, "forecast", started, http.StatusBadRequest,
			"bad_request", "invalid as_of date: "+err.Error())
		return
	}

	rec, err := s.runner.Run(r.Context(), preq)
	if err != nil {
		kind := domain.ErrorKind(err)
		s.writeError(w, "forecast", started, statusFor(err), kind, err.Error())
		return
	}

	s.metrics.RequestDuration.WithLabelValues("forecast", "ok").
		Observe(time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, rec)
}

// streamRequest opens a batch over the websocket: the client sends
// one request frame, the server streams one result frame per symbol
// and closes.
type streamRequest struct {
	Symbols []string           `json:"symbols"`
	AsOf    string             `json:"as_of"`
	Account domain.AccountRisk `json:"account"`
}

type streamFrame struct {
	Symbol string                 `json:"symbol"`
	Record *domain.ForecastRecord `json:"record,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Kind   string                 `json:"error_kind,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req streamRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(streamFrame{Error: "malformed stream request", Kind: "bad_request"})
		return
	}
	if len(req.Symbols) == 0 {
		_ = conn.WriteJSON(streamFrame{Error: "symbols are required", Kind: "bad_request"})
		return
	}

	preq, err := forecastRequest{AsOf: req.AsOf, Account: req.Account}.toPipeline()
	if err != nil {
		_ = conn.WriteJSON(streamFrame{Error: "invalid as_of date", Kind: "bad_request"})
		return
	}

	for _, symbol := range req.Symbols {
		rec, runErr := s.runner.Run(r.Context(), pipeline.Request{
			Symbol:  symbol,
			AsOf:    preq.AsOf,
			Account: req.Account,
		})
		frame := streamFrame{Symbol: symbol, Record: rec}
		if runErr != nil {
			frame.Record = nil
			frame.Error = runErr.Error()
			frame.Kind = domain.ErrorKind(runErr)
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

// requestLogging tags every request with an id and logs its outcome.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

// statusWriter records the status code and forwards the optional
// interfaces the websocket upgrade and streaming responses need.
type statusWriter struct {
	http.ResponseWriter
	status int
}

var (
	_ http.Hijacker = (*statusWriter)(nil)
	_ http.Flusher  = (*statusWriter)(nil)
)

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, started time.Time, status int, kind, message string) {
	s.metrics.RequestDuration.WithLabelValues(endpoint, "error").
		Observe(time.Since(started).Seconds())

	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRiskParameters):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEnsembleExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
