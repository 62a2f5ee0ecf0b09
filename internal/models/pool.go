package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

// Pool runs the model variants independently and in parallel, applies
// the per-model inference timeout, and drops failing models. Models
// share no mutable state; results are order-insensitive.
type Pool struct {
	models      []Model
	timeout     time.Duration
	minSurvivor float64
	breakers    map[string]*gobreaker.CircuitBreaker
	log         zerolog.Logger

	// OnModelDuration, when set, receives the inference wall time of
	// every successful model run. Set before the first request.
	OnModelDuration func(modelID string, d time.Duration)
}

// PoolResult is the outcome of one inference fan-out.
type PoolResult struct {
	Forecasts map[string][]domain.ModelForecast
	Dropped   map[string]error
}

// SurvivorIDs returns the surviving model ids in canonical order.
func (r *PoolResult) SurvivorIDs() []string {
	ids := make([]string, 0, len(r.Forecasts))
	for id := range r.Forecasts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewPool builds the standard variant set with quality scores from
// configuration. A circuit breaker per model short-circuits variants
// that keep failing across requests.
func NewPool(cfg config.ModelsConfig, minSurvivorFraction float64, log zerolog.Logger) *Pool {
	quality := func(id string, fallback float64) float64 {
		if q, ok := cfg.Quality[id]; ok {
			return q
		}
		return fallback
	}

	variants := []Model{
		NewGBTModel(quality(ModelGBT, 0.70)),
		NewRecurrentModel(quality(ModelRecurrent, 0.65)),
		NewARModel(quality(ModelAR, 0.60)),
		NewDecompModel(quality(ModelDecomp, 0.55)),
		NewNaiveDriftModel(quality(ModelNaive, 0.50)),
	}

	return NewPoolWithModels(variants, cfg, minSurvivorFraction, log)
}

// NewPoolWithModels builds a pool over an explicit variant set.
func NewPoolWithModels(variants []Model, cfg config.ModelsConfig, minSurvivorFraction float64, log zerolog.Logger) *Pool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	openFor := cfg.BreakerOpenFor
	if openFor <= 0 {
		openFor = 2 * time.Minute
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker, len(variants))
	for _, m := range variants {
		id := m.ID()
		breakers[id] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "model_" + id,
			Timeout: openFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		})
	}

	return &Pool{
		models:      variants,
		timeout:     timeout,
		minSurvivor: minSurvivorFraction,
		breakers:    breakers,
		log:         log,
	}
}

// Size returns the number of configured variants.
func (p *Pool) Size() int { return len(p.models) }

// ForecastAll fans inference out across all variants and collects
// survivors. A slow model is converted into a drop by the per-model
// timeout rather than blocking the whole request. Fails with
// domain.ErrEnsembleExhausted when too few models survive.
func (p *Pool) ForecastAll(ctx context.Context, closes []float64, horizon int) (*PoolResult, error) {
	type outcome struct {
		id        string
		forecasts []domain.ModelForecast
		err       error
	}

	results := make(chan outcome, len(p.models))
	for _, m := range p.models {
		go func(m Model) {
			forecasts, err := p.runOne(ctx, m, closes, horizon)
			results <- outcome{id: m.ID(), forecasts: forecasts, err: err}
		}(m)
	}

	res := &PoolResult{
		Forecasts: make(map[string][]domain.ModelForecast, len(p.models)),
		Dropped:   make(map[string]error),
	}
	for range p.models {
		out := <-results
		if out.err != nil {
			res.Dropped[out.id] = out.err
			p.log.Warn().Str("model", out.id).Err(out.err).Msg("model dropped from ensemble")
			continue
		}
		res.Forecasts[out.id] = out.forecasts
	}

	// Whole-request cancellation wins over partial results.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minSurvivors := int(math.Ceil(p.minSurvivor * float64(len(p.models))))
	if minSurvivors < 1 {
		minSurvivors = 1
	}
	if len(res.Forecasts) < minSurvivors {
		return nil, fmt.Errorf("%w: %d of %d models survived, need %d",
			domain.ErrEnsembleExhausted, len(res.Forecasts), len(p.models), minSurvivors)
	}
	return res, nil
}

func (p *Pool) runOne(ctx context.Context, m Model, closes []float64, horizon int) ([]domain.ModelForecast, error) {
	modelCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type inner struct {
		forecasts []domain.ModelForecast
		err       error
	}
	done := make(chan inner, 1)

	started := time.Now()
	go func() {
		raw, err := p.breakers[m.ID()].Execute(func() (interface{}, error) {
			return m.Forecast(modelCtx, closes, horizon)
		})
		if err != nil {
			done <- inner{err: err}
			return
		}
		done <- inner{forecasts: raw.([]domain.ModelForecast)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, wrapUnavailable(m.ID(), r.err)
		}
		if len(r.forecasts) != horizon {
			return nil, unavailable(m.ID(), "returned %d forecasts for horizon %d", len(r.forecasts), horizon)
		}
		elapsed := time.Since(started)
		if p.OnModelDuration != nil {
			p.OnModelDuration(m.ID(), elapsed)
		}
		p.log.Debug().
			Str("model", m.ID()).
			Dur("duration", elapsed).
			Msg("model inference complete")
		return r.forecasts, nil
	case <-modelCtx.Done():
		return nil, unavailable(m.ID(), "timed out after %s", p.timeout)
	}
}

// wrapUnavailable folds breaker errors into the taxonomy; model
// errors already wrap domain.ErrModelUnavailable.
func wrapUnavailable(id string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return unavailable(id, "circuit open: %v", err)
	case errors.Is(err, domain.ErrModelUnavailable):
		return err
	default:
		return unavailable(id, "%v", err)
	}
}
