// Package pipeline composes the forecasting stages into one
// deterministic request path: features, parallel model inference,
// ensemble fusion, confidence calibration, signal confirmation and
// position sizing, ending in an immutable forecast record.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helioquant/horizon/internal/cache"
	"github.com/helioquant/horizon/internal/confidence"
	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
	"github.com/helioquant/horizon/internal/ensemble"
	"github.com/helioquant/horizon/internal/features"
	"github.com/helioquant/horizon/internal/metrics"
	"github.com/helioquant/horizon/internal/models"
	"github.com/helioquant/horizon/internal/position"
	"github.com/helioquant/horizon/internal/provider"
	"github.com/helioquant/horizon/internal/signals"
	"github.com/helioquant/horizon/internal/tradingcal"
)

// RecordStore persists completed records. Optional; a nil store
// disables persistence without branching the pipeline logic.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *domain.ForecastRecord, configHash string) error
}

// Request is one forecast request.
type Request struct {
	Symbol  string
	AsOf    time.Time
	Account domain.AccountRisk
}

// Runner wires the stages together. It is safe for concurrent use:
// every stage is stateless between requests.
type Runner struct {
	cfg      *config.Config
	cfgHash  string
	builder  *features.Builder
	pool     *models.Pool
	combiner *ensemble.Combiner
	scorer   *confidence.Scorer
	engine   *signals.Engine
	sizer    *position.Sizer
	source   provider.DataProvider
	cache    cache.Cache
	store    RecordStore
	metrics  *metrics.Registry
	log      zerolog.Logger
}

// Options carries the optional collaborators.
type Options struct {
	Cache   cache.Cache
	Store   RecordStore
	Metrics *metrics.Registry
}

// NewRunner builds a runner from configuration. The data provider is
// required; cache, store and metrics are optional.
func NewRunner(cfg *config.Config, source provider.DataProvider, opts Options, log zerolog.Logger) *Runner {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewRegistry()
	}
	pool := models.NewPool(cfg.Models, cfg.Ensemble.MinSurvivorFraction, log)
	pool.OnModelDuration = func(id string, d time.Duration) {
		m.ModelDuration.WithLabelValues(id).Observe(d.Seconds())
	}
	return &Runner{
		cfg:      cfg,
		cfgHash:  cfg.Hash(),
		builder:  features.NewBuilder(features.DefaultIndicatorConfig()),
		pool:     pool,
		combiner: ensemble.NewCombiner(cfg.Ensemble),
		scorer:   confidence.NewScorer(cfg.Confidence),
		engine:   signals.NewEngine(cfg.Signals),
		sizer:    position.NewSizer(cfg.Risk, cfg.Signals.ConfirmationThreshold),
		source:   source,
		cache:    opts.Cache,
		store:    opts.Store,
		metrics:  m,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one request end to end. On any fatal stage error the
// record is discarded whole; no partial output leaves the pipeline.
func (r *Runner) Run(ctx context.Context, req Request) (*domain.ForecastRecord, error) {
	started := time.Now()
	r.metrics.TotalForecasts.Inc()
	r.metrics.ActiveForecasts.Inc()
	defer r.metrics.ActiveForecasts.Dec()

	// Reject malformed risk settings before any model work is spent.
	if err := r.sizer.ValidateAccount(req.Account); err != nil {
		return nil, err
	}

	key := cache.Key(req.Symbol, req.AsOf, r.cfgHash, req.Account)
	if rec, ok := r.cacheGet(ctx, key); ok {
		return rec, nil
	}

	rec, err := r.compute(ctx, req)
	if err != nil {
		r.metrics.RequestErrors.WithLabelValues(domain.ErrorKind(err)).Inc()
		r.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("forecast failed")
		return nil, err
	}

	r.cacheSet(ctx, key, rec)
	if r.store != nil {
		if err := r.store.SaveRecord(ctx, rec, r.cfgHash); err != nil {
			// Persistence is best-effort; the record is already complete.
			r.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("record persistence failed")
		}
	}

	r.log.Info().
		Str("symbol", req.Symbol).
		Time("as_of", req.AsOf).
		Float64("confidence", rec.ConfidenceBreakdown.Overall).
		Dur("elapsed", time.Since(started)).
		Msg("forecast complete")
	return rec, nil
}

func (r *Runner) compute(ctx context.Context, req Request) (*domain.ForecastRecord, error) {
	timer := r.metrics.StartStage("provider")
	set, err := r.source.Series(ctx, req.Symbol, req.AsOf)
	if err != nil {
		timer.Stop("error")
		return nil, fmt.Errorf("load series: %w", err)
	}
	timer.Stop("ok")

	timer = r.metrics.StartStage("features")
	vectors, err := r.builder.Build(set)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	timer.Stop("ok")
	latest := vectors[len(vectors)-1]

	closes := set.Closes()
	currentPrice := closes[len(closes)-1]
	realizedVol := features.RealizedVolatility(closes, r.cfg.Confidence.StabilityWindow)

	timer = r.metrics.StartStage("models")
	result, err := r.pool.ForecastAll(ctx, closes, r.cfg.Horizon.Days)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	timer.Stop("ok")
	for id, dropErr := range result.Dropped {
		r.metrics.RecordModelFailure(id, domain.ErrorKind(dropErr))
	}

	timer = r.metrics.StartStage("ensemble")
	fused, err := r.combiner.Combine(result.Forecasts, r.cfg.Horizon.Days)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	timer.Stop("ok")

	breakdowns := r.scorer.Score(confidence.Inputs{
		Ensemble:     fused,
		Forecasts:    result.Forecasts,
		Weights:      fused[0].Contributions,
		CurrentPrice: currentPrice,
		RealizedVol:  realizedVol,
		MissingGroup: latest.MissingGroups(),
	})

	signal := r.engine.Evaluate(latest)

	plan, err := r.sizer.Plan(position.Inputs{
		Signal:            signal,
		ForecastDirection: directionOf(fused[0].Predicted - currentPrice),
		EntryPrice:        currentPrice,
		ATR:               latest.Technical["atr"],
		Account:           req.Account,
	})
	if err != nil {
		return nil, err
	}

	return r.assemble(req, fused, breakdowns, result, plan, currentPrice), nil
}

// assemble freezes the stage outputs into the wire record.
func (r *Runner) assemble(
	req Request,
	fused []domain.EnsembleForecast,
	breakdowns []domain.ConfidenceBreakdown,
	result *models.PoolResult,
	plan domain.PositionPlan,
	currentPrice float64,
) *domain.ForecastRecord {
	cal := tradingcal.ForSymbol(req.Symbol, r.cfg.Horizon.DefaultMIC)
	dates := cal.NextTradingDays(req.AsOf, r.cfg.Horizon.Days)

	predictions := make([]domain.DayPrediction, 0, len(fused))
	for i, ef := range fused {
		change := ef.Predicted - currentPrice
		predictions = append(predictions, domain.DayPrediction{
			Date:                  domain.Date(dates[i]),
			Direction:             directionOf(change),
			PredictedChangePoints: change,
			ConfidenceScore:       breakdowns[i].Overall,
			PredictedPrice:        ef.Predicted,
			CurrentPrice:          currentPrice,
			ChangePercentage:      change / currentPrice * 100,
		})
	}

	modelPredictions := make(map[string]map[string]float64, len(result.Forecasts))
	for id, fs := range result.Forecasts {
		days := make(map[string]float64, len(fs))
		for _, f := range fs {
			days[domain.HorizonLabel(f.HorizonDay)] = f.Predicted
		}
		modelPredictions[id] = days
	}

	return &domain.ForecastRecord{
		ForecastDate: domain.Date(req.AsOf),
		Symbol:       req.Symbol,
		Predictions:  predictions,
		EnsembleDetails: domain.EnsembleDetails{
			ModelPredictions: modelPredictions,
			AgreementScore:   fused[0].Agreement,
		},
		ConfidenceBreakdown: breakdowns[0],
		PositionPlan:        plan,
	}
}

func (r *Runner) cacheGet(ctx context.Context, key string) (*domain.ForecastRecord, bool) {
	if r.cache == nil || !r.cfg.Cache.Enabled {
		return nil, false
	}
	rec, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn().Err(err).Msg("cache read failed")
		return nil, false
	}
	if ok {
		r.metrics.RecordCacheHit("forecast")
		return rec, true
	}
	r.metrics.RecordCacheMiss("forecast")
	return nil, false
}

func (r *Runner) cacheSet(ctx context.Context, key string, rec *domain.ForecastRecord) {
	if r.cache == nil || !r.cfg.Cache.Enabled {
		return
	}
	if err := r.cache.Set(ctx, key, rec, r.cfg.Cache.TTL); err != nil {
		r.log.Warn().Err(err).Msg("cache write failed")
	}
}

func directionOf(change float64) domain.Direction {
	switch {
	case change > 0:
		return domain.DirectionUp
	case change < 0:
		return domain.DirectionDown
	default:
		return domain.DirectionFlat
	}
}
