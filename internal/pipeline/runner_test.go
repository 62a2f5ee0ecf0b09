package pipeline

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioquant/horizon/internal/cache"
	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

// stubProvider serves a fixed synthetic series and counts calls.
type stubProvider struct {
	set   domain.SeriesSet
	err   error
	calls atomic.Int64
}

func (p *stubProvider) Series(_ context.Context, symbol string, _ time.Time) (domain.SeriesSet, error) {
	p.calls.Add(1)
	if p.err != nil {
		return domain.SeriesSet{}, p.err
	}
	set := p.set
	set.Symbol = symbol
	return set, nil
}

// syntheticSet builds n daily bars of a drifting, gently oscillating
// price with plausible highs, lows and volume.
func syntheticSet(n int) domain.SeriesSet {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var set domain.SeriesSet

	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.08 + 0.9*math.Sin(float64(i)/7)
		ts := start.AddDate(0, 0, i)
		set.Bars = append(set.Bars, domain.Bar{
			Timestamp: ts,
			Open:      price - 0.2,
			High:      price + 1.1,
			Low:       price - 1.1,
			Close:     price,
			Volume:    1_000_000 + 40_000*math.Sin(float64(i)/3),
		})
		set.Macro = append(set.Macro, domain.MacroPoint{
			Timestamp: ts,
			Values:    map[string]float64{"policy_rate": 4.1, "cpi_yoy": 2.6},
		})
		set.Sentiment = append(set.Sentiment, domain.SentimentPoint{
			Timestamp: ts,
			Score:     0.2 * math.Sin(float64(i)/5),
		})
	}
	return set
}

func newTestRunner(t *testing.T, source *stubProvider, opts Options) *Runner {
	t.Helper()
	return NewRunner(config.Default(), source, opts, zerolog.Nop())
}

func asOf(set domain.SeriesSet) time.Time {
	return set.Bars[len(set.Bars)-1].Timestamp
}

func TestRun_ProducesCompleteRecord(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{})

	rec, err := runner.Run(context.Background(), Request{
		Symbol:  "AAPL",
		AsOf:    asOf(source.set),
		Account: domain.AccountRisk{Capital: 100_000},
	})
	require.NoError(t, err)

	assert.Equal(t, "AAPL", rec.Symbol)
	require.Len(t, rec.Predictions, 5)

	currentPrice := source.set.Bars[len(source.set.Bars)-1].Close
	prevDate := asOf(source.set)
	for i, p := range rec.Predictions {
		assert.InDelta(t, currentPrice, p.CurrentPrice, 1e-9, "day %d", i+1)
		assert.Greater(t, p.PredictedPrice, 0.0, "day %d", i+1)
		assert.GreaterOrEqual(t, p.ConfidenceScore, 0.0)
		assert.LessOrEqual(t, p.ConfidenceScore, 1.0)
		assert.InDelta(t, p.PredictedPrice-currentPrice, p.PredictedChangePoints, 1e-9)

		// Dates advance strictly and never land on a weekend.
		date := p.Date.Time()
		assert.True(t, date.After(prevDate), "day %d", i+1)
		assert.NotEqual(t, time.Saturday, date.Weekday())
		assert.NotEqual(t, time.Sunday, date.Weekday())
		prevDate = date
	}

	// Every surviving model appears in the details with a full window.
	require.NotEmpty(t, rec.EnsembleDetails.ModelPredictions)
	for id, days := range rec.EnsembleDetails.ModelPredictions {
		assert.Len(t, days, 5, "model %s", id)
		assert.Contains(t, days, "day_1")
		assert.Contains(t, days, "day_5")
	}

	bd := rec.ConfidenceBreakdown
	for _, v := range []float64{bd.ModelAgreement, bd.ModelQuality, bd.PredictionStability, bd.Overall} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	assert.Greater(t, rec.PositionPlan.EntryPrice, 0.0)
}

func TestRun_Deterministic(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{})

	req := Request{Symbol: "AAPL", AsOf: asOf(source.set), Account: domain.AccountRisk{Capital: 50_000}}

	first, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	// Fresh runner, no cache: identical inputs reproduce the record.
	again, err := newTestRunner(t, &stubProvider{set: syntheticSet(260)}, Options{}).
		Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestRun_RejectsInvalidAccountBeforeAnyWork(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{})

	_, err := runner.Run(context.Background(), Request{
		Symbol:  "AAPL",
		AsOf:    asOf(source.set),
		Account: domain.AccountRisk{Capital: -1},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRiskParameters)
	assert.Zero(t, source.calls.Load())
}

func TestRun_InsufficientHistory(t *testing.T) {
	source := &stubProvider{set: syntheticSet(20)}
	runner := newTestRunner(t, source, Options{})

	_, err := runner.Run(context.Background(), Request{
		Symbol:  "AAPL",
		AsOf:    asOf(source.set),
		Account: domain.AccountRisk{Capital: 100_000},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestRun_CacheShortCircuitsSecondRequest(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{Cache: cache.NewMemory()})

	req := Request{Symbol: "AAPL", AsOf: asOf(source.set), Account: domain.AccountRisk{Capital: 100_000}}

	first, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 1, source.calls.Load())

	second, err := runner.Run(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, source.calls.Load(), "cache hit must not reload the series")
	assert.Equal(t, first, second)
}

func TestRun_CacheNeverSharesPlansAcrossAccounts(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{Cache: cache.NewMemory()})

	asOfDate := asOf(source.set)
	large, err := runner.Run(context.Background(), Request{
		Symbol: "AAPL", AsOf: asOfDate,
		Account: domain.AccountRisk{Capital: 100_000},
	})
	require.NoError(t, err)

	small, err := runner.Run(context.Background(), Request{
		Symbol: "AAPL", AsOf: asOfDate,
		Account: domain.AccountRisk{Capital: 1_000},
	})
	require.NoError(t, err)

	// Both plans respect their own account's position cap.
	assert.LessOrEqual(t, large.PositionPlan.Size*large.PositionPlan.EntryPrice, 0.10*100_000+1e-6)
	assert.LessOrEqual(t, small.PositionPlan.Size*small.PositionPlan.EntryPrice, 0.10*1_000+1e-6)
	if large.PositionPlan.Size > 0 {
		assert.NotEqual(t, large.PositionPlan.Size, small.PositionPlan.Size)
	}
}

type captureStore struct {
	saved atomic.Int64
}

func (c *captureStore) SaveRecord(_ context.Context, _ *domain.ForecastRecord, _ string) error {
	c.saved.Add(1)
	return nil
}

func TestRun_PersistsRecordWhenStoreConfigured(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	st := &captureStore{}
	runner := newTestRunner(t, source, Options{Store: st})

	_, err := runner.Run(context.Background(), Request{
		Symbol:  "AAPL",
		AsOf:    asOf(source.set),
		Account: domain.AccountRisk{Capital: 100_000},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.saved.Load())
}

func TestRunBatch_AllSymbolsComplete(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{})

	symbols := []string{"AAPL", "MSFT", "NVDA", "AMZN"}
	items := runner.RunBatch(context.Background(), symbols, asOf(source.set),
		domain.AccountRisk{Capital: 100_000}, 3, 0)

	require.Len(t, items, len(symbols))
	for i, item := range items {
		assert.Equal(t, symbols[i], item.Symbol, "results keep input order")
		require.NoError(t, item.Err)
		assert.Equal(t, symbols[i], item.Record.Symbol)
	}
}

func TestRunBatch_CancelledContext(t *testing.T) {
	source := &stubProvider{set: syntheticSet(260)}
	runner := newTestRunner(t, source, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := runner.RunBatch(ctx, []string{"AAPL", "MSFT"}, asOf(source.set),
		domain.AccountRisk{Capital: 100_000}, 2, 10)

	for _, item := range items {
		assert.Error(t, item.Err)
	}
}
