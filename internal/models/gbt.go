package models

import (
	"context"
	"math"
	"sort"

	"github.com/helioquant/horizon/internal/domain"
)

// GBTModel is a gradient-boosted ensemble of depth-1 regression
// stumps over lagged-return features, refit on the trailing window at
// inference time. Boosting rounds, learning rate and split candidates
// are fixed, so the fit is deterministic.
type GBTModel struct {
	lags    int
	rounds  int
	rate    float64
	window  int
	quality float64
}

// NewGBTModel creates the gradient-boosted stump model.
func NewGBTModel(quality float64) *GBTModel {
	return &GBTModel{lags: 5, rounds: 40, rate: 0.1, window: 160, quality: quality}
}

func (m *GBTModel) ID() string                 { return ModelGBT }
func (m *GBTModel) HistoricalQuality() float64 { return m.quality }

// stump is a single-split regression tree.
type stump struct {
	feature   int
	threshold float64
	left      float64
	right     float64
}

func (s stump) predict(features []float64) float64 {
	if features[s.feature] <= s.threshold {
		return s.left
	}
	return s.right
}

// Forecast boosts stumps on (lagged returns -> next return) samples,
// then rolls the prediction forward over the horizon.
func (m *GBTModel) Forecast(ctx context.Context, closes []float64, horizon int) ([]domain.ModelForecast, error) {
	if err := validateInput(m.ID(), closes, m.lags*4, horizon); err != nil {
		return nil, err
	}

	rets := returns(closes)
	if len(rets) > m.window {
		rets = rets[len(rets)-m.window:]
	}

	samples, targets := m.samples(rets)
	if len(samples) < m.lags*2 {
		return nil, unavailable(m.ID(), "too few samples (%d) after lag expansion", len(samples))
	}

	base, stumps, err := m.boost(ctx, samples, targets)
	if err != nil {
		return nil, err
	}

	// Walk the horizon, feeding each prediction back as the newest lag.
	state := append([]float64(nil), rets...)
	predicted := make([]float64, 0, horizon)
	for day := 0; day < horizon; day++ {
		feat := m.featuresAt(state, len(state))
		pred := base
		for _, s := range stumps {
			pred += m.rate * s.predict(feat)
		}
		pred = clampReturn(pred)
		predicted = append(predicted, pred)
		state = append(state, pred)
	}

	return walkForward(m.ID(), closes[len(closes)-1], m.quality, predicted)
}

// featuresAt builds the feature row for predicting the return at
// position pos: the previous lags returns plus a short/long mean gap.
func (m *GBTModel) featuresAt(rets []float64, pos int) []float64 {
	feat := make([]float64, m.lags+1)
	for lag := 1; lag <= m.lags; lag++ {
		feat[lag-1] = rets[pos-lag]
	}
	feat[m.lags] = meanOf(rets, pos, 5) - meanOf(rets, pos, 20)
	return feat
}

func (m *GBTModel) samples(rets []float64) ([][]float64, []float64) {
	var samples [][]float64
	var targets []float64
	for pos := m.lags; pos < len(rets); pos++ {
		samples = append(samples, m.featuresAt(rets, pos))
		targets = append(targets, rets[pos])
	}
	return samples, targets
}

// boost runs L2 gradient boosting: each round fits a stump to the
// current residuals.
func (m *GBTModel) boost(ctx context.Context, samples [][]float64, targets []float64) (float64, []stump, error) {
	base := 0.0
	for _, t := range targets {
		base += t
	}
	base /= float64(len(targets))

	residuals := make([]float64, len(targets))
	for i, t := range targets {
		residuals[i] = t - base
	}

	stumps := make([]stump, 0, m.rounds)
	for round := 0; round < m.rounds; round++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, unavailable(m.ID(), "canceled at round %d: %v", round, err)
		}

		best, ok := bestStump(samples, residuals)
		if !ok {
			break // residuals are flat, nothing left to fit
		}
		stumps = append(stumps, best)

		for i, feat := range samples {
			residuals[i] -= m.rate * best.predict(feat)
		}
	}

	if math.IsNaN(base) {
		return 0, nil, unavailable(m.ID(), "base prediction is NaN")
	}
	return base, stumps, nil
}

// bestStump scans decile thresholds of every feature and keeps the
// split with the lowest residual SSE.
func bestStump(samples [][]float64, residuals []float64) (stump, bool) {
	nFeatures := len(samples[0])
	best := stump{}
	bestSSE := math.Inf(1)
	found := false

	for f := 0; f < nFeatures; f++ {
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s[f]
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		for d := 1; d < 10; d++ {
			threshold := sorted[len(sorted)*d/10]
			var leftSum, rightSum float64
			var leftN, rightN int
			for i, v := range values {
				if v <= threshold {
					leftSum += residuals[i]
					leftN++
				} else {
					rightSum += residuals[i]
					rightN++
				}
			}
			if leftN == 0 || rightN == 0 {
				continue
			}
			leftMean := leftSum / float64(leftN)
			rightMean := rightSum / float64(rightN)

			sse := 0.0
			for i, v := range values {
				fit := rightMean
				if v <= threshold {
					fit = leftMean
				}
				sse += (residuals[i] - fit) * (residuals[i] - fit)
			}
			if sse < bestSSE {
				bestSSE = sse
				best = stump{feature: f, threshold: threshold, left: leftMean, right: rightMean}
				found = true
			}
		}
	}
	return best, found
}

func meanOf(rets []float64, pos, window int) float64 {
	start := pos - window
	if start < 0 {
		start = 0
	}
	if pos <= start {
		return 0
	}
	sum := 0.0
	for _, r := range rets[start:pos] {
		sum += r
	}
	return sum / float64(pos-start)
}
