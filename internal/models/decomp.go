package models

import (
	"context"
	"math"

	"github.com/helioquant/horizon/internal/domain"
)

// DecompModel decomposes the close series into level, trend and a
// weekly (5-day) seasonal component via additive Holt-Winters
// smoothing, then extrapolates all three over the horizon.
type DecompModel struct {
	season  int
	alpha   float64
	beta    float64
	gamma   float64
	quality float64
}

// NewDecompModel creates the trend/seasonality decomposition model.
func NewDecompModel(quality float64) *DecompModel {
	return &DecompModel{season: 5, alpha: 0.35, beta: 0.10, gamma: 0.20, quality: quality}
}

func (m *DecompModel) ID() string                 { return ModelDecomp }
func (m *DecompModel) HistoricalQuality() float64 { return m.quality }

func (m *DecompModel) Forecast(ctx context.Context, closes []float64, horizon int) ([]domain.ModelForecast, error) {
	if err := validateInput(m.ID(), closes, m.season*3, horizon); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(m.ID(), "canceled: %v", err)
	}

	level, trend, seasonal := m.initState(closes)

	for i := m.season; i < len(closes); i++ {
		s := i % m.season
		prevLevel := level
		level = m.alpha*(closes[i]-seasonal[s]) + (1-m.alpha)*(level+trend)
		trend = m.beta*(level-prevLevel) + (1-m.beta)*trend
		seasonal[s] = m.gamma*(closes[i]-level) + (1-m.gamma)*seasonal[s]
	}

	if math.IsNaN(level) || math.IsNaN(trend) {
		return nil, unavailable(m.ID(), "smoothing state diverged")
	}

	last := closes[len(closes)-1]
	out := make([]domain.ModelForecast, 0, horizon)
	for day := 1; day <= horizon; day++ {
		s := (len(closes) + day - 1) % m.season
		pred := level + float64(day)*trend + seasonal[s]
		// Bound the multi-day extrapolation like a daily-return clamp.
		lo := last * math.Pow(1-maxDailyReturn, float64(day))
		hi := last * math.Pow(1+maxDailyReturn, float64(day))
		pred = math.Max(lo, math.Min(hi, pred))
		out = append(out, domain.ModelForecast{
			ModelID:    m.ID(),
			HorizonDay: day,
			Predicted:  pred,
			Quality:    m.quality,
		})
	}
	return out, nil
}

// initState seeds level and trend from the first two seasons and the
// seasonal offsets from the first season's deviations.
func (m *DecompModel) initState(closes []float64) (float64, float64, []float64) {
	firstMean := 0.0
	secondMean := 0.0
	for i := 0; i < m.season; i++ {
		firstMean += closes[i]
		secondMean += closes[i+m.season]
	}
	firstMean /= float64(m.season)
	secondMean /= float64(m.season)

	level := firstMean
	trend := (secondMean - firstMean) / float64(m.season)

	seasonal := make([]float64, m.season)
	for i := 0; i < m.season; i++ {
		seasonal[i] = closes[i] - firstMean
	}
	return level, trend, seasonal
}
