// Package confidence calibrates a scalar trustworthiness score per
// horizon day from agreement, model quality, forecast stability and
// ensemble breadth.
package confidence

import (
	"math"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

// Scorer combines the four sub-scores with fixed configured weights.
type Scorer struct {
	cfg config.ConfidenceConfig
}

// NewScorer creates a confidence scorer.
func NewScorer(cfg config.ConfidenceConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Inputs carries everything the scorer needs for one request.
type Inputs struct {
	Ensemble     []domain.EnsembleForecast
	Forecasts    map[string][]domain.ModelForecast
	Weights      map[string]float64 // renormalized survivor weights
	CurrentPrice float64
	RealizedVol  float64 // stddev of daily close deltas, price points
	MissingGroup int     // optional feature groups absent from input
}

// Score produces one breakdown per horizon day. Every component and
// the overall score are clamped to [0,1].
func (s *Scorer) Score(in Inputs) []domain.ConfidenceBreakdown {
	quality := s.modelQuality(in)
	bonus := s.countBonus(len(in.Weights))

	out := make([]domain.ConfidenceBreakdown, 0, len(in.Ensemble))
	prev := in.CurrentPrice
	for _, ef := range in.Ensemble {
		agreement := clamp01(ef.Agreement)
		stability := s.stability(ef.Predicted, prev, in.RealizedVol)
		prev = ef.Predicted

		overall := s.cfg.AgreementWeight*agreement +
			s.cfg.QualityWeight*quality +
			s.cfg.StabilityWeight*stability +
			bonus

		out = append(out, domain.ConfidenceBreakdown{
			ModelAgreement:      agreement,
			ModelQuality:        quality,
			PredictionStability: stability,
			ModelCountBonus:     bonus,
			Overall:             clamp01(overall),
		})
	}
	return out
}

// modelQuality is the weighted mean of the survivors' historical
// quality, reduced multiplicatively for each missing feature group.
// The penalty is explicit: absent macro or sentiment evidence lowers
// trust in the fit rather than being silently ignored.
func (s *Scorer) modelQuality(in Inputs) float64 {
	sum, weightSum := 0.0, 0.0
	for id, w := range in.Weights {
		fs := in.Forecasts[id]
		if len(fs) == 0 {
			continue
		}
		sum += w * clamp01(fs[0].Quality)
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	quality := sum / weightSum

	for i := 0; i < in.MissingGroup; i++ {
		quality *= 1 - s.cfg.MissingGroupPenalty
	}
	return clamp01(quality)
}

// stability penalizes day-over-day forecast whipsaw relative to the
// recent realized volatility: a forecast that moves a full realized
// volatility between adjacent horizon days scores zero.
func (s *Scorer) stability(predicted, prev, realizedVol float64) float64 {
	if prev == 0 {
		return 0
	}
	if realizedVol <= 0 {
		// No volatility evidence; fall back to a relative-change norm.
		realizedVol = math.Abs(prev) * 0.01
	}
	delta := math.Abs(predicted - prev)
	return clamp01(1 - math.Min(1, delta/realizedVol))
}

// countBonus rewards ensembles with more surviving models, capped so
// breadth never substitutes for agreement or quality.
func (s *Scorer) countBonus(survivors int) float64 {
	if survivors <= 1 {
		return 0
	}
	bonus := s.cfg.CountBonusPerModel * float64(survivors-1)
	return math.Min(bonus, s.cfg.CountBonusCap)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
