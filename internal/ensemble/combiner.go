// Package ensemble fuses per-model forecasts into one calibrated
// forecast per horizon day using performance-derived weights.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

// Combiner applies the configured base weights, renormalized over the
// surviving models, and scores inter-model agreement.
type Combiner struct {
	weights       map[string]float64
	dispersionRef float64
}

// NewCombiner creates a combiner from the ensemble configuration.
func NewCombiner(cfg config.EnsembleConfig) *Combiner {
	ref := cfg.DispersionRef
	if ref <= 0 {
		ref = 0.005
	}
	return &Combiner{weights: cfg.Weights, dispersionRef: ref}
}

// Renormalize returns the base weights restricted to the surviving
// model ids, rescaled to sum to 1. A survivor with no configured base
// weight gets the mean of the configured weights so a new variant is
// never silently excluded.
func (c *Combiner) Renormalize(survivors []string) (map[string]float64, error) {
	if len(survivors) == 0 {
		return nil, fmt.Errorf("%w: no surviving models to weight", domain.ErrEnsembleExhausted)
	}

	meanWeight := 0.0
	for _, w := range c.weights {
		meanWeight += w
	}
	if len(c.weights) > 0 {
		meanWeight /= float64(len(c.weights))
	} else {
		meanWeight = 1.0
	}

	out := make(map[string]float64, len(survivors))
	total := 0.0
	for _, id := range survivors {
		w, ok := c.weights[id]
		if !ok {
			w = meanWeight
		}
		out[id] = w
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: surviving weights sum to zero", domain.ErrEnsembleExhausted)
	}
	for id := range out {
		out[id] /= total
	}
	return out, nil
}

// Combine fuses the surviving forecasts into one EnsembleForecast per
// horizon day. Contribution ordering follows lexical model-id order;
// the numeric result does not depend on it.
func (c *Combiner) Combine(forecasts map[string][]domain.ModelForecast, horizon int) ([]domain.EnsembleForecast, error) {
	ids := make([]string, 0, len(forecasts))
	for id := range forecasts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	weights, err := c.Renormalize(ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.EnsembleForecast, 0, horizon)
	for day := 1; day <= horizon; day++ {
		values := make([]float64, 0, len(ids))
		dayWeights := make([]float64, 0, len(ids))
		for _, id := range ids {
			fs := forecasts[id]
			if day-1 >= len(fs) {
				return nil, fmt.Errorf("model %s returned no forecast for day %d", id, day)
			}
			values = append(values, fs[day-1].Predicted)
			dayWeights = append(dayWeights, weights[id])
		}

		mean := stat.Mean(values, dayWeights)
		agreement := c.agreement(values, dayWeights, mean)

		contributions := make(map[string]float64, len(ids))
		for _, id := range ids {
			contributions[id] = weights[id]
		}

		out = append(out, domain.EnsembleForecast{
			HorizonDay:    day,
			Predicted:     mean,
			Contributions: contributions,
			Agreement:     agreement,
		})
	}
	return out, nil
}

// agreement maps the weighted dispersion of predictions, normalized
// by price scale, into [0,1]: 1 means the models coincide, 0 means
// the weighted coefficient of variation reached the reference level.
func (c *Combiner) agreement(values, weights []float64, mean float64) float64 {
	if len(values) < 2 {
		// A single model carries no dispersion evidence; treat as
		// full nominal agreement and let the count bonus differentiate.
		return 1.0
	}
	if mean == 0 {
		return 0.0
	}

	variance := 0.0
	for i, v := range values {
		variance += weights[i] * (v - mean) * (v - mean)
	}
	cv := math.Sqrt(variance) / math.Abs(mean)

	normalized := cv / c.dispersionRef
	return clamp01(1 - math.Min(1, normalized))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
