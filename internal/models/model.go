// Package models holds the closed set of point forecasters behind the
// shared Model contract. Variants are added by extending this set,
// not by ad-hoc plugins.
package models

import (
	"context"
	"fmt"
	"math"

	"github.com/helioquant/horizon/internal/domain"
)

// Model is the forecast contract every variant implements. Forecast
// must be deterministic given identical internal parameters and input.
type Model interface {
	// ID is the stable model identifier used for weighting.
	ID() string

	// HistoricalQuality is the held-out backtest score in [0,1],
	// computed by the external retraining process.
	HistoricalQuality() float64

	// Forecast predicts one value per horizon day (1-based). It may
	// fail with an error wrapping domain.ErrModelUnavailable.
	Forecast(ctx context.Context, closes []float64, horizon int) ([]domain.ModelForecast, error)
}

// Variant identifiers.
const (
	ModelGBT       = "gbt"
	ModelRecurrent = "recurrent"
	ModelAR        = "ar"
	ModelDecomp    = "decomp"
	ModelNaive     = "naive"
)

// maxDailyReturn clamps a single predicted daily return; anything
// beyond it is a sign the fit diverged.
const maxDailyReturn = 0.20

func unavailable(modelID, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrModelUnavailable, modelID, fmt.Sprintf(format, args...))
}

// returns converts a close series into simple daily returns.
func returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	return rets
}

// clampReturn bounds a predicted daily return to a sane band.
func clampReturn(r float64) float64 {
	return math.Max(-maxDailyReturn, math.Min(maxDailyReturn, r))
}

// walkForward turns predicted daily returns into price forecasts.
func walkForward(modelID string, last float64, quality float64, predicted []float64) ([]domain.ModelForecast, error) {
	out := make([]domain.ModelForecast, 0, len(predicted))
	price := last
	for day, r := range predicted {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, unavailable(modelID, "non-finite return at day %d", day+1)
		}
		price *= 1 + clampReturn(r)
		out = append(out, domain.ModelForecast{
			ModelID:    modelID,
			HorizonDay: day + 1,
			Predicted:  price,
			Quality:    quality,
		})
	}
	return out, nil
}

// validateInput rejects series a model cannot fit.
func validateInput(modelID string, closes []float64, minLen, horizon int) error {
	if horizon <= 0 {
		return unavailable(modelID, "horizon %d is not positive", horizon)
	}
	if len(closes) < minLen {
		return unavailable(modelID, "%d closes, need %d", len(closes), minLen)
	}
	for i, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return unavailable(modelID, "invalid close %.4f at index %d", c, i)
		}
	}
	return nil
}
