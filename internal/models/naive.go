package models

import (
	"context"

	"github.com/helioquant/horizon/internal/domain"
)

// NaiveDriftModel projects the mean drift of the trailing window. It
// is the auxiliary baseline that keeps the ensemble honest.
type NaiveDriftModel struct {
	window  int
	quality float64
}

// NewNaiveDriftModel creates the drift baseline.
func NewNaiveDriftModel(quality float64) *NaiveDriftModel {
	return &NaiveDriftModel{window: 20, quality: quality}
}

func (m *NaiveDriftModel) ID() string                 { return ModelNaive }
func (m *NaiveDriftModel) HistoricalQuality() float64 { return m.quality }

func (m *NaiveDriftModel) Forecast(ctx context.Context, closes []float64, horizon int) ([]domain.ModelForecast, error) {
	if err := validateInput(m.ID(), closes, m.window+1, horizon); err != nil {
		return nil, err
	}

	rets := returns(closes)
	drift := meanOf(rets, len(rets), m.window)

	predicted := make([]float64, horizon)
	for day := range predicted {
		predicted[day] = clampReturn(drift)
	}
	return walkForward(m.ID(), closes[len(closes)-1], m.quality, predicted)
}
