package models

import (
	"context"
	"math"

	"github.com/helioquant/horizon/internal/domain"
)

// RecurrentModel scans the normalized return sequence through a
// single tanh recurrence cell and decodes the terminal hidden state
// into a damped return trajectory. The cell weights are pre-trained
// constants, so inference is deterministic.
type RecurrentModel struct {
	wIn     float64
	wRec    float64
	wOut    float64
	decay   float64
	window  int
	quality float64
}

// NewRecurrentModel creates the recurrent sequence model.
func NewRecurrentModel(quality float64) *RecurrentModel {
	return &RecurrentModel{
		wIn:     1.2,
		wRec:    0.55,
		wOut:    0.9,
		decay:   0.85,
		window:  90,
		quality: quality,
	}
}

func (m *RecurrentModel) ID() string                 { return ModelRecurrent }
func (m *RecurrentModel) HistoricalQuality() float64 { return m.quality }

// Forecast runs the recurrence over the trailing window and projects
// the decoded return forward with geometric damping toward the mean.
func (m *RecurrentModel) Forecast(ctx context.Context, closes []float64, horizon int) ([]domain.ModelForecast, error) {
	if err := validateInput(m.ID(), closes, 20, horizon); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(m.ID(), "canceled: %v", err)
	}

	rets := returns(closes)
	if len(rets) > m.window {
		rets = rets[len(rets)-m.window:]
	}

	mean, std := meanStd(rets)
	if std == 0 {
		// A constant series carries no state; project the mean.
		std = 1e-9
	}

	h := 0.0
	for _, r := range rets {
		z := (r - mean) / std
		h = math.Tanh(m.wIn*z + m.wRec*h)
	}
	if math.IsNaN(h) {
		return nil, unavailable(m.ID(), "hidden state diverged")
	}

	predicted := make([]float64, 0, horizon)
	signal := m.wOut * h
	for day := 0; day < horizon; day++ {
		r := mean + signal*std
		predicted = append(predicted, clampReturn(r))
		signal *= m.decay
	}

	return walkForward(m.ID(), closes[len(closes)-1], m.quality, predicted)
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
