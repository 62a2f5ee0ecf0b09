package models

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/helioquant/horizon/internal/domain"
)

// ARModel is a classical autoregressive model fit on daily returns by
// least squares at inference time.
type ARModel struct {
	order   int
	window  int
	quality float64
}

// NewARModel creates an AR(order) model fitting on the trailing
// window of returns.
func NewARModel(quality float64) *ARModel {
	return &ARModel{order: 3, window: 120, quality: quality}
}

func (m *ARModel) ID() string                 { return ModelAR }
func (m *ARModel) HistoricalQuality() float64 { return m.quality }

// Forecast fits the coefficients on the trailing window and rolls the
// recursion forward one horizon day at a time.
func (m *ARModel) Forecast(ctx context.Context, closes []float64, horizon int) ([]domain.ModelForecast, error) {
	if err := validateInput(m.ID(), closes, m.order*4, horizon); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(m.ID(), "canceled: %v", err)
	}

	rets := returns(closes)
	if len(rets) > m.window {
		rets = rets[len(rets)-m.window:]
	}

	coef, err := m.fit(rets)
	if err != nil {
		return nil, err
	}

	// Roll the recursion forward.
	state := append([]float64(nil), rets...)
	predicted := make([]float64, 0, horizon)
	for day := 0; day < horizon; day++ {
		next := coef[0] // intercept
		for lag := 1; lag <= m.order; lag++ {
			next += coef[lag] * state[len(state)-lag]
		}
		next = clampReturn(next)
		predicted = append(predicted, next)
		state = append(state, next)
	}

	return walkForward(m.ID(), closes[len(closes)-1], m.quality, predicted)
}

// ridgeLambda keeps the normal matrix positive definite when the
// lagged returns are near-collinear, as they are on smooth series.
// Plain least squares fails outright there, which would disable the
// variant on perfectly valid input.
const ridgeLambda = 1e-6

// fit solves the ridge-regularized normal system (X'X + lambda*I)b = X'y.
func (m *ARModel) fit(rets []float64) ([]float64, error) {
	rows := len(rets) - m.order
	if rows < m.order+2 {
		return nil, unavailable(m.ID(), "too few observations to fit order %d", m.order)
	}

	cols := m.order + 1
	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		x.Set(i, 0, 1.0)
		for lag := 1; lag <= m.order; lag++ {
			x.Set(i, lag, rets[i+m.order-lag])
		}
		y.SetVec(i, rets[i+m.order])
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 0; i < cols; i++ {
		xtx.Set(i, i, xtx.At(i, i)+ridgeLambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, unavailable(m.ID(), "least squares did not converge: %v", err)
	}

	coef := make([]float64, cols)
	for i := range coef {
		coef[i] = beta.AtVec(i)
	}
	return coef, nil
}
