package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

func defaultScorer() *Scorer {
	return NewScorer(config.Default().Confidence)
}

func fourModelInputs(agreement float64) Inputs {
	weights := map[string]float64{"gbt": 0.333, "recurrent": 0.278, "ar": 0.222, "decomp": 0.167}
	forecasts := map[string][]domain.ModelForecast{}
	for id := range weights {
		forecasts[id] = []domain.ModelForecast{{ModelID: id, HorizonDay: 1, Predicted: 175.3, Quality: 0.70}}
	}
	return Inputs{
		Ensemble: []domain.EnsembleForecast{{
			HorizonDay: 1, Predicted: 175.3, Agreement: agreement,
		}},
		Forecasts:    forecasts,
		Weights:      weights,
		CurrentPrice: 175.0,
		RealizedVol:  2.0,
	}
}

func TestScore_FixedWeightCombination(t *testing.T) {
	// agreement=0.85, quality=0.70, four survivors => bonus 0.015.
	in := fourModelInputs(0.85)
	// Pin stability by making the day-1 move a known fraction of vol:
	// delta 0.3 over vol 2.0 -> stability 0.85.
	out := defaultScorer().Score(in)
	require.Len(t, out, 1)

	b := out[0]
	assert.InDelta(t, 0.85, b.ModelAgreement, 1e-9)
	assert.InDelta(t, 0.70, b.ModelQuality, 1e-9)
	assert.InDelta(t, 0.85, b.PredictionStability, 1e-9)
	assert.InDelta(t, 0.015, b.ModelCountBonus, 1e-9)

	expected := 0.4*0.85 + 0.3*0.70 + 0.2*0.85 + 0.015
	assert.InDelta(t, expected, b.Overall, 1e-9)
}

func TestScore_ReferenceSubScores(t *testing.T) {
	// The contract formula over agreement=0.85, quality=0.70,
	// stability=0.65 and a 0.015 bonus.
	s := defaultScorer()
	overall := 0.4*0.85 + 0.3*0.70 + 0.2*0.65 + s.countBonus(4)
	assert.InDelta(t, 0.695, overall, 1e-9)
}

func TestScore_AllComponentsInRange(t *testing.T) {
	s := defaultScorer()

	cases := []Inputs{
		fourModelInputs(0.0),
		fourModelInputs(1.0),
		fourModelInputs(2.5),  // out-of-range agreement must clamp
		fourModelInputs(-0.5), // negative agreement must clamp
	}
	for _, in := range cases {
		for _, b := range s.Score(in) {
			for name, v := range map[string]float64{
				"model_agreement":      b.ModelAgreement,
				"model_quality":        b.ModelQuality,
				"prediction_stability": b.PredictionStability,
				"model_count_bonus":    b.ModelCountBonus,
				"overall":              b.Overall,
			} {
				assert.GreaterOrEqual(t, v, 0.0, name)
				assert.LessOrEqual(t, v, 1.0, name)
			}
		}
	}
}

func TestScore_MissingGroupPenalty(t *testing.T) {
	s := defaultScorer()

	full := fourModelInputs(0.85)
	oneMissing := fourModelInputs(0.85)
	oneMissing.MissingGroup = 1
	twoMissing := fourModelInputs(0.85)
	twoMissing.MissingGroup = 2

	qFull := s.Score(full)[0].ModelQuality
	qOne := s.Score(oneMissing)[0].ModelQuality
	qTwo := s.Score(twoMissing)[0].ModelQuality

	assert.InDelta(t, 0.70, qFull, 1e-9)
	assert.InDelta(t, 0.70*0.9, qOne, 1e-9)
	assert.InDelta(t, 0.70*0.9*0.9, qTwo, 1e-9)
	assert.Greater(t, qFull, qOne)
	assert.Greater(t, qOne, qTwo)
}

func TestScore_CountBonus(t *testing.T) {
	s := defaultScorer()
	assert.Equal(t, 0.0, s.countBonus(0))
	assert.Equal(t, 0.0, s.countBonus(1))
	assert.InDelta(t, 0.005, s.countBonus(2), 1e-9)
	assert.InDelta(t, 0.015, s.countBonus(4), 1e-9)
	// Capped regardless of breadth.
	assert.InDelta(t, 0.10, s.countBonus(50), 1e-9)
}

func TestScore_StabilityPenalizesWhipsaw(t *testing.T) {
	s := defaultScorer()

	steady := fourModelInputs(0.85)
	steady.Ensemble = []domain.EnsembleForecast{
		{HorizonDay: 1, Predicted: 175.2, Agreement: 0.85},
		{HorizonDay: 2, Predicted: 175.4, Agreement: 0.85},
	}

	whipsaw := fourModelInputs(0.85)
	whipsaw.Ensemble = []domain.EnsembleForecast{
		{HorizonDay: 1, Predicted: 180.0, Agreement: 0.85},
		{HorizonDay: 2, Predicted: 170.0, Agreement: 0.85},
	}

	steadyOut := s.Score(steady)
	whipsawOut := s.Score(whipsaw)

	assert.Greater(t, steadyOut[1].PredictionStability, whipsawOut[1].PredictionStability)
	// A jump beyond one realized vol floors stability at zero.
	assert.Equal(t, 0.0, whipsawOut[1].PredictionStability)
}
