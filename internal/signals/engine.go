// Package signals implements a multi-indicator confirmation engine:
// five technical conditions vote with fixed weights and a signal is
// emitted only when the weighted agreement clears the threshold.
package signals

import (
	"sort"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

// Canonical indicator names. Each maps to one weighted vote.
const (
	IndicatorTrendCrossover = "trend_crossover"
	IndicatorRSIReversal    = "rsi_reversal"
	IndicatorVolumeConfirm  = "volume_confirmation"
	IndicatorMACDHistogram  = "macd_histogram"
	IndicatorChannelBreak   = "channel_breakout"
)

// Engine evaluates indicator votes over the latest feature vector.
// Evaluation is pure: the same features and config always produce the
// same signal.
type Engine struct {
	cfg config.SignalConfig
}

// NewEngine creates a confirmation engine.
func NewEngine(cfg config.SignalConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate votes all configured indicators on fv and aggregates them
// into a directional signal. Indicators that abstain contribute to
// neither side; if every indicator abstains, or the weighted majority
// falls short of the confirmation threshold, the signal is flat.
func (e *Engine) Evaluate(fv domain.FeatureVector) domain.Signal {
	votes := e.votes(fv.Technical)

	bull, bear := 0.0, 0.0
	contributing := make([]domain.IndicatorVote, 0, len(votes))
	for _, v := range votes {
		switch {
		case v.Vote > 0:
			bull += v.Weight
		case v.Vote < 0:
			bear += v.Weight
		default:
			continue
		}
		contributing = append(contributing, v)
	}
	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].Name < contributing[j].Name
	})

	evaluated := bull + bear
	if evaluated == 0 {
		return domain.Signal{
			Direction:    domain.DirectionFlat,
			Strength:     domain.StrengthVeryWeak,
			Contributing: contributing,
		}
	}

	majority := bull
	direction := domain.DirectionUp
	if bear > bull {
		majority = bear
		direction = domain.DirectionDown
	}
	ratio := majority / evaluated

	// A tie or an unconvincing majority never confirms.
	if bull == bear || ratio < e.cfg.ConfirmationThreshold {
		direction = domain.DirectionFlat
	}

	return domain.Signal{
		Direction:      direction,
		Strength:       strengthBand(ratio),
		AgreementRatio: ratio,
		Contributing:   contributing,
	}
}

// votes maps the technical feature window to signed indicator votes.
// A missing input feature makes that indicator abstain.
func (e *Engine) votes(tech map[string]float64) []domain.IndicatorVote {
	vote := func(name string, v int) domain.IndicatorVote {
		return domain.IndicatorVote{Name: name, Weight: e.cfg.IndicatorWeights[name], Vote: v}
	}

	out := make([]domain.IndicatorVote, 0, 5)

	// Fast EMA above slow EMA reads as an uptrend.
	if fast, fok := tech["ema_fast"]; fok {
		if slow, sok := tech["ema_slow"]; sok {
			out = append(out, vote(IndicatorTrendCrossover, sign(fast-slow)))
		}
	}

	// RSI extremes vote for mean reversion, against the extreme.
	if rsi, ok := tech["rsi"]; ok {
		v := 0
		switch {
		case rsi <= e.cfg.RSIOversold:
			v = 1
		case rsi >= e.cfg.RSIOverbought:
			v = -1
		}
		out = append(out, vote(IndicatorRSIReversal, v))
	}

	// Elevated volume confirms the direction of the latest move.
	if ratio, rok := tech["volume_ratio"]; rok {
		if ret, ok := tech["return_1d"]; ok {
			v := 0
			if ratio >= e.cfg.VolumeConfirmRatio {
				v = sign(ret)
			}
			out = append(out, vote(IndicatorVolumeConfirm, v))
		}
	}

	// MACD histogram sign tracks momentum of momentum.
	if hist, ok := tech["macd_hist"]; ok {
		out = append(out, vote(IndicatorMACDHistogram, sign(hist)))
	}

	// Price near a channel edge votes for continuation through it.
	if pos, ok := tech["channel_pos"]; ok {
		v := 0
		switch {
		case pos >= e.cfg.ChannelBreakoutUpper:
			v = 1
		case pos <= e.cfg.ChannelBreakoutLower:
			v = -1
		}
		out = append(out, vote(IndicatorChannelBreak, v))
	}

	return out
}

func strengthBand(ratio float64) domain.SignalStrength {
	switch {
	case ratio < 0.2:
		return domain.StrengthVeryWeak
	case ratio < 0.4:
		return domain.StrengthWeak
	case ratio < 0.6:
		return domain.StrengthModerate
	case ratio < 0.8:
		return domain.StrengthStrong
	default:
		return domain.StrengthVeryStrong
	}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
