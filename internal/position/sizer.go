// Package position turns a confirmed signal into a risk-bounded
// position plan: ATR-derived stop and target levels, a Kelly-style
// size fraction, and hard caps from the account risk settings.
package position

import (
	"fmt"
	"math"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

// Sizer computes position plans. It never mutates its inputs and
// never emits a funded plan whose loss at the stop exceeds the
// account's per-trade risk budget.
type Sizer struct {
	cfg config.RiskConfig

	// confirmThreshold is the signal engine's confirmation threshold;
	// the Kelly win probability is interpolated from it.
	confirmThreshold float64
}

// NewSizer creates a position sizer with the configured defaults.
func NewSizer(cfg config.RiskConfig, confirmThreshold float64) *Sizer {
	return &Sizer{cfg: cfg, confirmThreshold: confirmThreshold}
}

// Inputs carries one sizing request.
type Inputs struct {
	Signal domain.Signal
	// ForecastDirection is the direction implied by the nearest
	// horizon-day forecast, used for reference levels when the
	// confirmation engine stays flat.
	ForecastDirection domain.Direction
	EntryPrice        float64
	ATR               float64
	Account           domain.AccountRisk
}

// Plan produces the position plan for in. Account parameters are
// validated before anything else; an unconfirmed signal or a
// risk/reward below the account minimum yields an informational plan
// with size zero.
func (s *Sizer) Plan(in Inputs) (domain.PositionPlan, error) {
	acct, err := s.resolveAccount(in.Account)
	if err != nil {
		return domain.PositionPlan{}, err
	}
	if in.EntryPrice <= 0 || math.IsNaN(in.EntryPrice) {
		return domain.PositionPlan{}, fmt.Errorf("%w: entry price must be positive, got %.4f",
			domain.ErrInvalidRiskParameters, in.EntryPrice)
	}
	if in.ATR <= 0 || math.IsNaN(in.ATR) {
		return domain.PositionPlan{}, fmt.Errorf("%w: ATR must be positive, got %.4f",
			domain.ErrInvalidRiskParameters, in.ATR)
	}

	direction := in.Signal.Direction
	confirmed := direction != domain.DirectionFlat
	if !confirmed {
		direction = in.ForecastDirection
	}
	if direction == domain.DirectionFlat {
		// No directional anchor at all; report the entry only.
		return domain.PositionPlan{EntryPrice: in.EntryPrice, InformationalOnly: true}, nil
	}

	riskPerShare := s.cfg.StopATRMultiple * in.ATR
	rewardPerShare := s.cfg.TargetATRMultiple * in.ATR

	plan := domain.PositionPlan{EntryPrice: in.EntryPrice}
	if direction == domain.DirectionUp {
		plan.StopLoss = in.EntryPrice - riskPerShare
		plan.TakeProfit = in.EntryPrice + rewardPerShare
	} else {
		plan.StopLoss = in.EntryPrice + riskPerShare
		plan.TakeProfit = in.EntryPrice - rewardPerShare
	}
	plan.RiskReward = rewardPerShare / riskPerShare
	plan.KellyFraction = s.kellyFraction(in.Signal.AgreementRatio)

	if !confirmed || plan.RiskReward < acct.MinRiskReward {
		plan.InformationalOnly = true
		return plan, nil
	}

	kellyShares := plan.KellyFraction * acct.Capital / in.EntryPrice
	riskShares := acct.Capital * acct.MaxRiskPerTrade / riskPerShare
	capShares := acct.MaxPositionFraction * acct.Capital / in.EntryPrice

	plan.Size = math.Min(kellyShares, math.Min(riskShares, capShares))
	return plan, nil
}

// ValidateAccount checks the account parameters without producing a
// plan. The pipeline rejects malformed risk settings before any model
// work is spent.
func (s *Sizer) ValidateAccount(a domain.AccountRisk) error {
	_, err := s.resolveAccount(a)
	return err
}

// kellyFraction maps the signal's weighted agreement onto a win
// probability and applies the Kelly criterion against the configured
// historical risk/reward as the payoff odds. The fraction is clipped
// at the configured ceiling so a single optimistic signal cannot
// demand an outsized position.
func (s *Sizer) kellyFraction(agreementRatio float64) float64 {
	payoff := s.cfg.HistoricalRiskReward
	if payoff <= 0 {
		return 0
	}
	p := 0.5
	if span := 1.0 - s.confirmThreshold; span > 0 && agreementRatio > s.confirmThreshold {
		p += 0.25 * (agreementRatio - s.confirmThreshold) / span
	}
	p = math.Max(0.5, math.Min(0.75, p))

	f := (p*(payoff+1) - 1) / payoff
	if f < 0 {
		return 0
	}
	return math.Min(f, s.cfg.KellyCeiling)
}

// resolveAccount validates caller-supplied account parameters,
// substituting configured defaults for omitted (zero) fields.
func (s *Sizer) resolveAccount(a domain.AccountRisk) (domain.AccountRisk, error) {
	if a.MaxRiskPerTrade == 0 {
		a.MaxRiskPerTrade = s.cfg.MaxRiskPerTrade
	}
	if a.MaxPositionFraction == 0 {
		a.MaxPositionFraction = s.cfg.MaxPositionFraction
	}
	if a.MinRiskReward == 0 {
		a.MinRiskReward = s.cfg.MinRiskReward
	}

	switch {
	case a.Capital <= 0 || math.IsNaN(a.Capital):
		return a, fmt.Errorf("%w: capital must be positive, got %.2f",
			domain.ErrInvalidRiskParameters, a.Capital)
	case a.MaxRiskPerTrade < 0 || a.MaxRiskPerTrade > 1:
		return a, fmt.Errorf("%w: max_risk_per_trade %.4f outside (0,1]",
			domain.ErrInvalidRiskParameters, a.MaxRiskPerTrade)
	case a.MaxPositionFraction < 0 || a.MaxPositionFraction > 1:
		return a, fmt.Errorf("%w: max_position_fraction %.4f outside (0,1]",
			domain.ErrInvalidRiskParameters, a.MaxPositionFraction)
	case a.MinRiskReward < 0:
		return a, fmt.Errorf("%w: min_risk_reward must be positive, got %.2f",
			domain.ErrInvalidRiskParameters, a.MinRiskReward)
	}
	return a, nil
}
