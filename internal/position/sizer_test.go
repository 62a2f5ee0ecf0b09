package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioquant/horizon/internal/config"
	"github.com/helioquant/horizon/internal/domain"
)

func defaultSizer() *Sizer {
	cfg := config.Default()
	return NewSizer(cfg.Risk, cfg.Signals.ConfirmationThreshold)
}

func confirmedUp(ratio float64) domain.Signal {
	return domain.Signal{
		Direction:      domain.DirectionUp,
		Strength:       domain.StrengthStrong,
		AgreementRatio: ratio,
	}
}

func account(capital float64) domain.AccountRisk {
	return domain.AccountRisk{Capital: capital}
}

func TestPlan_ConfirmedLong(t *testing.T) {
	plan, err := defaultSizer().Plan(Inputs{
		Signal:     confirmedUp(0.75),
		EntryPrice: 100.0,
		ATR:        2.0,
		Account:    account(100_000),
	})
	require.NoError(t, err)

	// Stop 2x ATR below entry, target 3x ATR above, RR 1.5.
	assert.InDelta(t, 96.0, plan.StopLoss, 1e-9)
	assert.InDelta(t, 106.0, plan.TakeProfit, 1e-9)
	assert.InDelta(t, 1.5, plan.RiskReward, 1e-9)
	assert.False(t, plan.InformationalOnly)
	assert.Greater(t, plan.Size, 0.0)
	assert.Greater(t, plan.KellyFraction, 0.0)
}

func TestPlan_ConfirmedShort(t *testing.T) {
	sig := confirmedUp(0.75)
	sig.Direction = domain.DirectionDown

	plan, err := defaultSizer().Plan(Inputs{
		Signal:     sig,
		EntryPrice: 100.0,
		ATR:        2.0,
		Account:    account(100_000),
	})
	require.NoError(t, err)

	assert.InDelta(t, 104.0, plan.StopLoss, 1e-9)
	assert.InDelta(t, 94.0, plan.TakeProfit, 1e-9)
	assert.False(t, plan.InformationalOnly)
	assert.Greater(t, plan.Size, 0.0)
}

func TestPlan_RiskBudgetCapsSize(t *testing.T) {
	plan, err := defaultSizer().Plan(Inputs{
		Signal:     confirmedUp(1.0),
		EntryPrice: 100.0,
		ATR:        2.0,
		Account:    account(100_000),
	})
	require.NoError(t, err)

	// Loss if stopped out never exceeds 2% of capital.
	riskPerShare := plan.EntryPrice - plan.StopLoss
	assert.LessOrEqual(t, plan.Size*riskPerShare, 0.02*100_000+1e-6)

	// Notional never exceeds 10% of capital.
	assert.LessOrEqual(t, plan.Size*plan.EntryPrice, 0.10*100_000+1e-6)
}

func TestPlan_KellyFractionCeiling(t *testing.T) {
	s := defaultSizer()
	// Even a perfect signal stays capped at the ceiling.
	assert.InDelta(t, 0.25, s.kellyFraction(1.0), 1e-9)
	// At the confirmation threshold the win probability is the base
	// 0.5 and Kelly at the historical payoff 1.5 gives (0.5*2.5-1)/1.5.
	assert.InDelta(t, 0.25/1.5, s.kellyFraction(0.60), 1e-9)
	// Stronger agreement raises the fraction monotonically while the
	// cap is not binding.
	assert.Greater(t, s.kellyFraction(0.66), s.kellyFraction(0.62))
	assert.Less(t, s.kellyFraction(0.66), 0.25)
}

func TestPlan_KellyUsesHistoricalRiskReward(t *testing.T) {
	cfg := config.Default()

	cfg.Risk.HistoricalRiskReward = 1.5
	base := NewSizer(cfg.Risk, cfg.Signals.ConfirmationThreshold)

	cfg.Risk.HistoricalRiskReward = 2.0
	generous := NewSizer(cfg.Risk, cfg.Signals.ConfirmationThreshold)

	// Better historical payoff odds raise the fraction at the same
	// agreement ratio.
	assert.InDelta(t, 0.25/1.5, base.kellyFraction(0.60), 1e-9)
	assert.InDelta(t, 0.25, generous.kellyFraction(0.60), 1e-9)
	assert.Greater(t, generous.kellyFraction(0.60), base.kellyFraction(0.60))

	// No historical edge configured: no Kelly stake at all.
	cfg.Risk.HistoricalRiskReward = 0
	none := NewSizer(cfg.Risk, cfg.Signals.ConfirmationThreshold)
	assert.Zero(t, none.kellyFraction(0.90))
}

func TestPlan_FlatSignalUsesForecastDirectionInformationally(t *testing.T) {
	plan, err := defaultSizer().Plan(Inputs{
		Signal:            domain.Signal{Direction: domain.DirectionFlat, AgreementRatio: 0.55},
		ForecastDirection: domain.DirectionUp,
		EntryPrice:        100.0,
		ATR:               2.0,
		Account:           account(100_000),
	})
	require.NoError(t, err)

	assert.True(t, plan.InformationalOnly)
	assert.Zero(t, plan.Size)
	// Reference levels still carried for the forecast direction.
	assert.InDelta(t, 96.0, plan.StopLoss, 1e-9)
	assert.InDelta(t, 106.0, plan.TakeProfit, 1e-9)
}

func TestPlan_FlatEverywhereCarriesEntryOnly(t *testing.T) {
	plan, err := defaultSizer().Plan(Inputs{
		Signal:            domain.Signal{Direction: domain.DirectionFlat},
		ForecastDirection: domain.DirectionFlat,
		EntryPrice:        100.0,
		ATR:               2.0,
		Account:           account(100_000),
	})
	require.NoError(t, err)

	assert.True(t, plan.InformationalOnly)
	assert.Zero(t, plan.Size)
	assert.Zero(t, plan.StopLoss)
	assert.Zero(t, plan.TakeProfit)
	assert.InDelta(t, 100.0, plan.EntryPrice, 1e-9)
}

func TestPlan_RiskRewardBelowMinimumIsInformational(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.MinRiskReward = 2.0 // plan RR is fixed at 1.5 by the multiples
	s := NewSizer(cfg.Risk, cfg.Signals.ConfirmationThreshold)

	plan, err := s.Plan(Inputs{
		Signal:     confirmedUp(0.9),
		EntryPrice: 100.0,
		ATR:        2.0,
		Account:    account(100_000),
	})
	require.NoError(t, err)

	assert.True(t, plan.InformationalOnly)
	assert.Zero(t, plan.Size)
	assert.InDelta(t, 1.5, plan.RiskReward, 1e-9)
	assert.InDelta(t, 96.0, plan.StopLoss, 1e-9)
}

func TestPlan_ValidatesBeforeComputing(t *testing.T) {
	s := defaultSizer()

	cases := []Inputs{
		{Signal: confirmedUp(0.9), EntryPrice: 100, ATR: 2, Account: domain.AccountRisk{Capital: 0}},
		{Signal: confirmedUp(0.9), EntryPrice: 100, ATR: 2, Account: domain.AccountRisk{Capital: -5000}},
		{Signal: confirmedUp(0.9), EntryPrice: 100, ATR: 2,
			Account: domain.AccountRisk{Capital: 1000, MaxRiskPerTrade: 1.5}},
		{Signal: confirmedUp(0.9), EntryPrice: 100, ATR: 2,
			Account: domain.AccountRisk{Capital: 1000, MaxPositionFraction: -0.1}},
		{Signal: confirmedUp(0.9), EntryPrice: 100, ATR: 2,
			Account: domain.AccountRisk{Capital: 1000, MinRiskReward: -1}},
		{Signal: confirmedUp(0.9), EntryPrice: 0, ATR: 2, Account: account(1000)},
		{Signal: confirmedUp(0.9), EntryPrice: 100, ATR: 0, Account: account(1000)},
	}
	for _, in := range cases {
		plan, err := s.Plan(in)
		assert.ErrorIs(t, err, domain.ErrInvalidRiskParameters)
		assert.Zero(t, plan)
	}
}

func TestPlan_OmittedAccountFieldsUseDefaults(t *testing.T) {
	plan, err := defaultSizer().Plan(Inputs{
		Signal:     confirmedUp(0.8),
		EntryPrice: 50.0,
		ATR:        1.0,
		Account:    account(10_000), // all limit fields zero
	})
	require.NoError(t, err)
	assert.False(t, plan.InformationalOnly)
	assert.Greater(t, plan.Size, 0.0)
}
