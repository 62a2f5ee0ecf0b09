package domain

import (
	"sort"
	"time"
)

// Bar is a single OHLCV bar on the shared trading calendar.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MacroPoint carries macro indicator readings for one calendar step.
type MacroPoint struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// SentimentPoint is a news-derived sentiment score in [-1, 1].
type SentimentPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// SeriesSet is everything the DataProvider hands us for one symbol:
// bars plus the optional macro and sentiment series, all aligned to
// the same trading calendar.
type SeriesSet struct {
	Symbol    string           `json:"symbol"`
	Bars      []Bar            `json:"bars"`
	Macro     []MacroPoint     `json:"macro,omitempty"`
	Sentiment []SentimentPoint `json:"sentiment,omitempty"`
}

// Closes returns the close series in bar order.
func (s SeriesSet) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// FeatureGroup identifies one of the three feature families.
type FeatureGroup string

const (
	GroupTechnical FeatureGroup = "technical"
	GroupMacro     FeatureGroup = "macro"
	GroupSentiment FeatureGroup = "sentiment"
)

// FeatureVector holds the named numeric features for one time step.
// A group absent from Available was not supplied by the provider and
// must be excluded from dependent computations, never zero-filled.
type FeatureVector struct {
	Timestamp time.Time             `json:"timestamp"`
	Technical map[string]float64    `json:"technical"`
	Macro     map[string]float64    `json:"macro,omitempty"`
	Sentiment map[string]float64    `json:"sentiment,omitempty"`
	Available map[FeatureGroup]bool `json:"available"`
}

// GroupAvailable reports whether a feature group was supplied.
func (fv FeatureVector) GroupAvailable(g FeatureGroup) bool {
	return fv.Available[g]
}

// MissingGroups counts optional groups that were not supplied.
func (fv FeatureVector) MissingGroups() int {
	missing := 0
	for _, g := range []FeatureGroup{GroupMacro, GroupSentiment} {
		if !fv.Available[g] {
			missing++
		}
	}
	return missing
}

// Names returns the feature names of one group in canonical order.
func (fv FeatureVector) Names(g FeatureGroup) []string {
	var m map[string]float64
	switch g {
	case GroupTechnical:
		m = fv.Technical
	case GroupMacro:
		m = fv.Macro
	case GroupSentiment:
		m = fv.Sentiment
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelForecast is one model's point forecast for one horizon day.
type ModelForecast struct {
	ModelID    string  `json:"model_id"`
	HorizonDay int     `json:"horizon_day"`
	Predicted  float64 `json:"predicted_value"`
	Quality    float64 `json:"quality"` // held-out backtest score in [0,1]
}

// EnsembleForecast is the fused forecast for one horizon day.
type EnsembleForecast struct {
	HorizonDay    int                `json:"horizon_day"`
	Predicted     float64            `json:"predicted_value"`
	Contributions map[string]float64 `json:"contributions"` // model_id -> renormalized weight
	Agreement     float64            `json:"agreement_score"`
}

// ConfidenceBreakdown decomposes the calibrated confidence for one
// horizon day. Every component is clamped to [0, 1].
type ConfidenceBreakdown struct {
	ModelAgreement      float64 `json:"model_agreement"`
	ModelQuality        float64 `json:"model_quality"`
	PredictionStability float64 `json:"prediction_stability"`
	ModelCountBonus     float64 `json:"model_count_bonus"`
	Overall             float64 `json:"overall_confidence"`
}

// Direction of a trade signal or a horizon-day prediction.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// SignalStrength discretizes the weighted agreement ratio.
type SignalStrength string

const (
	StrengthVeryWeak   SignalStrength = "very_weak"
	StrengthWeak       SignalStrength = "weak"
	StrengthModerate   SignalStrength = "moderate"
	StrengthStrong     SignalStrength = "strong"
	StrengthVeryStrong SignalStrength = "very_strong"
)

// IndicatorVote is one technical condition's weighted, signed vote.
type IndicatorVote struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Vote   int     `json:"vote"` // +1 bullish, -1 bearish, 0 abstain
}

// Signal is the confirmation engine's verdict over the current
// technical feature window.
type Signal struct {
	Direction      Direction       `json:"direction"`
	Strength       SignalStrength  `json:"strength"`
	AgreementRatio float64         `json:"agreement_ratio"`
	Contributing   []IndicatorVote `json:"contributing_indicators"`
}

// AccountRisk is the caller-supplied account and risk configuration.
type AccountRisk struct {
	Capital             float64 `json:"capital"`
	MaxRiskPerTrade     float64 `json:"max_risk_per_trade"`
	MaxPositionFraction float64 `json:"max_position_fraction"`
	MinRiskReward       float64 `json:"min_risk_reward"`
}

// PositionPlan is the risk-bounded trade instruction. A plan with
// Size zero and InformationalOnly set carries levels for reference
// but must not be executed as a funded trade.
type PositionPlan struct {
	Size              float64 `json:"size"`
	EntryPrice        float64 `json:"entry_price"`
	StopLoss          float64 `json:"stop_loss"`
	TakeProfit        float64 `json:"take_profit"`
	RiskReward        float64 `json:"risk_reward_ratio"`
	KellyFraction     float64 `json:"kelly_fraction"`
	InformationalOnly bool    `json:"informational_only"`
}
