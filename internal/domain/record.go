package domain

import (
	"fmt"
	"time"
)

// Date marshals as a bare calendar date, the wire format the
// Presenter expects.
type Date time.Time

// MarshalJSON renders the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format("2006-01-02") + `"`), nil
}

// UnmarshalJSON parses "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse("2006-01-02", s[1:len(s)-1])
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

// Time returns the underlying time.Time.
func (d Date) Time() time.Time { return time.Time(d) }

// DayPrediction is one horizon day of the calibrated forecast.
type DayPrediction struct {
	Date                  Date      `json:"date"`
	Direction             Direction `json:"direction"`
	PredictedChangePoints float64   `json:"predicted_change_points"`
	ConfidenceScore       float64   `json:"confidence_score"`
	PredictedPrice        float64   `json:"predicted_price"`
	CurrentPrice          float64   `json:"current_price"`
	ChangePercentage      float64   `json:"change_percentage"`
}

// EnsembleDetails exposes the per-model predictions behind the fused
// forecast, keyed model_id -> horizon label ("day_1", ...).
type EnsembleDetails struct {
	ModelPredictions map[string]map[string]float64 `json:"model_predictions"`
	AgreementScore   float64                       `json:"agreement_score"`
}

// ForecastRecord is the complete output of one (symbol, as-of-date)
// request. Field names and value ranges are the contract boundary
// with the Presenter.
type ForecastRecord struct {
	ForecastDate        Date                `json:"forecast_date"`
	Symbol              string              `json:"symbol"`
	Predictions         []DayPrediction     `json:"predictions"`
	EnsembleDetails     EnsembleDetails     `json:"ensemble_details"`
	ConfidenceBreakdown ConfidenceBreakdown `json:"confidence_breakdown"`
	PositionPlan        PositionPlan        `json:"position_plan"`
}

// HorizonLabel formats a 1-based horizon day as its wire label.
func HorizonLabel(day int) string {
	return fmt.Sprintf("day_%d", day)
}
