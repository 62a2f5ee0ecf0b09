package domain

import "errors"

// Sentinel errors forming the stable failure taxonomy. Recoverable
// failures (a single model dropping out) stay inside the pipeline;
// the rest abort the request with no partial output.
var (
	// ErrInsufficientHistory: fewer bars than the longest indicator
	// window. Fatal, surfaced to the caller.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrModelUnavailable: one model failed (non-convergence, NaN,
	// timeout). Recovered by dropping the model and reweighting.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrEnsembleExhausted: too few models survived. Fatal.
	ErrEnsembleExhausted = errors.New("ensemble exhausted")

	// ErrInvalidRiskParameters: malformed account/risk configuration.
	// Fatal, checked before any computation.
	ErrInvalidRiskParameters = errors.New("invalid risk parameters")
)

// ErrorKind maps an error to its stable wire-level kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, ErrEnsembleExhausted):
		return "ensemble_exhausted"
	case errors.Is(err, ErrInvalidRiskParameters):
		return "invalid_risk_parameters"
	default:
		return "internal"
	}
}
