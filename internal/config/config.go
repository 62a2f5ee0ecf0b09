package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the versioned configuration for the whole forecasting
// core. Every weight table and threshold the pipeline consumes lives
// here; nothing is module-global mutable state.
type Config struct {
	Horizon    HorizonConfig    `yaml:"horizon"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Models     ModelsConfig     `yaml:"models"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Signals    SignalConfig     `yaml:"signals"`
	Risk       RiskConfig       `yaml:"risk"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
}

// HorizonConfig controls the forecast window and calendar mapping.
type HorizonConfig struct {
	Days       int    `yaml:"days"`        // forecast horizon in trading days
	MinHistory int    `yaml:"min_history"` // longest indicator window
	DefaultMIC string `yaml:"default_mic"` // exchange calendar fallback
}

// EnsembleConfig holds base model weights and the agreement mapping.
type EnsembleConfig struct {
	// Base weights per model variant, renormalized to sum 1 after any
	// model removal. Defaults derive from historical backtests.
	Weights map[string]float64 `yaml:"weights"`

	// DispersionRef is the weighted coefficient of variation treated
	// as total disagreement: agreement = 1 - min(1, cv/dispersion_ref).
	DispersionRef float64 `yaml:"dispersion_ref"`

	// MinSurvivorFraction: below this fraction of surviving models the
	// request fails rather than emitting a thin ensemble.
	MinSurvivorFraction float64 `yaml:"min_survivor_fraction"`

	WeightSumTolerance float64 `yaml:"weight_sum_tolerance"`
}

// ModelsConfig controls model execution and supplies the out-of-band
// historical quality scores.
type ModelsConfig struct {
	Timeout time.Duration `yaml:"timeout"` // per-model inference budget

	// Quality: held-out backtest score per model in [0,1], written by
	// the external retraining process.
	Quality map[string]float64 `yaml:"quality"`

	// Circuit breaker settings for persistently failing models.
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `yaml:"breaker_open_for"`
}

// ConfidenceConfig holds the fixed combination weights and the
// missing-group quality penalty.
type ConfidenceConfig struct {
	AgreementWeight     float64 `yaml:"agreement_weight"`
	QualityWeight       float64 `yaml:"quality_weight"`
	StabilityWeight     float64 `yaml:"stability_weight"`
	CountBonusPerModel  float64 `yaml:"count_bonus_per_model"`
	CountBonusCap       float64 `yaml:"count_bonus_cap"`
	MissingGroupPenalty float64 `yaml:"missing_group_penalty"`
	StabilityWindow     int     `yaml:"stability_window"` // realized vol lookback
}

// SignalConfig holds indicator vote weights and the confirmation
// threshold.
type SignalConfig struct {
	IndicatorWeights      map[string]float64 `yaml:"indicator_weights"`
	ConfirmationThreshold float64            `yaml:"confirmation_threshold"`
	RSIOversold           float64            `yaml:"rsi_oversold"`
	RSIOverbought         float64            `yaml:"rsi_overbought"`
	VolumeConfirmRatio    float64            `yaml:"volume_confirm_ratio"`
	ChannelBreakoutUpper  float64            `yaml:"channel_breakout_upper"`
	ChannelBreakoutLower  float64            `yaml:"channel_breakout_lower"`
}

// RiskConfig holds position sizing defaults. Per-request account
// parameters override the account-level fields when supplied.
type RiskConfig struct {
	MaxRiskPerTrade      float64 `yaml:"max_risk_per_trade"`
	MaxPositionFraction  float64 `yaml:"max_position_fraction"`
	MinRiskReward        float64 `yaml:"min_risk_reward"`
	KellyCeiling         float64 `yaml:"kelly_ceiling"`
	HistoricalRiskReward float64 `yaml:"historical_risk_reward"`
	StopATRMultiple      float64 `yaml:"stop_atr_multiple"`
	TargetATRMultiple    float64 `yaml:"target_atr_multiple"`
}

// CacheConfig controls the optional result cache.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"` // empty = in-memory
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen         string  `yaml:"listen"`
	BatchWorkers   int     `yaml:"batch_workers"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// StorageConfig controls the optional Postgres record store.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"` // empty = disabled
}

// Default returns the production default configuration.
func Default() *Config {
	return &Config{
		Horizon: HorizonConfig{
			Days:       5,
			MinHistory: 52,
			DefaultMIC: "xnys",
		},
		Ensemble: EnsembleConfig{
			Weights: map[string]float64{
				"gbt":       0.30,
				"recurrent": 0.25,
				"ar":        0.20,
				"decomp":    0.15,
				"naive":     0.10,
			},
			DispersionRef:       0.005,
			MinSurvivorFraction: 0.25,
			WeightSumTolerance:  0.01,
		},
		Models: ModelsConfig{
			Timeout: 5 * time.Second,
			Quality: map[string]float64{
				"gbt":       0.74,
				"recurrent": 0.68,
				"ar":        0.61,
				"decomp":    0.58,
				"naive":     0.50,
			},
			BreakerMaxFailures: 3,
			BreakerOpenFor:     2 * time.Minute,
		},
		Confidence: ConfidenceConfig{
			AgreementWeight:     0.40,
			QualityWeight:       0.30,
			StabilityWeight:     0.20,
			CountBonusPerModel:  0.005,
			CountBonusCap:       0.10,
			MissingGroupPenalty: 0.10,
			StabilityWindow:     14,
		},
		Signals: SignalConfig{
			IndicatorWeights: map[string]float64{
				"trend_crossover":     1.8,
				"rsi_reversal":        1.5,
				"volume_confirmation": 1.4,
				"macd_histogram":      1.2,
				"channel_breakout":    1.0,
			},
			ConfirmationThreshold: 0.60,
			RSIOversold:           30.0,
			RSIOverbought:         70.0,
			VolumeConfirmRatio:    1.25,
			ChannelBreakoutUpper:  0.80,
			ChannelBreakoutLower:  0.20,
		},
		Risk: RiskConfig{
			MaxRiskPerTrade:      0.02,
			MaxPositionFraction:  0.10,
			MinRiskReward:        1.5,
			KellyCeiling:         0.25,
			HistoricalRiskReward: 1.5,
			StopATRMultiple:      2.0,
			TargetATRMultiple:    3.0,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     6 * time.Hour,
		},
		Server: ServerConfig{
			Listen:         ":8090",
			BatchWorkers:   8,
			RequestsPerSec: 50,
		},
	}
}

// LoadFromFile reads and validates a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks weight tables and thresholds.
func (c *Config) Validate() error {
	if c.Horizon.Days <= 0 {
		return fmt.Errorf("horizon days must be positive, got %d", c.Horizon.Days)
	}
	if c.Horizon.MinHistory <= 0 {
		return fmt.Errorf("min_history must be positive, got %d", c.Horizon.MinHistory)
	}

	if len(c.Ensemble.Weights) == 0 {
		return fmt.Errorf("ensemble weights are empty")
	}
	sum := 0.0
	for id, w := range c.Ensemble.Weights {
		if w < 0 {
			return fmt.Errorf("ensemble weight for %s is negative: %.3f", id, w)
		}
		sum += w
	}
	tol := c.Ensemble.WeightSumTolerance
	if tol <= 0 {
		tol = 0.01
	}
	if math.Abs(sum-1.0) > tol {
		return fmt.Errorf("ensemble weights sum to %.4f, expected 1.0 +/- %.3f", sum, tol)
	}
	if c.Ensemble.DispersionRef <= 0 {
		return fmt.Errorf("dispersion_ref must be positive, got %.4f", c.Ensemble.DispersionRef)
	}
	if c.Ensemble.MinSurvivorFraction < 0 || c.Ensemble.MinSurvivorFraction > 1 {
		return fmt.Errorf("min_survivor_fraction %.3f outside [0,1]", c.Ensemble.MinSurvivorFraction)
	}

	for id, q := range c.Models.Quality {
		if q < 0 || q > 1 {
			return fmt.Errorf("model quality for %s (%.3f) outside [0,1]", id, q)
		}
	}

	cw := c.Confidence
	if cw.AgreementWeight < 0 || cw.QualityWeight < 0 || cw.StabilityWeight < 0 {
		return fmt.Errorf("confidence weights must be non-negative")
	}
	if s := cw.AgreementWeight + cw.QualityWeight + cw.StabilityWeight; s > 1.0+1e-9 {
		return fmt.Errorf("confidence weights sum to %.3f, expected at most 1.0", s)
	}
	if cw.CountBonusCap < 0 || cw.CountBonusCap > 0.5 {
		return fmt.Errorf("count_bonus_cap %.3f outside [0, 0.5]", cw.CountBonusCap)
	}
	if cw.MissingGroupPenalty < 0 || cw.MissingGroupPenalty > 1 {
		return fmt.Errorf("missing_group_penalty %.3f outside [0,1]", cw.MissingGroupPenalty)
	}

	if len(c.Signals.IndicatorWeights) == 0 {
		return fmt.Errorf("indicator weights are empty")
	}
	for name, w := range c.Signals.IndicatorWeights {
		if w <= 0 {
			return fmt.Errorf("indicator weight for %s must be positive, got %.2f", name, w)
		}
	}
	if t := c.Signals.ConfirmationThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("confirmation_threshold %.3f outside (0,1]", t)
	}

	r := c.Risk
	if r.KellyCeiling <= 0 || r.KellyCeiling > 1 {
		return fmt.Errorf("kelly_ceiling %.3f outside (0,1]", r.KellyCeiling)
	}
	if r.MaxPositionFraction <= 0 || r.MaxPositionFraction > 1 {
		return fmt.Errorf("max_position_fraction %.3f outside (0,1]", r.MaxPositionFraction)
	}
	if r.MinRiskReward <= 0 {
		return fmt.Errorf("min_risk_reward must be positive, got %.2f", r.MinRiskReward)
	}
	if r.StopATRMultiple <= 0 || r.TargetATRMultiple <= 0 {
		return fmt.Errorf("ATR multiples must be positive")
	}

	return nil
}

// Hash returns a stable digest of the configuration, used to key the
// result cache so a config change never serves stale records.
func (c *Config) Hash() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		// Marshal of a plain struct cannot fail in practice.
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
