// Package features turns raw bar, macro and sentiment series into
// fixed-shape feature vectors for the model pool and the signal
// confirmation engine.
package features

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/helioquant/horizon/internal/domain"
)

// IndicatorConfig holds the indicator windows. The channel period is
// the longest window and therefore the minimum usable history.
type IndicatorConfig struct {
	RSIPeriod       int `yaml:"rsi_period"`
	MACDFast        int `yaml:"macd_fast"`
	MACDSlow        int `yaml:"macd_slow"`
	MACDSignal      int `yaml:"macd_signal"`
	EMAFast         int `yaml:"ema_fast"`
	EMASlow         int `yaml:"ema_slow"`
	ATRPeriod       int `yaml:"atr_period"`
	BollingerPeriod int `yaml:"bollinger_period"`
	VolumePeriod    int `yaml:"volume_period"`
	ChannelPeriod   int `yaml:"channel_period"`
	MomentumPeriod  int `yaml:"momentum_period"`
	SentimentMA     int `yaml:"sentiment_ma"`
}

// DefaultIndicatorConfig returns the standard indicator windows.
func DefaultIndicatorConfig() IndicatorConfig {
	return IndicatorConfig{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		EMAFast:         20,
		EMASlow:         50,
		ATRPeriod:       14,
		BollingerPeriod: 20,
		VolumePeriod:    20,
		ChannelPeriod:   52,
		MomentumPeriod:  10,
		SentimentMA:     5,
	}
}

// Builder computes feature vectors. It is a pure function of its
// input series and holds no per-request state.
type Builder struct {
	cfg IndicatorConfig
}

// NewBuilder creates a feature builder.
func NewBuilder(cfg IndicatorConfig) *Builder {
	return &Builder{cfg: cfg}
}

// MinBars is the minimum bar count needed to emit a single vector.
func (b *Builder) MinBars() int {
	min := b.cfg.ChannelPeriod
	if w := b.cfg.EMASlow; w > min {
		min = w
	}
	if w := b.cfg.MACDSlow + b.cfg.MACDSignal; w > min {
		min = w
	}
	return min
}

// Build computes one FeatureVector per step from the warmup boundary
// to the last bar. Missing macro or sentiment series degrade coverage
// via availability flags; they never abort the computation.
func (b *Builder) Build(set domain.SeriesSet) ([]domain.FeatureVector, error) {
	minBars := b.MinBars()
	if len(set.Bars) < minBars {
		return nil, fmt.Errorf("%w: %d bars for %s, need at least %d",
			domain.ErrInsufficientHistory, len(set.Bars), set.Symbol, minBars)
	}

	n := len(set.Bars)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, bar := range set.Bars {
		highs[i] = bar.High
		lows[i] = bar.Low
		closes[i] = bar.Close
		volumes[i] = bar.Volume
	}

	rsi := talib.Rsi(closes, b.cfg.RSIPeriod)
	macd, macdSignal, macdHist := talib.Macd(closes, b.cfg.MACDFast, b.cfg.MACDSlow, b.cfg.MACDSignal)
	emaFast := talib.Ema(closes, b.cfg.EMAFast)
	emaSlow := talib.Ema(closes, b.cfg.EMASlow)
	atr := talib.Atr(highs, lows, closes, b.cfg.ATRPeriod)
	bbUpper, bbMiddle, bbLower := talib.BBands(closes, b.cfg.BollingerPeriod, 2.0, 2.0, 0)
	obv := talib.Obv(closes, volumes)
	volSMA := talib.Sma(volumes, b.cfg.VolumePeriod)
	chanHigh := talib.Max(highs, b.cfg.ChannelPeriod)
	chanLow := talib.Min(lows, b.cfg.ChannelPeriod)

	vectors := make([]domain.FeatureVector, 0, n-minBars+1)
	macroIdx, sentIdx := 0, 0

	for i := minBars - 1; i < n; i++ {
		bar := set.Bars[i]

		technical := map[string]float64{
			"close":        closes[i],
			"rsi":          rsi[i],
			"macd":         macd[i],
			"macd_signal":  macdSignal[i],
			"macd_hist":    macdHist[i],
			"ema_fast":     emaFast[i],
			"ema_slow":     emaSlow[i],
			"atr":          atr[i],
			"obv":          obv[i],
			"bb_width":     bbWidth(bbUpper[i], bbMiddle[i], bbLower[i]),
			"volume_ratio": safeRatio(volumes[i], volSMA[i]),
			"channel_pos":  channelPosition(closes[i], chanHigh[i], chanLow[i]),
			"return_1d":    dailyReturn(closes, i),
			"momentum":     momentum(closes, i, b.cfg.MomentumPeriod),
			"atr_pct":      safeRatio(atr[i], closes[i]),
		}
		for name, v := range technical {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				technical[name] = 0
			}
		}

		fv := domain.FeatureVector{
			Timestamp: bar.Timestamp,
			Technical: technical,
			Available: map[domain.FeatureGroup]bool{
				domain.GroupTechnical: true,
				domain.GroupMacro:     false,
				domain.GroupSentiment: false,
			},
		}

		// A group counts as available for a vector only when a point at
		// or before the bar's timestamp exists, so vectors that predate
		// the first macro or sentiment observation stay degraded.
		macroIdx = advance(len(set.Macro), macroIdx, func(j int) bool {
			return !set.Macro[j].Timestamp.After(bar.Timestamp)
		})
		if macroIdx > 0 {
			fv.Macro = map[string]float64{}
			for name, v := range set.Macro[macroIdx-1].Values {
				fv.Macro[name] = v
			}
			fv.Available[domain.GroupMacro] = true
		}

		sentIdx = advance(len(set.Sentiment), sentIdx, func(j int) bool {
			return !set.Sentiment[j].Timestamp.After(bar.Timestamp)
		})
		if sentIdx > 0 {
			fv.Sentiment = map[string]float64{
				"score":    set.Sentiment[sentIdx-1].Score,
				"score_ma": sentimentMA(set.Sentiment[:sentIdx], b.cfg.SentimentMA),
			}
			fv.Available[domain.GroupSentiment] = true
		}

		vectors = append(vectors, fv)
	}

	return vectors, nil
}

// Latest is a convenience wrapper returning only the newest vector.
func (b *Builder) Latest(set domain.SeriesSet) (domain.FeatureVector, error) {
	vectors, err := b.Build(set)
	if err != nil {
		return domain.FeatureVector{}, err
	}
	return vectors[len(vectors)-1], nil
}

// advance moves idx forward while ok(idx) holds.
func advance(n, idx int, ok func(int) bool) int {
	for idx < n && ok(idx) {
		idx++
	}
	return idx
}

func bbWidth(upper, middle, lower float64) float64 {
	if middle == 0 {
		return 0
	}
	return (upper - lower) / middle
}

func safeRatio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func channelPosition(close, high, low float64) float64 {
	if high <= low {
		return 0.5
	}
	pos := (close - low) / (high - low)
	return math.Max(0, math.Min(1, pos))
}

func dailyReturn(closes []float64, i int) float64 {
	if i == 0 || closes[i-1] == 0 {
		return 0
	}
	return closes[i]/closes[i-1] - 1
}

func momentum(closes []float64, i, period int) float64 {
	if i < period || closes[i-period] == 0 {
		return 0
	}
	return closes[i]/closes[i-period] - 1
}

func sentimentMA(points []domain.SentimentPoint, window int) float64 {
	if len(points) == 0 {
		return 0
	}
	start := len(points) - window
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, p := range points[start:] {
		sum += p.Score
	}
	return sum / float64(len(points)-start)
}

// RealizedVolatility is the standard deviation of close-to-close
// deltas (in price points) over the trailing window. The confidence
// scorer uses it to normalize forecast whipsaw.
func RealizedVolatility(closes []float64, window int) float64 {
	if window < 2 || len(closes) < 2 {
		return 0
	}
	start := len(closes) - window - 1
	if start < 0 {
		start = 0
	}
	deltas := make([]float64, 0, window)
	for i := start + 1; i < len(closes); i++ {
		deltas = append(deltas, closes[i]-closes[i-1])
	}
	if len(deltas) < 2 {
		return 0
	}
	mean := 0.0
	for _, d := range deltas {
		mean += d
	}
	mean /= float64(len(deltas))
	ss := 0.0
	for _, d := range deltas {
		ss += (d - mean) * (d - mean)
	}
	return math.Sqrt(ss / float64(len(deltas)-1))
}
