// Package features computes the compact per-cell feature vector the
// regime classifier and model predictors consume.
package features

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
)

// Meta carries bookkeeping about the extraction window
type Meta struct {
	NBars int `json:"n_bars"`
}

// Vector is an immutable snapshot of indicator values over the most recent
// candles of one (symbol, timeframe). Indicator fields are nil when the
// series is shorter than their window.
type Vector struct {
	LastClose float64  `json:"last_close"`
	EMAFast   *float64 `json:"ema_fast"`
	EMASlow   *float64 `json:"ema_slow"`
	EMASpread *float64 `json:"ema_spread"` // (fast − slow) / last_close
	ATR       *float64 `json:"atr"`
	ATRPct    *float64 `json:"atr_pct"`
	BBWidth   *float64 `json:"bb_width"` // (2kσ)/|μ|
	Meta      Meta     `json:"meta"`
}

// AsMap flattens the vector for model feature alignment. Nil fields are
// omitted so the predictor imputes them as zero.
func (v *Vector) AsMap() map[string]float64 {
	m := map[string]float64{"last_close": v.LastClose}
	put := func(name string, f *float64) {
		if f != nil {
			m[name] = *f
		}
	}
	put("ema_fast", v.EMAFast)
	put("ema_slow", v.EMASlow)
	put("ema_spread", v.EMASpread)
	put("atr", v.ATR)
	put("atr_pct", v.ATRPct)
	put("bb_width", v.BBWidth)
	return m
}

// Extractor computes feature vectors. It is stateless between calls.
type Extractor struct {
	cfg config.PipelineConfig
}

// NewExtractor creates an extractor with the given indicator periods
func NewExtractor(cfg config.PipelineConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract computes the feature vector for an ordered candle series
func (e *Extractor) Extract(candles []db.Candle) (*Vector, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("empty market data")
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	lastClose := closes[len(closes)-1]

	v := &Vector{
		LastClose: lastClose,
		Meta:      Meta{NBars: len(candles)},
	}

	v.EMAFast = EMA(closes, e.cfg.EMAFastPeriod)
	v.EMASlow = EMA(closes, e.cfg.EMASlowPeriod)
	if v.EMAFast != nil && v.EMASlow != nil && lastClose != 0 {
		spread := (*v.EMAFast - *v.EMASlow) / lastClose
		v.EMASpread = &spread
	}

	v.ATR = ATR(candles, e.cfg.ATRPeriod)
	if v.ATR != nil && lastClose != 0 {
		pct := *v.ATR / lastClose
		v.ATRPct = &pct
	}

	v.BBWidth = BollingerWidth(closes, e.cfg.BBPeriod, e.cfg.BBStdDev)

	return v, nil
}

// EMA computes the last exponential moving average value using the
// seed-then-smooth recurrence with α = 2/(period+1): the seed is the simple
// mean of the first period values. Returns nil when the window is unmet.
func EMA(values []float64, period int) *float64 {
	if period < 1 || len(values) < period {
		return nil
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	alpha := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return &ema
}

// ATR computes the average true range as the simple mean of the last
// period true ranges. Needs period+1 candles for the first previous close.
func ATR(candles []db.Candle, period int) *float64 {
	if period < 1 || len(candles) < period+1 {
		return nil
	}

	window := candles[len(candles)-period-1:]
	sum := 0.0
	for i := 1; i < len(window); i++ {
		prevClose := window[i-1].Close
		tr := window[i].High - window[i].Low
		tr = math.Max(tr, math.Abs(window[i].High-prevClose))
		tr = math.Max(tr, math.Abs(window[i].Low-prevClose))
		sum += tr
	}
	atr := sum / float64(period)
	return &atr
}

// BollingerWidth computes (upper − lower)/|middle| over the last window,
// which equals (2kσ)/|μ|. Returns nil when the window is unmet or the
// middle band is zero.
func BollingerWidth(closes []float64, period int, stdDev float64) *float64 {
	if period < 2 || len(closes) < period {
		return nil
	}

	upper, middle, lower := talib.BBands(closes, period, stdDev, stdDev, talib.SMA)
	last := len(closes) - 1
	mid := middle[last]
	if mid == 0 || math.IsNaN(mid) {
		return nil
	}

	width := (upper[last] - lower[last]) / math.Abs(mid)
	return &width
}
