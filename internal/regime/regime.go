// Package regime labels the current market behavior of one (symbol,
// timeframe) so the scorer can weight strategies by fit.
package regime

import (
	"math"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/features"
)

// Primary is the dominant regime label
type Primary string

const (
	TrendUp        Primary = "trend_up"
	TrendDown      Primary = "trend_down"
	Range          Primary = "range"
	HighVolatility Primary = "high_volatility"
	Unknown        Primary = "unknown"
)

// Tag names attached alongside the primary label
const (
	TagLowLiquidity = "low_liquidity"
)

// Regime is the classification result. Reasons map each triggered rule to
// its numeric evidence so downstream consumers can explain the label.
type Regime struct {
	Primary    Primary            `json:"primary"`
	Tags       map[string]bool    `json:"tags"`
	Confidence float64            `json:"confidence"`
	Reasons    map[string]float64 `json:"reasons"`
}

// Classifier labels market regimes from feature vectors
type Classifier struct {
	cfg config.RegimeConfig
}

// NewClassifier creates a classifier with the given thresholds
func NewClassifier(cfg config.RegimeConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify derives the regime from a feature vector. kzLiquidity is the
// kill-zone liquidity rating (1..5); ratings of 2 or below tag the regime
// as low-liquidity without changing the primary label.
func (c *Classifier) Classify(v *features.Vector, kzLiquidity int) Regime {
	r := Regime{
		Primary: Unknown,
		Tags:    map[string]bool{},
		Reasons: map[string]float64{},
	}

	if kzLiquidity > 0 && kzLiquidity <= 2 {
		r.Tags[TagLowLiquidity] = true
		r.Reasons["kz_liquidity"] = float64(kzLiquidity)
	}

	if v == nil {
		return r
	}

	// High volatility dominates every other label.
	if v.ATRPct != nil && *v.ATRPct > c.cfg.HighVolATRPct {
		r.Primary = HighVolatility
		r.Reasons["atr_pct"] = *v.ATRPct
		r.Confidence = clamp01(*v.ATRPct / (2 * c.cfg.HighVolATRPct))
		return r
	}

	if v.EMASpread != nil {
		spread := *v.EMASpread
		if math.Abs(spread) > c.cfg.TrendEMASpread {
			if spread > 0 {
				r.Primary = TrendUp
			} else {
				r.Primary = TrendDown
			}
			r.Reasons["ema_spread"] = spread
			// Confidence scales with trend magnitude; saturates at 3x threshold.
			r.Confidence = clamp01(math.Abs(spread) / (3 * c.cfg.TrendEMASpread))
			return r
		}

		if v.BBWidth != nil &&
			*v.BBWidth >= c.cfg.RangeBBLow && *v.BBWidth <= c.cfg.RangeBBHigh {
			r.Primary = Range
			r.Reasons["ema_spread"] = spread
			r.Reasons["bb_width"] = *v.BBWidth
			r.Confidence = clamp01(1 - math.Abs(spread)/c.cfg.TrendEMASpread)
			return r
		}
	}

	return r
}

// SupportsAction reports whether the regime favors the given trade
// direction: trends favor their own direction, ranges and unknown regimes
// are direction-neutral, high volatility favors nothing.
func (r Regime) SupportsAction(bullish bool) bool {
	switch r.Primary {
	case TrendUp:
		return bullish
	case TrendDown:
		return !bullish
	case Range:
		return true
	default:
		return false
	}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
