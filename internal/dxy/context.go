// Package dxy maintains the USD-index context: a periodically refreshed
// snapshot of the dollar index, its estimated impact on gold and the
// rolling DXY-gold correlation, cached in redis for every consumer.
package dxy

import "time"

// Impact is the estimated directional effect of the dollar on gold
type Impact string

const (
	ImpactBullish Impact = "bullish"
	ImpactBearish Impact = "bearish"
	ImpactNeutral Impact = "neutral"
)

// Strength grades how pronounced the impact or correlation is
type Strength string

const (
	StrengthLow      Strength = "low"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// Context is the cached dollar-index snapshot. The service is the only
// writer; anyone may read.
type Context struct {
	Provider     string    `json:"provider"`
	Symbol       string    `json:"symbol"`
	CurrentDXY   float64   `json:"current_dxy"`
	Impact       Impact    `json:"impact"`
	Strength     Strength  `json:"strength"`
	CorrRolling  float64   `json:"corr_rolling"`
	CorrStrength Strength  `json:"corr_strength"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AdverseFor reports whether the dollar context argues against a trade
// direction on a dollar-priced metal: a strong bearish-gold impact
// opposes longs, a strong bullish one opposes shorts.
func (c *Context) AdverseFor(bullish bool) bool {
	if c == nil || c.Strength == StrengthLow {
		return false
	}
	if bullish {
		return c.Impact == ImpactBearish
	}
	return c.Impact == ImpactBullish
}
