// Package scoring combines rule-analyzer outcomes, model confidence and
// regime fit into a weighted total, and guards strategy selection with
// cooldown and hysteresis.
package scoring

import (
	"math"

	"github.com/aurictrade/auric/internal/regime"
)

// Component score contributions
const (
	confidenceScale   = 60.0
	regimeMatchBonus  = 15.0
	regimeMismatch    = -20.0
	killzoneBonus     = 10.0
	killzonePenalty   = -50.0
	spreadPenalty     = -15.0
	dxyPenalty        = -12.0
	riskRewardPenalty = -10.0
)

// Input is everything the scorer weighs for one candidate
type Input struct {
	BaseConfidence float64       // [0,1] from rules and model
	Bullish        bool          // candidate trade direction
	Regime         regime.Regime // regime fit; Unknown contributes 0
	RegimeKnown    bool
	KillzoneOK     bool // inside a tradable session
	SpreadOK       bool // spread/liquidity acceptable
	DXYAdverse     bool // dollar context against the direction
	RiskRewardOK   bool
}

// Result is the weighted score with its per-component breakdown
type Result struct {
	Total      float64            `json:"total"`
	Components map[string]float64 `json:"components"`
	Reasons    []string           `json:"reasons"`
}

// Scorer weights components per regime before summation
type Scorer struct {
	regimeWeights map[regime.Primary]map[string]float64
}

// NewScorer creates a scorer. weights maps regime → component → multiplier;
// unlisted components weigh 1.0.
func NewScorer(weights map[regime.Primary]map[string]float64) *Scorer {
	return &Scorer{regimeWeights: weights}
}

// Score accumulates component contributions, applies per-regime weights
// and collects every negative cause into reasons.
func (s *Scorer) Score(in Input) Result {
	components := map[string]float64{}
	var reasons []string

	components["confidence"] = confidenceScale * clamp01(in.BaseConfidence)

	if in.RegimeKnown && in.Regime.Primary != regime.Unknown {
		if in.Regime.SupportsAction(in.Bullish) {
			components["regime_match"] = regimeMatchBonus
		} else {
			components["regime_mismatch"] = regimeMismatch
			reasons = append(reasons, "regime_mismatch")
		}
	}

	if in.KillzoneOK {
		components["killzone"] = killzoneBonus
	} else {
		components["killzone"] = killzonePenalty
		reasons = append(reasons, "outside_killzone")
	}

	if !in.SpreadOK {
		components["spread"] = spreadPenalty
		reasons = append(reasons, "spread_too_wide")
	}
	if in.DXYAdverse {
		components["dxy"] = dxyPenalty
		reasons = append(reasons, "dxy_adverse")
	}
	if !in.RiskRewardOK {
		components["rr"] = riskRewardPenalty
		reasons = append(reasons, "risk_reward_poor")
	}

	weights := s.regimeWeights[in.Regime.Primary]
	total := 0.0
	for name, value := range components {
		w := 1.0
		if weights != nil {
			if mult, ok := weights[name]; ok {
				w = mult
			}
		}
		total += value * w
	}

	return Result{Total: total, Components: components, Reasons: reasons}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
