package analyzers

import (
	"math"
	"sort"

	"github.com/cinar/indicator/v2/trend"

	"github.com/aurictrade/auric/internal/db"
)

// Pattern is a recognized candlestick pattern name
type Pattern string

const (
	Doji               Pattern = "doji"
	Hammer             Pattern = "hammer"
	ShootingStar       Pattern = "shooting_star"
	BullishEngulfing   Pattern = "bullish_engulfing"
	BearishEngulfing   Pattern = "bearish_engulfing"
	MorningStar        Pattern = "morning_star"
	EveningStar        Pattern = "evening_star"
	ThreeWhiteSoldiers Pattern = "three_white_soldiers"
	ThreeBlackCrows    Pattern = "three_black_crows"
)

// Level is a clustered support or resistance level ranked by touches
type Level struct {
	Price   float64 `json:"price"`
	Touches int     `json:"touches"`
	Kind    string  `json:"kind"` // support or resistance
}

// TrendDirection is the EMA20/50 crossover state
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// PriceActionResult aggregates patterns, levels and EMA trend for one window
type PriceActionResult struct {
	Patterns []Pattern      `json:"patterns"`
	Levels   []Level        `json:"levels"`
	Trend    TrendDirection `json:"trend"`
}

const (
	dojiBodyPct     = 0.1  // body vs range to count as doji
	wickBodyRatio   = 2.0  // wick vs body for hammer/shooting star
	levelTolerance  = 0.001 // cluster radius relative to price
	maxLevels       = 6
	trendFastPeriod = 20
	trendSlowPeriod = 50
)

// AnalyzePriceAction detects candlestick patterns on the most recent bars,
// clusters swing points into support/resistance levels and reads the
// EMA20/50 trend.
func AnalyzePriceAction(candles []db.Candle) PriceActionResult {
	res := PriceActionResult{Trend: TrendNeutral}
	if len(candles) < 3 {
		return res
	}

	res.Patterns = detectPatterns(candles)
	res.Levels = supportResistance(candles)
	res.Trend = emaTrend(candles)
	return res
}

func detectPatterns(candles []db.Candle) []Pattern {
	var out []Pattern
	n := len(candles)
	last := candles[n-1]
	prev := candles[n-2]

	if isDoji(last) {
		out = append(out, Doji)
	}
	if isHammer(last) {
		out = append(out, Hammer)
	}
	if isShootingStar(last) {
		out = append(out, ShootingStar)
	}
	if isBullish(last) && isBearish(prev) &&
		last.Close > prev.Open && last.Open < prev.Close {
		out = append(out, BullishEngulfing)
	}
	if isBearish(last) && isBullish(prev) &&
		last.Close < prev.Open && last.Open > prev.Close {
		out = append(out, BearishEngulfing)
	}

	if n >= 3 {
		a, b, c := candles[n-3], candles[n-2], candles[n-1]
		if isBearish(a) && isDoji(b) && isBullish(c) && c.Close > midpoint(a) {
			out = append(out, MorningStar)
		}
		if isBullish(a) && isDoji(b) && isBearish(c) && c.Close < midpoint(a) {
			out = append(out, EveningStar)
		}
		if isBullish(a) && isBullish(b) && isBullish(c) &&
			b.Close > a.Close && c.Close > b.Close {
			out = append(out, ThreeWhiteSoldiers)
		}
		if isBearish(a) && isBearish(b) && isBearish(c) &&
			b.Close < a.Close && c.Close < b.Close {
			out = append(out, ThreeBlackCrows)
		}
	}
	return out
}

func isBullish(c db.Candle) bool { return c.Close > c.Open }
func isBearish(c db.Candle) bool { return c.Close < c.Open }

func midpoint(c db.Candle) float64 { return (c.Open + c.Close) / 2 }

func isDoji(c db.Candle) bool {
	rng := c.High - c.Low
	if rng == 0 {
		return true
	}
	return math.Abs(c.Close-c.Open)/rng < dojiBodyPct
}

func isHammer(c db.Candle) bool {
	body := math.Abs(c.Close - c.Open)
	if body == 0 {
		return false
	}
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return lowerWick >= wickBodyRatio*body && upperWick < body
}

func isShootingStar(c db.Candle) bool {
	body := math.Abs(c.Close - c.Open)
	if body == 0 {
		return false
	}
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return upperWick >= wickBodyRatio*body && lowerWick < body
}

// supportResistance clusters fractal swing points within levelTolerance of
// each other and ranks clusters by touch count.
func supportResistance(candles []db.Candle) []Level {
	highs, lows := swingPoints(candles, swingStrength)

	levels := clusterLevels(highs, "resistance")
	levels = append(levels, clusterLevels(lows, "support")...)

	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Touches != levels[j].Touches {
			return levels[i].Touches > levels[j].Touches
		}
		return levels[i].Price < levels[j].Price
	})
	if len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}
	return levels
}

func clusterLevels(points []swingPoint, kind string) []Level {
	var levels []Level
	for _, p := range points {
		merged := false
		for i := range levels {
			if math.Abs(levels[i].Price-p.price) <= levelTolerance*p.price {
				// Running mean keeps the cluster centered.
				n := float64(levels[i].Touches)
				levels[i].Price = (levels[i].Price*n + p.price) / (n + 1)
				levels[i].Touches++
				merged = true
				break
			}
		}
		if !merged {
			levels = append(levels, Level{Price: p.price, Touches: 1, Kind: kind})
		}
	}
	return levels
}

// emaTrend reads the EMA20 vs EMA50 relationship on closes
func emaTrend(candles []db.Candle) TrendDirection {
	if len(candles) < trendSlowPeriod {
		return TrendNeutral
	}

	closes := make(chan float64, len(candles))
	closesSlow := make(chan float64, len(candles))
	for _, c := range candles {
		closes <- c.Close
		closesSlow <- c.Close
	}
	close(closes)
	close(closesSlow)

	fast := lastValue(trend.NewEmaWithPeriod[float64](trendFastPeriod).Compute(closes))
	slow := lastValue(trend.NewEmaWithPeriod[float64](trendSlowPeriod).Compute(closesSlow))
	if fast == nil || slow == nil {
		return TrendNeutral
	}

	switch {
	case *fast > *slow:
		return TrendBullish
	case *fast < *slow:
		return TrendBearish
	}
	return TrendNeutral
}

func lastValue(ch <-chan float64) *float64 {
	var last *float64
	for v := range ch {
		v := v
		last = &v
	}
	return last
}
