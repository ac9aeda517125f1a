package predictive

import "github.com/aurictrade/auric/internal/db"

const (
	trendFastPeriod = 20
	trendSlowPeriod = 50
)

// TrendDirection is the default rule direction: long while the fast
// average sits above the slow one, short while below, flat until enough
// history exists.
func TrendDirection(window []db.Candle) int {
	if len(window) < trendSlowPeriod {
		return 0
	}

	fast := meanClose(window[len(window)-trendFastPeriod:])
	slow := meanClose(window[len(window)-trendSlowPeriod:])
	switch {
	case fast > slow:
		return 1
	case fast < slow:
		return -1
	default:
		return 0
	}
}

func meanClose(candles []db.Candle) float64 {
	var sum float64
	for _, c := range candles {
		sum += c.Close
	}
	return sum / float64(len(candles))
}
