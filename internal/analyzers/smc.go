// Package analyzers holds the pure per-window rule analyzers: smart-money
// concepts, volume profile, price action patterns and the kill-zone clock.
// Every analyzer is a pure function over an ordered candle window.
package analyzers

import (
	"math"

	"github.com/aurictrade/auric/internal/db"
)

// Direction labels a detected structure as bullish or bearish
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// OrderBlock is the last opposite-direction candle before a strong
// displacement, used as a support/resistance zone.
type OrderBlock struct {
	Type  Direction `json:"type"`
	Index int       `json:"index"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
}

// FairValueGap is a three-bar imbalance where bar 3's range does not
// overlap bar 1's in one direction.
type FairValueGap struct {
	Type  Direction `json:"type"`
	Upper float64   `json:"upper"`
	Lower float64   `json:"lower"`
	Index int       `json:"index"`
}

// LiquiditySweep is a brief break of a prior swing that closes back
// inside, implying stop hunting. A sweep of highs is bearish.
type LiquiditySweep struct {
	Type  Direction `json:"type"`
	Level float64   `json:"level"`
	Index int       `json:"index"`
}

// SMCResult aggregates the smart-money structures of one window
type SMCResult struct {
	OrderBlocks []OrderBlock     `json:"order_blocks"`
	FVGs        []FairValueGap   `json:"fvgs"`
	Sweeps      []LiquiditySweep `json:"sweeps"`
	BOS         *Direction       `json:"bos,omitempty"` // break of structure
}

const (
	displacementBodyFactor = 1.5    // body vs average body to count as displacement
	fvgMinSizePct          = 0.0005 // min gap size relative to price
	sweepLookback          = 20     // swing window for sweep detection
	swingStrength          = 2      // bars each side for swing points
)

// AnalyzeSMC detects order blocks, fair value gaps, liquidity sweeps and a
// break-of-structure flag over the candle window.
func AnalyzeSMC(candles []db.Candle) SMCResult {
	res := SMCResult{}
	if len(candles) < 5 {
		return res
	}

	avgBody := averageBody(candles)
	res.OrderBlocks = findOrderBlocks(candles, avgBody)
	res.FVGs = findFairValueGaps(candles)
	res.Sweeps = findLiquiditySweeps(candles)
	res.BOS = breakOfStructure(candles)

	return res
}

func averageBody(candles []db.Candle) float64 {
	sum := 0.0
	for _, c := range candles {
		sum += math.Abs(c.Close - c.Open)
	}
	return sum / float64(len(candles))
}

// findOrderBlocks scans for displacement candles and records the last
// opposite candle before each as an order block.
func findOrderBlocks(candles []db.Candle, avgBody float64) []OrderBlock {
	if avgBody == 0 {
		return nil
	}

	var blocks []OrderBlock
	for i := 1; i < len(candles); i++ {
		body := candles[i].Close - candles[i].Open
		if math.Abs(body) < displacementBodyFactor*avgBody {
			continue
		}

		bullish := body > 0
		// Walk back to the last candle of the opposite direction.
		for j := i - 1; j >= 0 && j >= i-3; j-- {
			prevBody := candles[j].Close - candles[j].Open
			if (bullish && prevBody < 0) || (!bullish && prevBody > 0) {
				obType := Bullish
				if !bullish {
					obType = Bearish
				}
				blocks = append(blocks, OrderBlock{
					Type:  obType,
					Index: j,
					High:  candles[j].High,
					Low:   candles[j].Low,
				})
				break
			}
		}
	}
	return blocks
}

// findFairValueGaps detects three-bar imbalances of at least fvgMinSizePct
// of the middle-bar close.
func findFairValueGaps(candles []db.Candle) []FairValueGap {
	var gaps []FairValueGap
	for i := 2; i < len(candles); i++ {
		minSize := fvgMinSizePct * candles[i-1].Close

		// Bullish: bar i's low gaps above bar i-2's high.
		if gap := candles[i].Low - candles[i-2].High; gap >= minSize {
			gaps = append(gaps, FairValueGap{
				Type:  Bullish,
				Upper: candles[i].Low,
				Lower: candles[i-2].High,
				Index: i - 1,
			})
		}
		// Bearish: bar i's high gaps below bar i-2's low.
		if gap := candles[i-2].Low - candles[i].High; gap >= minSize {
			gaps = append(gaps, FairValueGap{
				Type:  Bearish,
				Upper: candles[i-2].Low,
				Lower: candles[i].High,
				Index: i - 1,
			})
		}
	}
	return gaps
}

// findLiquiditySweeps checks the last few candles for wicks beyond the
// prior swing extreme that closed back inside.
func findLiquiditySweeps(candles []db.Candle) []LiquiditySweep {
	if len(candles) < sweepLookback+2 {
		return nil
	}

	var sweeps []LiquiditySweep
	start := len(candles) - 3
	for i := start; i < len(candles); i++ {
		window := candles[i-sweepLookback : i]
		swingHigh, swingLow := windowExtremes(window)

		if candles[i].High > swingHigh && candles[i].Close < swingHigh {
			sweeps = append(sweeps, LiquiditySweep{Type: Bearish, Level: swingHigh, Index: i})
		}
		if candles[i].Low < swingLow && candles[i].Close > swingLow {
			sweeps = append(sweeps, LiquiditySweep{Type: Bullish, Level: swingLow, Index: i})
		}
	}
	return sweeps
}

func windowExtremes(window []db.Candle) (high, low float64) {
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, c := range window {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// breakOfStructure compares the counts of rising swing highs and falling
// swing lows; a clear majority one way flags a BOS in that direction.
func breakOfStructure(candles []db.Candle) *Direction {
	highs, lows := swingPoints(candles, swingStrength)
	if len(highs) < 2 || len(lows) < 2 {
		return nil
	}

	higherHighs, lowerLows := 0, 0
	for i := 1; i < len(highs); i++ {
		if highs[i].price > highs[i-1].price {
			higherHighs++
		}
	}
	for i := 1; i < len(lows); i++ {
		if lows[i].price < lows[i-1].price {
			lowerLows++
		}
	}

	switch {
	case higherHighs > lowerLows:
		d := Bullish
		return &d
	case lowerLows > higherHighs:
		d := Bearish
		return &d
	}
	return nil
}

type swingPoint struct {
	index int
	price float64
}

// swingPoints returns fractal swing highs and lows: bars whose extreme
// exceeds the k bars on each side.
func swingPoints(candles []db.Candle, k int) (highs, lows []swingPoint) {
	for i := k; i < len(candles)-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, swingPoint{i, candles[i].High})
		}
		if isLow {
			lows = append(lows, swingPoint{i, candles[i].Low})
		}
	}
	return highs, lows
}
