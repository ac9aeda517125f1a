package analyzers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/db"
)

func candle(o, h, l, c float64) db.Candle {
	return db.Candle{
		Symbol: "XAUUSD", Timeframe: "M15",
		Open: o, High: h, Low: l, Close: c, Volume: 1000,
	}
}

func stampCandles(candles []db.Candle) []db.Candle {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i].Time = base.Add(time.Duration(i) * 15 * time.Minute)
	}
	return candles
}

func TestAnalyzeSMCTooFewCandles(t *testing.T) {
	res := AnalyzeSMC([]db.Candle{candle(1, 2, 0, 1)})
	assert.Empty(t, res.OrderBlocks)
	assert.Empty(t, res.FVGs)
	assert.Nil(t, res.BOS)
}

func TestOrderBlockBeforeBullishDisplacement(t *testing.T) {
	// Small bodies, one bearish candle, then a large bullish displacement.
	candles := stampCandles([]db.Candle{
		candle(100, 101, 99.5, 100.2),
		candle(100.2, 100.8, 99.8, 100.1),
		candle(100.1, 100.5, 99.0, 99.5), // bearish: the order block
		candle(99.5, 106, 99.4, 105.5),   // displacement up
		candle(105.5, 106.2, 105, 105.8),
	})

	res := AnalyzeSMC(candles)
	require.NotEmpty(t, res.OrderBlocks)

	ob := res.OrderBlocks[0]
	assert.Equal(t, Bullish, ob.Type)
	assert.Equal(t, 2, ob.Index)
	assert.InDelta(t, 99.0, ob.Low, 1e-9)
}

func TestFairValueGapDetection(t *testing.T) {
	// Bar 3's low (104) gaps well above bar 1's high (101).
	candles := stampCandles([]db.Candle{
		candle(100, 101, 99, 100.5),
		candle(101, 104.5, 100.8, 104),
		candle(104.2, 106, 104, 105.5),
		candle(105.5, 106, 105, 105.7),
		candle(105.7, 106.1, 105.2, 105.9),
	})

	res := AnalyzeSMC(candles)
	require.NotEmpty(t, res.FVGs)

	gap := res.FVGs[0]
	assert.Equal(t, Bullish, gap.Type)
	assert.InDelta(t, 101.0, gap.Lower, 1e-9)
	assert.InDelta(t, 104.0, gap.Upper, 1e-9)
}

func TestFairValueGapBelowMinimumIgnored(t *testing.T) {
	// Gap of 0.02 on a ~100 price is under the 0.05% floor.
	candles := stampCandles([]db.Candle{
		candle(100, 100.10, 99.9, 100.05),
		candle(100.05, 100.15, 100.0, 100.1),
		candle(100.12, 100.2, 100.12, 100.18),
		candle(100.18, 100.25, 100.1, 100.2),
		candle(100.2, 100.3, 100.15, 100.25),
	})

	res := AnalyzeSMC(candles)
	assert.Empty(t, res.FVGs)
}

func TestLiquiditySweepOfHighs(t *testing.T) {
	// Flat range, then the final candle wicks above the range high and
	// closes back inside.
	var candles []db.Candle
	for i := 0; i < 25; i++ {
		candles = append(candles, candle(100, 101, 99, 100.5))
	}
	candles = append(candles, candle(100.5, 102.5, 100, 100.4))
	candles = stampCandles(candles)

	res := AnalyzeSMC(candles)
	require.NotEmpty(t, res.Sweeps)

	sw := res.Sweeps[len(res.Sweeps)-1]
	assert.Equal(t, Bearish, sw.Type)
	assert.InDelta(t, 101.0, sw.Level, 1e-9)
	assert.Equal(t, len(candles)-1, sw.Index)
}

func TestBreakOfStructureBullish(t *testing.T) {
	// Rising zigzag: higher highs and higher lows.
	var candles []db.Candle
	for i := 0; i < 10; i++ {
		base := 100 + float64(i)*2
		candles = append(candles,
			candle(base, base+3, base-0.5, base+2),
			candle(base+2, base+2.5, base+0.5, base+1),
		)
	}
	candles = stampCandles(candles)

	res := AnalyzeSMC(candles)
	require.NotNil(t, res.BOS)
	assert.Equal(t, Bullish, *res.BOS)
}
