package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
)

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		EMAFastPeriod: 20,
		EMASlowPeriod: 50,
		ATRPeriod:     14,
		BBPeriod:      20,
		BBStdDev:      2.0,
		MinCandles:    200,
	}
}

func makeCandles(closes []float64) []db.Candle {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]db.Candle, len(closes))
	for i, c := range closes {
		candles[i] = db.Candle{
			Symbol:    "XAUUSD",
			Timeframe: "M15",
			Time:      base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c - 0.5,
			High:      c + 1.0,
			Low:       c - 1.0,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

func TestExtractEmptyInput(t *testing.T) {
	_, err := NewExtractor(testConfig()).Extract(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty market data")
}

func TestExtractShortSeriesNilFields(t *testing.T) {
	// 10 bars: shorter than every indicator window except nothing
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 1950 + float64(i)
	}

	v, err := NewExtractor(testConfig()).Extract(makeCandles(closes))
	require.NoError(t, err)

	assert.Equal(t, closes[len(closes)-1], v.LastClose)
	assert.Nil(t, v.EMAFast)
	assert.Nil(t, v.EMASlow)
	assert.Nil(t, v.EMASpread)
	assert.Nil(t, v.ATR)
	assert.Nil(t, v.BBWidth)
	assert.Equal(t, 10, v.Meta.NBars)
}

func TestExtractFullSeries(t *testing.T) {
	closes := make([]float64, 100)
	for i := range closes {
		closes[i] = 1950 + 0.5*float64(i)
	}

	v, err := NewExtractor(testConfig()).Extract(makeCandles(closes))
	require.NoError(t, err)

	require.NotNil(t, v.EMAFast)
	require.NotNil(t, v.EMASlow)
	require.NotNil(t, v.EMASpread)
	require.NotNil(t, v.ATR)
	require.NotNil(t, v.ATRPct)
	require.NotNil(t, v.BBWidth)

	// Steadily rising series: fast EMA above slow EMA
	assert.Greater(t, *v.EMAFast, *v.EMASlow)
	assert.Positive(t, *v.EMASpread)
	assert.Positive(t, *v.ATRPct)
}

func TestEMASeedThenSmooth(t *testing.T) {
	// Constant series: EMA equals the constant regardless of period
	constant := make([]float64, 30)
	for i := range constant {
		constant[i] = 42.0
	}
	ema := EMA(constant, 10)
	require.NotNil(t, ema)
	assert.InDelta(t, 42.0, *ema, 1e-9)

	// Hand-computed: values 1..5, period 3.
	// seed = (1+2+3)/3 = 2, alpha = 0.5
	// ema = 0.5*4 + 0.5*2 = 3; ema = 0.5*5 + 0.5*3 = 4
	ema = EMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NotNil(t, ema)
	assert.InDelta(t, 4.0, *ema, 1e-9)

	assert.Nil(t, EMA([]float64{1, 2}, 3))
}

func TestATRSimpleMean(t *testing.T) {
	// Flat candles with constant 2.0 high-low range and no gaps
	candles := makeCandles([]float64{10, 10, 10, 10, 10, 10})
	atr := ATR(candles, 5)
	require.NotNil(t, atr)
	assert.InDelta(t, 2.0, *atr, 1e-9)

	assert.Nil(t, ATR(candles, 6)) // needs period+1 bars
}

func TestBollingerWidth(t *testing.T) {
	// Constant series: zero deviation, zero width
	constant := make([]float64, 25)
	for i := range constant {
		constant[i] = 100.0
	}
	width := BollingerWidth(constant, 20, 2.0)
	require.NotNil(t, width)
	assert.InDelta(t, 0.0, *width, 1e-9)

	// Alternating series has positive width
	alternating := make([]float64, 25)
	for i := range alternating {
		alternating[i] = 100.0 + float64(i%2)
	}
	width = BollingerWidth(alternating, 20, 2.0)
	require.NotNil(t, width)
	assert.Positive(t, *width)
	assert.False(t, math.IsNaN(*width))

	assert.Nil(t, BollingerWidth(alternating[:10], 20, 2.0))
}
