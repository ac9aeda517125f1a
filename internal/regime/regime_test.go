package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/features"
)

func testClassifier() *Classifier {
	return NewClassifier(config.RegimeConfig{
		HighVolATRPct:  0.006,
		TrendEMASpread: 0.0015,
		RangeBBLow:     0.005,
		RangeBBHigh:    0.025,
	})
}

func fp(f float64) *float64 { return &f }

func vector(atrPct, emaSpread, bbWidth *float64) *features.Vector {
	return &features.Vector{
		LastClose: 1950,
		ATRPct:    atrPct,
		EMASpread: emaSpread,
		BBWidth:   bbWidth,
	}
}

func TestClassifyHighVolatilityDominates(t *testing.T) {
	// ATR% above threshold wins even with a strong trend spread
	r := testClassifier().Classify(vector(fp(0.009), fp(0.01), fp(0.01)), 4)

	assert.Equal(t, HighVolatility, r.Primary)
	assert.InDelta(t, 0.009, r.Reasons["atr_pct"], 1e-9)
	assert.GreaterOrEqual(t, r.Confidence, 0.0)
	assert.LessOrEqual(t, r.Confidence, 1.0)
}

func TestClassifyTrendDirections(t *testing.T) {
	tests := []struct {
		name   string
		spread float64
		want   Primary
	}{
		{"up", 0.004, TrendUp},
		{"down", -0.004, TrendDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testClassifier().Classify(vector(fp(0.002), fp(tt.spread), nil), 4)
			assert.Equal(t, tt.want, r.Primary)
			assert.Positive(t, r.Confidence)
			assert.LessOrEqual(t, r.Confidence, 1.0)
		})
	}
}

func TestClassifyRange(t *testing.T) {
	r := testClassifier().Classify(vector(fp(0.002), fp(0.0002), fp(0.012)), 4)

	assert.Equal(t, Range, r.Primary)
	assert.InDelta(t, 0.012, r.Reasons["bb_width"], 1e-9)
}

func TestClassifyUnknownWhenFieldsMissing(t *testing.T) {
	r := testClassifier().Classify(vector(nil, nil, nil), 4)
	assert.Equal(t, Unknown, r.Primary)
	assert.Zero(t, r.Confidence)
}

func TestLowLiquidityTag(t *testing.T) {
	r := testClassifier().Classify(vector(fp(0.002), fp(0.004), nil), 1)

	assert.Equal(t, TrendUp, r.Primary)
	assert.True(t, r.Tags[TagLowLiquidity])

	r = testClassifier().Classify(vector(fp(0.002), fp(0.004), nil), 4)
	assert.False(t, r.Tags[TagLowLiquidity])
}

func TestSupportsAction(t *testing.T) {
	assert.True(t, Regime{Primary: TrendUp}.SupportsAction(true))
	assert.False(t, Regime{Primary: TrendUp}.SupportsAction(false))
	assert.True(t, Regime{Primary: TrendDown}.SupportsAction(false))
	assert.True(t, Regime{Primary: Range}.SupportsAction(true))
	assert.True(t, Regime{Primary: Range}.SupportsAction(false))
	assert.False(t, Regime{Primary: HighVolatility}.SupportsAction(true))
	assert.False(t, Regime{Primary: Unknown}.SupportsAction(true))
}
