package analyzers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/db"
)

func TestBuildVolumeProfileEmpty(t *testing.T) {
	assert.Nil(t, BuildVolumeProfile(nil))
}

func TestBuildVolumeProfileFlatRange(t *testing.T) {
	// All candles share the same range: degenerate, no profile
	candles := []db.Candle{
		{High: 100, Low: 100, Close: 100, Volume: 10},
		{High: 100, Low: 100, Close: 100, Volume: 10},
	}
	assert.Nil(t, BuildVolumeProfile(candles))
}

func TestVolumeProfilePOCAndValueArea(t *testing.T) {
	// Heavy volume concentrated near 105, light tails at 100 and 110.
	candles := []db.Candle{
		{High: 101, Low: 100, Close: 100.5, Volume: 100},
		{High: 105.5, Low: 104.5, Close: 105, Volume: 5000},
		{High: 105.6, Low: 104.6, Close: 105.1, Volume: 5000},
		{High: 110, Low: 109, Close: 109.5, Volume: 100},
	}

	vp := BuildVolumeProfile(candles)
	require.NotNil(t, vp)
	require.Len(t, vp.Rows, 24)

	assert.InDelta(t, 10200, vp.TotalVolume, 1e-6)
	// POC sits where the heavy candles overlap.
	assert.Greater(t, vp.POC, 104.0)
	assert.Less(t, vp.POC, 106.0)
	// Value area brackets the POC.
	assert.LessOrEqual(t, vp.ValueAreaLow, vp.POC)
	assert.GreaterOrEqual(t, vp.ValueAreaHigh, vp.POC)

	// Value area holds at least 70% of total volume.
	covered := 0.0
	for _, row := range vp.Rows {
		if row.PriceLow >= vp.ValueAreaLow-1e-9 && row.PriceHigh <= vp.ValueAreaHigh+1e-9 {
			covered += row.Volume
		}
	}
	assert.GreaterOrEqual(t, covered, 0.70*vp.TotalVolume)
}

func TestVolumeProfilePosition(t *testing.T) {
	vp := &VolumeProfile{ValueAreaLow: 100, ValueAreaHigh: 110}

	assert.Equal(t, AboveValueArea, vp.Position(111))
	assert.Equal(t, BelowValueArea, vp.Position(99))
	assert.Equal(t, InsideValueArea, vp.Position(105))
	assert.Equal(t, InsideValueArea, vp.Position(100))
	assert.Equal(t, InsideValueArea, vp.Position(110))
}
