package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/dxy"
	"github.com/aurictrade/auric/internal/models"
	"github.com/aurictrade/auric/internal/scoring"
)

type fixedPredictor struct {
	pred *models.Prediction
	err  error
}

func (f *fixedPredictor) Predict(context.Context, string, string, map[string]float64) (*models.Prediction, error) {
	return f.pred, f.err
}

type fixedDXY struct{ ctx *dxy.Context }

func (f *fixedDXY) Context(context.Context) (*dxy.Context, error) { return f.ctx, nil }

func testPipeline(predictor Predictor, reader DXYReader) *Pipeline {
	return New(
		config.PipelineConfig{
			EMAFastPeriod: 20, EMASlowPeriod: 50,
			ATRPeriod: 14, BBPeriod: 20, BBStdDev: 2.0,
			MinCandles: 200,
		},
		config.RegimeConfig{
			HighVolATRPct: 0.006, TrendEMASpread: 0.0015,
			RangeBBLow: 0.005, RangeBBHigh: 0.025,
		},
		scoring.NewScorer(nil),
		predictor,
		reader,
	)
}

// trendingCandles builds a steadily rising series long enough for every
// indicator window.
func trendingCandles(n int) []db.Candle {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]db.Candle, n)
	price := 1900.0
	for i := range candles {
		price += 0.8
		candles[i] = db.Candle{
			Symbol: "XAUUSD", Timeframe: "M15",
			Time:   base.Add(time.Duration(i) * 15 * time.Minute),
			Open:   price - 0.6,
			High:   price + 0.7,
			Low:    price - 1.0,
			Close:  price,
			Volume: 1500,
		}
	}
	return candles
}

func TestAnalyzeInsufficientCandles(t *testing.T) {
	p := testPipeline(nil, nil)

	sig, err := p.Analyze(context.Background(), "XAUUSD", "M15", trendingCandles(10))
	require.NoError(t, err)

	assert.Equal(t, db.ActionWait, sig.Action)
	assert.Equal(t, []string{"insufficient_data"}, sig.Reasons)
	assert.Nil(t, sig.EntryPrice)
	assert.Equal(t, 10, sig.Context["n_bars"])
}

func TestAnalyzeTrendingMarketInSession(t *testing.T) {
	p := testPipeline(nil, nil)
	// 08:00 UTC: London kill zone.
	p.now = func() time.Time { return time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) }

	sig, err := p.Analyze(context.Background(), "XAUUSD", "M15", trendingCandles(250))
	require.NoError(t, err)

	assert.NotEqual(t, db.ActionWait, sig.Action)
	require.NotNil(t, sig.EntryPrice)

	components, ok := sig.Context["components"].(map[string]float64)
	require.True(t, ok)
	assert.InDelta(t, 10.0, components["killzone"], 1e-9)

	if sig.Action.IsTradable() {
		require.NotNil(t, sig.SuggestedSL)
		require.NotNil(t, sig.SuggestedTP)
		// Target distance is twice the risk.
		risk := *sig.EntryPrice - *sig.SuggestedSL
		reward := *sig.SuggestedTP - *sig.EntryPrice
		assert.InDelta(t, 2*risk, reward, 1e-6)
	}
}

func TestAnalyzeOutsideKillzone(t *testing.T) {
	p := testPipeline(nil, nil)
	// 22:00 UTC: every session closed.
	p.now = func() time.Time { return time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC) }

	sig, err := p.Analyze(context.Background(), "XAUUSD", "M15", trendingCandles(250))
	require.NoError(t, err)

	components, ok := sig.Context["components"].(map[string]float64)
	require.True(t, ok)
	assert.InDelta(t, -50.0, components["killzone"], 1e-9)
	assert.Contains(t, sig.Reasons, "outside_killzone")

	// Off-session hours never emit a tradable action, whatever the rules say.
	assert.Contains(t, []db.SignalAction{db.ActionNeutral, db.ActionWait}, sig.Action)
	assert.Nil(t, sig.SuggestedSL)
	assert.Nil(t, sig.SuggestedTP)
}

func TestAnalyzeStopFallbackPercent(t *testing.T) {
	// No order blocks: the stop falls back to half a percent from entry.
	entry := 1950.0
	sl, tp := stopAndTarget(entry, true, nil)
	require.NotNil(t, sl)
	assert.InDelta(t, entry*0.995, *sl, 1e-9)
	assert.InDelta(t, entry+2*(entry-*sl), *tp, 1e-9)

	sl, tp = stopAndTarget(entry, false, nil)
	assert.InDelta(t, entry*1.005, *sl, 1e-9)
	assert.InDelta(t, entry-2*(*sl-entry), *tp, 1e-9)
}

func TestActionBands(t *testing.T) {
	tests := []struct {
		score int
		want  db.SignalAction
	}{
		{75, db.ActionStrongBuy},
		{60, db.ActionStrongBuy},
		{59, db.ActionBuy},
		{40, db.ActionBuy},
		{39, db.ActionNeutral},
		{0, db.ActionNeutral},
		{-39, db.ActionNeutral},
		{-40, db.ActionSell},
		{-60, db.ActionStrongSell},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, actionFor(tt.score), "score %d", tt.score)
	}
}

func TestAnalyzeModelContradictionDowngrades(t *testing.T) {
	// Rules trend long; the model says sell. The action degrades to
	// neutral instead of flipping.
	p := testPipeline(&fixedPredictor{pred: &models.Prediction{
		Direction:   models.DirectionSell,
		Probability: 0.9,
		Proba:       [3]float64{0.9, 0.05, 0.05},
	}}, nil)
	p.now = func() time.Time { return time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) }

	sig, err := p.Analyze(context.Background(), "XAUUSD", "M15", trendingCandles(250))
	require.NoError(t, err)
	assert.Equal(t, db.ActionNeutral, sig.Action)
}

func TestAnalyzeMissingModelScoresRulesOnly(t *testing.T) {
	p := testPipeline(&fixedPredictor{err: models.ErrNoActiveModel}, nil)
	p.now = func() time.Time { return time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) }

	sig, err := p.Analyze(context.Background(), "XAUUSD", "M15", trendingCandles(250))
	require.NoError(t, err)
	assert.Nil(t, sig.Context["model"])
}

func TestAnalyzeAdverseDXYPenalty(t *testing.T) {
	strongBearish := &dxy.Context{Impact: dxy.ImpactBearish, Strength: dxy.StrengthStrong}
	p := testPipeline(nil, &fixedDXY{ctx: strongBearish})
	p.now = func() time.Time { return time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) }

	sig, err := p.Analyze(context.Background(), "XAUUSD", "M15", trendingCandles(250))
	require.NoError(t, err)

	components := sig.Context["components"].(map[string]float64)
	if sigBullish(sig) {
		assert.InDelta(t, -12.0, components["dxy"], 1e-9)
		assert.Contains(t, sig.Reasons, "dxy_adverse")
	}
}

func sigBullish(sig *Signal) bool {
	return sig.Action == db.ActionBuy || sig.Action == db.ActionStrongBuy
}
