package dxy

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/settings"
)

type memSettings struct {
	values map[string]string
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memSettings) SetSettings(_ context.Context, kv map[string]string) error {
	for k, v := range kv {
		m.values[k] = v
	}
	return nil
}

type fakeProvider struct {
	name   string
	prices []float64
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchIndex(context.Context) (float64, time.Time, error) {
	f.calls++
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	i := f.calls - 1
	if i >= len(f.prices) {
		i = len(f.prices) - 1
	}
	return f.prices[i], time.Now(), nil
}

type fakeGold struct {
	prices []float64
	err    error
	calls  int
}

func (f *fakeGold) LastPrice(context.Context) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	i := f.calls - 1
	if i >= len(f.prices) {
		i = len(f.prices) - 1
	}
	return f.prices[i], nil
}

func testService(t *testing.T, providers []Provider, gold GoldFeed) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc := NewService(
		config.DXYConfig{SeriesMaxLen: 10},
		rdb,
		settings.NewService(&memSettings{values: map[string]string{}}),
		providers,
		gold,
	)
	return svc, mr
}

func TestRefreshWritesContext(t *testing.T) {
	provider := &fakeProvider{name: "primary", prices: []float64{104.20}}
	svc, _ := testService(t, []Provider{provider}, &fakeGold{prices: []float64{1950}})

	require.NoError(t, svc.Refresh(context.Background()))

	got, err := svc.Context(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "primary", got.Provider)
	assert.Equal(t, 104.20, got.CurrentDXY)
	assert.Equal(t, ImpactNeutral, got.Impact, "first refresh has no previous price")
	assert.Equal(t, StrengthLow, got.Strength)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRefreshSkipsWithinInterval(t *testing.T) {
	provider := &fakeProvider{name: "primary", prices: []float64{104.20}}
	svc, _ := testService(t, []Provider{provider}, nil)
	svc.settings = settings.NewService(&memSettings{values: map[string]string{
		settings.KeyDXYRefreshSeconds: "30",
	}})
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Refresh(context.Background()))
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 1, provider.calls, "second call inside the interval is a no-op")

	now = now.Add(31 * time.Second)
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 2, provider.calls)
}

func TestProviderFallback(t *testing.T) {
	broken := &fakeProvider{name: "primary", err: errors.New("upstream 500")}
	backup := &fakeProvider{name: "fallback", prices: []float64{103.85}}
	svc, _ := testService(t, []Provider{broken, backup}, nil)

	require.NoError(t, svc.Refresh(context.Background()))

	got, err := svc.Context(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "fallback", got.Provider)
	assert.Equal(t, 103.85, got.CurrentDXY)
}

func TestAllProvidersFailServesStale(t *testing.T) {
	provider := &fakeProvider{name: "primary", prices: []float64{104.20}}
	svc, _ := testService(t, []Provider{provider}, nil)
	require.NoError(t, svc.Refresh(context.Background()))

	provider.err = errors.New("upstream down")
	svc.lastRefresh = time.Time{} // force past the skip window

	err := svc.Refresh(context.Background())
	require.Error(t, err)

	got, err := svc.Context(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got, "stale context keeps serving")
	assert.Equal(t, 104.20, got.CurrentDXY)
}

func TestImpactClassification(t *testing.T) {
	prev := &Context{CurrentDXY: 104.00}

	tests := []struct {
		name     string
		price    float64
		impact   Impact
		strength Strength
	}{
		{"tiny move is neutral", 104.02, ImpactNeutral, StrengthLow},
		{"small rise is bearish low", 104.04, ImpactBearish, StrengthLow},
		{"moderate rise is bearish moderate", 104.08, ImpactBearish, StrengthModerate},
		{"large rise is bearish strong", 104.15, ImpactBearish, StrengthStrong},
		{"large drop is bullish strong", 103.85, ImpactBullish, StrengthStrong},
		{"moderate threshold exactly", 104.06, ImpactBearish, StrengthModerate},
		{"strong threshold exactly", 104.12, ImpactBearish, StrengthStrong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impact, strength := classifyMove(tt.price, prev)
			assert.Equal(t, tt.impact, impact)
			assert.Equal(t, tt.strength, strength)
		})
	}
}

func TestSeriesTrimmedToMaxLen(t *testing.T) {
	provider := &fakeProvider{name: "primary", prices: []float64{104.0}}
	svc, mr := testService(t, []Provider{provider}, nil)
	svc.cfg.SeriesMaxLen = 5

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		svc.lastRefresh = time.Time{}
		require.NoError(t, svc.Refresh(ctx))
	}

	values, err := mr.List(seriesKeyDXY)
	require.NoError(t, err)
	assert.Len(t, values, 5)
}

func TestCorrelationFromSeries(t *testing.T) {
	// Every DXY up-tick pairs with a gold down-tick and vice versa, so the
	// return correlation comes out strongly negative.
	dxyPath := []float64{104.0, 104.2, 104.1, 104.3, 104.2, 104.4, 104.3}
	xauPath := []float64{1950, 1945, 1950, 1944, 1950, 1943, 1950}

	provider := &fakeProvider{name: "primary", prices: dxyPath}
	gold := &fakeGold{prices: xauPath}
	svc, _ := testService(t, []Provider{provider}, gold)

	ctx := context.Background()
	for range dxyPath {
		svc.lastRefresh = time.Time{}
		require.NoError(t, svc.Refresh(ctx))
	}

	got, err := svc.Context(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Negative(t, got.CorrRolling)
	assert.Equal(t, StrengthStrong, got.CorrStrength)
}

func TestCorrelationAlignsNewestPairs(t *testing.T) {
	// The DXY series predates the gold series by six observations. The old
	// DXY zigzag moves with gold; the recent one moves against it. Only the
	// newest pairs overlap in time, so the correlation must come out
	// negative.
	dxyPath := []float64{
		104.0, 103.8, 104.0, 103.8, 104.0, 103.8,
		104.0, 104.2, 104.1, 104.3, 104.2, 104.4, 104.3,
	}
	xauPath := []float64{1950, 1945, 1950, 1944, 1950, 1943, 1950}

	svc, mr := testService(t, nil, nil)
	for _, v := range dxyPath {
		_, err := mr.Lpush(seriesKeyDXY, strconv.FormatFloat(v, 'f', -1, 64))
		require.NoError(t, err)
	}
	for _, v := range xauPath {
		_, err := mr.Lpush(seriesKeyXAU, strconv.FormatFloat(v, 'f', -1, 64))
		require.NoError(t, err)
	}

	r, strength := svc.correlation(context.Background())
	assert.Negative(t, r)
	assert.Equal(t, StrengthStrong, strength)
}

func TestCorrelationNeedsEnoughPairs(t *testing.T) {
	provider := &fakeProvider{name: "primary", prices: []float64{104.0, 104.1, 104.2}}
	gold := &fakeGold{prices: []float64{1950, 1949, 1948}}
	svc, _ := testService(t, []Provider{provider}, gold)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.lastRefresh = time.Time{}
		require.NoError(t, svc.Refresh(ctx))
	}

	got, err := svc.Context(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.CorrRolling)
	assert.Equal(t, StrengthLow, got.CorrStrength)
}

func TestCorrStrengthThresholds(t *testing.T) {
	assert.Equal(t, StrengthStrong, corrStrengthLabel(0.65))
	assert.Equal(t, StrengthStrong, corrStrengthLabel(-0.9))
	assert.Equal(t, StrengthModerate, corrStrengthLabel(0.35))
	assert.Equal(t, StrengthModerate, corrStrengthLabel(-0.5))
	assert.Equal(t, StrengthLow, corrStrengthLabel(0.34))
	assert.Equal(t, StrengthLow, corrStrengthLabel(0))
}
