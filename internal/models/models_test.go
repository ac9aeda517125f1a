package models

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/db"
)

type fakeRegistry struct {
	rows  map[db.ModelType]*db.ModelRegistryEntry
	err   error
	calls int
}

func (f *fakeRegistry) GetActiveModel(_ context.Context, mt db.ModelType, _, _ string) (*db.ModelRegistryEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[mt], nil
}

func writeArtifact(t *testing.T, art artifact) string {
	t.Helper()
	data, err := json.Marshal(art)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func buyBiasedArtifact() artifact {
	return artifact{
		ModelType:    db.ModelTypeXGBoost,
		FeatureNames: []string{"ema_spread", "atr_pct"},
		Weights: [3][]float64{
			{-10, 0}, // sell scores fall as spread rises
			{0, 0},
			{10, 0}, // buy scores rise with spread
		},
	}
}

func TestLoadArtifactAndPredict(t *testing.T) {
	path := writeArtifact(t, buyBiasedArtifact())

	p, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ema_spread", "atr_pct"}, p.FeatureNames())

	proba, err := p.PredictProba(map[string]float64{"ema_spread": 0.5})
	require.NoError(t, err)

	sum := proba[0] + proba[1] + proba[2]
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, proba[ClassBuy], proba[ClassSell])

	// Missing features impute zero: uniform scores, uniform probabilities.
	proba, err = p.PredictProba(map[string]float64{})
	require.NoError(t, err)
	assert.InDelta(t, proba[ClassSell], proba[ClassBuy], 1e-9)
}

func TestLoadArtifactMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadArtifact(path)
	assert.Error(t, err)

	// Weight length mismatch
	art := buyBiasedArtifact()
	art.Weights[0] = []float64{1}
	_, err = LoadArtifact(writeArtifact(t, art))
	assert.Error(t, err)

	_, err = LoadArtifact(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestCacheMissingModel(t *testing.T) {
	cache := NewCache(&fakeRegistry{}, time.Minute)

	p, entry, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, entry)
}

func TestCacheReusesWithinTTL(t *testing.T) {
	path := writeArtifact(t, buyBiasedArtifact())
	reg := &fakeRegistry{rows: map[db.ModelType]*db.ModelRegistryEntry{
		db.ModelTypeXGBoost: {ModelType: db.ModelTypeXGBoost, Version: "1.2.0", ArtifactPath: path},
	}}
	cache := NewCache(reg, time.Minute)

	p1, _, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	require.NotNil(t, p1)

	p2, _, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, reg.calls, "second get within TTL skips the registry")
}

func TestCacheReloadsOnVersionChange(t *testing.T) {
	path := writeArtifact(t, buyBiasedArtifact())
	row := &db.ModelRegistryEntry{ModelType: db.ModelTypeXGBoost, Version: "1.0.0", ArtifactPath: path}
	reg := &fakeRegistry{rows: map[db.ModelType]*db.ModelRegistryEntry{db.ModelTypeXGBoost: row}}

	// Zero TTL forces a registry read on every get.
	cache := NewCache(reg, time.Nanosecond)

	p1, entry, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", entry.Version)

	// Same version: cached predictor survives the recheck.
	p2, _, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	// Version bump: reload.
	newPath := writeArtifact(t, buyBiasedArtifact())
	reg.rows[db.ModelTypeXGBoost] = &db.ModelRegistryEntry{
		ModelType: db.ModelTypeXGBoost, Version: "1.1.0", ArtifactPath: newPath,
	}
	p3, entry, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
	assert.Equal(t, "1.1.0", entry.Version)
}

func TestCacheMalformedArtifactTreatedAsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	reg := &fakeRegistry{rows: map[db.ModelType]*db.ModelRegistryEntry{
		db.ModelTypeXGBoost: {ModelType: db.ModelTypeXGBoost, Version: "1.0.0", ArtifactPath: path},
	}}
	cache := NewCache(reg, time.Minute)

	p, entry, err := cache.Get(context.Background(), db.ModelTypeXGBoost, "XAUUSD", "M15")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, entry)
}

func TestEnsemblePredict(t *testing.T) {
	path := writeArtifact(t, buyBiasedArtifact())
	lgbArt := buyBiasedArtifact()
	lgbArt.ModelType = db.ModelTypeLightGBM
	lgbPath := writeArtifact(t, lgbArt)

	reg := &fakeRegistry{rows: map[db.ModelType]*db.ModelRegistryEntry{
		db.ModelTypeXGBoost:  {ModelType: db.ModelTypeXGBoost, Version: "1.0.0", ArtifactPath: path},
		db.ModelTypeLightGBM: {ModelType: db.ModelTypeLightGBM, Version: "1.0.0", ArtifactPath: lgbPath},
	}}
	cache := NewCache(reg, time.Minute)

	pred, err := cache.Predict(context.Background(), "XAUUSD", "M15",
		map[string]float64{"ema_spread": 0.5})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"xgboost", "lightgbm"}, pred.Models)
	assert.Equal(t, DirectionBuy, pred.Direction)
	assert.InDelta(t, 1.0, pred.Proba[0]+pred.Proba[1]+pred.Proba[2], 1e-9)
	assert.Equal(t, pred.Proba[ClassBuy], pred.Probability)
}

func TestEnsembleNoActiveModels(t *testing.T) {
	cache := NewCache(&fakeRegistry{}, time.Minute)

	_, err := cache.Predict(context.Background(), "XAUUSD", "M15", nil)
	assert.ErrorIs(t, err, ErrNoActiveModel)
}

func TestDeriveDirection(t *testing.T) {
	tests := []struct {
		name     string
		proba    [3]float64
		wantDir  Direction
		wantProb float64
	}{
		{"clear buy", [3]float64{0.1, 0.2, 0.7}, DirectionBuy, 0.7},
		{"clear sell", [3]float64{0.7, 0.2, 0.1}, DirectionSell, 0.7},
		{"hold argmax", [3]float64{0.1, 0.8, 0.1}, DirectionNeutral, 0.8},
		{"narrow margin", [3]float64{0.40, 0.18, 0.42}, DirectionNeutral, 0.5},
		{"hold floor applies", [3]float64{0.33, 0.34, 0.33}, DirectionNeutral, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, prob := DeriveDirection(tt.proba)
			assert.Equal(t, tt.wantDir, dir)
			assert.InDelta(t, tt.wantProb, prob, 1e-9)
		})
	}
}
