package models

import (
	"context"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
)

// defaultRecheckTTL bounds how long a cached artifact is trusted before
// the active registry row is re-read.
const defaultRecheckTTL = 60 * time.Second

// RegistryStore is the registry lookup the cache depends on
type RegistryStore interface {
	GetActiveModel(ctx context.Context, modelType db.ModelType, symbol, timeframe string) (*db.ModelRegistryEntry, error)
}

type cacheKey struct {
	modelType db.ModelType
	symbol    string
	timeframe string
}

type cacheEntry struct {
	predictor    Predictor
	entry        *db.ModelRegistryEntry
	lastVerified time.Time
}

// Cache is the process-wide model registry cache. Reloads are
// last-load-wins per key; a failed load leaves the previous entry serving.
type Cache struct {
	store      RegistryStore
	recheckTTL time.Duration
	loadFn     func(path string) (Predictor, error)
	logger     zerolog.Logger

	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
}

// NewCache creates a registry cache. recheckTTL <= 0 uses the default 60s.
func NewCache(store RegistryStore, recheckTTL time.Duration) *Cache {
	if recheckTTL <= 0 {
		recheckTTL = defaultRecheckTTL
	}
	return &Cache{
		store:      store,
		recheckTTL: recheckTTL,
		loadFn:     LoadArtifact,
		logger:     config.NewLogger("model-cache"),
		entries:    make(map[cacheKey]*cacheEntry),
	}
}

// Get returns the predictor and registry entry for an active model, or
// (nil, nil) when none is active. Malformed artifacts are logged and
// treated as missing.
func (c *Cache) Get(ctx context.Context, modelType db.ModelType, symbol, timeframe string) (Predictor, *db.ModelRegistryEntry, error) {
	key := cacheKey{modelType, symbol, timeframe}

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(cached.lastVerified) < c.recheckTTL {
		return cached.predictor, cached.entry, nil
	}

	row, err := c.store.GetActiveModel(ctx, modelType, symbol, timeframe)
	if err != nil {
		// Registry unreachable: keep serving the cached artifact if any.
		if ok {
			c.logger.Warn().Err(err).
				Str("model_type", string(modelType)).Str("symbol", symbol).
				Msg("Registry check failed, serving cached model")
			return cached.predictor, cached.entry, nil
		}
		return nil, nil, err
	}
	if row == nil {
		c.evict(key)
		return nil, nil, nil
	}

	if ok && cached.entry.ArtifactPath == row.ArtifactPath && cached.entry.Version == row.Version {
		c.touch(key, row)
		return cached.predictor, cached.entry, nil
	}

	predictor, err := c.loadFn(row.ArtifactPath)
	if err != nil {
		c.logger.Error().Err(err).
			Str("model_type", string(modelType)).
			Str("symbol", symbol).
			Str("timeframe", timeframe).
			Str("artifact_path", row.ArtifactPath).
			Msg("Failed to load model artifact, treating as missing")
		c.evict(key)
		return nil, nil, nil
	}

	c.logSwap(cached, row)

	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		predictor:    predictor,
		entry:        row,
		lastVerified: time.Now(),
	}
	c.mu.Unlock()

	return predictor, row, nil
}

func (c *Cache) touch(key cacheKey, row *db.ModelRegistryEntry) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.entry = row
		e.lastVerified = time.Now()
	}
	c.mu.Unlock()
}

func (c *Cache) evict(key cacheKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// logSwap records whether the new active version is an upgrade relative
// to the one it replaces.
func (c *Cache) logSwap(old *cacheEntry, row *db.ModelRegistryEntry) {
	ev := c.logger.Info().
		Str("model_type", string(row.ModelType)).
		Str("symbol", row.Symbol).
		Str("timeframe", row.Timeframe).
		Str("version", row.Version)

	if old != nil {
		ev = ev.Str("previous_version", old.entry.Version)
		newV, errN := semver.NewVersion(row.Version)
		oldV, errO := semver.NewVersion(old.entry.Version)
		if errN == nil && errO == nil {
			ev = ev.Bool("upgrade", newV.GreaterThan(oldV))
		}
	}
	ev.Msg("Model artifact loaded")
}
