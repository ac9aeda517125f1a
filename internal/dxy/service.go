package dxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/metrics"
	"github.com/aurictrade/auric/internal/settings"
)

// Redis keys. The context key is written atomically with TTL; the series
// are newest-first lists trimmed to seriesMaxLen.
const (
	contextKey   = "auric:dxy:context"
	seriesKeyDXY = "auric:dxy:series:dxy"
	seriesKeyXAU = "auric:dxy:series:xau"
)

const (
	defaultSeriesMaxLen = 120
	defaultRefreshEvery = 30 * time.Second
	defaultCacheTTL     = 5 * time.Minute
	// minReturnPairs is the fewest paired returns worth correlating
	minReturnPairs = 5
)

// Impact thresholds on the index delta, in index points
const (
	deltaNeutral  = 0.03
	deltaModerate = 0.06
	deltaStrong   = 0.12
)

// Correlation strength thresholds on |r|
const (
	corrStrong   = 0.65
	corrModerate = 0.35
)

// Service refreshes and serves the dollar-index context
type Service struct {
	cfg       config.DXYConfig
	rdb       redis.Cmdable
	settings  *settings.Service
	providers []Provider
	gold      GoldFeed
	logger    zerolog.Logger

	mu          sync.Mutex
	lastRefresh time.Time
	now         func() time.Time
}

// NewService creates the DXY service over an ordered provider chain
func NewService(cfg config.DXYConfig, rdb redis.Cmdable, svc *settings.Service, providers []Provider, gold GoldFeed) *Service {
	return &Service{
		cfg:       cfg,
		rdb:       rdb,
		settings:  svc,
		providers: providers,
		gold:      gold,
		logger:    config.NewLogger("dxy"),
		now:       time.Now,
	}
}

// DefaultProviders builds the production chain: twelvedata primary, fmp
// fallback, each rate limited and circuit broken.
func DefaultProviders(cfg config.DXYConfig, apiKey string) []Provider {
	timeout := cfg.GetRequestTimeout()
	return []Provider{
		Guard(NewTwelveData(apiKey, timeout), cfg.RatePerMinute),
		Guard(NewFMP(apiKey, timeout), cfg.RatePerMinute),
	}
}

// Context returns the cached snapshot, or nil when none has been written
// or the TTL expired.
func (s *Service) Context(ctx context.Context) (*Context, error) {
	raw, err := s.rdb.Get(ctx, contextKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dxy context: %w", err)
	}

	var c Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("corrupt dxy context: %w", err)
	}
	return &c, nil
}

// Refresh fetches a fresh index quote and rewrites the cached context.
// Calls within DXY_REFRESH_SECONDS of the last refresh are no-ops, so the
// scheduler can trigger it freely. When every provider fails the previous
// context keeps serving.
func (s *Service) Refresh(ctx context.Context) error {
	refreshEvery := s.settings.GetDurationSeconds(ctx, settings.KeyDXYRefreshSeconds, defaultRefreshEvery)

	s.mu.Lock()
	if since := s.now().Sub(s.lastRefresh); since < refreshEvery {
		s.mu.Unlock()
		s.logger.Debug().Dur("since_last", since).Msg("Refresh skipped, within interval")
		return nil
	}
	s.mu.Unlock()

	prev, err := s.Context(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Previous context unreadable, treating as absent")
		prev = nil
	}

	price, provider, err := s.fetchIndex(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("All DXY providers failed, serving stale context")
		return err
	}

	impact, strength := classifyMove(price, prev)

	if err := s.pushSeries(ctx, seriesKeyDXY, price); err != nil {
		return err
	}
	s.updateGoldSeries(ctx)

	corr, corrStrength := s.correlation(ctx)

	snapshot := Context{
		Provider:     provider,
		Symbol:       "DXY",
		CurrentDXY:   price,
		Impact:       impact,
		Strength:     strength,
		CorrRolling:  corr,
		CorrStrength: corrStrength,
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.writeContext(ctx, &snapshot); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastRefresh = s.now()
	s.mu.Unlock()

	metrics.DXYCurrent.Set(price)
	metrics.DXYCorrelation.Set(corr)

	s.logger.Info().
		Str("provider", provider).
		Float64("dxy", price).
		Str("impact", string(impact)).
		Str("strength", string(strength)).
		Float64("corr", corr).
		Msg("DXY context refreshed")
	return nil
}

// fetchIndex walks the provider chain and returns the first success
func (s *Service) fetchIndex(ctx context.Context) (float64, string, error) {
	var lastErr error
	for _, p := range s.providers {
		price, _, err := p.FetchIndex(ctx)
		if err != nil {
			metrics.DXYRefreshes.WithLabelValues(p.Name(), metrics.OutcomeError).Inc()
			s.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Provider failed, trying next")
			lastErr = err
			continue
		}
		metrics.DXYRefreshes.WithLabelValues(p.Name(), metrics.OutcomeOK).Inc()
		return price, p.Name(), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return 0, "", lastErr
}

// classifyMove maps the index delta to gold impact. A rising dollar is
// bearish for gold, a falling one bullish.
func classifyMove(price float64, prev *Context) (Impact, Strength) {
	if prev == nil {
		return ImpactNeutral, StrengthLow
	}

	delta := price - prev.CurrentDXY
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	if abs < deltaNeutral {
		return ImpactNeutral, StrengthLow
	}

	impact := ImpactBullish
	if delta > 0 {
		impact = ImpactBearish
	}
	switch {
	case abs >= deltaStrong:
		return impact, StrengthStrong
	case abs >= deltaModerate:
		return impact, StrengthModerate
	default:
		return impact, StrengthLow
	}
}

func (s *Service) updateGoldSeries(ctx context.Context) {
	if s.gold == nil {
		return
	}
	price, err := s.gold.LastPrice(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Gold proxy fetch failed, correlation uses existing series")
		return
	}
	if err := s.pushSeries(ctx, seriesKeyXAU, price); err != nil {
		s.logger.Warn().Err(err).Msg("Gold series push failed")
	}
}

func (s *Service) pushSeries(ctx context.Context, key string, value float64) error {
	maxLen := s.cfg.SeriesMaxLen
	if maxLen <= 0 {
		maxLen = defaultSeriesMaxLen
	}

	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, strconv.FormatFloat(value, 'f', -1, 64))
	pipe.LTrim(ctx, key, 0, int64(maxLen-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push %s: %w", key, err)
	}
	return nil
}

// correlation computes the rolling Pearson correlation between the
// pct-returns of the two series. Short series yield (0, low).
func (s *Service) correlation(ctx context.Context) (float64, Strength) {
	dxySeries, err := s.readSeries(ctx, seriesKeyDXY)
	if err != nil {
		s.logger.Warn().Err(err).Msg("DXY series unreadable")
		return 0, StrengthLow
	}
	xauSeries, err := s.readSeries(ctx, seriesKeyXAU)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Gold series unreadable")
		return 0, StrengthLow
	}

	dxyReturns := pctReturns(dxySeries)
	xauReturns := pctReturns(xauSeries)

	n := len(dxyReturns)
	if len(xauReturns) < n {
		n = len(xauReturns)
	}
	if n < minReturnPairs {
		return 0, StrengthLow
	}

	// When one series is longer the excess is its oldest observations, so
	// the pairing window is the newest n returns of each leg.
	r := stat.Correlation(dxyReturns[len(dxyReturns)-n:], xauReturns[len(xauReturns)-n:], nil)
	return r, corrStrengthLabel(r)
}

// readSeries returns the series oldest-first
func (s *Service) readSeries(ctx context.Context, key string) ([]float64, error) {
	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		v, err := strconv.ParseFloat(raw[i], 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func pctReturns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			continue
		}
		out = append(out, (series[i]-series[i-1])/series[i-1])
	}
	return out
}

func corrStrengthLabel(r float64) Strength {
	abs := r
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= corrStrong:
		return StrengthStrong
	case abs >= corrModerate:
		return StrengthModerate
	default:
		return StrengthLow
	}
}

func (s *Service) writeContext(ctx context.Context, snapshot *Context) error {
	ttl := s.settings.GetDurationSeconds(ctx, settings.KeyDXYCacheTTLSeconds, defaultCacheTTL)

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal dxy context: %w", err)
	}
	if err := s.rdb.Set(ctx, contextKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write dxy context: %w", err)
	}
	return nil
}
