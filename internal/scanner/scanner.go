// Package scanner fans the signal pipeline across the configured
// universe and persists the ranked results atomically per scan.
package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/metrics"
	"github.com/aurictrade/auric/internal/pipeline"
	"github.com/aurictrade/auric/internal/settings"
)

// maxConcurrentCells bounds the pipeline fan-out per scan
const maxConcurrentCells = 4

// UniverseSymbol is one scannable instrument with its score weight
type UniverseSymbol struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Universe describes what one scan covers
type Universe struct {
	Symbols    []UniverseSymbol `json:"symbols"`
	Timeframes []string         `json:"timeframes"`
	MinCandles int              `json:"min_candles"`
	TopK       int              `json:"top_k"`
}

// DefaultUniverse covers the precious metals plus the two liquid FX majors
func DefaultUniverse() Universe {
	return Universe{
		Symbols: []UniverseSymbol{
			{Symbol: "XAUUSD", Weight: 1.0},
			{Symbol: "XAGUSDT", Weight: 0.8},
			{Symbol: "EURUSD", Weight: 0.7},
			{Symbol: "USDJPY", Weight: 0.6},
		},
		Timeframes: []string{"M15", "H1"},
		MinCandles: 200,
		TopK:       5,
	}
}

// CandleStore is the candle access the scanner needs
type CandleStore interface {
	GetRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]db.Candle, error)
	InsertSignalsTx(ctx context.Context, signals []*db.TradingSignal) error
}

// Analyzer runs the pipeline for one cell
type Analyzer interface {
	Analyze(ctx context.Context, symbol, timeframe string, candles []db.Candle) (*pipeline.Signal, error)
}

// Scanner runs universe scans
type Scanner struct {
	store    CandleStore
	analyzer Analyzer
	settings *settings.Service
	logger   zerolog.Logger
}

// New creates a scanner
func New(store CandleStore, analyzer Analyzer, svc *settings.Service) *Scanner {
	return &Scanner{
		store:    store,
		analyzer: analyzer,
		settings: svc,
		logger:   config.NewLogger("scanner"),
	}
}

// LoadUniverse reads the universe override from settings, falling back to
// the default universe on absence or malformed JSON.
func (s *Scanner) LoadUniverse(ctx context.Context) Universe {
	var u Universe
	if s.settings != nil && s.settings.GetJSON(ctx, settings.KeyScannerUniverseJSON, &u) &&
		len(u.Symbols) > 0 && len(u.Timeframes) > 0 {
		if u.MinCandles <= 0 {
			u.MinCandles = DefaultUniverse().MinCandles
		}
		if u.TopK <= 0 {
			u.TopK = DefaultUniverse().TopK
		}
		return u
	}
	return DefaultUniverse()
}

// Scan analyzes every (symbol, timeframe) cell of the universe, persists
// all produced signals in one transaction and returns them ordered by
// weight-adjusted score descending.
func (s *Scanner) Scan(ctx context.Context) ([]*db.TradingSignal, error) {
	universe := s.LoadUniverse(ctx)
	started := time.Now()

	var mu sync.Mutex
	var signals []*db.TradingSignal

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCells)

	for _, sym := range universe.Symbols {
		for _, tf := range universe.Timeframes {
			sym, tf := sym, tf
			g.Go(func() error {
				sig, err := s.scanCell(gctx, sym, tf, universe.MinCandles)
				if err != nil {
					s.logger.Error().Err(err).
						Str("symbol", sym.Symbol).Str("timeframe", tf).
						Msg("Cell scan failed")
					return nil // one bad cell never aborts the scan
				}
				if sig == nil {
					return nil
				}
				mu.Lock()
				signals = append(signals, sig)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Score > signals[j].Score
	})

	// Every produced row is persisted; top_k bounds only the ranked list
	// handed to callers.
	if err := s.store.InsertSignalsTx(ctx, signals); err != nil {
		return nil, err
	}

	metrics.ScanDuration.Observe(time.Since(started).Seconds())
	for _, sig := range signals {
		metrics.SignalsGenerated.WithLabelValues(sig.Symbol, sig.Timeframe, string(sig.Action)).Inc()
	}

	ranked := signals
	if universe.TopK > 0 && len(ranked) > universe.TopK {
		ranked = ranked[:universe.TopK]
	}

	s.logger.Info().
		Int("persisted", len(signals)).
		Int("returned", len(ranked)).
		Dur("elapsed", time.Since(started)).
		Msg("Universe scan complete")
	return ranked, nil
}

// scanCell analyzes one (symbol, timeframe). Cells with insufficient
// candles or non-actionable outcomes yield no signal.
func (s *Scanner) scanCell(ctx context.Context, sym UniverseSymbol, timeframe string, minCandles int) (*db.TradingSignal, error) {
	candles, err := s.store.GetRecentCandles(ctx, sym.Symbol, timeframe, minCandles)
	if err != nil {
		return nil, err
	}
	if len(candles) < minCandles {
		s.logger.Debug().
			Str("symbol", sym.Symbol).Str("timeframe", timeframe).
			Int("have", len(candles)).Int("need", minCandles).
			Msg("Skipping cell, insufficient candles")
		return nil, nil
	}

	sig, err := s.analyzer.Analyze(ctx, sym.Symbol, timeframe, candles)
	if err != nil {
		return nil, err
	}
	if sig.Action == db.ActionWait {
		return nil, nil
	}

	return &db.TradingSignal{
		ID:          uuid.New(),
		Source:      db.SignalSourceScanner,
		Symbol:      sig.Symbol,
		Timeframe:   sig.Timeframe,
		Action:      sig.Action,
		Confidence:  sig.Confidence,
		Score:       sig.Score * sym.Weight,
		EntryPrice:  sig.EntryPrice,
		SuggestedSL: sig.SuggestedSL,
		SuggestedTP: sig.SuggestedTP,
		Reasons:     sig.Reasons,
		Context:     sig.Context,
		CreatedAt:   sig.CreatedAt,
	}, nil
}
