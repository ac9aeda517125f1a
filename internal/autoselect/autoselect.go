// Package autoselect is the automation loop: each tick it picks the best
// eligible persisted signal, runs it through the selection policy and the
// governance gate, sizes the position from the system balance and hands
// the order to the executor.
package autoselect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/bus"
	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/executor"
	"github.com/aurictrade/auric/internal/governance"
	"github.com/aurictrade/auric/internal/scoring"
	"github.com/aurictrade/auric/internal/settings"
)

const (
	// signalLookback bounds how old a candidate signal may be
	signalLookback = 5 * time.Minute

	defaultMinScore      = 60.0
	defaultMinConfidence = 55.0
	defaultBalance       = 10000.0

	// riskFraction of the system balance risked per trade
	riskFraction = 0.01
	// contractSize converts price distance to per-lot risk (100 oz gold lot)
	contractSize = 100.0
	minVolume    = 0.01
	maxVolume    = 1.0
)

// SignalStore reads scan output
type SignalStore interface {
	GetBestEligibleSignal(ctx context.Context, since time.Time, minScore, minConfidence float64) (*db.TradingSignal, error)
}

// Governor is the pre-trade gate
type Governor interface {
	Decide(ctx context.Context, source string, bridgeConnected, isAutomation bool) governance.Decision
}

// OrderExecutor dispatches the selected order
type OrderExecutor interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// BridgeStatus reports broker connectivity for the gate
type BridgeStatus interface {
	Connected() bool
}

// Outcome is the structured result of one tick
type Outcome struct {
	Selected *db.TradingSignal
	Executed bool
	Reason   string
}

// Selector runs the auto-select tick
type Selector struct {
	signals  SignalStore
	governor Governor
	exec     OrderExecutor
	bridge   BridgeStatus
	policy   *scoring.SelectionPolicy
	settings *settings.Service
	bus      *bus.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a selector. activityBus may be nil.
func New(signals SignalStore, governor Governor, exec OrderExecutor, bridge BridgeStatus,
	policy *scoring.SelectionPolicy, svc *settings.Service, activityBus *bus.Bus) *Selector {
	return &Selector{
		signals:  signals,
		governor: governor,
		exec:     exec,
		bridge:   bridge,
		policy:   policy,
		settings: svc,
		bus:      activityBus,
		logger:   config.NewLogger("autoselect"),
		now:      time.Now,
	}
}

// Tick runs one selection round. A round with nothing to do is a nil
// error; only infrastructure failures surface as errors.
func (s *Selector) Tick(ctx context.Context) (*Outcome, error) {
	minScore := s.settings.GetFloat(ctx, settings.KeyAutoSelectMinScore, defaultMinScore)
	minConfidence := s.settings.GetFloat(ctx, settings.KeyAutoSelectMinConfidence, defaultMinConfidence)

	signal, err := s.signals.GetBestEligibleSignal(ctx, s.now().Add(-signalLookback), minScore, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible signals: %w", err)
	}
	if signal == nil {
		return &Outcome{Reason: "no eligible signal"}, nil
	}
	if !signal.Action.IsTradable() {
		return &Outcome{Selected: signal, Reason: "signal not tradable"}, nil
	}

	strategy := signal.Symbol + ":" + signal.Timeframe
	if !s.policy.Allow(strategy, signal.Score) {
		s.logger.Debug().Str("strategy", strategy).Float64("score", signal.Score).
			Msg("Selection policy held the incumbent")
		return s.skipped(signal, "selection policy"), nil
	}

	decision := s.governor.Decide(ctx, "auto_select", s.bridge.Connected(), true)
	if !decision.Allow {
		return s.skipped(signal, decision.Reason), nil
	}

	req, err := s.buildRequest(ctx, signal)
	if err != nil {
		return nil, err
	}

	result, err := s.exec.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execution failed for %s: %w", signal.Symbol, err)
	}

	if result.Status == db.ExecutionStatusSuccess || result.Status == db.ExecutionStatusSimulated {
		s.policy.Commit(strategy, signal.Score)
	}

	s.logger.Info().
		Str("symbol", signal.Symbol).
		Str("action", string(signal.Action)).
		Float64("score", signal.Score).
		Str("status", string(result.Status)).
		Msg("Auto-select executed")
	return &Outcome{Selected: signal, Executed: true, Reason: string(result.Status)}, nil
}

func (s *Selector) buildRequest(ctx context.Context, signal *db.TradingSignal) (executor.Request, error) {
	if signal.EntryPrice == nil {
		return executor.Request{}, fmt.Errorf("signal %s has no entry price", signal.ID)
	}

	balance := s.settings.GetFloat(ctx, settings.KeyAutoSelectSystemBalance, defaultBalance)
	userID := s.settings.GetUUID(ctx, settings.KeyAutoSelectSystemUserID, uuid.Nil)

	req := executor.Request{
		Source:         "auto_select",
		Symbol:         signal.Symbol,
		Side:           signal.Action.Side(),
		Volume:         sizeVolume(balance, *signal.EntryPrice, signal.SuggestedSL),
		RequestedPrice: *signal.EntryPrice,
		SL:             signal.SuggestedSL,
		TP:             signal.SuggestedTP,
	}
	if userID != uuid.Nil {
		req.UserID = &userID
	}
	return req, nil
}

// sizeVolume risks riskFraction of the balance against the stop distance,
// clamped to broker lot bounds. Without a stop the minimum lot is used.
func sizeVolume(balance, entry float64, sl *float64) float64 {
	if sl == nil || *sl == entry {
		return minVolume
	}

	distance := math.Abs(entry - *sl)
	volume := balance * riskFraction / (distance * contractSize)
	volume = math.Floor(volume*100) / 100

	if volume < minVolume {
		return minVolume
	}
	if volume > maxVolume {
		return maxVolume
	}
	return volume
}

func (s *Selector) skipped(signal *db.TradingSignal, reason string) *Outcome {
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent("auto_select_skipped", map[string]interface{}{
			"symbol": signal.Symbol,
			"score":  signal.Score,
			"reason": reason,
		}))
	}
	return &Outcome{Selected: signal, Reason: reason}
}
