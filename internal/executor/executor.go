// Package executor dispatches approved orders to the broker bridge,
// enforces per-order guards and records one ExecutionEvent per attempt.
// It never returns an error upward without an event on record.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aurictrade/auric/internal/bridge"
	"github.com/aurictrade/auric/internal/bus"
	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/metrics"
	"github.com/aurictrade/auric/internal/settings"
)

// Guard defaults applied when a setting is unset
const (
	defaultMaxSlippage  = 2.5
	defaultMaxLatencyMS = 1500
	defaultTimeoutMS    = 5000
	defaultOrderRetries = 3
)

// Retry backoff
const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// Request is one approved order
type Request struct {
	UserID         *uuid.UUID
	Source         string
	Symbol         string
	Side           db.OrderSide
	Volume         float64
	RequestedPrice float64
	SL             *float64
	TP             *float64
}

// Result is the terminal outcome of an Execute call
type Result struct {
	Status db.ExecutionStatus
	Event  *db.ExecutionEvent // the last recorded attempt
}

// Bridge is the transport surface the executor uses
type Bridge interface {
	SendOrder(ctx context.Context, symbol, side string, volume, sl, tp float64, timeout time.Duration) (*bridge.OrderResult, error)
	Connected() bool
}

// EventStore persists execution events
type EventStore interface {
	InsertExecutionEvent(ctx context.Context, ev *db.ExecutionEvent) error
}

// ViolationSink is notified after each attempt so governance can track
// violations.
type ViolationSink interface {
	RecordOutcome(ctx context.Context, status db.ExecutionStatus)
}

// Executor sends orders per the mode matrix
type Executor struct {
	bridge     Bridge
	store      EventStore
	settings   *settings.Service
	violations ViolationSink
	bus        *bus.Bus
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
	sleep      func(time.Duration)
}

// New creates an executor. violations and activityBus may be nil.
func New(br Bridge, store EventStore, svc *settings.Service, violations ViolationSink, activityBus *bus.Bus) *Executor {
	e := &Executor{
		bridge:     br,
		store:      store,
		settings:   svc,
		violations: violations,
		bus:        activityBus,
		logger:     config.NewLogger("executor"),
		sleep:      time.Sleep,
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mt5_bridge",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*10 >= counts.Requests*6
		},
	})
	return e
}

// Execute runs the mode matrix for one order. In paper mode it records a
// simulated event without touching the broker; in live mode it attempts
// the order with retries on transient bridge errors, one event per
// attempt.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	mode := e.settings.GetString(ctx, settings.KeyTradingMode, "paper")
	transport := e.settings.GetString(ctx, settings.KeyExecutionBridge, "")

	if mode != "live" || transport != "mt5_zmq" {
		return e.simulate(ctx, req, mode)
	}
	return e.live(ctx, req)
}

func (e *Executor) simulate(ctx context.Context, req Request, mode string) (*Result, error) {
	fill := req.RequestedPrice
	ev := e.newEvent(req)
	ev.Status = db.ExecutionStatusSimulated
	ev.FillPrice = &fill
	zero := 0.0
	ev.Slippage = &zero

	e.record(ctx, ev)

	e.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("volume", req.Volume).
		Str("mode", mode).
		Msg("Order simulated")
	return &Result{Status: db.ExecutionStatusSimulated, Event: ev}, nil
}

func (e *Executor) live(ctx context.Context, req Request) (*Result, error) {
	maxSlippage := e.settings.GetFloat(ctx, settings.KeyExecMaxSlippage, defaultMaxSlippage)
	maxLatency := time.Duration(e.settings.GetInt(ctx, settings.KeyExecMaxLatencyMS, defaultMaxLatencyMS)) * time.Millisecond
	timeout := time.Duration(e.settings.GetInt(ctx, settings.KeyExecTimeoutMS, defaultTimeoutMS)) * time.Millisecond
	retries := e.settings.GetInt(ctx, settings.KeyMT5OrderRetries, defaultOrderRetries)
	if retries < 1 {
		retries = 1
	}

	backoff := initialBackoff
	var last *db.ExecutionEvent

	for attempt := 1; attempt <= retries; attempt++ {
		ev, retryable := e.attempt(ctx, req, maxSlippage, maxLatency, timeout)
		last = ev

		if ev.Status == db.ExecutionStatusSuccess || ev.Status == db.ExecutionStatusBlocked {
			return &Result{Status: ev.Status, Event: ev}, nil
		}
		if !retryable || attempt == retries {
			break
		}

		e.logger.Warn().
			Int("attempt", attempt).
			Int("max", retries).
			Str("symbol", req.Symbol).
			Dur("backoff", backoff).
			Msg("Retrying order after transient bridge error")
		e.sleep(backoff)
		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return &Result{Status: last.Status, Event: last}, nil
}

// attempt performs one live order attempt and records its event. The
// guard cascade is latency, then slippage, then bridge error.
func (e *Executor) attempt(ctx context.Context, req Request, maxSlippage float64, maxLatency, timeout time.Duration) (*db.ExecutionEvent, bool) {
	ev := e.newEvent(req)

	var sl, tp float64
	if req.SL != nil {
		sl = *req.SL
	}
	if req.TP != nil {
		tp = *req.TP
	}

	started := time.Now()
	res, err := e.sendThroughBreaker(ctx, req, sl, tp, timeout)
	latency := time.Since(started)
	latencyMS := latency.Milliseconds()
	ev.LatencyMS = &latencyMS
	ev.BridgeConnected = e.bridge.Connected()
	metrics.ExecutionLatency.Observe(latency.Seconds())

	if err != nil {
		// Bridge failures carry no fill to judge: they classify as error
		// (retryable or not) ahead of the guard cascade, which applies to
		// completed fills only.
		msg := err.Error()
		ev.Status = db.ExecutionStatusError
		ev.Error = &msg
		e.record(ctx, ev)
		return ev, bridge.Retryable(err)
	}

	ev.Ticket = &res.Ticket
	ev.FillPrice = &res.FillPrice
	ev.Response = map[string]interface{}(res.Raw)

	slippage := res.FillPrice - req.RequestedPrice
	if req.Side == db.OrderSideSell {
		slippage = req.RequestedPrice - res.FillPrice
	}
	ev.Slippage = &slippage

	if latency > maxLatency {
		msg := fmt.Sprintf("latency_ms %d exceeds limit %d", latencyMS, maxLatency.Milliseconds())
		ev.Status = db.ExecutionStatusBlocked
		ev.Error = &msg
		e.record(ctx, ev)
		return ev, false
	}

	if math.Abs(slippage) > maxSlippage {
		msg := fmt.Sprintf("slippage %.2f exceeds limit %.2f", slippage, maxSlippage)
		ev.Status = db.ExecutionStatusBlocked
		ev.Error = &msg
		e.record(ctx, ev)
		return ev, false
	}

	ev.Status = db.ExecutionStatusSuccess
	e.record(ctx, ev)
	return ev, false
}

func (e *Executor) sendThroughBreaker(ctx context.Context, req Request, sl, tp float64, timeout time.Duration) (*bridge.OrderResult, error) {
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.bridge.SendOrder(ctx, req.Symbol, string(req.Side), req.Volume, sl, tp, timeout)
	})
	if err != nil {
		return nil, err
	}
	return out.(*bridge.OrderResult), nil
}

func (e *Executor) newEvent(req Request) *db.ExecutionEvent {
	price := req.RequestedPrice
	return &db.ExecutionEvent{
		ID:              uuid.New(),
		CreatedAt:       time.Now().UTC(),
		UserID:          req.UserID,
		Source:          req.Source,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Volume:          req.Volume,
		RequestedPrice:  &price,
		SL:              req.SL,
		TP:              req.TP,
		BridgeConnected: e.bridge.Connected(),
		Request: map[string]interface{}{
			"symbol": req.Symbol,
			"type":   string(req.Side),
			"volume": req.Volume,
			"sl":     req.SL,
			"tp":     req.TP,
		},
	}
}

// record persists the event, notifies governance and publishes to the
// activity bus. Persistence failures are logged, never raised: the
// attempt already happened.
func (e *Executor) record(ctx context.Context, ev *db.ExecutionEvent) {
	if err := e.store.InsertExecutionEvent(ctx, ev); err != nil {
		e.logger.Error().Err(err).
			Str("event_id", ev.ID.String()).
			Msg("Failed to persist execution event")
	}

	metrics.ExecutionsTotal.WithLabelValues(string(ev.Status)).Inc()

	if e.violations != nil {
		e.violations.RecordOutcome(ctx, ev.Status)
	}
	if e.bus != nil {
		e.bus.Publish(bus.NewEvent("execution", map[string]interface{}{
			"event_id": ev.ID.String(),
			"symbol":   ev.Symbol,
			"side":     string(ev.Side),
			"volume":   ev.Volume,
			"status":   string(ev.Status),
			"ticket":   ev.Ticket,
			"error":    ev.Error,
		}))
	}
}
