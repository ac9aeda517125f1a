// Package governance is the pre-trade gate and the post-trade violation
// tracker. Every threshold is read through app_settings on each call so
// operators can flip behavior without a restart.
package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/metrics"
	"github.com/aurictrade/auric/internal/settings"
)

// Defaults applied when a setting is unset
const (
	defaultMaxTradesPerHour = 3
	defaultReportMaxAge     = 12 * time.Hour
	defaultStabilityMin     = 120.0
	defaultViolationWindow  = 15 * time.Minute
	defaultMaxViolations    = 3
)

// The predictive gate always inspects the reference cell
const (
	gateSymbol    = "XAUUSD"
	gateTimeframe = "M15"
)

// Decision is a structured gate outcome, not an error
type Decision struct {
	Allow             bool   `json:"allow"`
	Reason            string `json:"reason,omitempty"`
	DisableAutoSelect bool   `json:"disable_auto_select,omitempty"`
}

// Store is the database surface governance reads
type Store interface {
	GetLatestPredictiveReport(ctx context.Context, symbol, timeframe string) (*db.PredictiveReport, error)
	CountExecutionsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	CountViolationsSince(ctx context.Context, since time.Time) (int, error)
}

// Service gates order attempts and tracks violations
type Service struct {
	store    Store
	settings *settings.Service
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a governance service
func New(store Store, svc *settings.Service) *Service {
	return &Service{
		store:    store,
		settings: svc,
		logger:   config.NewLogger("governance"),
		now:      time.Now,
	}
}

// Decide runs the pre-trade gate. Manual (non-automation) requests skip
// the automation checks; the guard toggle skips everything.
func (s *Service) Decide(ctx context.Context, source string, bridgeConnected, isAutomation bool) Decision {
	d := s.decide(ctx, bridgeConnected, isAutomation)

	allowed := "false"
	if d.Allow {
		allowed = "true"
	}
	reason := metrics.DenyGuardDisabled
	if d.Reason != "" {
		reason = metrics.NormalizeDenyReason(d.Reason)
	} else if d.Allow {
		reason = "allowed"
	}
	metrics.GovernanceDecisions.WithLabelValues(allowed, reason).Inc()

	if !d.Allow {
		s.logger.Warn().
			Str("source", source).
			Str("reason", d.Reason).
			Bool("disable_auto_select", d.DisableAutoSelect).
			Msg("Execution denied")
	}
	return d
}

func (s *Service) decide(ctx context.Context, bridgeConnected, isAutomation bool) Decision {
	if !s.settings.GetBool(ctx, settings.KeyExecGuardEnabled, true) {
		return Decision{Allow: true}
	}

	if !isAutomation {
		return Decision{Allow: true}
	}

	if !s.settings.GetBool(ctx, settings.KeyAutoSelectEnabled, false) {
		metrics.AutoSelectEnabled.Set(0)
		return Decision{Allow: false, Reason: "automation disabled (AUTO_SELECT_ENABLED=false)"}
	}
	metrics.AutoSelectEnabled.Set(1)

	if !bridgeConnected {
		return Decision{Allow: false, Reason: "bridge disconnected"}
	}

	if d := s.predictiveGate(ctx); !d.Allow {
		return d
	}

	return s.rateLimit(ctx)
}

// predictiveGate requires a fresh, stable predictive report for the
// reference cell. A failing gate disables automation in settings so every
// replica sees it.
func (s *Service) predictiveGate(ctx context.Context) Decision {
	maxAge := s.settings.GetDurationMinutes(ctx, settings.KeyPredictiveMaxReportAgeMin, defaultReportMaxAge)
	stabilityMin := s.settings.GetFloat(ctx, settings.KeyPredictiveStabilityMin, defaultStabilityMin)

	report, err := s.store.GetLatestPredictiveReport(ctx, gateSymbol, gateTimeframe)
	if err != nil {
		return s.failGate(ctx, fmt.Sprintf("predictive report lookup failed: %v", err))
	}
	if report == nil {
		return s.failGate(ctx, "no predictive report available")
	}
	if age := s.now().Sub(report.CreatedAt); age > maxAge {
		return s.failGate(ctx, fmt.Sprintf("predictive report stale: age %s exceeds %s", age.Round(time.Minute), maxAge))
	}
	if report.StabilityScore < stabilityMin {
		return s.failGate(ctx, fmt.Sprintf("stability_score %.1f below minimum %.1f", report.StabilityScore, stabilityMin))
	}
	return Decision{Allow: true}
}

func (s *Service) failGate(ctx context.Context, reason string) Decision {
	s.disableAutomation(ctx, reason)
	return Decision{Allow: false, Reason: reason, DisableAutoSelect: true}
}

func (s *Service) rateLimit(ctx context.Context) Decision {
	maxPerHour := s.settings.GetInt(ctx, settings.KeyAutoSelectMaxTradesPerHour, defaultMaxTradesPerHour)
	userID := s.settings.GetUUID(ctx, settings.KeyAutoSelectSystemUserID, uuid.Nil)

	count, err := s.store.CountExecutionsSince(ctx, userID, s.now().Add(-time.Hour))
	if err != nil {
		// Fail closed: an unreadable counter must not unlock unlimited trading.
		return Decision{Allow: false, Reason: fmt.Sprintf("rate limit check failed: %v", err)}
	}
	if count >= maxPerHour {
		return Decision{Allow: false, Reason: fmt.Sprintf("rate limit reached: %d trades in the last hour (max %d)", count, maxPerHour)}
	}
	return Decision{Allow: true}
}

// RecordOutcome feeds the violation tracker after an execution attempt.
// Blocked and errored events count; enough of them inside the window
// disables automation.
func (s *Service) RecordOutcome(ctx context.Context, status db.ExecutionStatus) {
	if status != db.ExecutionStatusBlocked && status != db.ExecutionStatusError {
		return
	}
	metrics.ViolationsTotal.Inc()

	if !s.settings.GetBool(ctx, settings.KeyExecDisableAutoOnViolation, true) {
		return
	}

	window := s.settings.GetDurationMinutes(ctx, settings.KeyExecViolationWindowMin, defaultViolationWindow)
	maxViolations := s.settings.GetInt(ctx, settings.KeyExecMaxViolationsInWindow, defaultMaxViolations)

	count, err := s.store.CountViolationsSince(ctx, s.now().Add(-window))
	if err != nil {
		s.logger.Error().Err(err).Msg("Violation count failed")
		return
	}
	if count >= maxViolations {
		s.disableAutomation(ctx, fmt.Sprintf("%d violations within %s (max %d)", count, window, maxViolations))
	}
}

// disableAutomation atomically flips AUTO_SELECT_ENABLED off with the
// reason, so the next scheduler tick sees it.
func (s *Service) disableAutomation(ctx context.Context, reason string) {
	if err := s.settings.SetMany(ctx, map[string]string{
		settings.KeyAutoSelectEnabled:       "false",
		settings.KeyAutoSelectDisableReason: reason,
	}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to disable automation")
		return
	}
	metrics.AutoSelectEnabled.Set(0)
	s.logger.Warn().Str("reason", reason).Msg("Automation disabled")
}
