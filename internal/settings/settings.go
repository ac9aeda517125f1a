// Package settings exposes typed read-through accessors over the
// app_settings table. Every governance and scheduler decision reads the
// table directly so operators can flip behavior without a restart; the
// table is low-cardinality so no caching layer sits in front of it.
package settings

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Recognized setting keys
const (
	KeyTradingMode     = "TRADING_MODE"     // "paper" or "live"
	KeyExecutionBridge = "EXECUTION_BRIDGE" // "mt5_zmq" enables live execution

	KeyExecGuardEnabled = "EXEC_GUARD_ENABLED"
	KeyExecMaxSlippage  = "EXEC_MAX_SLIPPAGE"
	KeyExecMaxLatencyMS = "EXEC_MAX_LATENCY_MS"
	KeyExecTimeoutMS    = "EXEC_TIMEOUT_MS"

	KeyExecViolationWindowMin      = "EXEC_VIOLATION_WINDOW_MIN"
	KeyExecMaxViolationsInWindow   = "EXEC_MAX_VIOLATIONS_IN_WINDOW"
	KeyExecDisableAutoOnViolation  = "EXEC_DISABLE_AUTO_ON_VIOLATION"

	KeyAutoSelectEnabled          = "AUTO_SELECT_ENABLED"
	KeyAutoSelectDisableReason    = "AUTO_SELECT_DISABLE_REASON"
	KeyAutoSelectMinScore         = "AUTO_SELECT_MIN_SCORE"
	KeyAutoSelectMinConfidence    = "AUTO_SELECT_MIN_CONFIDENCE"
	KeyAutoSelectMaxTradesPerHour = "AUTO_SELECT_MAX_TRADES_PER_HOUR"
	KeyAutoSelectSystemUserID     = "AUTO_SELECT_SYSTEM_USER_ID"
	KeyAutoSelectSystemBalance    = "AUTO_SELECT_SYSTEM_BALANCE"

	KeyPredictiveMaxReportAgeMin = "PREDICTIVE_MAX_REPORT_AGE_MIN"
	KeyPredictiveStabilityMin    = "PREDICTIVE_STABILITY_MIN"

	KeyDXYProvider        = "DXY_PROVIDER"
	KeyDXYAPIKey          = "DXY_API_KEY"
	KeyDXYRefreshSeconds  = "DXY_REFRESH_SECONDS"
	KeyDXYCacheTTLSeconds = "DXY_CACHE_TTL_SECONDS"

	KeyScannerUniverseJSON = "SCANNER_UNIVERSE_JSON"

	KeyMT5ConnectionsJSON     = "MT5_CONNECTIONS_JSON"
	KeyMT5ConnectionActiveID  = "MT5_CONNECTION_ACTIVE_ID"
	KeyMT5OrderRetries        = "MT5_ORDER_RETRIES"
)

// Store is the subset of the database layer the service needs
type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	SetSettings(ctx context.Context, kv map[string]string) error
}

// Service provides typed access to runtime settings
type Service struct {
	store Store
}

// NewService creates a settings service over a store
func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetString returns the value for key, or def when unset
func (s *Service) GetString(ctx context.Context, key, def string) string {
	value, found, err := s.store.GetSetting(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to read setting, using default")
		return def
	}
	if !found {
		return def
	}
	return value
}

// GetBool returns the boolean value for key, or def when unset or invalid.
// Accepts true/false, 1/0, yes/no, on/off (case-insensitive).
func (s *Service) GetBool(ctx context.Context, key string, def bool) bool {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable boolean setting, using default")
	return def
}

// GetInt returns the integer value for key, or def
func (s *Service) GetInt(ctx context.Context, key string, def int) int {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable integer setting, using default")
		return def
	}
	return n
}

// GetFloat returns the float value for key, or def
func (s *Service) GetFloat(ctx context.Context, key string, def float64) float64 {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable float setting, using default")
		return def
	}
	return f
}

// GetDurationMinutes reads an integer minute count as a duration
func (s *Service) GetDurationMinutes(ctx context.Context, key string, def time.Duration) time.Duration {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable minutes setting, using default")
		return def
	}
	return time.Duration(n) * time.Minute
}

// GetDurationSeconds reads an integer second count as a duration
func (s *Service) GetDurationSeconds(ctx context.Context, key string, def time.Duration) time.Duration {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable seconds setting, using default")
		return def
	}
	return time.Duration(n) * time.Second
}

// GetJSON unmarshals the value for key into out; returns false when the
// key is unset or unparseable.
func (s *Service) GetJSON(ctx context.Context, key string, out interface{}) bool {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Unparseable JSON setting")
		return false
	}
	return true
}

// GetUUID returns the UUID value for key, or def when unset or invalid
func (s *Service) GetUUID(ctx context.Context, key string, def uuid.UUID) uuid.UUID {
	raw := s.GetString(ctx, key, "")
	if raw == "" {
		return def
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Unparseable UUID setting, using default")
		return def
	}
	return id
}

// Set writes a single setting
func (s *Service) Set(ctx context.Context, key, value string) error {
	return s.store.SetSetting(ctx, key, value)
}

// SetMany writes several settings atomically
func (s *Service) SetMany(ctx context.Context, kv map[string]string) error {
	return s.store.SetSettings(ctx, kv)
}
