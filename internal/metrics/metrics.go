// Package metrics defines the Prometheus collectors for the trading
// control plane and a small HTTP server exposing them.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values. Labels must never carry free-form text.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"

	// Governance denial reasons (bounded set)
	DenyGuardDisabled  = "guard_disabled"
	DenyAutomationOff  = "automation_disabled"
	DenyBridgeDown     = "bridge_disconnected"
	DenyPredictiveGate = "predictive_gate"
	DenyRateLimit      = "rate_limit"
	DenyOther          = "other"
)

// NormalizeDenyReason maps a free-form governance reason onto the bounded
// label set.
func NormalizeDenyReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "automation") || strings.Contains(lower, "auto_select"):
		return DenyAutomationOff
	case strings.Contains(lower, "bridge"):
		return DenyBridgeDown
	case strings.Contains(lower, "predictive") || strings.Contains(lower, "stability") || strings.Contains(lower, "report"):
		return DenyPredictiveGate
	case strings.Contains(lower, "rate") || strings.Contains(lower, "trades_per_hour"):
		return DenyRateLimit
	default:
		return DenyOther
	}
}

// Pipeline and scanner
var (
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_signals_generated_total",
		Help: "Trading signals produced per symbol, timeframe and action",
	}, []string{"symbol", "timeframe", "action"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auric_scan_duration_seconds",
		Help:    "Duration of one full universe scan",
		Buckets: prometheus.DefBuckets,
	})

	CandlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_candles_ingested_total",
		Help: "New candle rows persisted per symbol and timeframe",
	}, []string{"symbol", "timeframe"})
)

// Governance and execution
var (
	GovernanceDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_governance_decisions_total",
		Help: "Pre-trade gate outcomes by result and reason",
	}, []string{"allowed", "reason"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_executions_total",
		Help: "Order execution attempts by terminal status",
	}, []string{"status"})

	ExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auric_execution_latency_seconds",
		Help:    "Broker round-trip latency of order sends",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5},
	})

	ViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auric_execution_violations_total",
		Help: "Blocked or errored execution attempts",
	})

	AutoSelectEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auric_auto_select_enabled",
		Help: "Whether automated selection is currently enabled (1/0)",
	})
)

// Bridge transport
var (
	BridgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_bridge_calls_total",
		Help: "Bridge requests by action and outcome",
	}, []string{"action", "outcome"})

	BridgeConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auric_bridge_connected",
		Help: "Whether the broker bridge answered the last call (1/0)",
	})
)

// DXY context service
var (
	DXYRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_dxy_refreshes_total",
		Help: "DXY context refresh attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	DXYCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auric_dxy_index_value",
		Help: "Last fetched dollar index value",
	})

	DXYCorrelation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auric_dxy_gold_correlation",
		Help: "Rolling Pearson correlation between DXY and gold returns",
	})
)

// Scheduler and bus
var (
	SchedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_scheduler_job_runs_total",
		Help: "Scheduler job executions by job name and outcome",
	}, []string{"job", "outcome"})

	SchedulerJobsCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_scheduler_jobs_coalesced_total",
		Help: "Job triggers skipped because the job was already in flight",
	}, []string{"job"})

	SchedulerJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auric_scheduler_job_duration_seconds",
		Help:    "Duration of scheduler job executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	BusPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auric_bus_events_published_total",
		Help: "Events accepted by the activity bus",
	})

	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auric_bus_events_dropped_total",
		Help: "Events dropped by the bus ring or a full subscriber queue",
	})

	BusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auric_bus_subscribers",
		Help: "Currently connected activity bus subscribers",
	})
)

// HTTP API
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auric_http_requests_total",
		Help: "API requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auric_http_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
