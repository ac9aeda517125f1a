package autoselect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurictrade/auric/internal/db"
	"github.com/aurictrade/auric/internal/executor"
	"github.com/aurictrade/auric/internal/governance"
	"github.com/aurictrade/auric/internal/scoring"
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

type fakeSignals struct {
	signal        *db.TradingSignal
	minScore      float64
	minConfidence float64
}

func (f *fakeSignals) GetBestEligibleSignal(_ context.Context, _ time.Time, minScore, minConfidence float64) (*db.TradingSignal, error) {
	f.minScore = minScore
	f.minConfidence = minConfidence
	return f.signal, nil
}

type fakeGovernor struct {
	decision governance.Decision
	calls    int
}

func (f *fakeGovernor) Decide(context.Context, string, bool, bool) governance.Decision {
	f.calls++
	return f.decision
}

type fakeExecutor struct {
	status   db.ExecutionStatus
	requests []executor.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	f.requests = append(f.requests, req)
	return &executor.Result{Status: f.status}, nil
}

type fakeBridge struct{ connected bool }

func (f *fakeBridge) Connected() bool { return f.connected }

func buySignal(score float64) *db.TradingSignal {
	entry, sl, tp := 1950.0, 1945.0, 1960.0
	return &db.TradingSignal{
		ID:          uuid.New(),
		Source:      db.SignalSourceScanner,
		Symbol:      "XAUUSD",
		Timeframe:   "M15",
		Action:      db.ActionBuy,
		Confidence:  72,
		Score:       score,
		EntryPrice:  &entry,
		SuggestedSL: &sl,
		SuggestedTP: &tp,
		CreatedAt:   time.Now(),
	}
}

func newSelector(signals *fakeSignals, gov *fakeGovernor, exec *fakeExecutor, values map[string]string) *Selector {
	return New(
		signals, gov, exec, &fakeBridge{connected: true},
		scoring.NewSelectionPolicy(5*time.Minute, 10),
		settings.NewService(&memSettings{values: values}),
		nil,
	)
}

func TestTickExecutesBestSignal(t *testing.T) {
	signals := &fakeSignals{signal: buySignal(78)}
	gov := &fakeGovernor{decision: governance.Decision{Allow: true}}
	exec := &fakeExecutor{status: db.ExecutionStatusSuccess}
	sel := newSelector(signals, gov, exec, map[string]string{})

	out, err := sel.Tick(context.Background())
	require.NoError(t, err)

	assert.True(t, out.Executed)
	require.Len(t, exec.requests, 1)
	req := exec.requests[0]
	assert.Equal(t, "auto_select", req.Source)
	assert.Equal(t, db.OrderSideBuy, req.Side)
	assert.Equal(t, 1950.0, req.RequestedPrice)

	_, _, committed := sel.policy.Last()
	assert.True(t, committed, "successful execution commits the policy")
}

func TestTickNoEligibleSignal(t *testing.T) {
	signals := &fakeSignals{signal: nil}
	gov := &fakeGovernor{decision: governance.Decision{Allow: true}}
	exec := &fakeExecutor{}
	sel := newSelector(signals, gov, exec, map[string]string{})

	out, err := sel.Tick(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Executed)
	assert.Empty(t, exec.requests)
	assert.Zero(t, gov.calls, "no signal means no gate call")
}

func TestTickThresholdsComeFromSettings(t *testing.T) {
	signals := &fakeSignals{}
	sel := newSelector(signals, &fakeGovernor{}, &fakeExecutor{}, map[string]string{
		settings.KeyAutoSelectMinScore:      "70",
		settings.KeyAutoSelectMinConfidence: "65",
	})

	_, err := sel.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 70.0, signals.minScore)
	assert.Equal(t, 65.0, signals.minConfidence)
}

func TestTickGovernanceDenialSkipsExecution(t *testing.T) {
	signals := &fakeSignals{signal: buySignal(78)}
	gov := &fakeGovernor{decision: governance.Decision{Allow: false, Reason: "rate limit reached"}}
	exec := &fakeExecutor{}
	sel := newSelector(signals, gov, exec, map[string]string{})

	out, err := sel.Tick(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Executed)
	assert.Equal(t, "rate limit reached", out.Reason)
	assert.Empty(t, exec.requests)

	_, _, committed := sel.policy.Last()
	assert.False(t, committed)
}

func TestTickSelectionPolicyHoldsIncumbent(t *testing.T) {
	signals := &fakeSignals{signal: buySignal(78)}
	gov := &fakeGovernor{decision: governance.Decision{Allow: true}}
	exec := &fakeExecutor{status: db.ExecutionStatusSimulated}
	sel := newSelector(signals, gov, exec, map[string]string{})

	_, err := sel.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, exec.requests, 1)

	// A different cell inside the cooldown is held back.
	other := buySignal(95)
	other.Symbol = "EURUSD"
	signals.signal = other

	out, err := sel.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Executed)
	assert.Equal(t, "selection policy", out.Reason)
	assert.Len(t, exec.requests, 1)
}

func TestVolumeSizing(t *testing.T) {
	sl := 1945.0
	tests := []struct {
		name    string
		balance float64
		entry   float64
		sl      *float64
		want    float64
	}{
		{"1% of 10k against a 5 point stop", 10000, 1950, &sl, 0.2},
		{"small balance clamps to min lot", 100, 1950, &sl, 0.01},
		{"huge balance clamps to max lot", 1e7, 1950, &sl, 1.0},
		{"no stop falls back to min lot", 10000, 1950, nil, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, sizeVolume(tt.balance, tt.entry, tt.sl), 1e-9)
		})
	}
}

func TestTickPassesSystemUser(t *testing.T) {
	userID := uuid.New()
	signals := &fakeSignals{signal: buySignal(78)}
	gov := &fakeGovernor{decision: governance.Decision{Allow: true}}
	exec := &fakeExecutor{status: db.ExecutionStatusSuccess}
	sel := newSelector(signals, gov, exec, map[string]string{
		settings.KeyAutoSelectSystemUserID: userID.String(),
	})

	_, err := sel.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, exec.requests, 1)
	require.NotNil(t, exec.requests[0].UserID)
	assert.Equal(t, userID, *exec.requests[0].UserID)
}
