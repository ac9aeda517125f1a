package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeStore is an in-memory settings store for tests
type fakeStore struct {
	values map[string]string
}

func newFakeStore(values map[string]string) *fakeStore {
	if values == nil {
		values = map[string]string{}
	}
	return &fakeStore{values: values}
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStore) SetSetting(ctx context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeStore) SetSettings(ctx context.Context, kv map[string]string) error {
	for k, v := range kv {
		f.values[k] = v
	}
	return nil
}

func TestGetBool(t *testing.T) {
	tests := []struct {
		name  string
		value string
		def   bool
		want  bool
	}{
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes upper", "YES", false, true},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"off", "off", true, false},
		{"garbage falls back", "maybe", true, true},
		{"empty falls back", "", false, false},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(nil)
			if tt.value != "" {
				store.values["K"] = tt.value
			}
			svc := NewService(store)
			assert.Equal(t, tt.want, svc.GetBool(ctx, "K", tt.def))
		})
	}
}

func TestNumericAccessors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore(map[string]string{
		KeyExecMaxLatencyMS:       "1500",
		KeyExecMaxSlippage:        "2.5",
		KeyExecViolationWindowMin: "15",
		KeyDXYRefreshSeconds:      "30",
		"BAD_INT":                 "abc",
	}))

	assert.Equal(t, 1500, svc.GetInt(ctx, KeyExecMaxLatencyMS, 0))
	assert.Equal(t, 2.5, svc.GetFloat(ctx, KeyExecMaxSlippage, 0))
	assert.Equal(t, 15*time.Minute, svc.GetDurationMinutes(ctx, KeyExecViolationWindowMin, 0))
	assert.Equal(t, 30*time.Second, svc.GetDurationSeconds(ctx, KeyDXYRefreshSeconds, 0))

	assert.Equal(t, 7, svc.GetInt(ctx, "BAD_INT", 7))
	assert.Equal(t, 9, svc.GetInt(ctx, "MISSING", 9))
}

func TestGetJSON(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeStore(map[string]string{
		KeyScannerUniverseJSON: `{"symbols":[{"symbol":"XAUUSD","weight":1.0}],"timeframes":["M15"]}`,
		"BROKEN":               `{nope`,
	}))

	var universe struct {
		Symbols []struct {
			Symbol string  `json:"symbol"`
			Weight float64 `json:"weight"`
		} `json:"symbols"`
		Timeframes []string `json:"timeframes"`
	}

	assert.True(t, svc.GetJSON(ctx, KeyScannerUniverseJSON, &universe))
	assert.Len(t, universe.Symbols, 1)
	assert.Equal(t, "XAUUSD", universe.Symbols[0].Symbol)

	var out map[string]interface{}
	assert.False(t, svc.GetJSON(ctx, "BROKEN", &out))
	assert.False(t, svc.GetJSON(ctx, "MISSING", &out))
}
