package analyzers

import "time"

// Session is one trading kill zone defined over UTC hours
type Session struct {
	Name       string `json:"name"`
	StartHour  int    `json:"start_hour"` // inclusive, UTC
	EndHour    int    `json:"end_hour"`   // exclusive, UTC
	Liquidity  int    `json:"liquidity"`  // 1..5 rating
	Volatility int    `json:"volatility"` // 1..5 rating
}

// KillZoneStatus is the evaluation of the clock against the session table
type KillZoneStatus struct {
	Active      *Session `json:"active,omitempty"`
	Liquidity   int      `json:"liquidity"`
	Volatility  int      `json:"volatility"`
	Recommended bool     `json:"recommended"`
}

// minTradableLiquidity is the rating floor for CanTrade
const minTradableLiquidity = 4

// defaultSessions are the metals/FX kill zones in UTC
var defaultSessions = []Session{
	{Name: "asian", StartHour: 0, EndHour: 6, Liquidity: 2, Volatility: 2},
	{Name: "london", StartHour: 7, EndHour: 10, Liquidity: 5, Volatility: 4},
	{Name: "london_ny_overlap", StartHour: 12, EndHour: 14, Liquidity: 5, Volatility: 5},
	{Name: "new_york", StartHour: 14, EndHour: 17, Liquidity: 5, Volatility: 4},
}

// KillZones evaluates the trading-session clock
type KillZones struct {
	sessions []Session
}

// NewKillZones builds the evaluator. Passing no sessions uses the default
// Asian/London/New York table.
func NewKillZones(sessions ...Session) *KillZones {
	if len(sessions) == 0 {
		sessions = defaultSessions
	}
	return &KillZones{sessions: sessions}
}

// Evaluate returns the active session at t, if any, with its liquidity
// and volatility ratings. Off-session hours rate both 1.
func (kz *KillZones) Evaluate(t time.Time) KillZoneStatus {
	hour := t.UTC().Hour()
	for i := range kz.sessions {
		s := kz.sessions[i]
		if hour >= s.StartHour && hour < s.EndHour {
			return KillZoneStatus{
				Active:      &s,
				Liquidity:   s.Liquidity,
				Volatility:  s.Volatility,
				Recommended: s.Liquidity >= minTradableLiquidity,
			}
		}
	}
	return KillZoneStatus{Liquidity: 1, Volatility: 1}
}

// CanTrade reports whether t falls in a recommended high-liquidity session
func (kz *KillZones) CanTrade(t time.Time) bool {
	st := kz.Evaluate(t)
	return st.Active != nil && st.Liquidity >= minTradableLiquidity
}
