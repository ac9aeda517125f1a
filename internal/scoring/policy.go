package scoring

import (
	"sync"
	"time"
)

// SelectionPolicy prevents strategy thrashing: within the cooldown only
// the committed strategy may act, and switching afterwards requires the
// challenger to beat the committed score by the hysteresis delta.
type SelectionPolicy struct {
	mu sync.Mutex

	cooldown        time.Duration
	hysteresisDelta float64

	lastStrategy   string
	lastSelectedAt time.Time
	lastScore      float64
	committed      bool

	now func() time.Time
}

// NewSelectionPolicy creates a policy with the given cooldown and
// hysteresis delta.
func NewSelectionPolicy(cooldown time.Duration, hysteresisDelta float64) *SelectionPolicy {
	return &SelectionPolicy{
		cooldown:        cooldown,
		hysteresisDelta: hysteresisDelta,
		now:             time.Now,
	}
}

// Allow reports whether the candidate strategy may be selected now
func (p *SelectionPolicy) Allow(strategy string, score float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.committed {
		return true
	}

	if p.now().Sub(p.lastSelectedAt) < p.cooldown {
		return strategy == p.lastStrategy
	}

	if strategy == p.lastStrategy {
		return true
	}
	return score-p.lastScore >= p.hysteresisDelta
}

// Commit records a completed selection
func (p *SelectionPolicy) Commit(strategy string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastStrategy = strategy
	p.lastScore = score
	p.lastSelectedAt = p.now()
	p.committed = true
}

// Last returns the committed strategy and score, or ok=false before the
// first commit.
func (p *SelectionPolicy) Last() (strategy string, score float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastStrategy, p.lastScore, p.committed
}
