// Package monitor implements the L6 adaptive polling schedule: it decides
// how often the sync engine's detection/sync cycle should be invoked,
// driven by editing activity and recent conflict density (§4.5). The
// monitor never calls the sync engine itself — it only computes an
// interval and, via Run, ticks a caller-supplied trigger on that schedule.
package monitor

import (
	"context"
	"sync"
	"time"
)

// Config holds the §4.5 design constants, exposed for the same reason
// every other layer's thresholds are: spec.md §9 flags their interaction
// with the conflict detector's own windows as unresolved, so these are
// tunable rather than baked in.
type Config struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	// ActivityWindow bounds "now - last_activity" for the 2x-active boost.
	ActivityWindow time.Duration
	// ConflictDecisionWindow bounds how recent a conflict must be to apply
	// the 1.5x-active boost.
	ConflictDecisionWindow time.Duration
	// ConflictHistoryWindow is how long a conflict timestamp is retained in
	// the bounded history at all (§4.5: "window = 300s").
	ConflictHistoryWindow time.Duration
}

// DefaultConfig matches spec.md's literal defaults.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:         2 * time.Second,
		IdleInterval:           30 * time.Second,
		ActivityWindow:         60 * time.Second,
		ConflictDecisionWindow: 60 * time.Second,
		ConflictHistoryWindow:  300 * time.Second,
	}
}

// Monitor tracks editing activity and recent conflicts and derives the
// adaptive polling interval from them. Safe for concurrent use.
type Monitor struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	editing      bool
	lastActivity time.Time
	conflicts    []time.Time
}

// New builds a Monitor. A nil now defaults to time.Now.
func New(cfg Config, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{cfg: cfg, now: now, lastActivity: now()}
}

// SetEditing records whether an editing session is currently active.
func (m *Monitor) SetEditing(editing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editing = editing
	if editing {
		m.lastActivity = m.now()
	}
}

// RecordActivity marks a non-editing user-activity signal (e.g. a manual
// pull-to-refresh) that should also tighten the polling interval briefly.
func (m *Monitor) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()
}

// RecordConflict appends a conflict observation to the bounded history,
// pruning entries older than ConflictHistoryWindow.
func (m *Monitor) RecordConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.conflicts = append(m.conflicts, now)
	m.pruneLocked(now)
}

func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.ConflictHistoryWindow)
	i := 0
	for ; i < len(m.conflicts); i++ {
		if m.conflicts[i].After(cutoff) {
			break
		}
	}
	m.conflicts = m.conflicts[i:]
}

// Interval computes the next polling interval per §4.5's priority order:
// an active editing session wins outright; failing that, recent activity
// doubles the active interval; failing that, a recent conflict applies a
// smaller 1.5x boost; otherwise the idle interval applies.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	if m.editing {
		return m.cfg.ActiveInterval
	}
	if now.Sub(m.lastActivity) < m.cfg.ActivityWindow {
		return 2 * m.cfg.ActiveInterval
	}
	if m.hasRecentConflictLocked(now) {
		return time.Duration(1.5 * float64(m.cfg.ActiveInterval))
	}
	return m.cfg.IdleInterval
}

func (m *Monitor) hasRecentConflictLocked(now time.Time) bool {
	cutoff := now.Add(-m.cfg.ConflictDecisionWindow)
	for i := len(m.conflicts) - 1; i >= 0; i-- {
		if m.conflicts[i].After(cutoff) {
			return true
		}
	}
	return false
}

// Run ticks trigger on the adaptive schedule until ctx is cancelled,
// re-evaluating the interval after every invocation so a change in
// activity or conflict density takes effect on the next tick rather than
// waiting out a stale, longer interval.
func (m *Monitor) Run(ctx context.Context, trigger func(context.Context)) {
	for {
		timer := time.NewTimer(m.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			trigger(ctx)
		}
	}
}
