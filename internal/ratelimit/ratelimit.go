// Package ratelimit bounds total dispatch volume and imposes escalating
// per-issue backoff after repeated failed fixes. The global limiter is a
// sliding window persisted in the orchestrator state; the cooldown schedule
// comes from each repo's registry entry.
package ratelimit

import (
	"time"

	"github.com/ortelius/avr-backend/model"
)

// Defaults applied when the environment does not override them.
const (
	DefaultMaxSessions         = 10
	DefaultPeriodHours         = 24
	DefaultMaxDispatchAttempts = 3
)

// Limiter wraps the persisted sliding window. It mutates the window in
// place so the caller's state save carries the updated timestamps.
type Limiter struct {
	window *model.RateLimiterWindow
}

// NewLimiter wraps the persisted window state.
func NewLimiter(window *model.RateLimiterWindow) *Limiter {
	return &Limiter{window: window}
}

// Allow reports whether one more session may be created at now. The check
// runs before every dispatch, never after: pruning happens first so the
// invariant count(timestamps within period) <= max_sessions always holds.
func (l *Limiter) Allow(now time.Time) bool {
	l.prune(now)
	return len(l.window.CreatedTimestamps) < l.window.MaxSessions
}

// Record appends a dispatch timestamp after a successful session creation.
func (l *Limiter) Record(now time.Time) {
	l.window.CreatedTimestamps = append(l.window.CreatedTimestamps, now)
}

// Used returns how much of the window is consumed at now.
func (l *Limiter) Used(now time.Time) int {
	l.prune(now)
	return len(l.window.CreatedTimestamps)
}

// Max returns the window capacity.
func (l *Limiter) Max() int {
	return l.window.MaxSessions
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Duration(l.window.PeriodHours) * time.Hour)
	kept := l.window.CreatedTimestamps[:0]
	for _, ts := range l.window.CreatedTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.window.CreatedTimestamps = kept
}

// CooldownRemaining returns how long an issue with the given failure streak
// stays ineligible after its last dispatch. The schedule escalates with each
// consecutive failure; past its end the last entry repeats (the issue is
// normally excluded outright by then via needs-human-review).
func CooldownRemaining(entry *model.DispatchHistoryEntry, schedule []int, now time.Time) time.Duration {
	if entry == nil || entry.LastDispatched == nil || entry.ConsecutiveFailures == 0 {
		return 0
	}
	if len(schedule) == 0 {
		schedule = model.DefaultCooldownSchedule
	}
	idx := entry.ConsecutiveFailures - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	until := entry.LastDispatched.Add(time.Duration(schedule[idx]) * time.Hour)
	if remaining := until.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// Blocked reports whether an issue is excluded from automatic dispatch: a
// permanently flagged issue (failure streak reached max attempts) or one
// whose cooldown has not elapsed.
func Blocked(entry *model.DispatchHistoryEntry, schedule []int, maxAttempts int, now time.Time) (bool, string) {
	if entry == nil {
		return false, ""
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxDispatchAttempts
	}
	if entry.NeedsHumanReview || entry.ConsecutiveFailures >= maxAttempts {
		return true, model.SkipNeedsHumanReview
	}
	if CooldownRemaining(entry, schedule, now) > 0 {
		return true, model.SkipCooldown
	}
	return false, ""
}
