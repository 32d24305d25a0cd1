package ratelimit

import (
	"testing"
	"time"

	"github.com/ortelius/avr-backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func TestLimiterEnforcesWindowBound(t *testing.T) {
	window := &model.RateLimiterWindow{MaxSessions: 2, PeriodHours: 24}
	l := NewLimiter(window)

	require.True(t, l.Allow(now))
	l.Record(now)
	require.True(t, l.Allow(now))
	l.Record(now)

	// Third dispatch in the window is refused.
	assert.False(t, l.Allow(now))
	assert.Equal(t, 2, l.Used(now))
}

func TestLimiterSlidesWindow(t *testing.T) {
	window := &model.RateLimiterWindow{MaxSessions: 2, PeriodHours: 24}
	l := NewLimiter(window)

	l.Record(now.Add(-25 * time.Hour))
	l.Record(now.Add(-23 * time.Hour))

	// The 25h-old entry has aged out; one slot is free again.
	assert.True(t, l.Allow(now))
	assert.Equal(t, 1, l.Used(now))

	l.Record(now)
	assert.False(t, l.Allow(now))
}

func TestLimiterPrunesPersistedState(t *testing.T) {
	window := &model.RateLimiterWindow{
		MaxSessions: 5,
		PeriodHours: 24,
		CreatedTimestamps: []time.Time{
			now.Add(-30 * time.Hour),
			now.Add(-2 * time.Hour),
		},
	}
	l := NewLimiter(window)
	l.Allow(now)

	// The stale timestamp is gone from the window the caller persists.
	require.Len(t, window.CreatedTimestamps, 1)
	assert.Equal(t, now.Add(-2*time.Hour), window.CreatedTimestamps[0])
}

func entryWithFailures(failures int, lastDispatched time.Time) *model.DispatchHistoryEntry {
	return &model.DispatchHistoryEntry{
		Fingerprint:         "fp-1",
		ConsecutiveFailures: failures,
		LastDispatched:      &lastDispatched,
	}
}

func TestCooldownEscalates(t *testing.T) {
	schedule := []int{24, 72, 168}
	dispatched := now.Add(-30 * time.Hour)

	// First failure: 24h cooldown, already elapsed after 30h.
	assert.Equal(t, time.Duration(0), CooldownRemaining(entryWithFailures(1, dispatched), schedule, now))

	// Second failure: 72h cooldown, 42h still remaining.
	assert.Equal(t, 42*time.Hour, CooldownRemaining(entryWithFailures(2, dispatched), schedule, now))

	// Third failure: 168h cooldown.
	assert.Equal(t, 138*time.Hour, CooldownRemaining(entryWithFailures(3, dispatched), schedule, now))
}

func TestCooldownSkipsNeverDispatched(t *testing.T) {
	assert.Equal(t, time.Duration(0), CooldownRemaining(nil, nil, now))
	assert.Equal(t, time.Duration(0), CooldownRemaining(&model.DispatchHistoryEntry{}, nil, now))
}

func TestVerifiedResetsFailureStreak(t *testing.T) {
	entry := entryWithFailures(2, now.Add(-1*time.Hour))
	entry.RecordOutcome(model.OutcomeVerified, DefaultMaxDispatchAttempts)

	assert.Equal(t, 0, entry.ConsecutiveFailures)
	blocked, _ := Blocked(entry, nil, DefaultMaxDispatchAttempts, now)
	assert.False(t, blocked)
}

func TestExhaustedScheduleBlocksRegardlessOfElapsedTime(t *testing.T) {
	entry := entryWithFailures(2, now.Add(-1000 * time.Hour))
	entry.RecordOutcome(model.OutcomePRFailed, DefaultMaxDispatchAttempts)
	require.Equal(t, 3, entry.ConsecutiveFailures)
	require.True(t, entry.NeedsHumanReview)

	blocked, reason := Blocked(entry, []int{24, 72, 168}, 3, now)
	assert.True(t, blocked)
	assert.Equal(t, model.SkipNeedsHumanReview, reason)

	// Even a year later the issue stays with a human.
	blocked, _ = Blocked(entry, []int{24, 72, 168}, 3, now.Add(365*24*time.Hour))
	assert.True(t, blocked)
}

func TestBlockedDuringCooldown(t *testing.T) {
	entry := entryWithFailures(1, now.Add(-2*time.Hour))
	blocked, reason := Blocked(entry, []int{24, 72, 168}, 3, now)
	assert.True(t, blocked)
	assert.Equal(t, model.SkipCooldown, reason)

	blocked, _ = Blocked(entry, []int{24, 72, 168}, 3, now.Add(23*time.Hour))
	assert.False(t, blocked)
}
