// Package model - Durable orchestrator state.
package model

import "time"

// RateLimiterWindow is the persisted sliding-window state for the global
// session rate limiter. CreatedTimestamps is append-only within the window
// and pruned of entries older than PeriodHours at each check.
type RateLimiterWindow struct {
	MaxSessions       int         `json:"max_sessions"`
	PeriodHours       int         `json:"period_hours"`
	CreatedTimestamps []time.Time `json:"created_timestamps"`
}

// OrchestratorState is the single source of truth carried across cycles.
// It is persisted as one document so a save is all-or-nothing: the rate
// limiter window can never be committed without the matching dispatch
// history.
type OrchestratorState struct {
	Key             string                           `json:"_key,omitempty"`
	ObjType         string                           `json:"objtype,omitempty"`
	RateLimiter     RateLimiterWindow                `json:"rate_limiter"`
	DispatchHistory map[string]*DispatchHistoryEntry `json:"dispatch_history"`
	FixStats        map[string]*FixStat              `json:"fix_stats,omitempty"`
	LastCycleID     string                           `json:"last_cycle_id,omitempty"`
	LastCycleAt     *time.Time                       `json:"last_cycle_at,omitempty"`
	UpdatedAt       time.Time                        `json:"updated_at"`
}

// FixStat accumulates dispatch outcomes per CWE family, feeding the
// feasibility component of the priority score.
type FixStat struct {
	Attempts int `json:"attempts"`
	Verified int `json:"verified"`
}

// FixRates derives the historical fix rate per CWE family. Families without
// resolved attempts are absent so the scorer applies its neutral default.
func (s *OrchestratorState) FixRates() map[string]float64 {
	rates := make(map[string]float64, len(s.FixStats))
	for family, stat := range s.FixStats {
		if stat.Attempts > 0 {
			rates[family] = float64(stat.Verified) / float64(stat.Attempts)
		}
	}
	return rates
}

// RecordOutcome applies a resolved dispatch attempt to both the fingerprint's
// history entry and the per-family fix statistics.
func (s *OrchestratorState) RecordOutcome(fingerprint, outcome string, maxAttempts int) {
	entry, ok := s.DispatchHistory[fingerprint]
	if !ok {
		return
	}
	entry.RecordOutcome(outcome, maxAttempts)

	if outcome == OutcomePending {
		return
	}
	if s.FixStats == nil {
		s.FixStats = make(map[string]*FixStat)
	}
	stat, ok := s.FixStats[entry.CweFamily]
	if !ok {
		stat = &FixStat{}
		s.FixStats[entry.CweFamily] = stat
	}
	stat.Attempts++
	if outcome == OutcomeVerified {
		stat.Verified++
	}
}

// NewOrchestratorState creates an empty state with the given limiter bounds.
func NewOrchestratorState(maxSessions, periodHours int) *OrchestratorState {
	return &OrchestratorState{
		ObjType: "OrchestratorState",
		RateLimiter: RateLimiterWindow{
			MaxSessions: maxSessions,
			PeriodHours: periodHours,
		},
		DispatchHistory: make(map[string]*DispatchHistoryEntry),
		UpdatedAt:       time.Now().UTC(),
	}
}

// History returns the entry for a fingerprint, creating it on first use.
func (s *OrchestratorState) History(fingerprint, repoURL string) *DispatchHistoryEntry {
	if s.DispatchHistory == nil {
		s.DispatchHistory = make(map[string]*DispatchHistoryEntry)
	}
	if e, ok := s.DispatchHistory[fingerprint]; ok {
		return e
	}
	e := &DispatchHistoryEntry{
		Fingerprint: fingerprint,
		RepoURL:     repoURL,
		LastOutcome: OutcomeUnknown,
	}
	s.DispatchHistory[fingerprint] = e
	return e
}

// StateExport is a point-in-time snapshot of orchestrator state for audit.
type StateExport struct {
	ExportedAt time.Time          `json:"exported_at"`
	State      *OrchestratorState `json:"state"`
	AuditTrail []AuditEvent       `json:"audit_trail,omitempty"`
}

// AuditEvent is one immutable dispatch-history event. Audit events are
// append-only and survive independent of the live state document.
type AuditEvent struct {
	Key         string    `json:"_key,omitempty"`
	ObjType     string    `json:"objtype,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	RepoURL     string    `json:"repo_url"`
	CycleID     string    `json:"cycle_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Event       string    `json:"event"`
	Outcome     string    `json:"outcome,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}
