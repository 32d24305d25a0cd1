// Package model - Cycle reports and plan previews exposed to collaborators.
package model

import "time"

// Issue lifecycle states derived by the lifecycle tracker. Never persisted:
// always recomputed from issues, dispatch history and external signals.
const (
	StateNew               = "new"
	StateRecurring         = "recurring"
	StateSessionDispatched = "session_dispatched"
	StatePROpen            = "pr_open"
	StatePRMerged          = "pr_merged"
	StateVerifiedFixed     = "verified_fixed"
	StateFixed             = "fixed"
)

// Skip reasons reported for ineligible issues in a plan preview.
const (
	SkipFixed            = "fixed"
	SkipVerified         = "verified_fixed"
	SkipActiveSession    = "session_active"
	SkipPROpen           = "pr_open"
	SkipPRMerged         = "pr_merged_awaiting_verification"
	SkipNeedsHumanReview = "needs_human_review"
	SkipCooldown         = "cooldown"
	SkipAutoDispatchOff  = "auto_dispatch_disabled"
	SkipRateLimited      = "rate_limited"
)

// PlanEntry is one row of a side-effect-free dispatch preview.
type PlanEntry struct {
	Issue      *Issue  `json:"issue"`
	State      string  `json:"state"`
	Score      float64 `json:"score"`
	Wave       string  `json:"wave"`
	Eligible   bool    `json:"eligible"`
	SkipReason string  `json:"skip_reason,omitempty"`
}

// BatchResult records the outcome of one dispatched batch.
type BatchResult struct {
	RepoURL       string   `json:"repo_url"`
	SessionID     string   `json:"session_id,omitempty"`
	Fingerprints  []string `json:"fingerprints"`
	Created       bool     `json:"created"`
	CreationError string   `json:"creation_error,omitempty"`
	Status        string   `json:"status,omitempty"`
	PullRequest   string   `json:"pull_request,omitempty"`
	PRMerged      bool     `json:"pr_merged"`
	Verified      int      `json:"verified"`
}

// WaveReport summarizes one severity-tier wave within a cycle.
type WaveReport struct {
	Severity         string        `json:"severity"`
	Batches          []BatchResult `json:"batches"`
	Dispatched       int           `json:"dispatched"`
	VerifiedOrMerged int           `json:"verified_or_merged"`
	CreationFailures int           `json:"creation_failures"`
	Deferred         int           `json:"deferred"`
	FixRate          float64       `json:"fix_rate"`
	TimedOut         bool          `json:"timed_out"`
}

// CycleReport is the structured result of one orchestrator cycle. It is
// returned even on partial failure.
type CycleReport struct {
	Key             string       `json:"_key,omitempty"`
	ObjType         string       `json:"objtype,omitempty"`
	CycleID         string       `json:"cycle_id"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	Waves           []WaveReport `json:"waves"`
	DispatchedCount int          `json:"dispatched_count"`
	SkippedCount    int          `json:"skipped_count"`
	DeferredCount   int          `json:"deferred_count"`
	Halted          bool         `json:"halted"`
	HaltReason      string       `json:"halt_reason,omitempty"`
	Failed          bool         `json:"failed"`
	Warnings        []string     `json:"warnings,omitempty"`
}

// StatusReport is the read-only orchestrator status surface.
type StatusReport struct {
	RateLimiterUsed   int                 `json:"rate_limiter_used"`
	RateLimiterMax    int                 `json:"rate_limiter_max"`
	PeriodHours       int                 `json:"period_hours"`
	CoolingDown       int                 `json:"cooling_down"`
	NeedsHumanReview  int                 `json:"needs_human_review"`
	ObjectiveProgress []ObjectiveProgress `json:"objective_progress"`
	LastCycleID       string              `json:"last_cycle_id,omitempty"`
	LastCycleAt       *time.Time          `json:"last_cycle_at,omitempty"`
}

// ObjectiveProgress reports open-issue counts against one fleet objective.
type ObjectiveProgress struct {
	Name           string `json:"name"`
	TargetSeverity string `json:"target_severity"`
	TargetCount    int    `json:"target_count"`
	OpenCount      int    `json:"open_count"`
	Met            bool   `json:"met"`
}
