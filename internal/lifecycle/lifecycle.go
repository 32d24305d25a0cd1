// Package lifecycle derives the state of each tracked issue from its scan
// presence, dispatch history and external session/PR/verification signals.
// States are never persisted: they are recomputed from source data on every
// cycle so they cannot drift.
package lifecycle

import (
	"time"

	"github.com/ortelius/avr-backend/internal/ratelimit"
	"github.com/ortelius/avr-backend/model"
)

// Signals carries the externally supplied facts about an issue's last
// dispatch: whether the agent session is still running, whether it produced
// a pull request, and what the verification feed reported.
type Signals struct {
	SessionActive bool
	PROpen        bool
	PRMerged      bool
	Verified      bool
}

// Observation is everything the tracker needs to classify one fingerprint.
type Observation struct {
	// PresentInLatestScan is false once the fingerprint stops appearing.
	PresentInLatestScan bool
	// AppearedInPriorScan is true when the fingerprint was seen in any
	// earlier scan of the same repo.
	AppearedInPriorScan bool
	// LegacyNonzeroScan is true when the repo has a historical scan that
	// predates fingerprint support and reported a nonzero issue count.
	LegacyNonzeroScan bool
	History           *model.DispatchHistoryEntry
	Signals           Signals
}

// Options tune the classification heuristics.
type Options struct {
	// LegacyScanCountsAsRecurring applies the conservative "might have
	// existed" rule: repos with pre-fingerprint scan history never produce
	// "new" issues. On by default; configurable because the rule is a
	// heuristic with no stated confidence bound.
	LegacyScanCountsAsRecurring bool
}

// DefaultOptions keeps the conservative heuristic enabled.
func DefaultOptions() Options {
	return Options{LegacyScanCountsAsRecurring: true}
}

// Classify computes the lifecycle state for one issue.
func Classify(obs Observation, opts Options) string {
	// Absence from the latest scan wins over every other signal.
	if !obs.PresentInLatestScan {
		return model.StateFixed
	}
	if obs.Signals.Verified {
		return model.StateVerifiedFixed
	}
	if obs.Signals.PRMerged {
		return model.StatePRMerged
	}
	if obs.Signals.PROpen {
		return model.StatePROpen
	}
	if obs.Signals.SessionActive {
		return model.StateSessionDispatched
	}
	if obs.AppearedInPriorScan {
		return model.StateRecurring
	}
	if opts.LegacyScanCountsAsRecurring && obs.LegacyNonzeroScan {
		return model.StateRecurring
	}
	// A previously dispatched fingerprint that reappears is recurring even
	// if scan history was compacted.
	if obs.History != nil && obs.History.DispatchCount > 0 {
		return model.StateRecurring
	}
	return model.StateNew
}

// Eligibility is the skip decision for one issue in the current cycle.
type Eligibility struct {
	State      string
	Eligible   bool
	SkipReason string
}

// Evaluate classifies an issue and applies the skip predicate: fixed or
// verified issues, in-flight sessions and PRs, permanently flagged issues
// and unexpired cooldowns are all excluded from the candidate pool.
func Evaluate(obs Observation, schedule []int, maxAttempts int, opts Options, now time.Time) Eligibility {
	state := Classify(obs, opts)

	switch state {
	case model.StateFixed:
		return Eligibility{State: state, SkipReason: model.SkipFixed}
	case model.StateVerifiedFixed:
		return Eligibility{State: state, SkipReason: model.SkipVerified}
	case model.StateSessionDispatched:
		return Eligibility{State: state, SkipReason: model.SkipActiveSession}
	case model.StatePROpen:
		return Eligibility{State: state, SkipReason: model.SkipPROpen}
	case model.StatePRMerged:
		return Eligibility{State: state, SkipReason: model.SkipPRMerged}
	}

	if blocked, reason := ratelimit.Blocked(obs.History, schedule, maxAttempts, now); blocked {
		return Eligibility{State: state, SkipReason: reason}
	}
	return Eligibility{State: state, Eligible: true}
}
