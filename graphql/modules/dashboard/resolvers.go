// Package dashboard implements the resolvers for dashboard metrics.
package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/ortelius/avr-backend/internal/ratelimit"
	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ResolveOverview handles fetching the high-level dashboard metrics
func ResolveOverview(ctx context.Context, st store.Store) (interface{}, error) {
	state, err := st.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := st.Repos(ctx)
	if err != nil {
		return nil, err
	}
	schedules := make(map[string][]int, len(repos))
	for i := range repos {
		schedules[repos[i].RepoURL] = repos[i].Cooldown()
	}

	now := time.Now().UTC()
	limiter := ratelimit.NewLimiter(&state.RateLimiter)
	review, cooling := 0, 0
	for _, entry := range state.DispatchHistory {
		if entry.NeedsHumanReview {
			review++
			continue
		}
		schedule, ok := schedules[entry.RepoURL]
		if !ok {
			schedule = model.DefaultCooldownSchedule
		}
		if ratelimit.CooldownRemaining(entry, schedule, now) > 0 {
			cooling++
		}
	}

	return map[string]interface{}{
		"tracked_fingerprints": len(state.DispatchHistory),
		"needs_human_review":   review,
		"cooling_down":         cooling,
		"rate_limiter_used":    limiter.Used(now),
		"rate_limiter_max":     limiter.Max(),
	}, nil
}

// ResolveSeverityDistribution fetches the current breakdown of open issues
func ResolveSeverityDistribution(ctx context.Context, st store.Store) (interface{}, error) {
	counts, err := st.OpenSeverityCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"critical": counts[model.SeverityCritical],
		"high":     counts[model.SeverityHigh],
		"medium":   counts[model.SeverityMedium],
		"low":      counts[model.SeverityLow],
	}, nil
}

// ResolveFixRates returns the per-family feasibility statistics
func ResolveFixRates(ctx context.Context, st store.Store) (interface{}, error) {
	state, err := st.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	for family, stat := range state.FixStats {
		rate := 0.0
		if stat.Attempts > 0 {
			rate = float64(stat.Verified) / float64(stat.Attempts)
		}
		rows = append(rows, map[string]interface{}{
			"cwe_family": family,
			"attempts":   stat.Attempts,
			"verified":   stat.Verified,
			"rate":       rate,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["cwe_family"].(string) < rows[j]["cwe_family"].(string)
	})
	return rows, nil
}

// ResolveDispatchHistory returns the dispatch record of one fingerprint
func ResolveDispatchHistory(ctx context.Context, st store.Store, fingerprint string) (interface{}, error) {
	state, err := st.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := state.DispatchHistory[fingerprint]
	if !ok {
		return nil, nil
	}
	return map[string]interface{}{
		"fingerprint":          entry.Fingerprint,
		"repo_url":             entry.RepoURL,
		"cwe_family":           entry.CweFamily,
		"dispatch_count":       entry.DispatchCount,
		"last_dispatched":      formatTime(entry.LastDispatched),
		"last_session_id":      entry.LastSessionID,
		"last_outcome":         entry.LastOutcome,
		"consecutive_failures": entry.ConsecutiveFailures,
		"needs_human_review":   entry.NeedsHumanReview,
	}, nil
}

// ResolveRecentCycles returns the most recent cycle reports
func ResolveRecentCycles(ctx context.Context, st store.Store, limit int) (interface{}, error) {
	reports, err := st.CycleReports(ctx, limit)
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	for _, report := range reports {
		finished := report.FinishedAt
		rows = append(rows, map[string]interface{}{
			"cycle_id":    report.CycleID,
			"started_at":  report.StartedAt.Format(time.RFC3339),
			"finished_at": formatTime(&finished),
			"dispatched":  report.DispatchedCount,
			"skipped":     report.SkippedCount,
			"deferred":    report.DeferredCount,
			"halted":      report.Halted,
			"halt_reason": report.HaltReason,
			"failed":      report.Failed,
		})
	}
	return rows, nil
}

// ResolveObjectiveProgress reports open-issue counts against the fleet objectives
func ResolveObjectiveProgress(ctx context.Context, st store.Store) (interface{}, error) {
	objectives, err := st.Objectives(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := st.OpenSeverityCounts(ctx)
	if err != nil {
		return nil, err
	}

	var rows []map[string]interface{}
	for _, obj := range objectives {
		open := counts[obj.TargetSeverity]
		rows = append(rows, map[string]interface{}{
			"name":            obj.Name,
			"target_severity": obj.TargetSeverity,
			"target_count":    obj.TargetCount,
			"open_count":      open,
			"met":             open <= obj.TargetCount,
		})
	}
	return rows, nil
}
