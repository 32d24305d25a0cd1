// Package orchestrator runs the remediation cycle end to end: load state
// under the cycle lock, classify every tracked issue, score and plan the
// eligible ones, dispatch severity waves and commit the updated state in a
// single save.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ortelius/avr-backend/internal/dispatch"
	"github.com/ortelius/avr-backend/internal/lifecycle"
	"github.com/ortelius/avr-backend/internal/ratelimit"
	"github.com/ortelius/avr-backend/internal/scoring"
	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

// Config tunes a Runner.
type Config struct {
	Dispatch dispatch.Config
	// MaxParallelRepos bounds concurrent per-repo candidate gathering.
	MaxParallelRepos int
	Lifecycle        lifecycle.Options
	// RepoFilter, when set on a preview, restricts planning to one repo.
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Dispatch:         dispatch.DefaultConfig(),
		MaxParallelRepos: 3,
		Lifecycle:        lifecycle.DefaultOptions(),
	}
}

// Runner coordinates one orchestrator instance.
type Runner struct {
	Store  store.Store
	Agent  dispatch.AgentAPI
	Verify dispatch.VerifyAPI
	Config Config
	Log    *zap.SugaredLogger

	Now func() time.Time
}

// NewRunner wires a Runner with defaults.
func NewRunner(st store.Store, agent dispatch.AgentAPI, verify dispatch.VerifyAPI, cfg Config, log *zap.SugaredLogger) *Runner {
	return &Runner{Store: st, Agent: agent, Verify: verify, Config: cfg, Log: log}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// candidate couples one classified issue with its repo config.
type candidate struct {
	issue *model.Issue
	repo  *model.RepoConfig
	state lifecycle.Eligibility
}

// gather walks the registry and classifies every current issue. Repos are
// processed concurrently, at most MaxParallelRepos at a time. The state's
// dispatch history may be updated in place when verification resolves a
// pending outcome.
func (r *Runner) gather(ctx context.Context, state *model.OrchestratorState, repoFilter string) ([]candidate, map[string]*model.RepoConfig, error) {
	repos, err := r.Store.Repos(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading repo registry: %w", err)
	}

	repoIndex := make(map[string]*model.RepoConfig, len(repos))
	for i := range repos {
		repoIndex[repos[i].RepoURL] = &repos[i]
	}

	var (
		mu         sync.Mutex
		candidates []candidate
	)
	now := r.now()

	g, gctx := errgroup.WithContext(ctx)
	limit := r.Config.MaxParallelRepos
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i := range repos {
		repo := &repos[i]
		if repoFilter != "" && repo.RepoURL != repoFilter {
			continue
		}
		g.Go(func() error {
			found, err := r.gatherRepo(gctx, state, repo, &mu, now)
			if err != nil {
				return fmt.Errorf("repo %s: %w", repo.RepoURL, err)
			}
			mu.Lock()
			candidates = append(candidates, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Deterministic order regardless of goroutine completion.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].issue.RepoURL != candidates[j].issue.RepoURL {
			return candidates[i].issue.RepoURL < candidates[j].issue.RepoURL
		}
		return candidates[i].issue.Fingerprint < candidates[j].issue.Fingerprint
	})
	return candidates, repoIndex, nil
}

func (r *Runner) gatherRepo(ctx context.Context, state *model.OrchestratorState, repo *model.RepoConfig, mu *sync.Mutex, now time.Time) ([]candidate, error) {
	issues, err := r.Store.CurrentIssues(ctx, repo.RepoURL)
	if err != nil {
		return nil, err
	}
	legacy, err := r.Store.HasLegacyNonzeroScan(ctx, repo.RepoURL)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, issue := range issues {
		mu.Lock()
		entry := state.DispatchHistory[issue.Fingerprint]
		var hist *model.DispatchHistoryEntry
		if entry != nil {
			copied := *entry
			hist = &copied
		}
		mu.Unlock()

		signals := r.resolveSignals(ctx, state, issue, hist, mu)

		// Resolving a pending outcome may have advanced the history entry;
		// the cooldown check must see the updated failure streak.
		mu.Lock()
		if entry := state.DispatchHistory[issue.Fingerprint]; entry != nil {
			copied := *entry
			hist = &copied
		}
		mu.Unlock()

		obs := lifecycle.Observation{
			PresentInLatestScan: true,
			AppearedInPriorScan: issue.Appearances > 1,
			LegacyNonzeroScan:   legacy,
			History:             hist,
			Signals:             signals,
		}
		elig := lifecycle.Evaluate(obs, repo.Cooldown(), r.Config.Dispatch.MaxDispatchAttempts, r.Config.Lifecycle, now)
		if elig.Eligible && !repo.AutoDispatch {
			elig = lifecycle.Eligibility{State: elig.State, SkipReason: model.SkipAutoDispatchOff}
		}
		out = append(out, candidate{issue: issue, repo: repo, state: elig})
	}
	return out, nil
}

// resolveSignals turns the last dispatch of a fingerprint into live
// session/PR/verification facts. A pending outcome triggers an agent poll; a
// merged PR triggers a verification query whose positive answer is folded
// into the state so the feasibility statistics advance.
func (r *Runner) resolveSignals(ctx context.Context, state *model.OrchestratorState, issue *model.Issue, hist *model.DispatchHistoryEntry, mu *sync.Mutex) lifecycle.Signals {
	var signals lifecycle.Signals
	if hist == nil || hist.LastSessionID == "" {
		return signals
	}

	switch hist.LastOutcome {
	case model.OutcomePending:
		status, err := r.Agent.GetSession(ctx, hist.LastSessionID)
		if err != nil {
			// Unknown session state: assume active rather than risk a
			// double dispatch.
			r.Log.Warnw("session poll failed, treating as active",
				"session", hist.LastSessionID, "error", err)
			signals.SessionActive = true
			return signals
		}
		if !model.SessionTerminal(status.Status) {
			signals.SessionActive = true
			return signals
		}
		switch {
		case status.PRMerged():
			signals.PRMerged = true
			mu.Lock()
			state.RecordOutcome(issue.Fingerprint, model.OutcomePRMerged, r.Config.Dispatch.MaxDispatchAttempts)
			mu.Unlock()
		case status.PROpen():
			signals.PROpen = true
		default:
			mu.Lock()
			state.RecordOutcome(issue.Fingerprint, model.OutcomePRFailed, r.Config.Dispatch.MaxDispatchAttempts)
			mu.Unlock()
		}

	case model.OutcomePRMerged:
		signals.PRMerged = true
		if r.Verify == nil {
			return signals
		}
		outcomes, err := r.Verify.Outcomes(ctx, issue.RepoURL, []string{issue.Fingerprint})
		if err != nil {
			r.Log.Warnw("verification query failed", "repo", issue.RepoURL, "error", err)
			return signals
		}
		if outcomes[issue.Fingerprint] {
			signals.Verified = true
			mu.Lock()
			state.RecordOutcome(issue.Fingerprint, model.OutcomeVerified, r.Config.Dispatch.MaxDispatchAttempts)
			mu.Unlock()
		}

	case model.OutcomeVerified:
		signals.Verified = true
	}
	return signals
}

// unmetObjectives returns the objectives the fleet has not reached yet. A
// met objective grants no scoring boost, so it is dropped before ranking.
func (r *Runner) unmetObjectives(ctx context.Context) ([]model.Objective, error) {
	objectives, err := r.Store.Objectives(ctx)
	if err != nil {
		return nil, err
	}
	if len(objectives) == 0 {
		return objectives, nil
	}
	counts, err := r.Store.OpenSeverityCounts(ctx)
	if err != nil {
		return nil, err
	}
	unmet := objectives[:0]
	for _, obj := range objectives {
		if counts[obj.TargetSeverity] > obj.TargetCount {
			unmet = append(unmet, obj)
		}
	}
	return unmet, nil
}

// Plan produces a side-effect-free dispatch preview: every current issue
// with its state, score, wave assignment or skip reason. Nothing is
// persisted and no session is created.
func (r *Runner) Plan(ctx context.Context, repoFilter string) ([]model.PlanEntry, error) {
	state, err := r.Store.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	candidates, repoIndex, err := r.gather(ctx, state, repoFilter)
	if err != nil {
		return nil, err
	}

	objectives, err := r.unmetObjectives(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	repoFor := func(url string) *model.RepoConfig { return repoIndex[url] }

	var eligible []*model.Issue
	for _, c := range candidates {
		if c.state.Eligible {
			eligible = append(eligible, c.issue)
		}
	}
	ranked := scoring.Rank(eligible, repoFor, scoring.FixRates(state.FixRates()), objectives, now)

	// Simulate wave formation against a copy of the window.
	plan := dispatch.BuildPlan(ranked, repoFor, state.RateLimiter, r.Config.Dispatch, now)

	waveOf := make(map[string]string)
	for _, wave := range plan.Waves {
		for _, batch := range wave.Batches {
			for _, fp := range batch.Fingerprints() {
				waveOf[fp] = wave.Severity
			}
		}
	}
	deferred := make(map[string]bool, len(plan.Deferred))
	for _, issue := range plan.Deferred {
		deferred[issue.Fingerprint] = true
	}
	scoreOf := make(map[string]float64, len(ranked))
	for _, s := range ranked {
		scoreOf[s.Issue.Fingerprint] = s.Score
	}

	entries := make([]model.PlanEntry, 0, len(candidates))
	for _, c := range candidates {
		entry := model.PlanEntry{
			Issue:      c.issue,
			State:      c.state.State,
			Score:      scoreOf[c.issue.Fingerprint],
			Eligible:   c.state.Eligible,
			SkipReason: c.state.SkipReason,
		}
		if wave, ok := waveOf[c.issue.Fingerprint]; ok {
			entry.Wave = wave
		} else if deferred[c.issue.Fingerprint] {
			entry.Eligible = false
			entry.SkipReason = model.SkipRateLimited
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Cycle runs one full remediation cycle under the cycle lock. It always
// returns a structured report when the cycle ran, even if waves failed
// partway; the only nil-report errors are lock contention and state-load
// failures, which abort before any dispatch.
func (r *Runner) Cycle(ctx context.Context) (*model.CycleReport, error) {
	cycleID := dispatch.NewCycleID()
	if err := r.Store.AcquireCycleLock(ctx, cycleID); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Store.ReleaseCycleLock(ctx, cycleID); err != nil {
			r.Log.Errorw("failed to release cycle lock", "cycle", cycleID, "error", err)
		}
	}()

	state, err := r.Store.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	started := r.now()
	report := &model.CycleReport{
		ObjType:   "CycleReport",
		CycleID:   cycleID,
		StartedAt: started,
	}
	r.Log.Infow("cycle started", "cycle", cycleID)

	candidates, repoIndex, err := r.gather(ctx, state, "")
	if err != nil {
		report.Failed = true
		report.Warnings = append(report.Warnings, err.Error())
		return r.finishCycle(ctx, state, report)
	}

	objectives, err := r.unmetObjectives(ctx)
	if err != nil {
		report.Failed = true
		report.Warnings = append(report.Warnings, err.Error())
		return r.finishCycle(ctx, state, report)
	}

	now := r.now()
	repoFor := func(url string) *model.RepoConfig { return repoIndex[url] }

	var eligible []*model.Issue
	for _, c := range candidates {
		if c.state.Eligible {
			eligible = append(eligible, c.issue)
		} else {
			report.SkippedCount++
		}
	}
	ranked := scoring.Rank(eligible, repoFor, scoring.FixRates(state.FixRates()), objectives, now)
	plan := dispatch.BuildPlan(ranked, repoFor, state.RateLimiter, r.Config.Dispatch, now)
	report.DeferredCount = len(plan.Deferred)

	exec := &dispatch.Executor{
		Agent:  r.Agent,
		Verify: r.Verify,
		Store:  r.Store,
		Config: r.Config.Dispatch,
		Log:    r.Log,
		Now:    r.Now,
	}
	result, execErr := exec.Run(ctx, cycleID, plan, state)
	report.Waves = result.Waves
	report.Halted = result.Halted
	report.HaltReason = result.HaltReason
	report.Failed = report.Failed || result.Failed
	report.DeferredCount += result.Deferred
	for _, wave := range result.Waves {
		report.DispatchedCount += wave.Dispatched
	}
	if execErr != nil {
		report.Warnings = append(report.Warnings, execErr.Error())
	}

	return r.finishCycle(ctx, state, report)
}

// finishCycle persists state and the report. State is written in one save so
// limiter, history and feasibility stats commit together.
func (r *Runner) finishCycle(ctx context.Context, state *model.OrchestratorState, report *model.CycleReport) (*model.CycleReport, error) {
	finished := r.now()
	report.FinishedAt = finished

	state.LastCycleID = report.CycleID
	state.LastCycleAt = &finished
	if err := r.Store.SaveState(ctx, state); err != nil {
		report.Failed = true
		report.Warnings = append(report.Warnings, fmt.Sprintf("state save failed: %v", err))
		return report, err
	}
	if err := r.Store.SaveCycleReport(ctx, report); err != nil {
		r.Log.Errorw("failed to persist cycle report", "cycle", report.CycleID, "error", err)
		report.Warnings = append(report.Warnings, fmt.Sprintf("report save failed: %v", err))
	}

	r.Log.Infow("cycle finished",
		"cycle", report.CycleID,
		"dispatched", report.DispatchedCount,
		"skipped", report.SkippedCount,
		"deferred", report.DeferredCount,
		"halted", report.Halted,
		"failed", report.Failed)
	return report, nil
}

// Status reports the orchestrator's read-only operational surface.
func (r *Runner) Status(ctx context.Context) (*model.StatusReport, error) {
	state, err := r.Store.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	limiter := ratelimit.NewLimiter(&state.RateLimiter)

	status := &model.StatusReport{
		RateLimiterUsed: limiter.Used(now),
		RateLimiterMax:  limiter.Max(),
		PeriodHours:     state.RateLimiter.PeriodHours,
		LastCycleID:     state.LastCycleID,
		LastCycleAt:     state.LastCycleAt,
	}

	repos, err := r.Store.Repos(ctx)
	if err != nil {
		return nil, err
	}
	cooldown := make(map[string][]int, len(repos))
	for i := range repos {
		cooldown[repos[i].RepoURL] = repos[i].Cooldown()
	}
	for _, entry := range state.DispatchHistory {
		if entry.NeedsHumanReview {
			status.NeedsHumanReview++
			continue
		}
		schedule, ok := cooldown[entry.RepoURL]
		if !ok {
			schedule = model.DefaultCooldownSchedule
		}
		if ratelimit.CooldownRemaining(entry, schedule, now) > 0 {
			status.CoolingDown++
		}
	}

	objectives, err := r.Store.Objectives(ctx)
	if err != nil {
		return nil, err
	}
	if len(objectives) > 0 {
		counts, err := r.Store.OpenSeverityCounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range objectives {
			open := counts[obj.TargetSeverity]
			status.ObjectiveProgress = append(status.ObjectiveProgress, model.ObjectiveProgress{
				Name:           obj.Name,
				TargetSeverity: obj.TargetSeverity,
				TargetCount:    obj.TargetCount,
				OpenCount:      open,
				Met:            open <= obj.TargetCount,
			})
		}
	}
	return status, nil
}
