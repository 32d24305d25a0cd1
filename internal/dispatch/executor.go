package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ortelius/avr-backend/internal/clients"
	"github.com/ortelius/avr-backend/internal/ratelimit"
	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

// errRateExhausted marks batches that lost their budget between planning and
// creation. These are deferrals, not creation failures.
const errRateExhausted = "rate limit exhausted"

// AgentAPI is the slice of the agent platform the executor needs.
type AgentAPI interface {
	CreateSession(ctx context.Context, req clients.CreateSessionRequest) (string, error)
	GetSession(ctx context.Context, sessionID string) (*clients.SessionStatus, error)
}

// VerifyAPI is the slice of the verification feed the executor needs.
type VerifyAPI interface {
	Outcomes(ctx context.Context, repoURL string, fingerprints []string) (map[string]bool, error)
}

// Executor dispatches planned waves. It mutates the orchestrator state
// (dispatch history, rate limiter) in memory; the caller persists the state
// afterwards in one save.
type Executor struct {
	Agent  AgentAPI
	Verify VerifyAPI
	Store  store.Store
	Config Config
	Log    *zap.SugaredLogger

	// Now is replaceable in tests.
	Now func() time.Time
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Result is the outcome of executing one plan.
type Result struct {
	Waves      []model.WaveReport
	Halted     bool
	HaltReason string
	Failed     bool
	// Deferred counts batches whose budget evaporated between planning and
	// creation; they carry over to the next cycle.
	Deferred int
}

// Run executes the plan wave by wave. It returns a result even on partial
// failure; err is non-nil only when the executor could not keep its
// bookkeeping consistent.
func (e *Executor) Run(ctx context.Context, cycleID string, plan Plan, state *model.OrchestratorState) (Result, error) {
	limiter := ratelimit.NewLimiter(&state.RateLimiter)
	var res Result

	for i, wave := range plan.Waves {
		report, err := e.runWave(ctx, cycleID, wave, state, limiter)
		res.Waves = append(res.Waves, report)
		res.Deferred += report.Deferred
		if err != nil {
			res.Halted = true
			res.Failed = true
			res.HaltReason = fmt.Sprintf("wave %s aborted: %v", wave.Severity, err)
			return res, err
		}

		if attempted := creationAttempts(report); attempted > 0 &&
			float64(report.CreationFailures)/float64(attempted) >= e.Config.CreationFailureThreshold {
			res.Halted = true
			res.Failed = true
			res.HaltReason = fmt.Sprintf("wave %s: %d of %d session creations failed",
				wave.Severity, report.CreationFailures, attempted)
			e.Log.Errorw("cycle failed", "cycle", cycleID, "reason", res.HaltReason)
			return res, nil
		}

		lastWave := i == len(plan.Waves)-1
		if report.Dispatched > 0 && report.FixRate < e.Config.FixRateThreshold && !lastWave {
			// Budget preservation: poor results at this tier predict poor
			// results below it.
			res.Halted = true
			res.HaltReason = fmt.Sprintf("wave %s fix rate %.2f below threshold %.2f",
				wave.Severity, report.FixRate, e.Config.FixRateThreshold)
			e.Log.Warnw("halting cycle", "cycle", cycleID, "reason", res.HaltReason)
			return res, nil
		}
	}
	return res, nil
}

// runWave creates the wave's sessions concurrently, then polls until every
// session is terminal or the wave timeout elapses.
func (e *Executor) runWave(ctx context.Context, cycleID string, wave Wave, state *model.OrchestratorState, limiter *ratelimit.Limiter) (model.WaveReport, error) {
	report := model.WaveReport{Severity: wave.Severity}
	results := make([]model.BatchResult, len(wave.Batches))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := e.Config.MaxConcurrentCreates
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, batch := range wave.Batches {
		now := e.now()

		// The planner already budgeted the window, but state may have moved
		// (another trigger, clock drift): re-check before every creation.
		mu.Lock()
		if !limiter.Allow(now) {
			mu.Unlock()
			results[i] = model.BatchResult{
				RepoURL:       batch.RepoURL,
				Fingerprints:  batch.Fingerprints(),
				CreationError: errRateExhausted,
			}
			continue
		}
		limiter.Record(now)
		mu.Unlock()

		i, batch := i, batch
		g.Go(func() error {
			result := e.createSession(gctx, cycleID, wave.Severity, batch, state, &mu)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	// Poll created sessions to terminal status.
	if err := e.awaitWave(ctx, results); err != nil {
		report.TimedOut = true
		e.Log.Warnw("wave polling ended early", "severity", wave.Severity, "error", err)
	}

	// Resolve outcomes: verification wins, merged PRs count as success,
	// everything else extends the failure streak.
	e.resolveOutcomes(ctx, results, state)

	for _, r := range results {
		report.Batches = append(report.Batches, r)
		if !r.Created {
			if r.CreationError == errRateExhausted {
				report.Deferred++
			} else {
				report.CreationFailures++
			}
			continue
		}
		report.Dispatched += len(r.Fingerprints)
		if r.PRMerged {
			report.VerifiedOrMerged += len(r.Fingerprints)
		} else {
			report.VerifiedOrMerged += r.Verified
		}
	}
	if report.Dispatched > 0 {
		report.FixRate = float64(report.VerifiedOrMerged) / float64(report.Dispatched)
	}
	return report, nil
}

// createSession opens one agent session and records the dispatch in history
// and the audit trail. A creation failure is recorded and does not abort the
// wave.
func (e *Executor) createSession(ctx context.Context, cycleID, severity string, batch Batch, state *model.OrchestratorState, mu *sync.Mutex) model.BatchResult {
	result := model.BatchResult{
		RepoURL:      batch.RepoURL,
		Fingerprints: batch.Fingerprints(),
	}

	req := clients.CreateSessionRequest{
		RepoURL: batch.RepoURL,
		Title:   fmt.Sprintf("Fix %d %s severity finding(s)", len(batch.Issues), severity),
	}
	for _, issue := range batch.Issues {
		req.Issues = append(req.Issues, clients.SessionIssue{
			Fingerprint: issue.Fingerprint,
			RuleID:      issue.RuleID,
			File:        issue.File,
			StartLine:   issue.StartLine,
			Message:     issue.Message,
		})
	}

	sessionID, err := e.Agent.CreateSession(ctx, req)
	if err != nil {
		e.Log.Warnw("session creation failed", "repo", batch.RepoURL, "error", err)
		result.CreationError = err.Error()
		return result
	}
	result.Created = true
	result.SessionID = sessionID
	result.Status = model.SessionRunning

	now := e.now()
	mu.Lock()
	for _, issue := range batch.Issues {
		entry := state.History(issue.Fingerprint, issue.RepoURL)
		entry.CweFamily = issue.CweFamily
		entry.RecordDispatch(sessionID, now)
	}
	mu.Unlock()

	session := model.NewAgentSession(sessionID, batch.RepoURL, cycleID, severity, result.Fingerprints)
	if err := e.Store.SaveSession(ctx, session); err != nil {
		e.Log.Errorw("failed to persist session record", "session", sessionID, "error", err)
	}
	for _, fp := range result.Fingerprints {
		_ = e.Store.AppendAudit(ctx, model.AuditEvent{
			Fingerprint: fp,
			RepoURL:     batch.RepoURL,
			CycleID:     cycleID,
			SessionID:   sessionID,
			Event:       "dispatched",
			RecordedAt:  now,
		})
	}
	return result
}

// awaitWave polls session status at a fixed interval until all sessions are
// terminal or the wave timeout elapses. On timeout the created sessions keep
// running; history already records them as dispatched.
func (e *Executor) awaitWave(ctx context.Context, results []model.BatchResult) error {
	pending := make(map[int]bool)
	for i, r := range results {
		if r.Created {
			pending[i] = true
		}
	}
	if len(pending) == 0 {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.Config.WaveTimeout)
	defer cancel()

	interval := e.Config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ticker.C:
		}

		for i := range pending {
			status, err := e.Agent.GetSession(waitCtx, results[i].SessionID)
			if err != nil {
				e.Log.Warnw("session status poll failed", "session", results[i].SessionID, "error", err)
				continue
			}
			results[i].Status = status.Status
			if status.PullRequest != nil {
				results[i].PullRequest = status.PullRequest.URL
				results[i].PRMerged = status.PRMerged()
			}
			if model.SessionTerminal(status.Status) {
				delete(pending, i)
			}
		}
	}
	return nil
}

// resolveOutcomes queries the verification feed per repo and folds the
// results into the dispatch history. Unresolved sessions stay pending for a
// later cycle.
func (e *Executor) resolveOutcomes(ctx context.Context, results []model.BatchResult, state *model.OrchestratorState) {
	for i := range results {
		r := &results[i]
		if !r.Created {
			continue
		}

		if !model.SessionTerminal(r.Status) {
			// Session still running at wave timeout: outcome stays pending,
			// the lifecycle tracker sees an active session next cycle.
			continue
		}

		verified := map[string]bool{}
		if e.Verify != nil {
			outcomes, err := e.Verify.Outcomes(ctx, r.RepoURL, r.Fingerprints)
			if err != nil {
				e.Log.Warnw("verification query failed", "repo", r.RepoURL, "error", err)
			} else {
				verified = outcomes
			}
		}
		for _, fp := range r.Fingerprints {
			switch {
			case verified[fp]:
				state.RecordOutcome(fp, model.OutcomeVerified, e.Config.MaxDispatchAttempts)
				r.Verified++
			case r.PRMerged:
				state.RecordOutcome(fp, model.OutcomePRMerged, e.Config.MaxDispatchAttempts)
			default:
				state.RecordOutcome(fp, model.OutcomePRFailed, e.Config.MaxDispatchAttempts)
			}
		}
	}
}

// creationAttempts counts batches where a session creation was actually
// tried. Rate-limited batches never reached the agent.
func creationAttempts(report model.WaveReport) int {
	n := 0
	for _, r := range report.Batches {
		if r.Created || (r.CreationError != "" && r.CreationError != errRateExhausted) {
			n++
		}
	}
	return n
}

// NewCycleID mints a unique cycle identifier.
func NewCycleID() string {
	return uuid.New().String()
}
