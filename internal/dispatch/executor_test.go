package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ortelius/avr-backend/internal/clients"
	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

// fakeAgent scripts the agent platform: sessions are created in order and
// resolve to the configured terminal status on the first poll.
type fakeAgent struct {
	mu         sync.Mutex
	created    []clients.CreateSessionRequest
	createErr  error
	status     string
	prState    string
	stayActive bool
}

func (f *fakeAgent) CreateSession(_ context.Context, req clients.CreateSessionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return fmt.Sprintf("sess-%d", len(f.created)), nil
}

func (f *fakeAgent) GetSession(_ context.Context, sessionID string) (*clients.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stayActive {
		return &clients.SessionStatus{SessionID: sessionID, Status: model.SessionRunning}, nil
	}
	status := &clients.SessionStatus{SessionID: sessionID, Status: f.status}
	if f.prState != "" {
		status.PullRequest = &clients.PullRequestRef{
			URL:   "https://github.com/acme/api/pull/7",
			State: f.prState,
		}
	}
	return status, nil
}

func (f *fakeAgent) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeVerify marks a fixed set of fingerprints as verified.
type fakeVerify struct {
	verified map[string]bool
}

func (f *fakeVerify) Outcomes(_ context.Context, _ string, fingerprints []string) (map[string]bool, error) {
	out := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		out[fp] = f.verified[fp]
	}
	return out, nil
}

func testExecutor(t *testing.T, agent AgentAPI, verify VerifyAPI) (*Executor, *store.Memory) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.WaveTimeout = 200 * time.Millisecond
	mem := store.NewMemory(100, 24)
	return &Executor{
		Agent:  agent,
		Verify: verify,
		Store:  mem,
		Config: cfg,
		Log:    zap.NewNop().Sugar(),
	}, mem
}

func singleIssueWave(severity string, fps ...string) Wave {
	wave := Wave{Severity: severity}
	for _, fp := range fps {
		wave.Batches = append(wave.Batches, Batch{
			RepoURL:  "https://github.com/acme/api",
			Severity: severity,
			Issues: []*model.Issue{{
				Fingerprint:  fp,
				RepoURL:      "https://github.com/acme/api",
				SeverityTier: severity,
				RuleID:       "go/sql-injection",
				CweFamily:    "CWE-89",
			}},
		})
	}
	return wave
}

func TestRunRecordsDispatchAndVerifiedOutcome(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFinished}
	verify := &fakeVerify{verified: map[string]bool{"fp-1": true}}
	exec, mem := testExecutor(t, agent, verify)

	state := model.NewOrchestratorState(100, 24)
	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityCritical, "fp-1")}}

	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	assert.False(t, res.Halted)
	assert.False(t, res.Failed)

	entry := state.DispatchHistory["fp-1"]
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.DispatchCount)
	assert.Equal(t, model.OutcomeVerified, entry.LastOutcome)
	assert.Zero(t, entry.ConsecutiveFailures)
	assert.Len(t, state.RateLimiter.CreatedTimestamps, 1)

	stat := state.FixStats["CWE-89"]
	require.NotNil(t, stat)
	assert.Equal(t, 1, stat.Attempts)
	assert.Equal(t, 1, stat.Verified)

	sessions := mem.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "cycle-1", sessions[0].CycleID)
}

func TestRunLowFixRateHaltsLaterWaves(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFinished}
	verify := &fakeVerify{verified: map[string]bool{"fp-0": true, "fp-1": true, "fp-2": true}}
	exec, _ := testExecutor(t, agent, verify)

	var fps []string
	for i := 0; i < 10; i++ {
		fps = append(fps, fmt.Sprintf("fp-%d", i))
	}
	plan := Plan{Waves: []Wave{
		singleIssueWave(model.SeverityCritical, fps...),
		singleIssueWave(model.SeverityLow, "fp-low"),
	}}

	state := model.NewOrchestratorState(100, 24)
	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)

	// 3 of 10 verified: 0.30 is under the 0.50 threshold.
	assert.True(t, res.Halted)
	assert.Contains(t, res.HaltReason, "fix rate")
	assert.False(t, res.Failed)
	require.Len(t, res.Waves, 1)
	assert.InDelta(t, 0.3, res.Waves[0].FixRate, 1e-9)

	// The low wave never reached the agent.
	assert.Equal(t, 10, agent.createdCount())
	assert.Nil(t, state.DispatchHistory["fp-low"])
}

func TestRunHealthyFixRateContinues(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFinished}
	verify := &fakeVerify{verified: map[string]bool{"fp-0": true, "fp-1": true}}
	exec, _ := testExecutor(t, agent, verify)

	plan := Plan{Waves: []Wave{
		singleIssueWave(model.SeverityCritical, "fp-0", "fp-1", "fp-2"),
		singleIssueWave(model.SeverityLow, "fp-low"),
	}}

	state := model.NewOrchestratorState(100, 24)
	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	assert.False(t, res.Halted)
	require.Len(t, res.Waves, 2)
	assert.Equal(t, 4, agent.createdCount())
}

func TestRunFixRateNotEnforcedOnFinalWave(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFinished}
	exec, _ := testExecutor(t, agent, &fakeVerify{})

	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityLow, "fp-1", "fp-2")}}

	state := model.NewOrchestratorState(100, 24)
	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	assert.False(t, res.Halted)
}

func TestRunCreationFailuresMarkCycleFailed(t *testing.T) {
	agent := &fakeAgent{createErr: errors.New("503 from agent platform")}
	exec, _ := testExecutor(t, agent, &fakeVerify{})

	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityCritical, "fp-1", "fp-2")}}

	state := model.NewOrchestratorState(100, 24)
	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.True(t, res.Halted)
	assert.Contains(t, res.HaltReason, "session creations failed")

	// Nothing was dispatched, so no history entries exist.
	assert.Empty(t, state.DispatchHistory)
	assert.Equal(t, 2, res.Waves[0].CreationFailures)
}

func TestRunMergedPRCountsTowardFixRate(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFinished, prState: "merged"}
	exec, _ := testExecutor(t, agent, &fakeVerify{})

	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityHigh, "fp-1")}}

	state := model.NewOrchestratorState(100, 24)
	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	assert.False(t, res.Halted)
	require.Len(t, res.Waves, 1)
	assert.InDelta(t, 1.0, res.Waves[0].FixRate, 1e-9)
	assert.Equal(t, model.OutcomePRMerged, state.DispatchHistory["fp-1"].LastOutcome)
}

func TestRunFailedSessionsExtendFailureStreak(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFailed}
	exec, _ := testExecutor(t, agent, &fakeVerify{})

	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityLow, "fp-1")}}
	state := model.NewOrchestratorState(100, 24)
	entry := state.History("fp-1", "https://github.com/acme/api")
	entry.ConsecutiveFailures = 2

	_, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)

	assert.Equal(t, model.OutcomePRFailed, entry.LastOutcome)
	assert.Equal(t, 3, entry.ConsecutiveFailures)
	assert.True(t, entry.NeedsHumanReview)
}

func TestRunWaveTimeoutLeavesOutcomePending(t *testing.T) {
	agent := &fakeAgent{stayActive: true}
	exec, _ := testExecutor(t, agent, &fakeVerify{})
	exec.Config.WaveTimeout = 20 * time.Millisecond

	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityHigh, "fp-1")}}
	state := model.NewOrchestratorState(100, 24)

	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	require.Len(t, res.Waves, 1)
	assert.True(t, res.Waves[0].TimedOut)

	// Dispatch was still recorded: the session keeps running and the
	// lifecycle tracker will see it as active next cycle.
	entry := state.DispatchHistory["fp-1"]
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.DispatchCount)
	assert.Equal(t, model.OutcomePending, entry.LastOutcome)
	assert.Zero(t, entry.ConsecutiveFailures)
}

func TestRunReChecksWindowBeforeEachCreation(t *testing.T) {
	agent := &fakeAgent{status: model.SessionFinished}
	exec, _ := testExecutor(t, agent, &fakeVerify{})

	// Window already spent: the plan was built against stale state.
	state := model.NewOrchestratorState(1, 24)
	state.RateLimiter.CreatedTimestamps = []time.Time{time.Now().UTC()}

	plan := Plan{Waves: []Wave{singleIssueWave(model.SeverityHigh, "fp-1")}}

	res, err := exec.Run(context.Background(), "cycle-1", plan, state)
	require.NoError(t, err)
	assert.Zero(t, agent.createdCount())
	assert.False(t, res.Failed)
	require.Len(t, res.Waves, 1)
	assert.Zero(t, res.Waves[0].Dispatched)
	assert.Zero(t, res.Waves[0].CreationFailures)

	// The skipped batch is a deferral, not a failure.
	assert.Equal(t, 1, res.Waves[0].Deferred)
	assert.Equal(t, 1, res.Deferred)
}
