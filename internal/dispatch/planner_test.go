package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortelius/avr-backend/internal/scoring"
	"github.com/ortelius/avr-backend/model"
)

func candidate(fp, repoURL, severity string, score float64) scoring.Scored {
	return scoring.Scored{
		Issue: &model.Issue{
			Fingerprint:  fp,
			RepoURL:      repoURL,
			SeverityTier: severity,
			RuleID:       "go/sql-injection",
			CweFamily:    "CWE-89",
		},
		Score: score,
	}
}

func repoLookup(repos ...*model.RepoConfig) func(string) *model.RepoConfig {
	byURL := make(map[string]*model.RepoConfig, len(repos))
	for _, r := range repos {
		byURL[r.RepoURL] = r
	}
	return func(url string) *model.RepoConfig { return byURL[url] }
}

func openWindow(max int) model.RateLimiterWindow {
	return model.RateLimiterWindow{MaxSessions: max, PeriodHours: 24}
}

func TestBuildPlanOrdersWavesBySeverity(t *testing.T) {
	now := time.Now().UTC()
	candidates := []scoring.Scored{
		candidate("fp-low", "https://github.com/acme/api", model.SeverityLow, 0.2),
		candidate("fp-crit", "https://github.com/acme/api", model.SeverityCritical, 0.9),
		candidate("fp-med", "https://github.com/acme/api", model.SeverityMedium, 0.5),
	}

	plan := BuildPlan(candidates, repoLookup(), openWindow(100), DefaultConfig(), now)

	require.Len(t, plan.Waves, 3)
	assert.Equal(t, model.SeverityCritical, plan.Waves[0].Severity)
	assert.Equal(t, model.SeverityMedium, plan.Waves[1].Severity)
	assert.Equal(t, model.SeverityLow, plan.Waves[2].Severity)
	assert.Empty(t, plan.Deferred)
}

func TestBuildPlanChunksBatchesByBatchSize(t *testing.T) {
	now := time.Now().UTC()
	var candidates []scoring.Scored
	for i := 0; i < 7; i++ {
		candidates = append(candidates,
			candidate(fmt.Sprintf("fp-%d", i), "https://github.com/acme/api", model.SeverityHigh, 0.7))
	}

	plan := BuildPlan(candidates, repoLookup(), openWindow(100), DefaultConfig(), now)

	require.Len(t, plan.Waves, 1)
	require.Len(t, plan.Waves[0].Batches, 2)
	assert.Len(t, plan.Waves[0].Batches[0].Issues, 5)
	assert.Len(t, plan.Waves[0].Batches[1].Issues, 2)
	assert.Equal(t, 7, plan.Dispatched())
}

func TestBuildPlanDefersWhenWindowExhausted(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	candidates := []scoring.Scored{
		candidate("fp-1", "https://github.com/acme/api", model.SeverityHigh, 0.9),
		candidate("fp-2", "https://github.com/acme/web", model.SeverityHigh, 0.8),
		candidate("fp-3", "https://github.com/acme/cli", model.SeverityHigh, 0.7),
	}

	plan := BuildPlan(candidates, repoLookup(), openWindow(2), cfg, now)

	assert.Equal(t, 2, plan.Dispatched())
	assert.Len(t, plan.Deferred, 1)
}

func TestBuildPlanDefersLowerWavesAfterExhaustion(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	candidates := []scoring.Scored{
		candidate("fp-c1", "https://github.com/acme/api", model.SeverityCritical, 0.9),
		candidate("fp-c2", "https://github.com/acme/web", model.SeverityCritical, 0.8),
		candidate("fp-l1", "https://github.com/acme/api", model.SeverityLow, 0.1),
	}

	plan := BuildPlan(candidates, repoLookup(), openWindow(2), cfg, now)

	require.Len(t, plan.Waves, 1)
	assert.Equal(t, model.SeverityCritical, plan.Waves[0].Severity)
	require.Len(t, plan.Deferred, 1)
	assert.Equal(t, "fp-l1", plan.Deferred[0].Fingerprint)
}

func TestBuildPlanRespectsPerRepoSessionCap(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	repo := &model.RepoConfig{
		RepoURL:             "https://github.com/acme/api",
		Name:                "api",
		ImportanceScore:     80,
		MaxSessionsPerCycle: 1,
	}
	candidates := []scoring.Scored{
		candidate("fp-1", repo.RepoURL, model.SeverityHigh, 0.9),
		candidate("fp-2", repo.RepoURL, model.SeverityHigh, 0.8),
		candidate("fp-3", repo.RepoURL, model.SeverityHigh, 0.7),
	}

	plan := BuildPlan(candidates, repoLookup(repo), openWindow(100), cfg, now)

	assert.Equal(t, 1, plan.Dispatched())
	assert.Len(t, plan.Deferred, 2)
}

func TestBuildPlanPerRepoCapSpansWaves(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	repo := &model.RepoConfig{
		RepoURL:             "https://github.com/acme/api",
		Name:                "api",
		ImportanceScore:     80,
		MaxSessionsPerCycle: 1,
	}
	candidates := []scoring.Scored{
		candidate("fp-c", repo.RepoURL, model.SeverityCritical, 0.9),
		candidate("fp-l", repo.RepoURL, model.SeverityLow, 0.1),
	}

	plan := BuildPlan(candidates, repoLookup(repo), openWindow(100), cfg, now)

	assert.Equal(t, 1, plan.Dispatched())
	require.Len(t, plan.Waves, 1)
	assert.Equal(t, model.SeverityCritical, plan.Waves[0].Severity)
	require.Len(t, plan.Deferred, 1)
	assert.Equal(t, "fp-l", plan.Deferred[0].Fingerprint)
}

func TestBuildPlanInterleavesByImportance(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	payments := &model.RepoConfig{RepoURL: "https://github.com/acme/payments", Name: "payments", ImportanceScore: 95}
	docs := &model.RepoConfig{RepoURL: "https://github.com/acme/docs", Name: "docs", ImportanceScore: 10}

	candidates := []scoring.Scored{
		candidate("fp-d1", docs.RepoURL, model.SeverityHigh, 0.6),
		candidate("fp-d2", docs.RepoURL, model.SeverityHigh, 0.6),
		candidate("fp-p1", payments.RepoURL, model.SeverityHigh, 0.6),
		candidate("fp-p2", payments.RepoURL, model.SeverityHigh, 0.6),
	}

	plan := BuildPlan(candidates, repoLookup(payments, docs), openWindow(100), cfg, now)

	require.Len(t, plan.Waves, 1)
	batches := plan.Waves[0].Batches
	require.Len(t, batches, 4)
	// One batch per repo per round, high-importance repo first.
	assert.Equal(t, payments.RepoURL, batches[0].RepoURL)
	assert.Equal(t, docs.RepoURL, batches[1].RepoURL)
	assert.Equal(t, payments.RepoURL, batches[2].RepoURL)
	assert.Equal(t, docs.RepoURL, batches[3].RepoURL)
}

func TestBuildPlanPrunesWindowBeforeCounting(t *testing.T) {
	now := time.Now().UTC()
	cfg := DefaultConfig()
	cfg.BatchSize = 1

	window := model.RateLimiterWindow{
		MaxSessions: 2,
		PeriodHours: 24,
		CreatedTimestamps: []time.Time{
			now.Add(-30 * time.Hour), // outside the window, must not count
			now.Add(-1 * time.Hour),
		},
	}
	candidates := []scoring.Scored{
		candidate("fp-1", "https://github.com/acme/api", model.SeverityHigh, 0.9),
	}

	plan := BuildPlan(candidates, repoLookup(), window, cfg, now)

	assert.Equal(t, 1, plan.Dispatched())
	assert.Empty(t, plan.Deferred)
}

func TestBuildPlanLeavesCallerWindowIntact(t *testing.T) {
	now := time.Now()
	expired := now.Add(-30 * time.Hour)
	fresh := now.Add(-1 * time.Hour)
	timestamps := []time.Time{expired, fresh}
	window := model.RateLimiterWindow{
		MaxSessions:       2,
		PeriodHours:       24,
		CreatedTimestamps: timestamps,
	}

	repo := &model.RepoConfig{RepoURL: "https://github.com/acme/api", ImportanceScore: 80}
	plan := BuildPlan([]scoring.Scored{
		candidate("fp-1", repo.RepoURL, model.SeverityCritical, 0.9),
	}, repoLookup(repo), window, DefaultConfig(), now)

	// The expired entry frees one slot for planning.
	assert.Equal(t, 1, plan.Dispatched())
	assert.Empty(t, plan.Deferred)

	// Planning pruned its own copy; the caller's timestamps are untouched
	// for the executor's re-check.
	require.Len(t, timestamps, 2)
	assert.True(t, timestamps[0].Equal(expired))
	assert.True(t, timestamps[1].Equal(fresh))
}
