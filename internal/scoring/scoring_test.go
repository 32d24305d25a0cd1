package scoring

import (
	"testing"
	"time"

	"github.com/ortelius/avr-backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func issueFixture(tier string) *model.Issue {
	return &model.Issue{
		Fingerprint:  "aaaa",
		RuleID:       "go/sql-injection",
		SeverityTier: tier,
		CweFamily:    "injection",
		RepoURL:      "https://github.com/acme/payments",
		FirstSeen:    now.Add(-24 * time.Hour),
		Appearances:  1,
	}
}

func repoFixture(importance int) *model.RepoConfig {
	return &model.RepoConfig{RepoURL: "https://github.com/acme/payments", ImportanceScore: importance}
}

func TestScoreMonotonicInImportance(t *testing.T) {
	issue := issueFixture(model.SeverityHigh)
	prev := -1.0
	for importance := 0; importance <= 100; importance += 10 {
		s := Score(issue, repoFixture(importance), nil, nil, now)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestScoreMonotonicInSeverity(t *testing.T) {
	repo := repoFixture(50)
	low := Score(issueFixture(model.SeverityLow), repo, nil, nil, now)
	medium := Score(issueFixture(model.SeverityMedium), repo, nil, nil, now)
	high := Score(issueFixture(model.SeverityHigh), repo, nil, nil, now)
	critical := Score(issueFixture(model.SeverityCritical), repo, nil, nil, now)

	assert.Less(t, low, medium)
	assert.Less(t, medium, high)
	assert.Less(t, high, critical)
}

func TestScoreMonotonicInAppearances(t *testing.T) {
	repo := repoFixture(50)
	prev := -1.0
	for appearances := 1; appearances <= 12; appearances++ {
		issue := issueFixture(model.SeverityMedium)
		issue.Appearances = appearances
		s := Score(issue, repo, nil, nil, now)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}

	// Recurrence bonus caps at 6 appearances (6 * 0.05 = 0.3).
	six := issueFixture(model.SeverityMedium)
	six.Appearances = 6
	twenty := issueFixture(model.SeverityMedium)
	twenty.Appearances = 20
	assert.Equal(t, Score(six, repo, nil, nil, now), Score(twenty, repo, nil, nil, now))
}

func TestFeasibilityDefaultsWithoutHistory(t *testing.T) {
	repo := repoFixture(50)
	issue := issueFixture(model.SeverityMedium)

	noData := Score(issue, repo, FixRates{}, nil, now)
	neutral := Score(issue, repo, FixRates{"injection": 0.5}, nil, now)
	assert.InDelta(t, neutral, noData, 1e-9)

	good := Score(issue, repo, FixRates{"injection": 1.0}, nil, now)
	bad := Score(issue, repo, FixRates{"injection": 0.0}, nil, now)
	assert.Greater(t, good, noData)
	assert.Less(t, bad, noData)
}

func TestSLAUrgency(t *testing.T) {
	repo := repoFixture(50)

	fresh := issueFixture(model.SeverityCritical)
	fresh.FirstSeen = now.Add(-24 * time.Hour)

	atRisk := issueFixture(model.SeverityCritical)
	atRisk.FirstSeen = now.Add(-6 * 24 * time.Hour)

	breached := issueFixture(model.SeverityCritical)
	breached.FirstSeen = now.Add(-8 * 24 * time.Hour)

	sFresh := Score(fresh, repo, nil, nil, now)
	sAtRisk := Score(atRisk, repo, nil, nil, now)
	sBreached := Score(breached, repo, nil, nil, now)
	assert.Less(t, sFresh, sAtRisk)
	assert.Less(t, sAtRisk, sBreached)
}

func TestObjectiveBoostOnlyForMatchingSeverity(t *testing.T) {
	repo := repoFixture(50)
	objectives := []model.Objective{
		{Name: "zero-critical", TargetSeverity: model.SeverityCritical, Priority: 1},
		{Name: "fewer-highs", TargetSeverity: model.SeverityHigh, Priority: 3},
	}

	critical := issueFixture(model.SeverityCritical)
	base := Score(critical, repo, nil, nil, now)
	boosted := Score(critical, repo, nil, objectives, now)
	assert.InDelta(t, base+0.15, boosted, 1e-9)

	high := issueFixture(model.SeverityHigh)
	baseHigh := Score(high, repo, nil, nil, now)
	boostedHigh := Score(high, repo, nil, objectives, now)
	assert.InDelta(t, baseHigh+0.05, boostedHigh, 1e-9)

	low := issueFixture(model.SeverityLow)
	assert.Equal(t, Score(low, repo, nil, nil, now), Score(low, repo, nil, objectives, now))
}

func TestCriticalOrdersBeforeLowSameRepo(t *testing.T) {
	a := issueFixture(model.SeverityCritical)
	a.Fingerprint = "issue-a"
	b := issueFixture(model.SeverityLow)
	b.Fingerprint = "issue-b"

	repo := repoFixture(90)
	ranked := Rank([]*model.Issue{b, a}, func(string) *model.RepoConfig { return repo }, nil, nil, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, "issue-a", ranked[0].Issue.Fingerprint)
	assert.Equal(t, "issue-b", ranked[1].Issue.Fingerprint)
}

func TestRankTieBreaksDeterministic(t *testing.T) {
	older := issueFixture(model.SeverityHigh)
	older.Fingerprint = "zzzz"
	older.FirstSeen = now.Add(-48 * time.Hour)

	newer := issueFixture(model.SeverityHigh)
	newer.Fingerprint = "bbbb"
	newer.FirstSeen = now.Add(-24 * time.Hour)

	sameAge := issueFixture(model.SeverityHigh)
	sameAge.Fingerprint = "aaaa"
	sameAge.FirstSeen = newer.FirstSeen

	repo := repoFixture(50)
	ranked := Rank([]*model.Issue{newer, sameAge, older}, func(string) *model.RepoConfig { return repo }, nil, nil, now)
	require.Len(t, ranked, 3)
	assert.Equal(t, "zzzz", ranked[0].Issue.Fingerprint) // oldest first
	assert.Equal(t, "aaaa", ranked[1].Issue.Fingerprint) // fingerprint order
	assert.Equal(t, "bbbb", ranked[2].Issue.Fingerprint)
}
