// Package scoring ranks candidate issues across repositories. The score is a
// pure function of the issue, its repo's registry entry, historical fix-rate
// statistics and the active fleet objectives; dispatch order is fully
// reproducible.
package scoring

import (
	"sort"
	"time"

	"github.com/ortelius/avr-backend/model"
)

// Weights of the composite score. Repo importance dominates because it is
// the operator's primary control lever; severity is the adversarial-impact
// proxy; SLA and feasibility are secondary refinements.
const (
	weightImportance  = 0.35
	weightSeverity    = 0.30
	weightSLA         = 0.15
	weightFeasibility = 0.10
	weightRecurrence  = 0.10
)

// SLA urgency contributions.
const (
	slaBreached = 0.4
	slaAtRisk   = 0.2
	slaOnTrack  = 0.0
)

// Per-severity SLA windows. An issue is at-risk at 75% of its window and
// breached past it.
var slaWindows = map[string]time.Duration{
	model.SeverityCritical: 7 * 24 * time.Hour,
	model.SeverityHigh:     30 * 24 * time.Hour,
	model.SeverityMedium:   90 * 24 * time.Hour,
	model.SeverityLow:      180 * 24 * time.Hour,
}

// defaultFeasibility is used for CWE families with no fix history yet.
const defaultFeasibility = 0.5

// FixRates holds the historical fix rate per CWE family. Absent families
// score the neutral default.
type FixRates map[string]float64

// Score computes the composite priority in [0,1] (objective boosts may push
// slightly above 1; callers only rely on ordering).
func Score(issue *model.Issue, repo *model.RepoConfig, fixRates FixRates, objectives []model.Objective, now time.Time) float64 {
	importance := 0.0
	if repo != nil {
		importance = float64(repo.ImportanceScore) / 100.0
	}

	feasibility := defaultFeasibility
	if rate, ok := fixRates[issue.CweFamily]; ok {
		feasibility = rate
	}

	recurrence := float64(issue.Appearances) * 0.05
	if recurrence > 0.3 {
		recurrence = 0.3
	}

	score := weightImportance*importance +
		weightSeverity*model.SeverityWeight(issue.SeverityTier) +
		weightSLA*slaUrgency(issue, now) +
		weightFeasibility*feasibility +
		weightRecurrence*recurrence

	return score + objectiveBoost(issue, objectives)
}

func slaUrgency(issue *model.Issue, now time.Time) float64 {
	window, ok := slaWindows[issue.SeverityTier]
	if !ok || issue.FirstSeen.IsZero() {
		return slaOnTrack
	}
	age := now.Sub(issue.FirstSeen)
	switch {
	case age >= window:
		return slaBreached
	case age >= time.Duration(float64(window)*0.75):
		return slaAtRisk
	}
	return slaOnTrack
}

// objectiveBoost returns the max boost over objectives whose target severity
// matches the issue: 0.15 / objective.priority. The caller passes only
// objectives that are still unmet.
func objectiveBoost(issue *model.Issue, objectives []model.Objective) float64 {
	boost := 0.0
	for _, obj := range objectives {
		if obj.TargetSeverity != issue.SeverityTier || obj.Priority < 1 {
			continue
		}
		if b := 0.15 / float64(obj.Priority); b > boost {
			boost = b
		}
	}
	return boost
}

// Scored pairs an issue with its computed score.
type Scored struct {
	Issue *model.Issue
	Score float64
}

// Rank scores and orders issues for dispatch. Ties break by severity tier,
// then oldest first_seen, then fingerprint lexical order so test fixtures
// reproduce exactly.
func Rank(issues []*model.Issue, repoFor func(string) *model.RepoConfig, fixRates FixRates, objectives []model.Objective, now time.Time) []Scored {
	out := make([]Scored, 0, len(issues))
	for _, issue := range issues {
		out = append(out, Scored{
			Issue: issue,
			Score: Score(issue, repoFor(issue.RepoURL), fixRates, objectives, now),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ra, rb := model.SeverityRank(a.Issue.SeverityTier), model.SeverityRank(b.Issue.SeverityTier)
		if ra != rb {
			return ra < rb
		}
		if !a.Issue.FirstSeen.Equal(b.Issue.FirstSeen) {
			return a.Issue.FirstSeen.Before(b.Issue.FirstSeen)
		}
		return a.Issue.Fingerprint < b.Issue.Fingerprint
	})
	return out
}
