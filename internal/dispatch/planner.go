// Package dispatch groups eligible, scored issues into severity-ordered
// waves, dispatches each wave to the agent platform and decides from the
// wave's fix rate whether the cycle may continue.
package dispatch

import (
	"sort"
	"time"

	"github.com/ortelius/avr-backend/internal/ratelimit"
	"github.com/ortelius/avr-backend/internal/scoring"
	"github.com/ortelius/avr-backend/model"
)

// Config tunes wave formation and execution.
type Config struct {
	// BatchSize caps how many issues one agent session receives.
	BatchSize int
	// FixRateThreshold halts lower-severity waves when a wave under-delivers.
	FixRateThreshold float64
	// CreationFailureThreshold marks the cycle failed (for alerting) when
	// too many session creations are rejected; running sessions are left
	// alone.
	CreationFailureThreshold float64
	// MaxConcurrentCreates bounds parallel session-creation calls.
	MaxConcurrentCreates int
	// PollInterval and WaveTimeout bound the wait for wave completion.
	PollInterval time.Duration
	WaveTimeout  time.Duration
	// MaxDispatchAttempts is the failure streak that flags an issue for
	// human review.
	MaxDispatchAttempts int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:                5,
		FixRateThreshold:         0.5,
		CreationFailureThreshold: 0.5,
		MaxConcurrentCreates:     3,
		PollInterval:             30 * time.Second,
		WaveTimeout:              45 * time.Minute,
		MaxDispatchAttempts:      ratelimit.DefaultMaxDispatchAttempts,
	}
}

// Batch is one agent session's worth of issues in one repo.
type Batch struct {
	RepoURL  string
	Severity string
	Issues   []*model.Issue
}

// Fingerprints lists the batch's issue identities in order.
func (b Batch) Fingerprints() []string {
	out := make([]string, len(b.Issues))
	for i, issue := range b.Issues {
		out[i] = issue.Fingerprint
	}
	return out
}

// Wave is one severity tier's batches.
type Wave struct {
	Severity string
	Batches  []Batch
}

// Plan is the pure output of wave formation: what would be dispatched, what
// the rate limiter defers, and what the skip predicate excluded.
type Plan struct {
	Waves    []Wave
	Deferred []*model.Issue
}

// Dispatched counts issues across all planned waves.
func (p Plan) Dispatched() int {
	n := 0
	for _, w := range p.Waves {
		for _, b := range w.Batches {
			n += len(b.Issues)
		}
	}
	return n
}

var severityOrder = []string{
	model.SeverityCritical,
	model.SeverityHigh,
	model.SeverityMedium,
	model.SeverityLow,
}

// BuildPlan forms severity-ordered waves from eligible, scored candidates.
// Within a wave, repos are interleaved by descending importance so no single
// repo monopolizes the wave; batches are bounded by batch_size and each
// repo's max_sessions_per_cycle. The rate limiter window is simulated
// against a copy so planning stays side-effect-free: the caller hands in a
// detached window when previewing.
func BuildPlan(candidates []scoring.Scored, repoFor func(string) *model.RepoConfig, window model.RateLimiterWindow, cfg Config, now time.Time) Plan {
	// The by-value window still shares its timestamp backing array with the
	// caller's state; detach it before the limiter prunes in place.
	window.CreatedTimestamps = append([]time.Time(nil), window.CreatedTimestamps...)
	limiter := ratelimit.NewLimiter(&window)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	// Bucket candidates by severity, preserving score order.
	bySeverity := make(map[string][]*model.Issue)
	for _, c := range candidates {
		bySeverity[c.Issue.SeverityTier] = append(bySeverity[c.Issue.SeverityTier], c.Issue)
	}

	plan := Plan{}
	sessionsPerRepo := make(map[string]int) // max_sessions_per_cycle spans waves
	rateExhausted := false

	for _, severity := range severityOrder {
		issues := bySeverity[severity]
		if len(issues) == 0 {
			continue
		}
		if rateExhausted {
			plan.Deferred = append(plan.Deferred, issues...)
			continue
		}

		// Split the tier's issues into per-repo batch queues.
		queues := makeRepoQueues(issues, cfg.BatchSize)

		// Interleave repos by descending importance, one batch per repo per
		// round.
		order := repoDispatchOrder(queues, repoFor)

		wave := Wave{Severity: severity}
		progress := true
		for progress {
			progress = false
			for _, repoURL := range order {
				q := queues[repoURL]
				if len(q.batches) == 0 {
					continue
				}
				repo := repoFor(repoURL)
				if repo != nil && repo.MaxSessionsPerCycle > 0 && sessionsPerRepo[repoURL] >= repo.MaxSessionsPerCycle {
					plan.Deferred = append(plan.Deferred, flatten(q.batches)...)
					q.batches = nil
					continue
				}
				if !limiter.Allow(now) {
					rateExhausted = true
					break
				}

				batch := q.batches[0]
				q.batches = q.batches[1:]
				batch.Severity = severity
				wave.Batches = append(wave.Batches, batch)
				sessionsPerRepo[repoURL]++
				limiter.Record(now)
				progress = true
			}
			if rateExhausted {
				break
			}
		}

		// Whatever the limiter cut off is deferred, not failed.
		for _, repoURL := range order {
			if q := queues[repoURL]; len(q.batches) > 0 {
				plan.Deferred = append(plan.Deferred, flatten(q.batches)...)
			}
		}

		if len(wave.Batches) > 0 {
			plan.Waves = append(plan.Waves, wave)
		}
	}

	return plan
}

type repoQueue struct {
	batches []Batch
}

func makeRepoQueues(issues []*model.Issue, batchSize int) map[string]*repoQueue {
	grouped := make(map[string][]*model.Issue)
	for _, issue := range issues {
		grouped[issue.RepoURL] = append(grouped[issue.RepoURL], issue)
	}

	queues := make(map[string]*repoQueue, len(grouped))
	for repoURL, repoIssues := range grouped {
		q := &repoQueue{}
		for start := 0; start < len(repoIssues); start += batchSize {
			end := start + batchSize
			if end > len(repoIssues) {
				end = len(repoIssues)
			}
			q.batches = append(q.batches, Batch{
				RepoURL: repoURL,
				Issues:  repoIssues[start:end],
			})
		}
		queues[repoURL] = q
	}
	return queues
}

func repoDispatchOrder(queues map[string]*repoQueue, repoFor func(string) *model.RepoConfig) []string {
	order := make([]string, 0, len(queues))
	for repoURL := range queues {
		order = append(order, repoURL)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := repoFor(order[i]), repoFor(order[j])
		ia, ib := 0, 0
		if a != nil {
			ia = a.ImportanceScore
		}
		if b != nil {
			ib = b.ImportanceScore
		}
		if ia != ib {
			return ia > ib
		}
		return order[i] < order[j] // deterministic
	})
	return order
}

func flatten(batches []Batch) []*model.Issue {
	var out []*model.Issue
	for _, b := range batches {
		out = append(out, b.Issues...)
	}
	return out
}
