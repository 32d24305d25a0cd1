// Package store is the durable, transactional record behind the
// orchestrator: dispatch history, rate-limiter window, cooldown state, scan
// and issue documents, the repo registry and cycle reports. The ArangoDB
// implementation is the production backend; the in-memory implementation
// backs tests.
package store

import (
	"context"
	"errors"

	"github.com/ortelius/avr-backend/model"
)

// ErrCycleRunning is returned when a second cycle tries to take the cycle
// lock while one is in progress. The new cycle must abort cleanly: running
// two cycles concurrently would double-count the rate limiter and could
// double-dispatch a fingerprint.
var ErrCycleRunning = errors.New("cycle already running")

// ErrStateCorrupt is returned when persisted orchestrator state cannot be
// read. A cycle must abort before any dispatch rather than act on unknown
// state.
var ErrStateCorrupt = errors.New("orchestrator state unreadable")

// Store is the single source of truth across orchestrator invocations.
type Store interface {
	// LoadState returns the persisted orchestrator state, or a fresh one on
	// first run. SaveState replaces the whole state in one operation: a
	// partial write (rate limiter updated but dispatch history not) is a
	// correctness violation.
	LoadState(ctx context.Context) (*model.OrchestratorState, error)
	SaveState(ctx context.Context, state *model.OrchestratorState) error

	// AcquireCycleLock grants exclusive write access for one cycle, or
	// fails with ErrCycleRunning. Stale locks (crashed cycles) are taken
	// over after a TTL.
	AcquireCycleLock(ctx context.Context, cycleID string) error
	ReleaseCycleLock(ctx context.Context, cycleID string) error

	// AppendAudit records one immutable dispatch-history event.
	AppendAudit(ctx context.Context, event model.AuditEvent) error
	// ExportState returns a point-in-time snapshot for audit.
	ExportState(ctx context.Context) (*model.StateExport, error)

	// RecordScan ingests one analyzer run: the scan document plus its
	// fingerprinted issues, upserted by (repo, fingerprint) so first_seen
	// and appearance counts accumulate across scans.
	RecordScan(ctx context.Context, scan *model.Scan, issues []*model.Issue) error
	// CurrentIssues returns the issues present in the latest scan of a repo.
	CurrentIssues(ctx context.Context, repoURL string) ([]*model.Issue, error)
	// OpenSeverityCounts counts current issues fleet-wide per severity tier,
	// feeding objective progress.
	OpenSeverityCounts(ctx context.Context) (map[string]int, error)
	// HasLegacyNonzeroScan reports whether a repo has a scan predating
	// fingerprint support that found issues.
	HasLegacyNonzeroScan(ctx context.Context, repoURL string) (bool, error)

	// Repo registry and fleet objectives.
	Repos(ctx context.Context) ([]model.RepoConfig, error)
	UpsertRepo(ctx context.Context, repo *model.RepoConfig) error
	Objectives(ctx context.Context) ([]model.Objective, error)
	UpsertObjective(ctx context.Context, objective *model.Objective) error

	// Session and cycle records for the dashboard surface.
	SaveSession(ctx context.Context, session *model.AgentSession) error
	SaveCycleReport(ctx context.Context, report *model.CycleReport) error
	CycleReports(ctx context.Context, limit int) ([]model.CycleReport, error)
}
