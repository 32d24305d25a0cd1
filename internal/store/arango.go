package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/ortelius/avr-backend/database"
	"github.com/ortelius/avr-backend/model"
	"github.com/ortelius/avr-backend/util"
)

// stateKey is the _key of the singleton orchestrator state document. The
// whole state lives in one document so a save is a single atomic replace.
const stateKey = "orchestrator"

// lockKey is the _key of the cycle lock document.
const lockKey = "cycle"

// Arango is the production Store backed by ArangoDB.
type Arango struct {
	db          database.DBConnection
	lockTTL     time.Duration
	maxSessions int
	periodHours int
}

// NewArango wraps an initialized database connection. maxSessions and
// periodHours seed the rate limiter on first run only; persisted state wins
// afterwards.
func NewArango(db database.DBConnection, maxSessions, periodHours int, lockTTL time.Duration) *Arango {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &Arango{db: db, lockTTL: lockTTL, maxSessions: maxSessions, periodHours: periodHours}
}

// LoadState implements Store.
func (a *Arango) LoadState(ctx context.Context) (*model.OrchestratorState, error) {
	query := `RETURN DOCUMENT("orchestrator_state", @key)`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": stateKey},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	defer cursor.Close()

	var state *model.OrchestratorState
	if cursor.HasMore() {
		if _, err := cursor.ReadDocument(ctx, &state); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
		}
	}
	if state == nil {
		return model.NewOrchestratorState(a.maxSessions, a.periodHours), nil
	}
	if state.DispatchHistory == nil {
		state.DispatchHistory = make(map[string]*model.DispatchHistoryEntry)
	}
	return state, nil
}

// SaveState implements Store. UPSERT replaces the full document in one
// operation so the rate limiter and dispatch history always commit together.
func (a *Arango) SaveState(ctx context.Context, state *model.OrchestratorState) error {
	state.Key = stateKey
	state.ObjType = "OrchestratorState"
	state.UpdatedAt = time.Now().UTC()

	query := `
		UPSERT { _key: @key }
		INSERT @state
		REPLACE @state
		IN orchestrator_state
	`
	_, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": stateKey, "state": state},
	})
	return err
}

// AcquireCycleLock implements Store. The conditional UPSERT only claims the
// lock when it is absent or stale; an empty result means another cycle holds
// it.
func (a *Arango) AcquireCycleLock(ctx context.Context, cycleID string) error {
	now := time.Now().UTC()
	stale := now.Add(-a.lockTTL)

	query := `
		LET existing = DOCUMENT("cycle_lock", @key)
		FILTER existing == null OR DATE_TIMESTAMP(existing.acquired_at) < DATE_TIMESTAMP(@stale)
		UPSERT { _key: @key }
		INSERT { _key: @key, cycle_id: @cycle, acquired_at: @now }
		REPLACE { _key: @key, cycle_id: @cycle, acquired_at: @now }
		IN cycle_lock
		RETURN NEW
	`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{
			"key":   lockKey,
			"cycle": cycleID,
			"now":   now.Format(time.RFC3339),
			"stale": stale.Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}
	defer cursor.Close()

	if !cursor.HasMore() {
		return ErrCycleRunning
	}
	return nil
}

// ReleaseCycleLock implements Store. Only the holder may release.
func (a *Arango) ReleaseCycleLock(ctx context.Context, cycleID string) error {
	query := `
		FOR doc IN cycle_lock
			FILTER doc._key == @key AND doc.cycle_id == @cycle
			REMOVE doc IN cycle_lock
	`
	_, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"key": lockKey, "cycle": cycleID},
	})
	return err
}

// AppendAudit implements Store.
func (a *Arango) AppendAudit(ctx context.Context, event model.AuditEvent) error {
	event.ObjType = "AuditEvent"
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	_, err := a.db.Collections["dispatch_audit"].CreateDocument(ctx, event)
	return err
}

// ExportState implements Store.
func (a *Arango) ExportState(ctx context.Context) (*model.StateExport, error) {
	state, err := a.LoadState(ctx)
	if err != nil {
		return nil, err
	}

	query := `FOR doc IN dispatch_audit SORT doc.recorded_at ASC RETURN doc`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var trail []model.AuditEvent
	for cursor.HasMore() {
		var ev model.AuditEvent
		if _, err := cursor.ReadDocument(ctx, &ev); err != nil {
			return nil, err
		}
		trail = append(trail, ev)
	}

	return &model.StateExport{
		ExportedAt: time.Now().UTC(),
		State:      state,
		AuditTrail: trail,
	}, nil
}

// RecordScan implements Store. Issues are upserted by (repo, fingerprint):
// reappearances bump the appearance count and move the scan timestamp while
// first_seen stays at the original discovery.
func (a *Arango) RecordScan(ctx context.Context, scan *model.Scan, issues []*model.Issue) error {
	// Scan events arrive at-least-once; a replay of an already ingested run
	// is dropped instead of double-counting appearances.
	if last, err := util.GetLastIngest(a.db, scan.RepoURL); err == nil && !last.IsZero() && !scan.ScannedAt.After(last) {
		log.Printf("Skipping replayed scan for %s at %s", scan.RepoURL, scan.ScannedAt.Format(time.RFC3339))
		return nil
	}

	scan.ObjType = "Scan"
	if _, err := a.db.Collections["scan"].CreateDocument(ctx, scan); err != nil {
		return fmt.Errorf("record scan for %s: %w", scan.RepoURL, err)
	}

	query := `
		UPSERT { repo_url: @repo, fingerprint: @fingerprint }
		INSERT @issue
		UPDATE {
			appearances: OLD.appearances + 1,
			scan_timestamp: @issue.scan_timestamp,
			severity_tier: @issue.severity_tier,
			file: @issue.file,
			start_line: @issue.start_line,
			message: @issue.message
		} IN issue
	`
	for _, issue := range issues {
		issue.ObjType = "Issue"
		_, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
			BindVars: map[string]interface{}{
				"repo":        issue.RepoURL,
				"fingerprint": issue.Fingerprint,
				"issue":       issue,
			},
		})
		if err != nil {
			return fmt.Errorf("upsert issue %s: %w", issue.Fingerprint, err)
		}
	}

	// High-water mark for feed pullers; ingestion stays valid if this fails.
	if err := util.SaveLastIngest(a.db, scan.RepoURL, scan.ScannedAt); err != nil {
		log.Printf("Failed to save last ingest marker for %s: %v", scan.RepoURL, err)
	}
	return nil
}

// CurrentIssues implements Store: issues present in the latest
// fingerprint-capable scan of the repo.
func (a *Arango) CurrentIssues(ctx context.Context, repoURL string) ([]*model.Issue, error) {
	query := `
		LET latest = (
			FOR s IN scan
				FILTER s.repo_url == @repo AND s.has_fingerprints == true
				SORT s.scanned_at DESC
				LIMIT 1
				RETURN s.scanned_at
		)[0]
		FILTER latest != null
		FOR doc IN issue
			FILTER doc.repo_url == @repo AND doc.scan_timestamp == latest
			SORT doc.fingerprint ASC
			RETURN doc
	`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"repo": repoURL},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []*model.Issue
	for cursor.HasMore() {
		var issue model.Issue
		if _, err := cursor.ReadDocument(ctx, &issue); err != nil {
			return nil, err
		}
		out = append(out, &issue)
	}
	return out, nil
}

// OpenSeverityCounts implements Store.
func (a *Arango) OpenSeverityCounts(ctx context.Context) (map[string]int, error) {
	query := `
		FOR s IN scan
			FILTER s.has_fingerprints == true
			COLLECT repo = s.repo_url AGGREGATE latest = MAX(s.scanned_at)
			FOR doc IN issue
				FILTER doc.repo_url == repo AND doc.scan_timestamp == latest
				COLLECT tier = doc.severity_tier WITH COUNT INTO cnt
				RETURN { tier: tier, count: cnt }
	`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	counts := make(map[string]int)
	for cursor.HasMore() {
		var row struct {
			Tier  string `json:"tier"`
			Count int    `json:"count"`
		}
		if _, err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, err
		}
		counts[row.Tier] += row.Count
	}
	return counts, nil
}

// HasLegacyNonzeroScan implements Store.
func (a *Arango) HasLegacyNonzeroScan(ctx context.Context, repoURL string) (bool, error) {
	query := `
		FOR s IN scan
			FILTER s.repo_url == @repo AND s.has_fingerprints == false AND s.issue_count > 0
			LIMIT 1
			RETURN 1
	`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"repo": repoURL},
	})
	if err != nil {
		return false, err
	}
	defer cursor.Close()
	return cursor.HasMore(), nil
}

// Repos implements Store.
func (a *Arango) Repos(ctx context.Context) ([]model.RepoConfig, error) {
	query := `FOR doc IN repoconfig SORT doc.repo_url ASC RETURN doc`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []model.RepoConfig
	for cursor.HasMore() {
		var repo model.RepoConfig
		if _, err := cursor.ReadDocument(ctx, &repo); err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, nil
}

// UpsertRepo implements Store.
func (a *Arango) UpsertRepo(ctx context.Context, repo *model.RepoConfig) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	repo.ObjType = "RepoConfig"
	repo.Key = util.SanitizeKey(repo.RepoURL)

	query := `
		UPSERT { repo_url: @repo }
		INSERT @doc
		REPLACE @doc
		IN repoconfig
	`
	_, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"repo": repo.RepoURL, "doc": repo},
	})
	return err
}

// Objectives implements Store.
func (a *Arango) Objectives(ctx context.Context) ([]model.Objective, error) {
	query := `FOR doc IN objective SORT doc.priority ASC RETURN doc`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []model.Objective
	for cursor.HasMore() {
		var obj model.Objective
		if _, err := cursor.ReadDocument(ctx, &obj); err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// UpsertObjective implements Store.
func (a *Arango) UpsertObjective(ctx context.Context, objective *model.Objective) error {
	if err := objective.Validate(); err != nil {
		return err
	}
	objective.ObjType = "Objective"
	objective.Key = util.SanitizeKey(objective.Name)

	query := `
		UPSERT { name: @name }
		INSERT @doc
		REPLACE @doc
		IN objective
	`
	_, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"name": objective.Name, "doc": objective},
	})
	return err
}

// SaveSession implements Store.
func (a *Arango) SaveSession(ctx context.Context, session *model.AgentSession) error {
	session.ObjType = "AgentSession"
	query := `
		UPSERT { session_id: @id }
		INSERT @doc
		REPLACE @doc
		IN session
	`
	_, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"id": session.SessionID, "doc": session},
	})
	return err
}

// SaveCycleReport implements Store.
func (a *Arango) SaveCycleReport(ctx context.Context, report *model.CycleReport) error {
	report.ObjType = "CycleReport"
	_, err := a.db.Collections["cycle"].CreateDocument(ctx, report)
	return err
}

// CycleReports implements Store.
func (a *Arango) CycleReports(ctx context.Context, limit int) ([]model.CycleReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `FOR doc IN cycle SORT doc.started_at DESC LIMIT @limit RETURN doc`
	cursor, err := a.db.Database.Query(ctx, query, &arangodb.QueryOptions{
		BindVars: map[string]interface{}{"limit": limit},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []model.CycleReport
	for cursor.HasMore() {
		var report model.CycleReport
		if _, err := cursor.ReadDocument(ctx, &report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

var _ Store = (*Arango)(nil)
