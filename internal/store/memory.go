package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ortelius/avr-backend/model"
)

// Memory is an in-process Store used by tests and local development. All
// methods copy documents through JSON so callers never share memory with
// the store, matching the database-backed behavior.
type Memory struct {
	mu          sync.Mutex
	state       *model.OrchestratorState
	lockedBy    string
	lockedAt    time.Time
	lockTTL     time.Duration
	audit       []model.AuditEvent
	scans       []model.Scan
	issues      map[string]*model.Issue // key: repo|fingerprint
	repos       map[string]*model.RepoConfig
	objectives  map[string]*model.Objective
	sessions    map[string]*model.AgentSession
	cycles      []model.CycleReport
	maxSessions int
	periodHours int
}

// NewMemory creates an empty in-memory store with the given rate-limiter
// bounds for freshly initialized state.
func NewMemory(maxSessions, periodHours int) *Memory {
	return &Memory{
		lockTTL:     2 * time.Hour,
		issues:      make(map[string]*model.Issue),
		repos:       make(map[string]*model.RepoConfig),
		objectives:  make(map[string]*model.Objective),
		sessions:    make(map[string]*model.AgentSession),
		maxSessions: maxSessions,
		periodHours: periodHours,
	}
}

func clone[T any](src, dst *T) {
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, dst)
}

// LoadState implements Store.
func (m *Memory) LoadState(_ context.Context) (*model.OrchestratorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return model.NewOrchestratorState(m.maxSessions, m.periodHours), nil
	}
	out := &model.OrchestratorState{}
	clone(m.state, out)
	return out, nil
}

// SaveState implements Store.
func (m *Memory) SaveState(_ context.Context, state *model.OrchestratorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := &model.OrchestratorState{}
	clone(state, saved)
	saved.UpdatedAt = time.Now().UTC()
	m.state = saved
	return nil
}

// AcquireCycleLock implements Store.
func (m *Memory) AcquireCycleLock(_ context.Context, cycleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockedBy != "" && time.Since(m.lockedAt) < m.lockTTL {
		return ErrCycleRunning
	}
	m.lockedBy = cycleID
	m.lockedAt = time.Now()
	return nil
}

// ReleaseCycleLock implements Store.
func (m *Memory) ReleaseCycleLock(_ context.Context, cycleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockedBy == cycleID {
		m.lockedBy = ""
	}
	return nil
}

// AppendAudit implements Store.
func (m *Memory) AppendAudit(_ context.Context, event model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ObjType = "AuditEvent"
	m.audit = append(m.audit, event)
	return nil
}

// ExportState implements Store.
func (m *Memory) ExportState(ctx context.Context) (*model.StateExport, error) {
	state, err := m.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	trail := make([]model.AuditEvent, len(m.audit))
	copy(trail, m.audit)
	return &model.StateExport{
		ExportedAt: time.Now().UTC(),
		State:      state,
		AuditTrail: trail,
	}, nil
}

func issueKey(repoURL, fingerprint string) string {
	return repoURL + "|" + fingerprint
}

// RecordScan implements Store.
func (m *Memory) RecordScan(_ context.Context, scan *model.Scan, issues []*model.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := model.Scan{}
	clone(scan, &stored)
	m.scans = append(m.scans, stored)

	for _, issue := range issues {
		key := issueKey(issue.RepoURL, issue.Fingerprint)
		if existing, ok := m.issues[key]; ok {
			existing.Appearances++
			existing.ScanTimestamp = issue.ScanTimestamp
			existing.SeverityTier = issue.SeverityTier
			existing.File = issue.File
			existing.StartLine = issue.StartLine
			existing.Message = issue.Message
			continue
		}
		saved := &model.Issue{}
		clone(issue, saved)
		m.issues[key] = saved
	}
	return nil
}

func (m *Memory) latestScanTime(repoURL string) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, s := range m.scans {
		if s.RepoURL == repoURL && s.HasFingerprints && s.ScannedAt.After(latest) {
			latest = s.ScannedAt
			found = true
		}
	}
	return latest, found
}

// CurrentIssues implements Store.
func (m *Memory) CurrentIssues(_ context.Context, repoURL string) ([]*model.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest, ok := m.latestScanTime(repoURL)
	if !ok {
		return nil, nil
	}
	var out []*model.Issue
	for _, issue := range m.issues {
		if issue.RepoURL == repoURL && issue.ScanTimestamp.Equal(latest) {
			copied := &model.Issue{}
			clone(issue, copied)
			out = append(out, copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

// OpenSeverityCounts implements Store.
func (m *Memory) OpenSeverityCounts(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	repoSet := make(map[string]bool)
	for _, issue := range m.issues {
		repoSet[issue.RepoURL] = true
	}
	m.mu.Unlock()

	counts := make(map[string]int)
	for repo := range repoSet {
		issues, err := m.CurrentIssues(ctx, repo)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			counts[issue.SeverityTier]++
		}
	}
	return counts, nil
}

// HasLegacyNonzeroScan implements Store.
func (m *Memory) HasLegacyNonzeroScan(_ context.Context, repoURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scans {
		if s.RepoURL == repoURL && !s.HasFingerprints && s.IssueCount > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Repos implements Store.
func (m *Memory) Repos(_ context.Context) ([]model.RepoConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RepoConfig, 0, len(m.repos))
	for _, r := range m.repos {
		copied := model.RepoConfig{}
		clone(r, &copied)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoURL < out[j].RepoURL })
	return out, nil
}

// UpsertRepo implements Store.
func (m *Memory) UpsertRepo(_ context.Context, repo *model.RepoConfig) error {
	if err := repo.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := &model.RepoConfig{}
	clone(repo, saved)
	saved.ObjType = "RepoConfig"
	m.repos[repo.RepoURL] = saved
	return nil
}

// Objectives implements Store.
func (m *Memory) Objectives(_ context.Context) ([]model.Objective, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Objective, 0, len(m.objectives))
	for _, o := range m.objectives {
		copied := model.Objective{}
		clone(o, &copied)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertObjective implements Store.
func (m *Memory) UpsertObjective(_ context.Context, objective *model.Objective) error {
	if err := objective.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := &model.Objective{}
	clone(objective, saved)
	saved.ObjType = "Objective"
	m.objectives[objective.Name] = saved
	return nil
}

// SaveSession implements Store.
func (m *Memory) SaveSession(_ context.Context, session *model.AgentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := &model.AgentSession{}
	clone(session, saved)
	m.sessions[session.SessionID] = saved
	return nil
}

// SaveCycleReport implements Store.
func (m *Memory) SaveCycleReport(_ context.Context, report *model.CycleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := model.CycleReport{}
	clone(report, &saved)
	m.cycles = append(m.cycles, saved)
	return nil
}

// CycleReports implements Store.
func (m *Memory) CycleReports(_ context.Context, limit int) ([]model.CycleReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CycleReport, len(m.cycles))
	copy(out, m.cycles)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sessions returns all recorded sessions, newest first. Used by tests and
// the dashboard resolvers.
func (m *Memory) Sessions() []model.AgentSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AgentSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

var _ Store = (*Memory)(nil)
