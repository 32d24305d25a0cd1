// Package model - Repo registry and fleet objective configuration.
package model

import "fmt"

// RepoConfig is one registered repository. Registry entries are read-only to
// the orchestrator within a cycle.
type RepoConfig struct {
	Key                   string   `json:"_key,omitempty"`
	ObjType               string   `json:"objtype,omitempty"`
	RepoURL               string   `json:"repo_url" yaml:"repo_url"`
	Name                  string   `json:"name" yaml:"name"`
	ImportanceScore       int      `json:"importance_score" yaml:"importance_score"`
	MaxSessionsPerCycle   int      `json:"max_sessions_per_cycle" yaml:"max_sessions_per_cycle"`
	CooldownHoursSchedule []int    `json:"cooldown_hours_schedule" yaml:"cooldown_hours_schedule"`
	AutoDispatch          bool     `json:"auto_dispatch" yaml:"auto_dispatch"`
	Tags                  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// DefaultCooldownSchedule is the escalating backoff applied when a repo does
// not configure its own: 1 day, then 3 days, then 7 days.
var DefaultCooldownSchedule = []int{24, 72, 168}

// Validate rejects malformed registry entries. A bad entry skips that repo
// only; the rest of the cycle proceeds.
func (r *RepoConfig) Validate() error {
	if r.RepoURL == "" {
		return fmt.Errorf("repo config missing repo_url")
	}
	if r.ImportanceScore < 0 || r.ImportanceScore > 100 {
		return fmt.Errorf("repo %s: importance_score %d out of range [0,100]", r.RepoURL, r.ImportanceScore)
	}
	if r.MaxSessionsPerCycle < 0 {
		return fmt.Errorf("repo %s: max_sessions_per_cycle must be >= 0", r.RepoURL)
	}
	for _, h := range r.CooldownHoursSchedule {
		if h <= 0 {
			return fmt.Errorf("repo %s: cooldown_hours_schedule entries must be positive", r.RepoURL)
		}
	}
	return nil
}

// Cooldown returns the repo's escalation schedule, falling back to the
// default when unset.
func (r *RepoConfig) Cooldown() []int {
	if len(r.CooldownHoursSchedule) == 0 {
		return DefaultCooldownSchedule
	}
	return r.CooldownHoursSchedule
}

// Objective describes a fleet-wide goal, e.g. "zero critical issues". It only
// contributes a scoring boost while unmet.
type Objective struct {
	Key            string `json:"_key,omitempty"`
	ObjType        string `json:"objtype,omitempty"`
	Name           string `json:"name" yaml:"name"`
	TargetSeverity string `json:"target_severity" yaml:"target_severity"`
	TargetCount    int    `json:"target_count" yaml:"target_count"`
	Priority       int    `json:"priority" yaml:"priority"`
}

// Validate rejects malformed objectives.
func (o *Objective) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("objective missing name")
	}
	switch o.TargetSeverity {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
	default:
		return fmt.Errorf("objective %s: unknown target_severity %q", o.Name, o.TargetSeverity)
	}
	if o.Priority < 1 {
		return fmt.Errorf("objective %s: priority must be >= 1", o.Name)
	}
	return nil
}
