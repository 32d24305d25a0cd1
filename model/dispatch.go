// Package model - Dispatch history and agent session types.
package model

import "time"

// Outcomes recorded for a dispatch attempt.
const (
	OutcomePending  = "pending"
	OutcomePRMerged = "pr_merged"
	OutcomePRFailed = "pr_failed"
	OutcomeVerified = "verified"
	OutcomeUnknown  = "unknown"
)

// DispatchHistoryEntry is the long-lived per-fingerprint dispatch record.
// Entries are created on first dispatch and updated after every attempt and
// every verification result; they are never deleted (audit trail).
type DispatchHistoryEntry struct {
	Fingerprint         string     `json:"fingerprint"`
	RepoURL             string     `json:"repo_url"`
	CweFamily           string     `json:"cwe_family,omitempty"`
	DispatchCount       int        `json:"dispatch_count"`
	LastDispatched      *time.Time `json:"last_dispatched"`
	LastSessionID       string     `json:"last_session_id,omitempty"`
	LastOutcome         string     `json:"last_outcome"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NeedsHumanReview    bool       `json:"needs_human_review"`
}

// RecordDispatch marks the start of a new dispatch attempt.
func (e *DispatchHistoryEntry) RecordDispatch(sessionID string, at time.Time) {
	e.DispatchCount++
	e.LastDispatched = &at
	e.LastSessionID = sessionID
	e.LastOutcome = OutcomePending
}

// RecordOutcome applies the resolution of a dispatch attempt. A verified
// outcome resets the failure streak immediately; pr_failed and
// expired-without-fix outcomes extend it.
func (e *DispatchHistoryEntry) RecordOutcome(outcome string, maxAttempts int) {
	e.LastOutcome = outcome
	switch outcome {
	case OutcomeVerified:
		e.ConsecutiveFailures = 0
		e.NeedsHumanReview = false
	case OutcomePRFailed, OutcomeUnknown:
		e.ConsecutiveFailures++
		if e.ConsecutiveFailures >= maxAttempts {
			e.NeedsHumanReview = true
		}
	}
}

// Agent session statuses reported by the remediation platform.
const (
	SessionRunning  = "running"
	SessionFinished = "finished"
	SessionFailed   = "failed"
	SessionExpired  = "expired"
)

// SessionTerminal reports whether a session status is final.
func SessionTerminal(status string) bool {
	return status == SessionFinished || status == SessionFailed || status == SessionExpired
}

// AgentSession is one remediation session created for a batch of issues.
type AgentSession struct {
	Key          string     `json:"_key,omitempty"`
	ObjType      string     `json:"objtype,omitempty"`
	SessionID    string     `json:"session_id"`
	RepoURL      string     `json:"repo_url"`
	Fingerprints []string   `json:"fingerprints"`
	Status       string     `json:"status"`
	PullRequest  string     `json:"pull_request,omitempty"`
	CycleID      string     `json:"cycle_id"`
	Wave         string     `json:"wave"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewAgentSession creates a session document for a dispatched batch.
func NewAgentSession(sessionID, repoURL, cycleID, wave string, fingerprints []string) *AgentSession {
	return &AgentSession{
		ObjType:      "AgentSession",
		SessionID:    sessionID,
		RepoURL:      repoURL,
		Fingerprints: fingerprints,
		Status:       SessionRunning,
		CycleID:      cycleID,
		Wave:         wave,
		CreatedAt:    time.Now().UTC(),
	}
}
