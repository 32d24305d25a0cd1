// Package model - Issue and scan document types for the remediation orchestrator.
package model

import "time"

// Severity tiers assigned to findings, ordered from most to least urgent.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityWeight maps a severity tier to its scoring weight.
func SeverityWeight(tier string) float64 {
	switch tier {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	}
	return 0.25
}

// SeverityRank orders tiers for wave formation (lower rank dispatches first).
func SeverityRank(tier string) int {
	switch tier {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

// RawFinding is one finding as delivered by the analyzer, before it has been
// assigned a stable identity. PartialFingerprint carries the analyzer-native
// content hash when the analyzer supports one.
type RawFinding struct {
	RuleID             string `json:"rule_id"`
	SeverityTier       string `json:"severity_tier"`
	CweFamily          string `json:"cwe_family"`
	Message            string `json:"message,omitempty"`
	File               string `json:"file,omitempty"`
	StartLine          int    `json:"start_line,omitempty"`
	PartialFingerprint string `json:"partial_fingerprint,omitempty"`
	// Snippet is the raw source line at the finding's location when the
	// analyzer had access to the repository snapshot.
	Snippet string `json:"snippet,omitempty"`
}

// Issue represents one vulnerability finding instance in one scan of one repo.
// Issues are immutable once ingested; later scans of the same repo supersede
// them rather than mutating or deleting them.
type Issue struct {
	Key           string    `json:"_key,omitempty"`
	ObjType       string    `json:"objtype,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	RuleID        string    `json:"rule_id"`
	SeverityTier  string    `json:"severity_tier"`
	CweFamily     string    `json:"cwe_family"`
	Message       string    `json:"message,omitempty"`
	File          string    `json:"file,omitempty"`
	StartLine     int       `json:"start_line,omitempty"`
	RepoURL       string    `json:"repo_url"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	FirstSeen     time.Time `json:"first_seen"`
	Appearances   int       `json:"appearances"`
}

// NewIssue creates an issue document for a fingerprinted finding.
func NewIssue(f RawFinding, fingerprint, repoURL string, scannedAt time.Time) *Issue {
	return &Issue{
		ObjType:       "Issue",
		Fingerprint:   fingerprint,
		RuleID:        f.RuleID,
		SeverityTier:  f.SeverityTier,
		CweFamily:     f.CweFamily,
		Message:       f.Message,
		File:          f.File,
		StartLine:     f.StartLine,
		RepoURL:       repoURL,
		ScanTimestamp: scannedAt,
		FirstSeen:     scannedAt,
		Appearances:   1,
	}
}

// Scan records one ingested analyzer run for a repo. IssueCount is kept even
// for scans that predate fingerprint support, which the lifecycle tracker
// uses for its conservative "might have existed" classification.
type Scan struct {
	Key             string    `json:"_key,omitempty"`
	ObjType         string    `json:"objtype,omitempty"`
	RepoURL         string    `json:"repo_url"`
	ScannedAt       time.Time `json:"scanned_at"`
	IssueCount      int       `json:"issue_count"`
	HasFingerprints bool      `json:"has_fingerprints"`
	Analyzer        string    `json:"analyzer,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewScan creates a scan document.
func NewScan(repoURL string, scannedAt time.Time, issueCount int, hasFingerprints bool) *Scan {
	return &Scan{
		ObjType:         "Scan",
		RepoURL:         repoURL,
		ScannedAt:       scannedAt,
		IssueCount:      issueCount,
		HasFingerprints: hasFingerprints,
		CreatedAt:       time.Now().UTC(),
	}
}
