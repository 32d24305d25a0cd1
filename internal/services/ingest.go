// Package services provides internal service implementations for the AVR backend.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/package-url/packageurl-go"
	"go.uber.org/zap"

	"github.com/ortelius/avr-backend/internal/fingerprint"
	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
	"github.com/ortelius/avr-backend/util"
)

// dependencyCweFamily is the family recorded for vulnerable third-party
// dependencies reported by OSV: there is no code-level CWE to attribute.
const dependencyCweFamily = "CWE-1395"

// IngestService turns analyzer output into fingerprinted issue documents.
// Both the REST API and the Kafka event processor delegate here so that
// fingerprinting and scan recording behave identically for every source.
type IngestService struct {
	Store store.Store
	Log   *zap.SugaredLogger
}

// sourceLine resolves the text behind a finding: the caller-supplied
// file -> line -> text map wins, then the finding's inline snippet. A miss
// degrades the fingerprint tier, never fails it.
func sourceLine(lines map[string]map[int]string, f model.RawFinding) string {
	if text := lines[f.File][f.StartLine]; text != "" {
		return text
	}
	return f.Snippet
}

// IngestFindings records one analyzer run over a repo. Findings are
// fingerprinted, deduplicated within the scan and upserted so appearance
// counts accumulate across scans.
func (s *IngestService) IngestFindings(ctx context.Context, repoURL string, scannedAt time.Time, findings []model.RawFinding, lines map[string]map[int]string) (*model.Scan, error) {
	if repoURL == "" {
		return nil, fmt.Errorf("repo_url is required")
	}
	if scannedAt.IsZero() {
		scannedAt = time.Now().UTC()
	}

	seen := make(map[string]bool, len(findings))
	var issues []*model.Issue
	for _, f := range findings {
		fp := fingerprint.Fingerprint(f, sourceLine(lines, f))
		if seen[fp] {
			continue
		}
		seen[fp] = true
		issues = append(issues, model.NewIssue(f, fp, repoURL, scannedAt))
	}

	scan := model.NewScan(repoURL, scannedAt, len(issues), true)
	if err := s.Store.RecordScan(ctx, scan, issues); err != nil {
		return nil, fmt.Errorf("recording scan for %s: %w", repoURL, err)
	}
	s.Log.Infow("scan ingested", "repo", repoURL, "issues", len(issues), "findings", len(findings))
	return scan, nil
}

// IngestOSVReport maps an OSV scanner report onto findings and records the
// scan. Each vulnerability of each package becomes one finding whose identity
// is the package, not its version, so version bumps do not reset history.
func (s *IngestService) IngestOSVReport(ctx context.Context, repoURL string, scannedAt time.Time, report *models.VulnerabilityResults) (*model.Scan, error) {
	var findings []model.RawFinding
	for _, result := range report.Results {
		for _, pkg := range result.Packages {
			identity := packageIdentity(pkg.Package)
			for _, vuln := range pkg.Vulnerabilities {
				findings = append(findings, model.RawFinding{
					RuleID:             vuln.ID,
					SeverityTier:       osvSeverityTier(vuln),
					CweFamily:          dependencyCweFamily,
					Message:            osvMessage(pkg.Package, vuln),
					File:               result.Source.Path,
					PartialFingerprint: identity + "#" + vuln.ID,
				})
			}
		}
	}
	return s.IngestFindings(ctx, repoURL, scannedAt, findings, nil)
}

// packageIdentity is the version-independent identity of a dependency,
// expressed as a base PURL where possible. Bumping a vulnerable package to
// another still-vulnerable version must not reset its dispatch history.
func packageIdentity(pkg models.PackageInfo) string {
	raw := packageurl.NewPackageURL(
		strings.ToLower(string(pkg.Ecosystem)), "", pkg.Name, pkg.Version, nil, "").ToString()
	base, err := util.BasePURL(raw)
	if err != nil {
		return fmt.Sprintf("%s/%s", pkg.Ecosystem, pkg.Name)
	}
	return base
}

func osvMessage(pkg models.PackageInfo, vuln models.Vulnerability) string {
	summary := vuln.Summary
	if summary == "" {
		summary = "known vulnerability"
	}
	return fmt.Sprintf("%s in dependency %s@%s", summary, pkg.Name, pkg.Version)
}

// osvSeverityTier derives a tier from the vulnerability's CVSS vectors,
// taking the worst one. Reports without a parseable vector land on low.
func osvSeverityTier(vuln models.Vulnerability) string {
	best := model.SeverityLow
	bestRank := model.SeverityRank(best)
	for _, sev := range vuln.Severity {
		tier := util.SeverityTierFromVector(string(sev.Score))
		if rank := model.SeverityRank(tier); rank < bestRank {
			best = tier
			bestRank = rank
		}
	}
	return best
}
