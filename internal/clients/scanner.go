package clients

import (
	"context"
	"net/url"
	"time"

	"github.com/ortelius/avr-backend/internal/retry"
	"github.com/ortelius/avr-backend/model"
)

// ScanResult is one analyzer run delivered by the scan result feed.
type ScanResult struct {
	RepoURL   string             `json:"repo_url"`
	ScannedAt time.Time          `json:"scanned_at"`
	Analyzer  string             `json:"analyzer,omitempty"`
	Findings  []model.RawFinding `json:"findings"`
}

// ScannerClient talks to the static analyzer service.
type ScannerClient struct {
	httpClient
}

// NewScannerClient creates a scanner feed client.
func NewScannerClient(baseURL, token string, policy retry.Policy) *ScannerClient {
	return &ScannerClient{newHTTPClient(baseURL, token, policy)}
}

// LatestScan fetches the most recent completed scan for a repo.
func (c *ScannerClient) LatestScan(ctx context.Context, repoURL string) (*ScanResult, error) {
	var result ScanResult
	path := "/api/v1/scans/latest?repo=" + url.QueryEscape(repoURL)
	if err := c.doJSON(ctx, "GET", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TriggerScan requests a fresh scan of a repo. The scan completes
// asynchronously; results arrive via the feed.
func (c *ScannerClient) TriggerScan(ctx context.Context, repoURL string) error {
	body := map[string]string{"repo_url": repoURL}
	return c.doJSON(ctx, "POST", "/api/v1/scans", body, nil)
}
