package clients

import (
	"context"

	"github.com/ortelius/avr-backend/internal/retry"
)

// VerificationResult is one entry of the verification feed: whether a fix
// attempt actually resolved the issue, keyed by fingerprint.
type VerificationResult struct {
	Fingerprint string `json:"fingerprint"`
	Resolved    bool   `json:"resolved"`
}

// VerifyClient talks to the post-fix verification service.
type VerifyClient struct {
	httpClient
}

// NewVerifyClient creates a verification feed client.
func NewVerifyClient(baseURL, token string, policy retry.Policy) *VerifyClient {
	return &VerifyClient{newHTTPClient(baseURL, token, policy)}
}

// Outcomes fetches verification results for a set of fingerprints in one
// repo. Fingerprints missing from the response have no verification yet.
func (c *VerifyClient) Outcomes(ctx context.Context, repoURL string, fingerprints []string) (map[string]bool, error) {
	req := map[string]interface{}{
		"repo_url":     repoURL,
		"fingerprints": fingerprints,
	}
	var resp struct {
		Results []VerificationResult `json:"results"`
	}
	if err := c.doJSON(ctx, "POST", "/api/v1/verifications/query", req, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(resp.Results))
	for _, r := range resp.Results {
		out[r.Fingerprint] = r.Resolved
	}
	return out, nil
}
