// Package clients holds the HTTP clients for the three external
// collaborators: the static analyzer, the remediation agent platform and
// the verification feed. All requests run through the shared retry policy.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ortelius/avr-backend/internal/retry"
)

const defaultTimeout = 30 * time.Second

type httpClient struct {
	baseURL string
	token   string
	client  *http.Client
	policy  retry.Policy
}

func newHTTPClient(baseURL, token string, policy retry.Policy) httpClient {
	return httpClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultTimeout},
		policy:  policy,
	}
}

// doJSON issues one request with retries and decodes the JSON response into
// out (when non-nil). 4xx responses are permanent: retrying a rejected
// request burns the attempt budget for nothing.
func (c httpClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return c.policy.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return retry.Permanent(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data)))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
