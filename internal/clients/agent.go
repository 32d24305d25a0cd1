package clients

import (
	"context"

	"github.com/ortelius/avr-backend/internal/retry"
	"github.com/ortelius/avr-backend/model"
)

// SessionIssue is one issue handed to the agent inside a session request.
type SessionIssue struct {
	Fingerprint string `json:"fingerprint"`
	RuleID      string `json:"rule_id"`
	File        string `json:"file,omitempty"`
	StartLine   int    `json:"start_line,omitempty"`
	Message     string `json:"message,omitempty"`
}

// CreateSessionRequest asks the agent platform to open one remediation
// session for a batch of related issues in one repo.
type CreateSessionRequest struct {
	RepoURL string         `json:"repo_url"`
	Title   string         `json:"title"`
	Issues  []SessionIssue `json:"issues"`
}

// CreateSessionResponse carries the platform-assigned session ID.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// PullRequestRef is the PR produced by a finished session, when any.
type PullRequestRef struct {
	URL    string `json:"url"`
	State  string `json:"state"` // open, merged, closed
	Number int    `json:"number,omitempty"`
}

// SessionStatus is one entry of the agent session status feed.
type SessionStatus struct {
	SessionID   string          `json:"session_id"`
	Status      string          `json:"status"`
	PullRequest *PullRequestRef `json:"pull_request,omitempty"`
}

// PROpen reports whether the session produced a still-open pull request.
func (s SessionStatus) PROpen() bool {
	return s.PullRequest != nil && s.PullRequest.State == "open"
}

// PRMerged reports whether the session's pull request was merged.
func (s SessionStatus) PRMerged() bool {
	return s.PullRequest != nil && s.PullRequest.State == "merged"
}

// AgentClient talks to the AI remediation agent platform.
type AgentClient struct {
	httpClient
}

// NewAgentClient creates an agent platform client.
func NewAgentClient(baseURL, token string, policy retry.Policy) *AgentClient {
	return &AgentClient{newHTTPClient(baseURL, token, policy)}
}

// CreateSession opens a remediation session and returns its ID.
func (c *AgentClient) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	var resp CreateSessionResponse
	if err := c.doJSON(ctx, "POST", "/api/v1/sessions", req, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// GetSession fetches the current status of a session.
func (c *AgentClient) GetSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var status SessionStatus
	if err := c.doJSON(ctx, "GET", "/api/v1/sessions/"+sessionID, nil, &status); err != nil {
		return nil, err
	}
	if status.Status == "" {
		status.Status = model.SessionRunning
	}
	return &status, nil
}
