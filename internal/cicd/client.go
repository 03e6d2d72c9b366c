// Package cicd bridges intake conversion to an external CI provider. It
// dispatches a configured workflow over the provider's REST API and polls the
// workflow's runs until one started after the dispatch reaches a terminal
// conclusion.
package cicd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/config"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/telemetry"
)

const apiVersionHeader = "2022-11-28"

// Terminal workflow conclusions reported by the provider
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
)

// Client talks to the CI provider's workflow API for one repository
type Client struct {
	apiBaseURL   string
	owner        string
	repo         string
	workflowFile string
	ref          string
	token        string
	pollInterval time.Duration
	pollTimeout  time.Duration
	httpClient   *http.Client
}

// NewClient builds a workflow bridge from configuration. Returns
// ErrNotConfigured when the owner, repository, or token is missing so callers
// can degrade cleanly in environments without CI wiring.
func NewClient(cfg config.CICDConfig) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Token == "" {
		return nil, ErrNotConfigured
	}

	return &Client{
		apiBaseURL:   cfg.APIBaseURL,
		owner:        cfg.Owner,
		repo:         cfg.Repo,
		workflowFile: cfg.WorkflowFile,
		ref:          cfg.Ref,
		token:        cfg.Token,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// DispatchWorkflow triggers a run of the configured workflow file with the
// given inputs. The provider returns no run identifier from a dispatch, so
// callers correlate the run by its start time via WaitForConclusion.
func (c *Client) DispatchWorkflow(ctx context.Context, inputs map[string]string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		c.apiBaseURL, c.owner, c.repo, c.workflowFile)

	payload, err := json.Marshal(map[string]any{
		"ref":    c.ref,
		"inputs": inputs,
	})
	if err != nil {
		return fmt.Errorf("cicd: marshal dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cicd: create dispatch request: %w", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapRemoteError(0, "failed to dispatch workflow", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrWorkflowNotFound
	}
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wrapRemoteError(resp.StatusCode, "failed to dispatch workflow", fmt.Errorf("%s", body))
	}

	telemetry.WorkflowDispatchesTotal.Inc()
	return nil
}

// WaitForConclusion polls the workflow's runs until a run created at or after
// since completes, and returns that run's conclusion. Returns
// ErrWorkflowTimeout when the polling window elapses without a terminal run.
func (c *Client) WaitForConclusion(ctx context.Context, since time.Time) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		run, err := c.latestRunSince(ctx, since)
		if err != nil {
			slog.Warn("workflow run poll failed", "error", err)
		} else if run != nil && run.Status == "completed" {
			telemetry.WorkflowConclusionsTotal.WithLabelValues(run.Conclusion).Inc()
			return run.Conclusion, nil
		}

		if time.Now().After(deadline) {
			return "", ErrWorkflowTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

type workflowRun struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
	HTMLURL    string    `json:"html_url"`
}

// latestRunSince fetches the most recent run of the configured workflow on
// the configured ref that was created at or after since, nil when no such
// run exists yet
func (c *Client) latestRunSince(ctx context.Context, since time.Time) (*workflowRun, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/runs?branch=%s&created=%%3E%%3D%s&per_page=5",
		c.apiBaseURL, c.owner, c.repo, c.workflowFile, c.ref,
		since.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cicd: create runs request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapRemoteError(0, "failed to list workflow runs", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrWorkflowNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapRemoteError(resp.StatusCode, "failed to list workflow runs", nil)
	}

	var result struct {
		TotalCount   int           `json:"total_count"`
		WorkflowRuns []workflowRun `json:"workflow_runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("cicd: decode workflow runs: %w", err)
	}

	for i := range result.WorkflowRuns {
		run := &result.WorkflowRuns[i]
		if !run.CreatedAt.Before(since) {
			return run, nil
		}
	}
	return nil, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersionHeader)
}
