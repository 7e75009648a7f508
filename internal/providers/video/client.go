// Package video wraps the generation vendor's task-status API behind a
// narrow contract. Vendor hiccups are transient failures; they never change
// a job's status.
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// StatusResult is the vendor-reported state of one generation task.
type StatusResult struct {
	Status          domain.JobStatus
	ResultReference string
	ErrorMessage    string
}

// Checker is the contract consumed by the reconciliation engine and the
// worker.
type Checker interface {
	Check(ctx context.Context, taskID string) (StatusResult, error)
}

// Options controls how the vendor client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("vendor base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type statusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []struct {
				URL string `json:"url"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

// Check fetches the vendor-side state of taskID. Network failures,
// timeouts and vendor 5xx responses surface as ErrVendorUnavailable.
func (c *Client) Check(ctx context.Context, taskID string) (StatusResult, error) {
	endpoint := fmt.Sprintf("%s/v1/videos/generations/%s", c.baseURL, url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", domain.ErrVendorUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return StatusResult{}, domain.ErrNotFound
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return StatusResult{}, fmt.Errorf("%w: vendor returned %d", domain.ErrVendorUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return StatusResult{}, fmt.Errorf("vendor status check failed with %d", res.StatusCode)
	}

	var payload statusResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return StatusResult{}, fmt.Errorf("%w: decode status response: %v", domain.ErrVendorUnavailable, err)
	}

	status, err := mapVendorStatus(payload.Data.TaskStatus)
	if err != nil {
		return StatusResult{}, err
	}
	result := StatusResult{Status: status, ErrorMessage: payload.Data.TaskStatusMsg}
	if len(payload.Data.TaskResult.Videos) > 0 {
		result.ResultReference = payload.Data.TaskResult.Videos[0].URL
	}
	if c.logger != nil {
		c.logger.Debug().Str("task_id", taskID).Str("vendor_status", payload.Data.TaskStatus).Msg("video: status checked")
	}
	return result, nil
}

func mapVendorStatus(vendor string) (domain.JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(vendor)) {
	case "submitted", "queued":
		return domain.JobStatusPending, nil
	case "processing", "running":
		return domain.JobStatusProcessing, nil
	case "succeed", "succeeded":
		return domain.JobStatusCompleted, nil
	case "failed":
		return domain.JobStatusFailed, nil
	case "cancelled", "canceled":
		return domain.JobStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown vendor status %q", vendor)
	}
}

var _ Checker = (*Client)(nil)
