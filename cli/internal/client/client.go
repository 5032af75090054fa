// Package client talks to the batch action HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Message, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is a batch action API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the API at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateRequest is the body of a run-evaluation request.
type CreateRequest struct {
	UserID string                          `json:"userId,omitempty"`
	Query  batchaction.Query               `json:"query"`
	Config batchaction.RunEvaluationConfig `json:"config"`
}

// CreateResponse identifies an accepted batch action.
type CreateResponse struct {
	ID     string             `json:"id"`
	Status batchaction.Status `json:"status"`
}

// ListResponse is one page of batch actions.
type ListResponse struct {
	BatchActions []*batchaction.BatchAction `json:"batchActions"`
	TotalCount   int                        `json:"totalCount"`
}

// CreateRunEvaluation queues an evaluation of the observations selected by req.
func (c *Client) CreateRunEvaluation(ctx context.Context, projectID string, req CreateRequest) (*CreateResponse, error) {
	var resp CreateResponse
	if err := c.do(ctx, http.MethodPost, projectPath(projectID, "batch-actions", "run-evaluation"), nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatchAction fetches one batch action.
func (c *Client) GetBatchAction(ctx context.Context, projectID, id string) (*batchaction.BatchAction, error) {
	var job batchaction.BatchAction
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "batch-actions", id), nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListBatchActions fetches one page (0-based) of batch actions.
func (c *Client) ListBatchActions(ctx context.Context, projectID string, page, limit int) (*ListResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "batch-actions"), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListEvaluators fetches the evaluator configs of a project.
func (c *Client) ListEvaluators(ctx context.Context, projectID string) ([]*batchaction.EvaluatorConfig, error) {
	var resp struct {
		Evaluators []*batchaction.EvaluatorConfig `json:"evaluators"`
	}
	if err := c.do(ctx, http.MethodGet, projectPath(projectID, "evaluators"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Evaluators, nil
}

func projectPath(projectID string, parts ...string) string {
	segments := []string{"api", "v1", "projects", url.PathEscape(projectID)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return "/" + strings.Join(segments, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
