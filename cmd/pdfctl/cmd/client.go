package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIClient calls the pdfforge HTTP API.
type APIClient struct {
	BaseURL    string
	Secret     string
	Owner      string
	HTTPClient *http.Client
}

func NewAPIClient(baseURL, secret, owner string) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Secret:     secret,
		Owner:      owner,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

type DrainResult struct {
	Processed int   `json:"processed"`
	Claimed   int   `json:"claimed"`
	Completed int   `json:"completed"`
	Requeued  int   `json:"requeued"`
	Failed    int   `json:"failed"`
	TookMs    int64 `json:"tookMs"`
}

type CreatedJob struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type Job struct {
	ID                string  `json:"id"`
	Status            string  `json:"status"`
	Stage             string  `json:"stage"`
	Progress          int     `json:"progress"`
	Attempts          int     `json:"attempts"`
	ErrorMessage      *string `json:"error_message"`
	ResultRef         *string `json:"result_ref"`
	RegenerationCount int     `json:"regeneration_count"`
}

// Drain triggers one drain pass. Zero arguments use the server defaults.
func (c *APIClient) Drain(ctx context.Context, maxJobs, maxMs int) (*DrainResult, error) {
	q := url.Values{}
	if maxJobs > 0 {
		q.Set("maxJobs", strconv.Itoa(maxJobs))
	}
	if maxMs > 0 {
		q.Set("maxMs", strconv.Itoa(maxMs))
	}
	path := "/internal/drain"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out DrainResult
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Submit(ctx context.Context, prompt, tier string) (*CreatedJob, error) {
	var out CreatedJob
	body := map[string]string{"prompt": prompt, "tier": tier}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Job(ctx context.Context, id string) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Secret != "" {
		req.Header.Set("X-Drain-Secret", c.Secret)
	}
	if c.Owner != "" {
		req.Header.Set("X-Owner-ID", c.Owner)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &env) == nil && env.Error.Code != "" {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
