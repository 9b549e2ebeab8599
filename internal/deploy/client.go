package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"appforge/internal/config"
	"appforge/internal/logging"
	"appforge/internal/project"
)

// Result is the deployment service's response for a preview build.
type Result struct {
	Status          string `json:"status"` // ready, error, building
	PreviewURL      string `json:"previewUrl,omitempty"`
	VercelURL       string `json:"vercelUrl,omitempty"`
	DeploymentError string `json:"deploymentError,omitempty"`
	DeploymentLogs  string `json:"deploymentLogs,omitempty"`
}

// Succeeded reports whether the build reached a servable preview.
func (r *Result) Succeeded() bool {
	return r.Status == "ready"
}

// Client deploys a file set as a preview app.
type Client interface {
	// CreatePreview builds a fresh preview for appID from the file set.
	CreatePreview(ctx context.Context, appID string, files []project.File) (*Result, error)
	// UpdatePreview rebuilds an existing preview with the new file set.
	UpdatePreview(ctx context.Context, appID string, files []project.File) (*Result, error)
}

// HTTPClient is the production Client, talking JSON over HTTP to the
// deployment service.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a client from deployment config.
func NewHTTPClient(cfg config.DeployConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.TimeoutDuration()},
	}
}

type deployRequest struct {
	AppID string         `json:"appId"`
	Files []project.File `json:"files"`
}

func (c *HTTPClient) CreatePreview(ctx context.Context, appID string, files []project.File) (*Result, error) {
	return c.post(ctx, "/api/previews", appID, files)
}

func (c *HTTPClient) UpdatePreview(ctx context.Context, appID string, files []project.File) (*Result, error) {
	return c.post(ctx, "/api/previews/"+appID+"/files", appID, files)
}

func (c *HTTPClient) post(ctx context.Context, path, appID string, files []project.File) (*Result, error) {
	payload, err := json.Marshal(deployRequest{AppID: appID, Files: files})
	if err != nil {
		return nil, fmt.Errorf("marshal deploy request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deploy request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read deploy response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("deploy service returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode deploy response: %w", err)
	}
	logging.Deploy("deploy %s: status=%s in %v", appID, result.Status, time.Since(start).Round(time.Millisecond))
	return &result, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// IsTimeout reports whether a deployment failure was a transport or
// deadline timeout, which is retried verbatim without consuming a fix
// attempt.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
