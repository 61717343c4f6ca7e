// Package render calls the per-type rendering services that turn a segment
// description (or a pre-generated script) into a video clip.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reelpipe/reelpipe/internal/model"
)

// Request is the payload sent to a rendering service.
type Request struct {
	Description     string         `json:"description"`
	Title           string         `json:"title"`
	DurationSeconds float64        `json:"duration_seconds"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Script          string         `json:"script,omitempty"`
}

// Result is a rendering service's successful response. VideoPath points into
// the shared scratch volume; Script is returned by backends that generate
// code before rendering.
type Result struct {
	VideoPath string `json:"video_path"`
	Script    string `json:"script,omitempty"`
}

// Client dispatches generation requests to the service registered for each
// segment type.
type Client struct {
	backends   map[string]string
	httpClient *http.Client
}

// NewClient builds a client from the backend registry.
func NewClient(cfg Config) *Client {
	return &Client{
		backends:   cfg.Backends,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

func (c *Client) baseURL(t model.SegmentType) (string, error) {
	url, ok := c.backends[string(t)]
	if !ok || url == "" {
		return "", fmt.Errorf("no rendering backend for type %q", t)
	}
	return url, nil
}

// Generate renders the visual for one segment. When a backend rejects script
// execution it may still return the script it generated; that script is
// surfaced on the Result alongside the error so callers can persist it for
// inspection.
func (c *Client) Generate(ctx context.Context, t model.SegmentType, req Request) (Result, error) {
	base, err := c.baseURL(t)
	if err != nil {
		return Result{}, err
	}

	status, body, err := c.post(ctx, base+"/generate", req)
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		// Backends report "script compiled but execution failed" as 422 with
		// the script in the body.
		if status == http.StatusUnprocessableEntity {
			var partial Result
			if json.Unmarshal(body, &partial) == nil && partial.Script != "" {
				return Result{Script: partial.Script},
					fmt.Errorf("rendering service %s: script execution failed: %s", t, truncate(body))
			}
		}
		return Result{}, fmt.Errorf("rendering service %s returned %d: %s", t, status, truncate(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return Result{}, fmt.Errorf("decode %s response: %w", t, err)
	}
	if result.VideoPath == "" {
		return result, fmt.Errorf("rendering service %s returned no video path", t)
	}
	return result, nil
}

// PreviewScript asks a backend to generate its script without running it.
func (c *Client) PreviewScript(ctx context.Context, t model.SegmentType, req Request) (string, error) {
	base, err := c.baseURL(t)
	if err != nil {
		return "", err
	}

	status, body, err := c.post(ctx, base+"/preview-script", req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("script generation for %s returned %d: %s", t, status, truncate(body))
	}

	var result struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode script response: %w", err)
	}
	return result.Script, nil
}

func (c *Client) post(ctx context.Context, url string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	return resp.StatusCode, body, nil
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
