// Package planner calls the content-planning service that turns a free-text
// prompt into an initial ordered segment list.
package planner

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

// Plan is the planner's structured response.
type Plan struct {
	Segments []model.Segment `json:"segments"`
	Context  string          `json:"context,omitempty"`
}

// Client is an HTTP client for the planning service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient points at the planning service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// PlanSegments turns a prompt into an ordered segment list. Voice and speed
// seed the default voiceover settings the planner applies to each segment.
func (c *Client) PlanSegments(ctx context.Context, prompt, voice string, speed float64) (Plan, error) {
	payload := struct {
		Prompt string  `json:"prompt"`
		Voice  string  `json:"voice"`
		Speed  float64 `json:"speed"`
	}{Prompt: prompt, Voice: voice, Speed: speed}

	data, err := json.Marshal(payload)
	if err != nil {
		return Plan{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/plan", bytes.NewReader(data))
	if err != nil {
		return Plan{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Plan{}, fmt.Errorf("call planning service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Plan{}, fmt.Errorf("read planner response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Plan{}, fmt.Errorf("planning service returned %d: %s", resp.StatusCode, body)
	}

	var plan Plan
	if err := json.Unmarshal(body, &plan); err != nil {
		return Plan{}, fmt.Errorf("decode planner response: %w", err)
	}
	return plan, nil
}
