// Package narration calls the speech-synthesis service that turns voiceover
// text into an audio file with a measured duration.
package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Synthesis is a finished voiceover: the audio file on the shared scratch
// volume and its measured duration.
type Synthesis struct {
	AudioPath       string  `json:"audio_path"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Client is an HTTP client for the narration service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient points at the narration service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Synthesize renders text to speech with the given voice and speed
// multiplier.
func (c *Client) Synthesize(ctx context.Context, text, voice string, speed float64) (Synthesis, error) {
	payload := struct {
		Text  string  `json:"text"`
		Voice string  `json:"voice"`
		Speed float64 `json:"speed"`
	}{Text: text, Voice: voice, Speed: speed}

	data, err := json.Marshal(payload)
	if err != nil {
		return Synthesis{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(data))
	if err != nil {
		return Synthesis{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Synthesis{}, fmt.Errorf("call narration service: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Synthesis{}, fmt.Errorf("read narration response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Synthesis{}, fmt.Errorf("narration service returned %d: %s", resp.StatusCode, body)
	}

	var result Synthesis
	if err := json.Unmarshal(body, &result); err != nil {
		return Synthesis{}, fmt.Errorf("decode narration response: %w", err)
	}
	if result.AudioPath == "" {
		return Synthesis{}, fmt.Errorf("narration service returned no audio path")
	}
	if result.DurationSeconds <= 0 {
		return Synthesis{}, fmt.Errorf("narration service returned invalid duration %v", result.DurationSeconds)
	}
	return result, nil
}
