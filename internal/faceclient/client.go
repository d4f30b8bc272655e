package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// SearchMatch is one gallery hit from a 1:N search.
type SearchMatch struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// SearchResult contains 1:N search results for a class photo.
type SearchResult struct {
	Matches       []SearchMatch `json:"matches"`
	FacesDetected int           `json:"faces_detected"`
	Quality       *FaceQuality  `json:"quality"`
}

// VerifyResult contains a 1:1 verification result.
type VerifyResult struct {
	UserID     string       `json:"user_id"`
	Verified   bool         `json:"verified"`
	Similarity float64      `json:"similarity"`
	Threshold  float64      `json:"threshold"`
	Quality    *FaceQuality `json:"quality"`
}

// LivenessResult contains the anti-spoofing verdict.
type LivenessResult struct {
	IsLive     bool           `json:"is_live"`
	Confidence float64        `json:"confidence"`
	Checks     map[string]any `json:"checks"`
}

// Client calls the face recognition microservice. With Skip set every call
// returns a canned positive answer without network traffic.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Verify performs 1:1 verification of imageURL against an enrolled student.
func (c *Client) Verify(ctx context.Context, studentID, imageURL string) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{UserID: studentID, Verified: true, Similarity: 0.92, Threshold: 0.45}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}
	var out VerifyResult
	if err := c.post(ctx, "/verify", map[string]any{"user_id": studentID, "image_url": imageURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Liveness checks whether the image shows a live person.
func (c *Client) Liveness(ctx context.Context, imageURL string) (*LivenessResult, error) {
	if c.Skip {
		return &LivenessResult{IsLive: true, Confidence: 0.85, Checks: map[string]any{"mock": true}}, nil
	}
	var out LivenessResult
	if err := c.post(ctx, "/liveness", map[string]any{"image_url": imageURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search identifies every enrolled face in a class photo.
func (c *Client) Search(ctx context.Context, imageURL string, topK int, threshold float64) (*SearchResult, error) {
	if c.Skip {
		return &SearchResult{Matches: []SearchMatch{}}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}
	payload := map[string]any{"image_url": imageURL, "top_k": topK}
	if threshold > 0 {
		payload["threshold"] = threshold
	}
	var out SearchResult
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
