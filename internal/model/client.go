package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a model sidecar's /detect endpoint over HTTP. The sidecar
// contract is (text, language) -> spans with start/end offsets, a label, and
// a confidence score.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a model client pointing at the given base URL
// (e.g. "http://textveil-ner:8001").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url: baseURL + "/detect",
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type detectRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type detectResponse struct {
	Spans []RawSpan `json:"spans"`
}

// Detect sends text to the model sidecar and returns the raw spans. It is
// safe for concurrent use.
func (c *Client) Detect(ctx context.Context, text, language string) ([]RawSpan, error) {
	body, err := json.Marshal(detectRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("model: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("model: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model: unexpected status %d", resp.StatusCode)
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("model: decode: %w", err)
	}
	return decoded.Spans, nil
}
