// Package slack posts incident notifications via the Slack Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIURL = "https://slack.com/api"
	httpTimeout   = 10 * time.Second
)

// Client posts messages with a bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Slack Web API client.
func New(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// PostMessageResponse is the provider metadata returned on delivery.
type PostMessageResponse struct {
	OK      bool   `json:"ok"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Err     string `json:"error"`
}

// PostMessage delivers a Block Kit message to a channel and returns the
// provider's delivery metadata (channel id and message timestamp).
func (c *Client) PostMessage(ctx context.Context, channel, text string, blocks []map[string]any) (*PostMessageResponse, error) {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
		"blocks":  blocks,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: post message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("slack: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("slack: api returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out PostMessageResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("slack: unmarshal response: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("slack: api error: %s", out.Err)
	}
	return &out, nil
}
