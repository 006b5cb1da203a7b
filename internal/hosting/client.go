// Package hosting talks to the bot hosting control plane. The only call
// the bot makes is the self-restart endpoint, bounded by a short timeout;
// failures are surfaced verbatim to the requesting administrator.
package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultRequestTimeout = 10 * time.Second

// Ack is the control plane's acknowledgement. Some deployments report the
// failure text under msg instead of message.
type Ack struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// Text picks the human-readable part of the acknowledgement.
func (a Ack) Text() string {
	if s := strings.TrimSpace(a.Message); s != "" {
		return s
	}
	return strings.TrimSpace(a.Msg)
}

type Restarter interface {
	Restart(ctx context.Context) (Ack, error)
}

type Client struct {
	baseURL string
	botID   string
	http    *http.Client
}

func NewClient(baseURL, botID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		botID:   strings.TrimSpace(botID),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Restart(ctx context.Context) (Ack, error) {
	if c.baseURL == "" {
		return Ack{}, fmt.Errorf("hosting: base url not configured")
	}
	if c.botID == "" {
		return Ack{}, fmt.Errorf("hosting: bot id not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/bots/self/restart", nil)
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("X-Bot-ID", c.botID)
	resp, err := c.http.Do(req)
	if err != nil {
		return Ack{}, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Ack{}, fmt.Errorf("hosting http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return Ack{}, fmt.Errorf("hosting: decode ack: %w", err)
	}
	return ack, nil
}
