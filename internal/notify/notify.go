// Package notify sends best-effort ntfy notifications on job terminal
// transitions. Delivery failure is never allowed to affect the encoding
// pipeline.
package notify

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
)

const defaultServerURL = "https://ntfy.sh"

// Client posts plain-text messages to an ntfy topic.
type Client struct {
	ServerURL string
	Topic     string
	Token     string

	// OnComplete/OnFailure gate whether a successful or failed job
	// triggers a notification.
	OnComplete bool
	OnFailure  bool
}

// NewClient builds a Client, defaulting ServerURL to the public ntfy.sh
// instance when empty.
func NewClient(serverURL, topic, token string, onComplete, onFailure bool) *Client {
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		ServerURL:  serverURL,
		Topic:      topic,
		Token:      token,
		OnComplete: onComplete,
		OnFailure:  onFailure,
	}
}

// IsConfigured reports whether enough information is present to send.
func (c *Client) IsConfigured() bool {
	return c != nil && c.Topic != "" && c.ServerURL != ""
}

// Send posts a title/message pair to the configured topic.
func (c *Client) Send(title, message string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("ntfy credentials not configured")
	}

	url := strings.TrimRight(c.ServerURL, "/") + "/" + strings.TrimLeft(c.Topic, "/")
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}

// Test sends a notification verifying the configured credentials work.
func (c *Client) Test() error {
	return c.Send("av1superd", "Test notification - ntfy is configured correctly!")
}

// NotifyComplete sends a best-effort completion notice for inputPath,
// reporting the bytes saved. Errors are returned for logging by the
// caller, never propagated into the job pipeline.
func (c *Client) NotifyComplete(inputPath string, originalBytes, outputBytes int64) error {
	if !c.IsConfigured() || !c.OnComplete {
		return nil
	}
	savedPct := 0.0
	if originalBytes > 0 {
		savedPct = (1 - float64(outputBytes)/float64(originalBytes)) * 100
	}
	msg := fmt.Sprintf("%s re-encoded: %d -> %d bytes (%.1f%% smaller)", inputPath, originalBytes, outputBytes, savedPct)
	return c.Send("Encode complete", msg)
}

// NotifyFailure sends a best-effort failure notice for inputPath.
func (c *Client) NotifyFailure(inputPath, reason string) error {
	if !c.IsConfigured() || !c.OnFailure {
		return nil
	}
	return c.Send("Encode failed", fmt.Sprintf("%s: %s", inputPath, reason))
}
