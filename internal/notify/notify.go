// Package notify reports failed sync runs to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Failure is the payload posted when a run fails.
type Failure struct {
	Error string `json:"error"`
	Slug  string `json:"slug,omitempty"`
	RunID string `json:"runId"`
}

// Notifier posts failures to a webhook. Delivery is fire-and-forget:
// errors are logged and never returned.
type Notifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a Notifier. An empty url disables notifications.
func New(url string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify sends f in the background. The returned channel is closed once
// delivery finished, for callers that want to wait.
func (n *Notifier) Notify(f Failure) <-chan struct{} {
	done := make(chan struct{})
	if n == nil || n.url == "" {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
		defer cancel()
		if err := n.send(ctx, f); err != nil {
			n.logger.Warn("failure notification not delivered", "run_id", f.RunID, "error", err)
		}
	}()
	return done
}

func (n *Notifier) send(ctx context.Context, f Failure) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding failure: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting failure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
