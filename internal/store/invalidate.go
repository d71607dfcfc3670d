package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/natikgadzhi/notion-mirror/internal/block"
)

// Invalidator tells the rendering layer that cached output is stale.
type Invalidator interface {
	InvalidateTag(ctx context.Context, tag string) error
	InvalidatePath(ctx context.Context, path string) error
}

// PageTag is the cache tag of the page stored under slug.
func PageTag(slug string) string {
	return "page:" + slug
}

// CollectionTag is the cache tag of a database's stored views. Dashed and
// undashed forms of an id share one tag.
func CollectionTag(databaseID string) string {
	return "collection:" + block.NormalizeID(databaseID)
}

// PostsTag is the cache tag of the posts index.
const PostsTag = "posts"

// LogInvalidator only logs invalidations. It is used when no renderer
// endpoint is configured.
type LogInvalidator struct {
	logger *slog.Logger
}

// NewLogInvalidator creates a LogInvalidator.
func NewLogInvalidator(logger *slog.Logger) *LogInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogInvalidator{logger: logger}
}

// InvalidateTag logs tag.
func (l *LogInvalidator) InvalidateTag(_ context.Context, tag string) error {
	l.logger.Debug("invalidate tag", "tag", tag)
	return nil
}

// InvalidatePath logs path.
func (l *LogInvalidator) InvalidatePath(_ context.Context, path string) error {
	l.logger.Debug("invalidate path", "path", path)
	return nil
}

// WebhookInvalidator posts invalidations to the renderer's revalidate
// endpoint, authenticated with a shared secret.
type WebhookInvalidator struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookInvalidator creates a WebhookInvalidator posting to url.
func NewWebhookInvalidator(url, secret string, logger *slog.Logger) *WebhookInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookInvalidator{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type revalidateRequest struct {
	Tag  string `json:"tag,omitempty"`
	Path string `json:"path,omitempty"`
}

// InvalidateTag asks the renderer to drop everything tagged tag.
func (w *WebhookInvalidator) InvalidateTag(ctx context.Context, tag string) error {
	return w.post(ctx, revalidateRequest{Tag: tag})
}

// InvalidatePath asks the renderer to rebuild path.
func (w *WebhookInvalidator) InvalidatePath(ctx context.Context, path string) error {
	return w.post(ctx, revalidateRequest{Path: path})
}

func (w *WebhookInvalidator) post(ctx context.Context, body revalidateRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding revalidate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set("Authorization", "Bearer "+w.secret)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting revalidate request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("revalidate failed with status %d", resp.StatusCode)
	}
	w.logger.Debug("revalidated", "tag", body.Tag, "path", body.Path)
	return nil
}
