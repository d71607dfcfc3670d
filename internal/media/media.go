// Package media mirrors images referenced by Notion into durable storage.
//
// Notion-hosted file URLs are signed and expire after about an hour, so
// every image that ends up in a stored bundle is fetched once, uploaded
// somewhere permanent and remembered by key. Mirroring never fails a sync:
// any problem degrades to the original URL with a reason code.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Reason codes reported when an asset could not be mirrored.
const (
	ReasonFetchFailed  = "fetch_failed"
	ReasonHTTPStatus   = "http_status"
	ReasonReadFailed   = "read_failed"
	ReasonUploadFailed = "upload_failed"
)

// DefaultMaxBytes bounds the size of a single mirrored asset.
const DefaultMaxBytes = 50 << 20

// Result is the outcome of mirroring one asset.
type Result struct {
	URL      string
	Width    int
	Height   int
	Mirrored bool
	Reason   string
}

// Entry is what the cache remembers for a mirrored asset.
type Entry struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Cache is the durable lookup consulted before any network call.
// GetMedia returns nil without error when the key is unknown.
type Cache interface {
	GetMedia(ctx context.Context, key string) (*Entry, error)
	PutMedia(ctx context.Context, key string, e Entry) error
}

// UploadOptions are the delivery flags passed to the uploader.
type UploadOptions struct {
	Format      string // forced output format, "svg" for vectors
	Quality     string // "auto" for rasters
	FetchFormat string // "auto" for rasters
}

// Uploader stores bytes under key and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, opts UploadOptions) (string, error)
}

// Mirror fetches, uploads and remembers media assets.
type Mirror struct {
	client   *http.Client
	uploader Uploader
	cache    Cache
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithHTTPClient sets the client used to download sources.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Mirror) {
		m.client = c
	}
}

// WithMaxBytes caps the size of a downloaded asset.
func WithMaxBytes(n int64) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Mirror that uploads through u and remembers results in c.
func New(u Uploader, c Cache, opts ...Option) *Mirror {
	m := &Mirror{
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		uploader: u,
		cache:    c,
		maxBytes: DefaultMaxBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CacheKey is the composite key an asset is remembered under.
func CacheKey(key, sourceURL string) string {
	return key + "|" + sourceURL
}

// Mirror copies sourceURL into durable storage under key. The same key and
// source always yield the same result without touching the network again.
func (m *Mirror) Mirror(ctx context.Context, sourceURL, key, contentTypeHint string) Result {
	fallback := func(reason string) Result {
		return Result{URL: sourceURL, Reason: reason}
	}
	if sourceURL == "" {
		return fallback(ReasonFetchFailed)
	}

	cacheKey := CacheKey(key, sourceURL)
	if m.cache != nil {
		e, err := m.cache.GetMedia(ctx, cacheKey)
		switch {
		case err != nil:
			m.logger.Warn("media cache lookup failed", "key", key, "error", err)
		case e != nil:
			return Result{URL: e.URL, Width: e.Width, Height: e.Height, Mirrored: true}
		}
	}

	data, contentType, reason, err := m.fetch(ctx, sourceURL)
	if err != nil {
		m.logger.Warn("media fetch failed", "key", key, "reason", reason, "error", err)
		return fallback(reason)
	}
	if contentType == "" {
		contentType = contentTypeHint
	}

	vector := IsSVG(contentType, sourceURL)
	opts := UploadOptions{Quality: "auto", FetchFormat: "auto"}
	if vector {
		opts = UploadOptions{Format: "svg"}
		contentType = "image/svg+xml"
	}

	publicURL, err := m.uploader.Upload(ctx, key, data, contentType, opts)
	if err != nil {
		m.logger.Warn("media upload failed", "key", key, "error", err)
		return fallback(ReasonUploadFailed)
	}

	e := Entry{URL: publicURL}
	if w, h, ok := Dimensions(data, vector); ok {
		e.Width, e.Height = w, h
	}
	if m.cache != nil {
		if err := m.cache.PutMedia(ctx, cacheKey, e); err != nil {
			m.logger.Warn("media cache write failed", "key", key, "error", err)
		}
	}

	m.logger.Debug("mirrored media", "key", key, "url", publicURL, "size", len(data))
	return Result{URL: e.URL, Width: e.Width, Height: e.Height, Mirrored: true}
}

func (m *Mirror) fetch(ctx context.Context, rawURL string) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", ReasonFetchFailed, fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", ReasonFetchFailed, fmt.Errorf("downloading: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", ReasonHTTPStatus, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", ReasonReadFailed, fmt.Errorf("reading body: %w", err)
	}
	if n > m.maxBytes {
		return nil, "", ReasonReadFailed, fmt.Errorf("asset larger than %d bytes", m.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return buf.Bytes(), strings.TrimSpace(strings.ToLower(contentType)), "", nil
}

// IsSVG reports whether an asset is a vector image, by content type or by
// the extension of its URL path.
func IsSVG(contentType, rawURL string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "image/svg") {
		return true
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".svg")
}
