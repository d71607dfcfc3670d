package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DirUploader writes assets into a local directory served under a public
// base URL.
type DirUploader struct {
	dir     string
	baseURL string
	dryRun  bool
	logger  *slog.Logger
}

// NewDirUploader creates an uploader rooted at dir. Files under dir are
// expected to be served at baseURL.
func NewDirUploader(dir, baseURL string, dryRun bool, logger *slog.Logger) *DirUploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirUploader{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dryRun:  dryRun,
		logger:  logger,
	}
}

// Upload writes data under a name derived from key and a content hash, so
// a changed source never overwrites the file a cached URL points to.
func (u *DirUploader) Upload(_ context.Context, key string, data []byte, contentType string, opts UploadOptions) (string, error) {
	rel, err := u.filename(key, data, contentType, opts)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(u.dir, filepath.FromSlash(rel))
	publicURL := u.baseURL + "/" + rel

	if u.dryRun {
		u.logger.Info("would write media", "path", fullPath, "size", len(data))
		return publicURL, nil
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing file %s: %w", fullPath, err)
	}

	u.logger.Debug("wrote media", "path", fullPath, "size", len(data))
	return publicURL, nil
}

func (u *DirUploader) filename(key string, data []byte, contentType string, opts UploadOptions) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid media key %q", key)
	}

	hash := sha256.Sum256(data)
	return sanitizeName(clean) + "-" + hex.EncodeToString(hash[:4]) + extension(contentType, opts), nil
}

// extension picks a file extension for the stored asset.
func extension(contentType string, opts UploadOptions) string {
	if opts.Format != "" {
		return "." + opts.Format
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// sanitizeName replaces characters that are problematic in file names.
// Slashes are kept and become directories.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"\n", "_",
		"\r", "",
		" ", "_",
	)
	return replacer.Replace(name)
}
