package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/natikgadzhi/notion-mirror/internal/config"
	"github.com/natikgadzhi/notion-mirror/internal/media"
	"github.com/natikgadzhi/notion-mirror/internal/store"
	mirrorsync "github.com/natikgadzhi/notion-mirror/internal/sync"
)

func TestRootTargets(t *testing.T) {
	targets, err := rootTargets([]config.Root{
		{Slug: "about", URL: "https://www.notion.so/workspace/About-abc123def456abc123def456abc123de"},
		{Slug: "programme", URL: "fedcba98765432100123456789abcdef", Title: "Le programme"},
	})
	if err != nil {
		t.Fatalf("rootTargets() error = %v", err)
	}

	want := []mirrorsync.Target{
		{Slug: "about", ID: "abc123de-f456-abc1-23de-f456abc123de"},
		{Slug: "programme", ID: "fedcba98-7654-3210-0123-456789abcdef", Title: "Le programme"},
	}
	if len(targets) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(targets))
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Errorf("target %d = %+v, want %+v", i, targets[i], want[i])
		}
	}
}

func TestRootTargets_InvalidURL(t *testing.T) {
	if _, err := rootTargets([]config.Root{{Slug: "about", URL: "https://example.com/nothing"}}); err == nil {
		t.Fatal("expected error for URL without a Notion id")
	}
}

func TestNewInvalidator(t *testing.T) {
	cfg := &config.Config{}
	if _, ok := newInvalidator(cfg, false, nil).(*store.LogInvalidator); !ok {
		t.Error("expected log invalidator without webhook")
	}

	cfg.Invalidation.WebhookURL = "https://site.example.com/api/revalidate"
	if _, ok := newInvalidator(cfg, false, nil).(*store.WebhookInvalidator); !ok {
		t.Error("expected webhook invalidator when configured")
	}
	if _, ok := newInvalidator(cfg, true, nil).(*store.LogInvalidator); !ok {
		t.Error("expected log invalidator in dry-run mode")
	}
}

func TestNewUploader(t *testing.T) {
	cfg := &config.Config{Media: config.MediaConfig{Provider: config.ProviderDir, Dir: t.TempDir(), BaseURL: "/media"}}
	up, err := newUploader(cfg, false, nil)
	if err != nil {
		t.Fatalf("newUploader() error = %v", err)
	}
	if _, ok := up.(*media.DirUploader); !ok {
		t.Errorf("expected dir uploader, got %T", up)
	}

	cfg.Media = config.MediaConfig{Provider: config.ProviderCloudinary, Folder: "site"}
	cfg.CloudinaryCloudName = "demo"
	cfg.CloudinaryAPIKey = "key"
	cfg.CloudinaryAPISecret = "secret"
	up, err = newUploader(cfg, false, nil)
	if err != nil {
		t.Fatalf("newUploader() error = %v", err)
	}
	if _, ok := up.(*media.CloudinaryUploader); !ok {
		t.Errorf("expected cloudinary uploader, got %T", up)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	sum := &mirrorsync.Summary{RunID: "run-1", Processed: 2, Synced: 1, Skipped: 1}
	if err := writeSummary(&buf, sum); err != nil {
		t.Fatalf("writeSummary() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, buf.String())
	}
	if got["runId"] != "run-1" || got["synced"] != float64(1) || got["skipped"] != float64(1) {
		t.Errorf("unexpected summary %v", got)
	}
}
