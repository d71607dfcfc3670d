package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/natikgadzhi/notion-mirror/internal/config"
)

// fileAt creates a regular file where tests need a directory to be.
func fileAt(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestCheckWritableDir(t *testing.T) {
	t.Run("existing", func(t *testing.T) {
		dir := t.TempDir()
		if err := checkWritableDir(dir); err != nil {
			t.Fatalf("checkWritableDir() error = %v", err)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("write-check file left behind: %v", entries)
		}
	})

	t.Run("nested directories are created", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "public", "media")
		if err := checkWritableDir(dir); err != nil {
			t.Fatalf("checkWritableDir() error = %v", err)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected %s to be created", dir)
		}
	})

	t.Run("path is a file", func(t *testing.T) {
		if err := checkWritableDir(fileAt(t)); err == nil {
			t.Error("expected error when the path is a file")
		}
	})

	t.Run("parent is a file", func(t *testing.T) {
		if err := checkWritableDir(filepath.Join(fileAt(t), "data")); err == nil {
			t.Error("expected error when a parent is a file")
		}
	})
}

func TestRootLabel(t *testing.T) {
	tests := map[string]struct {
		slug, url string
		want      string
	}{
		"slug wins":       {slug: "about", url: "https://www.notion.so/acme/About-fedcba98765432100123456789abcdef", want: "about"},
		"id from link":    {url: "https://www.notion.so/acme/About-FEDCBA98765432100123456789ABCDEF", want: "fedcba98765432100123456789abcdef"},
		"unparseable url": {url: "https://example.com/nothing", want: "https://example.com/nothing"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := rootLabel(config.Root{Slug: tt.slug, URL: tt.url})
			if got != tt.want {
				t.Errorf("rootLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	var rep report
	rep.pass("MIRROR_TRIGGER_TOKEN", "unset, serve will refuse to start")
	rep.check("root about", nil)
	if rep.failed() {
		t.Fatal("report failed without a failing check")
	}
	rep.check("posts database", errors.New("object_not_found"))
	if !rep.failed() {
		t.Fatal("report did not record the failure")
	}

	var buf bytes.Buffer
	rep.print(&buf)
	want := "ok    MIRROR_TRIGGER_TOKEN (unset, serve will refuse to start)\n" +
		"ok    root about\n" +
		"FAIL  posts database: object_not_found\n"
	if buf.String() != want {
		t.Errorf("print() =\n%s\nwant\n%s", buf.String(), want)
	}
}
