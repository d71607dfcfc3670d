package notion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jomei/notionapi"
)

func testClient() *Client {
	return &Client{
		limiter: NewRateLimiter(1000, 100),
		backoff: 20 * time.Millisecond,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_Call_RetriesOnceOnRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "success first try",
			failures:  0,
			wantCalls: 1,
		},
		{
			name:      "one 429 then success",
			failures:  1,
			err:       &notionapi.Error{Status: 429, Code: "rate_limited"},
			wantCalls: 2,
		},
		{
			name:      "two 429s surface the error",
			failures:  2,
			err:       &notionapi.Error{Status: 429, Code: "rate_limited"},
			wantCalls: 2,
			wantErr:   true,
		},
		{
			name:      "404 is not retried",
			failures:  1,
			err:       &notionapi.Error{Status: 404, Code: "object_not_found"},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient()
			calls := 0
			start := time.Now()
			err := c.call(context.Background(), "test", func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantCalls == 2 && time.Since(start) < c.backoff {
				t.Errorf("retry happened before backoff elapsed")
			}
		})
	}
}

func TestErrorClassifiers(t *testing.T) {
	notFound := fmt.Errorf("fetching page: %w", &notionapi.Error{Status: 404, Code: "object_not_found"})
	forbidden := &notionapi.Error{Status: 403, Code: "restricted_resource"}
	limited := &notionapi.Error{Status: 429, Code: "rate_limited"}
	noData := &notionapi.Error{Status: 400, Code: "validation_error", Message: "Database has no accessible data source"}
	plain := errors.New("network down")

	tests := []struct {
		name      string
		err       error
		notFound  bool
		forbidden bool
		limited   bool
		noAccess  bool
	}{
		{"wrapped not found", notFound, true, false, false, true},
		{"forbidden", forbidden, false, true, false, false},
		{"rate limited", limited, false, false, true, false},
		{"no data source", noData, false, false, false, true},
		{"non API error", plain, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsForbidden(tt.err); got != tt.forbidden {
				t.Errorf("IsForbidden = %v, want %v", got, tt.forbidden)
			}
			if got := IsRateLimited(tt.err); got != tt.limited {
				t.Errorf("IsRateLimited = %v, want %v", got, tt.limited)
			}
			if got := IsNoAccess(tt.err); got != tt.noAccess {
				t.Errorf("IsNoAccess = %v, want %v", got, tt.noAccess)
			}
		})
	}
}

func TestIsNotFoundOrWrongTypeError(t *testing.T) {
	if !isNotFoundOrWrongTypeError(&notionapi.Error{Status: 400, Code: "validation_error"}) {
		t.Error("validation_error should count as wrong type")
	}
	if isNotFoundOrWrongTypeError(&notionapi.Error{Status: 500, Code: "internal_server_error"}) {
		t.Error("500 should not count as not found")
	}
}

func TestPageMeta(t *testing.T) {
	emoji := notionapi.Emoji("🚀")
	page := &notionapi.Page{
		ID: "1e567c00-f3f9-805d-afe3-e53f460e93e3",
		Properties: notionapi.Properties{
			"Name": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: "Launch "}, {PlainText: "Plan"}},
			},
			"Published": &notionapi.CheckboxProperty{Checkbox: false},
			"Slug": &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: "launch-plan"}},
			},
		},
		Icon: &notionapi.Icon{Type: "emoji", Emoji: &emoji},
	}

	meta := PageMeta(page)

	if meta.ID != "1e567c00f3f9805dafe3e53f460e93e3" {
		t.Errorf("ID = %q", meta.ID)
	}
	if meta.Title != "Launch Plan" {
		t.Errorf("Title = %q", meta.Title)
	}
	if meta.Public {
		t.Error("Public should follow the Published checkbox")
	}
	if meta.Slug != "launch-plan" {
		t.Errorf("Slug = %q", meta.Slug)
	}
	if meta.Icon != "🚀" {
		t.Errorf("Icon = %q", meta.Icon)
	}
}

func TestPageMeta_DefaultsToPublic(t *testing.T) {
	meta := PageMeta(&notionapi.Page{ID: "abc"})
	if !meta.Public {
		t.Error("pages without a visibility property should be public")
	}
}

func TestPropertyValue(t *testing.T) {
	tests := []struct {
		name string
		prop notionapi.Property
		want any
	}{
		{"nil", nil, nil},
		{"empty title", &notionapi.TitleProperty{}, nil},
		{"url", &notionapi.URLProperty{URL: "https://example.com"}, "https://example.com"},
		{"checkbox", &notionapi.CheckboxProperty{Checkbox: true}, true},
		{"number", &notionapi.NumberProperty{Number: 4.5}, 4.5},
		{"select", &notionapi.SelectProperty{Select: notionapi.Option{Name: "Draft"}}, "Draft"},
		{"empty select", &notionapi.SelectProperty{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PropertyValue(tt.prop); got != tt.want {
				t.Errorf("PropertyValue() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestPropertyValue_MultiSelect(t *testing.T) {
	got := PropertyValue(&notionapi.MultiSelectProperty{
		MultiSelect: []notionapi.Option{{Name: "go"}, {Name: "notion"}},
	})
	tags, ok := got.([]string)
	if !ok || len(tags) != 2 || tags[0] != "go" || tags[1] != "notion" {
		t.Errorf("PropertyValue() = %#v", got)
	}
}

func TestFileURL(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"external", map[string]any{"type": "external", "external": map[string]any{"url": "https://x/a.png"}}, "https://x/a.png"},
		{"hosted", map[string]any{"type": "file", "file": map[string]any{"url": "https://s3/b.png", "expiry_time": "2026-01-01"}}, "https://s3/b.png"},
		{"empty", map[string]any{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fileURL(tt.in); got != tt.want {
				t.Errorf("fileURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
