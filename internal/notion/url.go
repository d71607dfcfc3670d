// Package notion wraps the Notion API client with rate limiting, retries,
// the record-map reader used for layout hints, and URL parsing.
package notion

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/natikgadzhi/notion-mirror/internal/block"
)

// ParsedURL is a Notion page or database reference.
type ParsedURL struct {
	// ID is the dashed UUID form.
	ID string
	// RawID is the 32 lowercase hex digits.
	RawID string
	// ViewID is the ?v= parameter of a database link, if any.
	ViewID string
}

// ParseURL accepts a share link (notion.so or a notion.site domain, with or
// without a title prefix) or a bare id, dashed or not.
func ParseURL(ref string) (*ParsedURL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("empty Notion reference")
	}

	if !strings.Contains(ref, "/") {
		if raw := idFromSegment(ref); raw != "" {
			return newParsedURL(raw, ""), nil
		}
		return nil, fmt.Errorf("not a Notion id: %q", ref)
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if raw := idFromSegment(segments[i]); raw != "" {
			return newParsedURL(raw, u.Query().Get("v")), nil
		}
	}
	return nil, fmt.Errorf("no Notion id in URL %q", ref)
}

func newParsedURL(raw, view string) *ParsedURL {
	p := &ParsedURL{ID: block.DashedID(raw), RawID: raw}
	if view != "" {
		p.ViewID = block.NormalizeID(view)
	}
	return p
}

// idFromSegment returns the hex id a path segment ends with. Title slugs
// put the id after the last dash, either plain or dashed.
func idFromSegment(seg string) string {
	for _, n := range []int{36, 32} {
		if len(seg) < n {
			continue
		}
		tail := seg[len(seg)-n:]
		if n == 32 && strings.Contains(tail, "-") {
			continue
		}
		if len(seg) > n && seg[len(seg)-n-1] != '-' {
			continue
		}
		if id, err := uuid.Parse(tail); err == nil {
			return strings.ReplaceAll(id.String(), "-", "")
		}
	}
	return ""
}
