// Package hints recovers layout metadata the public API drops (column
// widths, image sizing, buttons, inline databases) from the record map of
// a page and merges it onto the primary block tree.
package hints

import (
	"sort"
	"strings"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/collection"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
)

// ColumnHint is the declared width of one column.
type ColumnHint struct {
	Ratio   float64 // 0 when not declared
	WidthPx float64 // 0 when not declared
}

// ImageHint is the declared display size of one image.
type ImageHint struct {
	MaxWidthPx int
	Align      string
}

// ButtonHint describes a button found only in the record map.
type ButtonHint struct {
	ID       string
	ParentID string
	Label    string
	URL      string
	Style    string
}

// EmbeddedCollection is an inline database view built from the record map.
type EmbeddedCollection struct {
	DatabaseID string
	ViewID     string
	Bundle     *collection.Bundle
}

// Hints is everything extracted from one record map. Maps are keyed by
// normalized block id.
type Hints struct {
	Columns     map[string]ColumnHint
	Images      map[string]ImageHint
	Buttons     []ButtonHint
	Collections []EmbeddedCollection
	FullWidth   bool
}

// Extract reads the hints of the page rootID. It is pure; a nil bundle
// yields empty hints.
func Extract(bundle *notion.ShadowBundle, rootID string) Hints {
	h := Hints{
		Columns: make(map[string]ColumnHint),
		Images:  make(map[string]ImageHint),
	}
	if bundle == nil {
		return h
	}

	if root := bundle.Block(rootID); root != nil {
		h.FullWidth, _ = root.Format["page_full_width"].(bool)
	}

	seenButtons := make(map[string]bool)
	for _, sb := range reachable(bundle, rootID) {
		switch sb.Type {
		case "column":
			if hint, ok := columnHint(sb); ok {
				h.Columns[block.NormalizeID(sb.ID)] = hint
			}
		case "image":
			if hint, ok := imageHint(sb); ok {
				h.Images[block.NormalizeID(sb.ID)] = hint
			}
		case "button":
			h.Buttons = append(h.Buttons, buttonHint(sb))
			seenButtons[block.NormalizeID(sb.ID)] = true
		case "collection_view", "collection_view_page":
			h.Collections = append(h.Collections, embedded(bundle, sb)...)
		}
	}

	// Buttons can sit in structures the content walk above never reaches.
	for _, key := range sortedKeys(bundle.Blocks) {
		sb := bundle.Blocks[key]
		if sb.Type != "button" || seenButtons[key] || !alive(sb) {
			continue
		}
		h.Buttons = append(h.Buttons, buttonHint(sb))
		seenButtons[key] = true
	}

	return h
}

// reachable lists live blocks under rootID in document order. When the
// root is not in the bundle every live block is returned, sorted by id.
func reachable(bundle *notion.ShadowBundle, rootID string) []*notion.ShadowBlock {
	root := bundle.Block(rootID)
	if root == nil {
		var all []*notion.ShadowBlock
		for _, key := range sortedKeys(bundle.Blocks) {
			if sb := bundle.Blocks[key]; alive(sb) {
				all = append(all, sb)
			}
		}
		return all
	}

	var out []*notion.ShadowBlock
	visited := map[string]bool{block.NormalizeID(root.ID): true}
	var visit func(ids []string)
	visit = func(ids []string) {
		for _, id := range ids {
			key := block.NormalizeID(id)
			sb := bundle.Blocks[key]
			if sb == nil || visited[key] || !alive(sb) {
				continue
			}
			visited[key] = true
			out = append(out, sb)
			// Rows of inline databases are pages of their own.
			if sb.Type != "page" {
				visit(sb.Content)
			}
		}
	}
	visit(root.Content)
	return out
}

func columnHint(sb *notion.ShadowBlock) (ColumnHint, bool) {
	var h ColumnHint
	if r, ok := number(sb.Format["column_ratio"]); ok && r > 0 {
		h.Ratio = r
	}
	if w, ok := number(sb.Format["block_width"]); ok && w > 0 {
		h.WidthPx = w
	}
	return h, h.Ratio > 0 || h.WidthPx > 0
}

func imageHint(sb *notion.ShadowBlock) (ImageHint, bool) {
	var h ImageHint
	if w, ok := number(sb.Format["block_width"]); ok && w > 0 {
		h.MaxWidthPx = int(w)
	}
	if a, ok := sb.Format["block_alignment"].(string); ok {
		h.Align = a
	}
	return h, h.MaxWidthPx > 0 || h.Align != ""
}

func buttonHint(sb *notion.ShadowBlock) ButtonHint {
	h := ButtonHint{
		ID:       sb.ID,
		ParentID: sb.ParentID,
		Label:    notion.DecodeShadowText(sb.Properties["title"]),
	}
	for _, key := range []string{"button_url", "link"} {
		if u, ok := sb.Format[key].(string); ok && u != "" {
			h.URL = u
			break
		}
	}
	if h.URL == "" {
		h.URL = notion.DecodeShadowText(sb.Properties["link"])
	}
	style, _ := sb.Format["button_style"].(string)
	h.Style = ButtonStyle(style)
	return h
}

// ButtonStyle maps a Notion button style keyword onto a block style.
func ButtonStyle(keyword string) string {
	k := strings.ToLower(keyword)
	for _, secondary := range []string{"ghost", "secondary", "outline"} {
		if strings.Contains(k, secondary) {
			return block.ButtonSecondary
		}
	}
	return block.ButtonPrimary
}

func embedded(bundle *notion.ShadowBundle, sb *notion.ShadowBlock) []EmbeddedCollection {
	if sb.CollectionID == "" {
		return nil
	}
	var out []EmbeddedCollection
	for _, viewID := range sb.ViewIDs {
		b := collection.FromShadow(bundle, sb, viewID)
		if b == nil {
			continue
		}
		out = append(out, EmbeddedCollection{
			DatabaseID: b.DatabaseID,
			ViewID:     b.ViewID,
			Bundle:     b,
		})
	}
	return out
}

func alive(sb *notion.ShadowBlock) bool {
	return sb != nil && (sb.Alive == nil || *sb.Alive)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
