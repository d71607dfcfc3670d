// Package block holds the normalized block tree produced by the sync
// pipeline and persisted inside page bundles.
package block

import (
	"encoding/json"
	"fmt"

	"github.com/jomei/notionapi"
)

// Block types the pipeline treats specially. Every other Notion type is
// carried through untouched in Payload.
const (
	TypeImage         = "image"
	TypeColumnList    = "column_list"
	TypeColumn        = "column"
	TypeSyncedBlock   = "synced_block"
	TypeChildPage     = "child_page"
	TypeChildDatabase = "child_database"
	TypeLinkToPage    = "link_to_page"
	TypeUnsupported   = "unsupported"
	TypeButton        = "button"
)

// Button styles.
const (
	ButtonPrimary   = "primary"
	ButtonSecondary = "secondary"
)

// ImageMeta is layout and size metadata attached to image blocks.
type ImageMeta struct {
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	MaxWidthPx int    `json:"maxWidthPx,omitempty"`
	Align      string `json:"align,omitempty"`
}

// Button is the decoded form of a Notion button.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
	Style string `json:"style"`
}

// Block is a node of the mirrored document tree.
//
// Fields prefixed with "__" in JSON do not exist in the Notion API; they are
// synthesized during sync and must survive serialization.
type Block struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	HasChildren bool           `json:"has_children"`
	Payload     map[string]any `json:"payload,omitempty"`
	Children    []*Block       `json:"children,omitempty"`

	ColumnRatios []float64  `json:"__column_ratios,omitempty"`
	ImageMeta    *ImageMeta `json:"__image_meta,omitempty"`
	Button       *Button    `json:"__button,omitempty"`
	Synthetic    bool       `json:"__synthetic,omitempty"`
}

// FromNotion converts an API block into a Block. The type-specific object
// is kept as decoded JSON so no block type is lost.
func FromNotion(nb notionapi.Block) (*Block, error) {
	data, err := json.Marshal(nb)
	if err != nil {
		return nil, fmt.Errorf("encoding block %s: %w", nb.GetID(), err)
	}
	return FromJSON(data)
}

// FromJSON decodes a block in Notion wire format.
func FromJSON(data []byte) (*Block, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding block: %w", err)
	}

	b := &Block{}
	b.ID, _ = raw["id"].(string)
	b.Type, _ = raw["type"].(string)
	b.HasChildren, _ = raw["has_children"].(bool)
	if payload, ok := raw[b.Type].(map[string]any); ok {
		b.Payload = payload
	}
	if b.ID == "" || b.Type == "" {
		return nil, fmt.Errorf("block without id or type")
	}
	return b, nil
}

// NeedsExpansion reports whether the walker has to fetch children for b.
// Child pages and databases are synced as items of their own.
func (b *Block) NeedsExpansion() bool {
	if b.Type == TypeChildPage || b.Type == TypeChildDatabase {
		return false
	}
	if b.HasChildren {
		return true
	}
	_, indirect := b.SyncedSource()
	return indirect
}

// SyncedSource returns the id of the block that owns the content of a
// synced block. ok is false for origin synced blocks and other types.
func (b *Block) SyncedSource() (string, bool) {
	if b.Type != TypeSyncedBlock || b.Payload == nil {
		return "", false
	}
	from, ok := b.Payload["synced_from"].(map[string]any)
	if !ok {
		return "", false
	}
	id, _ := from["block_id"].(string)
	return id, id != ""
}

// IsSyncedOrigin reports whether b is a synced block that owns its content.
func (b *Block) IsSyncedOrigin() bool {
	if b.Type != TypeSyncedBlock {
		return false
	}
	if b.Payload == nil {
		return true
	}
	v, present := b.Payload["synced_from"]
	return !present || v == nil
}

// MediaURL returns the URL of a file-backed payload (image, file, video),
// or "" when the block has none.
func (b *Block) MediaURL() string {
	return fileURL(b.Payload)
}

// SetMediaURL rewrites the URL of a file-backed payload in place.
func (b *Block) SetMediaURL(url string) {
	if b.Payload == nil {
		return
	}
	kind, _ := b.Payload["type"].(string)
	obj, ok := b.Payload[kind].(map[string]any)
	if !ok {
		return
	}
	obj["url"] = url
	delete(obj, "expiry_time")
}

// Text returns the plain text of the block's rich text, if any.
func (b *Block) Text() string {
	if b.Payload == nil {
		return ""
	}
	return PlainText(b.Payload["rich_text"])
}

// Clone returns a deep copy of b and its children.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	out := *b
	out.Payload = cloneMap(b.Payload)
	if b.Children != nil {
		out.Children = make([]*Block, len(b.Children))
		for i, c := range b.Children {
			out.Children[i] = c.Clone()
		}
	}
	if b.ColumnRatios != nil {
		out.ColumnRatios = append([]float64(nil), b.ColumnRatios...)
	}
	if b.ImageMeta != nil {
		m := *b.ImageMeta
		out.ImageMeta = &m
	}
	if b.Button != nil {
		btn := *b.Button
		out.Button = &btn
	}
	return &out
}

// PlainText concatenates the plain_text of a decoded rich text array.
func PlainText(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	var s string
	for _, item := range items {
		rt, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := rt["plain_text"].(string); ok {
			s += text
		}
	}
	return s
}

func fileURL(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	kind, _ := payload["type"].(string)
	obj, ok := payload[kind].(map[string]any)
	if !ok {
		return ""
	}
	url, _ := obj["url"].(string)
	return url
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
