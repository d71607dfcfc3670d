package block

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jomei/notionapi"
)

func TestFromNotion(t *testing.T) {
	nb := &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object:      "block",
			ID:          "para-1",
			Type:        notionapi.BlockTypeParagraph,
			HasChildren: true,
		},
		Paragraph: notionapi.Paragraph{
			RichText: []notionapi.RichText{{PlainText: "Hello "}, {PlainText: "world"}},
		},
	}

	b, err := FromNotion(nb)
	if err != nil {
		t.Fatalf("FromNotion() error = %v", err)
	}
	if b.ID != "para-1" || b.Type != "paragraph" || !b.HasChildren {
		t.Errorf("unexpected block header: %+v", b)
	}
	if got := b.Text(); got != "Hello world" {
		t.Errorf("Text() = %q, want %q", got, "Hello world")
	}
}

func TestFromJSON_MissingType(t *testing.T) {
	if _, err := FromJSON([]byte(`{"id":"x"}`)); err == nil {
		t.Error("expected error for block without type")
	}
}

func TestSyncedSource(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantID     string
		wantOK     bool
		wantOrigin bool
	}{
		{
			name:       "origin with null synced_from",
			json:       `{"id":"a","type":"synced_block","synced_block":{"synced_from":null}}`,
			wantOrigin: true,
		},
		{
			name:   "reference",
			json:   `{"id":"b","type":"synced_block","synced_block":{"synced_from":{"type":"block_id","block_id":"src-1"}}}`,
			wantID: "src-1",
			wantOK: true,
		},
		{
			name: "not a synced block",
			json: `{"id":"c","type":"paragraph","paragraph":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := FromJSON([]byte(tt.json))
			if err != nil {
				t.Fatalf("FromJSON() error = %v", err)
			}
			id, ok := b.SyncedSource()
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("SyncedSource() = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
			if got := b.IsSyncedOrigin(); got != tt.wantOrigin {
				t.Errorf("IsSyncedOrigin() = %v, want %v", got, tt.wantOrigin)
			}
			if ok && !b.NeedsExpansion() {
				t.Error("reference synced block should need expansion")
			}
		})
	}
}

func TestMediaURL(t *testing.T) {
	b, err := FromJSON([]byte(`{"id":"img","type":"image","image":{"type":"file","file":{"url":"https://s3/x.png","expiry_time":"2025-01-01T00:00:00Z"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := b.MediaURL(); got != "https://s3/x.png" {
		t.Errorf("MediaURL() = %q", got)
	}

	b.SetMediaURL("/media/img.png")
	if got := b.MediaURL(); got != "/media/img.png" {
		t.Errorf("MediaURL() after rewrite = %q", got)
	}
	file := b.Payload["file"].(map[string]any)
	if _, ok := file["expiry_time"]; ok {
		t.Error("expiry_time should be dropped after rewrite")
	}
}

func TestSynthesizedFieldsSurviveJSON(t *testing.T) {
	b := &Block{
		ID:           "cols",
		Type:         TypeColumnList,
		ColumnRatios: []float64{0.5, 0.5},
		Children: []*Block{
			{ID: "btn", Type: TypeButton, Synthetic: true, Button: &Button{Label: "Go", Style: ButtonPrimary}},
		},
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"__column_ratios"`, `"__button"`, `"__synthetic"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("serialized block missing %s: %s", key, data)
		}
	}

	var back Block
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.ColumnRatios) != 2 || back.Children[0].Button.Label != "Go" {
		t.Errorf("round trip lost synthesized fields: %+v", back)
	}
}

func TestIDs(t *testing.T) {
	dashed := "1e567c00-f3f9-805d-afe3-e53f460e93e3"
	raw := "1E567C00F3F9805DAFE3E53F460E93E3"

	if !SameID(dashed, raw) {
		t.Error("SameID should ignore dashes and case")
	}
	if got := DashedID(raw); got != dashed {
		t.Errorf("DashedID() = %q, want %q", got, dashed)
	}
	if got := DashedID("not-an-id"); got != "not-an-id" {
		t.Errorf("DashedID() should pass through non-UUIDs, got %q", got)
	}
}

func TestFindAndClone(t *testing.T) {
	tree := []*Block{
		{ID: "a-1", Type: "toggle", Children: []*Block{{ID: "b-2", Type: "paragraph"}}},
	}

	if got := Find(tree, "b2"); got == nil || got.ID != "b-2" {
		t.Fatalf("Find() = %+v", got)
	}

	clone := tree[0].Clone()
	clone.Children[0].ID = "changed"
	if tree[0].Children[0].ID != "b-2" {
		t.Error("Clone() shares children with the original")
	}

	counts := CountTypes(tree, "paragraph")
	if counts["paragraph"] != 1 || len(counts) != 1 {
		t.Errorf("CountTypes() = %v", counts)
	}
}
