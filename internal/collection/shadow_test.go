package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natikgadzhi/notion-mirror/internal/notion"
)

func TestFromShadow(t *testing.T) {
	dead := false
	bundle := notion.NewShadowBundle()
	viewBlock := &notion.ShadowBlock{
		ID:           "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		Type:         "collection_view",
		CollectionID: "cccccccc-cccc-cccc-cccc-cccccccccccc",
		ViewIDs:      []string{"vvvvvvvv"},
	}
	bundle.Blocks["aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"] = viewBlock
	bundle.Collections["cccccccccccccccccccccccccccccccc"] = &notion.ShadowCollection{
		ID:   "cccccccc-cccc-cccc-cccc-cccccccccccc",
		Name: []any{[]any{"Clients"}},
		Schema: map[string]notion.ShadowProperty{
			"title": {Name: "Name", Type: "title"},
			"slg":   {Name: "Slug", Type: "text"},
			"tgs":   {Name: "Tags", Type: "multi_select"},
			"pub":   {Name: "Live", Type: "checkbox"},
		},
	}
	bundle.Views["vvvvvvvv"] = &notion.ShadowView{ID: "vvvvvvvv", Type: "gallery", PageSort: []string{"row2", "row1", "row3"}}
	bundle.Blocks["row1"] = &notion.ShadowBlock{
		ID:   "row1",
		Type: "page",
		Properties: map[string]any{
			"title": []any{[]any{"Acme Corp"}},
			"slg":   []any{[]any{"acme"}},
			"tgs":   []any{[]any{"retail, b2b"}},
			"pub":   []any{[]any{"Yes"}},
		},
		Format: map[string]any{"page_cover": "/images/page-cover/gradients_3.png"},
	}
	bundle.Blocks["row2"] = &notion.ShadowBlock{
		ID:         "row2",
		Type:       "page",
		Properties: map[string]any{"title": []any{[]any{"Globex"}}},
	}
	bundle.Blocks["row3"] = &notion.ShadowBlock{ID: "row3", Type: "page", Alive: &dead}

	b := FromShadow(bundle, viewBlock, "vvvvvvvv")
	require.NotNil(t, b)

	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", b.DatabaseID)
	assert.Equal(t, "Clients", b.Name)
	assert.Equal(t, ViewGallery, b.ViewMode, "the view's own type wins")
	require.Len(t, b.Items, 2, "deleted rows are dropped")

	assert.Equal(t, "Globex", b.Items[0].Title, "row order follows the view")
	assert.Equal(t, "globex", b.Items[0].Slug)

	acme := b.Items[1]
	assert.Equal(t, "acme", acme.Slug)
	assert.True(t, acme.ExplicitSlug)
	assert.Equal(t, []string{"retail", "b2b"}, acme.Tags)
	assert.Equal(t, "https://www.notion.so/images/page-cover/gradients_3.png", acme.Cover)
	assert.Equal(t, true, acme.Cells["pub"].Value)
}

func TestFromShadow_UnknownCollection(t *testing.T) {
	bundle := notion.NewShadowBundle()
	assert.Nil(t, FromShadow(bundle, &notion.ShadowBlock{ID: "x", CollectionID: "missing"}, "v"))
}

func TestShadowLinks(t *testing.T) {
	raw := []any{
		[]any{"brief.pdf", []any{[]any{"a", "https://files/brief.pdf"}}},
		[]any{","},
		[]any{"logo.png", []any{[]any{"a", "/image/logo.png"}}},
	}
	assert.Equal(t, []string{"https://files/brief.pdf", "https://www.notion.so/image/logo.png"}, shadowLinks(raw))
}
