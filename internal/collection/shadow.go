package collection

import (
	"strconv"
	"strings"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
)

const notionOrigin = "https://www.notion.so"

// FromShadow builds the bundle of one view of an inline database straight
// from the record map. Inline databases cannot be paged through the API,
// so rows come from the view's materialized row list.
func FromShadow(bundle *notion.ShadowBundle, viewBlock *notion.ShadowBlock, viewID string) *Bundle {
	coll := bundle.Collection(viewBlock.CollectionID)
	if coll == nil {
		return nil
	}
	schema := SchemaFromShadow(coll.Schema)

	out := &Bundle{
		DatabaseID: block.NormalizeID(viewBlock.ID),
		ViewID:     block.NormalizeID(viewID),
		Name:       coll.Title(),
	}

	for _, rowID := range bundle.RowIDs(viewBlock.CollectionID, viewID) {
		row := bundle.Block(rowID)
		if row == nil || (row.Alive != nil && !*row.Alive) {
			continue
		}
		out.Items = append(out.Items, itemFromShadow(row, schema))
	}

	var explicit ViewMode
	if view := bundle.View(viewID); view != nil {
		explicit = ParseViewMode(view.Type)
	}
	out.ViewMode = inferViewMode(out.Items, explicit)
	return out
}

func itemFromShadow(row *notion.ShadowBlock, schema Schema) Item {
	item := Item{
		ID:     block.NormalizeID(row.ID),
		Public: true,
		Cells:  make(map[string]Cell),
	}

	values := make(map[string]any)
	for _, p := range schema.Properties {
		v := shadowValue(row.Properties[p.ID], p.Type)
		values[p.Name] = v
		item.Cells[p.ID] = Cell{Name: p.Name, Type: p.Type, Value: v}
	}

	item.Title = firstString(values[schema.Title])
	if item.Title == "" {
		item.Title = notion.DecodeShadowText(row.Properties["title"])
	}
	if cover, _ := row.Format["page_cover"].(string); cover != "" {
		item.Cover = absoluteURL(cover)
	}
	item.fillRoles(values, schema)
	return item
}

// shadowValue decodes a record-map property value into the same shapes
// notion.PropertyValue returns.
func shadowValue(raw any, typ string) any {
	if raw == nil {
		return nil
	}
	text := notion.DecodeShadowText(raw)

	switch typ {
	case "checkbox":
		return text == "Yes"
	case "number":
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return f
		}
		return nil
	case "multi_select":
		var values []string
		for _, part := range strings.Split(text, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		if len(values) == 0 {
			return nil
		}
		return values
	case "files":
		links := shadowLinks(raw)
		if len(links) == 0 {
			return nil
		}
		return links
	}

	if text == "" {
		return nil
	}
	return text
}

// shadowLinks collects the targets of ["a", url] annotations.
func shadowLinks(raw any) []string {
	segments, _ := raw.([]any)
	var links []string
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) < 2 {
			continue
		}
		anns, _ := parts[1].([]any)
		for _, a := range anns {
			pair, ok := a.([]any)
			if !ok || len(pair) < 2 || pair[0] != "a" {
				continue
			}
			if u, ok := pair[1].(string); ok && u != "" {
				links = append(links, absoluteURL(u))
			}
		}
	}
	return links
}

func absoluteURL(u string) string {
	if strings.HasPrefix(u, "/") {
		return notionOrigin + u
	}
	return u
}
