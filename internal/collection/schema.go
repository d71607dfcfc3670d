package collection

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/natikgadzhi/notion-mirror/internal/notion"
)

// Property is one column of a database schema.
type Property struct {
	ID   string
	Name string
	Type string // API property type: title, rich_text, url, select, ...
}

// Schema is a database schema with properties mapped to semantic roles.
// Role fields hold property names; empty means no property plays the role.
type Schema struct {
	Properties []Property // sorted by name

	Title   string
	Slug    string
	Excerpt string
	Tags    string
	Updated string
	Cover   string
}

var (
	slugNames    = []string{"slug", "url", "permalink"}
	excerptNames = []string{"excerpt", "summary", "description"}
	tagNames     = []string{"tags", "topics", "category", "categories"}
	coverNames   = []string{"cover", "image", "thumbnail"}
)

// SchemaFromDatabase reads the property schema of an API database.
func SchemaFromDatabase(db *notionapi.Database) Schema {
	var props []Property
	for name, cfg := range db.Properties {
		props = append(props, Property{
			ID:   objectID(cfg),
			Name: name,
			Type: string(cfg.GetType()),
		})
	}
	return inferRoles(props)
}

// shadowTypes maps record-map schema types onto API property types.
var shadowTypes = map[string]string{
	"text": "rich_text",
	"file": "files",
}

// SchemaFromShadow reads a record-map collection schema, keyed by property id.
func SchemaFromShadow(schema map[string]notion.ShadowProperty) Schema {
	var props []Property
	for id, def := range schema {
		typ := def.Type
		if mapped, ok := shadowTypes[typ]; ok {
			typ = mapped
		}
		props = append(props, Property{ID: id, Name: def.Name, Type: typ})
	}
	return inferRoles(props)
}

// inferRoles assigns roles by property name first and by type second.
func inferRoles(props []Property) Schema {
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	s := Schema{Properties: props}

	for _, p := range props {
		if p.Type == "title" {
			s.Title = p.Name
			break
		}
	}

	s.Slug = byName(props, slugNames, "rich_text", "url")
	s.Excerpt = byName(props, excerptNames, "rich_text")
	s.Tags = byName(props, tagNames, "multi_select", "select")
	s.Cover = byName(props, coverNames, "files")

	if s.Slug == "" {
		s.Slug = byType(props, s.Excerpt, "url")
	}
	if s.Slug == "" {
		s.Slug = byType(props, s.Excerpt, "rich_text")
	}
	if s.Excerpt == "" {
		s.Excerpt = byType(props, s.Slug, "rich_text")
	}
	if s.Tags == "" {
		s.Tags = byType(props, "", "multi_select")
	}
	if s.Tags == "" {
		s.Tags = byType(props, "", "select")
	}

	for _, p := range props {
		if p.Type == "last_edited_time" || strings.Contains(strings.ToLower(p.Name), "updated") {
			s.Updated = p.Name
			break
		}
	}

	return s
}

// byName finds a property whose lowercased name is one of names and whose
// type is one of types.
func byName(props []Property, names []string, types ...string) string {
	for _, want := range names {
		for _, p := range props {
			if strings.EqualFold(p.Name, want) && hasType(p, types) {
				return p.Name
			}
		}
	}
	return ""
}

// byType finds the first property of type typ other than skip.
func byType(props []Property, skip string, typ string) string {
	for _, p := range props {
		if p.Type == typ && p.Name != skip {
			return p.Name
		}
	}
	return ""
}

func hasType(p Property, types []string) bool {
	for _, t := range types {
		if p.Type == t {
			return true
		}
	}
	return false
}

// objectID reads the "id" field of any API object.
func objectID(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return obj.ID
}
