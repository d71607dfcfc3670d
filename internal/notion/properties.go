package notion

import (
	"encoding/json"
	"strings"

	"github.com/jomei/notionapi"
)

// PropertyValue flattens a page property into a plain Go value: string,
// float64, bool, []string or []any. Empty values come back as nil.
func PropertyValue(prop notionapi.Property) any {
	if prop == nil {
		return nil
	}

	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return nilIfEmpty(PlainText(p.Title))

	case *notionapi.RichTextProperty:
		return nilIfEmpty(PlainText(p.RichText))

	case *notionapi.NumberProperty:
		return p.Number

	case *notionapi.SelectProperty:
		return nilIfEmpty(p.Select.Name)

	case *notionapi.StatusProperty:
		return nilIfEmpty(p.Status.Name)

	case *notionapi.MultiSelectProperty:
		return collect(p.MultiSelect, func(o notionapi.Option) string { return o.Name })

	case *notionapi.DateProperty:
		if p.Date == nil || p.Date.Start == nil {
			return nil
		}
		start := p.Date.Start.String()
		if p.Date.End != nil {
			return start + "/" + p.Date.End.String()
		}
		return start

	case *notionapi.CheckboxProperty:
		return p.Checkbox

	case *notionapi.URLProperty:
		return nilIfEmpty(p.URL)

	case *notionapi.EmailProperty:
		return nilIfEmpty(p.Email)

	case *notionapi.PhoneNumberProperty:
		return nilIfEmpty(p.PhoneNumber)

	case *notionapi.RelationProperty:
		return collect(p.Relation, func(r notionapi.Relation) string { return string(r.ID) })

	case *notionapi.FormulaProperty:
		return formulaValue(p.Formula)

	case *notionapi.RollupProperty:
		return rollupValue(p.Rollup)

	case *notionapi.PeopleProperty:
		return collect(p.People, func(u notionapi.User) string { return u.Name })

	case *notionapi.FilesProperty:
		return collect(p.Files, func(f notionapi.File) string { return fileURL(f) })

	case *notionapi.CreatedTimeProperty:
		return p.CreatedTime.String()

	case *notionapi.LastEditedTimeProperty:
		return p.LastEditedTime.String()

	case *notionapi.CreatedByProperty:
		return nilIfEmpty(p.CreatedBy.Name)

	case *notionapi.LastEditedByProperty:
		return nilIfEmpty(p.LastEditedBy.Name)
	}
	return nil
}

func formulaValue(formula notionapi.Formula) any {
	switch formula.Type {
	case notionapi.FormulaTypeString:
		return nilIfEmpty(formula.String)
	case notionapi.FormulaTypeNumber:
		return formula.Number
	case notionapi.FormulaTypeBoolean:
		return formula.Boolean
	case notionapi.FormulaTypeDate:
		if formula.Date != nil && formula.Date.Start != nil {
			return formula.Date.Start.String()
		}
	}
	return nil
}

func rollupValue(rollup notionapi.Rollup) any {
	switch rollup.Type {
	case notionapi.RollupTypeNumber:
		return rollup.Number
	case notionapi.RollupTypeDate:
		if rollup.Date != nil && rollup.Date.Start != nil {
			return rollup.Date.Start.String()
		}
	case notionapi.RollupTypeArray:
		var values []any
		for _, item := range rollup.Array {
			if v := PropertyValue(item); v != nil {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			return values
		}
	}
	return nil
}

// collect maps xs to their non-empty strings, or nil when none are left.
func collect[T any](xs []T, str func(T) string) any {
	var out []string
	for _, x := range xs {
		if s := str(x); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PlainText concatenates the plain text of a rich text array.
func PlainText(richText []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range richText {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// ExtractPageTitle extracts the title from a page's properties.
func ExtractPageTitle(page *notionapi.Page) string {
	if page == nil || page.Properties == nil {
		return ""
	}
	for _, prop := range page.Properties {
		if titleProp, ok := prop.(*notionapi.TitleProperty); ok {
			return PlainText(titleProp.Title)
		}
	}
	return ""
}

// PropertyString returns the first non-empty text value among the named
// properties, matched case-insensitively.
func PropertyString(props notionapi.Properties, names ...string) string {
	for _, name := range names {
		for key, prop := range props {
			if !strings.EqualFold(key, name) {
				continue
			}
			switch v := PropertyValue(prop).(type) {
			case string:
				if v != "" {
					return v
				}
			case []string:
				if len(v) > 0 {
					return v[0]
				}
			}
		}
	}
	return ""
}

// PropertyBool returns the value of the first named checkbox property that
// exists, and whether one was found.
func PropertyBool(props notionapi.Properties, names ...string) (bool, bool) {
	for _, name := range names {
		for key, prop := range props {
			if !strings.EqualFold(key, name) {
				continue
			}
			if cb, ok := prop.(*notionapi.CheckboxProperty); ok {
				return cb.Checkbox, true
			}
		}
	}
	return false, false
}

// fileURL reads the URL out of an icon or cover object regardless of
// whether it is hosted by Notion or external.
func fileURL(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var obj struct {
		Type     string `json:"type"`
		File     *struct {
			URL string `json:"url"`
		} `json:"file"`
		External *struct {
			URL string `json:"url"`
		} `json:"external"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch {
	case obj.File != nil && obj.File.URL != "":
		return obj.File.URL
	case obj.External != nil && obj.External.URL != "":
		return obj.External.URL
	}
	return ""
}
