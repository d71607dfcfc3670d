// Package collection turns Notion databases into ordered item bundles the
// renderer can display without knowing the database schema.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
	"github.com/natikgadzhi/notion-mirror/internal/slug"
)

// ViewMode is how the renderer lays out a collection.
type ViewMode string

const (
	ViewList    ViewMode = "list"
	ViewGallery ViewMode = "gallery"
	ViewTable   ViewMode = "table"
)

// galleryThreshold is the share of items with a cover that makes a
// collection a gallery.
const galleryThreshold = 0.6

// Cell is one schema property of a row, kept so arbitrary columns can be
// shown.
type Cell struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// Item is one database row.
type Item struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Slug       string          `json:"slug"`
	Excerpt    string          `json:"excerpt,omitempty"`
	Cover      string          `json:"cover,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Cells      map[string]Cell `json:"cells,omitempty"`
	LastEdited time.Time       `json:"lastEdited,omitempty"`

	// ExplicitSlug is false when Slug was generated from the title.
	ExplicitSlug bool `json:"-"`
	// Public mirrors the row's Public/Published checkbox, true if absent.
	Public bool `json:"-"`
}

// Bundle is the persisted form of one database (or one of its views).
type Bundle struct {
	DatabaseID string   `json:"databaseId"`
	ViewID     string   `json:"viewId,omitempty"`
	ViewMode   ViewMode `json:"viewMode"`
	Name       string   `json:"name"`
	Items      []Item   `json:"items"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// ViewKey is the store key of the bundle's view.
func (b *Bundle) ViewKey() string {
	if b.ViewID == "" {
		return "default"
	}
	return b.ViewID
}

// NoAccessError means the integration cannot read the database. The
// renderer shows sharing instructions for it instead of a generic error.
type NoAccessError struct {
	DatabaseID string
	Err        error
}

func (e *NoAccessError) Error() string {
	return fmt.Sprintf("no access to database %s: %v", e.DatabaseID, e.Err)
}

func (e *NoAccessError) Unwrap() error { return e.Err }

// IsNoAccess reports whether err is or wraps a NoAccessError.
func IsNoAccess(err error) bool {
	var target *NoAccessError
	return errors.As(err, &target)
}

// Remote is the part of the Notion client the Fetcher needs.
type Remote interface {
	GetDatabase(ctx context.Context, id string) (*notionapi.Database, error)
	QueryDatabase(ctx context.Context, id string, q notion.Query) (*notion.QueryResult, error)
}

// Options selects one page of a database.
type Options struct {
	PageSize    int
	StartCursor string
	ViewID      string
	// ViewType overrides view mode inference when set.
	ViewType ViewMode
}

// Fetcher builds Bundles from the Notion API.
type Fetcher struct {
	remote Remote
	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(remote Remote, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{remote: remote, logger: logger}
}

// FetchBundle retrieves the schema and one page of rows of databaseID.
func (f *Fetcher) FetchBundle(ctx context.Context, databaseID string, opts Options) (*Bundle, error) {
	db, schema, err := f.schema(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return f.queryPage(ctx, databaseID, db, schema, opts)
}

// FetchAll pages through the database until it is exhausted or limit items
// were read. The schema is read once. The returned bundle keeps the cursor
// of the last page, so a truncated bundle can be continued.
func (f *Fetcher) FetchAll(ctx context.Context, databaseID string, opts Options, limit int) (*Bundle, error) {
	db, schema, err := f.schema(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	var all *Bundle
	for {
		page, err := f.queryPage(ctx, databaseID, db, schema, opts)
		if err != nil {
			return nil, err
		}
		if all == nil {
			all = page
		} else {
			all.Items = append(all.Items, page.Items...)
			all.NextCursor, all.HasMore = page.NextCursor, page.HasMore
		}

		if limit > 0 && len(all.Items) >= limit {
			all.Items = all.Items[:limit]
			break
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		opts.StartCursor = page.NextCursor
	}
	all.ViewMode = inferViewMode(all.Items, opts.ViewType)
	return all, nil
}

func (f *Fetcher) schema(ctx context.Context, databaseID string) (*notionapi.Database, Schema, error) {
	db, err := f.remote.GetDatabase(ctx, databaseID)
	if err != nil {
		if notion.IsNoAccess(err) {
			return nil, Schema{}, &NoAccessError{DatabaseID: databaseID, Err: err}
		}
		return nil, Schema{}, fmt.Errorf("retrieving database %s: %w", databaseID, err)
	}
	return db, SchemaFromDatabase(db), nil
}

// queryPage reads one page of rows, newest edit first when the schema has
// an updated-time property.
func (f *Fetcher) queryPage(ctx context.Context, databaseID string, db *notionapi.Database, schema Schema, opts Options) (*Bundle, error) {
	q := notion.Query{PageSize: opts.PageSize, Cursor: opts.StartCursor}
	if schema.Updated != "" {
		q.Sorts = []notionapi.SortObject{{Property: schema.Updated, Direction: notionapi.SortOrderDESC}}
	}

	res, err := f.remote.QueryDatabase(ctx, databaseID, q)
	if err != nil {
		return nil, fmt.Errorf("querying database %s: %w", databaseID, err)
	}

	bundle := &Bundle{
		DatabaseID: block.NormalizeID(databaseID),
		ViewID:     opts.ViewID,
		Name:       notion.PlainText(db.Title),
		NextCursor: res.NextCursor,
		HasMore:    res.HasMore,
	}
	for i := range res.Rows {
		bundle.Items = append(bundle.Items, itemFromPage(&res.Rows[i], schema))
	}
	bundle.ViewMode = inferViewMode(bundle.Items, opts.ViewType)

	f.logger.Debug("fetched collection",
		"database_id", databaseID,
		"items", len(bundle.Items),
		"view_mode", bundle.ViewMode,
		"has_more", bundle.HasMore,
	)
	return bundle, nil
}

func itemFromPage(page *notionapi.Page, schema Schema) Item {
	meta := notion.PageMeta(page)
	item := Item{
		ID:         meta.ID,
		Title:      meta.Title,
		Cover:      meta.Cover,
		LastEdited: meta.LastEdited,
		Public:     meta.Public,
		Cells:      make(map[string]Cell),
	}

	values := make(map[string]any, len(page.Properties))
	for _, p := range schema.Properties {
		v := notion.PropertyValue(page.Properties[p.Name])
		values[p.Name] = v
		key := p.ID
		if key == "" {
			key = p.Name
		}
		item.Cells[key] = Cell{Name: p.Name, Type: p.Type, Value: v}
	}

	item.fillRoles(values, schema)
	return item
}

// fillRoles sets slug, excerpt, tags and cover from the role properties.
func (item *Item) fillRoles(values map[string]any, schema Schema) {
	if s := firstString(values[schema.Slug]); s != "" {
		item.Slug = s
		item.ExplicitSlug = true
	} else {
		item.Slug = slug.Kebab(item.Title)
	}
	item.Excerpt = firstString(values[schema.Excerpt])
	item.Tags = stringList(values[schema.Tags])
	if item.Cover == "" {
		item.Cover = firstString(values[schema.Cover])
	}
}

func inferViewMode(items []Item, explicit ViewMode) ViewMode {
	if explicit != "" {
		return explicit
	}
	if len(items) == 0 {
		return ViewList
	}
	covers := 0
	for _, it := range items {
		if it.Cover != "" {
			covers++
		}
	}
	if float64(covers)/float64(len(items)) >= galleryThreshold {
		return ViewGallery
	}
	return ViewList
}

// ParseViewMode maps a Notion view type onto a ViewMode; unknown types
// return "" so inference applies.
func ParseViewMode(viewType string) ViewMode {
	switch strings.ToLower(viewType) {
	case "gallery":
		return ViewGallery
	case "table":
		return ViewTable
	case "list":
		return ViewList
	}
	return ""
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	}
	return nil
}
