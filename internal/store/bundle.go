// Package store persists synced content for the rendering layer.
//
// One SQLite database holds page bundles keyed by slug, collection bundles
// keyed by database id and view, the posts index and the media cache.
// Every write of a page bundle is a single transaction, so an interrupted
// run leaves each item either fully old or fully new.
package store

import (
	"time"

	"github.com/natikgadzhi/notion-mirror/internal/block"
)

// ChildPageRef points from a parent bundle to a synced inline child page.
type ChildPageRef struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	ID    string `json:"id"`
}

// Meta describes a synced item.
type Meta struct {
	Slug          string         `json:"slug"`
	RemoteID      string         `json:"remoteId"`
	Title         string         `json:"title"`
	Public        bool           `json:"public"`
	Password      string         `json:"password,omitempty"`
	LastEdited    time.Time      `json:"lastEdited"`
	Icon          string         `json:"icon,omitempty"`
	Cover         string         `json:"cover,omitempty"`
	FullWidth     bool           `json:"fullWidth"`
	HasChildPages bool           `json:"hasChildPages"`
	ChildPages    []ChildPageRef `json:"childPages,omitempty"`
}

// Bundle is the persisted unit of one synced item.
type Bundle struct {
	Meta   Meta           `json:"meta"`
	Blocks []*block.Block `json:"blocks"`
}

// NeedsSync reports whether an item last edited at lastEdited has to be
// fetched again. A nil bundle always needs a sync.
func (b *Bundle) NeedsSync(lastEdited time.Time) bool {
	if b == nil {
		return true
	}
	return !b.Meta.LastEdited.Equal(lastEdited)
}

// Counts summarizes what the store holds.
type Counts struct {
	Bundles     int `json:"bundles"`
	Collections int `json:"collections"`
	Media       int `json:"media"`
	Posts       int `json:"posts"`
}
