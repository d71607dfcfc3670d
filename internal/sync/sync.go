// Package sync mirrors Notion items into the content store.
//
// One item is synced in a fixed sequence of states: fetch the cheap
// metadata, skip when nothing changed, walk the block tree, merge layout
// hints from the record map, mirror media, commit, and finally sync linked
// databases and inline child pages as items of their own. Recursion is
// bounded by a per-run Budget.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jomei/notionapi"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/cache"
	"github.com/natikgadzhi/notion-mirror/internal/collection"
	"github.com/natikgadzhi/notion-mirror/internal/media"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
	"github.com/natikgadzhi/notion-mirror/internal/store"
	"github.com/natikgadzhi/notion-mirror/internal/walker"
)

// Defaults for the tunables exposed as options.
const (
	DefaultMaxChildPages    = 10
	DefaultChildConcurrency = 2
	DefaultMaxDepth         = 4
	DefaultMaxItems         = 500
)

// Remote is the part of the Notion client the pipeline consumes.
type Remote interface {
	GetItemMeta(ctx context.Context, id string) (*notion.ItemMeta, error)
	GetBlockChildren(ctx context.Context, blockID string) ([]*block.Block, error)
	RetrieveBlock(ctx context.Context, id string) (*block.Block, error)
	GetDatabase(ctx context.Context, id string) (*notionapi.Database, error)
	QueryDatabase(ctx context.Context, databaseID string, q notion.Query) (*notion.QueryResult, error)
	GetShadowBundle(ctx context.Context, pageID string) *notion.ShadowBundle
}

// ContentStore is where synced items are committed.
type ContentStore interface {
	media.Cache
	GetBundle(ctx context.Context, slug string) (*store.Bundle, error)
	PutBundle(ctx context.Context, slug string, b *store.Bundle) error
	PutCollectionBundle(ctx context.Context, databaseID, viewKey string, b *collection.Bundle) error
	PutPostsIndex(ctx context.Context, items []collection.Item) error
}

// Target names one item to sync. Title, when set, overrides the remote
// title.
type Target struct {
	Slug  string
	ID    string
	Title string
}

// Budget caps the recursion of one run. Depth 0 is the item the run was
// started for.
type Budget struct {
	MaxDepth int
	MaxItems int
}

// Syncer orchestrates synchronization between Notion and the content store.
type Syncer struct {
	remote      Remote
	store       ContentStore
	mirror      *media.Mirror
	fetcher     *collection.Fetcher
	invalidator store.Invalidator
	resolutions cache.Cache[string]
	logger      *slog.Logger

	roots            []Target
	postsDatabase    string
	maxChildPages    int
	childConcurrency int
	batchSize        int
	budget           Budget
	mediaOpts        []media.Option
}

// SyncerOption is a functional option for configuring the Syncer.
type SyncerOption func(*Syncer)

// WithInvalidator sets where invalidation signals go.
func WithInvalidator(inv store.Invalidator) SyncerOption {
	return func(s *Syncer) {
		s.invalidator = inv
	}
}

// WithRoots sets the items SyncAll starts from.
func WithRoots(roots ...Target) SyncerOption {
	return func(s *Syncer) {
		s.roots = append(s.roots, roots...)
	}
}

// WithPostsDatabase sets the database whose rows form the posts index.
func WithPostsDatabase(id string) SyncerOption {
	return func(s *Syncer) {
		s.postsDatabase = id
	}
}

// WithMaxChildPages caps the inline child pages synced per parent.
func WithMaxChildPages(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.maxChildPages = n
		}
	}
}

// WithChildConcurrency sets how many children of one parent sync at once.
func WithChildConcurrency(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.childConcurrency = n
		}
	}
}

// WithBatchSize sets the walker's fetch batch size.
func WithBatchSize(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBudget sets the recursion budget of each run. Zero fields keep
// their defaults.
func WithBudget(b Budget) SyncerOption {
	return func(s *Syncer) {
		if b.MaxDepth > 0 {
			s.budget.MaxDepth = b.MaxDepth
		}
		if b.MaxItems > 0 {
			s.budget.MaxItems = b.MaxItems
		}
	}
}

// WithResolutionCache replaces the process-local synced block resolution
// cache.
func WithResolutionCache(c cache.Cache[string]) SyncerOption {
	return func(s *Syncer) {
		s.resolutions = c
	}
}

// WithMediaOptions passes options to the media mirror.
func WithMediaOptions(opts ...media.Option) SyncerOption {
	return func(s *Syncer) {
		s.mediaOpts = append(s.mediaOpts, opts...)
	}
}

// NewSyncer creates a new Syncer. Media is uploaded through up and
// remembered in st.
func NewSyncer(remote Remote, st ContentStore, up media.Uploader, logger *slog.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Syncer{
		remote:           remote,
		store:            st,
		fetcher:          collection.NewFetcher(remote, logger),
		invalidator:      store.NewLogInvalidator(logger),
		resolutions:      cache.NewMemory[string](),
		logger:           logger,
		maxChildPages:    DefaultMaxChildPages,
		childConcurrency: DefaultChildConcurrency,
		batchSize:        walker.DefaultBatchSize,
		budget:           Budget{MaxDepth: DefaultMaxDepth, MaxItems: DefaultMaxItems},
	}

	for _, opt := range opts {
		opt(s)
	}
	s.mirror = media.New(up, st, append([]media.Option{media.WithLogger(logger)}, s.mediaOpts...)...)

	return s
}

// ErrUnknownSlug is returned by Sync for a slug that is neither a root nor
// already stored.
var ErrUnknownSlug = errors.New("unknown slug")

// SyncAll syncs every root and, when configured, the posts database.
// A failing item is logged and counted; the run continues with the next
// one. The run stops between items when ctx is canceled.
func (s *Syncer) SyncAll(ctx context.Context, force bool) (*Summary, error) {
	r := s.newRun()

	s.logger.Info("starting sync",
		"run_id", r.id,
		"roots", len(s.roots),
		"posts", s.postsDatabase != "",
		"force", force,
	)

	for _, root := range s.roots {
		if err := ctx.Err(); err != nil {
			return r.summary(), fmt.Errorf("sync interrupted: %w", err)
		}
		r.syncTop(ctx, root, force)
	}

	if s.postsDatabase != "" {
		if err := ctx.Err(); err != nil {
			return r.summary(), fmt.Errorf("sync interrupted: %w", err)
		}
		if err := r.syncPosts(ctx, force); err != nil {
			return r.summary(), err
		}
	}

	sum := r.summary()
	s.logger.Info("sync complete",
		"run_id", sum.RunID,
		"processed", sum.Processed,
		"synced", sum.Synced,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"media", sum.MediaMirrored,
		"fallbacks", sum.Fallbacks,
		"duration", time.Duration(sum.ElapsedMs)*time.Millisecond,
	)
	return sum, nil
}

// Sync syncs the item stored or configured under slug, or everything when
// slug is empty. Unlike SyncAll, a failure of the single item is returned.
func (s *Syncer) Sync(ctx context.Context, slug string, force bool) (*Summary, error) {
	if slug == "" {
		return s.SyncAll(ctx, force)
	}

	t, err := s.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}

	r := s.newRun()
	if _, err := r.syncItem(ctx, t, 0, force); err != nil {
		r.stats.itemFailed()
		return r.summary(), fmt.Errorf("syncing %s: %w", slug, err)
	}
	return r.summary(), nil
}

// SyncItem syncs one item and everything below it within the budget.
func (s *Syncer) SyncItem(ctx context.Context, t Target, force bool) (*store.Meta, error) {
	r := s.newRun()
	meta, err := r.syncItem(ctx, t, 0, force)
	sum := r.summary()
	s.logger.Debug("item run finished",
		"slug", t.Slug,
		"run_id", sum.RunID,
		"synced", sum.Synced,
		"skipped", sum.Skipped,
	)
	return meta, err
}

func (s *Syncer) lookup(ctx context.Context, slug string) (Target, error) {
	for _, root := range s.roots {
		if root.Slug == slug {
			return root, nil
		}
	}
	existing, err := s.store.GetBundle(ctx, slug)
	if err != nil {
		return Target{}, fmt.Errorf("looking up %s: %w", slug, err)
	}
	if existing == nil {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownSlug, slug)
	}
	return Target{Slug: slug, ID: existing.Meta.RemoteID}, nil
}

func (s *Syncer) newRun() *run {
	return &run{
		Syncer:  s,
		id:      uuid.NewString(),
		start:   time.Now(),
		stats:   newStats(),
		visited: make(map[string]bool),
		handled: make(map[string]bool),
	}
}
