package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/hints"
	"github.com/natikgadzhi/notion-mirror/internal/media"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
	"github.com/natikgadzhi/notion-mirror/internal/store"
	"github.com/natikgadzhi/notion-mirror/internal/walker"
)

// Errors reported for items a run declines to visit.
var (
	ErrBudgetExhausted = errors.New("sync budget exhausted")
	errVisited         = errors.New("item already visited in this run")
)

// run is the state shared by every item of one SyncAll or Sync call.
type run struct {
	*Syncer
	id    string
	start time.Time
	stats *Stats

	mu      sync.Mutex
	items   int
	visited map[string]bool
	handled map[string]bool // database ids already persisted
}

func (r *run) summary() *Summary {
	return r.stats.Summary(r.id, time.Since(r.start))
}

// admit claims one item of the budget for id at depth.
func (r *run) admit(id string, depth int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := block.NormalizeID(id)
	if r.visited[key] {
		return errVisited
	}
	if depth > r.budget.MaxDepth || r.items >= r.budget.MaxItems {
		return ErrBudgetExhausted
	}
	r.visited[key] = true
	r.items++
	return nil
}

// markHandled records a persisted database and reports whether it was new.
func (r *run) markHandled(databaseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := block.NormalizeID(databaseID)
	if r.handled[key] {
		return false
	}
	r.handled[key] = true
	return true
}

func (r *run) isHandled(databaseID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled[block.NormalizeID(databaseID)]
}

// syncTop syncs a root item, logging instead of returning its failure.
func (r *run) syncTop(ctx context.Context, t Target, force bool) {
	if _, err := r.syncItem(ctx, t, 0, force); err != nil {
		r.stats.itemFailed()
		r.logger.Error("sync item failed", "slug", t.Slug, "id", t.ID, "error", err)
	}
}

// syncItem runs the state machine for one item.
func (r *run) syncItem(ctx context.Context, t Target, depth int, force bool) (*store.Meta, error) {
	if err := r.admit(t.ID, depth); err != nil {
		return nil, err
	}
	log := r.logger.With("slug", t.Slug, "id", t.ID, "run_id", r.id)
	r.stats.itemProcessed()

	meta, err := r.remote.GetItemMeta(ctx, t.ID)
	if err != nil {
		log.Debug("item state", "state", StateFailed)
		return nil, fmt.Errorf("fetching item meta: %w", err)
	}

	existing, err := r.store.GetBundle(ctx, t.Slug)
	if err != nil {
		log.Debug("item state", "state", StateFailed)
		return nil, fmt.Errorf("loading stored bundle: %w", err)
	}
	if !force && !existing.NeedsSync(meta.LastEdited) {
		log.Debug("item state", "state", StateSkip)
		r.stats.itemSkipped()
		return &existing.Meta, nil
	}

	bundle, children, err := r.buildBundle(ctx, t, meta, log)
	if err != nil {
		log.Debug("item state", "state", StateFailed)
		return nil, err
	}

	if err := r.commit(ctx, bundle); err != nil {
		log.Debug("item state", "state", StateFailed)
		return nil, err
	}
	r.stats.itemSynced()
	log.Info("synced item", "state", StateCommitted, "title", bundle.Meta.Title, "blocks", len(bundle.Blocks))

	if depth < r.budget.MaxDepth {
		log.Debug("item state", "state", StatePersistingChildren)
		r.persistChildren(ctx, bundle, children, depth, force, log)
	}
	return &bundle.Meta, nil
}

// discovered is what the raw tree links to.
type discovered struct {
	databases  []string
	childPages []*block.Block
}

func (r *run) buildBundle(ctx context.Context, t Target, meta *notion.ItemMeta, log *slog.Logger) (*store.Bundle, discovered, error) {
	log.Debug("item state", "state", StateFetching)
	w := walker.New(r.remote,
		walker.WithBatchSize(r.batchSize),
		walker.WithResolutionCache(r.resolutions, walker.DefaultResolutionTTL),
		walker.WithOnMissing(r.stats.missingBlock),
		walker.WithLogger(log),
	)
	blocks, err := w.FetchTree(ctx, meta.ID)
	if err != nil {
		return nil, discovered{}, fmt.Errorf("fetching block tree: %w", err)
	}
	r.stats.unsupportedBlocks(unsupportedCounts(blocks))

	found := discovered{
		databases:  linkedDatabases(blocks),
		childPages: childPages(blocks),
	}

	log.Debug("item state", "state", StateMerging)
	var fullWidth bool
	if shadow := r.remote.GetShadowBundle(ctx, meta.ID); shadow != nil {
		h := hints.Extract(shadow, meta.ID)
		var rep hints.Report
		blocks, rep = hints.Apply(blocks, h, hints.NewRegistry())
		r.stats.buttonsSynthesized(rep.ButtonsSynthesized)
		fullWidth = h.FullWidth
		log.Debug("merged hints",
			"column_groups", rep.ColumnGroups,
			"images", rep.Images,
			"buttons_rewritten", rep.ButtonsRewritten,
			"buttons_synthesized", rep.ButtonsSynthesized,
			"collections", len(h.Collections),
		)

		for _, ec := range h.Collections {
			if err := r.putCollection(ctx, ec.DatabaseID, ec.Bundle); err != nil {
				return nil, discovered{}, err
			}
		}
	}

	title := meta.Title
	if t.Title != "" {
		title = t.Title
	}
	bundle := &store.Bundle{
		Meta: store.Meta{
			Slug:          t.Slug,
			RemoteID:      meta.ID,
			Title:         title,
			Public:        meta.Public,
			Password:      meta.Password,
			LastEdited:    meta.LastEdited,
			Icon:          meta.Icon,
			Cover:         meta.Cover,
			FullWidth:     fullWidth,
			HasChildPages: len(found.childPages) > 0,
		},
		Blocks: blocks,
	}

	log.Debug("item state", "state", StateMirroringMedia)
	r.mirrorMedia(ctx, bundle)
	return bundle, found, nil
}

// mirrorMedia rewrites image URLs and the cover and icon of b to their
// mirrored copies.
func (r *run) mirrorMedia(ctx context.Context, b *store.Bundle) {
	remoteID := b.Meta.RemoteID
	block.Walk(b.Blocks, func(blk *block.Block) bool {
		if blk.Type != block.TypeImage {
			return true
		}
		src := blk.MediaURL()
		if src == "" {
			return true
		}
		res := r.mirrorOne(ctx, b.Meta.Slug, remoteID, blk.ID, src, mediaKey(remoteID, blk.ID))
		blk.SetMediaURL(res.URL)
		if res.Width > 0 && res.Height > 0 {
			if blk.ImageMeta == nil {
				blk.ImageMeta = &block.ImageMeta{}
			}
			if blk.ImageMeta.Width == 0 && blk.ImageMeta.Height == 0 {
				blk.ImageMeta.Width, blk.ImageMeta.Height = res.Width, res.Height
			}
		}
		return true
	})

	if isURL(b.Meta.Cover) {
		b.Meta.Cover = r.mirrorOne(ctx, b.Meta.Slug, remoteID, "cover", b.Meta.Cover, mediaKey(remoteID, "cover")).URL
	}
	if isURL(b.Meta.Icon) {
		b.Meta.Icon = r.mirrorOne(ctx, b.Meta.Slug, remoteID, "icon", b.Meta.Icon, mediaKey(remoteID, "icon")).URL
	}
}

func (r *run) mirrorOne(ctx context.Context, slug, parentID, blockID, src, key string) media.Result {
	res := r.mirror.Mirror(ctx, src, key, "")
	if res.Mirrored {
		r.stats.mediaMirrored()
	} else {
		r.stats.fallback(Fallback{
			Slug:      slug,
			ParentID:  parentID,
			BlockID:   blockID,
			SourceURL: src,
			Reason:    res.Reason,
		})
	}
	return res
}

// commit writes b in one transaction and invalidates its tag and path.
func (r *run) commit(ctx context.Context, b *store.Bundle) error {
	if err := r.store.PutBundle(ctx, b.Meta.Slug, b); err != nil {
		return fmt.Errorf("committing bundle: %w", err)
	}
	if err := r.invalidator.InvalidateTag(ctx, store.PageTag(b.Meta.Slug)); err != nil {
		r.logger.Warn("tag invalidation failed", "slug", b.Meta.Slug, "error", err)
	}
	if err := r.invalidator.InvalidatePath(ctx, "/"+b.Meta.Slug); err != nil {
		r.logger.Warn("path invalidation failed", "slug", b.Meta.Slug, "error", err)
	}
	return nil
}

func mediaKey(parts ...string) string {
	for i, p := range parts {
		parts[i] = block.NormalizeID(p)
	}
	return strings.Join(parts, "/")
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
