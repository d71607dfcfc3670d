package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/collection"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
	"github.com/natikgadzhi/notion-mirror/internal/slug"
	"github.com/natikgadzhi/notion-mirror/internal/store"
)

// persistChildren syncs linked databases and inline child pages of a
// committed item. Failures are logged; the parent stays committed.
func (r *run) persistChildren(ctx context.Context, parent *store.Bundle, found discovered, depth int, force bool, log *slog.Logger) {
	for _, dbID := range found.databases {
		if r.isHandled(dbID) {
			continue
		}
		r.syncLinkedDatabase(ctx, parent.Meta.Slug, dbID, depth, force, log)
	}

	refs := r.syncChildPages(ctx, parent.Meta.Slug, found.childPages, depth, force, log)
	if len(refs) == 0 {
		return
	}
	parent.Meta.ChildPages = refs
	if err := r.commit(ctx, parent); err != nil {
		log.Warn("re-committing parent with child index failed", "error", err)
	}
}

// putCollection persists one database view under the normalized database
// id and marks the database handled.
func (r *run) putCollection(ctx context.Context, databaseID string, b *collection.Bundle) error {
	databaseID = block.NormalizeID(databaseID)
	if err := r.store.PutCollectionBundle(ctx, databaseID, b.ViewKey(), b); err != nil {
		return fmt.Errorf("persisting collection %s: %w", databaseID, err)
	}
	r.markHandled(databaseID)
	if err := r.invalidator.InvalidateTag(ctx, store.CollectionTag(databaseID)); err != nil {
		r.logger.Warn("collection invalidation failed", "database_id", databaseID, "error", err)
	}
	return nil
}

// syncLinkedDatabase fetches a database referenced from parentSlug,
// mirrors row covers, persists it and syncs every row with a slug.
func (r *run) syncLinkedDatabase(ctx context.Context, parentSlug, databaseID string, depth int, force bool, log *slog.Logger) {
	log = log.With("database_id", databaseID)

	b, err := r.fetcher.FetchAll(ctx, databaseID, collection.Options{PageSize: 100}, r.budget.MaxItems)
	if err != nil {
		if collection.IsNoAccess(err) {
			log.Warn("linked database not accessible, share it with the integration", "error", err)
		} else {
			log.Warn("fetching linked database failed", "error", err)
		}
		return
	}

	r.mirrorRowCovers(ctx, parentSlug, databaseID, b.Items)
	if err := r.putCollection(ctx, databaseID, b); err != nil {
		log.Warn("persisting linked database failed", "error", err)
		return
	}

	var targets []Target
	for _, item := range b.Items {
		if !item.ExplicitSlug {
			log.Info("skipping row without slug", "row_id", item.ID, "title", item.Title)
			continue
		}
		rowSlug, ok := slug.ResolveRow(parentSlug, item.Slug)
		if !ok {
			log.Info("skipping row with empty slug", "row_id", item.ID)
			continue
		}
		targets = append(targets, Target{Slug: rowSlug, ID: item.ID})
	}
	r.syncChildren(ctx, targets, depth, force, log)
}

func (r *run) mirrorRowCovers(ctx context.Context, parentSlug, databaseID string, items []collection.Item) {
	for i := range items {
		if !isURL(items[i].Cover) {
			continue
		}
		key := mediaKey(databaseID, items[i].ID)
		items[i].Cover = r.mirrorOne(ctx, parentSlug, databaseID, items[i].ID, items[i].Cover, key).URL
	}
}

// syncChildPages syncs up to maxChildPages inline child pages and returns
// references to those that succeeded, in document order.
func (r *run) syncChildPages(ctx context.Context, parentSlug string, pages []*block.Block, depth int, force bool, log *slog.Logger) []store.ChildPageRef {
	if len(pages) > r.maxChildPages {
		log.Info("capping child pages", "found", len(pages), "max", r.maxChildPages)
		pages = pages[:r.maxChildPages]
	}

	var (
		targets []Target
		refs    []store.ChildPageRef
	)
	for _, p := range pages {
		title, _ := p.Payload["title"].(string)
		childSlug := slug.Child(parentSlug, title)
		if childSlug == "" {
			log.Info("skipping child page without usable title", "child_id", p.ID)
			continue
		}
		targets = append(targets, Target{Slug: childSlug, ID: p.ID, Title: title})
		refs = append(refs, store.ChildPageRef{Slug: childSlug, Title: title, ID: p.ID})
	}

	errs := r.syncChildren(ctx, targets, depth, force, log)
	var ok []store.ChildPageRef
	for i, err := range errs {
		if err == nil {
			ok = append(ok, refs[i])
		}
	}
	return ok
}

// syncChildren syncs targets one level below depth with bounded
// concurrency. Errors are logged and returned in the order of targets.
func (r *run) syncChildren(ctx context.Context, targets []Target, depth int, force bool, log *slog.Logger) []error {
	if len(targets) == 0 {
		return nil
	}

	pool := notion.NewWorkerPool(r.childConcurrency)
	pool.OnStart(func(i int) {
		log.Debug("syncing child", "child_id", targets[i].ID, "child_slug", targets[i].Slug)
	})
	errs := pool.Run(ctx, len(targets), func(ctx context.Context, i int) error {
		_, err := r.syncItem(ctx, targets[i], depth+1, force)
		return err
	})

	for i, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, ErrBudgetExhausted), errors.Is(err, errVisited):
			log.Debug("child not synced", "child_slug", targets[i].Slug, "reason", err)
		default:
			r.stats.itemFailed()
			log.Warn("child sync failed", "child_slug", targets[i].Slug, "child_id", targets[i].ID, "error", err)
		}
	}
	return errs
}

// syncPosts syncs every row of the posts database and writes the index of
// the public ones.
func (r *run) syncPosts(ctx context.Context, force bool) error {
	log := r.logger.With("database_id", r.postsDatabase, "run_id", r.id)

	b, err := r.fetcher.FetchAll(ctx, r.postsDatabase, collection.Options{PageSize: 100}, r.budget.MaxItems)
	if err != nil {
		return fmt.Errorf("fetching posts database: %w", err)
	}
	r.mirrorRowCovers(ctx, "", r.postsDatabase, b.Items)

	var (
		targets []Target
		posts   []collection.Item
	)
	for _, item := range b.Items {
		if !item.ExplicitSlug {
			log.Info("skipping post without slug", "row_id", item.ID, "title", item.Title)
			continue
		}
		postSlug, ok := slug.ResolveRow("", item.Slug)
		if !ok {
			continue
		}
		item.Slug = postSlug
		targets = append(targets, Target{Slug: postSlug, ID: item.ID})
		if item.Public {
			posts = append(posts, item)
		}
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync interrupted: %w", err)
		}
		if _, err := r.syncItem(ctx, t, 0, force); err != nil {
			if errors.Is(err, ErrBudgetExhausted) || errors.Is(err, errVisited) {
				log.Debug("post not synced", "slug", t.Slug, "reason", err)
				continue
			}
			r.stats.itemFailed()
			log.Error("sync item failed", "slug", t.Slug, "id", t.ID, "error", err)
		}
	}

	if err := r.store.PutPostsIndex(ctx, posts); err != nil {
		return fmt.Errorf("persisting posts index: %w", err)
	}
	if err := r.invalidator.InvalidateTag(ctx, store.PostsTag); err != nil {
		log.Warn("posts invalidation failed", "error", err)
	}
	log.Info("posts index written", "posts", len(posts), "rows", len(b.Items))
	return nil
}

// linkedDatabases lists the databases referenced by blocks, deduplicated,
// in document order. Databases are referenced by child_database blocks,
// by link_to_page blocks of type database_id and by collection_pointer
// format fields.
func linkedDatabases(blocks []*block.Block) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		key := block.NormalizeID(id)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, block.DashedID(id))
	}

	block.Walk(blocks, func(b *block.Block) bool {
		switch b.Type {
		case block.TypeChildDatabase:
			add(b.ID)
		case block.TypeLinkToPage:
			if kind, _ := b.Payload["type"].(string); kind == "database_id" {
				id, _ := b.Payload["database_id"].(string)
				add(id)
			}
		}
		if id := collectionPointer(b.Payload); id != "" {
			add(id)
		}
		return true
	})
	return out
}

func collectionPointer(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	candidates := []any{payload["collection_pointer"]}
	if format, ok := payload["format"].(map[string]any); ok {
		candidates = append(candidates, format["collection_pointer"])
	}
	for _, c := range candidates {
		if ptr, ok := c.(map[string]any); ok {
			if id, _ := ptr["id"].(string); id != "" {
				return id
			}
		}
	}
	return ""
}

// childPages lists inline child page blocks in document order.
func childPages(blocks []*block.Block) []*block.Block {
	var out []*block.Block
	seen := make(map[string]bool)
	block.Walk(blocks, func(b *block.Block) bool {
		if b.Type == block.TypeChildPage && !seen[block.NormalizeID(b.ID)] {
			seen[block.NormalizeID(b.ID)] = true
			out = append(out, b)
		}
		return true
	})
	return out
}

// unsupportedCounts counts placeholder blocks by the type the API hid,
// when it says which.
func unsupportedCounts(blocks []*block.Block) map[string]int {
	counts := make(map[string]int)
	block.Walk(blocks, func(b *block.Block) bool {
		if b.Type != block.TypeUnsupported {
			return true
		}
		typ := block.TypeUnsupported
		if hidden, ok := b.Payload["block_type"].(string); ok && hidden != "" {
			typ = hidden
		}
		counts[typ]++
		return true
	})
	return counts
}
