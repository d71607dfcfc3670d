// Package walker expands a page's block tree breadth first, resolving
// synced-block indirections and tolerating missing nodes.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/cache"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
)

const (
	// DefaultBatchSize is how many child fetches run at once within a wave.
	DefaultBatchSize = 4

	// DefaultResolutionTTL bounds how long indirection lookups are memoized.
	DefaultResolutionTTL = 30 * time.Minute
)

// Source is the part of the Notion client the walker needs.
type Source interface {
	GetBlockChildren(ctx context.Context, blockID string) ([]*block.Block, error)
	RetrieveBlock(ctx context.Context, id string) (*block.Block, error)
}

// Walker fetches complete block trees.
type Walker struct {
	src       Source
	batchSize int
	resolved  cache.Cache[string]
	ttl       time.Duration
	onMissing func(blockID string)
	logger    *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithBatchSize sets how many fetches run concurrently per batch.
func WithBatchSize(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithResolutionCache injects the cache used to memoize indirection
// targets. An empty string value records a failed resolution.
func WithResolutionCache(c cache.Cache[string], ttl time.Duration) Option {
	return func(w *Walker) {
		w.resolved = c
		if ttl > 0 {
			w.ttl = ttl
		}
	}
}

// WithOnMissing registers a hook called for every node whose children were
// not found or not shared. It may be called from several goroutines.
func WithOnMissing(fn func(blockID string)) Option {
	return func(w *Walker) {
		w.onMissing = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Walker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Walker reading from src.
func New(src Source, opts ...Option) *Walker {
	w := &Walker{
		src:       src,
		batchSize: DefaultBatchSize,
		resolved:  cache.NewMemory[string](),
		ttl:       DefaultResolutionTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// walk holds the state of one FetchTree call.
type walk struct {
	*Walker

	mu sync.Mutex

	// canonical maps a fetch target to the children fetched for it.
	canonical map[string][]*block.Block
	// alias marks nodes whose children are copies of another target's.
	alias map[*block.Block]string
	// aliases lists alias nodes in discovery order.
	aliases []*block.Block
}

// FetchTree returns the fully expanded children of rootID.
//
// Expansion runs in waves. Every node of a wave that has children or
// points at another block is resolved to a fetch target; each target is
// fetched once and its children are attached to every node that resolved
// to it. Fetches run in ordered batches of BatchSize and results are
// attached by index, so child order always matches the API order.
func (w *Walker) FetchTree(ctx context.Context, rootID string) ([]*block.Block, error) {
	st := &walk{
		Walker:    w,
		canonical: make(map[string][]*block.Block),
		alias:     make(map[*block.Block]string),
	}

	roots, err := st.fetch(ctx, []string{rootID})
	if err != nil {
		return nil, err
	}
	forest := roots[0]

	wave := expandable(forest)
	for depth := 1; len(wave) > 0; depth++ {
		w.logger.Debug("expanding wave", "root_id", rootID, "depth", depth, "nodes", len(wave))

		var targets []string
		owners := make(map[string]*block.Block)
		for _, node := range wave {
			target, err := st.resolve(ctx, node)
			if err != nil {
				return nil, err
			}
			if target == "" {
				continue
			}
			key := block.NormalizeID(target)
			if _, done := st.canonical[key]; done {
				st.markAlias(node, key)
				continue
			}
			if _, queued := owners[key]; queued {
				st.markAlias(node, key)
				continue
			}
			owners[key] = node
			targets = append(targets, target)
		}

		results, err := st.fetch(ctx, targets)
		if err != nil {
			return nil, err
		}

		var next []*block.Block
		for i, target := range targets {
			key := block.NormalizeID(target)
			owner := owners[key]
			owner.Children = results[i]
			st.canonical[key] = results[i]
			next = append(next, expandable(results[i])...)
		}
		wave = next
	}

	st.fillAliases()
	return forest, nil
}

// fetch loads the children of every id in ordered batches. A missing or
// forbidden id yields an empty list; any other error aborts.
func (st *walk) fetch(ctx context.Context, ids []string) ([][]*block.Block, error) {
	results := make([][]*block.Block, len(ids))

	for start := 0; start < len(ids); start += st.batchSize {
		end := min(start+st.batchSize, len(ids))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				children, err := st.src.GetBlockChildren(gctx, ids[i])
				if err != nil {
					if notion.IsMissing(err) {
						st.missing(ids[i])
						return nil
					}
					return fmt.Errorf("fetching children of %s: %w", ids[i], err)
				}
				results[i] = children
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// resolve returns the id whose children hold the content of node, or ""
// when it cannot be determined.
func (st *walk) resolve(ctx context.Context, node *block.Block) (string, error) {
	if src, ok := node.SyncedSource(); ok {
		return src, nil
	}
	if node.Type != block.TypeSyncedBlock || node.IsSyncedOrigin() {
		return node.ID, nil
	}

	key := block.NormalizeID(node.ID)
	if target, ok := st.resolved.Get(key); ok {
		return target, nil
	}

	fresh, err := st.src.RetrieveBlock(ctx, node.ID)
	if err != nil {
		if notion.IsMissing(err) {
			st.resolved.Set(key, "", st.ttl)
			st.missing(node.ID)
			return "", nil
		}
		return "", fmt.Errorf("resolving synced block %s: %w", node.ID, err)
	}

	var target string
	if src, ok := fresh.SyncedSource(); ok {
		target = src
	} else if fresh.IsSyncedOrigin() {
		target = fresh.ID
	}
	st.resolved.Set(key, target, st.ttl)
	return target, nil
}

func (st *walk) missing(id string) {
	st.logger.Warn("block children unavailable", "block_id", id)
	if st.onMissing == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onMissing(id)
}

func (st *walk) markAlias(node *block.Block, key string) {
	st.alias[node] = key
	st.aliases = append(st.aliases, node)
}

// fillAliases gives every alias node its own copy of the canonical
// subtree, so later passes can decorate each occurrence independently.
func (st *walk) fillAliases() {
	for _, node := range st.aliases {
		key := st.alias[node]
		node.Children = st.copyTree(st.canonical[key], map[string]bool{key: true})
	}
}

func (st *walk) copyTree(children []*block.Block, stack map[string]bool) []*block.Block {
	if children == nil {
		return nil
	}
	out := make([]*block.Block, len(children))
	for i, c := range children {
		cp := shallowCopy(c)
		if key, ok := st.alias[c]; ok {
			if !stack[key] {
				stack[key] = true
				cp.Children = st.copyTree(st.canonical[key], stack)
				delete(stack, key)
			}
		} else {
			cp.Children = st.copyTree(c.Children, stack)
		}
		out[i] = cp
	}
	return out
}

func shallowCopy(b *block.Block) *block.Block {
	children := b.Children
	b.Children = nil
	cp := b.Clone()
	b.Children = children
	return cp
}

func expandable(blocks []*block.Block) []*block.Block {
	var out []*block.Block
	for _, b := range blocks {
		if b.NeedsExpansion() {
			out = append(out, b)
		}
	}
	return out
}
