package walker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/cache"
)

type fakeSource struct {
	mu        sync.Mutex
	children  map[string][]*block.Block
	blocks    map[string]*block.Block
	errs      map[string]error
	calls     map[string]int
	retrieves map[string]int

	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		children:  make(map[string][]*block.Block),
		blocks:    make(map[string]*block.Block),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
		retrieves: make(map[string]int),
	}
}

func (f *fakeSource) GetBlockChildren(_ context.Context, id string) ([]*block.Block, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	// Hand out fresh copies like the API would.
	var out []*block.Block
	for _, b := range f.children[id] {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (f *fakeSource) RetrieveBlock(_ context.Context, id string) (*block.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves[id]++
	if err := f.errs["retrieve:"+id]; err != nil {
		return nil, err
	}
	b, ok := f.blocks[id]
	if !ok {
		return nil, &notionapi.Error{Status: 404, Code: "object_not_found"}
	}
	return b.Clone(), nil
}

func para(id string, hasChildren bool) *block.Block {
	return &block.Block{ID: id, Type: "paragraph", HasChildren: hasChildren, Payload: map[string]any{}}
}

func syncedRef(id, source string) *block.Block {
	return &block.Block{
		ID:          id,
		Type:        block.TypeSyncedBlock,
		HasChildren: true,
		Payload:     map[string]any{"synced_from": map[string]any{"type": "block_id", "block_id": source}},
	}
}

func ids(blocks []*block.Block) []string {
	var out []string
	for _, b := range blocks {
		out = append(out, b.ID)
	}
	return out
}

func TestFetchTree_PreservesOrderAcrossWaves(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []*block.Block{para("a", true), para("b", false), para("c", true), para("d", true), para("e", true), para("f", true)}
	src.children["a"] = []*block.Block{para("a1", false), para("a2", true)}
	src.children["a2"] = []*block.Block{para("a2x", false)}
	src.children["c"] = []*block.Block{para("c1", false), para("c2", false), para("c3", false)}
	src.children["d"] = []*block.Block{para("d1", false)}
	src.children["e"] = []*block.Block{para("e1", false)}
	src.children["f"] = []*block.Block{para("f1", false)}

	w := New(src, WithBatchSize(2))
	forest, err := w.FetchTree(context.Background(), "root")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids(forest))
	assert.Equal(t, []string{"a1", "a2"}, ids(forest[0].Children))
	assert.Equal(t, []string{"a2x"}, ids(forest[0].Children[1].Children))
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(forest[2].Children))
	assert.LessOrEqual(t, src.peak.Load(), int32(2), "batches must bound concurrency")
}

func TestFetchTree_SharedSyncedSourceFetchedOnce(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []*block.Block{syncedRef("ref1", "origin"), para("mid", false), syncedRef("ref2", "origin")}
	src.children["origin"] = []*block.Block{para("o1", false), para("o2", true)}
	src.children["o2"] = []*block.Block{para("o2a", false)}

	forest, err := New(src).FetchTree(context.Background(), "root")
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls["origin"])
	assert.Equal(t, 1, src.calls["o2"])

	ref1, ref2 := forest[0], forest[2]
	assert.Equal(t, []string{"o1", "o2"}, ids(ref1.Children))
	assert.Equal(t, []string{"o1", "o2"}, ids(ref2.Children))
	assert.Equal(t, []string{"o2a"}, ids(ref2.Children[1].Children), "copies include deeper waves")
	assert.NotSame(t, ref1.Children[0], ref2.Children[0], "each occurrence gets its own nodes")
}

func TestFetchTree_SyncedSourceAcrossWaves(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []*block.Block{para("origin", true), para("wrap", true)}
	src.children["origin"] = []*block.Block{para("o1", false)}
	src.children["wrap"] = []*block.Block{syncedRef("ref", "origin")}

	forest, err := New(src).FetchTree(context.Background(), "root")
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls["origin"])
	assert.Equal(t, []string{"o1"}, ids(forest[1].Children[0].Children))
}

func TestFetchTree_MissingNodeIsEmpty(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []*block.Block{para("ok", true), syncedRef("ref", "gone"), para("after", false)}
	src.children["ok"] = []*block.Block{para("child", false)}
	src.errs["gone"] = &notionapi.Error{Status: 403, Code: "restricted_resource"}

	var missing []string
	forest, err := New(src, WithOnMissing(func(id string) { missing = append(missing, id) })).
		FetchTree(context.Background(), "root")
	require.NoError(t, err)

	assert.Equal(t, []string{"gone"}, missing)
	assert.Empty(t, forest[1].Children)
	assert.Equal(t, []string{"child"}, ids(forest[0].Children))
	assert.Equal(t, "after", forest[2].ID)
}

func TestFetchTree_FatalErrorAborts(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []*block.Block{para("a", true)}
	src.errs["a"] = &notionapi.Error{Status: 429, Code: "rate_limited"}

	_, err := New(src).FetchTree(context.Background(), "root")
	require.Error(t, err)

	var apiErr *notionapi.Error
	assert.True(t, errors.As(err, &apiErr))
}

func TestFetchTree_ResolvesAmbiguousSyncedBlock(t *testing.T) {
	ambiguous := &block.Block{
		ID:          "amb",
		Type:        block.TypeSyncedBlock,
		HasChildren: true,
		Payload:     map[string]any{"synced_from": map[string]any{"type": "block_id"}},
	}
	src := newFakeSource()
	src.children["root"] = []*block.Block{ambiguous}
	src.blocks["amb"] = syncedRef("amb", "origin")
	src.children["origin"] = []*block.Block{para("o1", false)}

	resolved := cache.NewMemory[string]()
	w := New(src, WithResolutionCache(resolved, time.Minute))

	forest, err := w.FetchTree(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, ids(forest[0].Children))

	_, err = w.FetchTree(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, 1, src.retrieves["amb"], "resolution must be memoized")
}

func TestFetchTree_NegativeResolutionCached(t *testing.T) {
	ambiguous := &block.Block{
		ID:          "amb",
		Type:        block.TypeSyncedBlock,
		HasChildren: true,
		Payload:     map[string]any{"synced_from": map[string]any{}},
	}
	src := newFakeSource()
	src.children["root"] = []*block.Block{ambiguous}

	w := New(src)
	for range 2 {
		forest, err := w.FetchTree(context.Background(), "root")
		require.NoError(t, err)
		assert.Empty(t, forest[0].Children)
	}
	assert.Equal(t, 1, src.retrieves["amb"])
}

func TestFetchTree_DoesNotDescendIntoChildPages(t *testing.T) {
	src := newFakeSource()
	src.children["root"] = []*block.Block{{ID: "cp", Type: block.TypeChildPage, HasChildren: true}}

	_, err := New(src).FetchTree(context.Background(), "root")
	require.NoError(t, err)
	assert.Zero(t, src.calls["cp"])
}
