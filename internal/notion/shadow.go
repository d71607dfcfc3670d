package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/natikgadzhi/notion-mirror/internal/block"
)

// DefaultShadowBaseURL is the internal API the Notion web client talks to.
const DefaultShadowBaseURL = "https://www.notion.so/api/v3"

const maxShadowChunks = 10

// ShadowBlock is a block as stored in the record map. Format carries the
// layout attributes the public API drops.
type ShadowBlock struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ParentID     string         `json:"parent_id"`
	ParentTable  string         `json:"parent_table"`
	Properties   map[string]any `json:"properties"`
	Format       map[string]any `json:"format"`
	Content      []string       `json:"content"`
	CollectionID string         `json:"collection_id"`
	ViewIDs      []string       `json:"view_ids"`
	Alive        *bool          `json:"alive"`
}

// ShadowCollection is a database as stored in the record map.
type ShadowCollection struct {
	ID     string                    `json:"id"`
	Name   any                       `json:"name"`
	Schema map[string]ShadowProperty `json:"schema"`
}

// ShadowProperty is one schema column.
type ShadowProperty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ShadowView is a saved database view.
type ShadowView struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	PageSort []string       `json:"page_sort"`
	Format   map[string]any `json:"format"`
}

// ShadowBundle is the record map of one page. All maps are keyed by
// normalized id.
type ShadowBundle struct {
	Blocks      map[string]*ShadowBlock
	Collections map[string]*ShadowCollection
	Views       map[string]*ShadowView
	// CollectionQuery maps collection id to view id to ordered row ids.
	CollectionQuery map[string]map[string][]string
}

// NewShadowBundle returns an empty bundle.
func NewShadowBundle() *ShadowBundle {
	return &ShadowBundle{
		Blocks:          make(map[string]*ShadowBlock),
		Collections:     make(map[string]*ShadowCollection),
		Views:           make(map[string]*ShadowView),
		CollectionQuery: make(map[string]map[string][]string),
	}
}

// Block looks up a block by any id spelling.
func (b *ShadowBundle) Block(id string) *ShadowBlock {
	if b == nil {
		return nil
	}
	return b.Blocks[block.NormalizeID(id)]
}

// Collection looks up a collection by any id spelling.
func (b *ShadowBundle) Collection(id string) *ShadowCollection {
	if b == nil {
		return nil
	}
	return b.Collections[block.NormalizeID(id)]
}

// View looks up a view by any id spelling.
func (b *ShadowBundle) View(id string) *ShadowView {
	if b == nil {
		return nil
	}
	return b.Views[block.NormalizeID(id)]
}

// RowIDs returns the ordered row ids of a collection view: the query
// result if one was loaded, otherwise the view's manual sort.
func (b *ShadowBundle) RowIDs(collectionID, viewID string) []string {
	if b == nil {
		return nil
	}
	if ids := b.CollectionQuery[block.NormalizeID(collectionID)][block.NormalizeID(viewID)]; len(ids) > 0 {
		return ids
	}
	if v := b.View(viewID); v != nil {
		return v.PageSort
	}
	return nil
}

// Title decodes the collection name.
func (c *ShadowCollection) Title() string {
	if c == nil {
		return ""
	}
	return DecodeShadowText(c.Name)
}

// DecodeShadowText flattens the record-map rich text encoding, a list of
// [text, annotations] pairs, into plain text.
func DecodeShadowText(v any) string {
	segments, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	var sb strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String()
}

// ShadowClient reads record maps through the internal web API.
type ShadowClient struct {
	baseURL    string
	tokenV2    string
	httpClient *http.Client
	logger     *slog.Logger

	// Set by NewClient so record-map calls share the API budget.
	limiter *RateLimiter
	backoff time.Duration
}

// NewShadowClient creates a client. tokenV2 is optional; without it only
// pages that are public on the web can be read.
func NewShadowClient(baseURL, tokenV2 string, logger *slog.Logger) *ShadowClient {
	if baseURL == "" {
		baseURL = DefaultShadowBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShadowClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokenV2:    tokenV2,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type recordMap struct {
	Block          map[string]json.RawMessage `json:"block"`
	Collection     map[string]json.RawMessage `json:"collection"`
	CollectionView map[string]json.RawMessage `json:"collection_view"`
}

type pageChunkResponse struct {
	RecordMap recordMap `json:"recordMap"`
	Cursor    struct {
		Stack []any `json:"stack"`
	} `json:"cursor"`
}

type queryCollectionResponse struct {
	Result struct {
		ReducerResults struct {
			CollectionGroupResults struct {
				BlockIDs []string `json:"blockIds"`
			} `json:"collection_group_results"`
		} `json:"reducerResults"`
		BlockIDs []string `json:"blockIds"`
	} `json:"result"`
	RecordMap recordMap `json:"recordMap"`
}

// Load fetches the record map of pageID, following chunk cursors, and
// runs a query for every embedded collection view it finds. Collection
// query failures are logged and skipped.
func (s *ShadowClient) Load(ctx context.Context, pageID string) (*ShadowBundle, error) {
	bundle := NewShadowBundle()
	cursor := map[string]any{"stack": []any{}}

	for chunk := 0; chunk < maxShadowChunks; chunk++ {
		var resp pageChunkResponse
		err := s.post(ctx, "loadPageChunk", map[string]any{
			"pageId":          block.DashedID(pageID),
			"limit":           100,
			"cursor":          cursor,
			"chunkNumber":     chunk,
			"verticalColumns": false,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if err := bundle.merge(resp.RecordMap); err != nil {
			return nil, err
		}
		if len(resp.Cursor.Stack) == 0 {
			break
		}
		cursor = map[string]any{"stack": resp.Cursor.Stack}
	}

	if len(bundle.Blocks) == 0 {
		return nil, fmt.Errorf("empty record map for %s", pageID)
	}

	for _, b := range bundle.collectionBlocks() {
		for _, viewID := range b.ViewIDs {
			if err := s.queryCollection(ctx, bundle, b.CollectionID, viewID); err != nil {
				s.logger.Debug("collection query failed", "collection_id", b.CollectionID, "view_id", viewID, "error", err)
			}
		}
	}

	return bundle, nil
}

func (b *ShadowBundle) collectionBlocks() []*ShadowBlock {
	var out []*ShadowBlock
	for _, sb := range b.Blocks {
		if sb.CollectionID != "" && (sb.Type == "collection_view" || sb.Type == "collection_view_page") {
			out = append(out, sb)
		}
	}
	return out
}

func (s *ShadowClient) queryCollection(ctx context.Context, bundle *ShadowBundle, collectionID, viewID string) error {
	var resp queryCollectionResponse
	err := s.post(ctx, "queryCollection", map[string]any{
		"collection":     map[string]any{"id": collectionID},
		"collectionView": map[string]any{"id": viewID},
		"loader": map[string]any{
			"type": "reducer",
			"reducers": map[string]any{
				"collection_group_results": map[string]any{"type": "results", "limit": 999},
			},
			"searchQuery":  "",
			"userTimeZone": "UTC",
		},
	}, &resp)
	if err != nil {
		return err
	}
	if err := bundle.merge(resp.RecordMap); err != nil {
		return err
	}

	ids := resp.Result.ReducerResults.CollectionGroupResults.BlockIDs
	if len(ids) == 0 {
		ids = resp.Result.BlockIDs
	}
	cid := block.NormalizeID(collectionID)
	if bundle.CollectionQuery[cid] == nil {
		bundle.CollectionQuery[cid] = make(map[string][]string)
	}
	bundle.CollectionQuery[cid][block.NormalizeID(viewID)] = ids
	return nil
}

func (s *ShadowClient) post(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.tokenV2 != "" {
		req.AddCookie(&http.Cookie{Name: "token_v2", Value: s.tokenV2})
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests && s.limiter != nil {
		s.limiter.Pause(s.backoff)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

// merge folds a record map into the bundle. Entries are wrapped as
// {"value": {...}} and on newer workspaces as {"value": {"value": {...}}}.
func (b *ShadowBundle) merge(rm recordMap) error {
	for _, raw := range rm.Block {
		var sb ShadowBlock
		if ok, err := unwrapRecord(raw, &sb); err != nil {
			return fmt.Errorf("decoding block record: %w", err)
		} else if ok && sb.ID != "" {
			b.Blocks[block.NormalizeID(sb.ID)] = &sb
		}
	}
	for _, raw := range rm.Collection {
		var c ShadowCollection
		if ok, err := unwrapRecord(raw, &c); err != nil {
			return fmt.Errorf("decoding collection record: %w", err)
		} else if ok && c.ID != "" {
			b.Collections[block.NormalizeID(c.ID)] = &c
		}
	}
	for _, raw := range rm.CollectionView {
		var v ShadowView
		if ok, err := unwrapRecord(raw, &v); err != nil {
			return fmt.Errorf("decoding view record: %w", err)
		} else if ok && v.ID != "" {
			b.Views[block.NormalizeID(v.ID)] = &v
		}
	}
	return nil
}

func unwrapRecord(raw json.RawMessage, out any) (bool, error) {
	var outer struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return false, err
	}
	if len(outer.Value) == 0 || string(outer.Value) == "null" {
		return false, nil
	}

	var inner struct {
		Value json.RawMessage `json:"value"`
		Role  string          `json:"role"`
	}
	if err := json.Unmarshal(outer.Value, &inner); err == nil && len(inner.Value) > 0 && inner.Role != "" {
		outer.Value = inner.Value
	}

	if err := json.Unmarshal(outer.Value, out); err != nil {
		return false, err
	}
	return true, nil
}
