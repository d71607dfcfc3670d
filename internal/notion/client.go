package notion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jomei/notionapi"

	"github.com/natikgadzhi/notion-mirror/internal/block"
)

// DefaultBackoff is how long a call waits after a 429 before its single retry.
const DefaultBackoff = 2 * time.Second

// ItemMeta is the page-level metadata a sync needs before it walks content.
type ItemMeta struct {
	ID         string
	Title      string
	Public     bool
	Password   string
	Slug       string
	Icon       string // emoji or image URL
	Cover      string
	Archived   bool
	LastEdited time.Time
	Properties notionapi.Properties
}

// Query selects rows from a database. Zero values mean "API default".
type Query struct {
	Filter   notionapi.Filter
	Sorts    []notionapi.SortObject
	PageSize int
	Cursor   string
}

// QueryResult is one page of database rows.
type QueryResult struct {
	Rows       []notionapi.Page
	NextCursor string
	HasMore    bool
}

// Client wraps the Notion API client with rate limiting and convenience methods.
type Client struct {
	api     *notionapi.Client
	limiter *RateLimiter
	shadow  *ShadowClient
	backoff time.Duration
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimiter replaces the default limiter.
func WithRateLimiter(l *RateLimiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithBackoff sets the wait before retrying a rate-limited call.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithShadow enables the record-map source used for layout hints. Its
// calls go through the client's rate limiter.
func WithShadow(s *ShadowClient) ClientOption {
	return func(c *Client) {
		c.shadow = s
	}
}

// NewClient creates a new Notion client with rate limiting.
func NewClient(token string, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: DefaultRateLimiter(),
		backoff: DefaultBackoff,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shadow != nil {
		c.shadow.limiter, c.shadow.backoff = c.limiter, c.backoff
	}
	return c
}

// call runs fn under the rate limiter. A 429 opens a back-off window and
// fn is retried once; any other error is returned as is.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) || attempt > 0 {
			return err
		}

		c.limiter.Pause(c.backoff)
		c.logger.Warn("rate limited by Notion API", "op", op, "retry_after", c.backoff)
	}
}

// GetItemMeta retrieves the metadata of a page.
func (c *Client) GetItemMeta(ctx context.Context, id string) (*ItemMeta, error) {
	var page *notionapi.Page
	err := c.call(ctx, "page.get", func() error {
		var err error
		page, err = c.api.Page.Get(ctx, notionapi.PageID(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching page %s: %w", id, err)
	}
	return pageMeta(page), nil
}

// PageMeta builds ItemMeta from an already fetched page, such as a
// database query row.
func PageMeta(page *notionapi.Page) *ItemMeta {
	return pageMeta(page)
}

func pageMeta(page *notionapi.Page) *ItemMeta {
	meta := &ItemMeta{
		ID:         block.NormalizeID(string(page.ID)),
		Title:      ExtractPageTitle(page),
		Public:     true,
		Archived:   page.Archived,
		LastEdited: time.Time(page.LastEditedTime),
		Properties: page.Properties,
	}
	if public, ok := PropertyBool(page.Properties, "Public", "Published"); ok {
		meta.Public = public
	}
	meta.Password = PropertyString(page.Properties, "Password")
	meta.Slug = PropertyString(page.Properties, "Slug")

	if page.Icon != nil {
		if page.Icon.Emoji != nil {
			meta.Icon = string(*page.Icon.Emoji)
		} else {
			meta.Icon = fileURL(page.Icon)
		}
	}
	if page.Cover != nil {
		meta.Cover = fileURL(page.Cover)
	}
	return meta
}

// GetBlockChildren retrieves all child blocks of a block with pagination.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string) ([]*block.Block, error) {
	var children []*block.Block
	var cursor notionapi.Cursor

	for {
		c.logger.Debug("fetching block children", "block_id", blockID, "cursor", cursor)

		var resp *notionapi.GetChildrenResponse
		err := c.call(ctx, "block.children", func() error {
			var err error
			resp, err = c.api.Block.GetChildren(ctx, notionapi.BlockID(blockID), &notionapi.Pagination{
				StartCursor: cursor,
				PageSize:    100,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetching children of %s: %w", blockID, err)
		}

		for _, raw := range resp.Results {
			b, err := block.FromNotion(raw)
			if err != nil {
				return nil, fmt.Errorf("decoding child of %s: %w", blockID, err)
			}
			children = append(children, b)
		}

		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	return children, nil
}

// RetrieveBlock fetches a single block.
func (c *Client) RetrieveBlock(ctx context.Context, id string) (*block.Block, error) {
	var raw notionapi.Block
	err := c.call(ctx, "block.get", func() error {
		var err error
		raw, err = c.api.Block.Get(ctx, notionapi.BlockID(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching block %s: %w", id, err)
	}
	return block.FromNotion(raw)
}

// GetDatabase retrieves a database by ID with rate limiting.
func (c *Client) GetDatabase(ctx context.Context, id string) (*notionapi.Database, error) {
	c.logger.Debug("fetching database", "id", id)

	var db *notionapi.Database
	err := c.call(ctx, "database.get", func() error {
		var err error
		db, err = c.api.Database.Get(ctx, notionapi.DatabaseID(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching database %s: %w", id, err)
	}
	return db, nil
}

// QueryDatabase fetches one page of rows.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) (*QueryResult, error) {
	c.logger.Debug("querying database", "database_id", databaseID, "cursor", q.Cursor)

	req := &notionapi.DatabaseQueryRequest{
		Filter:      q.Filter,
		Sorts:       q.Sorts,
		StartCursor: notionapi.Cursor(q.Cursor),
		PageSize:    q.PageSize,
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 100
	}

	var resp *notionapi.DatabaseQueryResponse
	err := c.call(ctx, "database.query", func() error {
		var err error
		resp, err = c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("querying database %s: %w", databaseID, err)
	}

	return &QueryResult{
		Rows:       resp.Results,
		NextCursor: string(resp.NextCursor),
		HasMore:    resp.HasMore,
	}, nil
}

// QueryAll follows cursors until the database is exhausted or limit rows
// were collected. limit <= 0 means no limit.
func (c *Client) QueryAll(ctx context.Context, databaseID string, q Query, limit int) ([]notionapi.Page, error) {
	var rows []notionapi.Page
	for {
		res, err := c.QueryDatabase(ctx, databaseID, q)
		if err != nil {
			return nil, err
		}
		rows = append(rows, res.Rows...)
		if limit > 0 && len(rows) >= limit {
			return rows[:limit], nil
		}
		if !res.HasMore || res.NextCursor == "" {
			return rows, nil
		}
		q.Cursor = res.NextCursor
	}
}

// GetShadowBundle loads the record map of a page. It returns nil when no
// shadow source is configured or the load fails; callers fall back to
// the plain block tree.
func (c *Client) GetShadowBundle(ctx context.Context, pageID string) *ShadowBundle {
	if c.shadow == nil {
		return nil
	}
	bundle, err := c.shadow.Load(ctx, pageID)
	if err != nil {
		c.logger.Warn("shadow bundle unavailable", "page_id", pageID, "error", err)
		return nil
	}
	return bundle
}

// ResourceType indicates whether a Notion ID refers to a page or database.
type ResourceType string

const (
	ResourceTypePage     ResourceType = "page"
	ResourceTypeDatabase ResourceType = "database"
)

// DetectResourceType tries to determine if an ID refers to a page or database.
// It tries the page endpoint first, then falls back to database.
func (c *Client) DetectResourceType(ctx context.Context, id string) (ResourceType, error) {
	_, err := c.GetItemMeta(ctx, id)
	if err == nil {
		return ResourceTypePage, nil
	}
	if !isNotFoundOrWrongTypeError(err) {
		return "", err
	}

	if _, err := c.GetDatabase(ctx, id); err != nil {
		if isNotFoundOrWrongTypeError(err) {
			return "", fmt.Errorf("resource %s not found or not shared with integration: %w", id, err)
		}
		return "", err
	}
	return ResourceTypeDatabase, nil
}
