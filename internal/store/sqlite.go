package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/natikgadzhi/notion-mirror/internal/block"
	"github.com/natikgadzhi/notion-mirror/internal/collection"
	"github.com/natikgadzhi/notion-mirror/internal/media"
	"github.com/natikgadzhi/notion-mirror/internal/store/migrations"
)

// DefaultPath is used when no store path is configured.
const DefaultPath = "data/mirror.db"

// SQLite is the content store backed by a single SQLite file.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the store at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db, path: path, logger: logger}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", "name", name)
	}

	return nil
}

// GetBundle returns the bundle stored under slug, or nil if there is none.
func (s *SQLite) GetBundle(ctx context.Context, slug string) (*Bundle, error) {
	var metaJSON, blocksJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT meta, blocks FROM bundles WHERE slug = ?", slug,
	).Scan(&metaJSON, &blocksJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting bundle %s: %w", slug, err)
	}

	var b Bundle
	if err := json.Unmarshal([]byte(metaJSON), &b.Meta); err != nil {
		return nil, fmt.Errorf("decoding meta of %s: %w", slug, err)
	}
	if err := json.Unmarshal([]byte(blocksJSON), &b.Blocks); err != nil {
		return nil, fmt.Errorf("decoding blocks of %s: %w", slug, err)
	}
	return &b, nil
}

// PutBundle replaces the bundle stored under slug.
func (s *SQLite) PutBundle(ctx context.Context, slug string, b *Bundle) error {
	metaJSON, err := json.Marshal(b.Meta)
	if err != nil {
		return fmt.Errorf("encoding meta of %s: %w", slug, err)
	}
	blocksJSON, err := json.Marshal(b.Blocks)
	if err != nil {
		return fmt.Errorf("encoding blocks of %s: %w", slug, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bundles (slug, remote_id, last_edited, meta, blocks, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			remote_id = excluded.remote_id,
			last_edited = excluded.last_edited,
			meta = excluded.meta,
			blocks = excluded.blocks,
			updated_at = excluded.updated_at
	`, slug, b.Meta.RemoteID, b.Meta.LastEdited.UTC().Format(time.RFC3339Nano),
		string(metaJSON), string(blocksJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving bundle %s: %w", slug, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bundle %s: %w", slug, err)
	}
	return nil
}

// PutCollectionBundle replaces one view of a database. Databases are keyed
// by their normalized id.
func (s *SQLite) PutCollectionBundle(ctx context.Context, databaseID, viewKey string, b *collection.Bundle) error {
	databaseID = block.NormalizeID(databaseID)
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding collection %s: %w", databaseID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (database_id, view_key, bundle, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(database_id, view_key) DO UPDATE SET
			bundle = excluded.bundle,
			updated_at = excluded.updated_at
	`, databaseID, viewKey, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving collection %s/%s: %w", databaseID, viewKey, err)
	}
	return nil
}

// GetCollectionBundle returns one stored view of a database, or nil.
func (s *SQLite) GetCollectionBundle(ctx context.Context, databaseID, viewKey string) (*collection.Bundle, error) {
	databaseID = block.NormalizeID(databaseID)
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT bundle FROM collections WHERE database_id = ? AND view_key = ?", databaseID, viewKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting collection %s/%s: %w", databaseID, viewKey, err)
	}

	var b collection.Bundle
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("decoding collection %s/%s: %w", databaseID, viewKey, err)
	}
	return &b, nil
}

// PutPostsIndex replaces the posts index.
func (s *SQLite) PutPostsIndex(ctx context.Context, items []collection.Item) error {
	if items == nil {
		items = []collection.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding posts index: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts_index (id, items, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET items = excluded.items, updated_at = excluded.updated_at
	`, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving posts index: %w", err)
	}
	return nil
}

// GetPostsIndex returns the posts index, empty when none was written.
func (s *SQLite) GetPostsIndex(ctx context.Context) ([]collection.Item, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT items FROM posts_index WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting posts index: %w", err)
	}

	var items []collection.Item
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("decoding posts index: %w", err)
	}
	return items, nil
}

// GetMedia returns the mirrored asset stored under key, or nil.
func (s *SQLite) GetMedia(ctx context.Context, key string) (*media.Entry, error) {
	var e media.Entry
	err := s.db.QueryRowContext(ctx,
		"SELECT url, width, height FROM media WHERE key = ?", key,
	).Scan(&e.URL, &e.Width, &e.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting media %s: %w", key, err)
	}
	return &e, nil
}

// PutMedia remembers a mirrored asset.
func (s *SQLite) PutMedia(ctx context.Context, key string, e media.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media (key, url, width, height) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET url = excluded.url, width = excluded.width, height = excluded.height
	`, key, e.URL, e.Width, e.Height)
	if err != nil {
		return fmt.Errorf("saving media %s: %w", key, err)
	}
	return nil
}

// Counts reports how many rows each table holds.
func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM bundles),
			(SELECT COUNT(*) FROM collections),
			(SELECT COUNT(*) FROM media),
			COALESCE((SELECT json_array_length(items) FROM posts_index WHERE id = 1), 0)
	`).Scan(&c.Bundles, &c.Collections, &c.Media, &c.Posts)
	if err != nil {
		return Counts{}, fmt.Errorf("counting rows: %w", err)
	}
	return c, nil
}
