package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/natikgadzhi/notion-mirror/internal/config"
	"github.com/natikgadzhi/notion-mirror/internal/media"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
	"github.com/natikgadzhi/notion-mirror/internal/store"
	mirrorsync "github.com/natikgadzhi/notion-mirror/internal/sync"
)

// Shared flag variables for all commands.
var (
	configPath string
	verbose    bool
)

// setupLogger creates and sets the default logger.
// If output is nil, logs go to stderr. Colors are only used on terminals.
func setupLogger(output io.Writer, verbose bool) *slog.Logger {
	if output == nil {
		output = os.Stderr
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := output.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	logger := slog.New(tint.NewHandler(output, &tint.Options{
		Level:   level,
		NoColor: noColor,
	}))
	slog.SetDefault(logger)

	return logger
}

// setupSignalHandler creates a context that cancels on SIGINT/SIGTERM.
// The returned cancel function should be deferred.
func setupSignalHandler(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("received shutdown signal, canceling...")
		cancel()
	}()

	return ctx, cancel
}

// rootTargets resolves configured roots to sync targets.
func rootTargets(roots []config.Root) ([]mirrorsync.Target, error) {
	targets := make([]mirrorsync.Target, 0, len(roots))
	for _, root := range roots {
		parsed, err := notion.ParseURL(root.URL)
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", root.Slug, err)
		}
		targets = append(targets, mirrorsync.Target{
			Slug:  root.Slug,
			ID:    parsed.ID,
			Title: root.Title,
		})
	}
	return targets, nil
}

// newClient builds the Notion client, with the record-map channel when
// enabled.
func newClient(cfg *config.Config, logger *slog.Logger) *notion.Client {
	opts := []notion.ClientOption{
		notion.WithBackoff(cfg.Sync.RateLimitBackoff),
		notion.WithRateLimiter(notion.NewRateLimiter(cfg.Sync.RequestsPerSecond, notion.DefaultBurst)),
	}
	if cfg.Shadow.ShouldFetch() {
		opts = append(opts, notion.WithShadow(notion.NewShadowClient(cfg.Shadow.BaseURL, cfg.NotionTokenV2, logger)))
	}
	return notion.NewClient(cfg.NotionToken, logger, opts...)
}

// newUploader picks the media host named by media.provider.
func newUploader(cfg *config.Config, dryRun bool, logger *slog.Logger) (media.Uploader, error) {
	switch cfg.Media.Provider {
	case config.ProviderCloudinary:
		if dryRun {
			return media.NewDirUploader(os.TempDir(), cfg.Media.BaseURL, true, logger), nil
		}
		up, err := media.NewCloudinaryUploader(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.Media.Folder)
		if err != nil {
			return nil, fmt.Errorf("creating cloudinary uploader: %w", err)
		}
		return up, nil
	default:
		return media.NewDirUploader(cfg.Media.Dir, cfg.Media.BaseURL, dryRun, logger), nil
	}
}

// newInvalidator posts to the revalidation webhook when one is configured.
func newInvalidator(cfg *config.Config, dryRun bool, logger *slog.Logger) store.Invalidator {
	if cfg.Invalidation.WebhookURL == "" || dryRun {
		return store.NewLogInvalidator(logger)
	}
	return store.NewWebhookInvalidator(cfg.Invalidation.WebhookURL, cfg.RevalidateSecret, logger)
}

// newSyncer wires the pipeline from configuration.
func newSyncer(cfg *config.Config, st *store.SQLite, dryRun bool, logger *slog.Logger) (*mirrorsync.Syncer, error) {
	targets, err := rootTargets(cfg.Sync.Roots)
	if err != nil {
		return nil, err
	}

	up, err := newUploader(cfg, dryRun, logger)
	if err != nil {
		return nil, err
	}

	opts := []mirrorsync.SyncerOption{
		mirrorsync.WithRoots(targets...),
		mirrorsync.WithInvalidator(newInvalidator(cfg, dryRun, logger)),
		mirrorsync.WithMaxChildPages(cfg.Sync.MaxChildPages),
		mirrorsync.WithChildConcurrency(cfg.Sync.ChildConcurrency),
		mirrorsync.WithBatchSize(cfg.Sync.WalkerBatchSize),
		mirrorsync.WithBudget(mirrorsync.Budget{
			MaxDepth: cfg.Sync.MaxDepth,
			MaxItems: cfg.Sync.MaxItems,
		}),
	}
	if cfg.Sync.PostsDatabase != "" {
		parsed, err := notion.ParseURL(cfg.Sync.PostsDatabase)
		if err != nil {
			return nil, fmt.Errorf("sync.posts_database: %w", err)
		}
		opts = append(opts, mirrorsync.WithPostsDatabase(parsed.ID))
	}

	return mirrorsync.NewSyncer(newClient(cfg, logger), st, up, logger, opts...), nil
}
