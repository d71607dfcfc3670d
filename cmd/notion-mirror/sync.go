package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/natikgadzhi/notion-mirror/internal/config"
	"github.com/natikgadzhi/notion-mirror/internal/store"
	mirrorsync "github.com/natikgadzhi/notion-mirror/internal/sync"
)

var (
	syncSlug string
	dryRun   bool
	force    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync Notion content into the content store",
	Long: `Sync fetches the configured roots and posts database from Notion
and commits them to the content store.

Items whose last edit time matches the stored copy are skipped. Use
--force to rebuild them anyway, and --slug to sync a single stored or
configured item.

The run summary is printed to stdout as JSON. Logs go to stderr.

With --dry-run, the run writes to a throwaway store, media is not
written and invalidation signals are only logged.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncSlug, "slug", "s", "", "sync only the item stored or configured under this slug")
	syncCmd.Flags().BoolVarP(&force, "force", "f", false, "rebuild items even when unchanged")
	syncCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "run against a throwaway store without writing media")
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := setupLogger(nil, verbose)

	ctx, cancel := setupSignalHandler(logger)
	defer cancel()

	logger.Info("loading configuration", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	storePath := cfg.Store.Path
	if dryRun {
		tmp, err := os.MkdirTemp("", "notion-mirror-dry-run-")
		if err != nil {
			return fmt.Errorf("creating dry-run store: %w", err)
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		storePath = filepath.Join(tmp, "mirror.db")
		logger.Info("dry-run mode enabled, the content store and media will not be written")
	}

	st, err := store.Open(storePath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	syncer, err := newSyncer(cfg, st, dryRun, logger)
	if err != nil {
		return fmt.Errorf("creating syncer: %w", err)
	}

	sum, err := syncer.Sync(ctx, syncSlug, force)
	if sum != nil {
		if werr := writeSummary(cmd.OutOrStdout(), sum); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if sum.Failed > 0 {
		return fmt.Errorf("sync completed with %d failed items", sum.Failed)
	}
	return nil
}

// writeSummary prints the run summary as indented JSON.
func writeSummary(w io.Writer, sum *mirrorsync.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
