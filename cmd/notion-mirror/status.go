package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/natikgadzhi/notion-mirror/internal/config"
	"github.com/natikgadzhi/notion-mirror/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the content store holds",
	Long: `Status displays information about the content store, including:
- Where the store and media live
- Number of stored items and database views
- Number of mirrored media assets and indexed posts`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger(nil, verbose)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := os.Stat(cfg.Store.Path); err != nil {
		printStatus(cmd.OutOrStdout(), cfg, nil)
		return nil
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	counts, err := st.Counts(context.Background())
	if err != nil {
		return fmt.Errorf("counting store contents: %w", err)
	}

	printStatus(cmd.OutOrStdout(), cfg, &counts)
	return nil
}

// printStatus outputs the store summary to the given writer. A nil counts
// means the store has not been created yet.
func printStatus(w io.Writer, cfg *config.Config, counts *store.Counts) {
	_, _ = fmt.Fprintln(w, "Notion Mirror Status")
	_, _ = fmt.Fprintln(w, "====================")
	_, _ = fmt.Fprintln(w)

	// Config info
	_, _ = fmt.Fprintf(w, "Config file:  %s\n", configPath)
	_, _ = fmt.Fprintf(w, "Store:        %s\n", cfg.Store.Path)
	switch cfg.Media.Provider {
	case config.ProviderCloudinary:
		_, _ = fmt.Fprintf(w, "Media:        cloudinary (%s)\n", cfg.CloudinaryCloudName)
	default:
		_, _ = fmt.Fprintf(w, "Media:        %s -> %s\n", cfg.Media.Dir, cfg.Media.BaseURL)
	}
	_, _ = fmt.Fprintf(w, "Roots:        %d\n", len(cfg.Sync.Roots))
	_, _ = fmt.Fprintln(w)

	if counts == nil {
		_, _ = fmt.Fprintln(w, "No content synced yet. Run 'notion-mirror sync' to sync content.")
		return
	}

	_, _ = fmt.Fprintln(w, "Summary")
	_, _ = fmt.Fprintln(w, "-------")
	_, _ = fmt.Fprintf(w, "Items:             %d\n", counts.Bundles)
	_, _ = fmt.Fprintf(w, "Database views:    %d\n", counts.Collections)
	_, _ = fmt.Fprintf(w, "Media assets:      %d\n", counts.Media)
	_, _ = fmt.Fprintf(w, "Indexed posts:     %d\n", counts.Posts)

	if counts.Bundles == 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "No content synced yet. Run 'notion-mirror sync' to sync content.")
	}
}
