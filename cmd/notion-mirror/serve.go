package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/natikgadzhi/notion-mirror/internal/config"
	"github.com/natikgadzhi/notion-mirror/internal/notify"
	"github.com/natikgadzhi/notion-mirror/internal/server"
	"github.com/natikgadzhi/notion-mirror/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP sync trigger",
	Long: `Serve listens for sync triggers:

  POST /api/sync?slug=<slug>&force=<bool>   (Authorization: Bearer $MIRROR_TRIGGER_TOKEN)
  GET  /healthz

A triggered run answers with its JSON summary. A run that fails is
reported to notify.webhook_url when configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(nil, verbose)

	ctx, cancel := setupSignalHandler(logger)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	syncer, err := newSyncer(cfg, st, false, logger)
	if err != nil {
		return fmt.Errorf("creating syncer: %w", err)
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(syncer, notify.New(cfg.Notify.WebhookURL, logger), cfg.TriggerToken, logger)
	return srv.Run(ctx, addr)
}
