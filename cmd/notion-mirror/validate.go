package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/natikgadzhi/notion-mirror/internal/config"
	"github.com/natikgadzhi/notion-mirror/internal/notion"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and Notion connectivity",
	Long: `Validate loads the configuration and checks that notion-mirror can
reach everything it names:

  - the config file parses and carries every required secret
  - every root is a page shared with the integration
  - the posts database, if set, is shared with the integration
  - the media directory (dir provider) and the store directory are writable

Nothing is written to the store.`,
	RunE: runValidate,
}

var errValidation = errors.New("validation failed")

type checkResult struct {
	name   string
	err    error
	detail string
}

// report collects check outcomes in the order they ran.
type report struct {
	results []checkResult
}

func (r *report) pass(name, detail string) {
	r.results = append(r.results, checkResult{name: name, detail: detail})
}

func (r *report) check(name string, err error) {
	r.results = append(r.results, checkResult{name: name, err: err})
}

func (r *report) failed() bool {
	for _, res := range r.results {
		if res.err != nil {
			return true
		}
	}
	return false
}

func (r *report) print(w io.Writer) {
	for _, res := range r.results {
		switch {
		case res.err != nil:
			_, _ = fmt.Fprintf(w, "FAIL  %s: %v\n", res.name, res.err)
		case res.detail != "":
			_, _ = fmt.Fprintf(w, "ok    %s (%s)\n", res.name, res.detail)
		default:
			_, _ = fmt.Fprintf(w, "ok    %s\n", res.name)
		}
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := setupLogger(nil, verbose)
	ctx, cancel := setupSignalHandler(logger)
	defer cancel()

	out := cmd.OutOrStdout()
	var rep report

	cfg, err := config.Load(configPath)
	rep.check("config "+configPath, err)
	if err != nil {
		rep.print(out)
		return errValidation
	}

	if cfg.TriggerToken == "" {
		rep.pass("MIRROR_TRIGGER_TOKEN", "unset, serve will refuse to start")
	} else {
		rep.pass("MIRROR_TRIGGER_TOKEN", "")
	}

	client := newClient(cfg, logger)

	for _, root := range cfg.Sync.Roots {
		name := "root " + rootLabel(root)
		ref, err := notion.ParseURL(root.URL)
		if err != nil {
			rep.check(name, err)
			continue
		}
		logger.Debug("checking root", "slug", root.Slug, "id", ref.ID)
		kind, err := client.DetectResourceType(ctx, ref.ID)
		if err == nil && kind != notion.ResourceTypePage {
			err = fmt.Errorf("%s is a %s, roots must be pages", ref.ID, kind)
		}
		rep.check(name, err)
	}

	if cfg.Sync.PostsDatabase != "" {
		rep.check("posts database", checkPostsDatabase(ctx, client, cfg.Sync.PostsDatabase))
	}

	if cfg.Media.Provider == config.ProviderDir {
		rep.check("media dir "+cfg.Media.Dir, checkWritableDir(cfg.Media.Dir))
	} else {
		rep.pass("media provider", cfg.Media.Provider)
	}
	rep.check("store dir "+filepath.Dir(cfg.Store.Path), checkWritableDir(filepath.Dir(cfg.Store.Path)))

	rep.print(out)
	if rep.failed() {
		return errValidation
	}
	_, _ = fmt.Fprintln(out, "all checks passed")
	return nil
}

func checkPostsDatabase(ctx context.Context, client *notion.Client, ref string) error {
	parsed, err := notion.ParseURL(ref)
	if err != nil {
		return err
	}
	if _, err := client.GetDatabase(ctx, parsed.ID); err != nil {
		if notion.IsNoAccess(err) {
			return fmt.Errorf("not shared with the integration: %w", err)
		}
		return err
	}
	return nil
}

// rootLabel names a root in check output.
func rootLabel(root config.Root) string {
	if root.Slug != "" {
		return root.Slug
	}
	if ref, err := notion.ParseURL(root.URL); err == nil {
		return ref.RawID
	}
	return root.URL
}

// checkWritableDir creates dir if needed and proves a file can be written
// in it.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".notion-mirror-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_ = f.Close()
	return os.Remove(f.Name())
}
