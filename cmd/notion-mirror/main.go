// Command notion-mirror copies Notion pages and databases into the SQLite
// content store a website renders from.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "notion-mirror",
	Short: "Mirror Notion pages into a local content store",
	Long: `notion-mirror keeps a SQLite content store in step with Notion.

Each configured root page is fetched with its whole block tree. Layout
the public API hides (columns, image sizes, buttons) is merged in from
the page record map, images are copied to the media host, and linked
databases and child pages become items of their own. Unchanged pages
are skipped unless --force is given.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("notion-mirror %s (commit %s, built %s)", version, commit, date)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.SetVersionTemplate(versionString() + "\n")
	rootCmd.AddCommand(syncCmd, serveCmd, statusCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
