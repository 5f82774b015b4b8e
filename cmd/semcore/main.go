// Command semcore is the operator-facing CLI and long-running daemon for
// the semantic code search core: one-shot index/search commands for
// editor integrations to shell out to, and a watch/serve pair for the
// long-running indexing process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagRoot     string
	flagCacheDir string
	flagConfig   string

	// version is set via -ldflags at release build time.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "semcore",
	Short:   "Semantic code search core",
	Long:    `semcore indexes a source tree into an embedding-backed vector store and serves semantic search over it.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "workspace root to index")
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "persistent state directory (defaults to .semcore in the current directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file (defaults to .semcore/config.yaml in the current directory)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(grepCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

func printVersion() {
	fmt.Printf("semcore %s\n", version)
}
