package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semcore/internal/workspace"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the workspace root into the vector store",
	Long: `index walks the workspace root, chunks and embeds every file that
passed ignore filtering, and upserts the resulting vectors. Unchanged
files are skipped via the persisted content-hash record; files removed
since the last run are deleted from the store.`,
	RunE: runIndex,
}

// cliProgress prints plain stdout lines (one when a batch starts, one per
// progress update, one when it finishes) rather than a TTY-only progress bar.
type cliProgress struct{}

func (cliProgress) BatchStarted(paths []string) {
	fmt.Printf("indexing batch of %d files\n", len(paths))
}

func (cliProgress) Progress(done, total int, current string) {
	fmt.Printf("  [%d/%d] %s\n", done, total, current)
}

func (cliProgress) BatchFinished(upserted, deleted, failed int, err error) {
	if err != nil {
		fmt.Printf("  batch failed: %v\n", err)
		return
	}
	fmt.Printf("  upserted=%d deleted=%d failed=%d\n", upserted, deleted, failed)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	ws, err := workspace.Open(ctx, cfg, cliProgress{}, logger)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer ws.Close()

	if err := ws.IndexWorkspace(ctx); err != nil {
		return fmt.Errorf("indexing %s: %w", cfg.Workspace.Root, err)
	}
	fmt.Println("index complete")
	return nil
}
