package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semcore/internal/scanner"
	"github.com/fyrsmithlabs/semcore/internal/workspace"
)

var grepCaseSensitive bool

var grepCmd = &cobra.Command{
	Use:   "grep [pattern]",
	Short: "Exact regex search over the workspace, ignoring the same paths as index",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrep,
}

func init() {
	grepCmd.Flags().BoolVar(&grepCaseSensitive, "case-sensitive", false, "match pattern case-sensitively")
}

func runGrep(cmd *cobra.Command, args []string) error {
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
	ws, err := workspace.Open(ctx, cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer ws.Close()

	results, err := ws.Grep(ctx, args[0], scanner.GrepOptions{CaseSensitive: grepCaseSensitive})
	if err != nil {
		return fmt.Errorf("grep: %w", err)
	}

	for _, r := range results {
		fmt.Printf("%s:%d: %s\n", r.Path, r.LineNumber, r.Content)
	}
	if len(results) == 0 {
		fmt.Println("no matches")
	}
	return nil
}
