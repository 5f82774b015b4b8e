package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semcore/internal/query"
	"github.com/fyrsmithlabs/semcore/internal/workspace"
)

var (
	searchK          int
	searchLanguage   string
	searchPathPrefix string
	searchMinScore   float32
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a semantic search against the indexed workspace",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 10, "number of results to return")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "", "restrict results to this language")
	searchCmd.Flags().StringVar(&searchPathPrefix, "path-prefix", "", "restrict results to paths under this prefix")
	searchCmd.Flags().Float32Var(&searchMinScore, "min-score", 0, "drop results scoring below this threshold")
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	q := strings.Join(args, " ")
	results, err := ws.SemanticSearch(ctx, q, searchK, query.Filter{
		Language:   searchLanguage,
		PathPrefix: searchPathPrefix,
		MinScore:   searchMinScore,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for i, r := range results {
		fmt.Printf("%d. %s:%d-%d  score=%.4f\n", i+1, r.Path, r.StartLine, r.EndLine, r.Score)
		fmt.Println(indent(r.Content))
	}
	if len(results) == 0 {
		fmt.Println("no results")
	}
	return nil
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
