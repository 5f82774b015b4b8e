package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semcore/internal/monitor"
	"github.com/fyrsmithlabs/semcore/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Open a live terminal dashboard over a running workspace's metrics",
	Long: `status opens the workspace at --root (without re-indexing) and polls
its metrics registry on an interval, rendering request/error counts,
query and embed latency, cache hit rate, and process memory as a
terminal dashboard.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	model := monitor.NewModel(ws.Metrics(), monitor.DefaultPollInterval)
	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running status dashboard: %w", err)
	}
	return nil
}
