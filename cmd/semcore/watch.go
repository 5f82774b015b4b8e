package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semcore/internal/workspace"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Index the workspace, then keep it in sync with filesystem events",
	Long: `watch runs a full index pass, then blocks watching the workspace
root for filesystem changes, incrementally re-indexing each changed file
until interrupted.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("received interrupt, shutting down")
		cancel()
	}()

	ws, err := workspace.Open(ctx, cfg, cliProgress{}, logger)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer ws.Close()

	if err := ws.IndexWorkspace(ctx); err != nil {
		return fmt.Errorf("initial index of %s: %w", cfg.Workspace.Root, err)
	}

	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", cfg.Workspace.Root)
	if err := ws.RunWatch(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch loop: %w", err)
	}
	return nil
}
