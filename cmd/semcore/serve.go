package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semcore/internal/workspace"
)

const serveShutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexer as a long-running daemon with an operator HTTP surface",
	Long: `serve runs an initial index pass, starts the filesystem watcher, and
exposes a local-only operator HTTP surface: /healthz for liveness,
/metrics for Prometheus scraping, and /debug/reindex to trigger a fresh
full index without restarting the process. This is not the host-editor
query RPC fabric; it is an operator surface for running semcore
unattended.`,
	RunE: runServe,
}

// opsServer wraps the workspace with an echo router and rejects a
// /debug/reindex trigger while an earlier one is still running.
type opsServer struct {
	ws     *workspace.Workspace
	logger *zap.Logger

	reindexMu sync.Mutex
}

func newOpsServer(ws *workspace.Workspace, logger *zap.Logger) *echo.Echo {
	s := &opsServer{ws: ws, logger: logger}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(ws.Metrics().Handler()))
	e.POST("/debug/reindex", s.handleReindex)

	return e
}

func (s *opsServer) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *opsServer) handleReindex(c echo.Context) error {
	if !s.reindexMu.TryLock() {
		return c.JSON(http.StatusConflict, map[string]string{"status": "reindex already in progress"})
	}

	go func() {
		defer s.reindexMu.Unlock()
		ctx := context.Background()
		if err := s.ws.IndexWorkspace(ctx); err != nil {
			s.logger.Error("debug reindex failed", zap.Error(err))
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "reindex started"})
}

func runServe(cmd *cobra.Command, args []string) error {
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
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	ws, err := workspace.Open(ctx, cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer ws.Close()

	if err := ws.IndexWorkspace(ctx); err != nil {
		return fmt.Errorf("initial index of %s: %w", cfg.Workspace.Root, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.RunWatch(ctx); err != nil && ctx.Err() == nil {
			logger.Error("watch loop exited", zap.Error(err))
		}
	}()

	var echoErr error
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr != "" {
		e := newOpsServer(ws, logger)
		errCh := make(chan error, 1)
		go func() {
			if err := e.Start(cfg.Metrics.ListenAddr); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
		logger.Info("ops surface listening", zap.String("addr", cfg.Metrics.ListenAddr))

		select {
		case echoErr = <-errCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops surface shutdown error", zap.Error(err))
		}
		shutdownCancel()
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	return echoErr
}
