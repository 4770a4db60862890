package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyderes/bitable-sync/internal/config"
	"github.com/cyderes/bitable-sync/internal/ingestion"
	"github.com/cyderes/bitable-sync/internal/server"
	"github.com/cyderes/bitable-sync/internal/storage"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync ledger over HTTP",
	Long:  "Starts a read-only HTTP server exposing the last sync status and the per-record outcomes.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup((*config.Config).ValidateForServe)
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return &exitError{code: ingestion.ExitLedger, err: fmt.Errorf("failed to initialize storage: %w", err)}
	}
	defer store.Close()

	gin.SetMode(gin.ReleaseMode)
	httpServer := server.NewServer(cfg.Server, store, logger.GetLogger("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
