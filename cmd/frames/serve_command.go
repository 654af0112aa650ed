package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"frames/internal/assets"
	"frames/internal/ledger"
	"frames/internal/logging"
	"frames/internal/media"
	"frames/internal/notifications"
	"frames/internal/server"
	"frames/internal/transcode"
	"frames/internal/upload"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload API and transcoding workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx)
		},
	}
}

func runServe(cmd *cobra.Command, cmdCtx *commandContext) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "frames.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another frames instance holds %s", lockPath)
	}
	defer lock.Unlock() //nolint:errcheck

	store, err := ledger.Open(ledgerPath(cfg))
	if err != nil {
		return fmt.Errorf("open job ledger: %w", err)
	}
	defer store.Close()

	catalog, err := assets.Open(catalogPath(cfg))
	if err != nil {
		return fmt.Errorf("open asset catalog: %w", err)
	}
	defer catalog.Close()

	client, err := media.New(cfg.Transcode)
	if err != nil {
		return fmt.Errorf("init media tools: %w", err)
	}
	notifier := notifications.NewService(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipeline := transcode.NewPipeline(client, store, cfg.Paths, cfg.Transcode.Renditions, logger)
	pool := transcode.NewPool(store, pipeline, catalog, notifier, cfg.Workflow, logger)
	pool.Start(ctx)

	tracker := upload.NewTracker()
	receiver := upload.NewReceiver(tracker, cfg.Paths.IncomingDir,
		uint64(cfg.Upload.MaxFileGiB)<<30, uint64(cfg.Upload.MinFreeGiB)<<30, logger)
	reassembler := upload.NewReassembler(receiver, logger)

	sweeper := transcode.NewSweeper(store, catalog, notifier, receiver, cfg.Paths, cfg.Workflow, logger)
	sweeper.Start(ctx)

	srv := server.New(server.Deps{
		Config:      cfg,
		Logger:      logger,
		Tracker:     tracker,
		Receiver:    receiver,
		Reassembler: reassembler,
		Ledger:      store,
		Catalog:     catalog,
		Pool:        pool,
		Notifier:    notifier,
	})

	httpServer := srv.HTTPServer()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", logging.String("bind", cfg.Paths.APIBind))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
			pool.Wait()
			sweeper.Wait()
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}

	srv.WaitBackground()
	cancel()
	pool.Wait()
	sweeper.Wait()
	logger.Info("frames stopped")
	return nil
}
