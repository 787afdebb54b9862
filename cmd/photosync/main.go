package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapwire/photosync/internal/api"
	"github.com/snapwire/photosync/internal/config"
	"github.com/snapwire/photosync/internal/engine"
	apperrors "github.com/snapwire/photosync/internal/errors"
	"github.com/snapwire/photosync/internal/hasher"
	"github.com/snapwire/photosync/internal/library"
	"github.com/snapwire/photosync/internal/logging"
	"github.com/snapwire/photosync/internal/settings"
	"github.com/snapwire/photosync/internal/store"
	"github.com/snapwire/photosync/internal/syncer"
	"github.com/snapwire/photosync/internal/uploader"
)

var Version = "dev"

// cleanupInterval is how often completed ledger rows are considered for
// purging.
const cleanupInterval = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("photosync starting",
		slog.String("version", Version),
		slog.String("library", cfg.LibraryDir),
		slog.String("device", cfg.DeviceName),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sets, err := settings.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	defer sets.Close()

	apiKey, err := resolveAPIKey(cfg, sets)
	if err != nil {
		return err
	}

	deviceID, err := sets.DeviceID()
	if err != nil {
		return err
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "photosync.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	lib, err := library.NewDirLibrary(cfg.LibraryDir)
	if err != nil {
		return fmt.Errorf("opening library: %w", err)
	}

	client := api.NewClient(cfg.ServerURL, apiKey, deviceID, nil)

	sync := syncer.New(client, st, logger, cfg.FullSyncPageSize)
	eng := engine.New(lib, hasher.New(lib, logger), st, logger, cfg.HashWorkers, cfg.CheckWorkers)
	up := uploader.New(client, st, lib, logger, cfg.UploadWorkers)
	watcher := library.NewWatcher(lib, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Watch(gctx)
	})

	g.Go(func() error {
		return loop(gctx, cfg, logger, sync, eng, up, watcher, sets)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("photosync stopped")
		return nil
	}

	return err
}

// resolveAPIKey prefers the environment key, sealing it into the
// settings database for later runs; with no environment key, the
// previously sealed one is used.
func resolveAPIKey(cfg *config.Config, sets *settings.Settings) (string, error) {
	if cfg.APIKey != "" {
		if err := sets.StoreAPIKey(cfg.APIKey); err != nil {
			return "", fmt.Errorf("storing api key: %w", err)
		}

		return cfg.APIKey, nil
	}

	apiKey, err := sets.APIKey()
	if err != nil {
		return "", fmt.Errorf("reading stored api key: %w", err)
	}

	if apiKey == "" {
		return "", fmt.Errorf("no API key: set PHOTOSYNC_API_KEY for the first run")
	}

	return apiKey, nil
}

// loop drives the sync cycle: refresh the remote index, reconcile, then
// upload whatever is missing. Cycles run on a timer and are also
// triggered by library changes.
func loop(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	sync *syncer.Syncer, eng *engine.Engine, up *uploader.Uploader,
	watcher *library.Watcher, sets *settings.Settings,
) error {
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	// First cycle runs immediately on startup.
	cycle(ctx, cfg, logger, sync, eng, up, sets)

	for {
		select {
		case <-ctx.Done():
			eng.Stop()
			return ctx.Err()

		case <-ticker.C:
			cycle(ctx, cfg, logger, sync, eng, up, sets)

		case <-watcher.Changes():
			logger.Info("library changed, reconciling")
			cycle(ctx, cfg, logger, sync, eng, up, sets)
		}
	}
}

func cycle(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	sync *syncer.Syncer, eng *engine.Engine, up *uploader.Uploader, sets *settings.Settings,
) {
	result, err := sync.Sync(ctx)
	if err != nil {
		logger.Error("remote index sync failed", slog.Any("error", err))

		if !errors.Is(err, apperrors.ErrRemoteSyncFailed) {
			return
		}
		// Reconciliation still runs: the ledger and a stale mirror are
		// enough to make progress on local hashing.
	} else {
		logger.Info("remote index synced",
			slog.String("type", string(result.Type)),
			slog.Int64("total", result.TotalAssets),
		)
	}

	if err := eng.Run(ctx); err != nil {
		if errors.Is(err, apperrors.ErrSyncInProgress) {
			logger.Debug("reconciliation already running, skipping")
			return
		}

		logger.Error("reconciliation failed", slog.Any("error", err))

		return
	}

	stats, err := up.Run(ctx)
	if err != nil {
		logger.Error("upload run failed", slog.Any("error", err))
		return
	}

	if stats.Uploaded > 0 || stats.Duplicates > 0 || stats.Failed > 0 {
		logger.Info("upload run complete",
			slog.Int64("uploaded", stats.Uploaded),
			slog.Int64("duplicates", stats.Duplicates),
			slog.Int64("failed", stats.Failed),
		)
	}

	maybeCleanup(ctx, cfg, logger, up, sets)
}

func maybeCleanup(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	up *uploader.Uploader, sets *settings.Settings,
) {
	last, err := sets.LastCleanup()
	if err != nil {
		logger.Warn("reading cleanup marker", slog.Any("error", err))
		return
	}

	if time.Since(last) < cleanupInterval {
		return
	}

	if _, err := up.PurgeCompleted(ctx, cfg.JobRetention); err != nil {
		logger.Warn("ledger cleanup failed", slog.Any("error", err))
		return
	}

	if err := sets.SetLastCleanup(time.Now()); err != nil {
		logger.Warn("saving cleanup marker", slog.Any("error", err))
	}
}
