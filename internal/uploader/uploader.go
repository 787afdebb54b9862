// Package uploader pushes resources the engine classified as missing
// remotely, recording every attempt and result in the upload ledger so
// interrupted work resumes without re-transferring anything.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapwire/photosync/internal/api"
	"github.com/snapwire/photosync/internal/library"
	"github.com/snapwire/photosync/internal/store"
)

// Transport is the upload surface of the remote asset store.
type Transport interface {
	UploadResource(ctx context.Context, meta api.UploadRequest, content io.Reader) (*api.UploadResponse, error)
	UpdateFavorites(ctx context.Context, req api.UpdateFavoritesRequest) error
}

// Store is the ledger and hash-cache surface the uploader writes through.
type Store interface {
	RecordsNotFullyOnServer(ctx context.Context) ([]store.HashCacheRecord, error)
	RecordAttempt(ctx context.Context, assetID string, rt library.ResourceType, filename string, status store.JobStatus) error
	RecordResult(ctx context.Context, rec store.UploadedAssetRecord) error
	MarkFailed(ctx context.Context, assetID string, rt library.ResourceType, errMsg string) error
	SetUploadedFavorites(ctx context.Context, remoteIDs []string, isFavorite bool) error
	PurgeCompletedJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Stats summarizes one upload run.
type Stats struct {
	Uploaded   int64
	Duplicates int64
	Failed     int64
}

// Uploader uploads missing resources under a bounded worker budget.
type Uploader struct {
	transport Transport
	store     Store
	lib       library.Library
	logger    *slog.Logger
	workers   int
}

// New creates an uploader with the given concurrency budget.
func New(transport Transport, st Store, lib library.Library, logger *slog.Logger, workers int) *Uploader {
	return &Uploader{transport: transport, store: st, lib: lib, logger: logger, workers: workers}
}

// Run uploads every resource whose record fails the completeness rule.
// Per-asset failures are recorded in the ledger and never abort the run.
func (u *Uploader) Run(ctx context.Context) (*Stats, error) {
	recs, err := u.store.RecordsNotFullyOnServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("selecting assets to upload: %w", err)
	}

	var stats struct {
		uploaded   atomic.Int64
		duplicates atomic.Int64
		failed     atomic.Int64
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)

	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			uploaded, duplicates, failed := u.uploadAsset(ctx, rec)
			stats.uploaded.Add(uploaded)
			stats.duplicates.Add(duplicates)
			stats.failed.Add(failed)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload run: %w", err)
	}

	return &Stats{
		Uploaded:   stats.uploaded.Load(),
		Duplicates: stats.duplicates.Load(),
		Failed:     stats.failed.Load(),
	}, nil
}

// uploadAsset uploads whichever of the asset's resources are still
// missing remotely.
func (u *Uploader) uploadAsset(ctx context.Context, rec store.HashCacheRecord) (uploaded, duplicates, failed int64) {
	resources, err := u.lib.Resources(ctx, rec.AssetID)
	if err != nil {
		u.logger.Warn("resolving resources failed",
			slog.String("asset", rec.AssetID), slog.Any("error", err))

		return 0, 0, 1
	}

	for _, res := range resources {
		if res.Type().IsPrimary() && rec.PrimaryOnServer {
			continue
		}

		if res.Type() == library.ResourceRAW && (rec.RAWOnServer || !rec.HasRAW) {
			continue
		}

		size := rec.PrimarySize
		if res.Type() == library.ResourceRAW && rec.RAWSize != nil {
			size = *rec.RAWSize
		}

		resp, err := u.uploadResource(ctx, rec.AssetID, res, size)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return uploaded, duplicates, failed
			}

			u.logger.Warn("upload failed",
				slog.String("asset", rec.AssetID),
				slog.String("type", string(res.Type())),
				slog.Any("error", err))

			failed++

			continue
		}

		if resp.Duplicate {
			duplicates++
		} else {
			uploaded++
		}
	}

	return uploaded, duplicates, failed
}

func (u *Uploader) uploadResource(ctx context.Context, assetID string, res library.Resource, size int64) (*api.UploadResponse, error) {
	filename := res.OriginalFilename()

	if err := u.store.RecordAttempt(ctx, assetID, res.Type(), filename, store.JobUploading); err != nil {
		return nil, fmt.Errorf("recording attempt: %w", err)
	}

	stream, err := res.Open(ctx)
	if err != nil {
		u.markFailed(ctx, assetID, res.Type(), err)
		return nil, fmt.Errorf("opening resource: %w", err)
	}
	defer stream.Close()

	meta := api.UploadRequest{
		DeviceAssetID: assetID + "-" + string(res.Type()),
		Filename:      filename,
		MimeType:      res.UTI(),
	}

	// The filesystem tracks no creation time; the modification time is
	// the closest thing to a capture date the file itself can offer.
	if mt := res.ModTime(); !mt.IsZero() {
		meta.CreatedAt = mt.UTC().Format(time.RFC3339)
		meta.ModifiedAt = meta.CreatedAt
	}

	resp, err := u.transport.UploadResource(ctx, meta, stream)
	if err != nil {
		u.markFailed(ctx, assetID, res.Type(), err)
		return nil, err
	}

	err = u.store.RecordResult(ctx, store.UploadedAssetRecord{
		AssetID:      assetID,
		ResourceType: res.Type(),
		RemoteID:     resp.ID,
		FileSize:     size,
		IsDuplicate:  resp.Duplicate,
	})
	if err != nil {
		return nil, fmt.Errorf("recording result: %w", err)
	}

	u.logger.Info("uploaded resource",
		slog.String("asset", assetID),
		slog.String("type", string(res.Type())),
		slog.Bool("duplicate", resp.Duplicate),
	)

	return resp, nil
}

func (u *Uploader) markFailed(ctx context.Context, assetID string, rt library.ResourceType, cause error) {
	if err := u.store.MarkFailed(ctx, assetID, rt, cause.Error()); err != nil {
		u.logger.Error("recording failure", slog.String("asset", assetID), slog.Any("error", err))
	}
}

// SyncFavorites pushes the favorite flag for the given remote ids and
// mirrors the result locally once the server accepts it.
func (u *Uploader) SyncFavorites(ctx context.Context, remoteIDs []string, isFavorite bool) error {
	if len(remoteIDs) == 0 {
		return nil
	}

	err := u.transport.UpdateFavorites(ctx, api.UpdateFavoritesRequest{
		IDs:        remoteIDs,
		IsFavorite: isFavorite,
	})
	if err != nil {
		return fmt.Errorf("pushing favorite flags: %w", err)
	}

	if err := u.store.SetUploadedFavorites(ctx, remoteIDs, isFavorite); err != nil {
		return fmt.Errorf("mirroring favorite flags: %w", err)
	}

	return nil
}

// PurgeCompleted removes completed ledger rows older than the retention
// window.
func (u *Uploader) PurgeCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	purged, err := u.store.PurgeCompletedJobs(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purging completed jobs: %w", err)
	}

	if purged > 0 {
		u.logger.Info("purged completed upload jobs", slog.Int64("count", purged))
	}

	return purged, nil
}
