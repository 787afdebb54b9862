// Package syncer maintains the local mirror of the remote asset index.
// It decides between a full paginated pull and an incremental delta
// pull, converts the server's base64 checksums to the lowercase hex the
// rest of the system speaks, and persists the result atomically.
package syncer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/snapwire/photosync/internal/api"
	apperrors "github.com/snapwire/photosync/internal/errors"
	"github.com/snapwire/photosync/internal/store"
)

// Transport is the remote listing surface the syncer needs. The HTTP
// client satisfies it; tests substitute fakes.
type Transport interface {
	FetchCurrentUser(ctx context.Context) (*api.User, error)
	FetchFullSyncPage(ctx context.Context, req api.FullSyncPageRequest) ([]api.SyncAsset, error)
	FetchDeltaSync(ctx context.Context, req api.DeltaSyncRequest) (*api.DeltaSyncResponse, error)
	FetchPartnerUserIDs(ctx context.Context) ([]string, error)
}

// Store is the persistence surface the syncer writes the mirror through.
type Store interface {
	GetSyncMetadata(ctx context.Context) (*store.SyncMetadata, error)
	ReplaceServerAssets(ctx context.Context, recs []store.ServerAssetRecord, meta store.SyncMetadata) error
	MergeServerAssets(ctx context.Context, upserted []store.ServerAssetRecord, deletedIDs []string, meta store.SyncMetadata) error
	ServerAssetCount(ctx context.Context) (int64, error)
}

// Result summarizes one sync run.
type Result struct {
	Type           store.SyncType
	TotalAssets    int64
	Upserted       int
	Deleted        int
	Dropped        int
	NeededFullSync bool
}

// Syncer pulls the remote asset index into the local mirror.
type Syncer struct {
	transport Transport
	store     Store
	logger    *slog.Logger
	pageSize  int
}

// New creates a syncer. pageSize bounds full-sync pages.
func New(transport Transport, st Store, logger *slog.Logger, pageSize int) *Syncer {
	return &Syncer{transport: transport, store: st, logger: logger, pageSize: pageSize}
}

// Sync refreshes the mirror, choosing delta when a previous sync left a
// usable cursor and falling back to full otherwise. When the server
// reports it cannot produce a consistent delta, Sync transparently
// reruns as full and flags that in the result.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	meta, err := s.store.GetSyncMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading sync metadata: %w", apperrors.ErrRemoteSyncFailed, err)
	}

	if meta == nil || meta.LastSyncTime.IsZero() {
		return s.FullSync(ctx)
	}

	result, err := s.DeltaSync(ctx, meta)
	if err != nil {
		return nil, err
	}

	if result.NeededFullSync {
		full, err := s.FullSync(ctx)
		if err != nil {
			return nil, err
		}

		full.NeededFullSync = true

		return full, nil
	}

	return result, nil
}

// FullSync replaces the whole mirror with a paginated pull pinned to a
// single snapshot time. A page shorter than the page size terminates
// the pull.
func (s *Syncer) FullSync(ctx context.Context) (*Result, error) {
	user, err := s.transport.FetchCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving user: %w", apperrors.ErrRemoteSyncFailed, err)
	}

	snapshot := time.Now().UTC()
	updatedUntil := snapshot.Format(time.RFC3339Nano)

	var (
		records []store.ServerAssetRecord
		dropped int
		lastID  string
	)

	for {
		page, err := s.transport.FetchFullSyncPage(ctx, api.FullSyncPageRequest{
			UserID:       user.ID,
			Limit:        s.pageSize,
			LastID:       lastID,
			UpdatedUntil: updatedUntil,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrRemoteSyncFailed, err)
		}

		for _, asset := range page {
			rec, ok := toRecord(asset)
			if !ok {
				dropped++
				s.logger.Warn("dropping asset with undecodable checksum",
					slog.String("remote_id", asset.ID))

				continue
			}

			records = append(records, rec)
		}

		if len(page) < s.pageSize {
			break
		}

		lastID = page[len(page)-1].ID
	}

	meta := store.SyncMetadata{
		LastSyncTime: snapshot,
		LastSyncType: store.SyncFull,
		RemoteUserID: user.ID,
		TotalAssets:  int64(len(records)),
	}

	if err := s.store.ReplaceServerAssets(ctx, records, meta); err != nil {
		return nil, fmt.Errorf("replacing server index: %w", err)
	}

	s.logger.Info("full sync complete",
		slog.Int("assets", len(records)),
		slog.Int("dropped", dropped),
	)

	return &Result{
		Type:        store.SyncFull,
		TotalAssets: int64(len(records)),
		Upserted:    len(records),
		Dropped:     dropped,
	}, nil
}

// DeltaSync merges remote changes since the last sync into the mirror.
// Partner libraries are included when the partner lookup succeeds; a
// failed lookup degrades to own-library-only rather than failing the
// sync.
func (s *Syncer) DeltaSync(ctx context.Context, meta *store.SyncMetadata) (*Result, error) {
	userIDs := []string{meta.RemoteUserID}

	partnerIDs, err := s.transport.FetchPartnerUserIDs(ctx)
	if err != nil {
		s.logger.Warn("partner lookup failed, syncing own library only", slog.Any("error", err))
	} else {
		userIDs = append(userIDs, partnerIDs...)
	}

	syncStart := time.Now().UTC()

	resp, err := s.transport.FetchDeltaSync(ctx, api.DeltaSyncRequest{
		UpdatedAfter: meta.LastSyncTime.UTC().Format(time.RFC3339Nano),
		UserIDs:      userIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrRemoteSyncFailed, err)
	}

	if resp.NeedsFullSync {
		s.logger.Info("server requested full sync fallback")

		return &Result{NeededFullSync: true}, nil
	}

	var (
		upserted []store.ServerAssetRecord
		dropped  int
	)

	for _, asset := range resp.Upserted {
		rec, ok := toRecord(asset)
		if !ok {
			dropped++
			s.logger.Warn("dropping asset with undecodable checksum",
				slog.String("remote_id", asset.ID))

			continue
		}

		upserted = append(upserted, rec)
	}

	// TotalAssets is recounted inside the merge transaction; a delta
	// only carries changes, not the resulting mirror size.
	newMeta := store.SyncMetadata{
		LastSyncTime: syncStart,
		LastSyncType: store.SyncDelta,
		RemoteUserID: meta.RemoteUserID,
	}

	if err := s.store.MergeServerAssets(ctx, upserted, resp.Deleted, newMeta); err != nil {
		return nil, fmt.Errorf("merging server index: %w", err)
	}

	total, err := s.store.ServerAssetCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting server index: %w", err)
	}

	s.logger.Info("delta sync complete",
		slog.Int("upserted", len(upserted)),
		slog.Int("deleted", len(resp.Deleted)),
		slog.Int("dropped", dropped),
		slog.Int64("total", total),
	)

	return &Result{
		Type:        store.SyncDelta,
		TotalAssets: total,
		Upserted:    len(upserted),
		Deleted:     len(resp.Deleted),
		Dropped:     dropped,
	}, nil
}

// Base64ToHex converts a base64 checksum from the wire into the
// lowercase hex form used by the local stores.
func Base64ToHex(checksum string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(checksum)
	if err != nil {
		return "", fmt.Errorf("decoding checksum: %w", err)
	}

	return hex.EncodeToString(raw), nil
}

func toRecord(asset api.SyncAsset) (store.ServerAssetRecord, bool) {
	hexSum, err := Base64ToHex(asset.Checksum)
	if err != nil {
		return store.ServerAssetRecord{}, false
	}

	rec := store.ServerAssetRecord{
		RemoteID: asset.ID,
		Checksum: hexSum,
	}

	if asset.OriginalFileName != "" {
		rec.OriginalFilename = &asset.OriginalFileName
	}

	if asset.Type != "" {
		rec.AssetType = &asset.Type
	}

	if asset.UpdatedAt != "" {
		rec.UpdatedAt = &asset.UpdatedAt
	}

	if asset.CloudID != "" {
		rec.CloudID = &asset.CloudID
	}

	return rec, true
}
