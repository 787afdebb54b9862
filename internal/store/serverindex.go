package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncType records which protocol produced the current remote mirror.
type SyncType string

const (
	SyncFull  SyncType = "full"
	SyncDelta SyncType = "delta"
)

// ServerAssetRecord mirrors one remote asset's checksum. Checksums are
// stored as lowercase hex; the sync client converts from the remote
// store's base64 before persisting.
type ServerAssetRecord struct {
	RemoteID         string
	Checksum         string
	OriginalFilename *string
	AssetType        *string
	UpdatedAt        *string
	CloudID          *string
}

// SyncMetadata is the singleton bookkeeping row that drives the choice
// of full vs delta sync on the next run.
type SyncMetadata struct {
	LastSyncTime time.Time
	LastSyncType SyncType
	RemoteUserID string
	TotalAssets  int64
}

const upsertServerAssetSQL = `
INSERT INTO server_assets_cache (remote_id, checksum, original_filename, asset_type, updated_at, cloud_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(remote_id) DO UPDATE SET
	checksum          = excluded.checksum,
	original_filename = excluded.original_filename,
	asset_type        = excluded.asset_type,
	updated_at        = excluded.updated_at,
	cloud_id          = excluded.cloud_id`

const upsertSyncMetadataSQL = `
INSERT INTO sync_metadata (id, last_sync_time, last_sync_type, remote_user_id, total_assets)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	last_sync_time = excluded.last_sync_time,
	last_sync_type = excluded.last_sync_type,
	remote_user_id = excluded.remote_user_id,
	total_assets   = excluded.total_assets`

// ReplaceServerAssets atomically swaps the whole mirror for the given
// records and updates the sync metadata. Used by full sync.
func (s *Store) ReplaceServerAssets(ctx context.Context, recs []ServerAssetRecord, meta SyncMetadata) error {
	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM server_assets_cache`); err != nil {
			return fmt.Errorf("clearing server index: %w", err)
		}

		for _, rec := range recs {
			if _, err := tx.ExecContext(ctx, upsertServerAssetSQL,
				rec.RemoteID, rec.Checksum, rec.OriginalFilename, rec.AssetType,
				rec.UpdatedAt, rec.CloudID); err != nil {
				return fmt.Errorf("inserting server asset %s: %w", rec.RemoteID, err)
			}
		}

		return upsertSyncMetadata(ctx, tx, meta)
	})
}

// MergeServerAssets applies a delta: upserts keyed by remote id, then
// purges the deleted ids, then updates the sync metadata. One
// transaction. TotalAssets in the stored metadata is recomputed from
// the merged mirror, not taken from the caller: a delta carries only
// changes, so the caller cannot know the resulting total up front.
func (s *Store) MergeServerAssets(ctx context.Context, upserted []ServerAssetRecord, deletedIDs []string, meta SyncMetadata) error {
	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		for _, rec := range upserted {
			if _, err := tx.ExecContext(ctx, upsertServerAssetSQL,
				rec.RemoteID, rec.Checksum, rec.OriginalFilename, rec.AssetType,
				rec.UpdatedAt, rec.CloudID); err != nil {
				return fmt.Errorf("merging server asset %s: %w", rec.RemoteID, err)
			}
		}

		for start := 0; start < len(deletedIDs); start += maxBatchParams {
			end := min(start+maxBatchParams, len(deletedIDs))
			chunk := deletedIDs[start:end]

			query := `DELETE FROM server_assets_cache WHERE remote_id IN (` + placeholders(len(chunk)) + `)`
			if _, err := tx.ExecContext(ctx, query, toAnySlice(chunk)...); err != nil {
				return fmt.Errorf("purging deleted server assets: %w", err)
			}
		}

		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_assets_cache`).Scan(&meta.TotalAssets)
		if err != nil {
			return fmt.Errorf("counting merged server assets: %w", err)
		}

		return upsertSyncMetadata(ctx, tx, meta)
	})
}

func upsertSyncMetadata(ctx context.Context, tx DBTX, meta SyncMetadata) error {
	_, err := tx.ExecContext(ctx, upsertSyncMetadataSQL,
		meta.LastSyncTime.UnixMilli(), string(meta.LastSyncType), meta.RemoteUserID, meta.TotalAssets)
	if err != nil {
		return fmt.Errorf("updating sync metadata: %w", err)
	}

	return nil
}

// ChecksumExists reports whether a lowercase-hex checksum is present in
// the remote mirror.
func (s *Store) ChecksumExists(ctx context.Context, checksum string) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM server_assets_cache WHERE checksum = ? LIMIT 1`, checksum).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying checksum: %w", err)
	}

	return true, nil
}

// FindByCloudIDs returns the mirrored records matching any of the given
// cloud identifiers, keyed by cloud id.
func (s *Store) FindByCloudIDs(ctx context.Context, cloudIDs []string) (map[string]ServerAssetRecord, error) {
	result := make(map[string]ServerAssetRecord)

	for start := 0; start < len(cloudIDs); start += maxBatchParams {
		end := min(start+maxBatchParams, len(cloudIDs))
		chunk := cloudIDs[start:end]

		query := `
			SELECT remote_id, checksum, original_filename, asset_type, updated_at, cloud_id
			FROM server_assets_cache WHERE cloud_id IN (` + placeholders(len(chunk)) + `)`

		rows, err := s.db.QueryContext(ctx, query, toAnySlice(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("querying by cloud ids: %w", err)
		}

		for rows.Next() {
			rec, err := scanServerAsset(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}

			if rec.CloudID != nil {
				result[*rec.CloudID] = *rec
			}
		}

		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}

		rows.Close()
	}

	return result, nil
}

// HasCloudIDs reports whether the mirror carries any cloud identifiers
// at all, gating the cloud-id short-circuit.
func (s *Store) HasCloudIDs(ctx context.Context) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM server_assets_cache WHERE cloud_id IS NOT NULL LIMIT 1`).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying cloud ids: %w", err)
	}

	return true, nil
}

// ServerAssetCount returns the number of mirrored remote assets.
func (s *Store) ServerAssetCount(ctx context.Context) (int64, error) {
	var n int64

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_assets_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting server assets: %w", err)
	}

	return n, nil
}

// GetSyncMetadata returns the singleton sync bookkeeping row, or nil if
// no sync has completed yet.
func (s *Store) GetSyncMetadata(ctx context.Context) (*SyncMetadata, error) {
	var (
		meta     SyncMetadata
		syncTime int64
		syncType string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_time, last_sync_type, remote_user_id, total_assets
		FROM sync_metadata WHERE id = 1`).
		Scan(&syncTime, &syncType, &meta.RemoteUserID, &meta.TotalAssets)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync metadata: %w", err)
	}

	meta.LastSyncTime = time.UnixMilli(syncTime)
	meta.LastSyncType = SyncType(syncType)

	return &meta, nil
}

// ClearServerIndex drops the mirror and its bookkeeping, forcing the
// next sync to run full.
func (s *Store) ClearServerIndex(ctx context.Context) error {
	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM server_assets_cache`); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `DELETE FROM sync_metadata`)

		return err
	})
}

func scanServerAsset(row rowScanner) (*ServerAssetRecord, error) {
	var (
		rec                                             ServerAssetRecord
		originalFilename, assetType, updatedAt, cloudID sql.NullString
	)

	err := row.Scan(&rec.RemoteID, &rec.Checksum, &originalFilename, &assetType, &updatedAt, &cloudID)
	if err != nil {
		return nil, err
	}

	if originalFilename.Valid {
		rec.OriginalFilename = &originalFilename.String
	}

	if assetType.Valid {
		rec.AssetType = &assetType.String
	}

	if updatedAt.Valid {
		rec.UpdatedAt = &updatedAt.String
	}

	if cloudID.Valid {
		rec.CloudID = &cloudID.String
	}

	return &rec, nil
}
