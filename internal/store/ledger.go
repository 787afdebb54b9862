package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/snapwire/photosync/internal/library"
)

// JobStatus is the lifecycle of one upload attempt.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobUploading JobStatus = "uploading"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// UploadJobRecord is one row of the upload job ledger, keyed by
// (asset, resource type).
type UploadJobRecord struct {
	AssetID      string
	ResourceType library.ResourceType
	Filename     string
	Status       JobStatus
	RetryCount   int
	RemoteID     *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UploadedAssetRecord confirms a resource is durably present remotely.
// Written exactly once per upload response; only IsFavorite mutates
// afterwards (favorite-status sync).
type UploadedAssetRecord struct {
	AssetID      string
	ResourceType library.ResourceType
	RemoteID     string
	FileSize     int64
	IsDuplicate  bool
	IsFavorite   bool
	UploadedAt   time.Time
}

// RecordAttempt upserts an upload attempt. A row that already reached
// completed is never regressed: the conflict update is a no-op then,
// guarding against duplicate or late attempts overwriting a confirmed
// upload.
func (s *Store) RecordAttempt(ctx context.Context, assetID string, rt library.ResourceType, filename string, status JobStatus) error {
	now := time.Now().UnixMilli()

	return s.write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO upload_jobs (asset_id, resource_type, filename, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(asset_id, resource_type) DO UPDATE SET
				filename   = excluded.filename,
				status     = excluded.status,
				updated_at = excluded.updated_at
			WHERE upload_jobs.status != 'completed'`,
			assetID, string(rt), filename, string(status), now, now)
		return err
	})
}

// RecordResult confirms a completed upload: it writes the uploaded-asset
// record, marks the ledger row completed, and flips the matching
// on-server flag in the hash cache so the next presence check
// short-circuits without a checksum lookup. One transaction.
func (s *Store) RecordResult(ctx context.Context, rec UploadedAssetRecord) error {
	uploadedAt := rec.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	now := time.Now().UnixMilli()

	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO uploaded_assets (asset_id, resource_type, remote_id, file_size, is_duplicate, is_favorite, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(asset_id, resource_type) DO UPDATE SET
				remote_id    = excluded.remote_id,
				file_size    = excluded.file_size,
				is_duplicate = excluded.is_duplicate,
				uploaded_at  = excluded.uploaded_at`,
			rec.AssetID, string(rec.ResourceType), rec.RemoteID, rec.FileSize,
			rec.IsDuplicate, rec.IsFavorite, uploadedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("recording uploaded asset: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO upload_jobs (asset_id, resource_type, status, remote_id, created_at, updated_at)
			VALUES (?, ?, 'completed', ?, ?, ?)
			ON CONFLICT(asset_id, resource_type) DO UPDATE SET
				status     = 'completed',
				remote_id  = excluded.remote_id,
				updated_at = excluded.updated_at`,
			rec.AssetID, string(rec.ResourceType), rec.RemoteID, now, now)
		if err != nil {
			return fmt.Errorf("completing upload job: %w", err)
		}

		flagColumn := "raw_on_server"
		if rec.ResourceType.IsPrimary() {
			flagColumn = "primary_on_server"
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE hash_cache SET `+flagColumn+` = 1 WHERE asset_id = ?`, rec.AssetID)
		if err != nil {
			return fmt.Errorf("flipping presence flag: %w", err)
		}

		return nil
	})
}

// MarkFailed records a failed attempt: status goes to failed, the retry
// counter increments, and the message is kept. The row is never deleted
// here so retry history survives until cleanup.
func (s *Store) MarkFailed(ctx context.Context, assetID string, rt library.ResourceType, errMsg string) error {
	now := time.Now().UnixMilli()

	return s.write(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO upload_jobs (asset_id, resource_type, status, retry_count, error_message, created_at, updated_at)
			VALUES (?, ?, 'failed', 1, ?, ?, ?)
			ON CONFLICT(asset_id, resource_type) DO UPDATE SET
				status        = 'failed',
				retry_count   = upload_jobs.retry_count + 1,
				error_message = excluded.error_message,
				updated_at    = excluded.updated_at
			WHERE upload_jobs.status != 'completed'`,
			assetID, string(rt), errMsg, now, now)
		return err
	})
}

// GetUploadJob returns the ledger row for (asset, type), or nil.
func (s *Store) GetUploadJob(ctx context.Context, assetID string, rt library.ResourceType) (*UploadJobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, resource_type, filename, status, retry_count,
		       remote_id, error_message, created_at, updated_at
		FROM upload_jobs WHERE asset_id = ? AND resource_type = ?`,
		assetID, string(rt))

	var (
		rec                  UploadJobRecord
		rt2                  string
		filename             sql.NullString
		status               string
		remoteID, errMsg     sql.NullString
		createdAt, updatedAt int64
	)

	err := row.Scan(&rec.AssetID, &rt2, &filename, &status, &rec.RetryCount,
		&remoteID, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying upload job: %w", err)
	}

	rec.ResourceType = library.ResourceType(rt2)
	rec.Filename = filename.String
	rec.Status = JobStatus(status)

	if remoteID.Valid {
		rec.RemoteID = &remoteID.String
	}

	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}

	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)

	return &rec, nil
}

// GetUploadedAsset returns the confirmed upload record for (asset,
// type), or nil if this device has no confirmation for it.
func (s *Store) GetUploadedAsset(ctx context.Context, assetID string, rt library.ResourceType) (*UploadedAssetRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, resource_type, remote_id, file_size, is_duplicate, is_favorite, uploaded_at
		FROM uploaded_assets WHERE asset_id = ? AND resource_type = ?`,
		assetID, string(rt))

	rec, err := scanUploadedAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying uploaded asset: %w", err)
	}

	return rec, nil
}

// HasUploaded reports whether any of the given resource types has a
// confirmed upload for the asset. This is the authoritative local
// short-circuit consulted before any checksum lookup.
func (s *Store) HasUploaded(ctx context.Context, assetID string, types ...library.ResourceType) (bool, error) {
	if len(types) == 0 {
		return false, nil
	}

	args := make([]any, 0, len(types)+1)
	args = append(args, assetID)

	for _, t := range types {
		args = append(args, string(t))
	}

	var one int

	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM uploaded_assets
		WHERE asset_id = ? AND resource_type IN (`+placeholders(len(types))+`)
		LIMIT 1`, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying upload confirmation: %w", err)
	}

	return true, nil
}

// ListUploadedAssets returns every confirmed upload record.
func (s *Store) ListUploadedAssets(ctx context.Context) ([]UploadedAssetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, resource_type, remote_id, file_size, is_duplicate, is_favorite, uploaded_at
		FROM uploaded_assets ORDER BY asset_id, resource_type`)
	if err != nil {
		return nil, fmt.Errorf("listing uploaded assets: %w", err)
	}
	defer rows.Close()

	var recs []UploadedAssetRecord

	for rows.Next() {
		rec, err := scanUploadedAsset(rows)
		if err != nil {
			return nil, err
		}

		recs = append(recs, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

// SetUploadedFavorites updates the favorite flag for the given remote
// ids in one transaction, after a successful bulk metadata push.
func (s *Store) SetUploadedFavorites(ctx context.Context, remoteIDs []string, isFavorite bool) error {
	if len(remoteIDs) == 0 {
		return nil
	}

	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		for start := 0; start < len(remoteIDs); start += maxBatchParams {
			end := min(start+maxBatchParams, len(remoteIDs))
			chunk := remoteIDs[start:end]

			query := `UPDATE uploaded_assets SET is_favorite = ? WHERE remote_id IN (` + placeholders(len(chunk)) + `)`

			args := make([]any, 0, len(chunk)+1)
			args = append(args, isFavorite)

			for _, id := range chunk {
				args = append(args, id)
			}

			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("updating favorite flags: %w", err)
			}
		}

		return nil
	})
}

// PurgeCompletedJobs removes completed ledger rows last updated before
// the cutoff. Returns the number of rows removed.
func (s *Store) PurgeCompletedJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64

	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM upload_jobs WHERE status = 'completed' AND updated_at < ?`,
			cutoff.UnixMilli())
		if err != nil {
			return err
		}

		purged, err = res.RowsAffected()

		return err
	})

	return purged, err
}

func scanUploadedAsset(row rowScanner) (*UploadedAssetRecord, error) {
	var (
		rec        UploadedAssetRecord
		rt         string
		uploadedAt int64
	)

	err := row.Scan(&rec.AssetID, &rt, &rec.RemoteID, &rec.FileSize,
		&rec.IsDuplicate, &rec.IsFavorite, &uploadedAt)
	if err != nil {
		return nil, err
	}

	rec.ResourceType = library.ResourceType(rt)
	rec.UploadedAt = time.UnixMilli(uploadedAt)

	return &rec, nil
}
