package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HashCacheRecord holds the computed content hashes for one local asset
// and the engine's best knowledge of their presence on the remote store.
// RAWHash and RAWSize are nil whenever HasRAW is false.
type HashCacheRecord struct {
	AssetID         string
	PrimaryHash     string
	PrimarySize     int64
	RAWHash         *string
	RAWSize         *int64
	HasRAW          bool
	PrimaryOnServer bool
	RAWOnServer     bool
	CalculatedAt    time.Time
	CheckedAt       *time.Time
}

// FullyOnServer applies the completeness rule: assets without a RAW
// resource need only the primary on the server; assets with one need both.
func (r HashCacheRecord) FullyOnServer() bool {
	if r.HasRAW {
		return r.PrimaryOnServer && r.RAWOnServer
	}

	return r.PrimaryOnServer
}

// PresenceUpdate is one row's worth of input to presence flag updates.
type PresenceUpdate struct {
	AssetID         string
	PrimaryOnServer bool
	RAWOnServer     bool
}

// maxBatchParams caps the number of bound parameters per statement,
// keeping IN lists well under SQLite's variable limit.
const maxBatchParams = 500

const upsertHashSQL = `
INSERT INTO hash_cache (
	asset_id, primary_hash, primary_file_size, raw_hash, raw_file_size,
	has_raw, primary_on_server, raw_on_server, calculated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(asset_id) DO UPDATE SET
	primary_hash      = excluded.primary_hash,
	primary_file_size = excluded.primary_file_size,
	raw_hash          = excluded.raw_hash,
	raw_file_size     = excluded.raw_file_size,
	has_raw           = excluded.has_raw,
	calculated_at     = excluded.calculated_at`

// UpsertHash inserts or replaces the hash record for one asset. Presence
// flags start false on first insert and are preserved on re-hash: hash
// recomputation must not forget what is already known to be remote.
// Records inferred from a cloud-id match pass the flags explicitly.
func (s *Store) UpsertHash(ctx context.Context, rec HashCacheRecord) error {
	return s.write(func() error {
		_, err := s.db.ExecContext(ctx, upsertHashSQL, upsertHashArgs(rec)...)
		return err
	})
}

// BatchUpsertHashes applies UpsertHash semantics to many rows in one
// transaction. All rows commit or none do.
func (s *Store) BatchUpsertHashes(ctx context.Context, recs []HashCacheRecord) error {
	if len(recs) == 0 {
		return nil
	}

	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		for _, rec := range recs {
			if _, err := tx.ExecContext(ctx, upsertHashSQL, upsertHashArgs(rec)...); err != nil {
				return fmt.Errorf("upserting hash for %s: %w", rec.AssetID, err)
			}
		}

		return nil
	})
}

func upsertHashArgs(rec HashCacheRecord) []any {
	calculatedAt := rec.CalculatedAt
	if calculatedAt.IsZero() {
		calculatedAt = time.Now()
	}

	return []any{
		rec.AssetID, rec.PrimaryHash, rec.PrimarySize, rec.RAWHash, rec.RAWSize,
		rec.HasRAW, rec.PrimaryOnServer, rec.RAWOnServer, calculatedAt.UnixMilli(),
	}
}

const updatePresenceSQL = `
UPDATE hash_cache
SET primary_on_server = ?, raw_on_server = ?, checked_at = ?
WHERE asset_id = ?`

// UpdatePresence records the outcome of a remote-presence check. Hash
// values are untouched.
func (s *Store) UpdatePresence(ctx context.Context, upd PresenceUpdate) error {
	return s.write(func() error {
		_, err := s.db.ExecContext(ctx, updatePresenceSQL,
			upd.PrimaryOnServer, upd.RAWOnServer, time.Now().UnixMilli(), upd.AssetID)
		return err
	})
}

// BatchUpdatePresence applies UpdatePresence to many rows in one
// transaction.
func (s *Store) BatchUpdatePresence(ctx context.Context, upds []PresenceUpdate) error {
	if len(upds) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()

	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		for _, upd := range upds {
			if _, err := tx.ExecContext(ctx, updatePresenceSQL,
				upd.PrimaryOnServer, upd.RAWOnServer, now, upd.AssetID); err != nil {
				return fmt.Errorf("updating presence for %s: %w", upd.AssetID, err)
			}
		}

		return nil
	})
}

// AssetsNeedingHash returns the subset of candidateIDs with no hash
// cache record yet, preserving the candidates' order.
func (s *Store) AssetsNeedingHash(ctx context.Context, candidateIDs []string) ([]string, error) {
	known := make(map[string]bool, len(candidateIDs))

	for start := 0; start < len(candidateIDs); start += maxBatchParams {
		end := min(start+maxBatchParams, len(candidateIDs))
		chunk := candidateIDs[start:end]

		query := `SELECT asset_id FROM hash_cache WHERE asset_id IN (` + placeholders(len(chunk)) + `)`

		rows, err := s.db.QueryContext(ctx, query, toAnySlice(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("querying known hashes: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}

			known[id] = true
		}

		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}

		rows.Close()
	}

	var missing []string
	for _, id := range candidateIDs {
		if !known[id] {
			missing = append(missing, id)
		}
	}

	return missing, nil
}

const selectHashColumns = `
	asset_id, primary_hash, primary_file_size, raw_hash, raw_file_size,
	has_raw, primary_on_server, raw_on_server, calculated_at, checked_at`

// GetHashRecord returns the record for an asset, or nil if not cached.
func (s *Store) GetHashRecord(ctx context.Context, assetID string) (*HashCacheRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectHashColumns+` FROM hash_cache WHERE asset_id = ?`, assetID)

	rec, err := scanHashRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying hash record: %w", err)
	}

	return rec, nil
}

// RecordsNotFullyOnServer returns all records failing the completeness
// rule: these are the assets that still need a presence check or upload.
func (s *Store) RecordsNotFullyOnServer(ctx context.Context) ([]HashCacheRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectHashColumns+`
		FROM hash_cache
		WHERE primary_on_server = 0 OR (has_raw = 1 AND raw_on_server = 0)
		ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("querying incomplete records: %w", err)
	}
	defer rows.Close()

	var recs []HashCacheRecord

	for rows.Next() {
		rec, err := scanHashRecord(rows)
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

// DeleteOrphans removes hash cache rows for identifiers that no longer
// exist locally.
func (s *Store) DeleteOrphans(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	return s.writeTx(ctx, func(ctx context.Context, tx DBTX) error {
		for start := 0; start < len(assetIDs); start += maxBatchParams {
			end := min(start+maxBatchParams, len(assetIDs))
			chunk := assetIDs[start:end]

			query := `DELETE FROM hash_cache WHERE asset_id IN (` + placeholders(len(chunk)) + `)`
			if _, err := tx.ExecContext(ctx, query, toAnySlice(chunk)...); err != nil {
				return fmt.Errorf("deleting orphans: %w", err)
			}
		}

		return nil
	})
}

// ClearHashCache removes every hash cache row.
func (s *Store) ClearHashCache(ctx context.Context) error {
	return s.write(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM hash_cache`)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHashRecord(row rowScanner) (*HashCacheRecord, error) {
	var (
		rec          HashCacheRecord
		rawHash      sql.NullString
		rawSize      sql.NullInt64
		calculatedAt int64
		checkedAt    sql.NullInt64
	)

	err := row.Scan(&rec.AssetID, &rec.PrimaryHash, &rec.PrimarySize, &rawHash, &rawSize,
		&rec.HasRAW, &rec.PrimaryOnServer, &rec.RAWOnServer, &calculatedAt, &checkedAt)
	if err != nil {
		return nil, err
	}

	if rawHash.Valid {
		rec.RAWHash = &rawHash.String
	}

	if rawSize.Valid {
		rec.RAWSize = &rawSize.Int64
	}

	rec.CalculatedAt = time.UnixMilli(calculatedAt)

	if checkedAt.Valid {
		t := time.UnixMilli(checkedAt.Int64)
		rec.CheckedAt = &t
	}

	return &rec, nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}

	buf := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}

		buf = append(buf, '?')
	}

	return string(buf)
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}

	return out
}
