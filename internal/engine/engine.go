// Package engine runs the reconciliation pipeline: it decides which
// local assets still need hashing, which need a remote-presence check,
// applies the completeness rule for multi-resource assets, and keeps an
// in-memory status projection for the presentation layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/snapwire/photosync/internal/errors"
	"github.com/snapwire/photosync/internal/hasher"
	"github.com/snapwire/photosync/internal/library"
	"github.com/snapwire/photosync/internal/store"
)

// Status is the projected sync state of one local asset.
type Status string

const (
	// StatusPending is the rest state before any work has been done.
	StatusPending Status = "pending"

	// StatusProcessing marks an in-flight hash computation.
	StatusProcessing Status = "processing"

	// StatusChecking marks an in-flight remote-presence check.
	StatusChecking Status = "checking"

	// StatusUploaded means the completeness rule holds for the asset.
	StatusUploaded Status = "uploaded"

	// StatusNotUploaded means at least one resource is missing remotely.
	StatusNotUploaded Status = "notUploaded"

	// StatusError marks an asset whose hash or check failed this run.
	StatusError Status = "error"
)

// cloudIDBatchSize bounds one cloud-identifier resolution call.
const cloudIDBatchSize = 500

// Hasher digests all resources backing one asset.
type Hasher interface {
	HashAsset(ctx context.Context, id string) (*hasher.AssetHashes, error)
}

// Store is the persistence surface the engine reconciles against.
type Store interface {
	AssetsNeedingHash(ctx context.Context, candidateIDs []string) ([]string, error)
	UpsertHash(ctx context.Context, rec store.HashCacheRecord) error
	UpdatePresence(ctx context.Context, upd store.PresenceUpdate) error
	RecordsNotFullyOnServer(ctx context.Context) ([]store.HashCacheRecord, error)
	GetHashRecord(ctx context.Context, assetID string) (*store.HashCacheRecord, error)
	DeleteOrphans(ctx context.Context, assetIDs []string) error
	HasUploaded(ctx context.Context, assetID string, types ...library.ResourceType) (bool, error)
	ChecksumExists(ctx context.Context, checksum string) (bool, error)
	HasCloudIDs(ctx context.Context) (bool, error)
	FindByCloudIDs(ctx context.Context, cloudIDs []string) (map[string]store.ServerAssetRecord, error)
}

// Engine is the reconciliation pipeline. At most one run is active at a
// time; a second start while one is running is dropped.
type Engine struct {
	lib          library.Library
	hasher       Hasher
	store        Store
	logger       *slog.Logger
	hashWorkers  int
	checkWorkers int

	running       atomic.Bool
	stopRequested atomic.Bool

	mu       sync.RWMutex
	statuses map[string]Status
	progress string
}

// New creates an engine with the given worker budgets for the hashing
// and presence-check phases.
func New(lib library.Library, h Hasher, st Store, logger *slog.Logger, hashWorkers, checkWorkers int) *Engine {
	return &Engine{
		lib:          lib,
		hasher:       h,
		store:        st,
		logger:       logger,
		hashWorkers:  hashWorkers,
		checkWorkers: checkWorkers,
		statuses:     make(map[string]Status),
	}
}

// IsProcessing reports whether a pipeline run is currently active.
func (e *Engine) IsProcessing() bool {
	return e.running.Load()
}

// Stop requests a soft stop: in-flight units finish, no new units start.
// A hard stop is the caller cancelling the run's context.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
}

// Statuses returns a snapshot of the per-asset status projection.
func (e *Engine) Statuses() map[string]Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]Status, len(e.statuses))
	for id, st := range e.statuses {
		out[id] = st
	}

	return out
}

// Status returns the projected status for one asset, defaulting to
// pending for unknown identifiers.
func (e *Engine) Status(id string) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if st, ok := e.statuses[id]; ok {
		return st
	}

	return StatusPending
}

// Progress returns the current human-readable progress message.
func (e *Engine) Progress() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.progress
}

// Run executes one reconciliation pipeline over the library's current
// identifiers. Returns ErrSyncInProgress when a run is already active;
// the duplicate request has no side effects.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return apperrors.ErrSyncInProgress
	}
	defer e.running.Store(false)

	e.stopRequested.Store(false)

	candidates, err := e.lib.ListIdentifiers(ctx)
	if err != nil {
		return fmt.Errorf("listing local assets: %w", err)
	}

	e.initProjection(candidates)
	e.setProgress(fmt.Sprintf("scanning %d assets", len(candidates)))

	needHash, err := e.store.AssetsNeedingHash(ctx, candidates)
	if err != nil {
		return fmt.Errorf("selecting assets to hash: %w", err)
	}

	needHash, err = e.resolveByCloudID(ctx, needHash)
	if err != nil {
		// The short-circuit is an optimization; hashing covers for it.
		e.logger.Warn("cloud id resolution failed, hashing instead", slog.Any("error", err))
	}

	if err := e.hashPhase(ctx, needHash); err != nil {
		return err
	}

	if err := e.checkPhase(ctx); err != nil {
		return err
	}

	e.setProgress("")

	return nil
}

func (e *Engine) initProjection(candidates []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range candidates {
		if _, ok := e.statuses[id]; !ok {
			e.statuses[id] = StatusPending
		}
	}
}

// resolveByCloudID matches unhashed assets against the remote index via
// platform cloud identifiers, inserting hash records with the server's
// checksum and primary presence already confirmed. Returns the ids that
// still need local hashing.
func (e *Engine) resolveByCloudID(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return ids, nil
	}

	resolver, ok := e.lib.(library.CloudIdentifierResolver)
	if !ok {
		return ids, nil
	}

	hasCloudIDs, err := e.store.HasCloudIDs(ctx)
	if err != nil {
		return ids, err
	}

	if !hasCloudIDs {
		return ids, nil
	}

	remaining := make([]string, 0, len(ids))
	matched := 0

	for start := 0; start < len(ids); start += cloudIDBatchSize {
		end := min(start+cloudIDBatchSize, len(ids))
		batch := ids[start:end]

		if e.stopRequested.Load() {
			remaining = append(remaining, ids[start:]...)
			break
		}

		cloudByLocal, err := resolver.CloudIdentifiers(ctx, batch)
		if err != nil {
			return append(remaining, ids[start:]...), err
		}

		cloudIDs := make([]string, 0, len(cloudByLocal))
		for _, cid := range cloudByLocal {
			cloudIDs = append(cloudIDs, cid)
		}

		found, err := e.store.FindByCloudIDs(ctx, cloudIDs)
		if err != nil {
			return append(remaining, ids[start:]...), err
		}

		for _, id := range batch {
			cid, hasCID := cloudByLocal[id]
			rec, hasMatch := found[cid]

			if !hasCID || !hasMatch {
				remaining = append(remaining, id)
				continue
			}

			err := e.store.UpsertHash(ctx, store.HashCacheRecord{
				AssetID:         id,
				PrimaryHash:     rec.Checksum,
				PrimaryOnServer: true,
			})
			if err != nil {
				return append(remaining, ids[start:]...), err
			}

			matched++

			e.setStatus(id, StatusUploaded)
		}
	}

	if matched > 0 {
		e.logger.Info("matched assets by cloud id", slog.Int("matched", matched))
	}

	return remaining, nil
}

// hashPhase digests every asset in ids under the hash worker budget,
// persisting each result as it lands. Per-item failures mark the item
// error and never abort the batch.
func (e *Engine) hashPhase(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var done atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.hashWorkers)

	for _, id := range ids {
		if e.stopRequested.Load() {
			break
		}

		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			e.setStatus(id, StatusProcessing)

			if err := e.hashOne(ctx, id); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				e.logger.Warn("hashing failed",
					slog.String("asset", id), slog.Any("error", err))
				e.setStatus(id, StatusError)
			}

			n := done.Add(1)
			e.setProgress(fmt.Sprintf("hashing %d/%d assets", n, len(ids)))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("hashing phase: %w", err)
	}

	return nil
}

func (e *Engine) hashOne(ctx context.Context, id string) error {
	hashes, err := e.hasher.HashAsset(ctx, id)
	if err != nil {
		return err
	}

	return e.store.UpsertHash(ctx, store.HashCacheRecord{
		AssetID:     id,
		PrimaryHash: hashes.PrimaryHash,
		PrimarySize: hashes.PrimarySize,
		RAWHash:     hashes.RAWHash,
		RAWSize:     hashes.RAWSize,
		HasRAW:      hashes.HasRAW,
	})
}

// checkPhase verifies remote presence for every record failing the
// completeness rule, removes orphaned records, and classifies each
// surviving asset as uploaded or notUploaded.
func (e *Engine) checkPhase(ctx context.Context) error {
	recs, err := e.store.RecordsNotFullyOnServer(ctx)
	if err != nil {
		return fmt.Errorf("selecting records to check: %w", err)
	}

	var (
		orphanMu sync.Mutex
		orphans  []string
		done     atomic.Int64
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.checkWorkers)

	for _, rec := range recs {
		if e.stopRequested.Load() {
			break
		}

		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			exists, err := e.lib.Exists(ctx, rec.AssetID)
			if err != nil {
				e.logger.Warn("existence check failed",
					slog.String("asset", rec.AssetID), slog.Any("error", err))
				e.setStatus(rec.AssetID, StatusError)

				return nil
			}

			if !exists {
				orphanMu.Lock()
				orphans = append(orphans, rec.AssetID)
				orphanMu.Unlock()

				return nil
			}

			e.setStatus(rec.AssetID, StatusChecking)

			if err := e.checkOne(ctx, rec); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				e.logger.Warn("presence check failed",
					slog.String("asset", rec.AssetID), slog.Any("error", err))
				e.setStatus(rec.AssetID, StatusError)
			}

			n := done.Add(1)
			e.setProgress(fmt.Sprintf("checking %d/%d assets", n, len(recs)))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("presence check phase: %w", err)
	}

	if len(orphans) > 0 {
		if err := e.store.DeleteOrphans(ctx, orphans); err != nil {
			return fmt.Errorf("deleting orphans: %w", err)
		}

		e.dropFromProjection(orphans)
		e.logger.Info("removed orphaned records", slog.Int("count", len(orphans)))
	}

	e.classifyComplete(ctx)

	return nil
}

// checkOne resolves remote presence for one record. The upload ledger
// is authoritative and consulted first; the checksum lookup against the
// remote index only runs when the ledger has no confirmation.
func (e *Engine) checkOne(ctx context.Context, rec store.HashCacheRecord) error {
	primaryOnServer := rec.PrimaryOnServer
	if !primaryOnServer {
		var err error

		primaryOnServer, err = e.resourceOnServer(ctx, rec.AssetID, rec.PrimaryHash,
			library.ResourcePrimary, library.ResourceVideo)
		if err != nil {
			return err
		}
	}

	rawOnServer := rec.RAWOnServer
	if rec.HasRAW && !rawOnServer && rec.RAWHash != nil {
		var err error

		rawOnServer, err = e.resourceOnServer(ctx, rec.AssetID, *rec.RAWHash, library.ResourceRAW)
		if err != nil {
			return err
		}
	}

	err := e.store.UpdatePresence(ctx, store.PresenceUpdate{
		AssetID:         rec.AssetID,
		PrimaryOnServer: primaryOnServer,
		RAWOnServer:     rawOnServer,
	})
	if err != nil {
		return err
	}

	rec.PrimaryOnServer = primaryOnServer
	rec.RAWOnServer = rawOnServer

	if rec.FullyOnServer() {
		e.setStatus(rec.AssetID, StatusUploaded)
	} else {
		e.setStatus(rec.AssetID, StatusNotUploaded)
	}

	return nil
}

func (e *Engine) resourceOnServer(ctx context.Context, assetID, hash string, types ...library.ResourceType) (bool, error) {
	uploaded, err := e.store.HasUploaded(ctx, assetID, types...)
	if err != nil {
		return false, err
	}

	if uploaded {
		return true, nil
	}

	return e.store.ChecksumExists(ctx, hash)
}

// classifyComplete marks every asset the check phase skipped, because
// its record already satisfied the completeness rule, as uploaded.
func (e *Engine) classifyComplete(ctx context.Context) {
	e.mu.RLock()

	pending := make([]string, 0, len(e.statuses))

	for id, st := range e.statuses {
		if st == StatusPending {
			pending = append(pending, id)
		}
	}

	e.mu.RUnlock()

	for _, id := range pending {
		rec, err := e.store.GetHashRecord(ctx, id)
		if err != nil || rec == nil {
			continue
		}

		if rec.FullyOnServer() {
			e.setStatus(id, StatusUploaded)
		} else {
			e.setStatus(id, StatusNotUploaded)
		}
	}
}

func (e *Engine) setStatus(id string, st Status) {
	e.mu.Lock()
	e.statuses[id] = st
	e.mu.Unlock()
}

func (e *Engine) dropFromProjection(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ids {
		delete(e.statuses, id)
	}
}

func (e *Engine) setProgress(msg string) {
	e.mu.Lock()
	e.progress = msg
	e.mu.Unlock()
}
