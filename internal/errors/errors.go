package errors

import "errors"

// Per-item errors. Both are soft: a failed item is reported with an
// error status and the rest of the batch continues.
var (
	ErrNoResourceFound       = errors.New("no resource found for asset")
	ErrHashCalculationFailed = errors.New("hash calculation failed")
)

// Store and transport errors.
var (
	// ErrStoreWriteFailed marks a failed batch write. Only the in-flight
	// transaction is rolled back; previously committed batches stand.
	ErrStoreWriteFailed = errors.New("store write failed")

	ErrRemoteSyncFailed = errors.New("remote sync failed")
)

// ErrSyncInProgress is returned when a reconciliation run is requested
// while one is already active. Not a failure: the duplicate request is
// dropped and the active run continues.
var ErrSyncInProgress = errors.New("reconciliation already in progress")
