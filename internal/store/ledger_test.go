package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapwire/photosync/internal/library"
)

func TestRecordAttempt_NeverRegressesCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID:      "a1",
		ResourceType: library.ResourcePrimary,
		RemoteID:     "r1",
		FileSize:     100,
	}))

	// A late or duplicate attempt must not touch the completed row.
	require.NoError(t, s.RecordAttempt(ctx, "a1", library.ResourcePrimary, "f.jpg", JobUploading))

	job, err := s.GetUploadJob(ctx, "a1", library.ResourcePrimary)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobCompleted, job.Status)
	require.NotNil(t, job.RemoteID)
	assert.Equal(t, "r1", *job.RemoteID)
}

func TestRecordAttempt_UpdatesNonCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAttempt(ctx, "a1", library.ResourcePrimary, "f.jpg", JobPending))
	require.NoError(t, s.RecordAttempt(ctx, "a1", library.ResourcePrimary, "f.jpg", JobUploading))

	job, err := s.GetUploadJob(ctx, "a1", library.ResourcePrimary)
	require.NoError(t, err)
	assert.Equal(t, JobUploading, job.Status)
	assert.Equal(t, "f.jpg", job.Filename)
}

func TestRecordResult_FlipsPresenceFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertHash(ctx, HashCacheRecord{
		AssetID: "a1", PrimaryHash: "h", HasRAW: true, RAWHash: strPtr("r"),
	}))

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID:      "a1",
		ResourceType: library.ResourcePrimary,
		RemoteID:     "r1",
	}))

	rec, err := s.GetHashRecord(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, rec.PrimaryOnServer)
	assert.False(t, rec.RAWOnServer)

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID:      "a1",
		ResourceType: library.ResourceRAW,
		RemoteID:     "r2",
	}))

	rec, err = s.GetHashRecord(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, rec.RAWOnServer)
	assert.True(t, rec.FullyOnServer())
}

func TestMarkFailed_IncrementsRetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkFailed(ctx, "a1", library.ResourcePrimary, "boom"))
	require.NoError(t, s.MarkFailed(ctx, "a1", library.ResourcePrimary, "boom again"))

	job, err := s.GetUploadJob(ctx, "a1", library.ResourcePrimary)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, 2, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "boom again", *job.ErrorMessage)
}

func TestMarkFailed_DoesNotRegressCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID:      "a1",
		ResourceType: library.ResourceVideo,
		RemoteID:     "r1",
	}))
	require.NoError(t, s.MarkFailed(ctx, "a1", library.ResourceVideo, "late failure"))

	job, err := s.GetUploadJob(ctx, "a1", library.ResourceVideo)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
}

func TestHasUploaded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID:      "a1",
		ResourceType: library.ResourceVideo,
		RemoteID:     "r1",
	}))

	ok, err := s.HasUploaded(ctx, "a1", library.ResourcePrimary, library.ResourceVideo)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasUploaded(ctx, "a1", library.ResourceRAW)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasUploaded(ctx, "a2", library.ResourcePrimary)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.HasUploaded(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetUploadedFavorites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID: "a1", ResourceType: library.ResourcePrimary, RemoteID: "r1",
	}))
	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID: "a2", ResourceType: library.ResourcePrimary, RemoteID: "r2",
	}))

	require.NoError(t, s.SetUploadedFavorites(ctx, []string{"r1"}, true))

	rec, err := s.GetUploadedAsset(ctx, "a1", library.ResourcePrimary)
	require.NoError(t, err)
	assert.True(t, rec.IsFavorite)

	rec, err = s.GetUploadedAsset(ctx, "a2", library.ResourcePrimary)
	require.NoError(t, err)
	assert.False(t, rec.IsFavorite)
}

func TestPurgeCompletedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID: "old", ResourceType: library.ResourcePrimary, RemoteID: "r1",
	}))
	require.NoError(t, s.MarkFailed(ctx, "failed", library.ResourcePrimary, "x"))

	purged, err := s.PurgeCompletedJobs(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// Failed rows survive cleanup so retry history is preserved.
	job, err := s.GetUploadJob(ctx, "failed", library.ResourcePrimary)
	require.NoError(t, err)
	require.NotNil(t, job)

	job, err = s.GetUploadJob(ctx, "old", library.ResourcePrimary)
	require.NoError(t, err)
	assert.Nil(t, job)

	// The confirmation record is untouched by ledger cleanup.
	rec, err := s.GetUploadedAsset(ctx, "old", library.ResourcePrimary)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestListUploadedAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID: "a1", ResourceType: library.ResourcePrimary, RemoteID: "r1", IsDuplicate: true,
	}))
	require.NoError(t, s.RecordResult(ctx, UploadedAssetRecord{
		AssetID: "a1", ResourceType: library.ResourceRAW, RemoteID: "r2",
	}))

	recs, err := s.ListUploadedAssets(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, library.ResourcePrimary, recs[0].ResourceType)
	assert.True(t, recs[0].IsDuplicate)
	assert.Equal(t, library.ResourceRAW, recs[1].ResourceType)
}
