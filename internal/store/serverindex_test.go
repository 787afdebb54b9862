package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceServerAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceServerAssets(ctx, []ServerAssetRecord{
		{RemoteID: "r1", Checksum: "aaa"},
		{RemoteID: "r2", Checksum: "bbb", CloudID: strPtr("cloud-2")},
	}, SyncMetadata{
		LastSyncTime: time.Now(),
		LastSyncType: SyncFull,
		RemoteUserID: "u1",
		TotalAssets:  2,
	}))

	// A second full sync fully replaces the first.
	require.NoError(t, s.ReplaceServerAssets(ctx, []ServerAssetRecord{
		{RemoteID: "r3", Checksum: "ccc"},
	}, SyncMetadata{
		LastSyncTime: time.Now(),
		LastSyncType: SyncFull,
		RemoteUserID: "u1",
		TotalAssets:  1,
	}))

	count, err := s.ServerAssetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	ok, err := s.ChecksumExists(ctx, "aaa")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ChecksumExists(ctx, "ccc")
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := s.GetSyncMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, SyncFull, meta.LastSyncType)
	assert.Equal(t, "u1", meta.RemoteUserID)
	assert.Equal(t, int64(1), meta.TotalAssets)
}

func TestMergeServerAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceServerAssets(ctx, []ServerAssetRecord{
		{RemoteID: "r1", Checksum: "aaa"},
		{RemoteID: "r2", Checksum: "bbb"},
	}, SyncMetadata{LastSyncTime: time.Now(), LastSyncType: SyncFull, RemoteUserID: "u1"}))

	require.NoError(t, s.MergeServerAssets(ctx,
		[]ServerAssetRecord{
			{RemoteID: "r2", Checksum: "bbb2"},
			{RemoteID: "r3", Checksum: "ccc"},
		},
		[]string{"r1"},
		SyncMetadata{LastSyncTime: time.Now(), LastSyncType: SyncDelta, RemoteUserID: "u1"},
	))

	count, err := s.ServerAssetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	ok, err := s.ChecksumExists(ctx, "aaa")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ChecksumExists(ctx, "bbb2")
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := s.GetSyncMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncDelta, meta.LastSyncType)

	// The merge recounts the mirror; the caller's (zero) total is
	// never persisted.
	assert.Equal(t, int64(2), meta.TotalAssets)
}

func TestFindByCloudIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceServerAssets(ctx, []ServerAssetRecord{
		{RemoteID: "r1", Checksum: "aaa", CloudID: strPtr("c1")},
		{RemoteID: "r2", Checksum: "bbb"},
	}, SyncMetadata{LastSyncTime: time.Now(), LastSyncType: SyncFull, RemoteUserID: "u1"}))

	found, err := s.FindByCloudIDs(ctx, []string{"c1", "missing"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "r1", found["c1"].RemoteID)
	assert.Equal(t, "aaa", found["c1"].Checksum)

	ok, err := s.HasCloudIDs(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasCloudIDs_Empty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceServerAssets(ctx, []ServerAssetRecord{
		{RemoteID: "r1", Checksum: "aaa"},
	}, SyncMetadata{LastSyncTime: time.Now(), LastSyncType: SyncFull, RemoteUserID: "u1"}))

	ok, err := s.HasCloudIDs(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetSyncMetadata_NoSyncYet(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.GetSyncMetadata(context.Background())
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestClearServerIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceServerAssets(ctx, []ServerAssetRecord{
		{RemoteID: "r1", Checksum: "aaa"},
	}, SyncMetadata{LastSyncTime: time.Now(), LastSyncType: SyncFull, RemoteUserID: "u1"}))

	require.NoError(t, s.ClearServerIndex(ctx))

	count, err := s.ServerAssetCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	meta, err := s.GetSyncMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, meta)
}
