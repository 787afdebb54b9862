package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, "test-key", "device-1", srv.Client())
}

func TestFetchCurrentUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/users/me", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		json.NewEncoder(w).Encode(User{ID: "u1", Email: "me@example.com"})
	})

	user, err := c.FetchCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestFetchFullSyncPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sync/full-sync", r.URL.Path)

		var req FullSyncPageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, 100, req.Limit)

		json.NewEncoder(w).Encode([]SyncAsset{{ID: "r1", Checksum: "abc="}})
	})

	assets, err := c.FetchFullSyncPage(context.Background(), FullSyncPageRequest{
		UserID: "u1", Limit: 100, UpdatedUntil: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "r1", assets[0].ID)
}

func TestFetchDeltaSync(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req DeltaSyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"u1", "p1"}, req.UserIDs)

		json.NewEncoder(w).Encode(DeltaSyncResponse{
			Deleted:       []string{"r9"},
			NeedsFullSync: true,
		})
	})

	resp, err := c.FetchDeltaSync(context.Background(), DeltaSyncRequest{
		UpdatedAfter: "2026-01-01T00:00:00Z",
		UserIDs:      []string{"u1", "p1"},
	})
	require.NoError(t, err)
	assert.True(t, resp.NeedsFullSync)
	assert.Equal(t, []string{"r9"}, resp.Deleted)
}

func TestErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "flat message", body: `{"message":"invalid key"}`, want: "invalid key"},
		{name: "flat error", body: `{"error":"denied"}`, want: "denied"},
		{name: "nested", body: `{"error":{"message":"nested denial"}}`, want: "nested denial"},
		{name: "garbage", body: `<html>nope</html>`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apiErrorMessage([]byte(tt.body)))
		})
	}
}

func TestDo_NonTransientError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"invalid api key"}`)
	})

	_, err := c.FetchCurrentUser(context.Background())
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestDo_TransientError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.FetchCurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestUploadResource(t *testing.T) {
	content := strings.Repeat("media bytes ", 1000)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/assets", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "asset-1-primary", r.FormValue("deviceAssetId"))
		assert.Equal(t, "device-1", r.FormValue("deviceId"))

		file, header, err := r.FormFile("assetData")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "IMG_0001.jpg", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(UploadResponse{ID: "remote-1"})
	})

	resp, err := c.UploadResource(context.Background(), UploadRequest{
		DeviceAssetID: "asset-1-primary",
		Filename:      "IMG_0001.jpg",
	}, strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "remote-1", resp.ID)
	assert.False(t, resp.Duplicate)
}

func TestUploadResource_DuplicateViaStatusField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"remote-2","status":"duplicate"}`)
	})

	resp, err := c.UploadResource(context.Background(), UploadRequest{
		DeviceAssetID: "a", Filename: "f.jpg",
	}, strings.NewReader("x"))
	require.NoError(t, err)

	assert.Equal(t, "remote-2", resp.ID)
	assert.True(t, resp.Duplicate)
}

func TestUploadResource_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.UploadResource(context.Background(), UploadRequest{
		DeviceAssetID: "a", Filename: "f.jpg",
	}, strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestUpdateFavorites(t *testing.T) {
	var got UpdateFavoritesRequest

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	err := c.UpdateFavorites(context.Background(), UpdateFavoritesRequest{
		IDs: []string{"r1", "r2"}, IsFavorite: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, got.IDs)
	assert.True(t, got.IsFavorite)
}

func TestUpdateFavorites_EmptyIsNoop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	require.NoError(t, c.UpdateFavorites(context.Background(), UpdateFavoritesRequest{}))
}

func TestSameHostRedirectPolicy(t *testing.T) {
	first, err := http.NewRequest(http.MethodGet, "https://photos.example.com/a", nil)
	require.NoError(t, err)

	sameHost, err := http.NewRequest(http.MethodGet, "https://photos.example.com/b", nil)
	require.NoError(t, err)
	assert.NoError(t, sameHostRedirectPolicy(sameHost, []*http.Request{first}))

	otherHost, err := http.NewRequest(http.MethodGet, "https://evil.example.net/b", nil)
	require.NoError(t, err)
	assert.Error(t, sameHostRedirectPolicy(otherHost, []*http.Request{first}))
}
