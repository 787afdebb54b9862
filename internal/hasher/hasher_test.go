package hasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/snapwire/photosync/internal/errors"
	"github.com/snapwire/photosync/internal/library"
)

type fakeResource struct {
	typ      library.ResourceType
	filename string
	data     []byte
	openErr  error
	readErr  error
}

func (r *fakeResource) Type() library.ResourceType { return r.typ }
func (r *fakeResource) OriginalFilename() string   { return r.filename }
func (r *fakeResource) UTI() string                { return "public.jpeg" }
func (r *fakeResource) ModTime() time.Time         { return time.Time{} }

func (r *fakeResource) Open(context.Context) (io.ReadCloser, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}

	if r.readErr != nil {
		return io.NopCloser(io.MultiReader(bytes.NewReader(r.data), errReader{r.readErr})), nil
	}

	return io.NopCloser(bytes.NewReader(r.data)), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type fakeLibrary struct {
	resources map[string][]library.Resource
}

func (l *fakeLibrary) ListIdentifiers(context.Context) ([]string, error) {
	ids := make([]string, 0, len(l.resources))
	for id := range l.resources {
		ids = append(ids, id)
	}

	return ids, nil
}

func (l *fakeLibrary) Resources(_ context.Context, id string) ([]library.Resource, error) {
	return l.resources[id], nil
}

func (l *fakeLibrary) Exists(_ context.Context, id string) (bool, error) {
	_, ok := l.resources[id]
	return ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func TestStream(t *testing.T) {
	data := bytes.Repeat([]byte("photosync"), 100_000)

	digest, err := Stream(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, sha256Hex(data), digest.Hex)
	assert.Equal(t, int64(len(data)), digest.Size)
}

func TestStream_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Stream(ctx, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashAsset_PrimaryOnly(t *testing.T) {
	data := []byte("jpeg bytes")
	lib := &fakeLibrary{resources: map[string][]library.Resource{
		"a1": {&fakeResource{typ: library.ResourcePrimary, filename: "IMG_0001.jpg", data: data}},
	}}

	hashes, err := New(lib, discardLogger()).HashAsset(context.Background(), "a1")
	require.NoError(t, err)

	assert.Equal(t, library.ResourcePrimary, hashes.PrimaryType)
	assert.Equal(t, "IMG_0001.jpg", hashes.PrimaryFilename)
	assert.Equal(t, sha256Hex(data), hashes.PrimaryHash)
	assert.Equal(t, int64(len(data)), hashes.PrimarySize)
	assert.False(t, hashes.HasRAW)
	assert.Nil(t, hashes.RAWHash)
}

func TestHashAsset_WithRAW(t *testing.T) {
	primary := []byte("jpeg bytes")
	raw := []byte("raw bytes, different")

	lib := &fakeLibrary{resources: map[string][]library.Resource{
		"a1": {
			&fakeResource{typ: library.ResourcePrimary, filename: "IMG_0001.jpg", data: primary},
			&fakeResource{typ: library.ResourceRAW, filename: "IMG_0001.CR3", data: raw},
		},
	}}

	hashes, err := New(lib, discardLogger()).HashAsset(context.Background(), "a1")
	require.NoError(t, err)

	assert.True(t, hashes.HasRAW)
	assert.Equal(t, sha256Hex(primary), hashes.PrimaryHash)
	require.NotNil(t, hashes.RAWHash)
	assert.Equal(t, sha256Hex(raw), *hashes.RAWHash)
	require.NotNil(t, hashes.RAWSize)
	assert.Equal(t, int64(len(raw)), *hashes.RAWSize)
}

func TestHashAsset_NoResource(t *testing.T) {
	lib := &fakeLibrary{resources: map[string][]library.Resource{
		"raw-only": {&fakeResource{typ: library.ResourceRAW, data: []byte("x")}},
	}}
	h := New(lib, discardLogger())

	_, err := h.HashAsset(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNoResourceFound)

	// A RAW with no primary is also not hashable.
	_, err = h.HashAsset(context.Background(), "raw-only")
	assert.ErrorIs(t, err, apperrors.ErrNoResourceFound)
}

func TestHashAsset_StreamFailure(t *testing.T) {
	lib := &fakeLibrary{resources: map[string][]library.Resource{
		"a1": {&fakeResource{
			typ:     library.ResourcePrimary,
			data:    []byte("partial"),
			readErr: errors.New("network reset"),
		}},
	}}

	_, err := New(lib, discardLogger()).HashAsset(context.Background(), "a1")
	assert.ErrorIs(t, err, apperrors.ErrHashCalculationFailed)
}

func TestHashAsset_OpenFailure(t *testing.T) {
	lib := &fakeLibrary{resources: map[string][]library.Resource{
		"a1": {&fakeResource{
			typ:     library.ResourcePrimary,
			openErr: errors.New("icloud fetch failed"),
		}},
	}}

	_, err := New(lib, discardLogger()).HashAsset(context.Background(), "a1")
	assert.ErrorIs(t, err, apperrors.ErrHashCalculationFailed)
}
