package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestLibrary(t *testing.T) (*DirLibrary, string) {
	t.Helper()

	dir := t.TempDir()

	lib, err := NewDirLibrary(dir)
	require.NoError(t, err)

	return lib, dir
}

func TestNewDirLibrary_MissingDir(t *testing.T) {
	_, err := NewDirLibrary(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestListIdentifiers(t *testing.T) {
	lib, dir := newTestLibrary(t)

	writeFile(t, filepath.Join(dir, "2026", "IMG_0001.jpg"), "a")
	writeFile(t, filepath.Join(dir, "2026", "IMG_0001.CR3"), "raw")
	writeFile(t, filepath.Join(dir, "clip.mov"), "video")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not media")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.jpg"), "skipped")

	ids, err := lib.ListIdentifiers(context.Background())
	require.NoError(t, err)

	// RAW siblings, non-media, and hidden directories are not assets.
	assert.ElementsMatch(t, []string{"2026/IMG_0001.jpg", "clip.mov"}, ids)
}

func TestExists(t *testing.T) {
	lib, dir := newTestLibrary(t)

	writeFile(t, filepath.Join(dir, "a.jpg"), "x")

	ok, err := lib.Exists(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lib.Exists(context.Background(), "gone.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResources_PrimaryOnly(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, filepath.Join(dir, "a.heic"), "heic bytes")

	resources, err := lib.Resources(context.Background(), "a.heic")
	require.NoError(t, err)
	require.Len(t, resources, 1)

	res := resources[0]
	assert.Equal(t, ResourcePrimary, res.Type())
	assert.Equal(t, "a.heic", res.OriginalFilename())
	assert.Equal(t, "public.heic", res.UTI())
	assert.False(t, res.ModTime().IsZero())

	stream, err := res.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()
}

func TestResources_WithRAWSibling(t *testing.T) {
	lib, dir := newTestLibrary(t)

	writeFile(t, filepath.Join(dir, "shoot", "IMG_0042.jpg"), "jpeg")
	writeFile(t, filepath.Join(dir, "shoot", "IMG_0042.CR3"), "raw")

	resources, err := lib.Resources(context.Background(), "shoot/IMG_0042.jpg")
	require.NoError(t, err)
	require.Len(t, resources, 2)

	assert.Equal(t, ResourcePrimary, resources[0].Type())
	assert.Equal(t, ResourceRAW, resources[1].Type())
	assert.Equal(t, "IMG_0042.CR3", resources[1].OriginalFilename())
}

func TestResources_VideoType(t *testing.T) {
	lib, dir := newTestLibrary(t)
	writeFile(t, filepath.Join(dir, "clip.mp4"), "video")

	resources, err := lib.Resources(context.Background(), "clip.mp4")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, ResourceVideo, resources[0].Type())
	assert.True(t, resources[0].Type().IsPrimary())
}

func TestResources_MissingAsset(t *testing.T) {
	lib, _ := newTestLibrary(t)

	resources, err := lib.Resources(context.Background(), "never-existed.jpg")
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestOriginalFilename_NFCNormalized(t *testing.T) {
	lib, dir := newTestLibrary(t)

	// NFD form of "café.jpg" as macOS filesystems report it.
	nfd := norm.NFD.String("café.jpg")
	writeFile(t, filepath.Join(dir, nfd), "x")

	resources, err := lib.Resources(context.Background(), nfd)
	require.NoError(t, err)
	require.Len(t, resources, 1)

	assert.Equal(t, norm.NFC.String("café.jpg"), resources[0].OriginalFilename())
}

func TestResourceTypeIsPrimary(t *testing.T) {
	assert.True(t, ResourcePrimary.IsPrimary())
	assert.True(t, ResourceVideo.IsPrimary())
	assert.False(t, ResourceRAW.IsPrimary())
}
