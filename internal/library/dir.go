package library

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// primaryExts maps primary file extensions (lowercase, with dot) to the
// resource type they carry.
var primaryExts = map[string]ResourceType{
	".jpg":  ResourcePrimary,
	".jpeg": ResourcePrimary,
	".heic": ResourcePrimary,
	".heif": ResourcePrimary,
	".png":  ResourcePrimary,
	".gif":  ResourcePrimary,
	".webp": ResourcePrimary,
	".mp4":  ResourceVideo,
	".mov":  ResourceVideo,
	".m4v":  ResourceVideo,
}

// rawExts are alternate RAW extensions paired with a primary photo by
// sharing its base name.
var rawExts = map[string]bool{
	".dng": true,
	".raw": true,
	".cr2": true,
	".cr3": true,
	".nef": true,
	".arw": true,
	".raf": true,
	".orf": true,
	".rw2": true,
}

// utiByExt maps extensions to uniform type identifiers reported to the
// transport. Unknown extensions fall back to public.data.
var utiByExt = map[string]string{
	".jpg":  "public.jpeg",
	".jpeg": "public.jpeg",
	".heic": "public.heic",
	".heif": "public.heif",
	".png":  "public.png",
	".gif":  "com.compuserve.gif",
	".webp": "org.webmproject.webp",
	".mp4":  "public.mpeg-4",
	".mov":  "com.apple.quicktime-movie",
	".m4v":  "com.apple.m4v-video",
	".dng":  "com.adobe.raw-image",
	".raw":  "public.camera-raw-image",
	".cr2":  "com.canon.cr2-raw-image",
	".cr3":  "com.canon.cr3-raw-image",
	".nef":  "com.nikon.raw-image",
	".arw":  "com.sony.arw-raw-image",
	".raf":  "com.fuji.raw-image",
	".orf":  "com.olympus.raw-image",
	".rw2":  "com.panasonic.rw2-raw-image",
}

// DirLibrary is a Library backed by a directory tree. The identifier of
// an asset is the slash-separated path of its primary file relative to
// the root; a RAW file with the same base name is the asset's alternate
// resource rather than an asset of its own.
type DirLibrary struct {
	root string
}

// NewDirLibrary creates a directory-backed library rooted at dir. The
// directory must exist; identifiers are only stable relative to it.
func NewDirLibrary(dir string) (*DirLibrary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening library directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("library path %s is not a directory", dir)
	}

	return &DirLibrary{root: dir}, nil
}

// Root returns the library's root directory.
func (l *DirLibrary) Root() string {
	return l.root
}

// ListIdentifiers walks the tree and returns one identifier per primary
// file. RAW files and unrecognized extensions are skipped; RAW siblings
// surface through Resources instead.
func (l *DirLibrary) ListIdentifiers(ctx context.Context) ([]string, error) {
	var ids []string

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			// Hidden directories hold editor/OS droppings, not media.
			if d.Name() != "." && strings.HasPrefix(d.Name(), ".") && path != l.root {
				return filepath.SkipDir
			}

			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := primaryExts[ext]; !ok {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}

		ids = append(ids, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking library directory: %w", err)
	}

	return ids, nil
}

// Exists reports whether the identifier still names a regular file.
func (l *DirLibrary) Exists(ctx context.Context, id string) (bool, error) {
	info, err := os.Stat(l.abs(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("checking asset %s: %w", id, err)
	}

	return info.Mode().IsRegular(), nil
}

// Resources returns the primary resource for the identifier plus a RAW
// sibling when one exists on disk. A missing primary file yields an
// empty slice, which the hasher reports as no-resource-found.
func (l *DirLibrary) Resources(ctx context.Context, id string) ([]Resource, error) {
	primaryPath := l.abs(id)

	info, err := os.Stat(primaryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading asset %s: %w", id, err)
	}

	ext := strings.ToLower(filepath.Ext(id))

	rt, ok := primaryExts[ext]
	if !ok || !info.Mode().IsRegular() {
		return nil, nil
	}

	resources := []Resource{newFileResource(primaryPath, rt)}

	base := strings.TrimSuffix(primaryPath, filepath.Ext(primaryPath))
	for rawExt := range rawExts {
		for _, candidate := range []string{base + rawExt, base + strings.ToUpper(rawExt)} {
			if st, err := os.Stat(candidate); err == nil && st.Mode().IsRegular() {
				resources = append(resources, newFileResource(candidate, ResourceRAW))

				return resources, nil
			}
		}
	}

	return resources, nil
}

func (l *DirLibrary) abs(id string) string {
	return filepath.Join(l.root, filepath.FromSlash(id))
}

// fileResource is a Resource backed by a file on disk.
type fileResource struct {
	path string
	typ  ResourceType
}

func newFileResource(path string, typ ResourceType) *fileResource {
	return &fileResource{path: path, typ: typ}
}

func (r *fileResource) Type() ResourceType {
	return r.typ
}

// OriginalFilename returns the base name normalized to NFC. macOS
// filesystems report NFD, which would break filename comparison against
// the remote store.
func (r *fileResource) OriginalFilename() string {
	return norm.NFC.String(filepath.Base(r.path))
}

// ModTime returns the file's modification time, or zero when the file
// has gone away since listing.
func (r *fileResource) ModTime() time.Time {
	info, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}
	}

	return info.ModTime()
}

func (r *fileResource) UTI() string {
	ext := strings.ToLower(filepath.Ext(r.path))
	if uti, ok := utiByExt[ext]; ok {
		return uti
	}

	return "public.data"
}

func (r *fileResource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening resource %s: %w", filepath.Base(r.path), err)
	}

	return f, nil
}
