// Package library defines the media-library collaborator contract: the
// engine's only view of the local photo collection. Implementations
// enumerate stable asset identifiers and expose each asset's backing
// resources as byte streams.
package library

import (
	"context"
	"io"
	"time"
)

// ResourceType tags one physical file backing an asset.
type ResourceType string

const (
	// ResourcePrimary is the main photo file (JPEG, HEIC, PNG...).
	ResourcePrimary ResourceType = "primary"

	// ResourceVideo is the main video file for video assets.
	ResourceVideo ResourceType = "video"

	// ResourceRAW is an alternate RAW file paired with a primary photo.
	ResourceRAW ResourceType = "raw"
)

// IsPrimary reports whether the type is the asset's main resource
// (photo or video) as opposed to an alternate format.
func (t ResourceType) IsPrimary() bool {
	return t == ResourcePrimary || t == ResourceVideo
}

// Resource is one physical file backing an asset. Open returns a fresh
// stream each call; callers own closing it. Streams may be backed by
// network fetches and can fail mid-read. ModTime reports the resource's
// last modification time, or zero when the backing store does not
// track one.
type Resource interface {
	Type() ResourceType
	OriginalFilename() string
	UTI() string
	ModTime() time.Time
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Library is the media-library collaborator. Identifiers are opaque,
// stable strings owned by the library; the engine never generates them.
type Library interface {
	// ListIdentifiers enumerates all current local asset identifiers.
	ListIdentifiers(ctx context.Context) ([]string, error)

	// Resources returns the physical files backing an asset. An asset has
	// exactly one primary (photo or video) resource and at most one RAW.
	Resources(ctx context.Context, id string) ([]Resource, error)

	// Exists reports whether the identifier still refers to a live asset.
	Exists(ctx context.Context, id string) (bool, error)
}

// CloudIdentifierResolver is an optional capability: libraries backed by
// a platform photo service can map local identifiers to the service's
// cloud identifiers, letting the engine match assets against the remote
// index without hashing. A missing mapping is reported per id, not as a
// call failure.
type CloudIdentifierResolver interface {
	CloudIdentifiers(ctx context.Context, ids []string) (map[string]string, error)
}
