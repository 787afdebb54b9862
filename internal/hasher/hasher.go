// Package hasher computes content hashes for asset resources by
// streaming their bytes through SHA-256, never holding a whole file in
// memory.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	apperrors "github.com/snapwire/photosync/internal/errors"
	"github.com/snapwire/photosync/internal/library"
)

// copyBufferSize is the chunk size for streaming reads. Large enough to
// amortize syscalls, small enough that a full worker budget of buffers
// stays cheap.
const copyBufferSize = 256 * 1024

// Digest is the result of hashing one resource stream.
type Digest struct {
	Hex  string
	Size int64
}

// AssetHashes holds the digests for all resources backing one asset.
type AssetHashes struct {
	PrimaryType     library.ResourceType
	PrimaryFilename string
	PrimaryHash     string
	PrimarySize     int64
	RAWHash         *string
	RAWSize         *int64
	HasRAW          bool
}

// Stream digests an entire reader incrementally and returns the
// lowercase hex digest with the total byte count.
func Stream(ctx context.Context, r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, copyBufferSize)

	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return Digest{}, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			h.Write(buf[:n])
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			return Digest{}, err
		}
	}

	return Digest{Hex: hex.EncodeToString(h.Sum(nil)), Size: total}, nil
}

// Hasher resolves an asset's resources through the library and digests
// each one.
type Hasher struct {
	lib    library.Library
	logger *slog.Logger
}

// New creates a hasher over the given library.
func New(lib library.Library, logger *slog.Logger) *Hasher {
	return &Hasher{lib: lib, logger: logger}
}

// HashAsset digests the primary resource and, when present, the RAW
// alternate for one asset. Returns ErrNoResourceFound when the library
// has nothing for the identifier and wraps stream failures in
// ErrHashCalculationFailed. Both are soft per-item failures.
func (h *Hasher) HashAsset(ctx context.Context, id string) (*AssetHashes, error) {
	resources, err := h.lib.Resources(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrHashCalculationFailed, id, err)
	}

	var primary, raw library.Resource

	for _, res := range resources {
		switch {
		case res.Type().IsPrimary() && primary == nil:
			primary = res
		case res.Type() == library.ResourceRAW && raw == nil:
			raw = res
		}
	}

	if primary == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNoResourceFound, id)
	}

	primaryDigest, err := h.digestResource(ctx, id, primary)
	if err != nil {
		return nil, err
	}

	result := &AssetHashes{
		PrimaryType:     primary.Type(),
		PrimaryFilename: primary.OriginalFilename(),
		PrimaryHash:     primaryDigest.Hex,
		PrimarySize:     primaryDigest.Size,
	}

	if raw != nil {
		rawDigest, err := h.digestResource(ctx, id, raw)
		if err != nil {
			return nil, err
		}

		result.HasRAW = true
		result.RAWHash = &rawDigest.Hex
		result.RAWSize = &rawDigest.Size
	}

	h.logger.Debug("hashed asset",
		slog.String("asset", id),
		slog.Int64("primary_bytes", result.PrimarySize),
		slog.Bool("has_raw", result.HasRAW),
	)

	return result, nil
}

func (h *Hasher) digestResource(ctx context.Context, id string, res library.Resource) (Digest, error) {
	stream, err := res.Open(ctx)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: opening %s %s: %w",
			apperrors.ErrHashCalculationFailed, res.Type(), id, err)
	}
	defer stream.Close()

	digest, err := Stream(ctx, stream)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: streaming %s %s: %w",
			apperrors.ErrHashCalculationFailed, res.Type(), id, err)
	}

	return digest, nil
}
