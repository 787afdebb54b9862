package api

// SyncAsset is one remote asset as reported by the listing endpoints.
// Checksum is base64 as sent by the server; conversion to hex happens
// in the sync client, not here.
type SyncAsset struct {
	ID               string `json:"id"`
	Checksum         string `json:"checksum"`
	OriginalFileName string `json:"originalFileName,omitempty"`
	Type             string `json:"type,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
	CloudID          string `json:"cloudId,omitempty"`
}

// FullSyncPageRequest asks for one page of the complete asset listing.
// UpdatedUntil pins the whole paginated pull to a single snapshot time;
// LastID is the server-assigned cursor (empty on the first page).
type FullSyncPageRequest struct {
	UserID       string `json:"userId"`
	Limit        int    `json:"limit"`
	LastID       string `json:"lastId,omitempty"`
	UpdatedUntil string `json:"updatedUntil"`
}

// DeltaSyncRequest asks for changes since UpdatedAfter across the given
// user set (own id plus any partners).
type DeltaSyncRequest struct {
	UpdatedAfter string   `json:"updatedAfter"`
	UserIDs      []string `json:"userIds"`
}

// DeltaSyncResponse carries incremental changes. NeedsFullSync set means
// the server cannot produce a consistent delta (e.g. the cursor was
// compacted away) and the client must fall back to a full sync.
type DeltaSyncResponse struct {
	Upserted      []SyncAsset `json:"upserted"`
	Deleted       []string    `json:"deleted"`
	NeedsFullSync bool        `json:"needsFullSync"`
}

// UploadRequest describes one resource upload. The stream itself is
// passed separately; the device id is stamped by the client, which owns
// it. Timestamps are RFC3339; empty values are omitted from the wire.
type UploadRequest struct {
	DeviceAssetID string
	Filename      string
	MimeType      string
	IsFavorite    bool
	CreatedAt     string
	ModifiedAt    string
}

// UploadResponse is the server's answer to an upload: the asset's
// remote id, and whether the content already existed there.
type UploadResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// Partner is a user whose library is shared with this account.
type Partner struct {
	ID string `json:"id"`
}

// User identifies the authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// UpdateFavoritesRequest bulk-updates the favorite flag on remote
// assets.
type UpdateFavoritesRequest struct {
	IDs        []string `json:"ids"`
	IsFavorite bool     `json:"isFavorite"`
}
