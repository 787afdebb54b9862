package store

// All timestamps are stored as epoch milliseconds for portability.
const schema = `
CREATE TABLE IF NOT EXISTS hash_cache (
	asset_id          TEXT PRIMARY KEY,
	primary_hash      TEXT NOT NULL,
	primary_file_size INTEGER NOT NULL,
	raw_hash          TEXT,
	raw_file_size     INTEGER,
	has_raw           INTEGER NOT NULL DEFAULT 0,
	primary_on_server INTEGER NOT NULL DEFAULT 0,
	raw_on_server     INTEGER NOT NULL DEFAULT 0,
	calculated_at     INTEGER NOT NULL,
	checked_at        INTEGER
);

CREATE INDEX IF NOT EXISTS idx_hash_cache_presence
	ON hash_cache(primary_on_server, raw_on_server);

CREATE TABLE IF NOT EXISTS upload_jobs (
	asset_id      TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	filename      TEXT,
	status        TEXT NOT NULL,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	remote_id     TEXT,
	error_message TEXT,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (asset_id, resource_type)
);

CREATE INDEX IF NOT EXISTS idx_upload_jobs_status ON upload_jobs(status);

CREATE TABLE IF NOT EXISTS uploaded_assets (
	asset_id      TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	remote_id     TEXT NOT NULL,
	file_size     INTEGER NOT NULL,
	is_duplicate  INTEGER NOT NULL DEFAULT 0,
	is_favorite   INTEGER NOT NULL DEFAULT 0,
	uploaded_at   INTEGER NOT NULL,
	PRIMARY KEY (asset_id, resource_type)
);

CREATE INDEX IF NOT EXISTS idx_uploaded_assets_remote ON uploaded_assets(remote_id);

CREATE TABLE IF NOT EXISTS server_assets_cache (
	remote_id         TEXT PRIMARY KEY,
	checksum          TEXT NOT NULL,
	original_filename TEXT,
	asset_type        TEXT,
	updated_at        TEXT,
	cloud_id          TEXT
);

CREATE INDEX IF NOT EXISTS idx_server_assets_checksum ON server_assets_cache(checksum);
CREATE INDEX IF NOT EXISTS idx_server_assets_cloud
	ON server_assets_cache(cloud_id) WHERE cloud_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS sync_metadata (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	last_sync_time INTEGER NOT NULL,
	last_sync_type TEXT NOT NULL,
	remote_user_id TEXT NOT NULL,
	total_assets   INTEGER NOT NULL
);
`
