package store

// Schema v1 - Initial database schema
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per distinct source path ever observed
CREATE TABLE IF NOT EXISTS files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source_path TEXT UNIQUE NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  mime_type TEXT,
  content_hash TEXT,
  status TEXT NOT NULL DEFAULT 'PENDING',
  duplicate_of INTEGER REFERENCES files(id),
  category TEXT,
  confidence REAL,
  date_source TEXT,
  date_value TEXT,
  artist TEXT,
  album TEXT,
  dest_path TEXT,
  error TEXT,
  first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  last_update_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
CREATE INDEX IF NOT EXISTS idx_files_content_hash ON files(content_hash);
CREATE INDEX IF NOT EXISTS idx_files_dest_path ON files(dest_path);

-- At most one record holds the primary role per content hash
CREATE UNIQUE INDEX IF NOT EXISTS idx_files_primary_hash
  ON files(content_hash)
  WHERE status IN ('PRIMARY', 'STAGED_OK', 'STAGED_ERROR');

-- Directories the user asked to scan (append-only)
CREATE TABLE IF NOT EXISTS source_roots (
  path TEXT PRIMARY KEY,
  added_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Pipeline invocations and the destination root each one projected into
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  destination TEXT NOT NULL,
  dry_run INTEGER DEFAULT 0,
  started_at DATETIME NOT NULL,
  finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_destination ON runs(destination);
`
