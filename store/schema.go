package store

// schemaSQL is the DDL for all tables.
const schemaSQL = `
-- Time-bounded object keys. An entry past expires_at makes its object
-- eligible for deletion; clearing the entry promotes the object to
-- permanent without touching it.
CREATE TABLE IF NOT EXISTS file_ttl (
    bucket TEXT NOT NULL,
    object_key TEXT NOT NULL,
    expires_at DATETIME NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (bucket, object_key)
);

CREATE INDEX IF NOT EXISTS idx_file_ttl_expires ON file_ttl(expires_at);

-- Deletion jobs that exhausted their retries, retained for operational
-- inspection. Pruned by count and age.
CREATE TABLE IF NOT EXISTS failed_deletions (
    id INTEGER PRIMARY KEY,
    job_id TEXT NOT NULL,
    bucket TEXT NOT NULL,
    object_key TEXT,
    object_keys JSON,
    prefix TEXT,
    attempts INTEGER NOT NULL,
    last_error TEXT,
    failed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_failed_deletions_failed_at ON failed_deletions(failed_at);
`
