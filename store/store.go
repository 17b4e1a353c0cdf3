// Package store wraps the SQLite database holding docpipe's durable state:
// the TTL registry for time-bounded objects and the retained records of
// terminally failed deletion jobs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TTLEntry marks one object as eligible for deletion after ExpiresAt.
type TTLEntry struct {
	Bucket    string    `json:"bucket"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FailedDeletion is a deletion job that exhausted its retries.
type FailedDeletion struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Bucket    string    `json:"bucket"`
	ObjectKey string    `json:"object_key,omitempty"`
	Keys      []string  `json:"object_keys,omitempty"`
	Prefix    string    `json:"prefix,omitempty"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// Retention bounds for failed deletion records.
const (
	maxFailedRecords = 1000
	maxFailedAge     = 30 * 24 * time.Hour
)

// Store wraps the SQLite database for all docpipe persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- TTL registry ---

// RegisterTTL records (bucket, key) as expiring at expiresAt. Same-key
// registrations are last-write-wins.
func (s *Store) RegisterTTL(ctx context.Context, bucket, key string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_ttl (bucket, object_key, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(bucket, object_key) DO UPDATE SET expires_at = excluded.expires_at
	`, bucket, key, expiresAt.UTC())
	return err
}

// ClearTTL removes the TTL records for keys without touching the objects.
func (s *Store) ClearTTL(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(keys)+1)
	args = append(args, bucket)
	for _, k := range keys {
		args = append(args, k)
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM file_ttl WHERE bucket = ? AND object_key IN ("+placeholders+")", args...)
	return err
}

// GetTTL returns the TTL entry for (bucket, key), or nil when absent.
func (s *Store) GetTTL(ctx context.Context, bucket, key string) (*TTLEntry, error) {
	e := &TTLEntry{}
	err := s.db.QueryRowContext(ctx, `
		SELECT bucket, object_key, expires_at FROM file_ttl
		WHERE bucket = ? AND object_key = ?
	`, bucket, key).Scan(&e.Bucket, &e.ObjectKey, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ExpiredTTL returns up to limit entries whose expiry has passed, oldest
// first.
func (s *Store) ExpiredTTL(ctx context.Context, now time.Time, limit int) ([]TTLEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, object_key, expires_at FROM file_ttl
		WHERE expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TTLEntry
	for rows.Next() {
		var e TTLEntry
		if err := rows.Scan(&e.Bucket, &e.ObjectKey, &e.ExpiresAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Failed deletion records ---

// RecordFailedDeletion retains a terminally failed job and prunes old
// records past the retention bounds.
func (s *Store) RecordFailedDeletion(ctx context.Context, f FailedDeletion) error {
	var keysJSON any
	if len(f.Keys) > 0 {
		data, err := json.Marshal(f.Keys)
		if err != nil {
			return err
		}
		keysJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failed_deletions (job_id, bucket, object_key, object_keys, prefix, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.JobID, f.Bucket, nullable(f.ObjectKey), keysJSON, nullable(f.Prefix), f.Attempts, f.LastError)
	if err != nil {
		return err
	}

	// Bounded retention: drop by age, then by count.
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM failed_deletions WHERE failed_at < ?",
		time.Now().Add(-maxFailedAge).UTC()); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM failed_deletions WHERE id NOT IN (
			SELECT id FROM failed_deletions ORDER BY failed_at DESC LIMIT ?
		)
	`, maxFailedRecords)
	return err
}

// ListFailedDeletions returns up to limit retained failures, newest first.
func (s *Store) ListFailedDeletions(ctx context.Context, limit int) ([]FailedDeletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, bucket, object_key, object_keys, prefix, attempts, last_error, failed_at
		FROM failed_deletions
		ORDER BY failed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailedDeletion
	for rows.Next() {
		var f FailedDeletion
		var key, keysJSON, prefix, lastError sql.NullString
		if err := rows.Scan(&f.ID, &f.JobID, &f.Bucket, &key, &keysJSON, &prefix, &f.Attempts, &lastError, &f.FailedAt); err != nil {
			return nil, err
		}
		f.ObjectKey = key.String
		f.Prefix = prefix.String
		f.LastError = lastError.String
		if keysJSON.Valid && keysJSON.String != "" {
			if err := json.Unmarshal([]byte(keysJSON.String), &f.Keys); err != nil {
				return nil, err
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
