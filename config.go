package docpipe

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the docpipe service.
type Config struct {
	// DBPath is the full path to the SQLite database file holding the TTL
	// registry and failed-deletion records. If empty, defaults to
	// ~/.docpipe/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. Options: "home" (default) uses ~/.docpipe/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Worker pool
	MaxWorkers  int           `json:"max_workers" yaml:"max_workers"`     // per parser kind (default 4)
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout"`   // fixed per-task budget (default 30s)

	// Raw-text cache
	CacheTTL             time.Duration `json:"cache_ttl" yaml:"cache_ttl"`                           // default 20m
	CacheCleanupInterval time.Duration `json:"cache_cleanup_interval" yaml:"cache_cleanup_interval"` // default 1m

	// Object storage
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Deletion queue
	DeleteConcurrency  int           `json:"delete_concurrency" yaml:"delete_concurrency"`     // default 6
	DeleteMaxAttempts  int           `json:"delete_max_attempts" yaml:"delete_max_attempts"`   // default 10
	DeleteRetryBackoff time.Duration `json:"delete_retry_backoff" yaml:"delete_retry_backoff"` // default 2s, doubled per attempt

	// TTL sweep
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"` // default 10m
	UploadTTL     time.Duration `json:"upload_ttl" yaml:"upload_ttl"`         // default TTL for direct uploads (default 30m)
}

// StorageConfig configures the S3-compatible object storage backend.
type StorageConfig struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	AccessKey     string `json:"access_key" yaml:"access_key"`
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	UseSSL        bool   `json:"use_ssl" yaml:"use_ssl"`
	PublicBucket  string `json:"public_bucket" yaml:"public_bucket"`
	PrivateBucket string `json:"private_bucket" yaml:"private_bucket"`
	// PublicBaseURL is prepended to object keys to build stable public URLs
	// for the public bucket. Defaults to <endpoint>/<public_bucket>.
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		DBName:               "docpipe",
		StorageDir:           "home",
		MaxWorkers:           4,
		TaskTimeout:          30 * time.Second,
		CacheTTL:             20 * time.Minute,
		CacheCleanupInterval: time.Minute,
		Storage: StorageConfig{
			Endpoint:      "localhost:9000",
			PublicBucket:  "docpipe-public",
			PrivateBucket: "docpipe-private",
		},
		DeleteConcurrency:  6,
		DeleteMaxAttempts:  10,
		DeleteRetryBackoff: 2 * time.Second,
		SweepInterval:      10 * time.Minute,
		UploadTTL:          30 * time.Minute,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "docpipe"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".docpipe", name+".db")
	}
}
