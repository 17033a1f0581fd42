// Package config implements configuration parsing and validation for the
// checkpointing core: job identity, backing-store location, retention
// defaults, and write batching.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every setting a checkpoint coordinator process needs: job
// identity, the backing store location, retention defaults, and
// backing-store write batching.
type Config struct {
	JobID            string        // Job identifier attached to every manifest (section 3)
	BackingStoreURI  string        // S3 URI for the backing store (s3://bucket/prefix), or "memory://" for the in-memory store
	Region           string        // AWS region for the backing store
	RetentionMicros  int64         // Default retention window, microseconds, for ExpiringKeyedTimeTable tables
	WriteBatchSize   int           // Backing-store write batch size; validated only, the stores append each log entry individually
	MaxWorkers       int           // Maximum concurrent table restores during startup
	ShutdownTimeout  time.Duration // Graceful shutdown timeout for in-flight checkpoint writes

	// Internal fields, derived by Validate.
	backingStoreBucket string
	backingStorePrefix string
}

// BackingStoreBucket returns the bucket name parsed from BackingStoreURI.
func (c *Config) BackingStoreBucket() string { return c.backingStoreBucket }

// BackingStorePrefix returns the key prefix parsed from BackingStoreURI.
func (c *Config) BackingStorePrefix() string { return c.backingStorePrefix }

// IsMemoryBackingStore reports whether BackingStoreURI selects the
// in-memory store rather than S3.
func (c *Config) IsMemoryBackingStore() bool { return c.BackingStoreURI == "memory://" }

// Validate checks every required field and derives the internal
// bucket/prefix split from BackingStoreURI.
func (c *Config) Validate() error {
	if c.JobID == "" {
		return fmt.Errorf("job id is required")
	}

	if c.BackingStoreURI == "" {
		return fmt.Errorf("backing store URI is required")
	}
	if c.IsMemoryBackingStore() {
		return c.validateCommon()
	}
	if !strings.HasPrefix(c.BackingStoreURI, "s3://") {
		return fmt.Errorf("backing store URI must start with s3:// or be memory://")
	}

	u, err := url.Parse(c.BackingStoreURI)
	if err != nil {
		return fmt.Errorf("invalid backing store URI: %w", err)
	}
	if u.Scheme != "s3" {
		return fmt.Errorf("backing store URI must use s3 scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("backing store URI must name a bucket")
	}
	c.backingStoreBucket = u.Host
	c.backingStorePrefix = strings.TrimPrefix(u.Path, "/")

	if c.Region == "" {
		return fmt.Errorf("region is required")
	}

	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c.RetentionMicros < 0 {
		return fmt.Errorf("retention must be non-negative")
	}

	if c.WriteBatchSize < 1 {
		return fmt.Errorf("write batch size must be at least 1")
	}

	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1")
	}

	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second")
	}

	return nil
}
