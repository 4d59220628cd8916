// Package config loads runtime configuration for the upload agent.
//
// Sources and precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the upload agent.
type Config struct {
	// ServerEndpointAddr is the base URL of the media API.
	ServerEndpointAddr string
	// OnlineCheckInterval is how often the agent probes server reachability.
	OnlineCheckInterval time.Duration

	// QueueDBPath locates the local SQLite queue database.
	QueueDBPath string
	// MaxQueueItems and MaxQueueBytes cap the queue; zero disables a cap.
	MaxQueueItems int
	MaxQueueBytes int64

	// InboxDir, when non-empty, is a capture directory watched for photos.
	InboxDir string
	// InboxJobID is attached to photos ingested from InboxDir.
	InboxJobID string

	// Upload engine tuning.
	UploadConcurrency int
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration

	// PreviewDir is where queued payloads are spooled for optimistic
	// display. Empty disables previews.
	PreviewDir string

	// TokenFile holds the session JWT issued at login.
	TokenFile string

	// Object storage settings.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.OnlineCheckInterval = 3 * time.Second
	c.QueueDBPath = "queue.db"
	c.MaxQueueItems = 500
	c.MaxQueueBytes = 512 << 20
	c.UploadConcurrency = 3
	c.MaxAttempts = 10
	c.BackoffBase = time.Second
	c.BackoffCap = 5 * time.Minute
	c.PreviewDir = filepath.Join(os.TempDir(), "fieldsnap-previews")
	c.TokenFile = "session.jwt"
	c.S3Region = "us-east-1"
	c.S3Bucket = "fieldsnap-media"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags. Later sources win.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
