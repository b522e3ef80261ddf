// Package config loads postpipe configuration from postpipe.toml and
// POSTPIPE_* environment variables.
package config

import (
	"time"
)

// Config represents the postpipe configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Platform   PlatformConfig   `mapstructure:"platform"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DispatcherConfig configures the dispatcher loop.
// Retry ceiling and poll cadence are operational knobs, not design
// constants; defaults live in SetDefaults.
type DispatcherConfig struct {
	PollIntervalSeconds   int `mapstructure:"poll_interval_seconds"`   // how often to poll for due jobs (default: 15)
	BatchSize             int `mapstructure:"batch_size"`              // max jobs claimed per tick (default: 10)
	MaxAttempts           int `mapstructure:"max_attempts"`            // transient-failure retry ceiling (default: 3)
	PublishTimeoutSeconds int `mapstructure:"publish_timeout_seconds"` // per-call timeout for token fetch + publish (default: 30)
}

// PollInterval returns the poll cadence as a duration
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PublishTimeout returns the per-call publish timeout as a duration
func (c DispatcherConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSeconds) * time.Second
}

// PlatformConfig configures the remote social platform API
type PlatformConfig struct {
	APIBaseURL        string `mapstructure:"api_base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"` // client-side rate limit on publish calls
	CredentialsPath   string `mapstructure:"credentials_path"`    // on-disk OAuth credential file

	// OAuth client credentials; bound to POSTPIPE_PLATFORM_CLIENT_ID /
	// POSTPIPE_PLATFORM_CLIENT_SECRET rather than read from TOML
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}
