package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", defaultDataPath("scheduled.db"))

	// Dispatcher defaults
	v.SetDefault("dispatcher.poll_interval_seconds", 15)
	v.SetDefault("dispatcher.batch_size", 10)
	v.SetDefault("dispatcher.max_attempts", 3)
	v.SetDefault("dispatcher.publish_timeout_seconds", 30)

	// Platform defaults
	v.SetDefault("platform.api_base_url", "https://api.linkedin.com")
	v.SetDefault("platform.requests_per_minute", 10)
	v.SetDefault("platform.credentials_path", defaultDataPath("credentials.json"))
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to
// environment variables so secrets never need to live in the TOML file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("platform.client_id", "POSTPIPE_PLATFORM_CLIENT_ID")
	v.BindEnv("platform.client_secret", "POSTPIPE_PLATFORM_CLIENT_SECRET")
}

// defaultDataPath places a file under ~/.postpipe, falling back to the
// working directory when the home directory cannot be resolved.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".postpipe", name)
}
