package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for toolgate.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("toolgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: TOOLGATE_RATE_LIMIT_CALLS
	viper.SetEnvPrefix("TOOLGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a toolgate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".toolgate"),
		"/etc/toolgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "toolgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: TOOLGATE_BREAKER_FAILURE_THRESHOLD overrides
// breaker.failure_threshold.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("database")
	_ = viper.BindEnv("log_level")

	_ = viper.BindEnv("breaker.failure_threshold")
	_ = viper.BindEnv("breaker.reset_timeout")
	_ = viper.BindEnv("breaker.failure_window")
	_ = viper.BindEnv("breaker.trial_lock_ttl")

	_ = viper.BindEnv("rate_limit.calls")
	_ = viper.BindEnv("rate_limit.window")

	_ = viper.BindEnv("audit.sensitivity_ttl")
	_ = viper.BindEnv("audit.verify_chunk")

	_ = viper.BindEnv("session.history_ttl")
	_ = viper.BindEnv("session.cleanup_interval")

	_ = viper.BindEnv("sqlguard.whitelist")
	_ = viper.BindEnv("sqlguard.cache_size")

	_ = viper.BindEnv("usage.webhook_url")
	_ = viper.BindEnv("usage.webhook_secret")
	_ = viper.BindEnv("usage.channel_size")
	_ = viper.BindEnv("usage.send_timeout")

	_ = viper.BindEnv("telemetry.enabled")

	// Note: breaker.services and rate_limit.tools are maps, complex to
	// override via env. Users should use the config file for these.
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates and returns the Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the configuration file that was
// loaded, or an empty string in env-vars-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
