package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/objectfs/pkg/adapter/fuse"
	"github.com/marmos91/objectfs/pkg/adapter/ninep"
	"github.com/spf13/viper"
)

// Config represents the complete ObjectFS configuration.
//
// This structure captures all configurable aspects of the ObjectFS server
// including:
//   - Logging configuration
//   - Server-wide settings
//   - Metrics exposure
//   - Export definitions (per-export observation options)
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OBJECTFS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Export Configuration Pattern:
// The tree observes live objects, so a configuration file cannot create
// exports on its own. The exports section instead carries per-export
// observation options, looked up by name when the embedding program
// attaches an object under that name.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Exports defines per-export observation options, keyed by export name
	Exports []ExportConfig `mapstructure:"exports" validate:"dive"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// TreeSampleInterval is how often the server samples tree gauges
	// (node count, export count, swept roots) into metrics
	TreeSampleInterval time.Duration `mapstructure:"tree_sample_interval" validate:"required,gt=0"`
}

// MetricsConfig controls the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP server port
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// ExportConfig carries the observation options for one named export.
//
// The name is the lookup key: when the embedding program exports an object
// under a name that appears here, these options apply. The objects
// themselves always come from the running program.
type ExportConfig struct {
	// Name is the export name the options apply to
	Name string `mapstructure:"name" validate:"required"`

	// Base is the tree directory the export is attached under
	// Empty means the root
	Base string `mapstructure:"base"`

	// Blacklist bars paths, relative to the export root, from observation
	Blacklist []string `mapstructure:"blacklist"`

	// CycleDetect selects back-reference handling
	// Valid values: symlink, drop, none
	CycleDetect string `mapstructure:"cycle_detect" validate:"omitempty,oneof=symlink drop none"`

	// ExportCalls exposes callable members as call directories
	ExportCalls bool `mapstructure:"export_calls"`

	// NameTemplate derives the export's display name from the object
	NameTemplate string `mapstructure:"name_template"`

	// ForceFile observes the object as a single rendered file
	ForceFile bool `mapstructure:"force_file"`

	// Reflect opts plain struct pointers into field observation
	Reflect bool `mapstructure:"reflect"`

	// Weak exports through a non-owning handle, letting the collector
	// reclaim the object and the next sweep retire its subtree
	Weak bool `mapstructure:"weak"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// NineP contains 9P2000 protocol configuration.
	// Uses the ninep.NinePConfig type directly to avoid duplication.
	NineP ninep.NinePConfig `mapstructure:"ninep"`

	// FUSE contains FUSE mount configuration.
	// Uses the fuse.FUSEConfig type directly to avoid duplication.
	FUSE fuse.FUSEConfig `mapstructure:"fuse"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (OBJECTFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use OBJECTFS_ prefix and underscores
	// Example: OBJECTFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("OBJECTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/objectfs/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		// An explicitly specified path that does not exist also falls back
		// to defaults; any other read problem is reported.
		if configPath != "" && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "objectfs")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "objectfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
