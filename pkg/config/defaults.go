package config

import (
	"strings"
	"time"

	"github.com/marmos91/objectfs/pkg/adapter/fuse"
	"github.com/marmos91/objectfs/pkg/adapter/ninep"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Adapter-internal defaults (msize, rate limit burst) are handled by the
//     adapter constructors
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyExportDefaults(cfg.Exports)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.TreeSampleInterval == 0 {
		cfg.TreeSampleInterval = 15 * time.Second
	}
}

// applyMetricsDefaults sets metrics endpoint defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false

	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyExportDefaults sets per-export defaults.
func applyExportDefaults(exports []ExportConfig) {
	for i := range exports {
		export := &exports[i]

		if export.CycleDetect == "" {
			export.CycleDetect = "symlink"
		}

		// If Blacklist is nil, initialize to empty (nothing barred)
		if export.Blacklist == nil {
			export.Blacklist = []string{}
		}
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the 9P adapter by default if no adapters are configured.
	// This ensures that a freshly loaded config (with no config file) will
	// have at least one adapter enabled and pass validation.
	// Users can explicitly set enabled: false in their config to disable it.
	if !cfg.NineP.Enabled && !cfg.FUSE.Enabled {
		// Check if this looks like a default/unconfigured state
		// (Port is 0, meaning no explicit configuration was provided)
		if cfg.NineP.Port == 0 {
			cfg.NineP.Enabled = true
		}
	}

	applyNinePDefaults(&cfg.NineP)
	applyFUSEDefaults(&cfg.FUSE)
}

// applyNinePDefaults sets 9P adapter defaults.
func applyNinePDefaults(cfg *ninep.NinePConfig) {
	// Note: Enabled is set to true in applyAdaptersDefaults if no adapter
	// is explicitly configured. A zero port left in place by the embedding
	// program means an ephemeral one, so the production default is applied
	// here rather than in the adapter constructor.

	if cfg.Port == 0 {
		cfg.Port = 5640
	}

	// Msize 0 defers to the adapter's protocol default
	// MaxConnections defaults to 0 (unlimited)

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}

	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// applyFUSEDefaults sets FUSE adapter defaults.
func applyFUSEDefaults(cfg *fuse.FUSEConfig) {
	// Enabled defaults to false: a mount needs a mountpoint, which only the
	// user can choose, so FUSE is strictly opt-in.

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Server:  ServerConfig{},
		Metrics: MetricsConfig{},
		Exports: []ExportConfig{},
		Adapters: AdaptersConfig{
			NineP: ninep.NinePConfig{
				Enabled: true, // 9P adapter enabled by default
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
