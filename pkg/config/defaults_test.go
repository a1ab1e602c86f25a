package config

import (
	"testing"
	"time"

	"github.com/marmos91/objectfs/pkg/adapter/fuse"
	"github.com/marmos91/objectfs/pkg/adapter/ninep"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LogLevelNormalized(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized log level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.TreeSampleInterval != 15*time.Second {
		t.Errorf("Expected default tree sample interval 15s, got %v", cfg.Server.TreeSampleInterval)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metrics.Enabled {
		t.Error("Expected metrics to default to disabled")
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Exports(t *testing.T) {
	cfg := &Config{
		Exports: []ExportConfig{
			{Name: "workers"},
		},
	}
	ApplyDefaults(cfg)

	export := cfg.Exports[0]

	if export.CycleDetect != "symlink" {
		t.Errorf("Expected default cycle_detect 'symlink', got %q", export.CycleDetect)
	}
	if export.Blacklist == nil {
		t.Error("Expected Blacklist to be initialized")
	}
}

func TestApplyDefaults_ExportsExplicitModeKept(t *testing.T) {
	cfg := &Config{
		Exports: []ExportConfig{
			{Name: "workers", CycleDetect: "none"},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Exports[0].CycleDetect != "none" {
		t.Errorf("Expected explicit cycle_detect 'none' preserved, got %q", cfg.Exports[0].CycleDetect)
	}
}

func TestApplyDefaults_NinePEnabledWhenUnconfigured(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if !cfg.Adapters.NineP.Enabled {
		t.Error("Expected 9P adapter enabled for unconfigured adapters")
	}
	if cfg.Adapters.NineP.Port != 5640 {
		t.Errorf("Expected default 9P port 5640, got %d", cfg.Adapters.NineP.Port)
	}
}

func TestApplyDefaults_NinePStaysDisabledWhenConfigured(t *testing.T) {
	// An explicit port without enabled: true means the user configured the
	// adapter and chose to leave it off.
	cfg := &Config{
		Adapters: AdaptersConfig{
			NineP: ninep.NinePConfig{Port: 7777},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Adapters.NineP.Enabled {
		t.Error("Expected explicitly configured 9P adapter to stay disabled")
	}
	if cfg.Adapters.NineP.Port != 7777 {
		t.Errorf("Expected explicit port 7777 preserved, got %d", cfg.Adapters.NineP.Port)
	}
}

func TestApplyDefaults_NinePNotForcedWhenFUSEEnabled(t *testing.T) {
	cfg := &Config{
		Adapters: AdaptersConfig{
			FUSE: fuse.FUSEConfig{Enabled: true, Mountpoint: "/mnt/objectfs"},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Adapters.NineP.Enabled {
		t.Error("Expected 9P adapter to stay disabled when FUSE is enabled")
	}
}

func TestApplyDefaults_NinePTimeouts(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	ninepCfg := cfg.Adapters.NineP

	if ninepCfg.ReadTimeout != 5*time.Minute {
		t.Errorf("Expected default read timeout 5m, got %v", ninepCfg.ReadTimeout)
	}
	if ninepCfg.WriteTimeout != 30*time.Second {
		t.Errorf("Expected default write timeout 30s, got %v", ninepCfg.WriteTimeout)
	}
	if ninepCfg.IdleTimeout != 5*time.Minute {
		t.Errorf("Expected default idle timeout 5m, got %v", ninepCfg.IdleTimeout)
	}
	if ninepCfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", ninepCfg.ShutdownTimeout)
	}
	if ninepCfg.MetricsLogInterval != 5*time.Minute {
		t.Errorf("Expected default metrics log interval 5m, got %v", ninepCfg.MetricsLogInterval)
	}
}

func TestApplyDefaults_FUSE(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Adapters.FUSE.Enabled {
		t.Error("Expected FUSE adapter to default to disabled")
	}
	if cfg.Adapters.FUSE.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default FUSE shutdown timeout 30s, got %v", cfg.Adapters.FUSE.ShutdownTimeout)
	}
}

func TestApplyDefaults_ExplicitValuesPreserved(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "ERROR",
			Format: "json",
			Output: "stderr",
		},
		Server: ServerConfig{
			ShutdownTimeout: 10 * time.Second,
		},
		Adapters: AdaptersConfig{
			NineP: ninep.NinePConfig{
				Enabled:     true,
				Port:        5700,
				ReadTimeout: time.Minute,
			},
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected explicit level 'ERROR' preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected explicit shutdown timeout 10s preserved, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.NineP.Port != 5700 {
		t.Errorf("Expected explicit port 5700 preserved, got %d", cfg.Adapters.NineP.Port)
	}
	if cfg.Adapters.NineP.ReadTimeout != time.Minute {
		t.Errorf("Expected explicit read timeout 1m preserved, got %v", cfg.Adapters.NineP.ReadTimeout)
	}
}
