package config

import (
	"strings"
	"testing"

	"github.com/marmos91/objectfs/pkg/adapter/fuse"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_LowercaseLogLevel(t *testing.T) {
	// Validation runs before normalization in tests that bypass Load, so
	// lowercase levels must be accepted directly.
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "warn"

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected lowercase log level to pass validation, got: %v", err)
	}
}

func TestValidate_NoAdapters(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.NineP.Enabled = false
	cfg.Adapters.FUSE.Enabled = false

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no adapter is enabled")
	}
	if !strings.Contains(err.Error(), "at least one adapter") {
		t.Errorf("Expected 'at least one adapter' error, got: %v", err)
	}
}

func TestValidate_InvalidNinePPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.NineP.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for out-of-range port")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative metrics port")
	}
}

func TestValidate_DisabledFUSESkipsMountpoint(t *testing.T) {
	// The default config leaves FUSE disabled with no mountpoint. Its
	// required tag must not fire.
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected disabled FUSE section to be skipped, got: %v", err)
	}
}

func TestValidate_EnabledFUSERequiresMountpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FUSE = fuse.FUSEConfig{
		Enabled:         true,
		ShutdownTimeout: cfg.Adapters.NineP.ShutdownTimeout,
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for enabled FUSE without mountpoint")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' validation error, got: %v", err)
	}
}

func TestValidate_EnabledFUSEWithMountpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FUSE = fuse.FUSEConfig{
		Enabled:         true,
		Mountpoint:      "/mnt/objectfs",
		ShutdownTimeout: cfg.Adapters.NineP.ShutdownTimeout,
	}

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected enabled FUSE with mountpoint to pass, got: %v", err)
	}
}

func TestValidate_ExportMissingName(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Exports = []ExportConfig{
		{CycleDetect: "symlink"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for export without a name")
	}
}

func TestValidate_ExportInvalidCycleMode(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Exports = []ExportConfig{
		{Name: "workers", CycleDetect: "explode"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown cycle mode")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_DuplicateExportNames(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Exports = []ExportConfig{
		{Name: "workers"},
		{Name: "workers"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate export names")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Expected 'duplicate' error, got: %v", err)
	}
}
