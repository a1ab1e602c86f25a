package config

import (
	"fmt"

	"github.com/marmos91/objectfs/pkg/vfs"
)

// BuildExportConfig converts a configured export entry into the options the
// virtual tree takes at attach time.
//
// The Weak flag is not part of the result: weakness is chosen by handle
// construction at the export site, so callers consult cfg.Weak when wrapping
// the object.
//
// Parameters:
//   - cfg: One export entry from the configuration
//
// Returns:
//   - vfs.ExportConfig: Options ready to pass to Storage.Export
//   - error: Unknown cycle mode
func BuildExportConfig(cfg ExportConfig) (vfs.ExportConfig, error) {
	mode, err := vfs.ParseCycleMode(cfg.CycleDetect)
	if err != nil {
		return vfs.ExportConfig{}, fmt.Errorf("export %q: %w", cfg.Name, err)
	}

	return vfs.ExportConfig{
		Base:         cfg.Base,
		Blacklist:    append([]string(nil), cfg.Blacklist...),
		CycleDetect:  mode,
		ExportCalls:  cfg.ExportCalls,
		NameTemplate: cfg.NameTemplate,
		ForceFile:    cfg.ForceFile,
		Reflect:      cfg.Reflect,
	}, nil
}

// ExportNamed looks up the configured options for the named export.
//
// The embedding program calls this when attaching an object, so users can
// shape individual exports (blacklist, cycle handling, call exposure) from
// the configuration file without touching code.
//
// Returns the zero ExportConfig and false when the name has no entry, in
// which case the export uses the built-in defaults.
func ExportNamed(cfg *Config, name string) (ExportConfig, bool) {
	for _, export := range cfg.Exports {
		if export.Name == name {
			return export, true
		}
	}
	return ExportConfig{}, false
}

// ExportOptions resolves the attach options for the named export, falling
// back to defaults when the configuration has no entry for it.
//
// This is the one-call form most export sites want:
//
//	opts, weak, err := config.ExportOptions(cfg, "workers")
//	if err != nil { ... }
//	storage.Export("workers", handleFor(obj, weak), opts)
func ExportOptions(cfg *Config, name string) (vfs.ExportConfig, bool, error) {
	entry, ok := ExportNamed(cfg, name)
	if !ok {
		return vfs.ExportConfig{}, false, nil
	}

	opts, err := BuildExportConfig(entry)
	if err != nil {
		return vfs.ExportConfig{}, false, err
	}

	return opts, entry.Weak, nil
}
