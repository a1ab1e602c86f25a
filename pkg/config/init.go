package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration written by InitConfig. It
// matches GetDefaultConfig, with the opt-in sections present but disabled.
const sampleConfig = `# ObjectFS Configuration File
#
# Values here are overridden by OBJECTFS_* environment variables.
# Example: OBJECTFS_LOGGING_LEVEL=DEBUG

logging:
  # DEBUG, INFO, WARN or ERROR
  level: "INFO"
  # text or json
  format: "text"
  # stdout, stderr or a file path
  output: "stdout"

server:
  shutdown_timeout: "30s"
  tree_sample_interval: "15s"

metrics:
  enabled: false
  port: 9090

# Per-export observation options. An entry applies when the embedding
# program exports an object under the matching name.
#
# exports:
#   - name: "workers"
#     cycle_detect: "symlink"   # symlink, drop or none
#     export_calls: true
#     blacklist:
#       - "/credentials"

adapters:
  ninep:
    enabled: true
    port: 5640
  fuse:
    enabled: false
    # mountpoint: "/mnt/objectfs"
`

// InitConfig writes a sample configuration file to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the config file
//   - error: File already exists without force, or a write error
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()

	if err := InitConfigToPath(path, force); err != nil {
		return path, err
	}

	return path, nil
}

// InitConfigToPath writes a sample configuration file to an explicit path,
// creating parent directories as needed.
//
// Parameters:
//   - path: Destination file path
//   - force: Overwrite an existing file
//
// Returns:
//   - error: File already exists without force, or a write error
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
