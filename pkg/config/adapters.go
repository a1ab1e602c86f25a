package config

import (
	"fmt"

	"github.com/marmos91/objectfs/pkg/adapter"
	"github.com/marmos91/objectfs/pkg/adapter/fuse"
	"github.com/marmos91/objectfs/pkg/adapter/ninep"
	"github.com/marmos91/objectfs/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// This factory function centralizes adapter creation logic and makes it easy to:
//   - Add new protocol adapters
//   - Configure metrics for all adapters
//   - Handle adapter-specific initialization
//
// Parameters:
//   - cfg: The complete ObjectFS configuration
//   - ninepMetrics: Optional 9P metrics collector (nil = no metrics)
//   - fuseMetrics: Optional FUSE metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, ninepMetrics metrics.NinePMetrics, fuseMetrics metrics.FUSEMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	// Create 9P adapter if enabled
	if cfg.Adapters.NineP.Enabled {
		ninepAdapter := ninep.New(cfg.Adapters.NineP, ninepMetrics)
		adapters = append(adapters, ninepAdapter)
	}

	// Create FUSE adapter if enabled
	if cfg.Adapters.FUSE.Enabled {
		fuseAdapter := fuse.New(cfg.Adapters.FUSE, fuseMetrics)
		adapters = append(adapters, fuseAdapter)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
