package config

import (
	"github.com/marmos91/objectfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NinePMetrics is the metrics collector for the 9P adapter (never nil, uses noop if disabled)
	NinePMetrics metrics.NinePMetrics

	// FUSEMetrics is the metrics collector for the FUSE adapter (never nil, uses noop if disabled)
	FUSEMetrics metrics.FUSEMetrics

	// TreeMetrics is the metrics collector for the virtual tree (never nil, uses noop if disabled)
	TreeMetrics metrics.TreeMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// The component constructors gate on the registry themselves, so they are
// called unconditionally and come back as no-ops when the registry was
// never initialized.
//
// Parameters:
//   - cfg: The complete ObjectFS configuration
//
// Returns:
//   - MetricsResult containing all metrics components
func InitializeMetrics(cfg *Config) *MetricsResult {
	var server *metrics.Server

	if cfg.Metrics.Enabled {
		// Initialize global Prometheus registry
		metrics.InitRegistry()

		// Create metrics HTTP server
		server = metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Metrics.Port,
		})
	}

	return &MetricsResult{
		Server:       server,
		NinePMetrics: metrics.NewNinePMetrics(),
		FUSEMetrics:  metrics.NewFUSEMetrics(),
		TreeMetrics:  metrics.NewTreeMetrics(),
	}
}
