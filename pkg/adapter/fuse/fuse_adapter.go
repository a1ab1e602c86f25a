// Package fuse exposes the shared virtual tree as a kernel-mounted
// filesystem via the FUSE protocol.
//
// Architecture:
// FUSEAdapter manages the mount lifecycle. The filesystem nodes in
// fuse_fs.go translate kernel operations onto vfs.Storage, keyed by node
// identifier rather than path, so the same live state is visible here and
// over 9P simultaneously.
//
// Unlike the 9P adapter there is no listener or connection pool: the
// kernel multiplexes all requests over a single /dev/fuse channel owned by
// the bazil serve loop.
package fuse

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/marmos91/objectfs/internal/logger"
	"github.com/marmos91/objectfs/pkg/metrics"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// FUSEAdapter serves the virtual tree through a kernel mount.
type FUSEAdapter struct {
	// config holds the mount configuration
	config FUSEConfig

	// storage is the shared virtual tree served to the kernel
	storage *vfs.Storage

	// metrics provides optional Prometheus metrics collection
	metrics metrics.FUSEMetrics

	// mu guards conn, which Serve sets and initiateShutdown reads from
	// another goroutine
	mu   sync.Mutex
	conn *fuse.Conn

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown signals that shutdown has been initiated.
	// Closed by initiateShutdown(), checked by Serve() on exit.
	shutdown chan struct{}
}

// FUSEConfig holds configuration parameters for the FUSE mount.
type FUSEConfig struct {
	// Enabled controls whether the FUSE adapter is active.
	// When false, the adapter will not be started.
	Enabled bool `mapstructure:"enabled"`

	// Mountpoint is the directory where the tree is mounted.
	// Must exist and be empty.
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`

	// AllowOther permits access by users other than the mounting one.
	// Requires user_allow_other in /etc/fuse.conf on Linux.
	AllowOther bool `mapstructure:"allow_other"`

	// ReadOnly mounts the tree read-only, refusing all modification at
	// the kernel boundary.
	ReadOnly bool `mapstructure:"read_only"`

	// ShutdownTimeout bounds how long Stop waits for the serve loop to
	// drain after unmounting.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *FUSEConfig) applyDefaults() {
	// Note: Enabled defaults are handled in pkg/config/defaults.go to
	// allow explicit false values from configuration files.

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// validate checks that the configuration is valid for production use.
func (c *FUSEConfig) validate() error {
	if c.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a new FUSEAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetStorage() to inject
// the shared tree, then call Serve() to mount and start handling kernel
// requests.
//
// Zero config values are replaced with defaults; an invalid configuration
// causes a panic, since it indicates a programmer error rather than a
// runtime condition.
func New(config FUSEConfig, fuseMetrics metrics.FUSEMetrics) *FUSEAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid FUSE config: %v", err))
	}

	if fuseMetrics == nil {
		fuseMetrics = &noopFUSEMetrics{}
	}

	return &FUSEAdapter{
		config:   config,
		metrics:  fuseMetrics,
		shutdown: make(chan struct{}),
	}
}

// noopFUSEMetrics provides a local no-op implementation when the metrics
// package is not used.
type noopFUSEMetrics struct{}

func (noopFUSEMetrics) RecordRequest(op string, duration time.Duration, err error) {}
func (noopFUSEMetrics) RecordBytesTransferred(direction string, bytes int64)       {}

// SetStorage injects the shared virtual tree.
//
// Called by ObjectServer exactly once before Serve(), so no
// synchronization is needed.
func (a *FUSEAdapter) SetStorage(storage *vfs.Storage) {
	a.storage = storage
	logger.Debug("FUSE storage configured")
}

// Serve mounts the filesystem and blocks handling kernel requests until
// the context is cancelled or the mount is lost.
//
// The serve loop exits when the kernel connection closes, which happens on
// unmount. Cancelling the context triggers the unmount.
func (a *FUSEAdapter) Serve(ctx context.Context) error {
	if a.storage == nil {
		return fmt.Errorf("FUSE adapter started without storage")
	}

	options := []fuse.MountOption{
		fuse.FSName("objectfs"),
		fuse.Subtype("objectfs"),
	}
	if a.config.AllowOther {
		options = append(options, fuse.AllowOther())
	}
	if a.config.ReadOnly {
		options = append(options, fuse.ReadOnly())
	}

	conn, err := fuse.Mount(a.config.Mountpoint, options...)
	if err != nil {
		return fmt.Errorf("failed to mount FUSE filesystem at %s: %w", a.config.Mountpoint, err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	logger.Info("FUSE filesystem mounted at %s", a.config.Mountpoint)

	go func() {
		<-ctx.Done()
		logger.Info("FUSE shutdown signal received: %v", ctx.Err())
		a.initiateShutdown()
	}()

	serveErr := fs.Serve(conn, &FS{
		storage: a.storage,
		metrics: a.metrics,
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
	})

	select {
	case <-a.shutdown:
		// The connection was torn down on purpose; the serve loop's
		// error is just the vehicle.
		logger.Info("FUSE filesystem unmounted from %s", a.config.Mountpoint)
		return nil
	default:
	}
	if serveErr != nil {
		return fmt.Errorf("FUSE serve loop failed: %w", serveErr)
	}
	return nil
}

// initiateShutdown unmounts the filesystem, which closes the kernel
// connection and unblocks the serve loop. Safe to call multiple times.
func (a *FUSEAdapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)

		if err := fuse.Unmount(a.config.Mountpoint); err != nil {
			logger.Warn("FUSE unmount of %s failed: %v (closing connection directly)",
				a.config.Mountpoint, err)
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				logger.Debug("FUSE connection close: %v", err)
			}
		}
	})
}

// Stop gracefully stops the adapter by unmounting the filesystem.
//
// This implements the adapter.Adapter interface. The serve loop running
// inside Serve() drains on its own once the kernel connection closes.
func (a *FUSEAdapter) Stop(ctx context.Context) error {
	logger.Info("Stopping FUSE adapter")
	a.initiateShutdown()
	return nil
}

// Port returns 0: FUSE mounts have no TCP port.
//
// This implements the adapter.Adapter interface.
func (a *FUSEAdapter) Port() int {
	return 0
}

// Protocol returns "FUSE" as the protocol identifier.
//
// This implements the adapter.Adapter interface.
func (a *FUSEAdapter) Protocol() string {
	return "FUSE"
}
