package adapter

import (
	"context"

	"github.com/marmos91/objectfs/pkg/vfs"
)

// Adapter represents a protocol-specific server adapter that can be managed
// by ObjectServer.
//
// Each adapter exposes the same virtual object tree over a specific protocol
// (9P, FUSE) and provides a unified interface for lifecycle management. All
// adapters share one vfs.Storage, so every protocol sees the same live state.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Storage injection: SetStorage() provides the shared tree
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetStorage() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active operations to complete (with timeout)
	//   - Clean up resources
	//   - Return context.Canceled or nil
	//
	// If Serve returns before context cancellation, ObjectServer treats it
	// as a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// SetStorage injects the shared virtual tree.
	//
	// Called exactly once by ObjectServer before Serve(), so no
	// synchronization is needed.
	SetStorage(storage *vfs.Storage)

	// Stop initiates graceful shutdown of the protocol server.
	//
	// May be called concurrently with Serve() during ObjectServer shutdown.
	// Implementations must be idempotent, respect the context timeout, and
	// release all resources (listeners, connections, goroutines).
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and
	// metrics. Examples: "9P", "FUSE".
	//
	// The returned value should be constant for the lifecycle of the adapter.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or 0 when the
	// transport has no port (FUSE mounts).
	Port() int
}
