package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/objectfs/internal/logger"
	"github.com/marmos91/objectfs/pkg/adapter"
	"github.com/marmos91/objectfs/pkg/metrics"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// ObjectServer manages the lifecycle of multiple protocol adapters that share
// one virtual object tree.
//
// Architecture:
// ObjectServer orchestrates different filesystem protocols (9P, FUSE) that
// are represented as Adapter implementations. All adapters share the same
// vfs.Storage, so every protocol sees the same live object state, including
// edits made through another protocol.
//
// Lifecycle:
//  1. Creation: New() with the shared tree
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// Thread safety:
// ObjectServer is safe for concurrent use. AddAdapter() may be called
// concurrently with other methods. Serve() should only be called once per
// server instance.
//
// Example usage:
//
//	server := server.New(storage)
//	server.AddAdapter(ninep.New(ninepConfig, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := server.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type ObjectServer struct {
	// storage is the shared virtual tree served by all adapters
	storage *vfs.Storage

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// treeMetrics receives periodic tree gauge samples. Never nil; defaults
	// to a no-op collector.
	treeMetrics metrics.TreeMetrics

	// sampleInterval is how often tree gauges are sampled
	sampleInterval time.Duration

	// stopTimeout bounds how long shutdown waits for each adapter
	stopTimeout time.Duration

	// mu protects the adapters slice and serving flag
	mu sync.RWMutex

	// serveOnce ensures Serve() is only called once
	serveOnce sync.Once

	// served indicates whether Serve() has been called
	served bool
}

// New creates a new ObjectServer around the provided tree.
//
// The tree is shared across all adapters added to this server, ensuring that
// filesystem operations are consistent regardless of which protocol is used
// to access the live objects.
//
// Returns a configured but not yet started ObjectServer. Call AddAdapter()
// to register protocols, then Serve() to start the server.
//
// Panics if storage is nil (indicates programmer error).
func New(storage *vfs.Storage) *ObjectServer {
	if storage == nil {
		panic("storage cannot be nil")
	}

	return &ObjectServer{
		storage:        storage,
		adapters:       make([]adapter.Adapter, 0, 2),
		treeMetrics:    metrics.NewTreeMetrics(),
		sampleInterval: 15 * time.Second,
		stopTimeout:    30 * time.Second,
	}
}

// SetShutdownTimeout bounds how long Serve() waits for each adapter to stop
// during shutdown. Values of zero or below keep the 30 second default.
//
// Must be called before Serve().
func (s *ObjectServer) SetShutdownTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot set shutdown timeout after Serve() has been called")
	}

	if d > 0 {
		s.stopTimeout = d
	}
}

// EnableTreeMetrics wires a tree metrics collector and sample interval.
//
// The serve loop samples node count, export count, and swept-root deltas
// from the tree at the given interval. Sampling keeps the hot storage lock
// out of the per-operation path; gauges a scrape interval behind are fine.
//
// Must be called before Serve().
func (s *ObjectServer) EnableTreeMetrics(tm metrics.TreeMetrics, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot enable tree metrics after Serve() has been called")
	}

	if tm != nil {
		s.treeMetrics = tm
	}
	if interval > 0 {
		s.sampleInterval = interval
	}
}

// AddAdapter registers a new protocol adapter with the server.
//
// This method injects the shared tree into the adapter and adds it to the
// list of adapters that will be started when Serve() is called.
//
// AddAdapter() may be called multiple times to register different protocol
// adapters. Each adapter must implement a different protocol and, when it
// listens on TCP, use a distinct port. Duplicate protocols or port
// conflicts are detected and return an error.
//
// Parameters:
//   - a: The protocol adapter to register (must not be nil)
//
// Returns:
//   - error if the adapter is invalid or conflicts with an existing adapter
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
//
// Thread safety:
// Safe to call concurrently from multiple goroutines before Serve() is called.
func (s *ObjectServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if Serve() has been called
	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	// Validate no duplicate protocols
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
	}

	// Validate no port conflicts. Port 0 means no TCP listener (FUSE) or an
	// ephemeral port, neither of which can conflict.
	if port > 0 {
		for _, existing := range s.adapters {
			if existing.Port() == port {
				return fmt.Errorf("port %d already in use by %s adapter",
					port, existing.Protocol())
			}
		}
	}

	// Inject the shared tree
	a.SetStorage(s.storage)

	// Register the adapter
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Serve() orchestrates the lifecycle of all adapters:
//  1. Validates that at least one adapter is registered
//  2. Starts all adapters concurrently in separate goroutines
//  3. Samples tree gauges into metrics until shutdown
//  4. On shutdown signal: stops all adapters in reverse order
//  5. Waits for all adapters to complete shutdown
//
// Error handling:
//   - If context is cancelled: initiates graceful shutdown and returns context.Canceled
//   - If any adapter fails during operation: stops all adapters and returns the error
//
// Parameters:
//   - ctx: Controls server lifecycle. Cancellation triggers graceful shutdown.
//
// Returns:
//   - context.Canceled if shutdown was triggered by context cancellation
//   - error if startup failed or an adapter encountered an error
//
// Panics if Serve() is called more than once on the same ObjectServer instance.
func (s *ObjectServer) Serve(ctx context.Context) error {
	var (
		ran bool
		err error
	)

	s.serveOnce.Do(func() {
		ran = true
		s.mu.Lock()
		s.served = true
		s.mu.Unlock()

		err = s.serve(ctx)
	})

	if !ran {
		panic("Serve() has already been called on this server instance")
	}

	return err
}

// serve is the internal implementation of Serve().
// Separated to allow serveOnce protection.
func (s *ObjectServer) serve(ctx context.Context) error {
	// Get snapshot of adapters under lock
	s.mu.Lock()
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting ObjectServer with %d adapter(s)", len(adapters))

	// Channel to collect errors from adapter goroutines
	// Buffered to prevent goroutine leaks if multiple adapters fail simultaneously
	errChan := make(chan adapterError, len(adapters))

	// WaitGroup to track adapter goroutines
	var wg sync.WaitGroup

	// Start all adapters concurrently
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()

			logger.Info("Starting %s adapter", protocol)

			if err := a.Serve(ctx); err != nil {
				// Only report unexpected errors; context.Canceled is
				// expected during shutdown.
				if err != context.Canceled && ctx.Err() == nil {
					logger.Error("%s adapter failed: %v", protocol, err)
					errChan <- adapterError{protocol: protocol, err: err}
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			} else {
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	// Sample tree gauges until shutdown
	samplerCtx, stopSampler := context.WithCancel(ctx)
	var samplerWg sync.WaitGroup
	samplerWg.Add(1)
	go func() {
		defer samplerWg.Done()
		s.sampleTree(samplerCtx)
	}()

	// Wait for either context cancellation or adapter error
	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	// Wait for all adapter goroutines to complete
	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	stopSampler()
	samplerWg.Wait()

	logger.Info("ObjectServer stopped gracefully")

	return shutdownErr
}

// sampleTree periodically publishes tree gauges until the context ends.
//
// Swept roots accumulate in the tree as a counter, so the sampler feeds the
// metrics collector deltas between samples.
func (s *ObjectServer) sampleTree(ctx context.Context) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()

	var lastSwept uint64

	sample := func() {
		s.treeMetrics.SetNodeCount(s.storage.Size())
		s.treeMetrics.SetExportCount(s.storage.Exports())

		swept := s.storage.SweptRoots()
		s.treeMetrics.RecordSweptRoots(int(swept - lastSwept))
		lastSwept = swept
	}

	// Publish once at startup so gauges exist before the first interval.
	sample()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters initiates graceful shutdown of all adapters in reverse
// registration order.
//
// Adapters are stopped in reverse order to handle dependencies. Each adapter
// receives a Stop() call with a timeout context.
//
// Note: This method only initiates shutdown. The caller must wait for
// adapter goroutines to complete using the WaitGroup.
//
// Parameters:
//   - adapters: Snapshot of adapters to stop (in registration order)
func (s *ObjectServer) stopAllAdapters(adapters []adapter.Adapter) {
	// A single misbehaving adapter must not block shutdown indefinitely
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	// Stop adapters in reverse registration order
	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter", protocol)

		if err := adp.Stop(ctx); err != nil && err != context.Canceled {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
//
// The returned slice is a copy and safe to iterate over without holding
// locks. Modifications to the returned slice do not affect the server's
// adapter list.
//
// Thread safety:
// Safe to call concurrently with AddAdapter() and Serve().
func (s *ObjectServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
