package ninep

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/objectfs/internal/logger"
	"github.com/marmos91/objectfs/internal/protocol/ninep"
	"github.com/marmos91/objectfs/internal/ratelimiter"
	"github.com/marmos91/objectfs/pkg/metrics"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// NinePAdapter implements the adapter.Adapter interface for the 9P2000
// protocol.
//
// The adapter provides a production-ready 9P server with:
//   - Graceful shutdown with configurable timeout
//   - Connection limiting and per-message rate limiting
//   - Context-based request cancellation
//   - Configurable timeouts for read/write/idle operations
//   - Thread-safe operation with atomic counters
//
// Architecture:
// NinePAdapter manages the TCP listener and connection lifecycle. Each
// accepted connection is handled by a NinePConnection that owns the fid
// table and processes messages serially, the way 9P clients expect over a
// single connection. All filesystem state lives in the shared vfs.Storage.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (signals in-flight requests to abort)
//  4. Wait for active connections to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
type NinePAdapter struct {
	// config holds the server configuration (port, timeouts, limits)
	config NinePConfig

	// listener is the TCP listener for accepting 9P connections.
	// Closed during shutdown to stop accepting new connections.
	listener net.Listener

	// boundPort is the actual listening port, set once Serve has bound
	// the listener. Differs from config.Port when that is 0.
	boundPort atomic.Int32

	// storage is the shared virtual tree served to clients
	storage *vfs.Storage

	// limiter throttles message processing across all connections.
	// nil when rate limiting is disabled.
	limiter *ratelimiter.RateLimiter

	// metrics provides optional Prometheus metrics collection
	metrics metrics.NinePMetrics

	// activeConns tracks all currently active connections for graceful shutdown
	activeConns sync.WaitGroup

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated.
	// Closed by initiateShutdown(), monitored by Serve().
	shutdown chan struct{}

	// connCount tracks the current number of active connections
	connCount atomic.Int32

	// connSemaphore limits concurrent connections if MaxConnections > 0.
	// nil if MaxConnections is 0 (unlimited).
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown to abort in-flight requests
	shutdownCtx context.Context

	// cancelRequests cancels shutdownCtx during shutdown
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure
	// after the graceful shutdown timeout. sync.Map for lock-free churn.
	activeConnections sync.Map
}

// NinePConfig holds configuration parameters for the 9P server.
//
// All timeout values are optional - zero means the default is applied by
// New. Rate limiting is disabled when RequestsPerSecond is 0.
type NinePConfig struct {
	// Enabled controls whether the 9P adapter is active.
	// When false, the adapter will not be started.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on for 9P connections.
	// 0 binds an OS-assigned ephemeral port; Port() reports the bound
	// port once Serve is running. The production default of 5640 is
	// applied in pkg/config/defaults.go.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Msize is the maximum 9P message size offered during version
	// negotiation. Clients may negotiate it down but never up.
	// If 0, defaults to 8192.
	Msize uint32 `mapstructure:"msize" validate:"min=0"`

	// MaxConnections limits the number of concurrent client connections.
	// When reached, new connections wait until existing ones close.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// RequestsPerSecond throttles message processing across all
	// connections. Messages over budget receive an Rerror instead of
	// being serviced. 0 disables rate limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the rate limiter bucket size. Defaults to
	// 2*RequestsPerSecond when zero and rate limiting is enabled.
	Burst uint `mapstructure:"burst"`

	// ReadTimeout is the maximum duration for reading a complete message.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections with no traffic for this duration.
	// 0 means connections stay open indefinitely.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for active
	// connections to complete during graceful shutdown. After this,
	// remaining connections are forcibly closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// MetricsLogInterval is the interval at which to log server metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *NinePConfig) applyDefaults() {
	// Note: Enabled and Port defaults are handled in pkg/config/defaults.go;
	// a zero port here means an ephemeral one.

	if c.Msize == 0 {
		c.Msize = ninep.DefaultMsize
	}
	if c.Msize < ninep.MinMsize {
		c.Msize = ninep.MinMsize
	}
	if c.Burst == 0 && c.RequestsPerSecond > 0 {
		c.Burst = 2 * c.RequestsPerSecond
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks that the configuration is valid for production use.
func (c *NinePConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid ReadTimeout %v: must be >= 0", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// New creates a new NinePAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetStorage() to inject
// the shared tree, then call Serve() to start accepting connections.
//
// Zero config values are replaced with defaults; an invalid configuration
// causes a panic, since it indicates a programmer error rather than a
// runtime condition.
func New(config NinePConfig, ninepMetrics metrics.NinePMetrics) *NinePAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid 9P config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("9P connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("9P connection limit: unlimited")
	}

	var limiter *ratelimiter.RateLimiter
	if config.RequestsPerSecond > 0 {
		limiter = ratelimiter.New(config.RequestsPerSecond, config.Burst)
		logger.Debug("9P rate limit: %d msg/s (burst %d)", config.RequestsPerSecond, config.Burst)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	if ninepMetrics == nil {
		ninepMetrics = &noopNinePMetrics{}
	}

	return &NinePAdapter{
		config:         config,
		limiter:        limiter,
		metrics:        ninepMetrics,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// noopNinePMetrics provides a local no-op implementation when the metrics
// package is not used.
type noopNinePMetrics struct{}

func (noopNinePMetrics) RecordRequest(op string, duration time.Duration, err error) {}
func (noopNinePMetrics) RecordBytesTransferred(direction string, bytes int64)       {}
func (noopNinePMetrics) SetActiveConnections(count int32)                           {}
func (noopNinePMetrics) RecordConnectionAccepted()                                  {}
func (noopNinePMetrics) RecordConnectionClosed()                                    {}
func (noopNinePMetrics) RecordRateLimited()                                         {}

// SetStorage injects the shared virtual tree.
//
// Called by ObjectServer exactly once before Serve(), so no
// synchronization is needed.
func (s *NinePAdapter) SetStorage(storage *vfs.Storage) {
	s.storage = storage
	logger.Debug("9P storage configured")
}

// Serve starts the 9P server and blocks until the context is cancelled or
// an unrecoverable error occurs.
//
// Serve accepts incoming TCP connections on the configured port and spawns
// a goroutine per connection. Within a connection, messages are processed
// serially against the shared storage.
//
// When the context is cancelled, Serve initiates graceful shutdown:
//  1. Stops accepting new connections (listener closed)
//  2. Cancels all in-flight request contexts (shutdownCtx cancelled)
//  3. Waits for active connections to complete (up to ShutdownTimeout)
//  4. Forcibly closes any remaining connections after timeout
func (s *NinePAdapter) Serve(ctx context.Context) error {
	if s.storage == nil {
		return fmt.Errorf("9P adapter started without storage")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create 9P listener on port %d: %w", s.config.Port, err)
	}

	s.listener = listener
	s.boundPort.Store(int32(listener.Addr().(*net.TCPAddr).Port))
	logger.Info("9P server listening on port %d", s.Port())
	logger.Debug("9P config: msize=%d max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		s.config.Msize, s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout)

	// Monitor context cancellation in a separate goroutine so the accept
	// loop stays a plain blocking loop.
	go func() {
		<-ctx.Done()
		logger.Info("9P shutdown signal received: %v", ctx.Err())
		s.initiateShutdown()
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		// Acquire connection semaphore if connection limiting is enabled.
		// This blocks at MaxConnections until a connection closes.
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := s.listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			// Shutdown closes the listener, so Accept failing here is
			// the expected exit path.
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting 9P connection: %v", err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("9P connection accepted from %s (active: %d)", tcpConn.RemoteAddr(), currentConns)

		conn := newConnection(s, tcpConn)
		go func(addr string, tcp net.Conn) {
			defer func() {
				s.activeConnections.Delete(addr)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("9P connection closed from %s (active: %d)", tcp.RemoteAddr(), currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr, tcpConn)
	}
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Safe to call multiple times and from multiple goroutines; sync.Once
// ensures the shutdown logic only runs once.
func (s *NinePAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("9P shutdown initiated")

		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing 9P listener: %v", err)
			}
		}

		// Cancel all in-flight request contexts so connection loops
		// notice shutdown between messages.
		s.cancelRequests()
	})
}

// gracefulShutdown waits for active connections to complete or timeout.
//
// After ShutdownTimeout, remaining TCP connections are force-closed:
// context cancellation prevents new work, and the TCP close fails any
// blocked reads so connection goroutines exit promptly.
func (s *NinePAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("9P graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("9P graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("9P shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("9P shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes all active TCP connections to accelerate
// shutdown after the graceful timeout expires.
func (s *NinePAdapter) forceCloseConnections() {
	logger.Info("Force-closing active 9P connections")

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			logger.Debug("Force-closed connection to %s", addr)
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown of the 9P server.
//
// Safe to call multiple times and concurrently with Serve(). The context
// bounds the wait for active connections; when it is cancelled before they
// complete, Stop returns the context error.
func (s *NinePAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	activeCount := s.connCount.Load()
	logger.Info("9P graceful shutdown: waiting for %d active connection(s) (context timeout)", activeCount)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("9P graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("9P shutdown context cancelled: %d connection(s) still active: %v", remaining, ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs server metrics for monitoring.
func (s *NinePAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			activeConns := s.connCount.Load()
			tokens := -1.0
			if s.limiter != nil {
				tokens = s.limiter.Tokens()
			}
			logger.Info("9P metrics: active_connections=%d rate_tokens=%.0f tree_nodes=%d",
				activeConns, tokens, s.storage.Size())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
// Primarily used for testing and monitoring.
func (s *NinePAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Port returns the TCP port the 9P server is listening on. Before Serve
// binds the listener this is the configured port, which may be 0.
func (s *NinePAdapter) Port() int {
	if p := s.boundPort.Load(); p != 0 {
		return int(p)
	}
	return s.config.Port
}

// Protocol returns "9P" as the protocol identifier.
func (s *NinePAdapter) Protocol() string {
	return "9P"
}
