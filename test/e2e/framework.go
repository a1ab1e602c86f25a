package e2e

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/objectfs/internal/logger"
	ninepAdapter "github.com/marmos91/objectfs/pkg/adapter/ninep"
	"github.com/marmos91/objectfs/pkg/server"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// TestContext provides a complete testing environment:
// - A vfs.Storage seeded with the exports under test
// - A running ObjectServer with a 9P adapter on an ephemeral port
// - Cleanup wired into the test lifecycle
//
// Tests talk to the server over real TCP with the userspace client in
// client.go, so no mount privileges are needed.
type TestContext struct {
	T       *testing.T
	Storage *vfs.Storage
	Server  *server.ObjectServer
	Adapter *ninepAdapter.NinePAdapter
	Port    int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// newTestContext starts a server around a storage seeded by the given
// function and blocks until the 9P listener accepts connections. Teardown
// is registered on the test.
func newTestContext(t *testing.T, seed func(s *vfs.Storage)) *TestContext {
	t.Helper()

	// Always use ERROR level to keep test output clean
	logger.SetLevel("ERROR")

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TestContext{
		T:       t,
		Storage: vfs.NewStorage(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if seed != nil {
		seed(tc.Storage)
	}

	tc.Adapter = ninepAdapter.New(ninepAdapter.NinePConfig{
		Enabled:         true,
		Port:            0,
		ShutdownTimeout: 5 * time.Second,
	}, nil)

	tc.Server = server.New(tc.Storage)
	if err := tc.Server.AddAdapter(tc.Adapter); err != nil {
		cancel()
		t.Fatalf("Failed to add 9P adapter: %v", err)
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		if err := tc.Server.Serve(tc.ctx); err != nil && !errors.Is(err, context.Canceled) {
			tc.T.Logf("Server error: %v", err)
		}
	}()

	tc.waitForServer()
	t.Cleanup(tc.Cleanup)
	return tc
}

// waitForServer waits for the adapter to bind its ephemeral port and
// accept a TCP connection.
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			tc.cancel()
			tc.T.Fatal("Timeout waiting for server to start")
		case <-ticker.C:
			port := tc.Adapter.Port()
			if port == 0 {
				continue
			}
			conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), time.Second)
			if err != nil {
				continue
			}
			_ = conn.Close()
			tc.Port = port
			return
		}
	}
}

// Cleanup stops the server and waits for it to exit.
func (tc *TestContext) Cleanup() {
	tc.cancel()
	tc.wg.Wait()
}
