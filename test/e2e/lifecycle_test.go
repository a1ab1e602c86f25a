package e2e

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/objectfs/internal/protocol/ninep"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// scratchObject is the collectible fixture for weak-handle tests. Nothing
// but the test body holds a strong reference to it.
type scratchObject struct {
	ID int
}

// TestWeakExportRetiredAfterCollection tests the export sweep: once the
// observed object is collected, the next root listing retires the export.
func TestWeakExportRetiredAfterCollection(t *testing.T) {
	obj := &scratchObject{ID: 7}
	tc := newTestContext(t, func(s *vfs.Storage) {
		if _, err := s.Export("ephemeral", vfs.Weak(obj), vfs.ExportConfig{Reflect: true}); err != nil {
			t.Fatalf("Failed to export ephemeral: %v", err)
		}
	})
	c := dialServer(t, tc)

	if got := c.lsNames(); !contains(got, "ephemeral") {
		t.Fatalf("Root listing %v does not contain the live export", got)
	}
	if v := c.readFile("ephemeral", "ID"); v != "7" {
		t.Fatalf("Read of ephemeral/ID = %q, want %q", v, "7")
	}
	runtime.KeepAlive(obj)

	// The only strong reference is gone; collection timing is up to the
	// runtime, so poll.
	deadline := time.Now().Add(5 * time.Second)
	for {
		runtime.GC()
		if !contains(c.lsNames(), "ephemeral") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Export still listed after the object became unreachable")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if ename := c.walkFails("ephemeral"); !strings.Contains(ename, "not found") {
		t.Errorf("Walk to swept export failed with %q, want not found", ename)
	}
}

// TestStrongExportSurvivesCollection tests that a strong handle pins the
// object across garbage collection.
func TestStrongExportSurvivesCollection(t *testing.T) {
	tc := newTestContext(t, func(s *vfs.Storage) {
		if _, err := s.Export("pinned", vfs.Strong(&scratchObject{ID: 11}), vfs.ExportConfig{Reflect: true}); err != nil {
			t.Fatalf("Failed to export pinned: %v", err)
		}
	})
	c := dialServer(t, tc)

	for i := 0; i < 3; i++ {
		runtime.GC()
	}

	if got := c.lsNames(); !contains(got, "pinned") {
		t.Errorf("Root listing %v lost the pinned export", got)
	}
	if v := c.readFile("pinned", "ID"); v != "11" {
		t.Errorf("Read of pinned/ID = %q, want %q", v, "11")
	}
}

// TestRemoveRetiresExport tests removing an export over the wire.
func TestRemoveRetiresExport(t *testing.T) {
	tc := newTestContext(t, func(s *vfs.Storage) {
		if _, err := s.Export("service", vfs.Strong(newServiceState()), vfs.ExportConfig{Reflect: true}); err != nil {
			t.Fatalf("Failed to export service: %v", err)
		}
	})
	c := dialServer(t, tc)

	if got := tc.Storage.Exports(); got != 1 {
		t.Fatalf("Exports() = %d before remove, want 1", got)
	}

	c.remove("service")

	if got := c.lsNames(); contains(got, "service") {
		t.Errorf("Root listing %v still shows the removed export", got)
	}
	if ename := c.walkFails("service"); !strings.Contains(ename, "not found") {
		t.Errorf("Walk to removed export failed with %q, want not found", ename)
	}
	if got := tc.Storage.Exports(); got != 0 {
		t.Errorf("Exports() = %d after remove, want 0", got)
	}
}

// TestRemoveRootRefused tests that the tree root cannot be removed.
func TestRemoveRootRefused(t *testing.T) {
	tc := newTestContext(t, nil)
	c := dialServer(t, tc)

	fid := c.mustWalk()
	ename := c.mustError(ninep.Tremove, le32(fid))
	if !strings.Contains(ename, "root") {
		t.Errorf("Root remove failed with %q, want a root refusal", ename)
	}
}
