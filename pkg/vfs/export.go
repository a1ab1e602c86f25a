package vfs

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/marmos91/objectfs/internal/logger"
)

// ExportConfig controls how one exported object is observed. The zero
// value observes a composite as a directory tree, resolves back-references
// with symlinks, and exposes neither calls nor plain struct fields.
type ExportConfig struct {
	// Base is the tree directory the export is attached under, created on
	// demand. Empty means the root.
	Base string

	// Blacklist bars paths, relative to the export root, from ever being
	// observed or created. "/password" hides a direct member, "/db/dsn"
	// one nested below.
	Blacklist []string

	// CycleDetect selects how back-references inside the object graph are
	// materialized.
	CycleDetect CycleMode

	// ExportCalls exposes callable members as call directories.
	ExportCalls bool

	// NameTemplate derives the export's display name from the object.
	// "@member" names it after one member; "{member}" references expand
	// inside literal text.
	NameTemplate string

	// ForceFile observes the object as a single rendered file even when it
	// is composite.
	ForceFile bool

	// Reflect opts plain struct pointers into field observation. Without
	// it only Record implementors, sequences, and maps expand.
	Reflect bool
}

func (cfg *ExportConfig) normalize() {
	for i, entry := range cfg.Blacklist {
		entry = strings.TrimRight(entry, "/")
		if !strings.HasPrefix(entry, "/") {
			entry = "/" + entry
		}
		cfg.Blacklist[i] = entry
	}
}

// Export attaches an object to the tree and returns its root node.
//
// The handle decides the export's lifetime: a Strong handle pins the object
// for as long as the node lives, a Weak one lets the collector reclaim it,
// after which the subtree is retired by the next sweep of its parent.
//
// name may be empty, in which case the display name is derived from the
// object and kept current as it changes. An explicit name is pinned.
//
// Fails with ErrConstructionFailed when the handle is already dead and
// ErrAlreadyExists when the name collides under the base directory.
func (s *Storage) Export(name string, h Handle, cfg ExportConfig) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cfg
	c.Blacklist = append([]string(nil), cfg.Blacklist...)
	c.normalize()

	v, alive := h.Get()
	if !alive {
		return nil, NewConstructionFailed("object is not alive", name)
	}

	parent, err := s.ensureBaseLocked(c.Base)
	if err != nil {
		return nil, err
	}

	autoName := name == ""
	if autoName {
		name = displayNameFor(v, &c)
	}

	kind, mode := kindLeaf, Mode(0o644)
	if isComposite(v, &c) && !c.ForceFile {
		kind, mode = kindDir, ModeDir|0o755
	}

	node := newObjectNode(name, mode, kind, &c, make(map[uintptr]*ObjectNode))
	node.root = true
	node.autoName = autoName
	node.handle = h

	if err := s.attachLocked(parent, node); err != nil {
		return nil, err
	}

	if id, ok := identityOf(v); ok && c.CycleDetect != CycleNone {
		node.claimIdentityLocked(id, node)
	}

	if err := node.Sync(); err != nil {
		logger.Debug("initial sync of %s: %v", node.absolutePath(), err)
	}
	return node, nil
}

// ExportFunc attaches a standalone function as a call directory. The name
// may be empty, in which case the function's runtime name is used.
//
// Methods reached through exported objects do not need this; they appear
// when the export sets ExportCalls.
func (s *Storage) ExportFunc(name string, fn any, cfg ExportConfig) (Node, error) {
	rv := reflect.ValueOf(fn)
	if !rv.IsValid() || rv.Kind() != reflect.Func || rv.IsNil() {
		return nil, NewConstructionFailed("not a function", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := cfg
	c.Blacklist = append([]string(nil), cfg.Blacklist...)
	c.normalize()

	parent, err := s.ensureBaseLocked(c.Base)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = funcBaseName(rv)
	}

	node := newFuncNode(name, &c)
	node.root = true
	node.fn = fn
	if err := s.attachLocked(parent, node); err != nil {
		return nil, err
	}
	node.buildLocked(s)
	return node, nil
}

// ensureBaseLocked walks base, creating missing segments as plain
// directories. Lock held.
func (s *Storage) ensureBaseLocked(base string) (Node, error) {
	var parent Node = s.root
	for _, seg := range splitPath(base) {
		pin := parent.Inode()
		if child, ok := pin.children[seg]; ok {
			if !child.Inode().mode.IsDir() {
				return nil, NewPermissionDenied("not a directory", child.Inode().absolutePath())
			}
			parent = child
			continue
		}
		dir := newInode(seg, ModeDir|0o755)
		if err := s.attachLocked(parent, dir); err != nil {
			return nil, err
		}
		parent = dir
	}
	return parent, nil
}

// funcBaseName extracts the bare name of a function value, package path
// and receiver stripped.
func funcBaseName(rv reflect.Value) string {
	full := runtime.FuncForPC(rv.Pointer()).Name()
	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}
	full = strings.TrimSuffix(full, "-fm")
	if full == "" {
		return "func"
	}
	return full
}
