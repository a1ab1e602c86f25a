package vfs

import (
	"os"
	"sort"
	"sync"

	"github.com/marmos91/objectfs/internal/logger"
)

// Storage owns the inode tree: the root directory, the identifier registry,
// and the single lock that serializes every structural mutation and buffer
// operation.
//
// Invariant: every node reachable from the root has exactly one registry
// entry, keyed by the hash of its current absolute path. Rename and reparent
// re-identify whole subtrees atomically with the tree edit.
//
// Thread safety:
// All exported methods are safe for concurrent use. The lock is coarse on
// purpose: expected concurrency is a handful of protocol connections, not a
// data plane, and the observation engine needs a consistent tree while it
// diffs. Re-entrancy (Sync creating and destroying children mid-operation)
// is handled by the exported-locks/unexported-assumes-held convention, never
// by recursive locking.
type Storage struct {
	mu sync.Mutex

	registry map[Ident]Node
	root     *Inode

	// owner and group are the default uid/gid stamped on new inodes.
	owner string
	group string

	// sweptRoots counts export roots destroyed because their handle died.
	// Sampled by the server for metrics.
	sweptRoots uint64
}

// NewStorage creates a storage with an empty root directory.
func NewStorage() *Storage {
	owner := os.Getenv("USER")
	if owner == "" {
		owner = "objectfs"
	}

	s := &Storage{
		registry: make(map[Ident]Node),
		owner:    owner,
		group:    owner,
	}

	root := newInode("/", ModeDir|0o755)
	root.storage = s
	root.parent = root
	root.children[selfEntry] = root
	root.children[parentEntry] = root
	root.uid = owner
	root.gid = owner
	root.ident = HashPath("/")

	s.root = root
	s.registry[root.ident] = root
	return s
}

// RootID returns the identifier of the tree root.
func (s *Storage) RootID() Ident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.ident
}

// Size returns the number of registered nodes, root included.
func (s *Storage) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// Exports returns the number of live object roots in the tree.
func (s *Storage) Exports() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, node := range s.registry {
		switch n := node.(type) {
		case *ObjectNode:
			if n.root {
				count++
			}
		case *FuncNode:
			if n.root {
				count++
			}
		}
	}
	return count
}

// SweptRoots returns the cumulative number of export roots destroyed
// because their handle died.
func (s *Storage) SweptRoots() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweptRoots
}

// Checkout resolves an identifier to its node.
//
// Returns ErrNotFound when the identifier is not registered (node destroyed,
// renamed, or never existed).
func (s *Storage) Checkout(id Ident) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkoutLocked(id)
}

// Create makes a plain child inode under the given directory.
//
// Fails with ErrAlreadyExists when the name collides with an existing child,
// and with ErrPermissionDenied when the name is reserved, invalid, or the
// parent disallows it (blacklisted path under an observed directory).
func (s *Storage) Create(parentID Ident, name string, mode Mode) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.checkoutLocked(parentID)
	if err != nil {
		return nil, err
	}

	var child Node
	if maker, ok := parent.(childMaker); ok {
		child = maker.newChild(name, mode)
	} else {
		child = newInode(name, mode)
	}
	if err := s.attachLocked(parent, child); err != nil {
		return nil, err
	}
	return child, nil
}

// Attach links a caller-constructed node under the given directory. The
// node's name and mode come from its inode; identity is assigned here.
func (s *Storage) Attach(parentID Ident, node Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.checkoutLocked(parentID)
	if err != nil {
		return err
	}
	return s.attachLocked(parent, node)
}

// Remove destroys the subtree rooted at id: children first, then cleanup
// actions, unlinking, and registry removal.
//
// Removing the root is refused. An identifier that is already gone returns
// ErrNotFound; destroying a node twice is a no-op.
func (s *Storage) Remove(id Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return err
	}
	if node.Inode() == s.root {
		return NewPermissionDenied("cannot remove root", "/")
	}
	s.destroyLocked(node)
	return nil
}

// Rename changes a node's path segment in place, re-identifying the whole
// subtree. Fails with ErrAlreadyExists when the new name collides with a
// sibling.
//
// Returns the node's identifier after the rename. Callers holding the old
// identifier (protocol fid tables, kernel handle maps) must switch to it.
func (s *Storage) Rename(id Ident, newName string) (Ident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return id, err
	}
	if err := s.renameLocked(node, newName); err != nil {
		return id, err
	}
	return node.Inode().ident, nil
}

// Reparent moves a subtree under a new directory, optionally renaming it.
// Pass newName == "" to keep the current name.
//
// Fails with ErrAlreadyExists on a destination collision and with
// ErrPermissionDenied when the move would detach the root or place a
// directory under its own subtree.
//
// Returns the node's identifier after the move, like Rename.
func (s *Storage) Reparent(newParentID Ident, id Ident, newName string) (Ident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return id, err
	}
	newParent, err := s.checkoutLocked(newParentID)
	if err != nil {
		return id, err
	}

	in := node.Inode()
	if in == s.root {
		return id, NewPermissionDenied("cannot move root", "/")
	}
	pin := newParent.Inode()
	if !pin.mode.IsDir() {
		return id, NewPermissionDenied("not a directory", pin.absolutePath())
	}

	// Walking the destination's parent chain must not pass through the node
	// being moved, or the subtree would orbit itself.
	for n := pin; !n.isRoot(); n = n.parent.Inode() {
		if n == in {
			return id, NewPermissionDenied("cannot move a directory under itself", in.absolutePath())
		}
	}

	name := newName
	if name == "" {
		name = in.name
	}
	if !validName(name) {
		return id, NewPermissionDenied("invalid name", name)
	}
	if existing, ok := pin.children[name]; ok {
		if existing == node {
			return id, nil
		}
		return id, NewAlreadyExists(pin.absolutePath() + "/" + name)
	}
	if gate, ok := newParent.(childGate); ok {
		if err := gate.allowChild(name); err != nil {
			return id, err
		}
	}

	// Unlink from the old parent, relink, fix "..", re-identify.
	oldParent := in.parent.Inode()
	delete(oldParent.children, in.name)
	oldParent.touch()

	in.name = name
	in.parent = newParent
	pin.children[name] = node
	pin.touch()
	if in.mode.IsDir() {
		in.children[parentEntry] = newParent
	}
	in.touch()
	s.reindexLocked(node)
	return in.ident, nil
}

// Read copies up to count bytes of a file's buffer starting at offset.
//
// A read at offset zero triggers the node's Sync hook first, so any read
// that starts a fresh pass sees up-to-date content. Sync failures degrade:
// they are logged and the stale buffer is served.
func (s *Storage) Read(id Ident, count int, offset int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return nil, err
	}
	in := node.Inode()
	if in.mode.IsDir() {
		return nil, NewPermissionDenied("is a directory", in.absolutePath())
	}
	if offset == 0 {
		if err := s.syncNodeLocked(node); err != nil {
			logger.Debug("sync before read of %s: %v", in.absolutePath(), err)
		}
	}
	return in.readAt(count, offset), nil
}

// Write copies data into a file's buffer at offset and marks the node
// write-locked, so the next Commit pushes the buffer to the backing source.
func (s *Storage) Write(id Ident, data []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return 0, err
	}
	in := node.Inode()
	if in.mode.IsDir() {
		return 0, NewPermissionDenied("is a directory", in.absolutePath())
	}
	return in.writeAt(data, offset), nil
}

// Commit flushes a write-locked node: the write lock is cleared and the
// node's Commit hook pushes the buffer to the backing source. Committing a
// node without pending writes is a no-op.
func (s *Storage) Commit(id Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return err
	}
	in := node.Inode()
	if !in.writelock {
		return nil
	}
	in.writelock = false
	return node.Commit()
}

// Truncate clears a file's buffer, as used by open-with-truncate.
func (s *Storage) Truncate(id Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return err
	}
	in := node.Inode()
	if in.mode.IsDir() {
		return NewPermissionDenied("is a directory", in.absolutePath())
	}
	in.truncate()
	return nil
}

// Sync forces the observation diff for a node ahead of a listing or read.
func (s *Storage) Sync(id Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return err
	}
	return s.syncNodeLocked(node)
}

// Stat returns a metadata snapshot for the node.
func (s *Storage) Stat(id Ident) (Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return Attr{}, err
	}
	return node.Inode().attr(), nil
}

// WStat applies a partial metadata update: name (routed through rename),
// permission bits (type bits are preserved), owner, group, and mtime.
//
// Returns the node's identifier after the update, which differs from id
// when the name changed.
func (s *Storage) WStat(id Ident, attr SetAttr) (Ident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return id, err
	}
	in := node.Inode()

	if attr.SetName && attr.Name != in.name {
		if err := s.renameLocked(node, attr.Name); err != nil {
			return id, err
		}
	}
	if attr.SetMode {
		in.mode = (in.mode &^ ModePerm) | (attr.Mode & ModePerm)
	}
	if attr.SetUID {
		in.uid = attr.UID
	}
	if attr.SetGID {
		in.gid = attr.GID
	}
	if attr.SetMtime {
		in.mtime = attr.Mtime
	} else {
		in.touch()
	}
	return in.ident, nil
}

// Children syncs a directory and returns metadata snapshots of its children,
// sorted by name. The reserved "." and ".." entries are excluded; the
// auto-generated ".repr" file is included.
//
// Sync failures degrade: the listing reflects whatever the tree holds.
func (s *Storage) Children(id Ident) ([]Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return nil, err
	}
	in := node.Inode()
	if !in.mode.IsDir() {
		return nil, NewPermissionDenied("not a directory", in.absolutePath())
	}
	if err := s.syncNodeLocked(node); err != nil {
		logger.Debug("sync before listing of %s: %v", in.absolutePath(), err)
	}

	attrs := make([]Attr, 0, len(in.children))
	for name, child := range in.children {
		if isReserved(name) {
			continue
		}
		attrs = append(attrs, child.Inode().attr())
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs, nil
}

// Lookup resolves one path segment under a directory. "." is the directory
// itself, ".." its parent.
//
// A miss retries once after syncing the directory, so a walk straight into
// a not-yet-materialized observed subtree still resolves.
func (s *Storage) Lookup(dirID Ident, name string) (Attr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(dirID)
	if err != nil {
		return Attr{}, err
	}
	in := node.Inode()
	if !in.mode.IsDir() {
		return Attr{}, NewPermissionDenied("not a directory", in.absolutePath())
	}
	switch name {
	case selfEntry:
		return in.attr(), nil
	case parentEntry:
		return in.parent.Inode().attr(), nil
	}
	child, ok := in.children[name]
	if !ok {
		if err := s.syncNodeLocked(node); err != nil {
			logger.Debug("sync during lookup in %s: %v", in.absolutePath(), err)
		}
		child, ok = in.children[name]
	}
	if !ok {
		return Attr{}, NewNotFound(in.absolutePath() + "/" + name)
	}
	return child.Inode().attr(), nil
}

// ReadLink returns the target of a symlink node: its buffer text.
func (s *Storage) ReadLink(id Ident) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.checkoutLocked(id)
	if err != nil {
		return "", err
	}
	in := node.Inode()
	if !in.mode.IsSymlink() {
		return "", NewPermissionDenied("not a symlink", in.absolutePath())
	}
	return string(in.buf), nil
}

// childGate lets a parent veto child names before linking. Observed
// directories implement it to enforce their export blacklist on manual
// creates.
type childGate interface {
	allowChild(name string) error
}

// childMaker lets a parent choose the node type for manually-created
// children. Observed directories implement it so a created file binds to
// the member of the same name instead of becoming an inert scratch file.
type childMaker interface {
	newChild(name string, mode Mode) Node
}

// checkoutLocked resolves an identifier. Lock held.
func (s *Storage) checkoutLocked(id Ident) (Node, error) {
	node, ok := s.registry[id]
	if !ok {
		return nil, &Error{Code: ErrNotFound, Message: "file not found"}
	}
	return node, nil
}

// syncNodeLocked runs a node's sync, preceded by the export sweep when the
// node is a plain directory hosting export roots. Lock held.
func (s *Storage) syncNodeLocked(node Node) error {
	in := node.Inode()
	if in.mode.IsDir() {
		if _, observed := node.(*ObjectNode); !observed {
			s.sweepExportsLocked(in)
		}
	}
	return node.Sync()
}

// sweepExportsLocked retires export roots whose handle has died and keeps
// derived display names current. Runs on plain directories, where export
// roots live; observed directories reconcile their children through their
// own member diff instead. Lock held.
func (s *Storage) sweepExportsLocked(in *Inode) {
	for _, name := range in.childNames() {
		child, ok := in.children[name]
		if !ok {
			continue
		}
		root, ok := child.(*ObjectNode)
		if !ok || !root.root {
			continue
		}

		v, alive := root.handle.Get()
		if !alive {
			s.destroyLocked(root)
			s.sweptRoots++
			continue
		}
		if !root.autoName {
			continue
		}
		fresh := displayNameFor(v, root.cfg)
		if fresh == root.name {
			continue
		}
		if err := s.renameLocked(root, fresh); err != nil {
			logger.Debug("display name refresh of %q: %v", root.name, err)
		}
	}
}

// attachLocked links node as a child of parent, assigns identity, and
// registers the subtree. Lock held.
func (s *Storage) attachLocked(parent Node, node Node) error {
	pin := parent.Inode()
	in := node.Inode()

	if !pin.mode.IsDir() {
		return NewPermissionDenied("not a directory", pin.absolutePath())
	}
	if !validName(in.name) {
		return NewPermissionDenied("invalid name", in.name)
	}
	if _, ok := pin.children[in.name]; ok {
		return NewAlreadyExists(pin.absolutePath() + "/" + in.name)
	}
	if gate, ok := parent.(childGate); ok {
		if err := gate.allowChild(in.name); err != nil {
			return err
		}
	}

	in.storage = s
	in.parent = parent
	if in.uid == "" {
		in.uid = s.owner
	}
	if in.gid == "" {
		in.gid = s.group
	}
	if in.mode.IsDir() {
		in.children[selfEntry] = node
		in.children[parentEntry] = parent
	}
	pin.children[in.name] = node
	pin.touch()
	s.reindexLocked(node)
	return nil
}

// attachSpecialLocked links an engine-owned child, bypassing name
// validation and the parent's gate. Used for the ".repr" file, whose name
// is deliberately not creatable through the public surface. Lock held.
func (s *Storage) attachSpecialLocked(parent Node, node Node) error {
	pin := parent.Inode()
	in := node.Inode()

	if !pin.mode.IsDir() {
		return NewPermissionDenied("not a directory", pin.absolutePath())
	}
	if _, ok := pin.children[in.name]; ok {
		return NewAlreadyExists(pin.absolutePath() + "/" + in.name)
	}

	in.storage = s
	in.parent = parent
	if in.uid == "" {
		in.uid = s.owner
	}
	if in.gid == "" {
		in.gid = s.group
	}
	pin.children[in.name] = node
	pin.touch()
	s.reindexLocked(node)
	return nil
}

// renameLocked changes a node's name in place and re-identifies its
// subtree. Lock held.
func (s *Storage) renameLocked(node Node, newName string) error {
	in := node.Inode()
	if in.orphaned() || in.isRoot() {
		return NewPermissionDenied("cannot rename", in.absolutePath())
	}
	if !validName(newName) {
		return NewPermissionDenied("invalid name", newName)
	}
	pin := in.parent.Inode()
	if _, ok := pin.children[newName]; ok {
		return NewAlreadyExists(pin.absolutePath() + "/" + newName)
	}

	delete(pin.children, in.name)
	in.name = newName
	pin.children[newName] = node
	pin.touch()
	in.touch()
	s.reindexLocked(node)
	return nil
}

// destroyLocked tears down a subtree: non-special children first, then the
// node's own unlinking, registry removal, and cleanup actions. Destroying an
// already-destroyed node is a no-op, which keeps symlink back-reference
// cleanup idempotent. Lock held.
func (s *Storage) destroyLocked(node Node) {
	in := node.Inode()
	if in.destroyed {
		return
	}
	in.destroyed = true

	if in.mode.IsDir() {
		names := make([]string, 0, len(in.children))
		for name := range in.children {
			if isReserved(name) {
				continue
			}
			names = append(names, name)
		}
		for _, name := range names {
			if child, ok := in.children[name]; ok {
				s.destroyLocked(child)
			}
		}
	}

	if in.parent != nil && !in.isRoot() {
		pin := in.parent.Inode()
		delete(pin.children, in.name)
		pin.touch()
	}
	in.parent = nil
	delete(s.registry, in.ident)

	if failed := in.cleanup.Run(); failed > 0 {
		logger.Debug("%d cleanup action(s) failed for %q", failed, in.name)
	}
}

// reindexLocked recomputes identifiers for a subtree after a path change
// and rewrites the registry entries. Lock held.
func (s *Storage) reindexLocked(node Node) {
	in := node.Inode()
	delete(s.registry, in.ident)
	in.ident = HashPath(in.absolutePath())
	s.registry[in.ident] = node

	if !in.mode.IsDir() {
		return
	}
	for name, child := range in.children {
		if isReserved(name) {
			continue
		}
		s.reindexLocked(child)
	}
}
