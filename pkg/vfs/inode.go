package vfs

import (
	"bytes"
	"strings"
	"time"
)

// Reserved directory entries. Every directory holds a self-referential "."
// and a parent-referential ".."; they are never listed, created, or removed
// through the public surface.
const (
	selfEntry   = "."
	parentEntry = ".."
)

// reprEntry is the auto-generated representation file carried by every
// observed directory. It participates in listings but is excluded from the
// member diff.
const reprEntry = ".repr"

// isReserved reports whether name is one of the fixed special entries.
func isReserved(name string) bool {
	return name == selfEntry || name == parentEntry
}

// validName reports whether name can be used for a child: non-empty, not
// reserved, not the engine-owned repr file, and free of path separators.
func validName(name string) bool {
	return name != "" && !isReserved(name) && name != reprEntry && !strings.ContainsRune(name, '/')
}

// Node is implemented by every member of the tree. The structural core is
// reachable through Inode(); Sync and Commit are the behavior hooks the
// storage layer invokes with the tree lock held.
//
// Plain inodes no-op both hooks: their buffer is their content. Observation
// nodes override Sync to re-derive children and content from the live value,
// and Commit to push buffered text back into it.
type Node interface {
	// Inode returns the structural core of the node.
	Inode() *Inode

	// Sync refreshes the node from its backing source. Called with the tree
	// lock held, before directory listings and offset-zero reads.
	Sync() error

	// Commit flushes buffered writes to the backing source. Called with the
	// tree lock held when a write-locked node is committed.
	Commit() error
}

// Inode is the structural core of a tree node: naming, linkage, metadata,
// the content buffer, and the rollback list. It implements Node directly, so
// plain directories and scratch files are just *Inode; observation nodes
// embed it.
//
// All fields are guarded by the owning Storage's lock. An Inode is never
// shared between storages.
type Inode struct {
	storage *Storage

	name     string
	mode     Mode
	uid, gid string
	atime    time.Time
	mtime    time.Time
	version  uint32

	parent   Node
	children map[string]Node

	buf       []byte
	writelock bool

	// cleanup holds the rollback actions registered during construction;
	// destroy runs them wholesale.
	cleanup CleanupList

	ident     Ident
	destroyed bool
}

// inode aliases Inode for embedding: an embedded field named "Inode" would
// shadow the promoted Inode method and keep embedders from satisfying Node.
type inode = Inode

// newInode builds an unlinked inode. Linking, registration, and identity
// assignment happen in Storage.attachLocked.
func newInode(name string, mode Mode) *Inode {
	now := time.Now()
	in := &Inode{
		name:  name,
		mode:  mode,
		atime: now,
		mtime: now,
	}
	if mode.IsDir() {
		in.children = make(map[string]Node)
	}
	return in
}

// Inode implements Node.
func (in *Inode) Inode() *Inode { return in }

// Sync implements Node. Plain inodes have nothing to refresh.
func (in *Inode) Sync() error { return nil }

// Commit implements Node. Plain inodes keep their buffer as-is.
func (in *Inode) Commit() error { return nil }

// Ident returns the node's current identifier.
func (in *Inode) Ident() Ident { return in.ident }

// Name returns the node's current path segment.
func (in *Inode) Name() string { return in.name }

// Mode returns the node's mode bits.
func (in *Inode) Mode() Mode { return in.mode }

// isRoot reports whether the node is the tree root (its own parent).
func (in *Inode) isRoot() bool {
	return in.parent != nil && in.parent.Inode() == in
}

// orphaned reports whether the node has been unlinked from the tree.
func (in *Inode) orphaned() bool {
	return in.parent == nil
}

// absolutePath rebuilds the node's path from the parent chain. The root is
// "/"; everything else is "/" + joined segments.
func (in *Inode) absolutePath() string {
	if in.isRoot() {
		return "/"
	}
	var segments []string
	for n := in; !n.isRoot(); {
		segments = append(segments, n.name)
		if n.parent == nil {
			break
		}
		n = n.parent.Inode()
	}
	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segments[i])
	}
	return b.String()
}

// length is the stat size: child count for directories, buffer length for
// files.
func (in *Inode) length() uint64 {
	if in.mode.IsDir() {
		return uint64(len(in.children))
	}
	return uint64(len(in.buf))
}

// attr snapshots the node's metadata.
func (in *Inode) attr() Attr {
	return Attr{
		Ident:   in.ident,
		Name:    in.name,
		Mode:    in.mode,
		UID:     in.uid,
		GID:     in.gid,
		Atime:   in.atime,
		Mtime:   in.mtime,
		Length:  in.length(),
		Version: in.version,
	}
}

// touch bumps the modification time and version.
func (in *Inode) touch() {
	in.mtime = time.Now()
	in.version++
}

// readAt copies up to count bytes from the buffer starting at offset.
// Reads past the end return an empty slice.
func (in *Inode) readAt(count int, offset int64) []byte {
	in.atime = time.Now()
	if offset < 0 || offset >= int64(len(in.buf)) || count <= 0 {
		return nil
	}
	end := offset + int64(count)
	if end > int64(len(in.buf)) {
		end = int64(len(in.buf))
	}
	out := make([]byte, end-offset)
	copy(out, in.buf[offset:end])
	return out
}

// writeAt copies data into the buffer at offset, growing it as needed and
// zero-filling any gap.
func (in *Inode) writeAt(data []byte, offset int64) int {
	if offset < 0 {
		return 0
	}
	end := offset + int64(len(data))
	if end > int64(len(in.buf)) {
		grown := make([]byte, end)
		copy(grown, in.buf)
		in.buf = grown
	}
	copy(in.buf[offset:end], data)
	in.writelock = true
	in.touch()
	return len(data)
}

// setContent replaces the whole buffer without setting the write lock; the
// observation engine uses it to refresh derived content. Rewrites that
// change nothing leave mtime and version alone, so an idempotent sync is
// invisible to stat.
func (in *Inode) setContent(data []byte) {
	if bytes.Equal(in.buf, data) {
		return
	}
	in.buf = data
	in.touch()
}

// truncate clears the buffer and leaves it write-locked, pending a commit.
// Used for open-with-truncate, which is always the start of an edit.
func (in *Inode) truncate() {
	in.buf = nil
	in.writelock = true
	in.touch()
}
