package vfs

import (
	"hash/fnv"
	"time"
)

// Ident is the tree-wide addressing key for an inode. It is derived by
// hashing the node's absolute path, so it stays stable across reads but
// changes when the node is renamed or reparented.
type Ident uint64

// HashPath computes the identifier for an absolute tree path.
//
// FNV-1a is cheap, stable across runs, and good enough for the expected tree
// sizes. Hash collisions between two distinct live paths corrupt the registry
// and are not detected; this is an accepted limitation.
func HashPath(path string) Ident {
	h := fnv.New64a()
	h.Write([]byte(path))
	return Ident(h.Sum64())
}

// Mode is a 9P-style bit-encoded file mode: type flags in the high bits,
// Unix permission bits in the low nine.
type Mode uint32

const (
	// ModeDir marks a directory.
	ModeDir Mode = 1 << 31

	// ModeSymlink marks a symbolic link whose buffer holds the target path.
	ModeSymlink Mode = 1 << 25

	// ModePerm masks the permission bits.
	ModePerm Mode = 0o777
)

// IsDir reports whether the mode has the directory bit set.
func (m Mode) IsDir() bool { return m&ModeDir != 0 }

// IsSymlink reports whether the mode has the symlink bit set.
func (m Mode) IsSymlink() bool { return m&ModeSymlink != 0 }

// Perm returns the permission bits of the mode.
func (m Mode) Perm() Mode { return m & ModePerm }

// Attr is a point-in-time metadata snapshot of an inode, sufficient for a
// POSIX-like stat on either protocol.
type Attr struct {
	// Ident is the node's current identifier.
	Ident Ident

	// Name is the node's path segment.
	Name string

	// Mode carries the type and permission bits.
	Mode Mode

	// UID and GID are the owner and group names.
	UID string
	GID string

	// Atime and Mtime are the access and modification times.
	Atime time.Time
	Mtime time.Time

	// Length is the child count for directories and the buffer length for
	// files.
	Length uint64

	// Version increments on every content or name change; protocol adapters
	// surface it as the 9P qid version.
	Version uint32
}

// SetAttr describes a partial metadata update. Only fields whose Set flag is
// true are applied; this mirrors the wire semantics of 9P wstat, where
// untouched fields carry "don't change" sentinels.
type SetAttr struct {
	SetName bool
	Name    string

	SetMode bool
	Mode    Mode

	SetUID bool
	UID    string

	SetGID bool
	GID    string

	SetMtime bool
	Mtime    time.Time
}
