package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, s *Storage, parent Ident, name string, mode Mode) Ident {
	t.Helper()
	node, err := s.Create(parent, name, mode)
	require.NoError(t, err)
	return node.Inode().Ident()
}

func mustLookup(t *testing.T, s *Storage, dir Ident, name string) Attr {
	t.Helper()
	attr, err := s.Lookup(dir, name)
	require.NoError(t, err)
	return attr
}

func listNames(t *testing.T, s *Storage, dir Ident) []string {
	t.Helper()
	attrs, err := s.Children(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		names = append(names, attr.Name)
	}
	return names
}

func readFile(t *testing.T, s *Storage, id Ident) string {
	t.Helper()
	data, err := s.Read(id, 1<<20, 0)
	require.NoError(t, err)
	return string(data)
}

// writeFile replaces a file's content the way an open-truncate-write-close
// sequence does, commit included.
func writeFile(t *testing.T, s *Storage, id Ident, text string) {
	t.Helper()
	require.NoError(t, s.Truncate(id))
	_, err := s.Write(id, []byte(text), 0)
	require.NoError(t, err)
	require.NoError(t, s.Commit(id))
}

func TestNewStorage_RootOnly(t *testing.T) {
	s := NewStorage()

	require.Equal(t, 1, s.Size())
	assert.Equal(t, HashPath("/"), s.RootID())

	attr, err := s.Stat(s.RootID())
	require.NoError(t, err)
	assert.Equal(t, "/", attr.Name)
	assert.True(t, attr.Mode.IsDir())
}

func TestCreate_FileAndDirectory(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	dir := mustCreate(t, s, root, "etc", ModeDir|0o755)
	file := mustCreate(t, s, dir, "motd", 0o644)

	assert.Equal(t, HashPath("/etc"), dir)
	assert.Equal(t, HashPath("/etc/motd"), file)
	assert.Equal(t, 3, s.Size())

	attr := mustLookup(t, s, dir, "motd")
	assert.Equal(t, file, attr.Ident)
	assert.False(t, attr.Mode.IsDir())

	assert.Equal(t, []string{"motd"}, listNames(t, s, dir))
}

func TestCreate_DuplicateName(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	mustCreate(t, s, root, "data", 0o644)
	_, err := s.Create(root, "data", 0o644)

	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))
}

func TestCreate_RejectsReservedNames(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	for _, name := range []string{".", "..", ".repr", "", "a/b"} {
		_, err := s.Create(root, name, 0o644)
		require.Error(t, err, "name %q", name)
		assert.True(t, IsPermissionDenied(err), "name %q", name)
	}
}

func TestCreate_UnderFile(t *testing.T) {
	s := NewStorage()
	file := mustCreate(t, s, s.RootID(), "plain", 0o644)

	_, err := s.Create(file, "child", 0o644)

	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestCheckout_UnknownIdent(t *testing.T) {
	s := NewStorage()

	_, err := s.Checkout(HashPath("/no/such/path"))

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// TestIdentity_MatchesHashedPath pins the addressing invariant: every
// node's identifier is the hash of its current absolute path.
func TestIdentity_MatchesHashedPath(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	a := mustCreate(t, s, root, "a", ModeDir|0o755)
	b := mustCreate(t, s, a, "b", ModeDir|0o755)
	c := mustCreate(t, s, b, "c", 0o644)

	assert.Equal(t, HashPath("/a"), a)
	assert.Equal(t, HashPath("/a/b"), b)
	assert.Equal(t, HashPath("/a/b/c"), c)
}

func TestRename_ReidentifiesSubtree(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	dir := mustCreate(t, s, root, "old", ModeDir|0o755)
	inner := mustCreate(t, s, dir, "inner", ModeDir|0o755)
	leaf := mustCreate(t, s, inner, "leaf", 0o644)
	before := s.Size()

	newID, err := s.Rename(dir, "new")
	require.NoError(t, err)
	assert.Equal(t, HashPath("/new"), newID)

	// Old identifiers are dead.
	for _, id := range []Ident{dir, inner, leaf} {
		_, err := s.Checkout(id)
		assert.True(t, IsNotFound(err))
	}

	// New identifiers hash the new paths, and nothing leaked.
	for _, path := range []string{"/new", "/new/inner", "/new/inner/leaf"} {
		_, err := s.Checkout(HashPath(path))
		assert.NoError(t, err, "path %s", path)
	}
	assert.Equal(t, before, s.Size())
}

func TestRename_Collision(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	mustCreate(t, s, root, "taken", 0o644)
	id := mustCreate(t, s, root, "movable", 0o644)

	_, err := s.Rename(id, "taken")

	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err))

	// The original stayed put.
	_, err = s.Checkout(HashPath("/movable"))
	assert.NoError(t, err)
}

func TestReparent_MovesSubtree(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	src := mustCreate(t, s, root, "src", ModeDir|0o755)
	dst := mustCreate(t, s, root, "dst", ModeDir|0o755)
	moving := mustCreate(t, s, src, "box", ModeDir|0o755)
	mustCreate(t, s, moving, "content", 0o644)

	movedID, err := s.Reparent(dst, moving, "")
	require.NoError(t, err)
	assert.Equal(t, HashPath("/dst/box"), movedID)

	moved := mustLookup(t, s, dst, "box")
	assert.Equal(t, movedID, moved.Ident)

	_, err = s.Checkout(HashPath("/dst/box/content"))
	assert.NoError(t, err)

	// ".." inside the moved directory points at the new parent.
	up := mustLookup(t, s, moved.Ident, "..")
	assert.Equal(t, dst, up.Ident)

	assert.Empty(t, listNames(t, s, src))
}

func TestReparent_RenameDuringMove(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	dst := mustCreate(t, s, root, "dst", ModeDir|0o755)
	id := mustCreate(t, s, root, "orig", 0o644)

	movedID, err := s.Reparent(dst, id, "renamed")
	require.NoError(t, err)
	assert.Equal(t, HashPath("/dst/renamed"), movedID)

	_, err = s.Checkout(movedID)
	assert.NoError(t, err)
}

func TestReparent_UnderItself(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	outer := mustCreate(t, s, root, "outer", ModeDir|0o755)
	nested := mustCreate(t, s, outer, "nested", ModeDir|0o755)

	_, err := s.Reparent(nested, outer, "")

	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestReparent_RootRefused(t *testing.T) {
	s := NewStorage()
	dir := mustCreate(t, s, s.RootID(), "dir", ModeDir|0o755)

	_, err := s.Reparent(dir, s.RootID(), "")

	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestRemove_Subtree(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	dir := mustCreate(t, s, root, "tmp", ModeDir|0o755)
	sub := mustCreate(t, s, dir, "sub", ModeDir|0o755)
	file := mustCreate(t, s, sub, "junk", 0o644)

	require.NoError(t, s.Remove(dir))

	for _, id := range []Ident{dir, sub, file} {
		_, err := s.Checkout(id)
		assert.True(t, IsNotFound(err))
	}
	assert.Equal(t, 1, s.Size())
	assert.Empty(t, listNames(t, s, root))
}

func TestRemove_RootRefused(t *testing.T) {
	s := NewStorage()

	err := s.Remove(s.RootID())

	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestReadWrite_RoundTrip(t *testing.T) {
	s := NewStorage()
	id := mustCreate(t, s, s.RootID(), "notes", 0o644)

	n, err := s.Write(id, []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, "hello", readFile(t, s, id))

	// Writing past the end zero-fills the gap.
	_, err = s.Write(id, []byte("!"), 7)
	require.NoError(t, err)
	assert.Equal(t, "hello\x00\x00!", readFile(t, s, id))

	// Reads beyond the end are empty, not errors.
	data, err := s.Read(id, 16, 100)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRead_Directory(t *testing.T) {
	s := NewStorage()

	_, err := s.Read(s.RootID(), 64, 0)

	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
}

func TestTruncate_ClearsContent(t *testing.T) {
	s := NewStorage()
	id := mustCreate(t, s, s.RootID(), "scratch", 0o644)

	_, err := s.Write(id, []byte("content"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Truncate(id))

	assert.Empty(t, readFile(t, s, id))

	attr, err := s.Stat(id)
	require.NoError(t, err)
	assert.Zero(t, attr.Length)
}

func TestWStat_ModeKeepsTypeBits(t *testing.T) {
	s := NewStorage()
	dir := mustCreate(t, s, s.RootID(), "dir", ModeDir|0o755)

	same, err := s.WStat(dir, SetAttr{SetMode: true, Mode: 0o700})
	require.NoError(t, err)
	assert.Equal(t, dir, same, "chmod must not re-identify")

	attr, err := s.Stat(dir)
	require.NoError(t, err)
	assert.True(t, attr.Mode.IsDir(), "type bit must survive a chmod")
	assert.Equal(t, Mode(0o700), attr.Mode.Perm())
}

func TestWStat_NameRoutesThroughRename(t *testing.T) {
	s := NewStorage()
	id := mustCreate(t, s, s.RootID(), "before", 0o644)

	newID, err := s.WStat(id, SetAttr{SetName: true, Name: "after"})
	require.NoError(t, err)
	assert.Equal(t, HashPath("/after"), newID)

	_, err = s.Checkout(newID)
	assert.NoError(t, err)
	_, err = s.Checkout(id)
	assert.True(t, IsNotFound(err))
}

func TestWStat_Ownership(t *testing.T) {
	s := NewStorage()
	id := mustCreate(t, s, s.RootID(), "owned", 0o644)

	_, err := s.WStat(id, SetAttr{SetUID: true, UID: "alice", SetGID: true, GID: "ops"})
	require.NoError(t, err)

	attr, err := s.Stat(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", attr.UID)
	assert.Equal(t, "ops", attr.GID)
}

func TestCommit_NoopWithoutWrites(t *testing.T) {
	s := NewStorage()
	id := mustCreate(t, s, s.RootID(), "idle", 0o644)

	require.NoError(t, s.Commit(id))
}

func TestLookup_SelfAndParent(t *testing.T) {
	s := NewStorage()
	root := s.RootID()
	dir := mustCreate(t, s, root, "dir", ModeDir|0o755)

	self := mustLookup(t, s, dir, ".")
	assert.Equal(t, dir, self.Ident)

	up := mustLookup(t, s, dir, "..")
	assert.Equal(t, root, up.Ident)

	// Root's parent is root.
	up = mustLookup(t, s, root, "..")
	assert.Equal(t, root, up.Ident)
}

func TestLookup_Missing(t *testing.T) {
	s := NewStorage()

	_, err := s.Lookup(s.RootID(), "ghost")

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestChildren_SortedWithoutDotEntries(t *testing.T) {
	s := NewStorage()
	root := s.RootID()

	mustCreate(t, s, root, "zeta", 0o644)
	mustCreate(t, s, root, "alpha", 0o644)
	mustCreate(t, s, root, "mid", ModeDir|0o755)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, listNames(t, s, root))
}
