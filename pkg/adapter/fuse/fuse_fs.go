package fuse

import (
	"context"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/marmos91/objectfs/pkg/metrics"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// FS implements the bazil fs.FS interface over a shared vfs.Storage.
//
// Nodes are keyed by tree identifier, not path. A rename re-identifies
// the affected subtree, so node objects the kernel cached before a rename
// go stale and report ENOENT; the kernel recovers by looking the new name
// up again. Freshly created or looked-up nodes always carry live
// identifiers.
type FS struct {
	storage *vfs.Storage
	metrics metrics.FUSEMetrics

	// uid and gid are stamped on every attr, since the tree tracks
	// symbolic owner names rather than numeric ids.
	uid uint32
	gid uint32
}

var _ fs.FS = (*FS)(nil)
var _ fs.FSStatfser = (*FS)(nil)

// Root returns the root directory node.
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, ident: f.storage.RootID()}, nil
}

// Statfs reports synthetic filesystem statistics. The only live number is
// the node count.
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	resp.Files = uint64(f.storage.Size())
	resp.Bsize = 4096
	resp.Namelen = 255
	return nil
}

// observe records one kernel operation in the metrics sink.
func (f *FS) observe(op string, start time.Time, err error) {
	f.metrics.RecordRequest(op, time.Since(start), err)
}

// node wraps a metadata snapshot in the matching node type.
func (f *FS) node(attr vfs.Attr) fs.Node {
	switch {
	case attr.Mode.IsDir():
		return &Dir{fs: f, ident: attr.Ident}
	case attr.Mode.IsSymlink():
		return &Symlink{fs: f, ident: attr.Ident}
	default:
		return &File{fs: f, ident: attr.Ident}
	}
}

// fillAttr translates a metadata snapshot into a kernel attr. Valid stays
// zero: live values must be re-fetched on every kernel stat.
func (f *FS) fillAttr(a *fuse.Attr, attr vfs.Attr) {
	a.Inode = uint64(attr.Ident)
	a.Mode = osMode(attr.Mode)
	a.Size = attr.Length
	if attr.Mode.IsDir() {
		a.Size = 0
	}
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Mtime
	a.Uid = f.uid
	a.Gid = f.gid
	a.Nlink = 1
}

// setattr applies a kernel setattr onto a node and fills the response
// with the resulting metadata. Ownership changes are refused: the tree
// tracks symbolic owners, not kernel ids.
func (f *FS) setattr(ident vfs.Ident, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Uid() || req.Valid.Gid() {
		return syscall.EPERM
	}

	var sa vfs.SetAttr
	if req.Valid.Mode() {
		sa.SetMode = true
		sa.Mode = vfs.Mode(req.Mode & os.ModePerm)
	}
	if req.Valid.Mtime() {
		sa.SetMtime = true
		sa.Mtime = req.Mtime
	}
	if sa != (vfs.SetAttr{}) {
		// Setattr never renames, so the identifier is unchanged.
		if _, err := f.storage.WStat(ident, sa); err != nil {
			return errno(err)
		}
	}

	if req.Valid.Size() {
		attr, err := f.storage.Stat(ident)
		if err != nil {
			return errno(err)
		}
		switch req.Size {
		case attr.Length:
			// No change requested.
		case 0:
			if err := f.storage.Truncate(ident); err != nil {
				return errno(err)
			}
		default:
			// Buffers only truncate to empty; partial resize has no
			// meaning for rendered values.
			return syscall.EINVAL
		}
	}

	attr, err := f.storage.Stat(ident)
	if err != nil {
		return errno(err)
	}
	f.fillAttr(&resp.Attr, attr)
	return nil
}

// Dir is a directory node.
type Dir struct {
	fs    *FS
	ident vfs.Ident
}

var _ fs.Node = (*Dir)(nil)
var _ fs.NodeStringLookuper = (*Dir)(nil)
var _ fs.HandleReadDirAller = (*Dir)(nil)
var _ fs.NodeMkdirer = (*Dir)(nil)
var _ fs.NodeCreater = (*Dir)(nil)
var _ fs.NodeRemover = (*Dir)(nil)
var _ fs.NodeRenamer = (*Dir)(nil)
var _ fs.NodeSetattrer = (*Dir)(nil)

// Attr returns directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := d.fs.storage.Stat(d.ident)
	if err != nil {
		return errno(err)
	}
	d.fs.fillAttr(a, attr)
	return nil
}

// Lookup resolves a child by name.
func (d *Dir) Lookup(ctx context.Context, name string) (node fs.Node, err error) {
	start := time.Now()
	defer func() { d.fs.observe("lookup", start, err) }()

	attr, err := d.fs.storage.Lookup(d.ident, name)
	if err != nil {
		return nil, errno(err)
	}
	return d.fs.node(attr), nil
}

// ReadDirAll lists the directory.
func (d *Dir) ReadDirAll(ctx context.Context) (ents []fuse.Dirent, err error) {
	start := time.Now()
	defer func() { d.fs.observe("readdir", start, err) }()

	attrs, err := d.fs.storage.Children(d.ident)
	if err != nil {
		return nil, errno(err)
	}

	ents = make([]fuse.Dirent, 0, len(attrs))
	for _, attr := range attrs {
		ent := fuse.Dirent{
			Inode: uint64(attr.Ident),
			Name:  attr.Name,
			Type:  fuse.DT_File,
		}
		switch {
		case attr.Mode.IsDir():
			ent.Type = fuse.DT_Dir
		case attr.Mode.IsSymlink():
			ent.Type = fuse.DT_Link
		}
		ents = append(ents, ent)
	}
	return ents, nil
}

// Mkdir creates a child directory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (node fs.Node, err error) {
	start := time.Now()
	defer func() { d.fs.observe("mkdir", start, err) }()

	child, err := d.fs.storage.Create(d.ident, req.Name, vfs.ModeDir|vfs.Mode(req.Mode&os.ModePerm))
	if err != nil {
		return nil, errno(err)
	}
	return &Dir{fs: d.fs, ident: child.Inode().Ident()}, nil
}

// Create makes a child file, opened.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (node fs.Node, handle fs.Handle, err error) {
	start := time.Now()
	defer func() { d.fs.observe("create", start, err) }()

	child, err := d.fs.storage.Create(d.ident, req.Name, vfs.Mode(req.Mode&os.ModePerm))
	if err != nil {
		return nil, nil, errno(err)
	}

	file := &File{fs: d.fs, ident: child.Inode().Ident()}
	resp.OpenResponse.Flags |= fuse.OpenDirectIO
	return file, file, nil
}

// Remove unlinks a child file or removes an empty child directory.
//
// The storage layer can destroy whole subtrees, but the kernel expects
// rmdir to refuse non-empty directories, so that is enforced here.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) (err error) {
	start := time.Now()
	defer func() { d.fs.observe("remove", start, err) }()

	attr, err := d.fs.storage.Lookup(d.ident, req.Name)
	if err != nil {
		return errno(err)
	}

	if req.Dir {
		if !attr.Mode.IsDir() {
			return syscall.ENOTDIR
		}
		children, err := d.fs.storage.Children(attr.Ident)
		if err != nil {
			return errno(err)
		}
		if len(children) > 0 {
			return syscall.ENOTEMPTY
		}
	} else if attr.Mode.IsDir() {
		return syscall.EISDIR
	}

	return errno(d.fs.storage.Remove(attr.Ident))
}

// Rename moves a child into newDir, possibly under a new name. The moved
// subtree is re-identified; the kernel picks up the new identity on its
// next lookup.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) (err error) {
	start := time.Now()
	defer func() { d.fs.observe("rename", start, err) }()

	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.ENOTDIR
	}

	child, err := d.fs.storage.Lookup(d.ident, req.OldName)
	if err != nil {
		return errno(err)
	}

	if target.ident == d.ident {
		_, err = d.fs.storage.Rename(child.Ident, req.NewName)
	} else {
		_, err = d.fs.storage.Reparent(target.ident, child.Ident, req.NewName)
	}
	return errno(err)
}

// Setattr applies chmod and mtime updates to the directory.
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) (err error) {
	start := time.Now()
	defer func() { d.fs.observe("setattr", start, err) }()
	return d.fs.setattr(d.ident, req, resp)
}

// File is a regular file node. The node doubles as its own handle, the
// buffer model being stateless between open and close.
type File struct {
	fs    *FS
	ident vfs.Ident
}

var _ fs.Node = (*File)(nil)
var _ fs.NodeOpener = (*File)(nil)
var _ fs.HandleReader = (*File)(nil)
var _ fs.HandleWriter = (*File)(nil)
var _ fs.HandleFlusher = (*File)(nil)
var _ fs.NodeFsyncer = (*File)(nil)
var _ fs.NodeSetattrer = (*File)(nil)

// Attr returns file attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := f.fs.storage.Stat(f.ident)
	if err != nil {
		return errno(err)
	}
	f.fs.fillAttr(a, attr)
	return nil
}

// Open returns the file itself as the handle. Direct I/O keeps the page
// cache out of the way: rendered content can change size between reads,
// and a stale cached length would clip it.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	resp.Flags |= fuse.OpenDirectIO
	return f, nil
}

// Read serves file content.
func (f *File) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) (err error) {
	start := time.Now()
	defer func() { f.fs.observe("read", start, err) }()

	data, err := f.fs.storage.Read(f.ident, req.Size, req.Offset)
	if err != nil {
		return errno(err)
	}
	resp.Data = data
	f.fs.metrics.RecordBytesTransferred("read", int64(len(data)))
	return nil
}

// Write stores data into the file's buffer.
func (f *File) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) (err error) {
	start := time.Now()
	defer func() { f.fs.observe("write", start, err) }()

	n, err := f.fs.storage.Write(f.ident, req.Data, req.Offset)
	if err != nil {
		return errno(err)
	}
	resp.Size = n
	f.fs.metrics.RecordBytesTransferred("write", int64(n))
	return nil
}

// Flush commits buffered writes. The kernel sends a flush on every close,
// which is the natural commit point for edits made through the mount.
func (f *File) Flush(ctx context.Context, req *fuse.FlushRequest) (err error) {
	start := time.Now()
	defer func() { f.fs.observe("flush", start, err) }()
	return errno(f.fs.storage.Commit(f.ident))
}

// Fsync commits buffered writes without waiting for close.
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return errno(f.fs.storage.Commit(f.ident))
}

// Setattr applies chmod, truncate, and mtime updates to the file.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) (err error) {
	start := time.Now()
	defer func() { f.fs.observe("setattr", start, err) }()
	return f.fs.setattr(f.ident, req, resp)
}

// Symlink is a symbolic link node, as produced by the reference cycle
// policy.
type Symlink struct {
	fs    *FS
	ident vfs.Ident
}

var _ fs.Node = (*Symlink)(nil)
var _ fs.NodeReadlinker = (*Symlink)(nil)

// Attr returns symlink attributes.
func (l *Symlink) Attr(ctx context.Context, a *fuse.Attr) error {
	attr, err := l.fs.storage.Stat(l.ident)
	if err != nil {
		return errno(err)
	}
	l.fs.fillAttr(a, attr)
	return nil
}

// Readlink returns the link target, a path relative to the link's
// directory.
func (l *Symlink) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	target, err := l.fs.storage.ReadLink(l.ident)
	if err != nil {
		return "", errno(err)
	}
	return target, nil
}

// osMode translates tree mode bits to kernel mode bits.
func osMode(m vfs.Mode) os.FileMode {
	mode := os.FileMode(m.Perm())
	switch {
	case m.IsDir():
		mode |= os.ModeDir
	case m.IsSymlink():
		mode |= os.ModeSymlink
	}
	return mode
}

// errno maps tree errors onto kernel errnos.
func errno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case vfs.IsNotFound(err):
		return syscall.ENOENT
	case vfs.IsAlreadyExists(err):
		return syscall.EEXIST
	case vfs.IsPermissionDenied(err):
		return syscall.EPERM
	}
	return syscall.EIO
}
