package ninep

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/objectfs/internal/logger"
	"github.com/marmos91/objectfs/internal/protocol/ninep"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// handleVersion negotiates msize and protocol version.
//
// Version negotiation restarts the session: all outstanding fids are
// clunked, per version(5). Unknown protocols get Rversion "unknown"
// rather than Rerror, which is how a server declines politely.
func (c *NinePConnection) handleVersion(tag uint16, req *ninep.VersionRequest) ([]byte, error) {
	msize := req.Msize
	if msize > c.server.config.Msize {
		msize = c.server.config.Msize
	}
	if msize < ninep.MinMsize {
		return rerrorErr(tag, fmt.Errorf("msize %d below minimum %d", req.Msize, ninep.MinMsize))
	}

	version := ninep.Version
	if !strings.HasPrefix(req.Version, ninep.Version) {
		version = "unknown"
	}

	c.fids = make(map[uint32]*fidState)
	c.msize = msize
	c.versioned = version != "unknown"

	logger.Debug("9P version negotiated with %s: msize=%d version=%s", c.conn.RemoteAddr(), msize, version)
	return encode(tag, &ninep.VersionResponse{Msize: msize, Version: version})
}

// handleAttach binds a fid to the root of the requested tree.
func (c *NinePConnection) handleAttach(tag uint16, req *ninep.AttachRequest) ([]byte, error) {
	if req.Afid != ninep.NoFid {
		return rerrorErr(tag, fmt.Errorf("authentication not required"))
	}
	if _, exists := c.fids[req.Fid]; exists {
		return rerrorErr(tag, fmt.Errorf("duplicate fid %d", req.Fid))
	}

	id, err := c.resolveAname(req.Aname)
	if err != nil {
		return rerrorErr(tag, err)
	}

	attr, err := c.server.storage.Stat(id)
	if err != nil {
		return rerrorErr(tag, err)
	}

	c.uname = req.Uname
	c.fids[req.Fid] = &fidState{ident: id}

	logger.Debug("9P attach from %s: uname=%q aname=%q fid=%d", c.conn.RemoteAddr(), req.Uname, req.Aname, req.Fid)
	return encode(tag, &ninep.AttachResponse{Qid: qidFor(attr)})
}

// resolveAname walks an attach name from the tree root. Empty and "/"
// select the root itself.
func (c *NinePConnection) resolveAname(aname string) (vfs.Ident, error) {
	id := c.server.storage.RootID()

	for _, elem := range strings.Split(aname, "/") {
		if elem == "" {
			continue
		}
		attr, err := c.server.storage.Lookup(id, elem)
		if err != nil {
			return 0, err
		}
		id = attr.Ident
	}
	return id, nil
}

// handleWalk resolves a sequence of path elements, binding the result to
// newfid. Partial walks return the qids collected so far and leave newfid
// unbound, per walk(5).
func (c *NinePConnection) handleWalk(tag uint16, req *ninep.WalkRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}
	if f.open {
		return rerrorErr(tag, fmt.Errorf("fid %d is open", req.Fid))
	}
	if req.NewFid != req.Fid {
		if _, exists := c.fids[req.NewFid]; exists {
			return rerrorErr(tag, fmt.Errorf("duplicate fid %d", req.NewFid))
		}
	}

	storage := c.server.storage
	cur := f.ident
	qids := make([]ninep.Qid, 0, len(req.Names))

	for i, name := range req.Names {
		attr, err := storage.Stat(cur)
		if err != nil {
			if i == 0 {
				return rerrorErr(tag, err)
			}
			break
		}
		if !attr.Mode.IsDir() {
			if i == 0 {
				return rerrorErr(tag, fmt.Errorf("not a directory"))
			}
			break
		}

		child, err := storage.Lookup(cur, name)
		if err != nil {
			if i == 0 {
				return rerrorErr(tag, err)
			}
			break
		}

		qids = append(qids, qidFor(child))
		cur = child.Ident
	}

	// Only a complete walk moves the fid.
	if len(qids) == len(req.Names) {
		c.fids[req.NewFid] = &fidState{ident: cur}
	}

	return encode(tag, &ninep.WalkResponse{Qids: qids})
}

// handleOpen prepares a fid for I/O.
func (c *NinePConnection) handleOpen(tag uint16, req *ninep.OpenRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}
	if f.open {
		return rerrorErr(tag, fmt.Errorf("fid %d already open", req.Fid))
	}

	storage := c.server.storage
	attr, err := storage.Stat(f.ident)
	if err != nil {
		return rerrorErr(tag, err)
	}

	if attr.Mode.IsDir() {
		if ninep.WantsWrite(req.Mode) || req.Mode&ninep.OTRUNC != 0 {
			return rerrorErr(tag, fmt.Errorf("is a directory"))
		}
	} else if req.Mode&ninep.OTRUNC != 0 {
		if err := storage.Truncate(f.ident); err != nil {
			return rerrorErr(tag, err)
		}
		attr, err = storage.Stat(f.ident)
		if err != nil {
			return rerrorErr(tag, err)
		}
	}

	f.open = true
	f.omode = req.Mode
	f.rclose = req.Mode&ninep.ORCLOSE != 0
	f.dirBuf = nil
	f.dirOffset = 0

	return encode(tag, &ninep.OpenResponse{Qid: qidFor(attr), IOUnit: c.iounit()})
}

// handleCreate makes a new file or directory under the fid's directory and
// moves the fid onto it, opened.
func (c *NinePConnection) handleCreate(tag uint16, req *ninep.CreateRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}
	if f.open {
		return rerrorErr(tag, fmt.Errorf("fid %d is open", req.Fid))
	}
	if req.Perm&ninep.DMSYMLINK != 0 {
		return rerrorErr(tag, fmt.Errorf("symlink creation not supported"))
	}

	mode := vfs.Mode(req.Perm & uint32(vfs.ModePerm))
	if req.Perm&ninep.DMDIR != 0 {
		if ninep.WantsWrite(req.Mode) {
			return rerrorErr(tag, fmt.Errorf("is a directory"))
		}
		mode |= vfs.ModeDir
	}

	storage := c.server.storage
	node, err := storage.Create(f.ident, req.Name, mode)
	if err != nil {
		return rerrorErr(tag, err)
	}
	ident := node.Inode().Ident()

	attr, err := storage.Stat(ident)
	if err != nil {
		return rerrorErr(tag, err)
	}

	f.ident = ident
	f.open = true
	f.omode = req.Mode
	f.rclose = req.Mode&ninep.ORCLOSE != 0
	f.dirBuf = nil
	f.dirOffset = 0

	return encode(tag, &ninep.CreateResponse{Qid: qidFor(attr), IOUnit: c.iounit()})
}

// handleRead serves file content or packed directory entries.
func (c *NinePConnection) handleRead(tag uint16, req *ninep.ReadRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}
	if !f.open || !ninep.WantsRead(f.omode) {
		return rerrorErr(tag, fmt.Errorf("fid %d not open for reading", req.Fid))
	}

	count := req.Count
	if max := c.iounit(); count > max {
		count = max
	}

	storage := c.server.storage
	attr, err := storage.Stat(f.ident)
	if err != nil {
		return rerrorErr(tag, err)
	}

	if attr.Mode.IsDir() {
		data, err := c.readDir(f, req.Offset, count)
		if err != nil {
			return rerrorErr(tag, err)
		}
		return encode(tag, &ninep.ReadResponse{Data: data})
	}

	data, err := storage.Read(f.ident, int(count), int64(req.Offset))
	if err != nil {
		return rerrorErr(tag, err)
	}

	c.server.metrics.RecordBytesTransferred("read", int64(len(data)))
	return encode(tag, &ninep.ReadResponse{Data: data})
}

// readDir serves a directory read. The listing is packed once at offset
// zero and then sliced at stat-entry boundaries; clients must read
// sequentially, which is what the protocol requires of them.
func (c *NinePConnection) readDir(f *fidState, offset uint64, count uint32) ([]byte, error) {
	if offset == 0 {
		attrs, err := c.server.storage.Children(f.ident)
		if err != nil {
			return nil, err
		}

		var packed []byte
		for i := range attrs {
			stat := statFor(attrs[i])
			entry, err := stat.Encode()
			if err != nil {
				return nil, err
			}
			packed = append(packed, entry...)
		}

		f.dirBuf = packed
		f.dirOffset = 0
	}

	if offset != f.dirOffset {
		return nil, fmt.Errorf("bad offset in directory read")
	}
	if f.dirOffset >= uint64(len(f.dirBuf)) {
		return nil, nil
	}

	// Return whole entries only. Each entry announces its own length in
	// its first two bytes, so walk them until the next would overflow.
	rest := f.dirBuf[f.dirOffset:]
	total := 0
	for total+2 <= len(rest) {
		entryLen := 2 + int(binary.LittleEndian.Uint16(rest[total:]))
		if total+entryLen > int(count) || total+entryLen > len(rest) {
			break
		}
		total += entryLen
	}

	f.dirOffset += uint64(total)
	return rest[:total], nil
}

// handleWrite stores data into the fid's write buffer.
func (c *NinePConnection) handleWrite(tag uint16, req *ninep.WriteRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}
	if !f.open || !ninep.WantsWrite(f.omode) {
		return rerrorErr(tag, fmt.Errorf("fid %d not open for writing", req.Fid))
	}

	n, err := c.server.storage.Write(f.ident, req.Data, int64(req.Offset))
	if err != nil {
		return rerrorErr(tag, err)
	}

	c.server.metrics.RecordBytesTransferred("write", int64(n))
	return encode(tag, &ninep.WriteResponse{Count: uint32(n)})
}

// handleClunk releases a fid. A fid that was open for writing commits its
// buffered content; ORCLOSE fids remove their file instead.
func (c *NinePConnection) handleClunk(tag uint16, req *ninep.ClunkRequest) ([]byte, error) {
	f, err := c.takeFid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}

	storage := c.server.storage
	if f.rclose {
		if err := storage.Remove(f.ident); err != nil {
			// The fid is gone regardless, per clunk(5).
			return rerrorErr(tag, err)
		}
	} else if f.open && ninep.WantsWrite(f.omode) {
		if err := storage.Commit(f.ident); err != nil {
			return rerrorErr(tag, err)
		}
	}

	return encode(tag, &ninep.ClunkResponse{})
}

// handleRemove deletes the fid's file and releases the fid.
func (c *NinePConnection) handleRemove(tag uint16, req *ninep.RemoveRequest) ([]byte, error) {
	f, err := c.takeFid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}

	if err := c.server.storage.Remove(f.ident); err != nil {
		return rerrorErr(tag, err)
	}
	return encode(tag, &ninep.RemoveResponse{})
}

// handleStat returns the directory entry for a fid.
func (c *NinePConnection) handleStat(tag uint16, req *ninep.StatRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}

	attr, err := c.server.storage.Stat(f.ident)
	if err != nil {
		return rerrorErr(tag, err)
	}

	return encode(tag, &ninep.StatResponse{Stat: statFor(attr)})
}

// handleWStat applies a partial metadata update. Untouched fields carry
// their maximal sentinel values; a wstat with nothing set is a sync
// request, per stat(5).
func (c *NinePConnection) handleWStat(tag uint16, req *ninep.WStatRequest) ([]byte, error) {
	f, err := c.fid(req.Fid)
	if err != nil {
		return rerrorErr(tag, err)
	}

	storage := c.server.storage
	st := &req.Stat

	if isDontTouch(st) {
		if err := storage.Sync(f.ident); err != nil {
			return rerrorErr(tag, err)
		}
		return encode(tag, &ninep.WStatResponse{})
	}

	var sa vfs.SetAttr
	if st.Name != "" {
		sa.SetName = true
		sa.Name = st.Name
	}
	if st.Mode != 0xFFFFFFFF {
		sa.SetMode = true
		sa.Mode = vfs.Mode(st.Mode) & vfs.ModePerm
	}
	if st.Mtime != 0xFFFFFFFF {
		sa.SetMtime = true
		sa.Mtime = time.Unix(int64(st.Mtime), 0)
	}
	if st.UID != "" {
		sa.SetUID = true
		sa.UID = st.UID
	}
	if st.GID != "" {
		sa.SetGID = true
		sa.GID = st.GID
	}

	newID, err := storage.WStat(f.ident, sa)
	if err != nil {
		return rerrorErr(tag, err)
	}
	// A rename re-identifies the node; keep the fid pointing at it.
	f.ident = newID

	if st.Length != 0xFFFFFFFFFFFFFFFF {
		attr, err := storage.Stat(f.ident)
		if err != nil {
			return rerrorErr(tag, err)
		}
		switch {
		case st.Length == attr.Length:
			// No change requested.
		case st.Length == 0:
			if err := storage.Truncate(f.ident); err != nil {
				return rerrorErr(tag, err)
			}
		default:
			return rerrorErr(tag, fmt.Errorf("cannot set length to %d", st.Length))
		}
	}

	return encode(tag, &ninep.WStatResponse{})
}

// fid resolves a client fid.
func (c *NinePConnection) fid(fid uint32) (*fidState, error) {
	f, ok := c.fids[fid]
	if !ok {
		return nil, fmt.Errorf("unknown fid %d", fid)
	}
	return f, nil
}

// takeFid resolves and removes a client fid. Used by clunk and remove,
// which invalidate the fid no matter how the operation goes.
func (c *NinePConnection) takeFid(fid uint32) (*fidState, error) {
	f, err := c.fid(fid)
	if err != nil {
		return nil, err
	}
	delete(c.fids, fid)
	return f, nil
}

// iounit returns the largest payload that fits a single message under the
// negotiated msize.
func (c *NinePConnection) iounit() uint32 {
	return c.msize - ninep.IOHeaderSize
}

// qidFor derives a qid from node metadata: the identifier is the path,
// the change counter is the version, and the type mirrors the mode.
func qidFor(attr vfs.Attr) ninep.Qid {
	t := uint8(ninep.QTFILE)
	switch {
	case attr.Mode.IsDir():
		t = ninep.QTDIR
	case attr.Mode.IsSymlink():
		t = ninep.QTSYMLINK
	}
	return ninep.Qid{Type: t, Version: attr.Version, Path: uint64(attr.Ident)}
}

// statFor converts node metadata to a wire stat entry. Directories are
// reported with length zero, following the convention that directory
// sizes are meaningless.
func statFor(attr vfs.Attr) ninep.Stat {
	mode := uint32(attr.Mode.Perm())
	length := attr.Length
	switch {
	case attr.Mode.IsDir():
		mode |= ninep.DMDIR
		length = 0
	case attr.Mode.IsSymlink():
		mode |= ninep.DMSYMLINK
	}

	return ninep.Stat{
		Qid:    qidFor(attr),
		Mode:   mode,
		Atime:  uint32(attr.Atime.Unix()),
		Mtime:  uint32(attr.Mtime.Unix()),
		Length: length,
		Name:   attr.Name,
		UID:    attr.UID,
		GID:    attr.GID,
		MUID:   attr.UID,
	}
}

// isDontTouch reports whether every field of a wstat entry holds its
// "no change" sentinel.
func isDontTouch(st *ninep.Stat) bool {
	return st.Type == 0xFFFF &&
		st.Dev == 0xFFFFFFFF &&
		st.Qid == (ninep.Qid{Type: 0xFF, Version: 0xFFFFFFFF, Path: 0xFFFFFFFFFFFFFFFF}) &&
		st.Mode == 0xFFFFFFFF &&
		st.Atime == 0xFFFFFFFF &&
		st.Mtime == 0xFFFFFFFF &&
		st.Length == 0xFFFFFFFFFFFFFFFF &&
		st.Name == "" &&
		st.UID == "" &&
		st.GID == "" &&
		st.MUID == ""
}
