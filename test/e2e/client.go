package e2e

import (
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/marmos91/objectfs/internal/protocol/ninep"
)

// client is a userspace 9P2000 client just capable enough to drive the
// end-to-end tests: version negotiation, attach, and the file operations
// the suites need. Fid 0 stays attached to the root for the lifetime of
// the connection; every other operation walks a fresh fid and clunks it.
type client struct {
	t       *testing.T
	conn    net.Conn
	nextTag uint16
	nextFid uint32
}

// dialServer connects to the test server and completes the version and
// attach handshake. The connection is closed on test cleanup.
func dialServer(t *testing.T, tc *TestContext) *client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", tc.Port), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &client{t: t, conn: conn, nextTag: 1, nextFid: 1}
	c.must(ninep.Tversion, cat(le32(8192), lestr(ninep.Version)), ninep.Rversion)
	c.must(ninep.Tattach, attachBody(0, ninep.NoFid, "e2e", ""), ninep.Rattach)
	return c
}

// rpc sends one request and reads its reply. Tversion goes out under
// NoTag, everything else under a fresh tag.
func (c *client) rpc(msgType uint8, body []byte) (uint8, []byte) {
	c.t.Helper()

	tag := c.nextTag
	if msgType == ninep.Tversion {
		tag = ninep.NoTag
	} else {
		c.nextTag++
		if c.nextTag == ninep.NoTag {
			c.nextTag = 1
		}
	}

	frame := make([]byte, 0, ninep.HeaderSize+len(body))
	frame = append(frame, le32(uint32(ninep.HeaderSize+len(body)))...)
	frame = append(frame, msgType)
	frame = append(frame, le16(tag)...)
	frame = append(frame, body...)
	if _, err := c.conn.Write(frame); err != nil {
		c.t.Fatalf("Failed to send %s: %v", ninep.MessageTypeName(msgType), err)
	}

	rt, rtag, rbody, err := ninep.ReadMessage(c.conn, 1<<20)
	if err != nil {
		c.t.Fatalf("Failed to read reply for %s: %v", ninep.MessageTypeName(msgType), err)
	}
	if rtag != tag {
		c.t.Fatalf("Reply tag %d does not match request tag %d", rtag, tag)
	}
	return rt, rbody
}

// must fails the test when the reply is not the expected type. Rerror
// replies include the error string in the failure message.
func (c *client) must(msgType uint8, body []byte, want uint8) []byte {
	c.t.Helper()

	rt, rbody := c.rpc(msgType, body)
	if rt != want {
		if rt == ninep.Rerror {
			c.t.Fatalf("%s failed: %s", ninep.MessageTypeName(msgType), parseString(c.t, rbody, 0))
		}
		c.t.Fatalf("%s returned %s, want %s",
			ninep.MessageTypeName(msgType), ninep.MessageTypeName(rt), ninep.MessageTypeName(want))
	}
	return rbody
}

// mustError expects an Rerror reply and returns its ename.
func (c *client) mustError(msgType uint8, body []byte) string {
	c.t.Helper()

	rt, rbody := c.rpc(msgType, body)
	if rt != ninep.Rerror {
		c.t.Fatalf("%s returned %s, want Rerror", ninep.MessageTypeName(msgType), ninep.MessageTypeName(rt))
	}
	return parseString(c.t, rbody, 0)
}

func (c *client) fid() uint32 {
	f := c.nextFid
	c.nextFid++
	return f
}

// mustWalk binds a fresh fid to the path relative to the root and fails
// on a partial walk.
func (c *client) mustWalk(names ...string) uint32 {
	c.t.Helper()

	fid := c.fid()
	body := c.must(ninep.Twalk, walkBody(0, fid, names...), ninep.Rwalk)
	if got := binary.LittleEndian.Uint16(body); int(got) != len(names) {
		c.t.Fatalf("Walk to %v returned %d qids, want %d", names, got, len(names))
	}
	return fid
}

// walkFails asserts that walking to the path is refused and returns the
// error string.
func (c *client) walkFails(names ...string) string {
	c.t.Helper()
	return c.mustError(ninep.Twalk, walkBody(0, c.fid(), names...))
}

func (c *client) open(fid uint32, mode uint8) {
	c.t.Helper()
	c.must(ninep.Topen, openBody(fid, mode), ninep.Ropen)
}

func (c *client) clunk(fid uint32) {
	c.t.Helper()
	c.must(ninep.Tclunk, le32(fid), ninep.Rclunk)
}

// readAll drains an open fid from offset zero. File reads sync the node
// against its live value on the first chunk.
func (c *client) readAll(fid uint32) []byte {
	c.t.Helper()

	var out []byte
	var offset uint64
	for {
		body := c.must(ninep.Tread, readBody(fid, offset, 4096), ninep.Rread)
		n := binary.LittleEndian.Uint32(body)
		if n == 0 {
			return out
		}
		out = append(out, body[4:4+n]...)
		offset += uint64(n)
	}
}

// readFile walks to the path, reads the whole file, and clunks.
func (c *client) readFile(names ...string) string {
	c.t.Helper()

	fid := c.mustWalk(names...)
	c.open(fid, ninep.OREAD)
	data := c.readAll(fid)
	c.clunk(fid)
	return string(data)
}

// writeFile truncates the file at the path, writes data, and clunks. The
// clunk commits the buffer, which is what pushes an edit into the live
// object or invokes a call file.
func (c *client) writeFile(data string, names ...string) {
	c.t.Helper()

	fid := c.mustWalk(names...)
	c.open(fid, ninep.OWRITE|ninep.OTRUNC)
	body := c.must(ninep.Twrite, writeBody(fid, 0, []byte(data)), ninep.Rwrite)
	if n := binary.LittleEndian.Uint32(body); int(n) != len(data) {
		c.t.Fatalf("Write returned count %d, want %d", n, len(data))
	}
	c.clunk(fid)
}

// createFile makes a new file under the directory at dirPath, writes
// data, and clunks. Under an observed directory the commit binds the
// file to the member of the same name.
func (c *client) createFile(data string, name string, dirPath ...string) {
	c.t.Helper()

	fid := c.mustWalk(dirPath...)
	c.must(ninep.Tcreate, createBody(fid, name, 0o644, ninep.OWRITE), ninep.Rcreate)
	body := c.must(ninep.Twrite, writeBody(fid, 0, []byte(data)), ninep.Rwrite)
	if n := binary.LittleEndian.Uint32(body); int(n) != len(data) {
		c.t.Fatalf("Write returned count %d, want %d", n, len(data))
	}
	c.clunk(fid)
}

// mkdir makes a new directory under the directory at dirPath.
func (c *client) mkdir(name string, dirPath ...string) {
	c.t.Helper()

	fid := c.mustWalk(dirPath...)
	c.must(ninep.Tcreate, createBody(fid, name, ninep.DMDIR|0o755, ninep.OREAD), ninep.Rcreate)
	c.clunk(fid)
}

// createFails asserts that creating name under the directory is refused
// and returns the error string. The walked fid is clunked.
func (c *client) createFails(name string, dirPath ...string) string {
	c.t.Helper()

	fid := c.mustWalk(dirPath...)
	ename := c.mustError(ninep.Tcreate, createBody(fid, name, 0o644, ninep.OWRITE))
	c.clunk(fid)
	return ename
}

// lsNames lists a directory's entry names in server order, which is
// sorted.
func (c *client) lsNames(names ...string) []string {
	c.t.Helper()

	fid := c.mustWalk(names...)
	c.open(fid, ninep.OREAD)

	var entries []string
	var offset uint64
	for {
		body := c.must(ninep.Tread, readBody(fid, offset, 4096), ninep.Rread)
		n := binary.LittleEndian.Uint32(body)
		if n == 0 {
			break
		}
		for _, st := range parseEntries(c.t, body[4:4+n]) {
			entries = append(entries, st.Name)
		}
		offset += uint64(n)
	}
	c.clunk(fid)
	return entries
}

// statPath returns the directory entry for the path.
func (c *client) statPath(names ...string) *ninep.Stat {
	c.t.Helper()

	fid := c.mustWalk(names...)
	body := c.must(ninep.Tstat, le32(fid), ninep.Rstat)
	st, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		c.t.Fatalf("Malformed Rstat entry: %v", err)
	}
	c.clunk(fid)
	return st
}

// rename changes the last path segment via Twstat with every other field
// left untouched.
func (c *client) rename(newName string, names ...string) {
	c.t.Helper()

	fid := c.mustWalk(names...)
	st := &ninep.Stat{}
	st.DontTouch()
	st.Name = newName
	c.must(ninep.Twstat, wstatBody(c.t, fid, st), ninep.Rwstat)
	c.clunk(fid)
}

// remove deletes the node at the path. The fid is clunked by the server
// whether or not the remove succeeds.
func (c *client) remove(names ...string) {
	c.t.Helper()

	fid := c.mustWalk(names...)
	c.must(ninep.Tremove, le32(fid), ninep.Rremove)
}

// callFunc invokes a call directory: write the YAML arguments to its call
// file, let the clunk run the function, then read the result back.
func (c *client) callFunc(args string, names ...string) string {
	c.t.Helper()

	callPath := append(append([]string{}, names...), "call")
	c.writeFile(args, callPath...)
	return c.readFile(callPath...)
}

// Raw little-endian builders, independent of the protocol package encoders.

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func lestr(s string) []byte {
	return append(le16(uint16(len(s))), s...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func attachBody(fid, afid uint32, uname, aname string) []byte {
	return cat(le32(fid), le32(afid), lestr(uname), lestr(aname))
}

func walkBody(fid, newfid uint32, names ...string) []byte {
	body := cat(le32(fid), le32(newfid), le16(uint16(len(names))))
	for _, name := range names {
		body = append(body, lestr(name)...)
	}
	return body
}

func openBody(fid uint32, mode uint8) []byte {
	return append(le32(fid), mode)
}

func createBody(fid uint32, name string, perm uint32, mode uint8) []byte {
	return append(cat(le32(fid), lestr(name), le32(perm)), mode)
}

func readBody(fid uint32, offset uint64, count uint32) []byte {
	return cat(le32(fid), le64(offset), le32(count))
}

func writeBody(fid uint32, offset uint64, data []byte) []byte {
	return cat(le32(fid), le64(offset), le32(uint32(len(data))), data)
}

func wstatBody(t *testing.T, fid uint32, st *ninep.Stat) []byte {
	t.Helper()

	entry, err := st.Encode()
	if err != nil {
		t.Fatalf("Failed to encode wstat entry: %v", err)
	}
	return cat(le32(fid), le16(uint16(len(entry))), entry)
}

func parseString(t *testing.T, b []byte, off int) string {
	t.Helper()

	if off+2 > len(b) {
		t.Fatalf("String length out of bounds at offset %d", off)
	}
	n := int(binary.LittleEndian.Uint16(b[off:]))
	if off+2+n > len(b) {
		t.Fatalf("String body out of bounds at offset %d", off)
	}
	return string(b[off+2 : off+2+n])
}

// parseEntries decodes a packed directory listing into stats.
func parseEntries(t *testing.T, data []byte) []*ninep.Stat {
	t.Helper()

	var stats []*ninep.Stat
	off := 0
	for off < len(data) {
		stat, consumed, err := ninep.DecodeStat(data[off:])
		if err != nil {
			t.Fatalf("Malformed directory entry at offset %d: %v", off, err)
		}
		stats = append(stats, stat)
		off += consumed
	}
	return stats
}
