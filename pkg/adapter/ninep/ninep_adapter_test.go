package ninep

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/objectfs/internal/protocol/ninep"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// ============================================================================
// Test Helpers
// ============================================================================

// buildStorage creates a small tree for protocol tests:
//
//	/
//	└── box/
//	    ├── nested/
//	    └── port        ("5640")
func buildStorage(t *testing.T) *vfs.Storage {
	t.Helper()

	s := vfs.NewStorage()
	box, err := s.Create(s.RootID(), "box", vfs.ModeDir|0o755)
	if err != nil {
		t.Fatalf("Failed to create box: %v", err)
	}
	boxID := box.Inode().Ident()

	if _, err := s.Create(boxID, "nested", vfs.ModeDir|0o755); err != nil {
		t.Fatalf("Failed to create nested: %v", err)
	}

	port, err := s.Create(boxID, "port", 0o644)
	if err != nil {
		t.Fatalf("Failed to create port: %v", err)
	}
	portID := port.Inode().Ident()
	if _, err := s.Write(portID, []byte("5640"), 0); err != nil {
		t.Fatalf("Failed to write port: %v", err)
	}
	if err := s.Commit(portID); err != nil {
		t.Fatalf("Failed to commit port: %v", err)
	}
	return s
}

// testConn builds a connection wired to an adapter without starting the
// accept loop, so handlers can be driven through dispatch directly.
func testConn(t *testing.T, s *vfs.Storage) *NinePConnection {
	t.Helper()

	adapter := New(NinePConfig{ShutdownTimeout: time.Second}, nil)
	adapter.SetStorage(s)

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return newConnection(adapter, server)
}

// call runs one request through dispatch and parses the framed reply.
func call(t *testing.T, c *NinePConnection, msgType uint8, tag uint16, body []byte) (uint8, uint16, []byte) {
	t.Helper()

	reply, _ := c.dispatch(context.Background(), msgType, tag, body)
	if reply == nil {
		t.Fatalf("No reply for %s", ninep.MessageTypeName(msgType))
	}
	rt, rtag, rbody, err := ninep.ReadMessage(bytes.NewReader(reply), 1<<20)
	if err != nil {
		t.Fatalf("Malformed reply for %s: %v", ninep.MessageTypeName(msgType), err)
	}
	if rtag != tag {
		t.Fatalf("Reply tag %d does not match request tag %d", rtag, tag)
	}
	return rt, rtag, rbody
}

// mustCall fails the test when the reply is not the expected type. Rerror
// replies include the error string in the failure message.
func mustCall(t *testing.T, c *NinePConnection, msgType uint8, tag uint16, body []byte, want uint8) []byte {
	t.Helper()

	rt, _, rbody := call(t, c, msgType, tag, body)
	if rt != want {
		if rt == ninep.Rerror {
			t.Fatalf("%s failed: %s", ninep.MessageTypeName(msgType), parseString(t, rbody, 0))
		}
		t.Fatalf("%s returned %s, want %s",
			ninep.MessageTypeName(msgType), ninep.MessageTypeName(rt), ninep.MessageTypeName(want))
	}
	return rbody
}

// mustError expects an Rerror reply and returns its ename.
func mustError(t *testing.T, c *NinePConnection, msgType uint8, tag uint16, body []byte) string {
	t.Helper()

	rt, _, rbody := call(t, c, msgType, tag, body)
	if rt != ninep.Rerror {
		t.Fatalf("%s returned %s, want Rerror", ninep.MessageTypeName(msgType), ninep.MessageTypeName(rt))
	}
	return parseString(t, rbody, 0)
}

// negotiated returns a connection with version agreed and fid 0 attached to
// the root.
func negotiated(t *testing.T, s *vfs.Storage) *NinePConnection {
	t.Helper()

	c := testConn(t, s)
	mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")), ninep.Rversion)
	mustCall(t, c, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", ""), ninep.Rattach)
	return c
}

// walkTo binds fid to the path elements relative to fid 0 and fails on a
// partial walk.
func walkTo(t *testing.T, c *NinePConnection, fid uint32, names ...string) {
	t.Helper()

	body := mustCall(t, c, ninep.Twalk, 2, walkBody(0, fid, names...), ninep.Rwalk)
	if got := binary.LittleEndian.Uint16(body); int(got) != len(names) {
		t.Fatalf("Walk to %v returned %d qids, want %d", names, got, len(names))
	}
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

func qidAt(t *testing.T, b []byte, off int) ninep.Qid {
	t.Helper()

	if off+ninep.QidSize > len(b) {
		t.Fatalf("Qid out of bounds at offset %d", off)
	}
	return ninep.Qid{
		Type:    b[off],
		Version: binary.LittleEndian.Uint32(b[off+1:]),
		Path:    binary.LittleEndian.Uint64(b[off+5:]),
	}
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

// ============================================================================
// Configuration
// ============================================================================

func TestNewAppliesDefaults(t *testing.T) {
	adapter := New(NinePConfig{ShutdownTimeout: time.Second}, nil)

	cfg := adapter.config
	if cfg.Msize != ninep.DefaultMsize {
		t.Errorf("Default msize = %d, want %d", cfg.Msize, ninep.DefaultMsize)
	}
	if cfg.ReadTimeout != 5*time.Minute {
		t.Errorf("Default read timeout = %v, want 5m", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 30*time.Second {
		t.Errorf("Default write timeout = %v, want 30s", cfg.WriteTimeout)
	}
	if cfg.ShutdownTimeout != time.Second {
		t.Errorf("Explicit shutdown timeout overridden: %v", cfg.ShutdownTimeout)
	}
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for negative ReadTimeout, got none")
		}
	}()
	New(NinePConfig{ReadTimeout: -time.Second}, nil)
}

func TestNewDerivesBurstFromRate(t *testing.T) {
	adapter := New(NinePConfig{ShutdownTimeout: time.Second, RequestsPerSecond: 50}, nil)
	if adapter.config.Burst != 100 {
		t.Errorf("Derived burst = %d, want 100", adapter.config.Burst)
	}
	if adapter.limiter == nil {
		t.Error("Expected limiter for positive rate, got nil")
	}
}

// ============================================================================
// Version Negotiation
// ============================================================================

func TestVersionNegotiation(t *testing.T) {
	c := testConn(t, buildStorage(t))

	body := mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(1<<20), lestr("9P2000")), ninep.Rversion)
	if msize := binary.LittleEndian.Uint32(body); msize != 8192 {
		t.Errorf("Negotiated msize = %d, want clamp to 8192", msize)
	}
	if version := parseString(t, body, 4); version != "9P2000" {
		t.Errorf("Negotiated version = %q, want 9P2000", version)
	}
}

func TestVersionAcceptsSmallerMsize(t *testing.T) {
	c := testConn(t, buildStorage(t))

	body := mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(4096), lestr("9P2000.u")), ninep.Rversion)
	if msize := binary.LittleEndian.Uint32(body); msize != 4096 {
		t.Errorf("Negotiated msize = %d, want 4096", msize)
	}
	if version := parseString(t, body, 4); version != "9P2000" {
		t.Errorf("Dialect should downgrade to 9P2000, got %q", version)
	}
}

func TestVersionRejectsTinyMsize(t *testing.T) {
	c := testConn(t, buildStorage(t))
	mustError(t, c, ninep.Tversion, ninep.NoTag, cat(le32(64), lestr("9P2000")))
}

func TestVersionUnknownProtocol(t *testing.T) {
	c := testConn(t, buildStorage(t))

	body := mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P1999")), ninep.Rversion)
	if version := parseString(t, body, 4); version != "unknown" {
		t.Errorf("Unsupported protocol should answer unknown, got %q", version)
	}

	// The session is still unversioned, so everything else is refused.
	mustError(t, c, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", ""))
}

func TestDispatchBeforeVersion(t *testing.T) {
	c := testConn(t, buildStorage(t))
	mustError(t, c, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", ""))
}

func TestVersionClunksOutstandingFids(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	// Renegotiation invalidates fid 0.
	mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")), ninep.Rversion)
	mustError(t, c, ninep.Tstat, 2, le32(0))
}

// ============================================================================
// Attach
// ============================================================================

func TestAttachRoot(t *testing.T) {
	s := buildStorage(t)
	c := testConn(t, s)
	mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")), ninep.Rversion)

	body := mustCall(t, c, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", "/"), ninep.Rattach)
	qid := qidAt(t, body, 0)
	if qid.Type&ninep.QTDIR == 0 {
		t.Error("Root qid should have the directory bit")
	}
	if qid.Path != uint64(s.RootID()) {
		t.Errorf("Root qid path = %#x, want %#x", qid.Path, uint64(s.RootID()))
	}
}

func TestAttachSubtree(t *testing.T) {
	s := buildStorage(t)
	c := testConn(t, s)
	mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")), ninep.Rversion)

	box, err := s.Lookup(s.RootID(), "box")
	if err != nil {
		t.Fatalf("Lookup box: %v", err)
	}

	body := mustCall(t, c, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", "box"), ninep.Rattach)
	if qid := qidAt(t, body, 0); qid.Path != uint64(box.Ident) {
		t.Errorf("Attach qid path = %#x, want box %#x", qid.Path, uint64(box.Ident))
	}
}

func TestAttachRejectsAuth(t *testing.T) {
	c := testConn(t, buildStorage(t))
	mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")), ninep.Rversion)

	mustError(t, c, ninep.Tattach, 1, attachBody(0, 7, "glenda", ""))
	mustError(t, c, ninep.Tauth, 2, cat(le32(7), lestr("glenda"), lestr("")))
}

func TestAttachDuplicateFid(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	mustError(t, c, ninep.Tattach, 2, attachBody(0, ninep.NoFid, "glenda", ""))
}

func TestAttachUnknownTree(t *testing.T) {
	c := testConn(t, buildStorage(t))
	mustCall(t, c, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")), ninep.Rversion)
	mustError(t, c, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", "no/such/tree"))
}

// ============================================================================
// Walk
// ============================================================================

func TestWalkFull(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	body := mustCall(t, c, ninep.Twalk, 2, walkBody(0, 1, "box", "port"), ninep.Rwalk)
	if n := binary.LittleEndian.Uint16(body); n != 2 {
		t.Fatalf("Walk returned %d qids, want 2", n)
	}

	box, err := s.Lookup(s.RootID(), "box")
	if err != nil {
		t.Fatalf("Lookup box: %v", err)
	}
	port, err := s.Lookup(box.Ident, "port")
	if err != nil {
		t.Fatalf("Lookup port: %v", err)
	}

	last := qidAt(t, body, 2+ninep.QidSize)
	if last.Path != uint64(port.Ident) {
		t.Errorf("Final qid path = %#x, want %#x", last.Path, uint64(port.Ident))
	}
	if last.Type&ninep.QTDIR != 0 {
		t.Error("File qid should not have the directory bit")
	}

	// The new fid is bound and usable.
	mustCall(t, c, ninep.Tstat, 3, le32(1), ninep.Rstat)
}

func TestWalkClone(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	body := mustCall(t, c, ninep.Twalk, 2, walkBody(0, 1), ninep.Rwalk)
	if n := binary.LittleEndian.Uint16(body); n != 0 {
		t.Fatalf("Clone walk returned %d qids, want 0", n)
	}
	mustCall(t, c, ninep.Tstat, 3, le32(1), ninep.Rstat)
}

func TestWalkDotDot(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	body := mustCall(t, c, ninep.Twalk, 2, walkBody(0, 1, "box", ".."), ninep.Rwalk)
	if n := binary.LittleEndian.Uint16(body); n != 2 {
		t.Fatalf("Walk returned %d qids, want 2", n)
	}
	if qid := qidAt(t, body, 2+ninep.QidSize); qid.Path != uint64(s.RootID()) {
		t.Errorf("Walking .. from box should land on the root, got %#x", qid.Path)
	}
}

func TestWalkPartial(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	body := mustCall(t, c, ninep.Twalk, 2, walkBody(0, 1, "box", "missing"), ninep.Rwalk)
	if n := binary.LittleEndian.Uint16(body); n != 1 {
		t.Fatalf("Partial walk returned %d qids, want 1", n)
	}

	// A partial walk does not bind the new fid.
	mustError(t, c, ninep.Tstat, 3, le32(1))
}

func TestWalkThroughFile(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	body := mustCall(t, c, ninep.Twalk, 2, walkBody(0, 1, "box", "port", "beyond"), ninep.Rwalk)
	if n := binary.LittleEndian.Uint16(body); n != 2 {
		t.Fatalf("Walk through a file returned %d qids, want 2", n)
	}
	mustError(t, c, ninep.Tstat, 3, le32(1))
}

func TestWalkFirstElementFails(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	mustError(t, c, ninep.Twalk, 2, walkBody(0, 1, "missing"))
}

func TestWalkFromOpenFid(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box", "port")
	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OREAD), ninep.Ropen)
	mustError(t, c, ninep.Twalk, 4, walkBody(1, 2))
}

func TestWalkDuplicateNewFid(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	mustError(t, c, ninep.Twalk, 3, walkBody(0, 1, "box"))
}

func TestWalkUnknownFid(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	mustError(t, c, ninep.Twalk, 2, walkBody(99, 1, "box"))
}

// ============================================================================
// Open, Read, Write
// ============================================================================

func TestOpenReadWrite(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	walkTo(t, c, 1, "box", "port")

	body := mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.ORDWR), ninep.Ropen)
	iounit := binary.LittleEndian.Uint32(body[ninep.QidSize:])
	if want := uint32(8192 - ninep.IOHeaderSize); iounit != want {
		t.Errorf("iounit = %d, want %d", iounit, want)
	}

	body = mustCall(t, c, ninep.Tread, 4, readBody(1, 0, 128), ninep.Rread)
	if got := string(body[4:]); got != "5640" {
		t.Errorf("Read = %q, want 5640", got)
	}

	body = mustCall(t, c, ninep.Twrite, 5, writeBody(1, 0, []byte("9999")), ninep.Rwrite)
	if count := binary.LittleEndian.Uint32(body); count != 4 {
		t.Errorf("Write count = %d, want 4", count)
	}

	body = mustCall(t, c, ninep.Tread, 6, readBody(1, 0, 128), ninep.Rread)
	if got := string(body[4:]); got != "9999" {
		t.Errorf("Read after write = %q, want 9999", got)
	}

	// Partial read at an offset.
	body = mustCall(t, c, ninep.Tread, 7, readBody(1, 1, 2), ninep.Rread)
	if got := string(body[4:]); got != "99" {
		t.Errorf("Offset read = %q, want 99", got)
	}

	mustCall(t, c, ninep.Tclunk, 8, le32(1), ninep.Rclunk)
}

func TestOpenTruncate(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)
	walkTo(t, c, 1, "box", "port")

	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OWRITE|ninep.OTRUNC), ninep.Ropen)

	body := mustCall(t, c, ninep.Tstat, 4, le32(1), ninep.Rstat)
	stat, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		t.Fatalf("Malformed stat: %v", err)
	}
	if stat.Length != 0 {
		t.Errorf("Length after truncate = %d, want 0", stat.Length)
	}
}

func TestOpenRules(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	// Directories refuse write and truncate opens.
	walkTo(t, c, 1, "box")
	mustError(t, c, ninep.Topen, 3, openBody(1, ninep.OWRITE))
	mustError(t, c, ninep.Topen, 4, openBody(1, ninep.OREAD|ninep.OTRUNC))

	// Double open is refused.
	mustCall(t, c, ninep.Topen, 5, openBody(1, ninep.OREAD), ninep.Ropen)
	mustError(t, c, ninep.Topen, 6, openBody(1, ninep.OREAD))
}

func TestReadRequiresOpenForReading(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box", "port")
	mustError(t, c, ninep.Tread, 3, readBody(1, 0, 64))

	mustCall(t, c, ninep.Topen, 4, openBody(1, ninep.OWRITE), ninep.Ropen)
	mustError(t, c, ninep.Tread, 5, readBody(1, 0, 64))
}

func TestWriteRequiresOpenForWriting(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box", "port")
	mustError(t, c, ninep.Twrite, 3, writeBody(1, 0, []byte("x")))

	mustCall(t, c, ninep.Topen, 4, openBody(1, ninep.OREAD), ninep.Ropen)
	mustError(t, c, ninep.Twrite, 5, writeBody(1, 0, []byte("x")))
}

func TestClunkCommitsWrites(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	walkTo(t, c, 1, "box", "port")
	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OWRITE|ninep.OTRUNC), ninep.Ropen)
	mustCall(t, c, ninep.Twrite, 4, writeBody(1, 0, []byte("committed")), ninep.Rwrite)
	mustCall(t, c, ninep.Tclunk, 5, le32(1), ninep.Rclunk)

	box, err := s.Lookup(s.RootID(), "box")
	if err != nil {
		t.Fatalf("Lookup box: %v", err)
	}
	port, err := s.Lookup(box.Ident, "port")
	if err != nil {
		t.Fatalf("Lookup port: %v", err)
	}
	data, err := s.Read(port.Ident, 64, 0)
	if err != nil {
		t.Fatalf("Read port: %v", err)
	}
	if string(data) != "committed" {
		t.Errorf("Content after clunk = %q, want committed", data)
	}
}

// ============================================================================
// Directory Reads
// ============================================================================

func TestDirectoryRead(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OREAD), ninep.Ropen)

	body := mustCall(t, c, ninep.Tread, 4, readBody(1, 0, 8192), ninep.Rread)
	stats := parseEntries(t, body[4:])
	if len(stats) != 2 {
		t.Fatalf("Directory has %d entries, want 2", len(stats))
	}
	if stats[0].Name != "nested" || stats[1].Name != "port" {
		t.Errorf("Entries = %q, %q; want nested, port", stats[0].Name, stats[1].Name)
	}
	if stats[0].Mode&ninep.DMDIR == 0 {
		t.Error("nested should carry DMDIR")
	}
	if stats[1].Mode&ninep.DMDIR != 0 {
		t.Error("port should not carry DMDIR")
	}

	// Reading past the end returns zero bytes.
	offset := uint64(len(body) - 4)
	body = mustCall(t, c, ninep.Tread, 5, readBody(1, offset, 8192), ninep.Rread)
	if count := binary.LittleEndian.Uint32(body); count != 0 {
		t.Errorf("Read past end returned %d bytes, want 0", count)
	}
}

func TestDirectoryReadSequential(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OREAD), ninep.Ropen)

	// Learn the first entry's wire size from a full listing.
	full := mustCall(t, c, ninep.Tread, 4, readBody(1, 0, 8192), ninep.Rread)
	_, firstLen, err := ninep.DecodeStat(full[4:])
	if err != nil {
		t.Fatalf("Malformed first entry: %v", err)
	}

	// A count that fits only the first entry yields exactly that entry;
	// rewinding to zero restarts the listing.
	first := mustCall(t, c, ninep.Tread, 5, readBody(1, 0, uint32(firstLen)+1), ninep.Rread)
	stats := parseEntries(t, first[4:])
	if len(stats) != 1 || stats[0].Name != "nested" {
		t.Fatalf("Short read returned %d entries, want just nested", len(stats))
	}

	offset := uint64(len(first) - 4)
	second := mustCall(t, c, ninep.Tread, 6, readBody(1, offset, 8192), ninep.Rread)
	stats = parseEntries(t, second[4:])
	if len(stats) != 1 || stats[0].Name != "port" {
		t.Fatalf("Second read should continue with port, got %d entries", len(stats))
	}
}

func TestDirectoryReadBadOffset(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OREAD), ninep.Ropen)
	mustCall(t, c, ninep.Tread, 4, readBody(1, 0, 8192), ninep.Rread)

	ename := mustError(t, c, ninep.Tread, 5, readBody(1, 3, 8192))
	if ename != "bad offset in directory read" {
		t.Errorf("ename = %q, want bad offset in directory read", ename)
	}
}

// ============================================================================
// Create and Remove
// ============================================================================

func TestCreateFile(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	walkTo(t, c, 1, "box")
	body := mustCall(t, c, ninep.Tcreate, 3, createBody(1, "notes", 0o644, ninep.OWRITE), ninep.Rcreate)
	if qid := qidAt(t, body, 0); qid.Type&ninep.QTDIR != 0 {
		t.Error("Created file qid should not have the directory bit")
	}

	// The fid moved onto the new file, already open for writing.
	mustCall(t, c, ninep.Twrite, 4, writeBody(1, 0, []byte("hi")), ninep.Rwrite)
	mustCall(t, c, ninep.Tclunk, 5, le32(1), ninep.Rclunk)

	box, err := s.Lookup(s.RootID(), "box")
	if err != nil {
		t.Fatalf("Lookup box: %v", err)
	}
	if _, err := s.Lookup(box.Ident, "notes"); err != nil {
		t.Errorf("Created file not found: %v", err)
	}
}

func TestCreateDirectory(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	body := mustCall(t, c, ninep.Tcreate, 3, createBody(1, "sub", ninep.DMDIR|0o755, ninep.OREAD), ninep.Rcreate)
	if qid := qidAt(t, body, 0); qid.Type&ninep.QTDIR == 0 {
		t.Error("Created directory qid should have the directory bit")
	}

	// Directories cannot be created open for writing.
	walkTo(t, c, 2, "box")
	mustError(t, c, ninep.Tcreate, 4, createBody(2, "sub2", ninep.DMDIR|0o755, ninep.OWRITE))
}

func TestCreateRejectsSymlink(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	ename := mustError(t, c, ninep.Tcreate, 3, createBody(1, "link", ninep.DMSYMLINK|0o644, ninep.OREAD))
	if ename != "symlink creation not supported" {
		t.Errorf("ename = %q", ename)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	mustError(t, c, ninep.Tcreate, 3, createBody(1, "port", 0o644, ninep.OWRITE))
}

func TestRemove(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	walkTo(t, c, 1, "box", "port")
	mustCall(t, c, ninep.Tremove, 3, le32(1), ninep.Rremove)

	// The fid is gone and so is the file.
	mustError(t, c, ninep.Tstat, 4, le32(1))
	body := mustCall(t, c, ninep.Twalk, 5, walkBody(0, 1, "box", "port"), ninep.Rwalk)
	if n := binary.LittleEndian.Uint16(body); n != 1 {
		t.Errorf("Walk after remove returned %d qids, want partial 1", n)
	}
}

func TestRemoveOnClose(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)

	walkTo(t, c, 1, "box", "port")
	mustCall(t, c, ninep.Topen, 3, openBody(1, ninep.OREAD|ninep.ORCLOSE), ninep.Ropen)
	mustCall(t, c, ninep.Tclunk, 4, le32(1), ninep.Rclunk)

	box, err := s.Lookup(s.RootID(), "box")
	if err != nil {
		t.Fatalf("Lookup box: %v", err)
	}
	if _, err := s.Lookup(box.Ident, "port"); err == nil {
		t.Error("ORCLOSE file should be removed on clunk")
	}
}

func TestClunkInvalidatesFid(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box")
	mustCall(t, c, ninep.Tclunk, 3, le32(1), ninep.Rclunk)
	mustError(t, c, ninep.Tclunk, 4, le32(1))
}

// ============================================================================
// Stat and WStat
// ============================================================================

func TestStat(t *testing.T) {
	c := negotiated(t, buildStorage(t))

	walkTo(t, c, 1, "box", "port")
	body := mustCall(t, c, ninep.Tstat, 3, le32(1), ninep.Rstat)

	// Rstat carries a redundant length prefix before the entry.
	if n := binary.LittleEndian.Uint16(body); int(n) != len(body)-2 {
		t.Fatalf("Rstat nstat = %d, body holds %d", n, len(body)-2)
	}
	stat, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		t.Fatalf("Malformed stat: %v", err)
	}
	if stat.Name != "port" {
		t.Errorf("Name = %q, want port", stat.Name)
	}
	if stat.Length != 4 {
		t.Errorf("Length = %d, want 4", stat.Length)
	}
	if stat.Mode != 0o644 {
		t.Errorf("Mode = %#o, want 0644", stat.Mode)
	}
	if stat.Qid.Type&ninep.QTDIR != 0 {
		t.Error("File stat qid should not have the directory bit")
	}
}

func TestWStatRename(t *testing.T) {
	s := buildStorage(t)
	c := negotiated(t, s)
	walkTo(t, c, 1, "box", "port")

	st := &ninep.Stat{}
	st.DontTouch()
	st.Name = "gateway"
	mustCall(t, c, ninep.Twstat, 3, wstatBody(t, 1, st), ninep.Rwstat)

	// The fid follows the renamed file.
	body := mustCall(t, c, ninep.Tstat, 4, le32(1), ninep.Rstat)
	stat, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		t.Fatalf("Malformed stat: %v", err)
	}
	if stat.Name != "gateway" {
		t.Errorf("Name after rename = %q, want gateway", stat.Name)
	}

	box, err := s.Lookup(s.RootID(), "box")
	if err != nil {
		t.Fatalf("Lookup box: %v", err)
	}
	if _, err := s.Lookup(box.Ident, "gateway"); err != nil {
		t.Errorf("Renamed file not found: %v", err)
	}
	if _, err := s.Lookup(box.Ident, "port"); err == nil {
		t.Error("Old name still resolves after rename")
	}
}

func TestWStatChmod(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	walkTo(t, c, 1, "box", "port")

	st := &ninep.Stat{}
	st.DontTouch()
	st.Mode = 0o600
	mustCall(t, c, ninep.Twstat, 3, wstatBody(t, 1, st), ninep.Rwstat)

	body := mustCall(t, c, ninep.Tstat, 4, le32(1), ninep.Rstat)
	stat, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		t.Fatalf("Malformed stat: %v", err)
	}
	if stat.Mode != 0o600 {
		t.Errorf("Mode = %#o, want 0600", stat.Mode)
	}
}

func TestWStatMtime(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	walkTo(t, c, 1, "box", "port")

	st := &ninep.Stat{}
	st.DontTouch()
	st.Mtime = 12345
	mustCall(t, c, ninep.Twstat, 3, wstatBody(t, 1, st), ninep.Rwstat)

	body := mustCall(t, c, ninep.Tstat, 4, le32(1), ninep.Rstat)
	stat, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		t.Fatalf("Malformed stat: %v", err)
	}
	if stat.Mtime != 12345 {
		t.Errorf("Mtime = %d, want 12345", stat.Mtime)
	}
}

func TestWStatTruncate(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	walkTo(t, c, 1, "box", "port")

	st := &ninep.Stat{}
	st.DontTouch()
	st.Length = 0
	mustCall(t, c, ninep.Twstat, 3, wstatBody(t, 1, st), ninep.Rwstat)

	body := mustCall(t, c, ninep.Tstat, 4, le32(1), ninep.Rstat)
	stat, _, err := ninep.DecodeStat(body[2:])
	if err != nil {
		t.Fatalf("Malformed stat: %v", err)
	}
	if stat.Length != 0 {
		t.Errorf("Length after wstat truncate = %d, want 0", stat.Length)
	}
}

func TestWStatRejectsResize(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	walkTo(t, c, 1, "box", "port")

	st := &ninep.Stat{}
	st.DontTouch()
	st.Length = 42
	mustError(t, c, ninep.Twstat, 3, wstatBody(t, 1, st))
}

func TestWStatAllDontTouchIsSync(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	walkTo(t, c, 1, "box", "port")

	st := &ninep.Stat{}
	st.DontTouch()
	mustCall(t, c, ninep.Twstat, 3, wstatBody(t, 1, st), ninep.Rwstat)
}

// ============================================================================
// Flush and Unknown Messages
// ============================================================================

func TestFlush(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	mustCall(t, c, ninep.Tflush, 2, le16(1), ninep.Rflush)
}

func TestUnknownMessageType(t *testing.T) {
	c := negotiated(t, buildStorage(t))
	mustError(t, c, 90, 2, nil)
}

// ============================================================================
// Adapter Lifecycle
// ============================================================================

// dialAdapter connects to a serving adapter's TCP port.
func dialAdapter(t *testing.T, adapter *NinePAdapter) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", net.JoinHostPort("localhost", strconv.Itoa(adapter.Port())))
	if err != nil {
		t.Fatalf("Failed to connect to adapter: %v", err)
	}
	return conn
}

// startAdapter serves an adapter on an OS-assigned port and waits for the
// listener to come up.
func startAdapter(t *testing.T, cfg NinePConfig) (*NinePAdapter, context.CancelFunc, chan error) {
	t.Helper()

	cfg.Port = 0
	adapter := New(cfg, nil)
	adapter.SetStorage(buildStorage(t))

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- adapter.Serve(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for adapter.Port() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Listener did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return adapter, cancel, serverDone
}

func TestServeRequiresStorage(t *testing.T) {
	adapter := New(NinePConfig{ShutdownTimeout: time.Second}, nil)
	if err := adapter.Serve(context.Background()); err == nil {
		t.Error("Serve without storage should fail")
	}
}

func TestGracefulShutdownForcesIdleConnections(t *testing.T) {
	adapter, cancel, serverDone := startAdapter(t, NinePConfig{ShutdownTimeout: 500 * time.Millisecond})

	conn := dialAdapter(t, adapter)
	defer conn.Close()

	time.Sleep(100 * time.Millisecond)
	if adapter.GetActiveConnections() != 1 {
		t.Errorf("Expected 1 active connection, got %d", adapter.GetActiveConnections())
	}

	shutdownStart := time.Now()
	cancel()
	err := <-serverDone
	if d := time.Since(shutdownStart); d > 3*time.Second {
		t.Errorf("Shutdown took too long: %v", d)
	}
	if err == nil {
		t.Error("Expected force-close error from shutdown with idle connection, got nil")
	}
}

func TestDrainMode(t *testing.T) {
	adapter, cancel, serverDone := startAdapter(t, NinePConfig{ShutdownTimeout: 2 * time.Second})

	conn := dialAdapter(t, adapter)
	defer conn.Close()

	cancel()
	time.Sleep(100 * time.Millisecond)

	if _, err := net.Dial("tcp", net.JoinHostPort("localhost", strconv.Itoa(adapter.Port()))); err == nil {
		t.Error("New connection succeeded during shutdown, expected refusal")
	}
	<-serverDone
}

func TestConnectionTracking(t *testing.T) {
	adapter, cancel, serverDone := startAdapter(t, NinePConfig{ShutdownTimeout: time.Second})
	defer func() {
		cancel()
		<-serverDone
	}()

	if adapter.GetActiveConnections() != 0 {
		t.Errorf("Expected 0 active connections initially, got %d", adapter.GetActiveConnections())
	}

	var conns []net.Conn
	for i := 1; i <= 3; i++ {
		conns = append(conns, dialAdapter(t, adapter))
		time.Sleep(50 * time.Millisecond)
		if got := adapter.GetActiveConnections(); got != int32(i) {
			t.Errorf("Expected %d active connections, got %d", i, got)
		}
	}

	for i, conn := range conns {
		conn.Close()
		time.Sleep(50 * time.Millisecond)
		if got, want := adapter.GetActiveConnections(), int32(len(conns)-i-1); got != want {
			t.Errorf("Expected %d active connections after closing %d, got %d", want, i+1, got)
		}
	}
}

func TestConcurrentStop(t *testing.T) {
	adapter, cancel, serverDone := startAdapter(t, NinePConfig{ShutdownTimeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer stopCancel()
			_ = adapter.Stop(stopCtx)
		}()
	}
	cancel()
	wg.Wait()
	<-serverDone
}

// ============================================================================
// Full Sessions over TCP
// ============================================================================

// sendFrame writes one framed message on a live connection.
func sendFrame(t *testing.T, conn net.Conn, msgType uint8, tag uint16, body []byte) {
	t.Helper()

	frame := cat(le32(uint32(ninep.HeaderSize+len(body))), []byte{msgType}, le16(tag), body)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("Failed to write %s: %v", ninep.MessageTypeName(msgType), err)
	}
}

// recvFrame reads one framed reply off a live connection.
func recvFrame(t *testing.T, conn net.Conn) (uint8, uint16, []byte) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	rt, rtag, rbody, err := ninep.ReadMessage(conn, 1<<20)
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	return rt, rtag, rbody
}

func TestSessionOverTCP(t *testing.T) {
	adapter, cancel, serverDone := startAdapter(t, NinePConfig{ShutdownTimeout: time.Second})
	defer func() {
		cancel()
		<-serverDone
	}()

	conn := dialAdapter(t, adapter)
	defer conn.Close()

	sendFrame(t, conn, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")))
	rt, _, _ := recvFrame(t, conn)
	if rt != ninep.Rversion {
		t.Fatalf("Expected Rversion, got %s", ninep.MessageTypeName(rt))
	}

	sendFrame(t, conn, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", ""))
	rt, _, _ = recvFrame(t, conn)
	if rt != ninep.Rattach {
		t.Fatalf("Expected Rattach, got %s", ninep.MessageTypeName(rt))
	}

	sendFrame(t, conn, ninep.Twalk, 2, walkBody(0, 1, "box", "port"))
	rt, _, body := recvFrame(t, conn)
	if rt != ninep.Rwalk {
		t.Fatalf("Expected Rwalk, got %s", ninep.MessageTypeName(rt))
	}
	if n := binary.LittleEndian.Uint16(body); n != 2 {
		t.Fatalf("Walk returned %d qids, want 2", n)
	}

	sendFrame(t, conn, ninep.Topen, 3, openBody(1, ninep.OREAD))
	rt, _, _ = recvFrame(t, conn)
	if rt != ninep.Ropen {
		t.Fatalf("Expected Ropen, got %s", ninep.MessageTypeName(rt))
	}

	sendFrame(t, conn, ninep.Tread, 4, readBody(1, 0, 64))
	rt, _, body = recvFrame(t, conn)
	if rt != ninep.Rread {
		t.Fatalf("Expected Rread, got %s", ninep.MessageTypeName(rt))
	}
	if got := string(body[4:]); got != "5640" {
		t.Errorf("Read over TCP = %q, want 5640", got)
	}

	sendFrame(t, conn, ninep.Tclunk, 5, le32(1))
	rt, _, _ = recvFrame(t, conn)
	if rt != ninep.Rclunk {
		t.Fatalf("Expected Rclunk, got %s", ninep.MessageTypeName(rt))
	}
}

func TestRateLimitOverTCP(t *testing.T) {
	adapter, cancel, serverDone := startAdapter(t, NinePConfig{
		ShutdownTimeout:   time.Second,
		RequestsPerSecond: 1,
		Burst:             1,
	})
	defer func() {
		cancel()
		<-serverDone
	}()

	conn := dialAdapter(t, adapter)
	defer conn.Close()

	sendFrame(t, conn, ninep.Tversion, ninep.NoTag, cat(le32(8192), lestr("9P2000")))
	rt, _, _ := recvFrame(t, conn)
	if rt != ninep.Rversion {
		t.Fatalf("Expected Rversion, got %s", ninep.MessageTypeName(rt))
	}

	// The burst is spent; the next request bounces without dropping the
	// connection.
	sendFrame(t, conn, ninep.Tattach, 1, attachBody(0, ninep.NoFid, "glenda", ""))
	rt, _, body := recvFrame(t, conn)
	if rt != ninep.Rerror {
		t.Fatalf("Expected Rerror under rate limit, got %s", ninep.MessageTypeName(rt))
	}
	if ename := parseString(t, body, 0); ename != "too many requests" {
		t.Errorf("ename = %q, want too many requests", ename)
	}
}
