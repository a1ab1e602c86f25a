package ninep

import (
	"bytes"
	"fmt"
)

// QidSize is the wire size of a qid: type[1] version[4] path[8].
const QidSize = 13

// Qid is the server's unique identification of a file. Path is stable
// for the life of the file, Version increments on every modification,
// and Type mirrors the high bits of the file mode.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

func (q Qid) encode(buf *bytes.Buffer) {
	putUint8(buf, q.Type)
	putUint32(buf, q.Version)
	putUint64(buf, q.Path)
}

func decodeQid(r *bytes.Reader) (Qid, error) {
	var q Qid
	var err error

	if q.Type, err = readUint8(r); err != nil {
		return Qid{}, fmt.Errorf("qid type: %w", err)
	}
	if q.Version, err = readUint32(r); err != nil {
		return Qid{}, fmt.Errorf("qid version: %w", err)
	}
	if q.Path, err = readUint64(r); err != nil {
		return Qid{}, fmt.Errorf("qid path: %w", err)
	}

	return q, nil
}

func (q Qid) String() string {
	return fmt.Sprintf("(%016x %d %#x)", q.Path, q.Version, q.Type)
}

// IsDir reports whether the qid identifies a directory.
func (q Qid) IsDir() bool {
	return q.Type&QTDIR != 0
}

// Stat is the machine-independent directory entry defined in stat(5).
// It describes one file: identity, mode, timestamps, length and the
// three ownership strings. Muid is the user who last modified the file.
type Stat struct {
	Type   uint16
	Dev    uint32
	Qid    Qid
	Mode   uint32
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	UID    string
	GID    string
	MUID   string
}

// wireSize returns the encoded size of the entry excluding its own
// leading size[2] field, which is the value that field carries.
func (s *Stat) wireSize() int {
	return 2 + 4 + QidSize + 4 + 4 + 4 + 8 +
		stringSize(s.Name) + stringSize(s.UID) + stringSize(s.GID) + stringSize(s.MUID)
}

// Encode serializes the entry in directory-read form: size[2] followed
// by the fields. Rstat and Twstat wrap this with one more 2-byte count;
// see StatResponse.Encode and DecodeWStatRequest.
func (s *Stat) Encode() ([]byte, error) {
	var buf bytes.Buffer

	putUint16(&buf, uint16(s.wireSize()))
	putUint16(&buf, s.Type)
	putUint32(&buf, s.Dev)
	s.Qid.encode(&buf)
	putUint32(&buf, s.Mode)
	putUint32(&buf, s.Atime)
	putUint32(&buf, s.Mtime)
	putUint64(&buf, s.Length)

	for _, str := range []string{s.Name, s.UID, s.GID, s.MUID} {
		if err := putString(&buf, str); err != nil {
			return nil, fmt.Errorf("encode stat: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeStat parses one stat entry from data and returns it together
// with the number of bytes consumed, so callers can walk a packed
// directory listing entry by entry.
func DecodeStat(data []byte) (*Stat, int, error) {
	r := bytes.NewReader(data)

	size, err := readUint16(r)
	if err != nil {
		return nil, 0, fmt.Errorf("stat size: %w", err)
	}
	if int(size) > r.Len() {
		return nil, 0, fmt.Errorf("stat size %d exceeds remaining %d bytes", size, r.Len())
	}

	s := &Stat{}
	if s.Type, err = readUint16(r); err != nil {
		return nil, 0, fmt.Errorf("stat type: %w", err)
	}
	if s.Dev, err = readUint32(r); err != nil {
		return nil, 0, fmt.Errorf("stat dev: %w", err)
	}
	if s.Qid, err = decodeQid(r); err != nil {
		return nil, 0, fmt.Errorf("stat qid: %w", err)
	}
	if s.Mode, err = readUint32(r); err != nil {
		return nil, 0, fmt.Errorf("stat mode: %w", err)
	}
	if s.Atime, err = readUint32(r); err != nil {
		return nil, 0, fmt.Errorf("stat atime: %w", err)
	}
	if s.Mtime, err = readUint32(r); err != nil {
		return nil, 0, fmt.Errorf("stat mtime: %w", err)
	}
	if s.Length, err = readUint64(r); err != nil {
		return nil, 0, fmt.Errorf("stat length: %w", err)
	}
	if s.Name, err = readString(r); err != nil {
		return nil, 0, fmt.Errorf("stat name: %w", err)
	}
	if s.UID, err = readString(r); err != nil {
		return nil, 0, fmt.Errorf("stat uid: %w", err)
	}
	if s.GID, err = readString(r); err != nil {
		return nil, 0, fmt.Errorf("stat gid: %w", err)
	}
	if s.MUID, err = readString(r); err != nil {
		return nil, 0, fmt.Errorf("stat muid: %w", err)
	}

	return s, 2 + int(size), nil
}

// DontTouch fills a Stat with the "no change" values for Twstat: a
// wstat leaves every maximal field untouched, so a client edits only
// the fields it cares about.
func (s *Stat) DontTouch() {
	s.Type = 0xFFFF
	s.Dev = 0xFFFFFFFF
	s.Qid = Qid{Type: 0xFF, Version: 0xFFFFFFFF, Path: 0xFFFFFFFFFFFFFFFF}
	s.Mode = 0xFFFFFFFF
	s.Atime = 0xFFFFFFFF
	s.Mtime = 0xFFFFFFFF
	s.Length = 0xFFFFFFFFFFFFFFFF
	s.Name = ""
	s.UID = ""
	s.GID = ""
	s.MUID = ""
}
