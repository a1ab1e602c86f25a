package ninep

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ============================================================================
// Wire Primitives - Little-Endian Fields and Counted Strings
// ============================================================================
//
// 9P keeps its wire format deliberately simple: fixed-width little-endian
// integers and strings prefixed with a 2-byte length. There is no padding
// and no alignment. These helpers are shared by every per-operation codec
// file in this package.

func readUint8(r *bytes.Reader) (uint8, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read uint8: %w", err)
	}
	return b, nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read uint16: %w", err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// readString decodes a counted string: len[2] followed by len bytes of
// UTF-8. The length is validated against the remaining input so a
// corrupt count fails cleanly instead of allocating garbage.
func readString(r *bytes.Reader) (string, error) {
	length, err := readUint16(r)
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	if int(length) > r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", length, r.Len())
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("read string data: %w", err)
	}
	return string(data), nil
}

// readBytes reads exactly n bytes, validating n against the remaining
// input first.
func readBytes(r *bytes.Reader, n uint32) ([]byte, error) {
	if uint64(n) > uint64(r.Len()) {
		return nil, fmt.Errorf("byte count %d exceeds remaining %d bytes", n, r.Len())
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return data, nil
}

// Writes to a bytes.Buffer cannot fail, so the write helpers return
// nothing. The only encodable failure is a string longer than the
// 2-byte count can express, which putString reports.

func putUint8(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(v)
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string length %d exceeds wire maximum %d", len(s), math.MaxUint16)
	}

	putUint16(buf, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

// stringSize returns the encoded size of a counted string.
func stringSize(s string) int {
	return 2 + len(s)
}
