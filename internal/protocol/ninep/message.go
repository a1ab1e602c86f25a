package ninep

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ReadMessage reads one framed message from r and returns its type,
// tag and body (the bytes after the common header). maxSize bounds the
// accepted frame length; it should be the negotiated msize, or
// DefaultMsize before negotiation completes.
//
// The size prefix is validated before any allocation so a malicious
// frame cannot force a huge buffer.
func ReadMessage(r io.Reader, maxSize uint32) (msgType uint8, tag uint16, body []byte, err error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return 0, 0, nil, err
	}

	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size < HeaderSize {
		return 0, 0, nil, fmt.Errorf("message size %d below minimum %d", size, HeaderSize)
	}
	if size > maxSize {
		return 0, 0, nil, fmt.Errorf("message size %d exceeds limit %d", size, maxSize)
	}

	rest := make([]byte, size-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return 0, 0, nil, fmt.Errorf("read message of %d bytes: %w", size, err)
	}

	msgType = rest[0]
	tag = binary.LittleEndian.Uint16(rest[1:3])
	return msgType, tag, rest[3:], nil
}

// encodeMessage frames a complete message: size[4] type[1] tag[2] body.
func encodeMessage(msgType uint8, tag uint16, body []byte) []byte {
	size := uint32(HeaderSize + len(body))

	msg := make([]byte, 0, size)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], size)
	msg = append(msg, b[:]...)
	msg = append(msg, msgType)
	binary.LittleEndian.PutUint16(b[:2], tag)
	msg = append(msg, b[:2]...)
	return append(msg, body...)
}

// MessageTypeName returns the symbolic name of a message type for
// logging. Unknown values render as their number.
func MessageTypeName(msgType uint8) string {
	switch msgType {
	case Tversion:
		return "Tversion"
	case Rversion:
		return "Rversion"
	case Tauth:
		return "Tauth"
	case Rauth:
		return "Rauth"
	case Tattach:
		return "Tattach"
	case Rattach:
		return "Rattach"
	case Rerror:
		return "Rerror"
	case Tflush:
		return "Tflush"
	case Rflush:
		return "Rflush"
	case Twalk:
		return "Twalk"
	case Rwalk:
		return "Rwalk"
	case Topen:
		return "Topen"
	case Ropen:
		return "Ropen"
	case Tcreate:
		return "Tcreate"
	case Rcreate:
		return "Rcreate"
	case Tread:
		return "Tread"
	case Rread:
		return "Rread"
	case Twrite:
		return "Twrite"
	case Rwrite:
		return "Rwrite"
	case Tclunk:
		return "Tclunk"
	case Rclunk:
		return "Rclunk"
	case Tremove:
		return "Tremove"
	case Rremove:
		return "Rremove"
	case Tstat:
		return "Tstat"
	case Rstat:
		return "Rstat"
	case Twstat:
		return "Twstat"
	case Rwstat:
		return "Rwstat"
	default:
		return fmt.Sprintf("unknown(%d)", msgType)
	}
}

// bodyReader wraps a message body for field-by-field decoding.
func bodyReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}

// newBody allocates a buffer for building a message body.
func newBody() *bytes.Buffer {
	return &bytes.Buffer{}
}
