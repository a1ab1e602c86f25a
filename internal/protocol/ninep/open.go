package ninep

import "fmt"

// OpenRequest is a Topen: prepare an existing fid for reads or writes.
// Mode combines an access class (OREAD, OWRITE, ORDWR, OEXEC) with
// optional OTRUNC and ORCLOSE bits.
type OpenRequest struct {
	Fid  uint32
	Mode uint8
}

// OpenResponse returns the opened file's qid and the iounit, the
// largest payload guaranteed to move in a single read or write.
type OpenResponse struct {
	Qid    Qid
	IOUnit uint32
}

func DecodeOpenRequest(data []byte) (*OpenRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("open fid: %w", err)
	}

	mode, err := readUint8(r)
	if err != nil {
		return nil, fmt.Errorf("open mode: %w", err)
	}

	return &OpenRequest{Fid: fid, Mode: mode}, nil
}

func (resp *OpenResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	resp.Qid.encode(body)
	putUint32(body, resp.IOUnit)
	return encodeMessage(Ropen, tag, body.Bytes()), nil
}

// AccessClass extracts the access bits from an open mode.
func AccessClass(mode uint8) uint8 {
	return mode & openAccessMask
}

// WantsWrite reports whether an open mode requests write access.
func WantsWrite(mode uint8) bool {
	class := AccessClass(mode)
	return class == OWRITE || class == ORDWR
}

// WantsRead reports whether an open mode requests read access.
func WantsRead(mode uint8) bool {
	class := AccessClass(mode)
	return class == OREAD || class == ORDWR || class == OEXEC
}
