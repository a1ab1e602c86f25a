package ninep

import "fmt"

// WriteRequest is a Twrite: write Data at Offset through the open fid.
type WriteRequest struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

// WriteResponse acknowledges the number of bytes written.
type WriteResponse struct {
	Count uint32
}

func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("write fid: %w", err)
	}

	offset, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("write offset: %w", err)
	}

	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("write count: %w", err)
	}

	payload, err := readBytes(r, count)
	if err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	return &WriteRequest{Fid: fid, Offset: offset, Data: payload}, nil
}

func (resp *WriteResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	putUint32(body, resp.Count)
	return encodeMessage(Rwrite, tag, body.Bytes()), nil
}
