package ninep

import "fmt"

// ReadRequest is a Tread: read Count bytes at Offset from the open
// file referenced by Fid. For directories, Offset must be zero or the
// end of the previous read, and the returned data is a packed sequence
// of stat entries.
type ReadRequest struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

// ReadResponse carries the data actually read. A count shorter than
// requested is not an error; zero bytes means end of file.
type ReadResponse struct {
	Data []byte
}

func DecodeReadRequest(data []byte) (*ReadRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read fid: %w", err)
	}

	offset, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read offset: %w", err)
	}

	count, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}

	return &ReadRequest{Fid: fid, Offset: offset, Count: count}, nil
}

func (resp *ReadResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	putUint32(body, uint32(len(resp.Data)))
	body.Write(resp.Data)
	return encodeMessage(Rread, tag, body.Bytes()), nil
}
