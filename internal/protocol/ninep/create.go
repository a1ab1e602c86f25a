package ninep

import "fmt"

// CreateRequest is a Tcreate: create Name in the directory referenced
// by Fid, then open it with Mode. Perm carries Unix permission bits
// plus DMDIR when creating a directory. On success the fid moves to
// the new file.
type CreateRequest struct {
	Fid  uint32
	Name string
	Perm uint32
	Mode uint8
}

// CreateResponse mirrors OpenResponse for the newly created file.
type CreateResponse struct {
	Qid    Qid
	IOUnit uint32
}

func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("create fid: %w", err)
	}

	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("create name: %w", err)
	}

	perm, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("create perm: %w", err)
	}

	mode, err := readUint8(r)
	if err != nil {
		return nil, fmt.Errorf("create mode: %w", err)
	}

	return &CreateRequest{Fid: fid, Name: name, Perm: perm, Mode: mode}, nil
}

func (resp *CreateResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	resp.Qid.encode(body)
	putUint32(body, resp.IOUnit)
	return encodeMessage(Rcreate, tag, body.Bytes()), nil
}
