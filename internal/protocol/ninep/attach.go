package ninep

import "fmt"

// AuthRequest is a Tauth: the client asks for an auth file to run an
// authentication protocol over. This server does not require
// authentication, so the dispatch loop answers every Tauth with an
// error, which tells the client to attach with afid set to NoFid.
type AuthRequest struct {
	Afid  uint32
	Uname string
	Aname string
}

func DecodeAuthRequest(data []byte) (*AuthRequest, error) {
	r := bodyReader(data)

	afid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("auth afid: %w", err)
	}

	uname, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("auth uname: %w", err)
	}

	aname, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("auth aname: %w", err)
	}

	return &AuthRequest{Afid: afid, Uname: uname, Aname: aname}, nil
}

// AttachRequest is a Tattach: the client establishes a fid pointing at
// the root of the tree named by Aname, identifying itself as Uname.
type AttachRequest struct {
	Fid   uint32
	Afid  uint32
	Uname string
	Aname string
}

// AttachResponse carries the qid of the attached root.
type AttachResponse struct {
	Qid Qid
}

func DecodeAttachRequest(data []byte) (*AttachRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("attach fid: %w", err)
	}

	afid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("attach afid: %w", err)
	}

	uname, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("attach uname: %w", err)
	}

	aname, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("attach aname: %w", err)
	}

	return &AttachRequest{Fid: fid, Afid: afid, Uname: uname, Aname: aname}, nil
}

func (resp *AttachResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	resp.Qid.encode(body)
	return encodeMessage(Rattach, tag, body.Bytes()), nil
}
