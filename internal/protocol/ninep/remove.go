package ninep

import "fmt"

// RemoveRequest is a Tremove: delete the file referenced by Fid and
// clunk the fid. As with clunk, the fid is gone even when the remove
// itself fails.
type RemoveRequest struct {
	Fid uint32
}

// RemoveResponse is the empty Rremove acknowledgement.
type RemoveResponse struct{}

func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("remove fid: %w", err)
	}

	return &RemoveRequest{Fid: fid}, nil
}

func (resp *RemoveResponse) Encode(tag uint16) ([]byte, error) {
	return encodeMessage(Rremove, tag, nil), nil
}
