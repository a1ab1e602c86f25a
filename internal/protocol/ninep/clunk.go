package ninep

import "fmt"

// ClunkRequest is a Tclunk: release a fid. The fid is invalid after
// the reply regardless of success, per clunk(5).
type ClunkRequest struct {
	Fid uint32
}

// ClunkResponse is the empty Rclunk acknowledgement.
type ClunkResponse struct{}

func DecodeClunkRequest(data []byte) (*ClunkRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("clunk fid: %w", err)
	}

	return &ClunkRequest{Fid: fid}, nil
}

func (resp *ClunkResponse) Encode(tag uint16) ([]byte, error) {
	return encodeMessage(Rclunk, tag, nil), nil
}
