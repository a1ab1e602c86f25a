package ninep

import "fmt"

// WStatRequest is a Twstat: change the directory entry of Fid. Fields
// holding their maximal value (see Stat.DontTouch) are left unchanged;
// a wstat with every field untouched acts as a sync request.
type WStatRequest struct {
	Fid  uint32
	Stat Stat
}

// WStatResponse is the empty Rwstat acknowledgement.
type WStatResponse struct{}

func DecodeWStatRequest(data []byte) (*WStatRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("wstat fid: %w", err)
	}

	count, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("wstat count: %w", err)
	}
	if int(count) > r.Len() {
		return nil, fmt.Errorf("wstat count %d exceeds remaining %d bytes", count, r.Len())
	}

	entry, err := readBytes(r, uint32(count))
	if err != nil {
		return nil, fmt.Errorf("wstat entry: %w", err)
	}

	stat, _, err := DecodeStat(entry)
	if err != nil {
		return nil, fmt.Errorf("wstat stat: %w", err)
	}

	return &WStatRequest{Fid: fid, Stat: *stat}, nil
}

func (resp *WStatResponse) Encode(tag uint16) ([]byte, error) {
	return encodeMessage(Rwstat, tag, nil), nil
}
