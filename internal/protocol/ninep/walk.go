package ninep

import "fmt"

// WalkRequest is a Twalk: starting from Fid, walk the sequence of path
// elements in Names and associate the result with NewFid. A zero-length
// walk clones the fid. See walk(5).
type WalkRequest struct {
	Fid    uint32
	NewFid uint32
	Names  []string
}

// WalkResponse returns one qid per element successfully walked. A
// partial walk (fewer qids than names) means the walk stopped at the
// first missing element and NewFid was not created.
type WalkResponse struct {
	Qids []Qid
}

func DecodeWalkRequest(data []byte) (*WalkRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("walk fid: %w", err)
	}

	newFid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("walk newfid: %w", err)
	}

	count, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("walk nwname: %w", err)
	}
	if count > MaxWalkElements {
		return nil, fmt.Errorf("walk with %d elements exceeds maximum %d", count, MaxWalkElements)
	}

	names := make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("walk name %d: %w", i, err)
		}
		names = append(names, name)
	}

	return &WalkRequest{Fid: fid, NewFid: newFid, Names: names}, nil
}

func (resp *WalkResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	putUint16(body, uint16(len(resp.Qids)))
	for _, q := range resp.Qids {
		q.encode(body)
	}
	return encodeMessage(Rwalk, tag, body.Bytes()), nil
}
