package ninep

import "fmt"

// StatRequest is a Tstat: ask for the directory entry describing Fid.
type StatRequest struct {
	Fid uint32
}

// StatResponse carries the entry. On the wire the stat bytes are
// preceded by a redundant 2-byte count in addition to the entry's own
// leading size field; Encode emits both.
type StatResponse struct {
	Stat Stat
}

func DecodeStatRequest(data []byte) (*StatRequest, error) {
	r := bodyReader(data)

	fid, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("stat fid: %w", err)
	}

	return &StatRequest{Fid: fid}, nil
}

func (resp *StatResponse) Encode(tag uint16) ([]byte, error) {
	entry, err := resp.Stat.Encode()
	if err != nil {
		return nil, err
	}

	body := newBody()
	putUint16(body, uint16(len(entry)))
	body.Write(entry)
	return encodeMessage(Rstat, tag, body.Bytes()), nil
}
