package ninep

import "fmt"

// VersionRequest is a Tversion: the client proposes a maximum message
// size and a protocol version string.
type VersionRequest struct {
	Msize   uint32
	Version string
}

// VersionResponse is the matching Rversion. Msize must not exceed the
// client's offer; Version is either the agreed protocol or "unknown".
type VersionResponse struct {
	Msize   uint32
	Version string
}

func DecodeVersionRequest(data []byte) (*VersionRequest, error) {
	r := bodyReader(data)

	msize, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("version msize: %w", err)
	}

	version, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("version string: %w", err)
	}

	return &VersionRequest{Msize: msize, Version: version}, nil
}

func (resp *VersionResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	putUint32(body, resp.Msize)
	if err := putString(body, resp.Version); err != nil {
		return nil, err
	}
	return encodeMessage(Rversion, tag, body.Bytes()), nil
}
