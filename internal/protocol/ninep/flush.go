package ninep

import "fmt"

// FlushRequest is a Tflush: the client aborts the outstanding request
// identified by OldTag. This server processes messages one at a time
// per connection, so by the time a Tflush is read the old request has
// already completed and the flush simply acknowledges.
type FlushRequest struct {
	OldTag uint16
}

// FlushResponse is the empty Rflush acknowledgement.
type FlushResponse struct{}

func DecodeFlushRequest(data []byte) (*FlushRequest, error) {
	r := bodyReader(data)

	oldTag, err := readUint16(r)
	if err != nil {
		return nil, fmt.Errorf("flush oldtag: %w", err)
	}

	return &FlushRequest{OldTag: oldTag}, nil
}

func (resp *FlushResponse) Encode(tag uint16) ([]byte, error) {
	return encodeMessage(Rflush, tag, nil), nil
}
