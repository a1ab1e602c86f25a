package ninep

// ErrorResponse is an Rerror, the reply to any request that failed.
// 9P2000 carries errors as plain strings; there are no numeric codes
// on the wire.
type ErrorResponse struct {
	Ename string
}

func (resp *ErrorResponse) Encode(tag uint16) ([]byte, error) {
	body := newBody()
	if err := putString(body, resp.Ename); err != nil {
		return nil, err
	}
	return encodeMessage(Rerror, tag, body.Bytes()), nil
}
