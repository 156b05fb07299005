package mbe

// Preamble starts every read request.
var Preamble = []byte{0x01, 0x00, 0x00, 0x00, 0x00}

// ResponseMarker is the first byte of every read response.
const ResponseMarker = 0x81

// BuildRequest emits the preamble, the page byte and then, for each entry in
// order, Bytes consecutive offsets starting at its LSB.
//
//	01 00 00 00 00 | f8 | 7c 7d ...
func BuildRequest(page uint8, entries []FollowEntry) []byte {
	n := len(Preamble) + 1
	for _, e := range entries {
		n += e.Bytes
	}
	req := make([]byte, 0, n)
	req = append(req, Preamble...)
	req = append(req, page)
	for _, e := range entries {
		for i := 0; i < e.Bytes; i++ {
			req = append(req, e.LSB+uint8(i))
		}
	}
	return req
}

// SplitRequest returns the page and offsets of a read request.
func SplitRequest(req []byte) (page uint8, offsets []byte, err error) {
	if len(req) < len(Preamble)+1 {
		return 0, nil, ErrMalformedRequest
	}
	for i, b := range Preamble {
		if req[i] != b {
			return 0, nil, ErrMalformedRequest
		}
	}
	return req[len(Preamble)], req[len(Preamble)+1:], nil
}
