package mbe

import (
	"fmt"
	"math"
)

// DecodedValue is one calibrated reading.
type DecodedValue struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	ShortDesc string  `json:"short_desc"`
	Units     string  `json:"units"`
	Raw       uint64  `json:"raw"` // field as read, before scaling
}

// Decode walks entries in request order and converts each field of resp.
// A short response yields no values at all for the page.
func (c *Catalog) Decode(resp []byte, entries []FollowEntry) ([]DecodedValue, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedResponse, len(resp))
	}
	if resp[0] != ResponseMarker {
		return nil, fmt.Errorf("%w: marker 0x%02x, want 0x%02x", ErrMalformedResponse, resp[0], ResponseMarker)
	}

	out := make([]DecodedValue, 0, len(entries))
	cursor := 1
	for _, e := range entries {
		if cursor+e.Bytes > len(resp) {
			return nil, fmt.Errorf("%w: %s needs bytes %d..%d, response has %d",
				ErrTruncatedResponse, e.Name, cursor, cursor+e.Bytes-1, len(resp))
		}
		v, err := c.Lookup(e.Name)
		if err != nil {
			return nil, err
		}
		s := c.Scale(e.Name)
		raw := Raw(resp[cursor : cursor+e.Bytes])
		cursor += e.Bytes

		out = append(out, DecodedValue{
			Name:      v.Name,
			Value:     Rescale(raw, e.Bytes, s.ScaleMinimum, s.ScaleMaximum),
			ShortDesc: v.ShortDesc,
			Units:     s.Units,
			Raw:       raw,
		})
	}
	return out, nil
}

// Raw folds b into an integer with b[0] as the least significant byte.
func Raw(b []byte) uint64 {
	var n uint64
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | uint64(b[i])
	}
	return n
}

// FullScale is the largest raw value a width-byte field can hold.
func FullScale(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(8*uint(width)) - 1
}

// Rescale maps raw linearly from [0, FullScale(width)] onto [min, max].
func Rescale(raw uint64, width int, min, max float64) float64 {
	return float64(raw)*(max-min)/float64(FullScale(width)) + min
}
