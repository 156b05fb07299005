package mbe

import "fmt"

// UnknownField names request offsets the catalog does not map.
const UnknownField = "UNKNOWN"

// ExchangeField is one field of an interpreted request/response pair.
type ExchangeField struct {
	Name   string  `json:"name"`
	Offset uint8   `json:"offset"`
	Bytes  int     `json:"bytes"`
	Raw    uint64  `json:"raw"`
	Mapped bool    `json:"mapped"`
	Value  float64 `json:"value,omitempty"`
	Units  string  `json:"units,omitempty"`
}

// Exchange is a captured read request with its response laid out by field.
type Exchange struct {
	Page   uint8           `json:"page"`
	Fields []ExchangeField `json:"fields"`
}

// Interpret rebuilds the field layout of a captured request from the reverse
// page map and decodes the matching response. Offsets that map to nothing
// become one-byte UNKNOWN fields. Unlike Decode it does not need a follow
// list, so it works on traffic produced by other tools.
func (c *Catalog) Interpret(req, resp []byte) (*Exchange, error) {
	page, offsets, err := SplitRequest(req)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 || resp[0] != ResponseMarker {
		return nil, fmt.Errorf("%w: page 0x%02x", ErrMalformedResponse, page)
	}

	ex := &Exchange{Page: page}
	cursor := 1
	for i := 0; i < len(offsets); {
		f, mapped := c.LookupAddress(page, offsets[i])
		if !mapped {
			f = Field{Name: UnknownField, Bytes: 1}
		}
		if cursor+f.Bytes > len(resp) {
			return ex, fmt.Errorf("%w: %s at offset 0x%02x", ErrTruncatedResponse, f.Name, offsets[i])
		}
		ef := ExchangeField{
			Name:   f.Name,
			Offset: offsets[i],
			Bytes:  f.Bytes,
			Raw:    Raw(resp[cursor : cursor+f.Bytes]),
			Mapped: mapped,
		}
		if s := c.Scale(f.Name); mapped && s != nil {
			ef.Value = Rescale(ef.Raw, f.Bytes, s.ScaleMinimum, s.ScaleMaximum)
			ef.Units = s.Units
		}
		ex.Fields = append(ex.Fields, ef)
		cursor += f.Bytes
		i += f.Bytes
	}
	return ex, nil
}
