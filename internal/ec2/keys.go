package ec2

import (
	"fmt"
	"strconv"
	"strings"
)

type variableSetter func(v *Variable, val string) error

type scaleSetter func(s *Scale, val string) error

// variableKeys translates PARAMETER DEFINITIONS attribute names to fields.
var variableKeys = map[string]variableSetter{
	"Number of Dimensions": func(v *Variable, val string) (err error) { v.Dimensions, err = parseInt(val); return },
	"Page":                 setPage,
	"Address":              setAddress,
	"Bytes per Cell":       func(v *Variable, val string) (err error) { v.Bytes, err = parseInt(val); return },
	"0":                    func(v *Variable, val string) error { v.Scales[0] = val; return nil },
	"1":                    func(v *Variable, val string) error { v.Scales[1] = val; return nil },
	"2":                    func(v *Variable, val string) error { v.Scales[2] = val; return nil },
	"Precision":            func(v *Variable, val string) (err error) { v.Precision, err = parseInt(val); return },
	"Signed":               func(v *Variable, val string) (err error) { v.Signed, err = parseFlag(val); return },
	"Variant Title":        func(v *Variable, val string) error { v.VariantTitle = val; return nil },
	"Sector":               func(v *Variable, val string) error { v.Sector = val; return nil },
	"Main":                 func(v *Variable, val string) error { v.Main = val; return nil },
	"Trim":                 func(v *Variable, val string) error { v.Trim = val; return nil },
	"Data Class":           func(v *Variable, val string) error { v.DataClass = val; return nil },
	"Parameter 1":          func(v *Variable, val string) error { v.Parameter1 = val; return nil },
	"Parameter 2":          func(v *Variable, val string) error { v.Parameter2 = val; return nil },
	"Index 1":              func(v *Variable, val string) error { v.Index1 = val; return nil },
	"Index 2":              func(v *Variable, val string) error { v.Index2 = val; return nil },
	"Dummy Variable":       func(v *Variable, val string) error { v.Dummy = val; return nil },
	"Proteaus":             func(v *Variable, val string) error { v.Proteaus = val; return nil },
	"Proteaus Colour":      func(v *Variable, val string) error { v.ProteausColour = val; return nil },
}

// scaleKeys translates NUMERIC SCALES attribute names to fields.
var scaleKeys = map[string]scaleSetter{
	"Scale Minimum":    func(s *Scale, val string) (err error) { s.ScaleMinimum, err = parseFloat(val); return },
	"Scale Maximum":    func(s *Scale, val string) (err error) { s.ScaleMaximum, err = parseFloat(val); return },
	"Scale Interval":   func(s *Scale, val string) (err error) { s.ScaleInterval, err = parseFloat(val); return },
	"Scale Points":     func(s *Scale, val string) (err error) { s.ScalePoints, err = parseInt(val); return },
	"Display Minimum":  func(s *Scale, val string) (err error) { s.DisplayMinimum, err = parseFloat(val); return },
	"Display Maximum":  func(s *Scale, val string) (err error) { s.DisplayMaximum, err = parseFloat(val); return },
	"Display Interval": func(s *Scale, val string) (err error) { s.DisplayInterval, err = parseFloat(val); return },
	"Display Points":   func(s *Scale, val string) (err error) { s.DisplayPoints, err = parseInt(val); return },
	"Precision":        func(s *Scale, val string) (err error) { s.Precision, err = parseInt(val); return },
	"Units":            func(s *Scale, val string) error { s.Units = val; return nil },
}

func setPage(v *Variable, val string) error {
	n, err := strconv.ParseUint(trimHex(val), 16, 8)
	if err != nil {
		return fmt.Errorf("page %q is not a one-byte hex value", val)
	}
	v.Page = uint8(n)
	return nil
}

func setAddress(v *Variable, val string) error {
	n, err := strconv.ParseUint(trimHex(val), 16, 32)
	if err != nil {
		return fmt.Errorf("address %q is not a hex value", val)
	}
	v.Address = uint32(n)
	return nil
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return f, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "no", "false":
		return false, nil
	case "1", "yes", "true":
		return true, nil
	}
	return false, fmt.Errorf("%q is not a flag", s)
}
