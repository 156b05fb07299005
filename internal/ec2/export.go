package ec2

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Record is one variable in the interchange format.
type Record struct {
	Name            string  `json:"name" yaml:"name"`
	Page            string  `json:"page" yaml:"page"`       // "0xf8"
	Address         string  `json:"address" yaml:"address"` // "0x237c"
	Bytes           int     `json:"bytes" yaml:"bytes"`
	ScaleMinimum    float64 `json:"scale_minimum" yaml:"scale_minimum"`
	ScaleMaximum    float64 `json:"scale_maximum" yaml:"scale_maximum"`
	DisplayMinimum  float64 `json:"display_minimum" yaml:"display_minimum"`
	DisplayMaximum  float64 `json:"display_maximum" yaml:"display_maximum"`
	DisplayInterval float64 `json:"display_interval" yaml:"display_interval"`
	Units           string  `json:"units" yaml:"units"`
	ShortDesc       string  `json:"short_desc" yaml:"short_desc"`
	LongDesc        string  `json:"long_desc" yaml:"long_desc"`
	Disabled        bool    `json:"-" yaml:"-"`
}

var csvHeader = []string{
	"name", "page", "address", "bytes", "disabled",
	"scale_minimum", "scale_maximum",
	"display_minimum", "display_maximum", "display_interval",
	"units", "short_desc", "long_desc",
}

// Records flattens the numeric variables of defs in file order.
func Records(defs *Definitions, includeDisabled bool) []Record {
	var out []Record
	for _, v := range defs.Numeric() {
		if v.Disabled && !includeDisabled {
			continue
		}
		s := defs.Scales[v.PrimaryScale()]
		out = append(out, Record{
			Name:            v.Name,
			Page:            fmt.Sprintf("0x%02x", v.Page),
			Address:         fmt.Sprintf("0x%04x", v.Address),
			Bytes:           v.Bytes,
			ScaleMinimum:    s.ScaleMinimum,
			ScaleMaximum:    s.ScaleMaximum,
			DisplayMinimum:  s.DisplayMinimum,
			DisplayMaximum:  s.DisplayMaximum,
			DisplayInterval: s.DisplayInterval,
			Units:           s.Units,
			ShortDesc:       v.ShortDesc,
			LongDesc:        v.LongDesc,
			Disabled:        v.Disabled,
		})
	}
	return out
}

func recordMap(defs *Definitions) map[string]Record {
	m := make(map[string]Record)
	for _, r := range Records(defs, false) {
		m[r.Name] = r
	}
	return m
}

// WriteJSON writes enabled numeric variables as an object keyed by name.
func WriteJSON(w io.Writer, defs *Definitions) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recordMap(defs))
}

// WriteYAML writes the same mapping as WriteJSON in YAML.
func WriteYAML(w io.Writer, defs *Definitions) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(recordMap(defs)); err != nil {
		return err
	}
	return enc.Close()
}

// WriteCSV writes every numeric variable, disabled ones included, one row each.
func WriteCSV(w io.Writer, defs *Definitions) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range Records(defs, true) {
		disabled := ""
		if r.Disabled {
			disabled = "disabled"
		}
		row := []string{
			r.Name, r.Page, r.Address, strconv.Itoa(r.Bytes), disabled,
			formatFloat(r.ScaleMinimum), formatFloat(r.ScaleMaximum),
			formatFloat(r.DisplayMinimum), formatFloat(r.DisplayMaximum), formatFloat(r.DisplayInterval),
			r.Units, r.ShortDesc, r.LongDesc,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// ReadJSON rebuilds Definitions from a WriteJSON document. The export carries
// no scale names, so each variable gets a private scale named after itself.
func ReadJSON(r io.Reader, source string) (*Definitions, error) {
	var recs map[string]Record
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, &ConfigError{Source: source, Msg: "decode json", Err: err}
	}

	names := make([]string, 0, len(recs))
	for name := range recs {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := newDefinitions(source)
	for _, key := range names {
		rec := recs[key]
		if rec.Name == "" {
			rec.Name = key
		}
		v := &Variable{
			Name:      rec.Name,
			Bytes:     rec.Bytes,
			ShortDesc: rec.ShortDesc,
			LongDesc:  rec.LongDesc,
		}
		if err := setPage(v, rec.Page); err != nil {
			return nil, &ConfigError{Source: source, Record: rec.Name, Key: "page", Err: err}
		}
		if err := setAddress(v, rec.Address); err != nil {
			return nil, &ConfigError{Source: source, Record: rec.Name, Key: "address", Err: err}
		}
		scaleName := "SCALE_" + rec.Name
		v.Scales[0] = scaleName
		defs.Scales[scaleName] = &Scale{
			Name:            scaleName,
			Units:           rec.Units,
			ScaleMinimum:    rec.ScaleMinimum,
			ScaleMaximum:    rec.ScaleMaximum,
			DisplayMinimum:  rec.DisplayMinimum,
			DisplayMaximum:  rec.DisplayMaximum,
			DisplayInterval: rec.DisplayInterval,
		}
		defs.addVariable(v)
	}
	return defs, nil
}
