// Package mbe plans, builds and decodes page reads against an MBE engine
// controller using a catalog loaded from an EC2 definition file.
package mbe

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/shaunagostinho/mbe-dash/internal/ec2"
)

// MaxWidth is the widest field the decoder can fold into a uint64.
const MaxWidth = 8

// Field is one slot of the reverse page map.
type Field struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

// Catalog indexes numeric variables by name and by (page, address low byte).
// It is read-only once built.
type Catalog struct {
	vars   map[string]*ec2.Variable
	scales map[string]*ec2.Scale
	pages  map[uint8]map[uint8]Field
}

// NewCatalog builds the catalog from loaded definitions. Every problem found
// is reported, not just the first.
func NewCatalog(defs *ec2.Definitions) (*Catalog, error) {
	c := &Catalog{
		vars:   make(map[string]*ec2.Variable),
		scales: make(map[string]*ec2.Scale),
		pages:  make(map[uint8]map[uint8]Field),
	}

	var result *multierror.Error
	for _, v := range defs.Numeric() {
		if v.Bytes < 1 || v.Bytes > MaxWidth {
			result = multierror.Append(result, &ec2.ConfigError{Source: defs.Source, Record: v.Name,
				Key: "Bytes per Cell", Msg: fmt.Sprintf("width %d outside 1..%d", v.Bytes, MaxWidth)})
			continue
		}
		if int(v.LSB())+v.Bytes > 256 {
			result = multierror.Append(result, &ec2.ConfigError{Source: defs.Source, Record: v.Name,
				Key: "Address", Err: ErrPageOverflow})
			continue
		}

		page, ok := c.pages[v.Page]
		if !ok {
			page = make(map[uint8]Field)
			c.pages[v.Page] = page
		}
		if prev, dup := page[v.LSB()]; dup {
			result = multierror.Append(result, &ec2.ConfigError{Source: defs.Source, Record: v.Name,
				Key: "Address", Msg: fmt.Sprintf("page 0x%02x offset 0x%02x already used by %s", v.Page, v.LSB(), prev.Name)})
			continue
		}
		page[v.LSB()] = Field{Name: v.Name, Bytes: v.Bytes}
		c.vars[v.Name] = v
		c.scales[v.Name] = defs.Scales[v.PrimaryScale()]
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// Lookup returns the definition for name.
func (c *Catalog) Lookup(name string) (*ec2.Variable, error) {
	v, ok := c.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return v, nil
}

// Scale returns the numeric scale used by the named variable, or nil.
func (c *Catalog) Scale(name string) *ec2.Scale { return c.scales[name] }

// LookupAddress resolves a raw page offset. Only used to interpret captured
// traffic; the poll path never needs it.
func (c *Catalog) LookupAddress(page, lsb uint8) (Field, bool) {
	f, ok := c.pages[page][lsb]
	return f, ok
}

// Len is the number of variables in the catalog.
func (c *Catalog) Len() int { return len(c.vars) }

// Names returns all variable names sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.vars))
	for name := range c.vars {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
