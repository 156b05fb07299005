package ec2

import "strings"

// Section names used by the loader.
const (
	SectionDefinitions  = "PARAMETER DEFINITIONS"
	SectionScales       = "NUMERIC SCALES"
	SectionStringScales = "STRING SCALES"
	SectionPrototypes   = "PARAMETER PROTOTYPES"
)

// Variable is one [RecordName] block from PARAMETER DEFINITIONS merged with
// its PARAMETER PROTOTYPES line.
type Variable struct {
	Name       string
	Dimensions int
	Page       uint8
	Address    uint32
	Bytes      int
	Scales     [3]string // "0", "1", "2" scale references
	Precision  int
	Signed     bool

	VariantTitle   string
	Sector         string
	Main           string
	Trim           string
	DataClass      string
	Parameter1     string
	Parameter2     string
	Index1         string
	Index2         string
	Dummy          string
	Proteaus       string
	ProteausColour string

	ShortDesc string
	LongDesc  string
	Disabled  bool
}

// LSB returns the low byte of the address, the key a page is indexed by.
func (v *Variable) LSB() uint8 { return uint8(v.Address & 0xFF) }

// PrimaryScale is the scale reference used for numeric conversion.
func (v *Variable) PrimaryScale() string { return v.Scales[0] }

// Scale is one [ScaleName] block from NUMERIC SCALES.
type Scale struct {
	Name            string
	Units           string
	ScaleMinimum    float64
	ScaleMaximum    float64
	ScaleInterval   float64
	ScalePoints     int
	DisplayMinimum  float64
	DisplayMaximum  float64
	DisplayInterval float64
	DisplayPoints   int
	Precision       int
}

// Definitions is everything the loader extracted from one EC2 file.
type Definitions struct {
	Source       string
	Variables    map[string]*Variable
	Scales       map[string]*Scale
	StringScales map[string]struct{}

	// order keeps variables in file order for deterministic exports.
	order []string
}

func newDefinitions(source string) *Definitions {
	return &Definitions{
		Source:       source,
		Variables:    make(map[string]*Variable),
		Scales:       make(map[string]*Scale),
		StringScales: make(map[string]struct{}),
	}
}

func (d *Definitions) addVariable(v *Variable) {
	if _, ok := d.Variables[v.Name]; !ok {
		d.order = append(d.order, v.Name)
	}
	d.Variables[v.Name] = v
}

// Names returns variable names in file order.
func (d *Definitions) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// IsNumeric reports whether v converts through a numeric scale.
func (d *Definitions) IsNumeric(v *Variable) bool {
	_, ok := d.Scales[v.PrimaryScale()]
	return ok
}

// Numeric returns the numeric variables in file order, disabled ones included.
func (d *Definitions) Numeric() []*Variable {
	var out []*Variable
	for _, name := range d.order {
		v := d.Variables[name]
		if d.IsNumeric(v) {
			out = append(out, v)
		}
	}
	return out
}

func isDisabledMarker(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "disabled")
}
