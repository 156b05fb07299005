// Package ec2 reads MBE EC2 definition files and exports the variable catalog
// they describe.
//
// An EC2 file is a sequence of sections delimited by [NAME] / [end NAME]
// markers. Inside a section, records start with a bracketed record name and
// carry "Key = Value" attribute lines:
//
//	[PARAMETER DEFINITIONS]
//	[RT_ENGINESPEED]
//	Page = F8
//	Address = 237C
//	Bytes per Cell = 2
//	0 = SCALE_ENGINESPEED
//	[end PARAMETER DEFINITIONS]
package ec2

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

type section struct {
	name       string
	start, end int // 0-based line indices, start is -1 until matched
}

// Load parses the EC2 file at path.
func Load(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ec2: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, path)
}

// LoadFile loads either an EC2 file or a JSON export, chosen by extension.
func LoadFile(path string) (*Definitions, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return Load(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ec2: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSON(f, path)
}

// Parse reads a complete EC2 document. source is only used in error messages.
func Parse(r io.Reader, source string) (*Definitions, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, &ConfigError{Source: source, Msg: "read failed", Err: err}
	}

	sections, err := findSections(lines, source)
	if err != nil {
		return nil, err
	}

	defs := newDefinitions(source)
	p := &parser{lines: lines, source: source, defs: defs}

	if err := p.parseVariables(sections[SectionDefinitions]); err != nil {
		return nil, err
	}
	if err := p.parseScales(sections[SectionScales]); err != nil {
		return nil, err
	}
	if sec, ok := sections[SectionStringScales]; ok {
		p.parseStringScales(sec)
	}
	if err := p.parsePrototypes(sections[SectionPrototypes]); err != nil {
		return nil, err
	}
	if err := p.checkScaleRefs(); err != nil {
		return nil, err
	}
	return defs, nil
}

// readLines splits the document into trimmed lines. Calibration tools write
// EC2 files in Windows-1252; anything that is not valid UTF-8 is decoded as such.
func readLines(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		if data, err = charmap.Windows1252.NewDecoder().Bytes(data); err != nil {
			return nil, err
		}
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// findSections registers every [end X] marker first, then matches each one
// to the first [X] line that precedes it.
func findSections(lines []string, source string) (map[string]*section, error) {
	sections := make(map[string]*section)

	for i, line := range lines {
		name, ok := bracketed(line)
		if !ok || !strings.HasPrefix(name, "end ") {
			continue
		}
		name = strings.TrimSpace(strings.TrimPrefix(name, "end "))
		if prev, dup := sections[name]; dup {
			return nil, &ConfigError{Source: source, Line: i + 1,
				Msg: fmt.Sprintf("duplicate [end %s] marker (first at line %d)", name, prev.end+1)}
		}
		sections[name] = &section{name: name, start: -1, end: i}
	}

	for i, line := range lines {
		name, ok := bracketed(line)
		if !ok {
			continue
		}
		sec, known := sections[name]
		if !known || sec.start >= 0 || i >= sec.end {
			continue
		}
		sec.start = i
	}

	for _, sec := range sections {
		if sec.start < 0 {
			return nil, &ConfigError{Source: source, Line: sec.end + 1,
				Msg: fmt.Sprintf("[end %s] has no matching [%s] start marker", sec.name, sec.name)}
		}
	}

	for _, required := range []string{SectionDefinitions, SectionScales, SectionPrototypes} {
		if _, ok := sections[required]; ok {
			continue
		}
		for i, line := range lines {
			if name, ok := bracketed(line); ok && name == required {
				return nil, &ConfigError{Source: source, Line: i + 1,
					Msg: fmt.Sprintf("section [%s] has no [end %s] marker", required, required)}
			}
		}
		return nil, &ConfigError{Source: source, Msg: fmt.Sprintf("required section [%s] not found", required)}
	}

	return sections, nil
}

// bracketed returns the trimmed text between [ and ] when the line is a marker.
func bracketed(line string) (string, bool) {
	if len(line) < 2 || line[0] != '[' || line[len(line)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(line[1 : len(line)-1]), true
}

func splitAttr(line string) (key, val string, ok bool) {
	key, val, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	return key, strings.TrimSpace(val), key != ""
}

func skipLine(line string) bool {
	return line == "" || strings.HasPrefix(line, ";")
}

type parser struct {
	lines  []string
	source string
	defs   *Definitions
}

func (p *parser) errorf(line int, record, key, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Source: p.source, Line: line + 1, Record: record, Key: key, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseVariables(sec *section) error {
	var cur *Variable
	for i := sec.start + 1; i < sec.end; i++ {
		line := p.lines[i]
		if skipLine(line) {
			continue
		}
		if name, ok := bracketed(line); ok {
			if _, dup := p.defs.Variables[name]; dup {
				return p.errorf(i, name, "", "duplicate variable definition")
			}
			cur = &Variable{Name: name}
			p.defs.addVariable(cur)
			continue
		}
		key, val, ok := splitAttr(line)
		if !ok {
			return p.errorf(i, recordName(cur), "", "malformed attribute line %q", line)
		}
		if cur == nil {
			return p.errorf(i, "", key, "attribute outside of a record")
		}
		set, known := variableKeys[key]
		if !known {
			return p.errorf(i, cur.Name, key, "unknown %s key", SectionDefinitions)
		}
		if err := set(cur, val); err != nil {
			ce := p.errorf(i, cur.Name, key, "bad value")
			ce.Err = err
			return ce
		}
	}
	return nil
}

func recordName(v *Variable) string {
	if v == nil {
		return ""
	}
	return v.Name
}

func scaleName(s *Scale) string {
	if s == nil {
		return ""
	}
	return s.Name
}

func (p *parser) parseScales(sec *section) error {
	var cur *Scale
	for i := sec.start + 1; i < sec.end; i++ {
		line := p.lines[i]
		if skipLine(line) {
			continue
		}
		if name, ok := bracketed(line); ok {
			if _, dup := p.defs.Scales[name]; dup {
				return p.errorf(i, name, "", "duplicate scale definition")
			}
			cur = &Scale{Name: name}
			p.defs.Scales[name] = cur
			continue
		}
		key, val, ok := splitAttr(line)
		if !ok {
			return p.errorf(i, scaleName(cur), "", "malformed attribute line %q", line)
		}
		if cur == nil {
			return p.errorf(i, "", key, "attribute outside of a record")
		}
		set, known := scaleKeys[key]
		if !known {
			return p.errorf(i, cur.Name, key, "unknown %s key", SectionScales)
		}
		if err := set(cur, val); err != nil {
			ce := p.errorf(i, cur.Name, key, "bad value")
			ce.Err = err
			return ce
		}
	}
	return nil
}

// parseStringScales only needs the record names: string scales never take
// part in numeric conversion, they just have to exist.
func (p *parser) parseStringScales(sec *section) {
	for i := sec.start + 1; i < sec.end; i++ {
		if name, ok := bracketed(p.lines[i]); ok {
			p.defs.StringScales[name] = struct{}{}
		}
	}
}

// parsePrototypes reads "name, short, ?, long[, disabled]" lines. Fields other
// than 0, 1, 3 and 4 carry nothing we use.
func (p *parser) parsePrototypes(sec *section) error {
	for i := sec.start + 1; i < sec.end; i++ {
		line := p.lines[i]
		if skipLine(line) {
			continue
		}
		fields := strings.Split(line, ",")
		switch {
		case len(fields) == 1:
			continue
		case len(fields) < 4:
			return p.errorf(i, strings.TrimSpace(fields[0]), "", "prototype has %d fields, want at least 4", len(fields))
		}
		name := strings.TrimSpace(fields[0])
		v, ok := p.defs.Variables[name]
		if !ok {
			return p.errorf(i, name, "", "prototype for undefined variable")
		}
		v.ShortDesc = strings.TrimSpace(fields[1])
		v.LongDesc = strings.TrimSpace(fields[3])
		if len(fields) > 4 {
			v.Disabled = isDisabledMarker(fields[4])
		}
	}
	return nil
}

func (p *parser) checkScaleRefs() error {
	for _, name := range p.defs.order {
		v := p.defs.Variables[name]
		for idx, ref := range v.Scales {
			if ref == "" {
				continue
			}
			if _, ok := p.defs.Scales[ref]; ok {
				continue
			}
			if _, ok := p.defs.StringScales[ref]; ok {
				continue
			}
			return &ConfigError{Source: p.source, Record: v.Name, Key: fmt.Sprint(idx),
				Msg: fmt.Sprintf("undefined scale %q", ref)}
		}
	}
	return nil
}
