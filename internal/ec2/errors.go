package ec2

import (
	"fmt"
	"strings"
)

// ConfigError reports a definition file that cannot produce a catalog.
// Line is 1-based; zero means the problem is not tied to one line.
type ConfigError struct {
	Source string
	Line   int
	Record string
	Key    string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("ec2: ")
	if e.Source != "" {
		b.WriteString(e.Source)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	if e.Record != "" {
		fmt.Fprintf(&b, "[%s] ", e.Record)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, "key %q: ", e.Key)
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }
