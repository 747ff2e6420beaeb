// FILE: lixenwraith/transport/spec.go
package transport

import (
	"strings"
)

// Spec describes one transport target: which factory builds it and with what
// options. Destination and Fd are shorthands for the built-ins' "destination"
// and "fd" options.
type Spec struct {
	Name        string         `yaml:"name" toml:"name"`
	Target      string         `yaml:"target" toml:"target"`
	Options     map[string]any `yaml:"options" toml:"options"`
	Destination string         `yaml:"destination" toml:"destination"`
	Fd          int            `yaml:"fd" toml:"fd"`
}

// normalize fills the name from the target and validates the spec.
func (s Spec) normalize() (Spec, error) {
	s.Target = strings.TrimSpace(s.Target)
	if s.Target == "" {
		return s, fmtErrorf("target spec requires a target name")
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = s.Target
	}
	return s, nil
}

// options returns a copy of the options with Destination folded in under
// destKey, unless the options already set it.
func (s Spec) options(destKey string) map[string]any {
	opts := make(map[string]any, len(s.Options)+1)
	for k, v := range s.Options {
		opts[k] = v
	}
	if destKey != "" && s.Destination != "" {
		if _, ok := opts[destKey]; !ok {
			opts[destKey] = s.Destination
		}
	}
	return opts
}
