// FILE: lixenwraith/transport/manifest.go
package transport

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is a YAML description of a dispatcher: configuration overrides
// keyed like the TOML settings, plus the target list.
//
//	transport:
//	  queue_size: 8192
//	  policy: best_effort
//	targets:
//	  - name: app
//	    target: file
//	    destination: /var/log/app.log
//	    options:
//	      sync: true
//	  - target: http
//	    destination: http://collector:8080/ingest
//	    options:
//	      gzip: true
//	      batch_interval: 500ms
type Manifest struct {
	Transport map[string]any `yaml:"transport"`
	Targets   []Spec         `yaml:"targets"`
}

// LoadManifest reads and decodes a manifest file. Unknown top-level keys are rejected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmtErrorf("failed to read manifest '%s': %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest from YAML bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmtErrorf("failed to decode manifest: %w", err)
	}
	if len(m.Targets) == 0 {
		return nil, fmtErrorf("manifest defines no targets")
	}
	return &m, nil
}

// Config returns the default configuration with the manifest overrides applied.
func (m *Manifest) Config() (*Config, error) {
	return NewConfigFromDefaults(m.Transport)
}
