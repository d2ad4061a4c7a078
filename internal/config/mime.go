package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dqx0.com/go/burrow/httpx"
)

// LoadMimeFile reads a YAML mapping of file extensions to media types:
//
//	md: text/markdown
//	.wasm: application/wasm
func LoadMimeFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("mime types %s: %w", path, err)
	}
	return m, nil
}

// MimeTable builds the server mime table: the built-in types, then the
// file named by "mime-types", then the inline "mime" table.
func (o *Options) MimeTable() (*httpx.MimeTable, error) {
	overrides := map[string]string{}
	if path := o.String("mime-types", ""); path != "" {
		m, err := LoadMimeFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			overrides[k] = v
		}
	}
	for k, v := range o.v.GetStringMapString("mime") {
		overrides[k] = v
	}
	if len(overrides) == 0 {
		return httpx.DefaultMimeTable(), nil
	}
	return httpx.NewMimeTable(overrides), nil
}
