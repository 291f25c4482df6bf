package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"assetdesk/backend/pkg/models"
)

// fileFormat is the on-disk layout of a catalog override file:
//
//	roles:
//	  user:
//	    - id: user-my-assets
//	      route: /my-assets
//	      target: '[data-tour="my-assets-list"]'
//	      title: Your equipment
//	      content: ...
type fileFormat struct {
	Roles map[string][]models.TourStep `yaml:"roles"`
}

// Load reads a YAML override file and merges it over the default catalog.
// An empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	override, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog file %s: %w", path, err)
	}
	return Default().Merge(override), nil
}

// Decode parses a catalog from YAML without merging defaults.
func Decode(r io.Reader) (*Catalog, error) {
	var f fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, err
	}
	scripts := make(map[models.Role][]models.TourStep, len(f.Roles))
	for name, steps := range f.Roles {
		role, ok := models.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("catalog: unsupported role %q", name)
		}
		scripts[role] = steps
	}
	return New(scripts)
}
