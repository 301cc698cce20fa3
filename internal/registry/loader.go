package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk model catalog format.
type Catalog struct {
	Models []Descriptor `yaml:"models"`
}

// LoadFile reads a YAML catalog. Credentials may reference environment
// variables as ${NAME}.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) ([]Descriptor, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	for i := range catalog.Models {
		catalog.Models[i].Credential = os.ExpandEnv(catalog.Models[i].Credential)
		if err := catalog.Models[i].Validate(); err != nil {
			return nil, fmt.Errorf("model catalog entry %d: %w", i, err)
		}
	}
	return catalog.Models, nil
}

// RegisterAll registers every descriptor, stopping at the first error.
func (r *Registry) RegisterAll(descriptors []Descriptor) error {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
