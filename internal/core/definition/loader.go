package definition

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Load reads a definition file from disk.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	if d.URL == "" {
		return nil, fmt.Errorf("definition %s: url is required", path)
	}
	if d.Method == "" {
		d.Method = "GET"
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return &d, nil
}

// Save writes a definition back to disk.
func Save(path string, d *Definition) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding definition: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing definition: %w", err)
	}
	return nil
}
