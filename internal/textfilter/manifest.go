package textfilter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes a packaged WASM text filter.
type Manifest struct {
	Metadata Metadata    `yaml:"metadata"`
	Runtime  RuntimeSpec `yaml:"runtime"`
	Limits   Limits      `yaml:"limits,omitempty"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

type RuntimeSpec struct {
	Mode       string `yaml:"mode"`
	Module     string `yaml:"module"`
	Entrypoint string `yaml:"entrypoint"`
}

type Limits struct {
	// MaxOutputBytes caps what the module may emit for one chapter.
	// Zero means the default cap.
	MaxOutputBytes int `yaml:"max_output_bytes,omitempty"`
}

// LoadManifest reads a filter manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// ValidateManifest ensures the manifest carries required fields.
func ValidateManifest(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if m.Runtime.Mode == "" {
		return fmt.Errorf("runtime.mode is required")
	}
	switch m.Runtime.Mode {
	case "wasm":
		if m.Runtime.Module == "" {
			return fmt.Errorf("runtime.module is required for wasm")
		}
		if m.Runtime.Entrypoint == "" {
			return fmt.Errorf("runtime.entrypoint is required for wasm")
		}
	default:
		return fmt.Errorf("runtime.mode %q not supported", m.Runtime.Mode)
	}
	if m.Limits.MaxOutputBytes < 0 {
		return fmt.Errorf("limits.max_output_bytes must not be negative")
	}
	return nil
}
