package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// declaredFile is the on-disk YAML format operators declare resources in.
type declaredFile struct {
	Version   string                  `yaml:"version"`
	Resources map[string]declaredSpec `yaml:"resources"`
}

type declaredSpec struct {
	Type       string                 `yaml:"type"`
	Config     map[string]interface{} `yaml:"config"`
	Mothership bool                   `yaml:"mothership"`
}

// loadDeclaredManifest parses a declared manifest file into the control
// plane's manifest type.
func loadDeclaredManifest(path string) (*control.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var file declaredFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(file.Resources) == 0 {
		return nil, fmt.Errorf("manifest %s declares no resources", path)
	}

	manifest := control.NewManifest(file.Version)
	for name, spec := range file.Resources {
		if spec.Type == "" {
			return nil, fmt.Errorf("resource %s is missing a type", name)
		}
		manifest.Resources[name] = &control.ResourceSpec{
			Name:         name,
			Type:         spec.Type,
			Config:       spec.Config,
			IsMothership: spec.Mothership,
		}
	}
	return manifest, nil
}
