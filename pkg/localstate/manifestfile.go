package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// ManifestFile reads and writes the local manifest artifact: the declared
// resources plus the endpoint URLs resolved by the last reconciliation.
type ManifestFile struct {
	path string
}

// NewManifestFile creates a manifest file handle for the given path.
func NewManifestFile(path string) *ManifestFile {
	return &ManifestFile{path: path}
}

// Path returns the backing file path.
func (m *ManifestFile) Path() string {
	return m.path
}

// Read loads the manifest from disk.
func (m *ManifestFile) Read() (*control.Manifest, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", m.path, err)
	}
	var manifest control.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", m.path, err)
	}
	if manifest.Resources == nil {
		manifest.Resources = map[string]*control.ResourceSpec{}
	}
	if manifest.ResourceEndpoints == nil {
		manifest.ResourceEndpoints = map[string]string{}
	}
	// Resource names live in the map keys on disk.
	for name, spec := range manifest.Resources {
		if spec.Name == "" {
			spec.Name = name
		}
	}
	return &manifest, nil
}

// WriteManifest writes the manifest atomically, creating parent directories
// as needed. It implements control.ManifestWriter.
func (m *ManifestFile) WriteManifest(manifest *control.Manifest) error {
	if manifest == nil {
		return errors.New("manifest is nil")
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
