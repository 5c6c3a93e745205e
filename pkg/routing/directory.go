package routing

import (
	"context"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// StateStoreDirectory sources the resource-name -> URL directory from the
// environment's persisted manifest in the remote state store.
type StateStoreDirectory struct {
	store control.ManifestStore
	envID string
}

// NewStateStoreDirectory creates a directory source over a manifest store.
func NewStateStoreDirectory(store control.ManifestStore, envID string) *StateStoreDirectory {
	return &StateStoreDirectory{store: store, envID: envID}
}

// FetchDirectory implements DirectorySource.
func (d *StateStoreDirectory) FetchDirectory(ctx context.Context) (map[string]string, error) {
	manifest, err := d.store.GetPersistedManifest(ctx, d.envID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(manifest.ResourceEndpoints))
	for name, url := range manifest.ResourceEndpoints {
		out[name] = url
	}
	return out, nil
}
