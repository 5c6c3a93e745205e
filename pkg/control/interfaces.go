package control

import (
	"context"
)

// DeployableResource is the capability the control plane consumes to
// provision compute. The core is polymorphic over this interface and never
// inspects concrete resource types: anything with a stable identity that can
// be deployed, undeployed, and report health can be managed.
type DeployableResource interface {
	// Deploy provisions the resource on its provider and returns the
	// deployed record. Implementations write server-assigned fields (the
	// endpoint id, the URL) back into their own state.
	Deploy(ctx context.Context) (*DeployedResource, error)

	// Undeploy tears the resource down. It returns false without error when
	// the remote object no longer exists.
	Undeploy(ctx context.Context) (bool, error)

	// IsDeployed reports whether the remote object is live and healthy.
	IsDeployed(ctx context.Context) (bool, error)

	// ResourceID is the identity hash over semantically relevant fields.
	ResourceID() string

	// ConfigHash is the hash of the config with server-assigned fields
	// excluded.
	ConfigHash() string

	// Name is the logical resource name inside its manifest.
	Name() string

	// ID is the server-assigned endpoint id, empty before deploy.
	ID() string

	// URL is the endpoint base URL, empty before deploy.
	URL() string
}

// StateStore persists the local resourceID -> DeployedResource snapshots the
// Manager owns. Implementations must be safe against concurrent writers in
// other OS threads and other processes sharing the same backing file.
type StateStore interface {
	// LoadResources reads all tracked snapshots.
	LoadResources(ctx context.Context) (map[string]*DeployedResource, error)

	// SaveResources atomically replaces the tracked snapshots.
	SaveResources(ctx context.Context, resources map[string]*DeployedResource) error
}

// ManifestStore is the remote, durable home of the persisted manifest for
// each environment. All mutations for the same environment are serialized by
// the implementation.
type ManifestStore interface {
	// GetPersistedManifest fetches the last reconciled manifest for an
	// environment. It fails with a manifest-missing error when the
	// environment has no active build or manifest, and a
	// manifest-unavailable error when the store cannot be reached.
	GetPersistedManifest(ctx context.Context, envID string) (*Manifest, error)

	// PutManifest overwrites the environment's persisted manifest in a
	// single mutation.
	PutManifest(ctx context.Context, envID string, manifest *Manifest) error

	// UpdateResourceState shallow-merges the given fields into the persisted
	// entry for one resource, preserving fields not supplied.
	UpdateResourceState(ctx context.Context, envID, name string, fields map[string]interface{}) error

	// RemoveResourceState deletes the persisted entry for one resource.
	RemoveResourceState(ctx context.Context, envID, name string) error
}

// ManifestWriter emits the local manifest file with resolved endpoint URLs
// after a successful reconciliation.
type ManifestWriter interface {
	WriteManifest(manifest *Manifest) error
}

// RunRecorder receives the audit trail of a reconciliation run. The sqlite
// history store implements it; a nil recorder disables history.
type RunRecorder interface {
	// StartRun opens a run record and returns its id.
	StartRun(ctx context.Context, envID string, flow Flow) (string, error)

	// RecordResource records the outcome of one resource's action.
	RecordResource(ctx context.Context, runID, name, resourceType string,
		action ReconcileAction, endpointURL string, resErr error) error

	// FinishRun closes the run record.
	FinishRun(ctx context.Context, runID string, runErr error) error
}
