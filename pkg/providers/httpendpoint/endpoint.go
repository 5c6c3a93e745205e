package httpendpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// Endpoint is a serverless endpoint managed through the provider API.
// It implements control.DeployableResource.
type Endpoint struct {
	// spec is the declared resource this endpoint realizes.
	spec *control.ResourceSpec

	// client performs the management API calls.
	client *ProviderClient

	// mu guards the server-assigned fields below.
	mu sync.Mutex

	// endpointID is the server-assigned endpoint id.
	endpointID string

	// endpointURL is the server-assigned invocation URL.
	endpointURL string
}

// New wraps a declared resource spec in a provider-backed endpoint.
func New(client *ProviderClient, spec *control.ResourceSpec) *Endpoint {
	return &Endpoint{
		spec:   spec,
		client: client,
	}
}

// FromSpecs builds an endpoint per declared resource, keyed by name.
func FromSpecs(client *ProviderClient, specs map[string]*control.ResourceSpec) map[string]control.DeployableResource {
	resources := make(map[string]control.DeployableResource, len(specs))
	for name, spec := range specs {
		resources[name] = New(client, spec)
	}
	return resources
}

// Resolver returns a control.Resolver that rehydrates endpoints from
// persisted deployment records, so a restarted manager can health-check
// and undeploy resources it did not create in this process.
func Resolver(client *ProviderClient) control.Resolver {
	return func(rec *control.DeployedResource) control.DeployableResource {
		if rec == nil {
			return nil
		}
		ep := New(client, rec.Spec.Clone())
		ep.endpointID = rec.EndpointID
		ep.endpointURL = rec.EndpointURL
		return ep
	}
}

// Deploy creates the endpoint on the provider and records the assigned
// id and URL.
func (e *Endpoint) Deploy(ctx context.Context) (*control.DeployedResource, error) {
	rec, err := e.client.CreateEndpoint(ctx, e.spec.Name, e.spec.Type, e.spec.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint for %s: %w", e.spec.Name, err)
	}

	e.mu.Lock()
	e.endpointID = rec.ID
	e.endpointURL = rec.URL
	e.mu.Unlock()

	return &control.DeployedResource{
		Spec:        *e.spec.Clone(),
		EndpointID:  rec.ID,
		EndpointURL: rec.URL,
		Deployed:    true,
		DeployedAt:  time.Now().UTC(),
	}, nil
}

// Undeploy deletes the endpoint. A provider 404 means the endpoint is
// already gone and reports success=false without error.
func (e *Endpoint) Undeploy(ctx context.Context) (bool, error) {
	e.mu.Lock()
	id := e.endpointID
	e.mu.Unlock()

	if id == "" {
		return false, nil
	}

	err := e.client.DeleteEndpoint(ctx, id)
	if errors.Is(err, errEndpointNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete endpoint %s: %w", id, err)
	}

	e.mu.Lock()
	e.endpointID = ""
	e.endpointURL = ""
	e.mu.Unlock()
	return true, nil
}

// IsDeployed asks the provider whether the endpoint exists and is
// healthy.
func (e *Endpoint) IsDeployed(ctx context.Context) (bool, error) {
	e.mu.Lock()
	id := e.endpointID
	e.mu.Unlock()

	if id == "" {
		return false, nil
	}

	rec, err := e.client.GetEndpoint(ctx, id)
	if errors.Is(err, errEndpointNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check endpoint %s: %w", id, err)
	}
	switch strings.ToLower(rec.Status) {
	case "", "healthy", "ready", "running":
		return true, nil
	default:
		return false, nil
	}
}

// ResourceID is the identity hash over semantically relevant fields.
func (e *Endpoint) ResourceID() string { return e.spec.ResourceID() }

// ConfigHash is the hash of the config with volatile fields excluded.
func (e *Endpoint) ConfigHash() string { return e.spec.ConfigHash() }

// Name is the logical resource name.
func (e *Endpoint) Name() string { return e.spec.Name }

// ID is the server-assigned endpoint id, empty before deploy.
func (e *Endpoint) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endpointID
}

// URL is the endpoint invocation URL, empty before deploy.
func (e *Endpoint) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endpointURL
}
