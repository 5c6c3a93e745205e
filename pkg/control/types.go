package control

import (
	"time"
)

// ResourceSpec describes a declared compute resource before deployment.
type ResourceSpec struct {
	// Name is the logical key of the resource inside a manifest. It is not
	// unique across manifests; two environments may both declare "worker".
	Name string `json:"name"`

	// Type is the resource type (e.g., "serverless.endpoint").
	Type string `json:"resource_type"`

	// Config is the desired configuration for this resource. The control
	// plane treats it as opaque except for identity hashing, which excludes
	// server-assigned fields (see VolatileConfigKeys).
	Config map[string]interface{} `json:"config"`

	// IsMothership marks the designated entry-point resource that may
	// self-provision sibling resources at runtime.
	IsMothership bool `json:"is_mothership"`

	// Hash is the persisted config hash for this spec. It is filled in when
	// a manifest is written; ConfigHash() computes it from Config when empty.
	Hash string `json:"config_hash,omitempty"`

	// LastError records the most recent provisioning failure for this
	// resource in the self-provisioning flow.
	LastError string `json:"last_error,omitempty"`
}

// ResourceID returns the identity hash of the spec computed over its
// semantically relevant fields only. Server-assigned fields written into
// Config by a deploy step never perturb the result, so the value is stable
// across the spec's lifetime.
func (s *ResourceSpec) ResourceID() string {
	return ResourceIdentity(s.Type, s.Name, s.Config)
}

// ConfigHash returns the persisted hash when present, otherwise computes the
// hash of Config with volatile fields excluded.
func (s *ResourceSpec) ConfigHash() string {
	if s.Hash != "" {
		return s.Hash
	}
	return HashConfig(s.Config)
}

// Clone returns a deep copy of the spec.
func (s *ResourceSpec) Clone() *ResourceSpec {
	out := *s
	out.Config = cloneConfig(s.Config)
	return &out
}

// DeployedResource is a ResourceSpec that has been provisioned on a
// provider. It is created when a deploy succeeds and removed from tracking
// on undeploy.
type DeployedResource struct {
	// Spec is the declared spec this deployment satisfies.
	Spec ResourceSpec `json:"spec"`

	// EndpointID is the server-assigned identifier of the endpoint.
	EndpointID string `json:"endpoint_id"`

	// EndpointURL is the base URL calls are routed to.
	EndpointURL string `json:"endpoint_url"`

	// Deployed reports whether the endpoint is live on the provider.
	Deployed bool `json:"deployed"`

	// DeployedAt is when the deploy completed.
	DeployedAt time.Time `json:"deployed_at"`
}

// Clone returns a deep copy of the deployed resource.
func (d *DeployedResource) Clone() *DeployedResource {
	out := *d
	out.Spec = *d.Spec.Clone()
	return &out
}

// Manifest is the mapping of resource names to specs and endpoints for one
// environment. Two manifests exist per environment: the declared manifest
// produced by the build step, and the persisted manifest holding the last
// reconciled state.
type Manifest struct {
	// Version identifies the manifest schema/build version.
	Version string `json:"version"`

	// Resources maps resource name to its declared spec.
	Resources map[string]*ResourceSpec `json:"resources"`

	// ResourceEndpoints maps resource name to its resolved endpoint URL.
	ResourceEndpoints map[string]string `json:"resources_endpoints"`
}

// NewManifest returns an empty manifest with initialized maps.
func NewManifest(version string) *Manifest {
	return &Manifest{
		Version:           version,
		Resources:         make(map[string]*ResourceSpec),
		ResourceEndpoints: make(map[string]string),
	}
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	out := NewManifest(m.Version)
	for name, spec := range m.Resources {
		out.Resources[name] = spec.Clone()
	}
	for name, url := range m.ResourceEndpoints {
		out.ResourceEndpoints[name] = url
	}
	return out
}

// Endpoint returns the persisted endpoint URL for a resource name, or the
// empty string when none was recorded.
func (m *Manifest) Endpoint(name string) string {
	if m == nil || m.ResourceEndpoints == nil {
		return ""
	}
	return m.ResourceEndpoints[name]
}

// UndeployResult reports the outcome of an undeploy request.
type UndeployResult struct {
	// Success is true when the resource is no longer tracked.
	Success bool `json:"success"`

	// Message is a human-readable description of the outcome.
	Message string `json:"message"`
}

func cloneConfig(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneConfig(nested)
			continue
		}
		out[k] = v
	}
	return out
}
