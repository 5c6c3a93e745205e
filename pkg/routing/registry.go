// Package routing decides, per function call, whether execution stays local
// or is forwarded to a remote serverless endpoint, and protects remote
// calls behind per-endpoint circuit breakers.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// SelfResourceEnv is the environment variable carrying this process's own
// resource identity inside a deployed endpoint.
const SelfResourceEnv = "CLOUDBURST_RESOURCE_NAME"

// DefaultDirectoryTTL is how long a fetched directory stays fresh.
const DefaultDirectoryTTL = 60 * time.Second

// FunctionBinding maps a registered function to the resource that owns it.
type FunctionBinding struct {
	// Resource is the owning resource name.
	Resource string `json:"resource"`

	// ResourceType is the owning resource's type.
	ResourceType string `json:"resource_type"`
}

// BuildManifest is the immutable artifact produced by the build step: every
// registered function and the resource it runs on.
type BuildManifest struct {
	// Version identifies the build.
	Version string `json:"version"`

	// Functions maps function name to its binding.
	Functions map[string]FunctionBinding `json:"functions"`
}

// LoadBuildManifest reads a build manifest from disk.
func LoadBuildManifest(path string) (*BuildManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build manifest %s: %w", path, err)
	}
	var manifest BuildManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode build manifest %s: %w", path, err)
	}
	if manifest.Functions == nil {
		manifest.Functions = map[string]FunctionBinding{}
	}
	return &manifest, nil
}

// DirectorySource fetches the mutable resource-name -> endpoint-URL
// directory from an external source.
type DirectorySource interface {
	FetchDirectory(ctx context.Context) (map[string]string, error)
}

// ServiceRegistry answers routing questions: it holds the immutable build
// manifest loaded once at startup and a TTL-cached directory refreshed from
// a DirectorySource. Callers refresh the cache, they never mutate it.
type ServiceRegistry struct {
	manifest *BuildManifest
	self     string
	source   DirectorySource
	ttl      time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	entries  map[string]string
	loadedAt time.Time

	watcher *fsnotify.Watcher
}

// RegistryOption configures a ServiceRegistry.
type RegistryOption func(*ServiceRegistry)

// WithDirectoryTTL overrides the directory cache TTL.
func WithDirectoryTTL(ttl time.Duration) RegistryOption {
	return func(r *ServiceRegistry) { r.ttl = ttl }
}

// WithSelfResource overrides the process identity read from the runtime
// environment.
func WithSelfResource(name string) RegistryOption {
	return func(r *ServiceRegistry) { r.self = name }
}

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(log zerolog.Logger) RegistryOption {
	return func(r *ServiceRegistry) { r.log = log }
}

// NewServiceRegistry creates a registry over an already-loaded build
// manifest and a directory source. The process identity defaults to the
// runtime identity environment variable.
func NewServiceRegistry(manifest *BuildManifest, source DirectorySource, opts ...RegistryOption) (*ServiceRegistry, error) {
	if manifest == nil {
		return nil, control.NewValidationError("build manifest is required", nil)
	}
	if source == nil {
		return nil, control.NewValidationError("directory source is required", nil)
	}

	r := &ServiceRegistry{
		manifest: manifest,
		self:     os.Getenv(SelfResourceEnv),
		source:   source,
		ttl:      DefaultDirectoryTTL,
		log:      zerolog.Nop(),
		entries:  map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsLocalFunction reports whether a call to fnName should run in-process.
// A function unknown to the build manifest fails open to local execution.
func (r *ServiceRegistry) IsLocalFunction(fnName string) bool {
	binding, ok := r.binding(fnName)
	if !ok {
		return true
	}
	return binding.Resource == r.self
}

// binding looks up a function's binding under the registry lock; the
// manifest pointer may be swapped by a dev-mode hot reload.
func (r *ServiceRegistry) binding(fnName string) (FunctionBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.manifest.Functions[fnName]
	return b, ok
}

// EndpointForFunction resolves the endpoint URL for a remote call. It
// returns the empty string for local calls and an error when the function
// is wholly absent from the build manifest.
func (r *ServiceRegistry) EndpointForFunction(ctx context.Context, fnName string) (string, error) {
	binding, ok := r.binding(fnName)
	if !ok {
		return "", control.NewNotFoundError(
			fmt.Sprintf("function %q is not in the build manifest", fnName))
	}
	if binding.Resource == r.self {
		return "", nil
	}

	if err := r.RefreshDirectory(ctx, false); err != nil {
		return "", err
	}

	r.mu.RLock()
	url := r.entries[binding.Resource]
	r.mu.RUnlock()
	if url == "" {
		return "", control.NewNotFoundError(
			fmt.Sprintf("no endpoint recorded for resource %q owning function %q", binding.Resource, fnName))
	}
	return url, nil
}

// RefreshDirectory fetches the directory when it is stale (older than the
// TTL) or when force is set.
func (r *ServiceRegistry) RefreshDirectory(ctx context.Context, force bool) error {
	r.mu.RLock()
	fresh := !force && !r.loadedAt.IsZero() && time.Since(r.loadedAt) < r.ttl
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	entries, err := r.source.FetchDirectory(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch service directory: %w", err)
	}

	r.mu.Lock()
	r.entries = entries
	r.loadedAt = time.Now()
	r.mu.Unlock()

	r.log.Debug().Int("entries", len(entries)).Msg("service directory refreshed")
	return nil
}

// WatchManifest hot-reloads the build manifest when the file changes. Meant
// for development environments; deployed endpoints treat the manifest as
// immutable.
func (r *ServiceRegistry) WatchManifest(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				manifest, err := LoadBuildManifest(path)
				if err != nil {
					r.log.Warn().Err(err).Msg("failed to reload build manifest")
					continue
				}
				r.mu.Lock()
				r.manifest = manifest
				r.mu.Unlock()
				r.log.Info().Str("path", path).Msg("build manifest reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("manifest watcher error")
			}
		}
	}()
	return nil
}

// Close stops the manifest watcher if one is running.
func (r *ServiceRegistry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
