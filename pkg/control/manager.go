package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Resolver rebuilds a DeployableResource handle from a persisted snapshot so
// resources loaded from the local state file can still be undeployed.
type Resolver func(*DeployedResource) DeployableResource

// Manager deploys and undeploys resources exactly once under concurrency and
// tracks the local persisted state. It exclusively owns the local resource
// map and its backing store; callers never mutate either directly.
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*managedResource
	locks    *lockRegistry
	store    StateStore
	resolver Resolver
	log      zerolog.Logger
}

// managedResource pairs a deployed snapshot with the live capability handle
// used to reach the provider. The handle is nil for entries rehydrated from
// disk when no resolver is configured. verified is set once this process has
// either performed the deploy itself or health-checked the endpoint; the
// lock-free fast path trusts only verified entries.
type managedResource struct {
	deployed *DeployedResource
	handle   DeployableResource
	verified bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithResolver installs the handle resolver used for snapshots loaded from
// the local state store.
func WithResolver(r Resolver) ManagerOption {
	return func(m *Manager) { m.resolver = r }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a Manager backed by the given local state store and
// loads any previously persisted snapshots.
func NewManager(ctx context.Context, store StateStore, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, NewValidationError("state store is required", nil)
	}

	m := &Manager{
		entries: make(map[string]*managedResource),
		locks:   newLockRegistry(),
		store:   store,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	loaded, err := store.LoadResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted resources: %w", err)
	}
	for id, dep := range loaded {
		entry := &managedResource{deployed: dep}
		if m.resolver != nil {
			entry.handle = m.resolver(dep)
		}
		m.entries[id] = entry
	}

	m.log.Debug().Int("resources", len(m.entries)).Msg("resource manager initialized")
	return m, nil
}

// GetOrDeployResource returns the deployed resource for the given spec,
// deploying it when necessary. N concurrent calls with the same resource
// identity result in exactly one underlying deploy invocation; every caller
// receives an equivalent deployed resource.
func (m *Manager) GetOrDeployResource(ctx context.Context, res DeployableResource) (*DeployedResource, error) {
	resourceID := res.ResourceID()

	// Fast path: a tracked, healthy resource is returned without any
	// network call.
	if dep := m.trackedHealthy(resourceID); dep != nil {
		return dep, nil
	}

	lock := m.locks.lockFor(resourceID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the deploy lock: another caller may have finished the
	// deploy while we waited.
	if dep := m.trackedHealthy(resourceID); dep != nil {
		return dep, nil
	}

	// A snapshot rehydrated from disk is unverified: confirm the endpoint
	// is still live before reusing it, redeploy when it is not.
	if dep := m.verifyTracked(ctx, resourceID); dep != nil {
		return dep, nil
	}

	m.log.Info().
		Str("resource", res.Name()).
		Str("resource_id", resourceID).
		Msg("deploying resource")

	deployed, err := res.Deploy(ctx)
	if err != nil {
		return nil, NewDeploymentError(res.Name(), err)
	}
	if deployed.DeployedAt.IsZero() {
		deployed.DeployedAt = time.Now().UTC()
	}
	deployed.Deployed = true

	m.mu.Lock()
	m.entries[resourceID] = &managedResource{deployed: deployed, handle: res, verified: true}
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		m.log.Error().Err(err).Str("resource", res.Name()).Msg("failed to persist resource state")
		return nil, err
	}

	m.log.Info().
		Str("resource", res.Name()).
		Str("endpoint_url", deployed.EndpointURL).
		Msg("resource deployed")
	return deployed.Clone(), nil
}

// UndeployResource tears down a tracked resource. When the provider reports
// the remote object already gone and forceRemove is set, tracking is still
// removed and the call reports success, giving cleanup flows idempotent
// delete semantics.
func (m *Manager) UndeployResource(ctx context.Context, resourceID, name string, forceRemove bool) (*UndeployResult, error) {
	m.mu.RLock()
	entry, ok := m.entries[resourceID]
	m.mu.RUnlock()

	if !ok {
		return &UndeployResult{
			Success: forceRemove,
			Message: fmt.Sprintf("resource %q is not tracked", name),
		}, nil
	}

	removed := false
	if entry.handle != nil {
		gone, err := entry.handle.Undeploy(ctx)
		if err != nil {
			return &UndeployResult{Success: false, Message: err.Error()},
				fmt.Errorf("failed to undeploy resource %q: %w", name, err)
		}
		removed = gone
	}

	if !removed && !forceRemove {
		return &UndeployResult{
			Success: false,
			Message: fmt.Sprintf("resource %q was not removed by the provider", name),
		}, nil
	}

	m.mu.Lock()
	delete(m.entries, resourceID)
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("resource %q undeployed", name)
	if !removed {
		msg = fmt.Sprintf("resource %q no longer exists remotely, tracking removed", name)
	}
	m.log.Info().Str("resource", name).Str("resource_id", resourceID).Msg("resource undeployed")
	return &UndeployResult{Success: true, Message: msg}, nil
}

// ListAllResources returns a defensive copy of every tracked resource keyed
// by resource identity.
func (m *Manager) ListAllResources() map[string]*DeployedResource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*DeployedResource, len(m.entries))
	for id, entry := range m.entries {
		out[id] = entry.deployed.Clone()
	}
	return out
}

// FindResourcesByName returns every tracked resource whose name matches
// exactly. Multiple entries may share a display name while differing in
// identity and config.
func (m *Manager) FindResourcesByName(name string) []*DeployedResource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DeployedResource
	for _, entry := range m.entries {
		if entry.deployed.Spec.Name == name {
			out = append(out, entry.deployed.Clone())
		}
	}
	return out
}

// trackedHealthy returns a copy of the tracked deployment when it exists,
// is marked deployed, and has been verified by this process.
func (m *Manager) trackedHealthy(resourceID string) *DeployedResource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[resourceID]
	if !ok || !entry.verified || !entry.deployed.Deployed {
		return nil
	}
	return entry.deployed.Clone()
}

// verifyTracked health-checks a tracked but unverified deployment, typically
// one rehydrated from the local state file. A live endpoint is marked
// verified and reused; a dead or unreachable one is left for the caller to
// redeploy. Called under the per-resource deploy lock.
func (m *Manager) verifyTracked(ctx context.Context, resourceID string) *DeployedResource {
	m.mu.RLock()
	entry, ok := m.entries[resourceID]
	m.mu.RUnlock()
	if !ok || entry.handle == nil {
		return nil
	}

	healthy, err := entry.handle.IsDeployed(ctx)
	if err != nil || !healthy {
		m.log.Warn().
			Err(err).
			Str("resource_id", resourceID).
			Msg("tracked endpoint failed its health check, redeploying")
		return nil
	}

	m.mu.Lock()
	entry.verified = true
	entry.deployed.Deployed = true
	dep := entry.deployed.Clone()
	m.mu.Unlock()
	return dep
}

func (m *Manager) persist(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make(map[string]*DeployedResource, len(m.entries))
	for id, entry := range m.entries {
		snapshot[id] = entry.deployed.Clone()
	}
	m.mu.RUnlock()

	return m.store.SaveResources(ctx, snapshot)
}

// Process-scoped default manager, constructed once via double-checked
// locking and replaceable for tests through ResetDefaultManager.
var (
	defaultManagerMu sync.Mutex
	defaultManager   atomic.Pointer[Manager]
)

// InitDefaultManager constructs the process-wide manager on first call and
// returns the existing one afterwards.
func InitDefaultManager(ctx context.Context, store StateStore, opts ...ManagerOption) (*Manager, error) {
	if m := defaultManager.Load(); m != nil {
		return m, nil
	}
	defaultManagerMu.Lock()
	defer defaultManagerMu.Unlock()
	if m := defaultManager.Load(); m != nil {
		return m, nil
	}
	m, err := NewManager(ctx, store, opts...)
	if err != nil {
		return nil, err
	}
	defaultManager.Store(m)
	return m, nil
}

// DefaultManager returns the process-wide manager, or nil before
// InitDefaultManager has run.
func DefaultManager() *Manager {
	return defaultManager.Load()
}

// ResetDefaultManager clears the process-wide manager.
func ResetDefaultManager() {
	defaultManagerMu.Lock()
	defer defaultManagerMu.Unlock()
	defaultManager.Store(nil)
}
