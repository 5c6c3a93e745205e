package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeResource is a hand-rolled DeployableResource for manager tests.
type fakeResource struct {
	name   string
	typ    string
	config map[string]interface{}
	url    string

	deploys   int32
	deployErr error

	undeployGone bool
	undeployErr  error

	unhealthy    bool
	healthErr    error
	healthChecks int32

	mu          sync.Mutex
	endpointID  string
	endpointURL string
}

func newFakeResource(name, url string) *fakeResource {
	return &fakeResource{
		name:   name,
		typ:    "serverless.endpoint",
		config: map[string]interface{}{"image": name + ":v1"},
		url:    url,
	}
}

func (f *fakeResource) Deploy(ctx context.Context) (*DeployedResource, error) {
	atomic.AddInt32(&f.deploys, 1)
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	id := "ep-" + f.name
	f.mu.Lock()
	f.endpointID = id
	f.endpointURL = f.url
	f.mu.Unlock()
	return &DeployedResource{
		Spec:        ResourceSpec{Name: f.name, Type: f.typ, Config: f.config},
		EndpointID:  id,
		EndpointURL: f.url,
		Deployed:    true,
		DeployedAt:  time.Now().UTC(),
	}, nil
}

func (f *fakeResource) Undeploy(ctx context.Context) (bool, error) {
	if f.undeployErr != nil {
		return false, f.undeployErr
	}
	return f.undeployGone, nil
}

func (f *fakeResource) IsDeployed(ctx context.Context) (bool, error) {
	atomic.AddInt32(&f.healthChecks, 1)
	return !f.unhealthy, f.healthErr
}

func (f *fakeResource) ResourceID() string {
	return ResourceIdentity(f.typ, f.name, f.config)
}

func (f *fakeResource) ConfigHash() string { return HashConfig(f.config) }
func (f *fakeResource) Name() string       { return f.name }

func (f *fakeResource) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpointID
}

func (f *fakeResource) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpointURL
}

// memStateStore is an in-memory StateStore recording save calls.
type memStateStore struct {
	mu        sync.Mutex
	resources map[string]*DeployedResource
	saveCalls int
	loadErr   error
	saveErr   error
}

func newMemStateStore() *memStateStore {
	return &memStateStore{resources: map[string]*DeployedResource{}}
}

func (s *memStateStore) LoadResources(ctx context.Context) (map[string]*DeployedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]*DeployedResource, len(s.resources))
	for k, v := range s.resources {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *memStateStore) SaveResources(ctx context.Context, resources map[string]*DeployedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saveCalls++
	s.resources = make(map[string]*DeployedResource, len(resources))
	for k, v := range resources {
		s.resources[k] = v.Clone()
	}
	return nil
}

// TestGetOrDeployResourceDeduplicatesConcurrentDeploys verifies that N
// concurrent callers for the same resource identity trigger exactly one
// provider deploy.
func TestGetOrDeployResourceDeduplicatesConcurrentDeploys(t *testing.T) {
	manager, err := NewManager(context.Background(), newMemStateStore())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	res := newFakeResource("worker", "https://ep-worker.example.com")

	const callers = 25
	var wg sync.WaitGroup
	results := make([]*DeployedResource, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = manager.GetOrDeployResource(context.Background(), res)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&res.deploys); got != 1 {
		t.Errorf("expected exactly 1 deploy, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].EndpointURL != res.url {
			t.Errorf("caller %d got URL %s, want %s", i, results[i].EndpointURL, res.url)
		}
	}
}

// TestGetOrDeployResourceReusesTrackedResource verifies sequential calls hit
// the tracked fast path.
func TestGetOrDeployResourceReusesTrackedResource(t *testing.T) {
	store := newMemStateStore()
	manager, err := NewManager(context.Background(), store)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	res := newFakeResource("worker", "https://ep-worker.example.com")

	first, err := manager.GetOrDeployResource(context.Background(), res)
	if err != nil {
		t.Fatalf("first deploy failed: %v", err)
	}
	second, err := manager.GetOrDeployResource(context.Background(), res)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if atomic.LoadInt32(&res.deploys) != 1 {
		t.Errorf("expected 1 deploy, got %d", res.deploys)
	}
	if first.EndpointID != second.EndpointID {
		t.Errorf("expected identical endpoint, got %s and %s", first.EndpointID, second.EndpointID)
	}
	if store.saveCalls != 1 {
		t.Errorf("expected 1 state save, got %d", store.saveCalls)
	}
}

// TestGetOrDeployResourceWrapsDeployError verifies provider failures are
// classified with the resource name attached.
func TestGetOrDeployResourceWrapsDeployError(t *testing.T) {
	manager, err := NewManager(context.Background(), newMemStateStore())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	res := newFakeResource("worker", "")
	res.deployErr = fmt.Errorf("provider out of capacity")

	_, err = manager.GetOrDeployResource(context.Background(), res)
	if err == nil {
		t.Fatal("expected an error")
	}

	var cerr *ControlError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a classified error, got %T", err)
	}
	if cerr.Code != ErrCodeDeployment {
		t.Errorf("expected code %s, got %s", ErrCodeDeployment, cerr.Code)
	}
	if cerr.Resource != "worker" {
		t.Errorf("expected resource context worker, got %q", cerr.Resource)
	}
	if !errors.Is(err, res.deployErr) {
		t.Error("original provider error is not in the chain")
	}
}

// TestUndeployResource exercises the idempotent-delete semantics.
func TestUndeployResource(t *testing.T) {
	tests := []struct {
		name        string
		gone        bool
		forceRemove bool
		wantSuccess bool
		wantTracked bool
	}{
		{"provider removed it", true, false, true, false},
		{"already gone, forced", false, true, true, false},
		{"already gone, not forced", false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewManager(context.Background(), newMemStateStore())
			if err != nil {
				t.Fatalf("failed to create manager: %v", err)
			}

			res := newFakeResource("worker", "https://ep-worker.example.com")
			res.undeployGone = tt.gone
			if _, err := manager.GetOrDeployResource(context.Background(), res); err != nil {
				t.Fatalf("deploy failed: %v", err)
			}

			result, err := manager.UndeployResource(context.Background(), res.ResourceID(), "worker", tt.forceRemove)
			if err != nil {
				t.Fatalf("undeploy failed: %v", err)
			}
			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantSuccess)
			}

			_, tracked := manager.ListAllResources()[res.ResourceID()]
			if tracked != tt.wantTracked {
				t.Errorf("tracked = %v, want %v", tracked, tt.wantTracked)
			}
		})
	}
}

// TestUndeployResourceNotTracked verifies untracked deletes succeed only
// under forceRemove.
func TestUndeployResourceNotTracked(t *testing.T) {
	manager, err := NewManager(context.Background(), newMemStateStore())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	result, err := manager.UndeployResource(context.Background(), "missing-id", "ghost", false)
	if err != nil {
		t.Fatalf("undeploy failed: %v", err)
	}
	if result.Success {
		t.Error("expected failure for untracked resource without forceRemove")
	}

	result, err = manager.UndeployResource(context.Background(), "missing-id", "ghost", true)
	if err != nil {
		t.Fatalf("forced undeploy failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success for untracked resource with forceRemove")
	}
}

// TestManagerLoadsPersistedState verifies snapshots load on construction and
// the resolver supplies live handles for them.
func TestManagerLoadsPersistedState(t *testing.T) {
	spec := ResourceSpec{
		Name:   "worker",
		Type:   "serverless.endpoint",
		Config: map[string]interface{}{"image": "worker:v1"},
	}
	store := newMemStateStore()
	store.resources[spec.ResourceID()] = &DeployedResource{
		Spec:        spec,
		EndpointID:  "ep-worker",
		EndpointURL: "https://ep-worker.example.com",
		Deployed:    true,
		DeployedAt:  time.Now().UTC(),
	}

	resolved := newFakeResource("worker", "https://ep-worker.example.com")
	resolved.undeployGone = true

	manager, err := NewManager(context.Background(), store,
		WithResolver(func(rec *DeployedResource) DeployableResource { return resolved }),
	)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	all := manager.ListAllResources()
	if len(all) != 1 {
		t.Fatalf("expected 1 tracked resource, got %d", len(all))
	}

	// The rehydrated handle must be usable for undeploy.
	result, err := manager.UndeployResource(context.Background(), spec.ResourceID(), "worker", false)
	if err != nil {
		t.Fatalf("undeploy failed: %v", err)
	}
	if !result.Success {
		t.Errorf("expected successful undeploy, got %s", result.Message)
	}
}

// TestGetOrDeployResourceVerifiesRehydratedEndpoint verifies a snapshot
// loaded from disk is health-checked once before being reused.
func TestGetOrDeployResourceVerifiesRehydratedEndpoint(t *testing.T) {
	resolved := newFakeResource("worker", "https://ep-worker.example.com")

	manager := managerWithSnapshot(t, resolved)

	first, err := manager.GetOrDeployResource(context.Background(), resolved)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	second, err := manager.GetOrDeployResource(context.Background(), resolved)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}

	if got := atomic.LoadInt32(&resolved.deploys); got != 0 {
		t.Errorf("healthy rehydrated endpoint was redeployed %d time(s)", got)
	}
	if got := atomic.LoadInt32(&resolved.healthChecks); got != 1 {
		t.Errorf("expected exactly 1 health check, got %d", got)
	}
	if first.EndpointURL != second.EndpointURL {
		t.Errorf("calls disagree on the endpoint: %s vs %s", first.EndpointURL, second.EndpointURL)
	}
}

// TestGetOrDeployResourceRedeploysDeadTrackedEndpoint verifies a tracked
// endpoint that fails its health check is deployed again instead of reused.
func TestGetOrDeployResourceRedeploysDeadTrackedEndpoint(t *testing.T) {
	resolved := newFakeResource("worker", "https://ep-worker-2.example.com")
	resolved.unhealthy = true

	manager := managerWithSnapshot(t, resolved)

	deployed, err := manager.GetOrDeployResource(context.Background(), resolved)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got := atomic.LoadInt32(&resolved.deploys); got != 1 {
		t.Errorf("expected 1 redeploy for the dead endpoint, got %d", got)
	}
	if deployed.EndpointURL != resolved.url {
		t.Errorf("endpoint = %s, want the redeployed URL %s", deployed.EndpointURL, resolved.url)
	}
}

// managerWithSnapshot seeds a manager with one persisted snapshot whose
// handle resolves to res.
func managerWithSnapshot(t *testing.T, res *fakeResource) *Manager {
	t.Helper()

	spec := ResourceSpec{Name: res.name, Type: res.typ, Config: res.config}
	store := newMemStateStore()
	store.resources[spec.ResourceID()] = &DeployedResource{
		Spec:        spec,
		EndpointID:  "ep-stale",
		EndpointURL: "https://stale.example.com",
		Deployed:    true,
		DeployedAt:  time.Now().UTC(),
	}

	manager, err := NewManager(context.Background(), store,
		WithResolver(func(rec *DeployedResource) DeployableResource { return res }),
	)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return manager
}

// TestFindResourcesByName verifies name lookup across distinct identities.
func TestFindResourcesByName(t *testing.T) {
	manager, err := NewManager(context.Background(), newMemStateStore())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	a := newFakeResource("worker", "https://a.example.com")
	b := newFakeResource("worker", "https://b.example.com")
	b.config = map[string]interface{}{"image": "worker:v2"}

	for _, res := range []*fakeResource{a, b} {
		if _, err := manager.GetOrDeployResource(context.Background(), res); err != nil {
			t.Fatalf("deploy failed: %v", err)
		}
	}

	found := manager.FindResourcesByName("worker")
	if len(found) != 2 {
		t.Errorf("expected 2 resources named worker, got %d", len(found))
	}
	if len(manager.FindResourcesByName("other")) != 0 {
		t.Error("expected no resources named other")
	}
}
