package remotestate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// fakeBackend is an httptest-backed manifest store with one environment and
// one build, plus injectable failures.
type fakeBackend struct {
	mu       sync.Mutex
	manifest map[string]interface{}

	// failures is the number of 500 responses to serve before succeeding.
	failures int32

	requests int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		manifest: map[string]interface{}{
			"version": "v1",
			"resources": map[string]interface{}{},
			"resources_endpoints": map[string]interface{}{},
		},
	}
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/environments/env-1/builds/active", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.requests, 1)
		if atomic.AddInt32(&b.failures, -1) >= 0 {
			http.Error(w, "backend overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "build-7"})
	})
	mux.HandleFunc("/builds/build-7/manifest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.requests, 1)
		b.mu.Lock()
		defer b.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(b.manifest)
		case http.MethodPut:
			var raw map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b.manifest = raw
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTestClient(t *testing.T, serverURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBackoffBase(time.Millisecond)}, opts...)
	client, err := NewClient(serverURL, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

// TestGetPersistedManifestRetriesTransient verifies 5xx responses are
// retried until the backend recovers.
func TestGetPersistedManifestRetriesTransient(t *testing.T) {
	backend := newFakeBackend()
	backend.failures = 2
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	var retries int32
	client := newTestClient(t, server.URL,
		WithRetryObserver(func(string) { atomic.AddInt32(&retries, 1) }))
	manifest, err := client.GetPersistedManifest(context.Background(), "env-1")
	if err != nil {
		t.Fatalf("expected the call to recover, got %v", err)
	}
	if manifest.Version != "v1" {
		t.Errorf("version = %s, want v1", manifest.Version)
	}
	if got := atomic.LoadInt32(&retries); got != 2 {
		t.Errorf("retry observer saw %d retries, want 2", got)
	}
}

// TestGetPersistedManifestExhaustsRetries verifies a persistent outage
// surfaces as the distinguished manifest-unavailable error.
func TestGetPersistedManifestExhaustsRetries(t *testing.T) {
	backend := newFakeBackend()
	backend.failures = 1000
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := newTestClient(t, server.URL, WithMaxRetries(3))
	_, err := client.GetPersistedManifest(context.Background(), "env-1")
	if !control.IsManifestUnavailable(err) {
		t.Fatalf("expected manifest-unavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error does not mention the attempt count: %v", err)
	}
	if got := atomic.LoadInt32(&backend.requests); got != 3 {
		t.Errorf("expected 3 attempts, backend saw %d", got)
	}
}

// TestGetPersistedManifestMissingBuild verifies a 404 on the active build is
// not retried and reports the manifest missing.
func TestGetPersistedManifestMissingBuild(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	start := time.Now()
	_, err := client.GetPersistedManifest(context.Background(), "env-1")
	if !control.IsManifestMissing(err) {
		t.Fatalf("expected manifest-missing, got %v", err)
	}
	if control.IsManifestUnavailable(err) {
		t.Error("a definitive 404 must not look like a backend outage")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("404 appears to have been retried (%s elapsed)", elapsed)
	}
}

// TestUpdateResourceStatePreservesUnknownFields verifies the shallow merge
// keeps fields the client does not know about.
func TestUpdateResourceStatePreservesUnknownFields(t *testing.T) {
	backend := newFakeBackend()
	backend.manifest["billing_tag"] = "team-ml"
	backend.manifest["resources"] = map[string]interface{}{
		"worker": map[string]interface{}{
			"resource_type": "serverless.endpoint",
			"gpu_class":     "A4000",
		},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.UpdateResourceState(context.Background(), "env-1", "worker", map[string]interface{}{
		"last_error":   "image pull failed",
		"endpoint_url": "https://worker.example.com",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.manifest["billing_tag"] != "team-ml" {
		t.Error("top-level unknown field was dropped by the merge")
	}
	worker := backend.manifest["resources"].(map[string]interface{})["worker"].(map[string]interface{})
	if worker["gpu_class"] != "A4000" {
		t.Error("resource field not supplied in the update was dropped")
	}
	if worker["last_error"] != "image pull failed" {
		t.Errorf("last_error = %v, want the supplied value", worker["last_error"])
	}
	endpoints := backend.manifest["resources_endpoints"].(map[string]interface{})
	if endpoints["worker"] != "https://worker.example.com" {
		t.Errorf("endpoint_url did not land in the endpoints map: %v", endpoints)
	}
}

// TestConcurrentUpdatesSameEnvironment verifies per-environment
// serialization: concurrent read-modify-write updates never lose each other.
func TestConcurrentUpdatesSameEnvironment(t *testing.T) {
	backend := newFakeBackend()
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)

	names := []string{"alpha", "beta", "gamma", "delta"}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = client.UpdateResourceState(context.Background(), "env-1", name, map[string]interface{}{
				"last_error": "failed: " + name,
			})
		}(i, name)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("update %s failed: %v", names[i], err)
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	resources := backend.manifest["resources"].(map[string]interface{})
	for _, name := range names {
		if _, ok := resources[name]; !ok {
			t.Errorf("update for %s was lost", name)
		}
	}
}

// TestRemoveResourceState verifies removal deletes both the resource entry
// and its endpoint.
func TestRemoveResourceState(t *testing.T) {
	backend := newFakeBackend()
	backend.manifest["resources"] = map[string]interface{}{
		"worker": map[string]interface{}{"resource_type": "serverless.endpoint"},
		"api":    map[string]interface{}{"resource_type": "serverless.endpoint"},
	}
	backend.manifest["resources_endpoints"] = map[string]interface{}{
		"worker": "https://worker.example.com",
		"api":    "https://api.example.com",
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.RemoveResourceState(context.Background(), "env-1", "worker"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	resources := backend.manifest["resources"].(map[string]interface{})
	if _, ok := resources["worker"]; ok {
		t.Error("removed resource still present")
	}
	if _, ok := resources["api"]; !ok {
		t.Error("sibling resource was removed too")
	}
	endpoints := backend.manifest["resources_endpoints"].(map[string]interface{})
	if _, ok := endpoints["worker"]; ok {
		t.Error("removed resource's endpoint still present")
	}
}

// TestPutManifestSingleMutation verifies PutManifest writes the typed
// manifest in one PUT.
func TestPutManifestSingleMutation(t *testing.T) {
	backend := newFakeBackend()
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)

	manifest := control.NewManifest("v2")
	manifest.Resources["worker"] = &control.ResourceSpec{
		Name: "worker",
		Type: "serverless.endpoint",
		Hash: "abc123",
	}
	manifest.ResourceEndpoints["worker"] = "https://worker.example.com"

	if err := client.PutManifest(context.Background(), "env-1", manifest); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := client.GetPersistedManifest(context.Background(), "env-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Version != "v2" {
		t.Errorf("version = %s, want v2", got.Version)
	}
	if got.Resources["worker"].Hash != "abc123" {
		t.Errorf("hash = %s, want abc123", got.Resources["worker"].Hash)
	}
	if got.Endpoint("worker") != "https://worker.example.com" {
		t.Errorf("endpoint = %s", got.Endpoint("worker"))
	}
}
