package localstate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

func sampleResources() map[string]*control.DeployedResource {
	return map[string]*control.DeployedResource{
		"id-worker": {
			Spec: control.ResourceSpec{
				Name:   "worker",
				Type:   "serverless.endpoint",
				Config: map[string]interface{}{"image": "worker:v1"},
			},
			EndpointID:  "ep-1",
			EndpointURL: "https://worker.example.com",
			Deployed:    true,
			DeployedAt:  time.Now().UTC().Truncate(time.Second),
		},
	}
}

// TestFileStoreRoundTrip saves and reloads a snapshot.
func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "resources.json")
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.SaveResources(ctx, sampleResources()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.LoadResources(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rec, ok := loaded["id-worker"]
	if !ok {
		t.Fatal("saved resource missing after reload")
	}
	if rec.Spec.Name != "worker" || rec.EndpointURL != "https://worker.example.com" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.Deployed {
		t.Error("deployed flag was lost")
	}
}

// TestFileStoreMissingFileIsEmpty verifies a fresh path loads as empty
// state.
func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	loaded, err := store.LoadResources(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty state, got %d entries", len(loaded))
	}
}

// TestFileStoreSaveReplacesAtomically verifies saves leave no temp file and
// fully replace prior state.
func TestFileStoreSaveReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.json")
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.SaveResources(ctx, sampleResources()); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := store.SaveResources(ctx, map[string]*control.DeployedResource{}); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}

	loaded, err := store.LoadResources(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("old entries survived the replace: %v", loaded)
	}
}

// TestFileStoreConcurrentSaves verifies concurrent writers leave a
// decodable, consistent file.
func TestFileStoreConcurrentSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.json")
	store := NewFileStore(path)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.SaveResources(ctx, sampleResources()); err != nil {
				t.Errorf("save failed: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded, err := store.LoadResources(ctx)
	if err != nil {
		t.Fatalf("load after concurrent saves failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("expected 1 entry, got %d", len(loaded))
	}
}

// TestManifestFileRoundTrip writes and reads the local manifest artifact.
func TestManifestFileRoundTrip(t *testing.T) {
	file := NewManifestFile(filepath.Join(t.TempDir(), "out", "manifest.json"))

	manifest := control.NewManifest("v1")
	manifest.Resources["worker"] = &control.ResourceSpec{
		Name: "worker",
		Type: "serverless.endpoint",
		Hash: "abc",
	}
	manifest.ResourceEndpoints["worker"] = "https://worker.example.com"

	if err := file.WriteManifest(manifest); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := file.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Version != "v1" {
		t.Errorf("version = %s, want v1", got.Version)
	}
	if got.Resources["worker"].Hash != "abc" {
		t.Errorf("hash = %s, want abc", got.Resources["worker"].Hash)
	}
	if got.Endpoint("worker") != "https://worker.example.com" {
		t.Errorf("endpoint = %s", got.Endpoint("worker"))
	}
}

// TestManifestFileRejectsNil verifies nil manifests are refused.
func TestManifestFileRejectsNil(t *testing.T) {
	file := NewManifestFile(filepath.Join(t.TempDir(), "manifest.json"))
	if err := file.WriteManifest(nil); err == nil {
		t.Error("expected an error for a nil manifest")
	}
}
