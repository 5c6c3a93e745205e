// Package localstate persists the control plane's local state: the
// resourceID -> DeployedResource snapshot file owned by the resource
// manager, and the local manifest file with resolved endpoint URLs.
//
// The snapshot file may be shared by multiple worker threads and by
// independent processes, so writers take an exclusive OS advisory lock and
// readers a shared one, with a bounded wait-and-retry loop and a lock-file
// fallback for filesystems without flock support.
package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

const (
	// lockRetryInterval is the pause between lock acquisition attempts.
	lockRetryInterval = 50 * time.Millisecond

	// lockWait bounds how long a caller waits for the advisory lock.
	lockWait = 10 * time.Second

	// staleLockAge is when a fallback lock file is considered abandoned.
	staleLockAge = 30 * time.Second
)

// FileStore stores resource snapshots in a single JSON file.
type FileStore struct {
	path string
}

// stateFile is the on-disk layout of the snapshot file.
type stateFile struct {
	Version   string                                `json:"version"`
	Resources map[string]*control.DeployedResource `json:"resources"`
	UpdatedAt time.Time                             `json:"updated_at"`
}

// NewFileStore creates a store backed by the given file path. Parent
// directories are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadResources reads all tracked snapshots under a shared lock. A missing
// file is an empty state, not an error.
func (s *FileStore) LoadResources(ctx context.Context) (map[string]*control.DeployedResource, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*control.DeployedResource{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()

	unlock, err := lockFile(ctx, f, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var state stateFile
	if err := json.NewDecoder(f).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", s.path, err)
	}
	if state.Resources == nil {
		state.Resources = map[string]*control.DeployedResource{}
	}
	return state.Resources, nil
}

// SaveResources atomically replaces the snapshot file under an exclusive
// lock: the new state is written to a temp file and renamed into place.
func (s *FileStore) SaveResources(ctx context.Context, resources map[string]*control.DeployedResource) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()

	unlock, err := lockFile(ctx, f, true)
	if err != nil {
		return err
	}
	defer unlock()

	state := stateFile{
		Version:   "1",
		Resources: resources,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// lockFile acquires an advisory lock on f, exclusive for writers and shared
// for readers, retrying within the bounded wait. When the OS primitive is
// unavailable it falls back to a sibling lock file.
func lockFile(ctx context.Context, f *os.File, exclusive bool) (func(), error) {
	deadline := time.Now().Add(lockWait)
	for {
		unlock, err := tryFlock(f, exclusive)
		if err == nil {
			return unlock, nil
		}
		if errors.Is(err, errFlockUnsupported) {
			return lockWithFile(ctx, f.Name(), deadline)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock on %s: %w", f.Name(), err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// lockWithFile is the fallback mechanism: an O_EXCL lock file next to the
// state file. Stale lock files older than staleLockAge are broken.
func lockWithFile(ctx context.Context, path string, deadline time.Time) (func(), error) {
	lockPath := path + ".lock"
	for {
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(lf, "%d\n", os.Getpid())
			lf.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock file %s", lockPath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
