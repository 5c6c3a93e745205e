// Package remotestate implements the retrying client for the remote
// manifest store: the durable home of each environment's persisted
// manifest, reached through an unreliable HTTP backend.
//
// The backend model is opaque to the rest of the control plane: an
// environment resolves to its active build, a build owns one manifest JSON
// document, and a single mutation call overwrites a build's manifest.
package remotestate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudburst-io/cloudburst/pkg/control"
)

// DefaultMaxRetries is how many attempts a store call makes before failing
// with a manifest-unavailable error.
const DefaultMaxRetries = 5

// Client talks to the remote manifest store. All mutating calls for the
// same environment are serialized by a per-environment mutex so concurrent
// reconciliation of multiple resources never loses an update to the shared
// manifest.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	// backoffBase scales the exponential retry delay; tests shrink it.
	backoffBase time.Duration
	retryObs    func(operation string)
	log         zerolog.Logger

	envMu sync.Mutex
	envs  map[string]*sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (timeouts included).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithAPIKey sets the bearer token sent to the backend.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBackoffBase overrides the unit of the exponential backoff. The nth
// retry is delayed by backoffBase * 2^(n-1); the default unit is one second.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithRetryObserver reports every retry with the HTTP method being retried,
// typically to a metrics collector.
func WithRetryObserver(obs func(operation string)) Option {
	return func(c *Client) { c.retryObs = obs }
}

// NewClient creates a manifest store client for the given backend base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, control.NewValidationError("manifest store base URL is required", nil)
	}

	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  DefaultMaxRetries,
		backoffBase: time.Second,
		log:         zerolog.Nop(),
		envs:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetPersistedManifest resolves the environment's active build and returns
// its manifest. A missing build or manifest yields a distinguished
// manifest-unavailable error.
func (c *Client) GetPersistedManifest(ctx context.Context, envID string) (*control.Manifest, error) {
	raw, err := c.getRawManifest(ctx, envID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode manifest: %w", err)
	}
	var manifest control.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for environment %q: %w", envID, err)
	}
	if manifest.Resources == nil {
		manifest.Resources = map[string]*control.ResourceSpec{}
	}
	if manifest.ResourceEndpoints == nil {
		manifest.ResourceEndpoints = map[string]string{}
	}
	for name, spec := range manifest.Resources {
		if spec.Name == "" {
			spec.Name = name
		}
	}
	return &manifest, nil
}

// PutManifest overwrites the environment's persisted manifest in a single
// mutation.
func (c *Client) PutManifest(ctx context.Context, envID string, manifest *control.Manifest) error {
	mu := c.envLock(envID)
	mu.Lock()
	defer mu.Unlock()

	buildID, err := c.activeBuild(ctx, envID)
	if err != nil {
		return err
	}
	return c.writeManifest(ctx, buildID, manifest)
}

// UpdateResourceState shallow-merges the given fields into the persisted
// entry for one resource via read-modify-write. Fields not supplied are
// preserved. An "endpoint_url" field also updates the endpoints map.
func (c *Client) UpdateResourceState(ctx context.Context, envID, name string, fields map[string]interface{}) error {
	mu := c.envLock(envID)
	mu.Lock()
	defer mu.Unlock()

	raw, err := c.getRawManifest(ctx, envID)
	if err != nil {
		return err
	}

	resources := rawChild(raw, "resources")
	entry, ok := resources[name].(map[string]interface{})
	if !ok {
		entry = map[string]interface{}{}
	}
	for k, v := range fields {
		if k == "endpoint_url" {
			endpoints := rawChild(raw, "resources_endpoints")
			endpoints[name] = v
			raw["resources_endpoints"] = endpoints
			continue
		}
		entry[k] = v
	}
	resources[name] = entry
	raw["resources"] = resources

	buildID, err := c.activeBuild(ctx, envID)
	if err != nil {
		return err
	}
	return c.writeRawManifest(ctx, buildID, raw)
}

// RemoveResourceState deletes the persisted entry for one resource via
// read-modify-write.
func (c *Client) RemoveResourceState(ctx context.Context, envID, name string) error {
	mu := c.envLock(envID)
	mu.Lock()
	defer mu.Unlock()

	raw, err := c.getRawManifest(ctx, envID)
	if err != nil {
		return err
	}

	resources := rawChild(raw, "resources")
	delete(resources, name)
	raw["resources"] = resources

	endpoints := rawChild(raw, "resources_endpoints")
	delete(endpoints, name)
	raw["resources_endpoints"] = endpoints

	buildID, err := c.activeBuild(ctx, envID)
	if err != nil {
		return err
	}
	return c.writeRawManifest(ctx, buildID, raw)
}

// envLock returns the mutex serializing all store calls for one
// environment, creating it on first use.
func (c *Client) envLock(envID string) *sync.Mutex {
	c.envMu.Lock()
	defer c.envMu.Unlock()
	mu, ok := c.envs[envID]
	if !ok {
		mu = &sync.Mutex{}
		c.envs[envID] = mu
	}
	return mu
}

// activeBuild resolves the environment's active build id.
func (c *Client) activeBuild(ctx context.Context, envID string) (string, error) {
	var build struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/environments/%s/builds/active", c.baseURL, envID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &build); err != nil {
		if isNotFound(err) {
			return "", control.NewManifestMissingError(envID, err)
		}
		return "", err
	}
	if build.ID == "" {
		return "", control.NewManifestMissingError(envID, nil)
	}
	return build.ID, nil
}

func (c *Client) getRawManifest(ctx context.Context, envID string) (map[string]interface{}, error) {
	buildID, err := c.activeBuild(ctx, envID)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	url := fmt.Sprintf("%s/builds/%s/manifest", c.baseURL, buildID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &raw); err != nil {
		if isNotFound(err) {
			return nil, control.NewManifestMissingError(envID, err)
		}
		return nil, err
	}
	if raw == nil {
		return nil, control.NewManifestMissingError(envID, nil)
	}
	return raw, nil
}

func (c *Client) writeManifest(ctx context.Context, buildID string, manifest *control.Manifest) error {
	url := fmt.Sprintf("%s/builds/%s/manifest", c.baseURL, buildID)
	return c.doJSON(ctx, http.MethodPut, url, manifest, nil)
}

func (c *Client) writeRawManifest(ctx context.Context, buildID string, raw map[string]interface{}) error {
	url := fmt.Sprintf("%s/builds/%s/manifest", c.baseURL, buildID)
	return c.doJSON(ctx, http.MethodPut, url, raw, nil)
}

// doJSON performs one JSON request with the retry policy: transient errors
// (timeouts, connection failures, 5xx responses) are retried up to the
// budget with exponential backoff, the nth retry delayed by
// backoffBase * 2^(n-1).
func (c *Client) doJSON(ctx context.Context, method, url string, body, out interface{}) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if c.retryObs != nil {
				c.retryObs(method)
			}
			delay := c.backoffBase * time.Duration(math.Pow(2, float64(attempt-1)))
			c.log.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying manifest store call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doOnce(ctx, method, url, encoded, out)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return control.NewManifestUnavailableError(c.maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &transientError{err: fmt.Errorf("manifest store returned %d: %s", resp.StatusCode, data)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("manifest store returned %d: %s", resp.StatusCode, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode manifest store response: %w", err)
		}
	}
	return nil
}

var errNotFound = errors.New("not found")

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func rawChild(raw map[string]interface{}, key string) map[string]interface{} {
	if child, ok := raw[key].(map[string]interface{}); ok {
		return child
	}
	return map[string]interface{}{}
}
