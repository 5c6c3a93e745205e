package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cloudburst-io/cloudburst/pkg/telemetry"
)

// Config is the top-level cloudburst framework configuration.
type Config struct {
	// EnvironmentID identifies the environment whose manifest this
	// control plane manages.
	EnvironmentID string `yaml:"environment_id" validate:"required"`

	// StatePath is the local deployment-state file used by the
	// deployment manager between runs.
	StatePath string `yaml:"state_path"`

	// ManifestPath is where the reconciler mirrors the persisted
	// manifest locally after a successful run.
	ManifestPath string `yaml:"manifest_path"`

	// RemoteStore configures the remote state-store client.
	RemoteStore RemoteStoreConfig `yaml:"remote_store"`

	// Provider configures the serverless provider management API used
	// to create and delete endpoints.
	Provider ProviderConfig `yaml:"provider"`

	// Breaker configures the per-endpoint circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`

	// Routing configures the runtime routing layer.
	Routing RoutingConfig `yaml:"routing"`

	// Invoke configures the remote invocation client.
	Invoke InvokeConfig `yaml:"invoke"`

	// Reconcile configures reconciliation runs.
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// History configures the local run-history store.
	History HistoryConfig `yaml:"history"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// RemoteStoreConfig configures access to the backend state store.
type RemoteStoreConfig struct {
	// BaseURL is the root URL of the backend API.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// APIKey authenticates requests against the backend.
	APIKey string `yaml:"api_key"`

	// MaxRetries bounds the retry loop for transient failures.
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=20"`

	// BackoffBase is the delay before the first retry; it doubles on
	// every subsequent attempt.
	BackoffBase Duration `yaml:"backoff_base"`

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// ProviderConfig configures the provider's endpoint management API.
type ProviderConfig struct {
	// BaseURL is the root URL of the management API.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKey authenticates management requests.
	APIKey string `yaml:"api_key"`
}

// BreakerConfig configures circuit-breaker behavior shared by all
// endpoints.
type BreakerConfig struct {
	// FailureThreshold is the number of failures inside the window
	// that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" validate:"gt=0"`

	// SuccessThreshold is the number of half-open successes that
	// close the circuit again.
	SuccessThreshold int `yaml:"success_threshold" validate:"gt=0"`

	// Timeout is both the failure-counting window and the cooldown
	// before a half-open probe is allowed.
	Timeout Duration `yaml:"timeout" validate:"gt=0"`
}

// RoutingConfig configures how the routing layer resolves functions.
type RoutingConfig struct {
	// BuildManifestPath points at the build manifest listing every
	// function and the resource it belongs to.
	BuildManifestPath string `yaml:"build_manifest_path"`

	// DirectoryTTL is how long cached endpoint entries stay fresh.
	DirectoryTTL Duration `yaml:"directory_ttl" validate:"gt=0"`

	// SelfResource overrides the resource identity normally read
	// from the environment.
	SelfResource string `yaml:"self_resource"`

	// WatchManifest reloads the build manifest when the file changes.
	WatchManifest bool `yaml:"watch_manifest"`
}

// InvokeConfig configures the async invocation poll loop.
type InvokeConfig struct {
	// PollInterval is the fixed delay between status polls.
	PollInterval Duration `yaml:"poll_interval" validate:"gt=0"`

	// MaxPolls bounds the number of status polls per job.
	MaxPolls int `yaml:"max_polls" validate:"gt=0"`
}

// ReconcileConfig configures reconciliation runs.
type ReconcileConfig struct {
	// Timeout is the overall deadline for a reconciliation run.
	Timeout Duration `yaml:"timeout" validate:"gt=0"`
}

// HistoryConfig configures the SQLite run-history store.
type HistoryConfig struct {
	// Enabled turns run-history recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// Default returns a configuration with all defaults applied. The
// environment ID and remote store URL still have to be provided.
func Default() *Config {
	return &Config{
		StatePath:    ".cloudburst/state.json",
		ManifestPath: ".cloudburst/manifest.json",
		RemoteStore: RemoteStoreConfig{
			MaxRetries:     5,
			BackoffBase:    Duration(time.Second),
			RequestTimeout: Duration(30 * time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          Duration(60 * time.Second),
		},
		Routing: RoutingConfig{
			BuildManifestPath: "build_manifest.json",
			DirectoryTTL:      Duration(60 * time.Second),
		},
		Invoke: InvokeConfig{
			PollInterval: Duration(2 * time.Second),
			MaxPolls:     150,
		},
		Reconcile: ReconcileConfig{
			Timeout: Duration(600 * time.Second),
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    ".cloudburst/history.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads, expands, parses, and validates the configuration file at
// path. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: field %s failed %s validation", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
