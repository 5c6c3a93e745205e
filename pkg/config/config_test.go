package config

import (
	"strings"
	"testing"
	"time"
)

// TestParseMinimal tests that a minimal config gets defaults applied
func TestParseMinimal(t *testing.T) {
	data := []byte(`
environment_id: env-prod-1
remote_store:
  base_url: https://api.example.com/v1
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.EnvironmentID != "env-prod-1" {
		t.Errorf("environment_id = %q", cfg.EnvironmentID)
	}
	if cfg.RemoteStore.BaseURL != "https://api.example.com/v1" {
		t.Errorf("remote_store.base_url = %q", cfg.RemoteStore.BaseURL)
	}
	if cfg.RemoteStore.MaxRetries != 5 {
		t.Errorf("expected default max_retries 5, got %d", cfg.RemoteStore.MaxRetries)
	}
	if cfg.RemoteStore.BackoffBase.Std() != time.Second {
		t.Errorf("expected default backoff_base 1s, got %s", cfg.RemoteStore.BackoffBase)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.SuccessThreshold != 2 {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Reconcile.Timeout.Std() != 600*time.Second {
		t.Errorf("expected default reconcile timeout 600s, got %s", cfg.Reconcile.Timeout)
	}
	if cfg.StatePath != ".cloudburst/state.json" {
		t.Errorf("state_path = %q", cfg.StatePath)
	}
	if !cfg.History.Enabled {
		t.Error("expected history enabled by default")
	}
}

// TestParseOverrides tests that explicit values replace defaults
func TestParseOverrides(t *testing.T) {
	data := []byte(`
environment_id: env-1
remote_store:
  base_url: https://api.example.com
  max_retries: 3
  backoff_base: 250ms
  request_timeout: 10s
breaker:
  failure_threshold: 7
  success_threshold: 3
  timeout: 2m
routing:
  directory_ttl: 30s
  self_resource: mothership
invoke:
  poll_interval: 500ms
  max_polls: 20
reconcile:
  timeout: 5m
history:
  enabled: false
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}

	if cfg.RemoteStore.MaxRetries != 3 {
		t.Errorf("max_retries = %d", cfg.RemoteStore.MaxRetries)
	}
	if cfg.RemoteStore.BackoffBase.Std() != 250*time.Millisecond {
		t.Errorf("backoff_base = %s", cfg.RemoteStore.BackoffBase)
	}
	if cfg.Breaker.Timeout.Std() != 2*time.Minute {
		t.Errorf("breaker timeout = %s", cfg.Breaker.Timeout)
	}
	if cfg.Routing.DirectoryTTL.Std() != 30*time.Second {
		t.Errorf("directory_ttl = %s", cfg.Routing.DirectoryTTL)
	}
	if cfg.Routing.SelfResource != "mothership" {
		t.Errorf("self_resource = %q", cfg.Routing.SelfResource)
	}
	if cfg.Invoke.PollInterval.Std() != 500*time.Millisecond || cfg.Invoke.MaxPolls != 20 {
		t.Errorf("unexpected invoke config: %+v", cfg.Invoke)
	}
	if cfg.Reconcile.Timeout.Std() != 5*time.Minute {
		t.Errorf("reconcile timeout = %s", cfg.Reconcile.Timeout)
	}
	if cfg.History.Enabled {
		t.Error("expected history disabled")
	}
}

// TestParseEnvExpansion tests ${NAME} expansion in config values
func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("CLOUDBURST_TEST_API_KEY", "sk-secret-123")

	data := []byte(`
environment_id: env-1
remote_store:
  base_url: https://api.example.com
  api_key: ${CLOUDBURST_TEST_API_KEY}
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.RemoteStore.APIKey != "sk-secret-123" {
		t.Errorf("api_key = %q", cfg.RemoteStore.APIKey)
	}
}

// TestParseValidation tests structural validation failures
func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantSub string
	}{
		{
			name:    "missing environment id",
			data:    "remote_store:\n  base_url: https://api.example.com\n",
			wantSub: "EnvironmentID",
		},
		{
			name:    "invalid remote store url",
			data:    "environment_id: env-1\nremote_store:\n  base_url: not a url\n",
			wantSub: "BaseURL",
		},
		{
			name:    "zero breaker threshold",
			data:    "environment_id: env-1\nremote_store:\n  base_url: https://api.example.com\nbreaker:\n  failure_threshold: 0\n",
			wantSub: "FailureThreshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %s", err, tt.wantSub)
			}
		})
	}
}

// TestParseBadDuration tests that malformed durations are rejected
func TestParseBadDuration(t *testing.T) {
	data := []byte(`
environment_id: env-1
remote_store:
  base_url: https://api.example.com
  backoff_base: quickly
`)

	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "quickly") {
		t.Errorf("error %q does not mention the bad value", err)
	}
}

// TestParseBadYAML tests that malformed YAML is rejected
func TestParseBadYAML(t *testing.T) {
	_, err := Parse([]byte("environment_id: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

// TestDurationMarshal tests round-tripping a Duration through YAML
func TestDurationMarshal(t *testing.T) {
	out, err := Duration(90 * time.Second).MarshalYAML()
	if err != nil {
		t.Fatalf("failed to marshal duration: %v", err)
	}
	if out != "1m30s" {
		t.Errorf("marshaled duration = %v, want 1m30s", out)
	}
}
