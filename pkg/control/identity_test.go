package control

import (
	"testing"
)

// TestHashConfigStableUnderVolatileMutation verifies that server-assigned
// fields written into a config after deployment never change its hash.
func TestHashConfigStableUnderVolatileMutation(t *testing.T) {
	config := map[string]interface{}{
		"image":   "worker:v3",
		"memory":  2048,
		"gpu":     "A4000",
		"workers": map[string]interface{}{"min": 1, "max": 4},
	}
	before := HashConfig(config)

	config["id"] = "ep-12345"
	config["endpoint_id"] = "ep-12345"
	config["template_id"] = "tpl-9"
	config["created_at"] = "2026-08-30T12:00:00Z"
	config["updated_at"] = "2026-08-30T12:05:00Z"
	config["deployed_at"] = "2026-08-30T12:05:01Z"
	config["user_id"] = "u-1"
	config["api_key"] = "secret"

	after := HashConfig(config)
	if before != after {
		t.Errorf("hash changed after volatile mutation: %s != %s", before, after)
	}
}

// TestHashConfigChangesOnSemanticChange verifies that meaningful config
// edits do change the hash.
func TestHashConfigChangesOnSemanticChange(t *testing.T) {
	config := map[string]interface{}{"image": "worker:v3", "memory": 2048}
	before := HashConfig(config)

	config["memory"] = 4096
	if HashConfig(config) == before {
		t.Error("hash did not change after a semantic config change")
	}
}

// TestHashConfigNestedMapDeterministic verifies nested maps hash by content,
// not by construction order.
func TestHashConfigNestedMapDeterministic(t *testing.T) {
	a := map[string]interface{}{
		"scaling": map[string]interface{}{"min": 1, "max": 8, "target": 0.7},
	}
	b := map[string]interface{}{
		"scaling": map[string]interface{}{"target": 0.7, "max": 8, "min": 1},
	}
	if HashConfig(a) != HashConfig(b) {
		t.Error("equal nested configs produced different hashes")
	}
}

// TestHashConfigVolatileKeysKeptInNestedMaps verifies volatile keys are only
// stripped at the top level.
func TestHashConfigVolatileKeysKeptInNestedMaps(t *testing.T) {
	a := map[string]interface{}{
		"payload": map[string]interface{}{"id": "user-data"},
	}
	b := map[string]interface{}{
		"payload": map[string]interface{}{"id": "other-data"},
	}
	if HashConfig(a) == HashConfig(b) {
		t.Error("nested id field was stripped from the hash")
	}
}

func TestResourceIdentity(t *testing.T) {
	config := map[string]interface{}{"image": "worker:v3"}

	tests := []struct {
		name      string
		typ       string
		resName   string
		config    map[string]interface{}
		wantEqual bool
	}{
		{"same inputs", "serverless.endpoint", "worker", config, true},
		{"different type", "serverless.queue", "worker", config, false},
		{"different name", "serverless.endpoint", "worker-b", config, false},
		{"different config", "serverless.endpoint", "worker", map[string]interface{}{"image": "worker:v4"}, false},
	}

	base := ResourceIdentity("serverless.endpoint", "worker", config)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResourceIdentity(tt.typ, tt.resName, tt.config)
			if (got == base) != tt.wantEqual {
				t.Errorf("identity equality = %v, want %v", got == base, tt.wantEqual)
			}
		})
	}
}

// TestResourceSpecConfigHashPrefersPersisted verifies a persisted hash wins
// over recomputation.
func TestResourceSpecConfigHashPrefersPersisted(t *testing.T) {
	spec := &ResourceSpec{
		Name:   "worker",
		Type:   "serverless.endpoint",
		Config: map[string]interface{}{"image": "worker:v3"},
		Hash:   "persisted-hash",
	}
	if got := spec.ConfigHash(); got != "persisted-hash" {
		t.Errorf("ConfigHash() = %s, want persisted-hash", got)
	}

	spec.Hash = ""
	if got := spec.ConfigHash(); got != HashConfig(spec.Config) {
		t.Errorf("ConfigHash() = %s, want computed hash", got)
	}
}
