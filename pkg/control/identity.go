package control

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// VolatileConfigKeys are the server-assigned and runtime fields excluded
// from identity hashing. A deploy step writing these into a config (for
// example the assigned endpoint id) must never perturb the resource's
// identity, so hashes stay stable across the object's lifetime.
var VolatileConfigKeys = map[string]struct{}{
	"id":          {},
	"endpoint_id": {},
	"template_id": {},
	"api_key":     {},
	"user_id":     {},
	"created_at":  {},
	"updated_at":  {},
	"deployed_at": {},
}

// HashConfig returns the hex-encoded SHA-256 of the config with volatile
// keys stripped and remaining keys serialized in sorted order.
func HashConfig(config map[string]interface{}) string {
	sum := sha256.Sum256([]byte(canonicalize(config)))
	return hex.EncodeToString(sum[:])
}

// ResourceIdentity returns the identity hash of a resource computed over its
// type, name, and non-volatile config.
func ResourceIdentity(resourceType, name string, config map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(resourceType)
	b.WriteByte('\x00')
	b.WriteString(name)
	b.WriteByte('\x00')
	b.WriteString(canonicalize(config))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalize renders a config map deterministically: volatile keys are
// dropped, the rest emitted as key=json pairs in sorted key order. Nested
// maps are canonicalized recursively so map iteration order never leaks
// into the hash.
func canonicalize(config map[string]interface{}) string {
	if len(config) == 0 {
		return ""
	}
	keys := make([]string, 0, len(config))
	for k := range config {
		if _, volatile := VolatileConfigKeys[k]; volatile {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if nested, ok := config[k].(map[string]interface{}); ok {
			b.WriteByte('{')
			b.WriteString(canonicalizeNested(nested))
			b.WriteByte('}')
			continue
		}
		raw, err := json.Marshal(config[k])
		if err != nil {
			// Unmarshalable values still need a deterministic rendering.
			b.WriteString("?")
			continue
		}
		b.Write(raw)
	}
	return b.String()
}

// canonicalizeNested handles nested maps. Volatile keys are only stripped at
// the top level; nested structures are user payload and hash as-is.
func canonicalizeNested(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if nested, ok := m[k].(map[string]interface{}); ok {
			b.WriteByte('{')
			b.WriteString(canonicalizeNested(nested))
			b.WriteByte('}')
			continue
		}
		raw, err := json.Marshal(m[k])
		if err != nil {
			b.WriteString("?")
			continue
		}
		b.Write(raw)
	}
	return b.String()
}
