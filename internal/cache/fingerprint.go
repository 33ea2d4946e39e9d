package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint deterministically canonicalizes a request into a cache key:
// map keys are sorted and integer values normalized before serialization,
// so logically identical params hash the same. Temperature is hashed like
// any other param; whether a request is cached at all is decided
// separately by IsCacheable.
func Fingerprint(modelID string, params map[string]any) string {
	canonical := canonicalize(params)
	payload, _ := json.Marshal(struct {
		Model  string         `json:"model"`
		Params map[string]any `json:"params"`
	}{Model: modelID, Params: canonical})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// canonicalize walks v recursively, sorting map keys and normalizing
// numeric types (int vs float64 both become float64, matching what
// encoding/json would decode either into) so two logically identical
// requests produce byte-identical fingerprints regardless of how the
// caller happened to construct the Go value.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

// IsCacheable reports whether a request is eligible for caching at all:
// an explicit cacheable flag decides in either direction when present;
// without one, only a temperature of exactly 0 is cacheable.
func IsCacheable(temperature float64, explicitCacheable *bool) bool {
	if explicitCacheable != nil {
		return *explicitCacheable
	}
	return temperature == 0
}
