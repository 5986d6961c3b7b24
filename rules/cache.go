package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// QueryListCache caches previewed query plans. Only the preview path uses
// it; execution always adapts rules afresh.
type QueryListCache interface {
	// Get returns the cached plan for key, nil on miss or expiry.
	Get(key string) []RuleQueries

	// Set stores plan under key.
	Set(key string, plan []RuleQueries)

	// Invalidate drops every entry.
	Invalidate()

	// Len returns the number of live entries.
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// MaxEntries bounds the cache; 0 means unbounded.
	MaxEntries int
}

// DefaultCacheConfig returns the preview cache defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 256,
	}
}

// PreviewKey derives a stable cache key from a run request. Rule order is
// significant, option order is not.
func PreviewKey(req RunRequest) string {
	names := make([]string, 0, len(req.Rules))
	for _, d := range req.Rules {
		names = append(names, d.Name)
	}
	keys := make([]string, 0, len(req.Options))
	for k := range req.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([][2]any, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, [2]any{k, req.Options[k]})
	}

	raw, err := json.Marshal(struct {
		Target  Target
		Rules   []string
		Options [][2]any
	}{req.Target, names, opts})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
