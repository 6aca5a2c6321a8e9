// Package cache implements the content-addressed File Hash Cache: a
// thread-safe, write-once-per-key map from (content-hash, ruleset-id) to the
// Analyzer findings produced for that exact file content.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/pmdminer/pmdminer/internal/model"
)

// Cache is the shared File Hash Cache. The zero value is not usable; use
// New(). A coarse-grained mutex is sufficient at this scale, matching the
// spec's explicit allowance.
type Cache struct {
	mu   sync.RWMutex
	data map[model.CacheKey][]model.Finding
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{data: map[model.CacheKey][]model.Finding{}}
}

// Get returns the cached findings for key and whether they were present.
func (c *Cache) Get(key model.CacheKey) ([]model.Finding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Put stores findings for key. Write-once: a Put for a key that is already
// present is a no-op and the first value is kept (the Analyzer is
// deterministic for identical input, so two workers racing on the same
// miss produce byte-equal results and it does not matter which lands first).
func (c *Cache) Put(key model.CacheKey, findings []model.Finding) {
	if findings == nil {
		findings = []model.Finding{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; exists {
		return
	}
	c.data[key] = findings
}

// Len reports the number of cached keys, for diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// HashBytes computes the content hash used to form a CacheKey: SHA-256 of
// the raw bytes, truncated to 128 bits and hex-encoded. Collisions for this
// use are negligible, and truncating keeps keys short in the persisted
// cache file.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:16])
}
