package variable

import "sync"

// CacheKey identifies one memoized concatenation result: a particular
// variable, for a particular target type, for a particular target name
// (§4.B: "Caches are keyed by (value pointer, target-type, target-name)").
type CacheKey struct {
	Variable   *Variable
	TargetType string
	TargetName string
}

// Cache memoizes the recursive stem-concatenation used by target-type/
// pattern-specific values and, separately, by override resolution. Each
// entry records the version of its stem at the time it was computed; once
// the stem's version advances (BumpStem), stale entries are treated as
// misses without needing to be proactively scanned and evicted. The same
// scheme backs both the type/pattern cache and the per-root override
// cache, as two independent Cache instances (§4.B).
type Cache struct {
	mu       sync.Mutex
	versions map[string]uint64
	entries  map[CacheKey]cacheEntry
}

type cacheEntry struct {
	stemVersion uint64
	value       Value
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		versions: make(map[string]uint64),
		entries:  make(map[CacheKey]cacheEntry),
	}
}

// StemVersion returns the current version counter for the named stem.
func (c *Cache) StemVersion(stemKey string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[stemKey]
}

// BumpStem advances the version counter for the named stem, invalidating
// every cache entry that was computed against an earlier version of it.
func (c *Cache) BumpStem(stemKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[stemKey]++
}

// Get returns the cached value for key if it was computed at the stem's
// current version, else reports a miss.
func (c *Cache) Get(key CacheKey, stemKey string) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.stemVersion != c.versions[stemKey] {
		return Value{}, false
	}
	return e.value, true
}

// Set stores v for key, stamped with the stem's current version.
func (c *Cache) Set(key CacheKey, stemKey string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{stemVersion: c.versions[stemKey], value: v}
}
