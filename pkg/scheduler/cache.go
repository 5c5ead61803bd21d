package scheduler

import (
	"sort"
	"time"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

// DefaultCacheTTL is how long a batch is reused for the same mode.
const DefaultCacheTTL = 5 * time.Second

// cache holds at most one batch per actual extraction mode. It is guarded by
// the scheduler's mutex.
type cache struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[core.ExtractionMode]cacheEntry
}

type cacheEntry struct {
	elements   []core.Element
	capturedAt time.Time
}

// CacheInfo describes one cache entry.
type CacheInfo struct {
	Mode  core.ExtractionMode `json:"mode"`
	Count int                 `json:"count"`
	Age   time.Duration       `json:"age"`
	Fresh bool                `json:"fresh"`
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{ttl: ttl, now: now, entries: make(map[core.ExtractionMode]cacheEntry)}
}

// get returns the batch for mode if it was captured less than ttl ago.
func (c *cache) get(mode core.ExtractionMode) (cacheEntry, bool) {
	e, ok := c.entries[mode]
	if !ok || c.ttl <= 0 {
		return cacheEntry{}, false
	}
	if c.now().Sub(e.capturedAt) >= c.ttl {
		return cacheEntry{}, false
	}
	return e, true
}

func (c *cache) put(mode core.ExtractionMode, elements []core.Element) cacheEntry {
	e := cacheEntry{elements: elements, capturedAt: c.now()}
	c.entries[mode] = e
	return e
}

func (c *cache) clear() {
	c.entries = make(map[core.ExtractionMode]cacheEntry)
}

func (c *cache) info() []CacheInfo {
	now := c.now()
	out := make([]CacheInfo, 0, len(c.entries))
	for mode, e := range c.entries {
		age := now.Sub(e.capturedAt)
		out = append(out, CacheInfo{Mode: mode, Count: len(e.elements), Age: age, Fresh: c.ttl > 0 && age < c.ttl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out
}
