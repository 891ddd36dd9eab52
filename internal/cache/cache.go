// Package cache holds rendered heatmap snapshots and the hooks that
// invalidate them when grid cells are rebuilt.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/saferoute/internal/model"
)

// KeyPrefix namespaces snapshot keys.
const KeyPrefix = "safety:snapshot:"

// DefaultTTL is how long a snapshot stays fresh.
const DefaultTTL = time.Hour

// SnapshotCache is a concurrent-safe LRU cache of snapshots with TTL
// expiration. Each entry remembers the months its lookback window covered so
// a rebuild of one month drops only the snapshots that read it.
type SnapshotCache struct {
	mu         sync.RWMutex
	entries    map[string]*snapshotEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type snapshotEntry struct {
	snap      *model.Snapshot
	months    []time.Time
	createdAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewSnapshotCache creates a SnapshotCache. A zero ttl uses DefaultTTL.
func NewSnapshotCache(maxEntries int, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &SnapshotCache{
		entries:    make(map[string]*snapshotEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Key builds the cache key for a snapshot query. An empty timeFilter is
// keyed as "none".
func Key(bbox model.BBox, lookbackMonths int, timeFilter string) string {
	if timeFilter == "" {
		timeFilter = "none"
	}
	raw := fmt.Sprintf("%s,%s,%s,%s:%d:%s",
		ftoa(bbox.MinLng), ftoa(bbox.MinLat), ftoa(bbox.MaxLng), ftoa(bbox.MaxLat),
		lookbackMonths, timeFilter)
	sum := sha256.Sum256([]byte(raw))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Get retrieves a cached snapshot. Returns nil on miss or expiration.
func (c *SnapshotCache) Get(key string) *model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	if c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.snap
}

// Put stores a snapshot, evicting the least recently used entry if at
// capacity. The covered months are derived from the snapshot's lookback.
func (c *SnapshotCache) Put(key string, snap *model.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &snapshotEntry{snap: snap, months: coveredMonths(now, snap.Meta.LookbackMonths), createdAt: now}

	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

// InvalidateKey drops a single snapshot.
func (c *SnapshotCache) InvalidateKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// InvalidateAll drops every snapshot.
func (c *SnapshotCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*snapshotEntry)
	c.order = nil
	return nil
}

// InvalidateMonth drops the snapshots whose lookback window included month.
func (c *SnapshotCache) InvalidateMonth(_ context.Context, month time.Time) error {
	month = model.MonthStart(month)

	c.mu.Lock()
	defer c.mu.Unlock()

	var remaining []string
	for _, key := range c.order {
		if covers(c.entries[key].months, month) {
			delete(c.entries, key)
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
	return nil
}

// Stats returns cache performance statistics.
func (c *SnapshotCache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *SnapshotCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func coveredMonths(now time.Time, lookback int) []time.Time {
	cur := model.MonthStart(now)
	months := make([]time.Time, 0, lookback)
	for i := 0; i < lookback; i++ {
		months = append(months, cur.AddDate(0, -i, 0))
	}
	return months
}

func covers(months []time.Time, month time.Time) bool {
	for _, m := range months {
		if m.Equal(month) {
			return true
		}
	}
	return false
}
