// Package cache implements a three-tier embedding cache: a hot in-memory
// tier of raw vectors, a warm tier of zstd-compressed vectors, and a cold
// tier backed by the Tier-3 mmap store.
// Gets promote on hit; puts demote on eviction. Callers key by (model_id,
// segment_hash) exactly as C4 does, so distinct embedding models never
// collide in the same vector space.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/semcore/internal/fingerprint"
	"github.com/fyrsmithlabs/semcore/internal/mmapstore"
	"github.com/fyrsmithlabs/semcore/internal/semerr"
)

// Key identifies a cache entry: a segment hash scoped to the embedding model
// that produced (or will produce) its vector.
type Key struct {
	ModelID     string
	SegmentHash string
}

// Config enumerates the cache's tunables.
type Config struct {
	L1MaxBytes int64
	L2MaxBytes int64
	L3Enabled  bool
	TTL        time.Duration
}

// DefaultConfig returns the cache's recommended tunables.
func DefaultConfig() Config {
	return Config{
		L1MaxBytes: 2 << 20,
		L2MaxBytes: 5 << 20,
		L3Enabled:  true,
		TTL:        300 * time.Second,
	}
}

type entry struct {
	insertedAt   time.Time
	lastAccessed time.Time
	accessCount  int64
}

type l1Entry struct {
	entry
	vector []float32
}

type l2Entry struct {
	entry
	blob []byte // zstd-compressed, as produced by fingerprint.CompressVector
}

type l3Entry struct {
	entry
	slotID uint32
}

// Stats holds the per-tier hit/miss/promotion/eviction counters.
type Stats struct {
	L1Hits, L1Misses     int64
	L2Hits, L2Misses     int64
	L3Hits, L3Misses     int64
	Promotions, Evictions int64
}

// HitRate returns the L1-only hit rate, targeted at >=95% steady state.
func (s Stats) HitRate() float64 {
	total := s.L1Hits + s.L1Misses
	if total == 0 {
		return 0
	}
	return float64(s.L1Hits) / float64(total)
}

// Cache is the hierarchical L1/L2/L3 cache. It owns every entry it holds;
// C4 only ever reads through Get/Put.
type Cache struct {
	cfg Config

	mu sync.Mutex
	l1 *lru.Cache[Key, *l1Entry]
	l2 *lru.Cache[Key, *l2Entry]
	l3 *lru.Cache[Key, *l3Entry]

	l1Bytes, l2Bytes int64

	mmap *mmapstore.Store // nil when L3Enabled is false

	stats Stats
}

// estimateVectorBytes approximates the raw in-memory footprint of a vector
// for budget accounting: 4 bytes per float32 element.
func estimateVectorBytes(v []float32) int64 { return int64(len(v)) * 4 }

// New builds a cache. store may be nil only when cfg.L3Enabled is false.
func New(cfg Config, store *mmapstore.Store) (*Cache, error) {
	if cfg.L3Enabled && store == nil {
		return nil, semerr.Newf(semerr.Config, "cache: l3_enabled but no mmap store provided")
	}

	// Capacity is nominal (golang-lru requires a positive bound); real
	// eviction is byte-budget driven via l1Bytes/l2Bytes, checked after
	// every insert, so these capacities are set generously high.
	l1, _ := lru.New[Key, *l1Entry](1 << 20)
	l2, _ := lru.New[Key, *l2Entry](1 << 20)
	l3, _ := lru.New[Key, *l3Entry](1 << 20)

	return &Cache{cfg: cfg, l1: l1, l2: l2, l3: l3, mmap: store}, nil
}

func (c *Cache) expired(e entry) bool {
	if c.cfg.TTL <= 0 {
		return false
	}
	return time.Since(e.insertedAt) > c.cfg.TTL
}

// Get implements the promotion ladder: an L1 hit returns directly; L2/L3
// hits decompress, insert into the tiers above, and return.
func (c *Cache) Get(key Key) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.l1.Get(key); ok {
		if c.expired(v.entry) {
			c.l1.Remove(key)
			c.l1Bytes -= estimateVectorBytes(v.vector)
			c.stats.L1Misses++
		} else {
			v.lastAccessed = time.Now()
			v.accessCount++
			c.stats.L1Hits++
			return v.vector, true
		}
	} else {
		c.stats.L1Misses++
	}

	if v, ok := c.l2.Get(key); ok {
		if c.expired(v.entry) {
			c.l2.Remove(key)
			c.l2Bytes -= int64(len(v.blob))
			c.stats.L2Misses++
		} else {
			vec, err := fingerprint.DecompressVector(v.blob)
			if err == nil {
				c.stats.L2Hits++
				c.stats.Promotions++
				c.insertL1Locked(key, vec)
				return vec, true
			}
			// Corrupt blob: treat as a miss and drop the bad entry.
			c.l2.Remove(key)
			c.l2Bytes -= int64(len(v.blob))
		}
	} else {
		c.stats.L2Misses++
	}

	if c.cfg.L3Enabled {
		if v, ok := c.l3.Get(key); ok {
			if c.expired(v.entry) {
				c.l3.Remove(key)
				c.mmap.Free(v.slotID)
				c.stats.L3Misses++
			} else {
				blob, err := c.mmap.Load(v.slotID)
				if err == nil {
					vec, err := fingerprint.DecompressVector(blob)
					if err == nil {
						c.stats.L3Hits++
						c.stats.Promotions += 2
						c.insertL1Locked(key, vec)
						c.insertL2Locked(key, fingerprint.CompressVector(vec))
						return vec, true
					}
				}
				c.l3.Remove(key)
			}
		} else {
			c.stats.L3Misses++
		}
	}

	return nil, false
}

// Put inserts a freshly computed raw vector into L1, cascading evictions
// downward through L2 and into L3 as budgets are exceeded.
func (c *Cache) Put(key Key, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertL1Locked(key, vector)
}

func newEntry() entry {
	now := time.Now()
	return entry{insertedAt: now, lastAccessed: now, accessCount: 1}
}

func (c *Cache) insertL1Locked(key Key, vector []float32) {
	c.l1.Add(key, &l1Entry{entry: newEntry(), vector: vector})
	c.l1Bytes += estimateVectorBytes(vector)

	for c.l1Bytes > c.cfg.L1MaxBytes && c.l1.Len() > 1 {
		evictKey, evicted, ok := c.l1.RemoveOldest()
		if !ok {
			break
		}
		c.l1Bytes -= estimateVectorBytes(evicted.vector)
		c.stats.Evictions++
		c.insertL2Locked(evictKey, fingerprint.CompressVector(evicted.vector))
	}
}

func (c *Cache) insertL2Locked(key Key, blob []byte) {
	c.l2.Add(key, &l2Entry{entry: newEntry(), blob: blob})
	c.l2Bytes += int64(len(blob))

	for c.l2Bytes > c.cfg.L2MaxBytes && c.l2.Len() > 0 {
		evictKey, evicted, ok := c.l2.RemoveOldest()
		if !ok {
			break
		}
		c.l2Bytes -= int64(len(evicted.blob))
		c.stats.Evictions++
		if c.cfg.L3Enabled {
			c.insertL3Locked(evictKey, evicted.blob)
		}
	}
}

func (c *Cache) insertL3Locked(key Key, blob []byte) {
	slotID, err := c.mmap.Allocate()
	if err != nil {
		// Tier-3 exhausted (or disabled): the entry is simply dropped.
		return
	}
	if err := c.mmap.Store(slotID, blob); err != nil {
		c.mmap.Free(slotID)
		return
	}
	if old, ok := c.l3.Get(key); ok {
		c.mmap.Free(old.slotID)
	}
	c.l3.Add(key, &l3Entry{entry: newEntry(), slotID: slotID})
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
