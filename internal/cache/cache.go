package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"sift/internal/models"
)

// Key derives the content address of an article from its trimmed title and summary.
func Key(title, summary string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(title) + "\n" + strings.TrimSpace(summary)))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	value      models.AIEvaluation
	insertedAt time.Time
	seq        uint64
}

// Entry is an exported cache row, used to persist and restore the cache.
type Entry struct {
	Key        string
	Value      models.AIEvaluation
	InsertedAt time.Time
}

type Stats struct {
	Size    int           `json:"size"`
	MaxSize int           `json:"max_size"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
	HitRate float64       `json:"hit_rate"`
	TTL     time.Duration `json:"ttl"`
}

// Cache is a TTL and capacity bounded store of AI evaluations. When full, inserting a new key
// evicts the oldest inserted entry. All access is serialized by one mutex.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*entry
	seq     uint64
	hits    int64
	misses  int64

	now func() time.Time
}

func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*entry, maxSize),
		now:     time.Now,
	}
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.insertedAt) > c.ttl
}

// Get returns the cached evaluation. Expired entries are removed on access.
func (c *Cache) Get(key string) (models.AIEvaluation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return models.AIEvaluation{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		c.misses++
		return models.AIEvaluation{}, false
	}
	c.hits++
	return e.value, true
}

func (c *Cache) Set(key string, value models.AIEvaluation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, c.now())
}

func (c *Cache) setLocked(key string, value models.AIEvaluation, insertedAt time.Time) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seq++
	c.entries[key] = &entry{value: value, insertedAt: insertedAt, seq: c.seq}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest *entry
	for k, e := range c.entries {
		if oldest == nil || e.seq < oldest.seq {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
	}
}

// CleanupExpired drops every expired entry and returns how many were removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear drops all entries and resets the hit and miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, c.maxSize)
	c.hits, c.misses = 0, 0
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		TTL:     c.ttl,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Snapshot returns the live entries in insertion order.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	type keyed struct {
		key string
		e   *entry
	}
	live := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		if !c.expired(e, now) {
			live = append(live, keyed{k, e})
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].e.seq < live[j].e.seq })

	out := make([]Entry, len(live))
	for i, l := range live {
		out[i] = Entry{Key: l.key, Value: l.e.value, InsertedAt: l.e.insertedAt}
	}
	return out
}

// Restore inserts entries keeping their original insertion time. Expired entries are skipped.
// It returns the number of entries loaded.
func (c *Cache) Restore(entries []Entry) int {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].InsertedAt.Before(sorted[j].InsertedAt) })

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	loaded := 0
	for _, e := range sorted {
		if c.ttl > 0 && now.Sub(e.InsertedAt) > c.ttl {
			continue
		}
		c.setLocked(e.Key, e.Value, e.InsertedAt)
		loaded++
	}
	return loaded
}
