// Package cache holds rendered markup keyed by (language, theme, code).
//
// The in-process Cache is bounded by entry count and expires entries after
// a TTL. When full it drops the least used fraction of entries in a single
// pass, ordering by hit count and then by last access. RedisStore is an
// optional second tier shared between processes.
package cache

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

const (
	DefaultMaxEntries    = 200
	DefaultTTL           = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	DefaultEvictFraction = 0.3
)

// Config sizes a Cache. Zero fields take the package defaults.
type Config struct {
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
	EvictFraction float64
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.EvictFraction <= 0 || c.EvictFraction > 1 {
		c.EvictFraction = DefaultEvictFraction
	}
	return c
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries    int    `json:"entries"`
	MaxEntries int    `json:"max_entries"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Expired    uint64 `json:"expired"`
}

type entry struct {
	markup     string
	stored     time.Time
	lastAccess time.Time
	hits       uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Cache is safe for concurrent use.
type Cache struct {
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	onEvict []func(n int)

	hits, misses, evictions, expired uint64
}

// New returns an empty cache.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{
		now:     time.Now,
		log:     logging.ForComponent(logging.CompCache),
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key fingerprints a rendering request. The whole of code is hashed, so two
// snippets share a key only on a 64-bit hash collision at equal length.
func Key(language, theme, code string) string {
	d := xxhash.New()
	_, _ = d.WriteString(language)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(theme)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(code)

	b := make([]byte, 0, len(language)+len(theme)+40)
	b = append(b, language...)
	b = append(b, '/')
	b = append(b, theme...)
	b = append(b, '/')
	b = strconv.AppendInt(b, int64(len(code)), 10)
	b = append(b, '/')
	b = strconv.AppendUint(b, d.Sum64(), 16)
	return string(b)
}

// OnEvict registers fn to be told how many entries each capacity eviction
// removed. fn runs after the cache lock is released.
func (c *Cache) OnEvict(fn func(n int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = append(c.onEvict, fn)
}

// Get returns the markup stored under key. An entry whose age has reached
// the TTL is deleted and reported as a miss.
func (c *Cache) Get(key string) (string, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}
	if now.Sub(e.stored) >= c.cfg.TTL {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return "", false
	}
	e.hits++
	e.lastAccess = now
	c.hits++
	return e.markup, true
}

// Peek is Get without the hit and miss counters, for a second lookup made
// on behalf of a request that was already counted. The entry's own usage is
// still recorded so eviction ranks it correctly. Expired entries are left
// for Sweep.
func (c *Cache) Peek(key string) (string, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.stored) >= c.cfg.TTL {
		return "", false
	}
	e.hits++
	e.lastAccess = now
	return e.markup, true
}

// Set stores markup under key. Inserting a new key into a full cache first
// purges expired entries and, if that frees nothing, evicts the least used
// fraction of the cache.
func (c *Cache) Set(key, markup string) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.markup = markup
		e.stored = now
		e.lastAccess = now
		c.mu.Unlock()
		return
	}
	evicted := 0
	if len(c.entries) >= c.cfg.MaxEntries {
		c.purgeLocked(now)
	}
	if len(c.entries) >= c.cfg.MaxEntries {
		n := int(math.Ceil(float64(c.cfg.MaxEntries) * c.cfg.EvictFraction))
		// Always leave room for the new entry.
		n = max(n, len(c.entries)-c.cfg.MaxEntries+1)
		evicted = c.evictLocked(n)
	}
	c.entries[key] = &entry{markup: markup, stored: now, lastAccess: now}
	hooks := c.onEvict
	c.mu.Unlock()

	c.notify(hooks, evicted)
}

// evictLocked removes the n entries with the fewest hits, oldest access
// first among equals. Must hold c.mu.
func (c *Cache) evictLocked(n int) int {
	if n <= 0 {
		return 0
	}
	type ranked struct {
		key string
		e   *entry
	}
	all := make([]ranked, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, ranked{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.hits != all[j].e.hits {
			return all[i].e.hits < all[j].e.hits
		}
		return all[i].e.lastAccess.Before(all[j].e.lastAccess)
	})
	n = min(n, len(all))
	for _, r := range all[:n] {
		delete(c.entries, r.key)
	}
	c.evictions += uint64(n)
	return n
}

// purgeLocked drops expired entries. Must hold c.mu.
func (c *Cache) purgeLocked(now time.Time) int {
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.stored) >= c.cfg.TTL {
			delete(c.entries, k)
			n++
		}
	}
	c.expired += uint64(n)
	return n
}

func (c *Cache) notify(hooks []func(int), n int) {
	if n == 0 {
		return
	}
	c.log.Debug("cache_evicted", slog.Int("count", n))
	for _, fn := range hooks {
		fn(n)
	}
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many it removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(now)
}

// Run sweeps on the configured interval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	c.mu.Lock()
	interval := c.cfg.SweepInterval
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("cache_swept", slog.Int("expired", n), slog.Int("remaining", c.Len()))
			}
		}
	}
}

// Resize applies new limits. Shrinking below the current size evicts the
// least used entries immediately. Non-positive arguments keep the current
// value.
func (c *Cache) Resize(maxEntries int, ttl time.Duration) {
	c.mu.Lock()
	if maxEntries > 0 {
		c.cfg.MaxEntries = maxEntries
	}
	if ttl > 0 {
		c.cfg.TTL = ttl
	}
	evicted := 0
	if over := len(c.entries) - c.cfg.MaxEntries; over > 0 {
		evicted = c.evictLocked(over)
	}
	cfg := c.cfg
	hooks := c.onEvict
	c.mu.Unlock()

	c.log.Info("cache_resized", slog.Int("max_entries", cfg.MaxEntries), slog.Duration("ttl", cfg.TTL))
	c.notify(hooks, evicted)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:    len(c.entries),
		MaxEntries: c.cfg.MaxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Expired:    c.expired,
	}
}
