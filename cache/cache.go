// Package cache holds the in-memory verdict cache keyed by image
// fingerprint. It is a cost/latency optimization only: a cold miss is
// always acceptable and entries never survive a process restart.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"report-service/models"
)

// DefaultTTL is how long a classification verdict stays cached.
const DefaultTTL = 5 * time.Minute

// Fingerprint returns the content hash of raw image bytes used as the
// cache key. Identical bytes always map to the same fingerprint.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	verdict   models.ClassificationVerdict
	expiresAt time.Time
}

// VerdictCache maps fingerprints to verdicts with a fixed TTL. Expired
// entries are dropped lazily on read and in bulk by a single sweeper
// over time-indexed buckets, so no per-entry timers accumulate.
type VerdictCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	sweep   time.Duration
	now     func() time.Time
	entries map[string]entry
	// buckets groups keys by expiry instant truncated to the sweep
	// interval; the sweeper drops whole buckets at once.
	buckets map[int64][]string
	stopCh  chan struct{}
	stopped bool

	hits   uint64
	misses uint64
}

// Option configures a VerdictCache.
type Option func(*VerdictCache)

// WithClock injects a time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *VerdictCache) { c.now = now }
}

// WithSweepInterval overrides the bucket granularity and sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(c *VerdictCache) { c.sweep = d }
}

// New creates a cache with the given TTL and starts its sweeper.
// Call Stop when the cache is no longer needed.
func New(ttl time.Duration, opts ...Option) *VerdictCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &VerdictCache{
		ttl:     ttl,
		sweep:   30 * time.Second,
		now:     time.Now,
		entries: make(map[string]entry),
		buckets: make(map[int64][]string),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Get returns the cached verdict for a fingerprint if it has not expired.
func (c *VerdictCache) Get(fingerprint string) (models.ClassificationVerdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok || c.now().After(e.expiresAt) {
		if ok {
			delete(c.entries, fingerprint)
		}
		c.misses++
		return models.ClassificationVerdict{}, false
	}
	c.hits++
	return e.verdict, true
}

// Put stores a verdict under a fingerprint. Concurrent writers for the
// same fingerprint race harmlessly; last writer wins and either verdict
// is valid since classification is deterministic for identical input.
func (c *VerdictCache) Put(fingerprint string, verdict models.ClassificationVerdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	c.entries[fingerprint] = entry{verdict: verdict, expiresAt: expiresAt}
	b := expiresAt.Truncate(c.sweep).UnixNano()
	c.buckets[b] = append(c.buckets[b], fingerprint)
}

// Len returns the number of live entries.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// Stats returns hit/miss counters since construction.
func (c *VerdictCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Stop halts the background sweeper.
func (c *VerdictCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
}

func (c *VerdictCache) run() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

// removeExpired drops every bucket whose expiry instant has passed.
// An entry overwritten with a later expiry is skipped here and dropped
// by its newer bucket.
func (c *VerdictCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for b, keys := range c.buckets {
		if time.Unix(0, b).Add(c.sweep).After(now) {
			continue
		}
		for _, key := range keys {
			if e, ok := c.entries[key]; ok && now.After(e.expiresAt) {
				delete(c.entries, key)
			}
		}
		delete(c.buckets, b)
	}
}
