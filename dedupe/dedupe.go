// Package dedupe keeps a bounded, time-expiring cache of content
// fingerprints so freshly generated text is not posted twice in a row.
// Fingerprints are SHA-256 over case-folded, whitespace-collapsed text, so
// trivial reformatting still collides.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// DefaultCapacity bounds the number of remembered fingerprints.
	DefaultCapacity = 50
	// DefaultTTL is how long a fingerprint blocks reposting.
	DefaultTTL = 24 * time.Hour
)

type entry struct {
	fingerprint string
	at          time.Time
}

// Cache is a session-local fingerprint cache. Insertion order doubles as
// eviction order; expired entries are purged lazily on lookup.
type Cache struct {
	capacity int
	ttl      time.Duration
	entries  []entry
	index    map[string]int
	now      func() time.Time
}

// New builds a Cache. Non-positive capacity/ttl fall back to the defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		index:    make(map[string]int),
		now:      time.Now,
	}
}

// IsDuplicate reports whether text matches a live cached fingerprint.
func (c *Cache) IsDuplicate(text string) bool {
	c.purgeExpired()
	_, ok := c.index[Fingerprint(text)]
	return ok
}

// Record remembers text's fingerprint, evicting the oldest entry when the
// cache is full. Re-recording refreshes an entry's position and timestamp.
func (c *Cache) Record(text string) {
	c.purgeExpired()
	fp := Fingerprint(text)
	if i, ok := c.index[fp]; ok {
		c.removeAt(i)
	}
	for len(c.entries) >= c.capacity {
		c.removeAt(0)
	}
	c.index[fp] = len(c.entries)
	c.entries = append(c.entries, entry{fingerprint: fp, at: c.now()})
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.purgeExpired()
	return len(c.entries)
}

// Reset drops all entries. Called on session stop.
func (c *Cache) Reset() {
	c.entries = nil
	c.index = make(map[string]int)
}

// Fingerprint returns the stable hash of normalized text.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) purgeExpired() {
	cutoff := c.now().Add(-c.ttl)
	n := 0
	for n < len(c.entries) && !c.entries[n].at.After(cutoff) {
		n++
	}
	for i := 0; i < n; i++ {
		c.removeAt(0)
	}
}

func (c *Cache) removeAt(i int) {
	delete(c.index, c.entries[i].fingerprint)
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	for j := i; j < len(c.entries); j++ {
		c.index[c.entries[j].fingerprint] = j
	}
}
