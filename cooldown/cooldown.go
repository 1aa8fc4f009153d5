// Package cooldown gates generated-content posts per (platform, channel)
// and command/game invocations per user. Content cooldowns are coarser than
// the per-message rate limit and apply only to generated posts; both checks
// must pass before a post goes out.
package cooldown

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/quenby/streamwarden/platform"
)

// DefaultDurations returns the shipped minimum interval between generated
// posts per platform.
func DefaultDurations() map[platform.ID]time.Duration {
	return map[platform.ID]time.Duration{
		platform.Twitch:  30 * time.Second,
		platform.Kick:    45 * time.Second,
		platform.YouTube: 2 * time.Minute,
	}
}

// Decision mirrors ratelimit.Decision for the cooldown check.
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// Tracker holds last-post timestamps keyed by platform:channel.
// Session-local, no locking.
type Tracker struct {
	durations map[platform.ID]time.Duration
	lastPost  map[string]time.Time
	now       func() time.Time
}

// NewTracker builds a Tracker over per-platform cooldown durations.
func NewTracker(durations map[platform.ID]time.Duration) *Tracker {
	return &Tracker{
		durations: durations,
		lastPost:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// Check answers whether a generated post to (p, channel) is allowed now.
func (t *Tracker) Check(p platform.ID, channel string) Decision {
	d, ok := t.durations[p]
	if !ok || d <= 0 {
		return Decision{Allowed: true}
	}
	last, ok := t.lastPost[key(p, channel)]
	if !ok {
		return Decision{Allowed: true}
	}
	elapsed := t.now().Sub(last)
	if elapsed >= d {
		return Decision{Allowed: true}
	}
	return Decision{Wait: d - elapsed}
}

// Record notes a successful generated post to (p, channel).
func (t *Tracker) Record(p platform.ID, channel string) {
	t.lastPost[key(p, channel)] = t.now()
}

// Reset clears all cooldown state. Called on session stop.
func (t *Tracker) Reset() { t.lastPost = make(map[string]time.Time) }

func key(p platform.ID, channel string) string { return string(p) + ":" + channel }

// Commands tracks per-command and per-user-per-game cooldowns as TTL'd
// cache entries: a key present in the cache is still cooling down.
type Commands struct {
	cache *gocache.Cache
}

// NewCommands builds the command cooldown store. defaultTTL applies when a
// caller passes a zero duration to Trip.
func NewCommands(defaultTTL time.Duration) *Commands {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Second
	}
	return &Commands{cache: gocache.New(defaultTTL, time.Minute)}
}

// Ready reports whether the key is out of cooldown.
func (c *Commands) Ready(key string) bool {
	_, cooling := c.cache.Get(key)
	return !cooling
}

// Trip starts the cooldown for key. Zero ttl uses the store default.
func (c *Commands) Trip(key string, ttl time.Duration) {
	if ttl <= 0 {
		c.cache.SetDefault(key, struct{}{})
		return
	}
	c.cache.Set(key, struct{}{}, ttl)
}

// Reset clears every pending cooldown.
func (c *Commands) Reset() { c.cache.Flush() }

// CommandKey builds the cooldown key for a named command.
func CommandKey(name string) string { return "cmd:" + name }

// GameKey builds the per-user cooldown key for a game type.
func GameKey(user, game string) string { return "game:" + user + ":" + game }
