// Package ratelimit enforces per-platform outbound send quotas with sliding
// windows. Twitch is role-aware: an elevated bot counts sends against a
// rolling window, a regular bot instead keeps a strict minimum gap between
// messages (modeled with golang.org/x/time/rate).
//
// A Limiter belongs to one session and is only touched from that session's
// event loop, so it carries no locking.
package ratelimit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/quenby/streamwarden/platform"
)

// Policy describes one platform's send quota.
type Policy struct {
	// Quota is the number of sends allowed per Window.
	Quota  int
	Window time.Duration

	// MinInterval, when set, is the minimum gap between sends used in
	// place of the counted window for non-elevated Twitch bots.
	MinInterval time.Duration
}

// DefaultPolicies returns the shipped platform policies: Twitch 100/30s
// elevated or a 1.2s gap otherwise, Kick 20/30s, YouTube 5/60s.
func DefaultPolicies() map[platform.ID]Policy {
	return map[platform.ID]Policy{
		platform.Twitch:  {Quota: 100, Window: 30 * time.Second, MinInterval: 1200 * time.Millisecond},
		platform.Kick:    {Quota: 20, Window: 30 * time.Second},
		platform.YouTube: {Quota: 5, Window: 60 * time.Second},
	}
}

// Decision is the answer to "may I send now?".
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// Error reports a send rejected because the required wait exceeded the
// caller's patience.
type Error struct {
	Platform platform.ID
	Wait     time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("ratelimit: %s quota exhausted, retry in %s", e.Platform, e.Wait)
}

// Limiter tracks recent send timestamps per platform.
type Limiter struct {
	policies map[platform.ID]Policy
	windows  map[platform.ID][]time.Time
	interval *rate.Limiter
	elevated map[platform.ID]bool
	now      func() time.Time
}

// New builds a Limiter over the given policies.
func New(policies map[platform.ID]Policy) *Limiter {
	l := &Limiter{
		policies: policies,
		windows:  make(map[platform.ID][]time.Time),
		elevated: make(map[platform.ID]bool),
		now:      time.Now,
	}
	if p, ok := policies[platform.Twitch]; ok && p.MinInterval > 0 {
		l.interval = rate.NewLimiter(rate.Every(p.MinInterval), 1)
	}
	return l
}

// SetElevated records whether the bot holds elevated chat privileges on a
// platform. Only consulted for platforms with a MinInterval policy.
func (l *Limiter) SetElevated(p platform.ID, elevated bool) { l.elevated[p] = elevated }

// Check reports whether a send to p is permitted now, and if not, how long
// until it would be. It prunes expired window entries first.
func (l *Limiter) Check(p platform.ID) Decision {
	pol, ok := l.policies[p]
	if !ok {
		return Decision{Allowed: true}
	}
	now := l.now()
	if l.intervalMode(p, pol) {
		tokens := l.interval.TokensAt(now)
		if tokens >= 1 {
			return Decision{Allowed: true}
		}
		wait := time.Duration((1 - tokens) * float64(pol.MinInterval))
		return Decision{Wait: wait}
	}
	w := l.prune(p, pol, now)
	if len(w) < pol.Quota {
		return Decision{Allowed: true}
	}
	// The (len-quota+1) oldest entries must expire before the count drops
	// below quota again.
	oldest := w[len(w)-pol.Quota]
	return Decision{Wait: oldest.Add(pol.Window).Sub(now)}
}

// Record notes a successful send to p.
func (l *Limiter) Record(p platform.ID) {
	pol, ok := l.policies[p]
	if !ok {
		return
	}
	now := l.now()
	if l.intervalMode(p, pol) {
		l.interval.AllowN(now, 1)
		return
	}
	l.windows[p] = append(l.prune(p, pol, now), now)
}

// Reset drops all window state. Called on session stop.
func (l *Limiter) Reset() {
	l.windows = make(map[platform.ID][]time.Time)
	if l.interval != nil {
		if p, ok := l.policies[platform.Twitch]; ok {
			l.interval = rate.NewLimiter(rate.Every(p.MinInterval), 1)
		}
	}
}

// WindowLen returns the pruned window length for p. Exposed for status
// reporting and tests.
func (l *Limiter) WindowLen(p platform.ID) int {
	pol, ok := l.policies[p]
	if !ok {
		return 0
	}
	return len(l.prune(p, pol, l.now()))
}

func (l *Limiter) intervalMode(p platform.ID, pol Policy) bool {
	return pol.MinInterval > 0 && l.interval != nil && !l.elevated[p]
}

func (l *Limiter) prune(p platform.ID, pol Policy, now time.Time) []time.Time {
	w := l.windows[p]
	cutoff := now.Add(-pol.Window)
	i := 0
	for i < len(w) && !w[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w = append(w[:0], w[i:]...)
	}
	l.windows[p] = w
	return w
}
