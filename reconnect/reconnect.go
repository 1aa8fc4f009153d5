// Package reconnect drives bounded exponential-backoff reconnection for one
// platform connector. The supervisor never dials anything itself: the owning
// session injects a scheduler (so retries land on the session's event loop)
// and a retry callback that re-runs connector startup.
package reconnect

import (
	"log/slog"
	"time"

	"github.com/quenby/streamwarden/platform"
)

// DefaultMaxAttempts is the retry budget before a connector is declared
// offline until the session is restarted.
const DefaultMaxAttempts = 5

const (
	baseDelay = time.Second
	maxDelay  = 60 * time.Second
)

// Schedule runs fn after d and returns a cancel func. The session provides
// an implementation that serializes fn onto its event loop.
type Schedule func(d time.Duration, fn func()) (cancel func())

// Supervisor is the per-connector reconnect state machine.
type Supervisor struct {
	p           platform.ID
	maxAttempts int
	schedule    Schedule
	retry       func()
	terminal    func(p platform.ID, attempts int)

	attempt int
	cancel  func()
	gaveUp  bool
	stopped bool
}

// New builds a Supervisor. retry is invoked when a backoff timer fires;
// terminal is invoked exactly once when the attempt budget is exhausted.
func New(p platform.ID, maxAttempts int, schedule Schedule, retry func(), terminal func(platform.ID, int)) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Supervisor{p: p, maxAttempts: maxAttempts, schedule: schedule, retry: retry, terminal: terminal}
}

// Backoff returns the delay before retry attempt n (0-based):
// min(2^n * 1s, 60s).
func Backoff(n int) time.Duration {
	if n >= 6 { // 2^6 = 64s, already past the cap
		return maxDelay
	}
	d := baseDelay << uint(n)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// ConnectFailed records a failed connect (or a fatal mid-session error) and
// schedules the next retry, or gives up when the budget is exhausted.
func (s *Supervisor) ConnectFailed(err error) {
	if s.stopped || s.gaveUp {
		return
	}
	if s.attempt >= s.maxAttempts {
		s.gaveUp = true
		slog.Error("reconnect attempts exhausted",
			slog.String("platform", string(s.p)),
			slog.Int("attempts", s.attempt),
			slog.Any("err", err))
		if s.terminal != nil {
			s.terminal(s.p, s.attempt)
		}
		return
	}
	delay := Backoff(s.attempt)
	s.attempt++
	slog.Warn("scheduling reconnect",
		slog.String("platform", string(s.p)),
		slog.Int("attempt", s.attempt),
		slog.Duration("delay", delay),
		slog.Any("err", err))
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = s.schedule(delay, func() {
		s.cancel = nil
		if s.stopped || s.gaveUp {
			return
		}
		s.retry()
	})
}

// ConnectSucceeded resets the attempt counter after a Ready transition.
func (s *Supervisor) ConnectSucceeded() {
	if s.attempt > 0 {
		slog.Info("connector recovered", slog.String("platform", string(s.p)), slog.Int("after_attempts", s.attempt))
	}
	s.attempt = 0
}

// Stop cancels any pending retry timer. Further failures are ignored.
func (s *Supervisor) Stop() {
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Attempts returns the current attempt counter.
func (s *Supervisor) Attempts() int { return s.attempt }

// GaveUp reports whether the budget was exhausted.
func (s *Supervisor) GaveUp() bool { return s.gaveUp }
