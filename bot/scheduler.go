package bot

import (
	"math/rand"
	"sync"
	"time"

	"github.com/quenby/streamwarden/reconnect"
)

// ScheduledPoster fires a callback on a fixed or randomized interval. In
// random mode the period is resampled uniformly in [min, max] after every
// firing. The timer does not self-adjust for how long the callback takes.
type ScheduledPoster struct {
	mode  string
	fixed time.Duration
	min   time.Duration
	max   time.Duration

	schedule reconnect.Schedule
	intn     func(n int) int
	fire     func()

	mu      sync.Mutex
	cancel  func()
	stopped bool
}

// NewScheduledPoster builds a poster from the config's interval settings.
// fire runs in the timer goroutine; callers hand work off to their own
// event loop inside it.
func NewScheduledPoster(cfg *BotConfig, schedule reconnect.Schedule, fire func()) *ScheduledPoster {
	if schedule == nil {
		schedule = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	return &ScheduledPoster{
		mode:  cfg.IntervalMode,
		fixed: time.Duration(cfg.IntervalMinutes) * time.Minute,
		min:   time.Duration(cfg.MinIntervalMinutes) * time.Minute,
		max:   time.Duration(cfg.MaxIntervalMinutes) * time.Minute,
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		intn:     rand.Intn,
		schedule: schedule,
		fire:     fire,
	}
}

// Start arms the first timer. Calling Start on a stopped poster is a no-op.
func (p *ScheduledPoster) Start() {
	p.arm()
}

// Stop cancels any pending timer; no firing happens after Stop returns.
func (p *ScheduledPoster) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *ScheduledPoster) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	d := p.nextDelay()
	p.cancel = p.schedule(d, func() {
		p.fire()
		p.arm()
	})
}

// nextDelay picks the next period. Callers hold p.mu.
func (p *ScheduledPoster) nextDelay() time.Duration {
	if p.mode != IntervalRandom {
		return p.fixed
	}
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	return p.min + time.Duration(p.intn(int(span/time.Second)+1))*time.Second
}
