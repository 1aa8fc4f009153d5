package bot

import (
	"testing"
	"time"
)

// fakeTimer captures scheduled callbacks so tests fire them by hand.
type fakeTimer struct {
	delays    []time.Duration
	fns       []func()
	cancelled int
}

func (f *fakeTimer) schedule(d time.Duration, fn func()) func() {
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	return func() { f.cancelled++ }
}

func (f *fakeTimer) fireLast() {
	f.fns[len(f.fns)-1]()
}

func TestScheduledPosterFixedInterval(t *testing.T) {
	cfg := &BotConfig{IntervalMode: IntervalFixed, IntervalMinutes: 10}
	cfg.Normalize()
	ft := &fakeTimer{}
	fired := 0
	p := NewScheduledPoster(cfg, ft.schedule, func() { fired++ })
	p.Start()

	if len(ft.delays) != 1 || ft.delays[0] != 10*time.Minute {
		t.Fatalf("delays = %v, want [10m]", ft.delays)
	}

	ft.fireLast()
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if len(ft.delays) != 2 || ft.delays[1] != 10*time.Minute {
		t.Fatalf("rearm delays = %v, want two 10m entries", ft.delays)
	}
}

func TestScheduledPosterRandomBounds(t *testing.T) {
	cfg := &BotConfig{IntervalMode: IntervalRandom, MinIntervalMinutes: 15, MaxIntervalMinutes: 45}
	cfg.Normalize()
	ft := &fakeTimer{}
	p := NewScheduledPoster(cfg, ft.schedule, func() {})

	for i := 0; i < 50; i++ {
		d := p.nextDelay()
		if d < 15*time.Minute || d > 45*time.Minute {
			t.Fatalf("delay %v outside [15m, 45m]", d)
		}
	}
}

func TestScheduledPosterRandomResamples(t *testing.T) {
	cfg := &BotConfig{IntervalMode: IntervalRandom, MinIntervalMinutes: 1, MaxIntervalMinutes: 60}
	cfg.Normalize()
	ft := &fakeTimer{}
	p := NewScheduledPoster(cfg, ft.schedule, func() {})
	calls := 0
	p.intn = func(n int) int { calls++; return calls * 60 } // distinct picks
	p.Start()
	ft.fireLast()

	if len(ft.delays) != 2 {
		t.Fatalf("delays = %v, want two entries", ft.delays)
	}
	if ft.delays[0] == ft.delays[1] {
		t.Errorf("period not resampled: %v", ft.delays)
	}
}

func TestScheduledPosterStop(t *testing.T) {
	cfg := &BotConfig{IntervalMode: IntervalFixed, IntervalMinutes: 5}
	cfg.Normalize()
	ft := &fakeTimer{}
	fired := 0
	p := NewScheduledPoster(cfg, ft.schedule, func() { fired++ })
	p.Start()
	p.Stop()

	if ft.cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", ft.cancelled)
	}
	// A timer that already fired in flight must not rearm after Stop.
	ft.fireLast()
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if len(ft.delays) != 1 {
		t.Errorf("rearmed after Stop: delays = %v", ft.delays)
	}
}
