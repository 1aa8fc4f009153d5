package ratelimit

import (
	"testing"
	"time"

	"github.com/quenby/streamwarden/platform"
)

func fixedClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestQuotaWindowFourthSendDenied(t *testing.T) {
	l := New(map[platform.ID]Policy{platform.Kick: {Quota: 3, Window: 30 * time.Second}})
	now, advance := fixedClock(time.Now())
	l.now = now

	for i := 0; i < 3; i++ {
		d := l.Check(platform.Kick)
		if !d.Allowed {
			t.Fatalf("send %d: expected allowed", i+1)
		}
		l.Record(platform.Kick)
		advance(time.Second)
	}
	d := l.Check(platform.Kick)
	if d.Allowed {
		t.Fatal("4th send within window should be denied")
	}
	if d.Wait <= 0 {
		t.Fatalf("expected positive wait, got %s", d.Wait)
	}
}

func TestWindowNeverExceedsQuotaAfterPrune(t *testing.T) {
	l := New(map[platform.ID]Policy{platform.Kick: {Quota: 3, Window: 10 * time.Second}})
	now, advance := fixedClock(time.Now())
	l.now = now

	for i := 0; i < 20; i++ {
		if l.Check(platform.Kick).Allowed {
			l.Record(platform.Kick)
		}
		if n := l.WindowLen(platform.Kick); n > 3 {
			t.Fatalf("window length %d exceeds quota after prune", n)
		}
		advance(700 * time.Millisecond)
	}
}

func TestWindowEntriesExpire(t *testing.T) {
	l := New(map[platform.ID]Policy{platform.YouTube: {Quota: 2, Window: 60 * time.Second}})
	now, advance := fixedClock(time.Now())
	l.now = now

	l.Record(platform.YouTube)
	l.Record(platform.YouTube)
	if l.Check(platform.YouTube).Allowed {
		t.Fatal("quota should be exhausted")
	}
	advance(61 * time.Second)
	if !l.Check(platform.YouTube).Allowed {
		t.Fatal("expired entries should free the quota")
	}
	if n := l.WindowLen(platform.YouTube); n != 0 {
		t.Fatalf("expected pruned window, got %d entries", n)
	}
}

func TestTwitchElevatedUsesCountedWindow(t *testing.T) {
	l := New(map[platform.ID]Policy{platform.Twitch: {Quota: 2, Window: 30 * time.Second, MinInterval: 1200 * time.Millisecond}})
	now, advance := fixedClock(time.Now())
	l.now = now
	l.SetElevated(platform.Twitch, true)

	l.Record(platform.Twitch)
	advance(100 * time.Millisecond)
	// Elevated mode ignores the minimum gap: a second send 100ms later is fine.
	if !l.Check(platform.Twitch).Allowed {
		t.Fatal("elevated bot should not be bound by the minimum interval")
	}
	l.Record(platform.Twitch)
	if l.Check(platform.Twitch).Allowed {
		t.Fatal("elevated quota of 2 should now be exhausted")
	}
}

func TestTwitchRegularEnforcesMinimumGap(t *testing.T) {
	l := New(map[platform.ID]Policy{platform.Twitch: {Quota: 100, Window: 30 * time.Second, MinInterval: 1200 * time.Millisecond}})
	now, advance := fixedClock(time.Now())
	l.now = now

	if !l.Check(platform.Twitch).Allowed {
		t.Fatal("first send should be allowed")
	}
	l.Record(platform.Twitch)
	d := l.Check(platform.Twitch)
	if d.Allowed {
		t.Fatal("immediate second send should be denied in interval mode")
	}
	if d.Wait <= 0 || d.Wait > 1200*time.Millisecond {
		t.Fatalf("wait %s out of expected range", d.Wait)
	}
	advance(1300 * time.Millisecond)
	if !l.Check(platform.Twitch).Allowed {
		t.Fatal("send after the minimum gap should be allowed")
	}
}

func TestResetClearsWindows(t *testing.T) {
	l := New(DefaultPolicies())
	l.SetElevated(platform.Twitch, true)
	for i := 0; i < 5; i++ {
		l.Record(platform.YouTube)
	}
	if l.Check(platform.YouTube).Allowed {
		t.Fatal("youtube quota should be exhausted")
	}
	l.Reset()
	if !l.Check(platform.YouTube).Allowed {
		t.Fatal("reset should clear the window")
	}
	if n := l.WindowLen(platform.YouTube); n != 0 {
		t.Fatalf("expected empty window after reset, got %d", n)
	}
}

func TestUnknownPlatformAllowed(t *testing.T) {
	l := New(DefaultPolicies())
	if !l.Check(platform.ID("unknown")).Allowed {
		t.Fatal("unknown platform should not be limited")
	}
}
