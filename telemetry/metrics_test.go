package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := MessagesInbound
	Init()
	if MessagesInbound != first {
		t.Fatal("second Init replaced metric instances")
	}
	if MessagesSent == nil || ActiveSessions == nil || DispatchDuration == nil {
		t.Fatal("Init left metrics nil")
	}
}

func TestCountersUsable(t *testing.T) {
	Init()
	// Smoke: labeled metric calls must not panic with the declared labels.
	MessagesInbound.WithLabelValues("twitch").Inc()
	ModerationActions.WithLabelValues("kick", "warn").Inc()
	ConnectorsReady.WithLabelValues("youtube").Set(1)
}

func TestTimeFunc(t *testing.T) {
	Init()
	d := TimeFunc(DispatchDuration, func() { time.Sleep(10 * time.Millisecond) })
	if d < 10*time.Millisecond {
		t.Fatalf("measured %s, expected at least 10ms", d)
	}
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Fatal("nil observer should still measure")
	}
}

func TestCorrelationHelpers(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("empty context should have no correlation id")
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Fatalf("got %q", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("logger should never be nil")
	}
}
