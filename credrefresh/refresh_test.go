package credrefresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quenby/streamwarden/bot"
	"github.com/quenby/streamwarden/platform"
)

type fakeStore struct {
	mu      sync.Mutex
	conns   []bot.PlatformConnection
	updates []update
}

type update struct {
	userID  string
	access  string
	refresh string
}

func (f *fakeStore) ExpiringConnections(_ context.Context, p platform.ID, _ time.Time) ([]bot.PlatformConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bot.PlatformConnection, len(f.conns))
	copy(out, f.conns)
	return out, nil
}

func (f *fakeStore) UpdatePlatformTokens(_ context.Context, userID string, _ platform.ID, access, refresh string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{userID: userID, access: access, refresh: refresh})
	return nil
}

func (f *fakeStore) updated() []update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]update, len(f.updates))
	copy(out, f.updates)
	return out
}

func TestRefreshBatchUpdatesExpiring(t *testing.T) {
	store := &fakeStore{conns: []bot.PlatformConnection{
		{UserID: "u1", Platform: platform.Twitch, RefreshToken: "rt-1"},
		{UserID: "u2", Platform: platform.Twitch, RefreshToken: "rt-2"},
	}}

	fn := func(_ context.Context, refreshToken string) (string, string, time.Time, error) {
		return "new-" + refreshToken, "", time.Now().Add(4 * time.Hour), nil
	}

	refreshBatch(context.Background(), store, platform.Twitch, 15*time.Minute, fn)

	updates := store.updated()
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].access != "new-rt-1" {
		t.Errorf("access = %q", updates[0].access)
	}
	// Empty refresh token from the provider preserves the stored one.
	if updates[0].refresh != "rt-1" {
		t.Errorf("refresh = %q, want rt-1", updates[0].refresh)
	}
}

func TestRefreshBatchSkipsOnError(t *testing.T) {
	store := &fakeStore{conns: []bot.PlatformConnection{
		{UserID: "u1", Platform: platform.Twitch, RefreshToken: "rt-bad"},
		{UserID: "u2", Platform: platform.Twitch, RefreshToken: "rt-good"},
	}}

	fn := func(_ context.Context, refreshToken string) (string, string, time.Time, error) {
		if refreshToken == "rt-bad" {
			return "", "", time.Time{}, errors.New("provider rejected refresh")
		}
		return "fresh", "rotated", time.Now().Add(time.Hour), nil
	}

	refreshBatch(context.Background(), store, platform.Twitch, 15*time.Minute, fn)

	updates := store.updated()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if updates[0].userID != "u2" || updates[0].refresh != "rotated" {
		t.Errorf("unexpected update %+v", updates[0])
	}
}

func TestRefreshBatchSkipsEmptyRefreshToken(t *testing.T) {
	store := &fakeStore{conns: []bot.PlatformConnection{
		{UserID: "u1", Platform: platform.YouTube, RefreshToken: ""},
	}}

	called := false
	fn := func(_ context.Context, _ string) (string, string, time.Time, error) {
		called = true
		return "x", "y", time.Time{}, nil
	}

	refreshBatch(context.Background(), store, platform.YouTube, 15*time.Minute, fn)

	if called {
		t.Error("refresh should not be called without a refresh token")
	}
	if len(store.updated()) != 0 {
		t.Error("no updates expected")
	}
}

func TestStartRefresherCancellation(t *testing.T) {
	store := &fakeStore{}
	fn := func(_ context.Context, _ string) (string, string, time.Time, error) {
		return "access", "refresh", time.Now().Add(time.Hour), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	StartRefresher(ctx, store, platform.Twitch, time.Second, 15*time.Minute, fn)
	cancel()

	// Give the goroutine a moment to exit; nothing should have run.
	time.Sleep(50 * time.Millisecond)
	if len(store.updated()) != 0 {
		t.Error("no updates expected after immediate cancellation")
	}
}
