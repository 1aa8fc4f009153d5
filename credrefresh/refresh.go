// Package credrefresh keeps stored platform credentials fresh. It performs
// jittered background checks against platform_connections and refreshes
// rows whose access token expiry falls within a configured window.
package credrefresh

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/quenby/streamwarden/bot"
	"github.com/quenby/streamwarden/platform"
)

// RefreshFunc performs a provider-specific refresh and returns the new
// access token, refresh token, and expiry.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)

// Store is the slice of persistence the refresher needs.
type Store interface {
	ExpiringConnections(ctx context.Context, p platform.ID, cutoff time.Time) ([]bot.PlatformConnection, error)
	UpdatePlatformTokens(ctx context.Context, userID string, p platform.ID, access, refresh string, expiry time.Time) error
}

// StartRefresher launches a goroutine that periodically refreshes every
// connection on one platform whose token expires within the window.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store Store, p platform.ID, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (+-20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshBatch(ctx, store, p, window, fn)
		}
	}()
}

func refreshBatch(ctx context.Context, store Store, p platform.ID, window time.Duration, fn RefreshFunc) {
	conns, err := store.ExpiringConnections(ctx, p, time.Now().Add(window))
	if err != nil {
		slog.Warn("expiring connections lookup failed", slog.String("platform", string(p)), slog.Any("err", err))
		return
	}
	for _, conn := range conns {
		if conn.RefreshToken == "" {
			continue
		}
		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		access, refresh, expiry, err := fn(ctx2, conn.RefreshToken)
		cancel()
		if err != nil {
			slog.Warn("token refresh failed",
				slog.String("platform", string(p)),
				slog.String("user_id", conn.UserID),
				slog.Any("err", err))
			continue
		}
		if refresh == "" {
			refresh = conn.RefreshToken
		}
		if err := store.UpdatePlatformTokens(ctx, conn.UserID, p, access, refresh, expiry); err != nil {
			slog.Warn("token persist failed",
				slog.String("platform", string(p)),
				slog.String("user_id", conn.UserID),
				slog.Any("err", err))
			continue
		}
		slog.Info("token refreshed",
			slog.String("platform", string(p)),
			slog.String("user_id", conn.UserID))
	}
}
