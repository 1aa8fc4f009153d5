// Package retention prunes aged audit data. Outbound message audit rows
// and viewer count samples grow without bound on busy channels; a
// background job deletes rows older than the configured policy.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Policy defines which rows are eligible for cleanup.
type Policy struct {
	// MessageKeepDays: audit rows older than this many days are deleted (0 = disabled)
	MessageKeepDays int
	// SampleKeepDays: viewer samples older than this many days are deleted (0 = disabled)
	SampleKeepDays int
	// DryRun: when true, log what would be deleted but don't delete
	DryRun bool
	// Interval: how often to run the cleanup job
	Interval time.Duration
}

// LoadPolicy loads retention configuration from environment variables.
func LoadPolicy() Policy {
	policy := Policy{
		Interval: 6 * time.Hour,
	}

	if s := os.Getenv("RETENTION_MESSAGE_KEEP_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.MessageKeepDays = n
		}
	}
	if s := os.Getenv("RETENTION_SAMPLE_KEEP_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.SampleKeepDays = n
		}
	}
	if os.Getenv("RETENTION_DRY_RUN") == "1" {
		policy.DryRun = true
	}
	if s := os.Getenv("RETENTION_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.Interval = d
		}
	}

	return policy
}

// StartJob runs a background job that periodically prunes old rows
// according to the configured policy.
func StartJob(ctx context.Context, dbc *sql.DB) {
	policy := LoadPolicy()

	if policy.MessageKeepDays == 0 && policy.SampleKeepDays == 0 {
		slog.Info("retention job disabled (no policy configured)")
		return
	}

	slog.Info("retention job starting",
		slog.Int("message_keep_days", policy.MessageKeepDays),
		slog.Int("sample_keep_days", policy.SampleKeepDays),
		slog.Bool("dry_run", policy.DryRun),
		slog.Duration("interval", policy.Interval))

	// Run immediately on start
	if err := runCleanup(ctx, dbc, policy); err != nil {
		slog.Warn("retention cleanup failed", slog.Any("err", err))
	}

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention job stopped")
			return
		case <-ticker.C:
			if err := runCleanup(ctx, dbc, policy); err != nil {
				slog.Warn("retention cleanup failed", slog.Any("err", err))
			}
		}
	}
}

// runCleanup performs a single cleanup cycle.
func runCleanup(ctx context.Context, dbc *sql.DB, policy Policy) error {
	logger := slog.Default().With(
		slog.String("component", "retention_cleanup"),
		slog.Bool("dry_run", policy.DryRun),
	)

	targets := []struct {
		name     string
		column   string
		keepDays int
	}{
		{"bot_messages", "posted_at", policy.MessageKeepDays},
		{"viewer_samples", "sampled_at", policy.SampleKeepDays},
	}

	for _, t := range targets {
		if t.keepDays <= 0 {
			continue
		}
		cutoff := time.Now().Add(-time.Duration(t.keepDays) * 24 * time.Hour)

		if policy.DryRun {
			var count int
			err := dbc.QueryRowContext(ctx,
				fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s < $1`, t.name, t.column),
				cutoff).Scan(&count)
			if err != nil {
				return fmt.Errorf("count old %s rows: %w", t.name, err)
			}
			logger.Info("dry-run: would delete rows",
				slog.String("table", t.name),
				slog.Int("count", count),
				slog.Time("cutoff", cutoff))
			continue
		}

		result, err := dbc.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, t.name, t.column),
			cutoff)
		if err != nil {
			return fmt.Errorf("delete old %s rows: %w", t.name, err)
		}
		deleted, _ := result.RowsAffected()
		if deleted > 0 {
			logger.Info("deleted old rows",
				slog.String("table", t.name),
				slog.Int64("count", deleted),
				slog.Time("cutoff", cutoff))
		}
	}

	return nil
}
