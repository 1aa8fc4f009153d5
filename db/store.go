package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quenby/streamwarden/bot"
	"github.com/quenby/streamwarden/crypto"
	"github.com/quenby/streamwarden/platform"
)

// GetBotConfig loads the user's config; nil when none exists.
func (s *Store) GetBotConfig(ctx context.Context, userID string) (*bot.BotConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT streamer_name, topic, command_prefix, interval_mode, interval_minutes,
		        min_interval_minutes, max_interval_minutes, fact_keywords,
		        chatter_chance, generate_retries
		 FROM bot_configs WHERE user_id = $1`, userID)

	cfg := &bot.BotConfig{UserID: userID}
	var keywords string
	err := row.Scan(&cfg.StreamerName, &cfg.Topic, &cfg.CommandPrefix, &cfg.IntervalMode,
		&cfg.IntervalMinutes, &cfg.MinIntervalMinutes, &cfg.MaxIntervalMinutes,
		&keywords, &cfg.ChatterChance, &cfg.GenerateRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.FactKeywords = splitList(keywords)
	return cfg, nil
}

// UpdateBotConfig upserts the user's config.
func (s *Store) UpdateBotConfig(ctx context.Context, cfg *bot.BotConfig) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO bot_configs(user_id, streamer_name, topic, command_prefix, interval_mode,
		        interval_minutes, min_interval_minutes, max_interval_minutes, fact_keywords,
		        chatter_chance, generate_retries, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		 ON CONFLICT(user_id) DO UPDATE SET
		   streamer_name=EXCLUDED.streamer_name,
		   topic=EXCLUDED.topic,
		   command_prefix=EXCLUDED.command_prefix,
		   interval_mode=EXCLUDED.interval_mode,
		   interval_minutes=EXCLUDED.interval_minutes,
		   min_interval_minutes=EXCLUDED.min_interval_minutes,
		   max_interval_minutes=EXCLUDED.max_interval_minutes,
		   fact_keywords=EXCLUDED.fact_keywords,
		   chatter_chance=EXCLUDED.chatter_chance,
		   generate_retries=EXCLUDED.generate_retries,
		   updated_at=NOW()`,
		cfg.UserID, cfg.StreamerName, cfg.Topic, cfg.CommandPrefix, cfg.IntervalMode,
		cfg.IntervalMinutes, cfg.MinIntervalMinutes, cfg.MaxIntervalMinutes,
		strings.Join(cfg.FactKeywords, ","), cfg.ChatterChance, cfg.GenerateRetries)
	return err
}

// GetPlatformConnection returns the stored connection for one platform, or
// nil when none exists. Sealed tokens stay sealed here; unsealing happens
// in the connector right before use.
func (s *Store) GetPlatformConnection(ctx context.Context, userID string, p platform.ID) (*bot.PlatformConnection, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT username, channel_id, access_token, refresh_token, encryption_version, is_connected
		 FROM platform_connections WHERE user_id = $1 AND platform = $2`, userID, string(p))

	conn := &bot.PlatformConnection{UserID: userID, Platform: p}
	var token string
	var encVersion int
	err := row.Scan(&conn.Username, &conn.ChannelID, &token, &conn.RefreshToken, &encVersion, &conn.IsConnected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if encVersion >= 1 {
		conn.SealedToken = token
	} else {
		conn.Token = token
	}
	return conn, nil
}

// UpsertPlatformConnection writes a connection row, sealing the access
// token when a sealer is configured.
func (s *Store) UpsertPlatformConnection(ctx context.Context, conn *bot.PlatformConnection) error {
	token := conn.Token
	encVersion := 0
	if conn.SealedToken != "" {
		token = conn.SealedToken
		encVersion = 1
	} else if s.Sealer != nil && token != "" {
		sealed, err := crypto.SealString(s.Sealer, token)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		token = sealed
		encVersion = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO platform_connections(user_id, platform, username, channel_id,
		        access_token, refresh_token, encryption_version, is_connected, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		 ON CONFLICT(user_id, platform) DO UPDATE SET
		   username=EXCLUDED.username,
		   channel_id=EXCLUDED.channel_id,
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   encryption_version=EXCLUDED.encryption_version,
		   is_connected=EXCLUDED.is_connected,
		   updated_at=NOW()`,
		conn.UserID, string(conn.Platform), conn.Username, conn.ChannelID,
		token, conn.RefreshToken, encVersion, conn.IsConnected)
	return err
}

// UpdatePlatformTokens replaces one connection's token material, used by
// the credential refresher.
func (s *Store) UpdatePlatformTokens(ctx context.Context, userID string, p platform.ID, access, refresh string, expiry time.Time) error {
	token := access
	encVersion := 0
	if s.Sealer != nil && token != "" {
		sealed, err := crypto.SealString(s.Sealer, token)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		token = sealed
		encVersion = 1
	}
	var expiresAt any
	if !expiry.IsZero() {
		expiresAt = expiry
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE platform_connections
		 SET access_token=$1, refresh_token=$2, token_expires_at=$3, encryption_version=$4, updated_at=NOW()
		 WHERE user_id=$5 AND platform=$6`,
		token, refresh, expiresAt, encVersion, userID, string(p))
	return err
}

// ExpiringConnections lists connected rows for one platform whose access
// token expires within the window (or has no recorded expiry) and that
// carry a refresh token.
func (s *Store) ExpiringConnections(ctx context.Context, p platform.ID, cutoff time.Time) ([]bot.PlatformConnection, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id, refresh_token FROM platform_connections
		 WHERE platform=$1 AND is_connected=TRUE AND refresh_token <> ''
		   AND (token_expires_at IS NULL OR token_expires_at <= $2)`,
		string(p), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bot.PlatformConnection
	for rows.Next() {
		conn := bot.PlatformConnection{Platform: p}
		if err := rows.Scan(&conn.UserID, &conn.RefreshToken); err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (s *Store) CreateMessage(ctx context.Context, rec *bot.MessageRecord) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO bot_messages(id, user_id, platform, channel, kind, content, error, posted_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.UserID, string(rec.Platform), rec.Channel, rec.Kind, rec.Text, rec.Error, rec.PostedAt)
	return err
}

// RecentMessages returns the newest successfully posted content, newest
// first, for dedup steering.
func (s *Store) RecentMessages(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT content FROM bot_messages
		 WHERE user_id=$1 AND error='' AND content <> ''
		 ORDER BY posted_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

func (s *Store) ListCommands(ctx context.Context, userID string) ([]bot.Command, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, response, cooldown_seconds, min_role
		 FROM commands WHERE user_id=$1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bot.Command
	for rows.Next() {
		var c bot.Command
		if err := rows.Scan(&c.ID, &c.Name, &c.Response, &c.CooldownSeconds, &c.MinRole); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListModerationRules(ctx context.Context, userID string) ([]bot.ModerationRule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, pattern, action, timeout_seconds, reason
		 FROM moderation_rules WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bot.ModerationRule
	for rows.Next() {
		var r bot.ModerationRule
		var action string
		if err := rows.Scan(&r.ID, &r.Pattern, &action, &r.TimeoutSeconds, &r.Reason); err != nil {
			return nil, err
		}
		r.Action = platform.ModAction(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetCurrencySettings(ctx context.Context, userID string) (*bot.CurrencySettings, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT name, message_reward, gamble_min, gamble_max
		 FROM currency_settings WHERE user_id=$1`, userID)
	cur := &bot.CurrencySettings{}
	err := row.Scan(&cur.Name, &cur.MessageReward, &cur.GambleMin, &cur.GambleMax)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT name, cost FROM redemptions WHERE user_id=$1 ORDER BY cost`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r bot.Redemption
		if err := rows.Scan(&r.Name, &r.Cost); err != nil {
			return nil, err
		}
		cur.Redemptions = append(cur.Redemptions, r)
	}
	return cur, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, userID string, p platform.ID, viewer string) (int64, error) {
	var amount int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT amount FROM currency_balances WHERE user_id=$1 AND platform=$2 AND viewer=$3`,
		userID, string(p), viewer).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Store) AdjustBalance(ctx context.Context, userID string, p platform.ID, viewer string, delta int64) (int64, error) {
	var amount int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO currency_balances(user_id, platform, viewer, amount)
		 VALUES($1,$2,$3,$4)
		 ON CONFLICT(user_id, platform, viewer) DO UPDATE SET
		   amount = currency_balances.amount + EXCLUDED.amount
		 RETURNING amount`,
		userID, string(p), viewer, delta).Scan(&amount)
	return amount, err
}

func (s *Store) TopBalances(ctx context.Context, userID string, p platform.ID, limit int) ([]bot.Balance, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT viewer, amount FROM currency_balances
		 WHERE user_id=$1 AND platform=$2 ORDER BY amount DESC LIMIT $3`,
		userID, string(p), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bot.Balance
	for rows.Next() {
		var b bot.Balance
		if err := rows.Scan(&b.Viewer, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ActiveGiveaway(ctx context.Context, userID string) (*bot.Giveaway, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, keyword, prize, active FROM giveaways
		 WHERE user_id=$1 AND active=TRUE LIMIT 1`, userID)
	g := &bot.Giveaway{}
	err := row.Scan(&g.ID, &g.Keyword, &g.Prize, &g.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// AddGiveawayEntry records one entry; re-entering is a no-op.
func (s *Store) AddGiveawayEntry(ctx context.Context, giveawayID string, p platform.ID, viewer string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO giveaway_entries(giveaway_id, platform, viewer)
		 VALUES($1,$2,$3) ON CONFLICT DO NOTHING`,
		giveawayID, string(p), viewer)
	return err
}

func (s *Store) ActivePoll(ctx context.Context, userID string) (*bot.Poll, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, question, options, active FROM polls
		 WHERE user_id=$1 AND active=TRUE LIMIT 1`, userID)
	p := &bot.Poll{}
	var options string
	err := row.Scan(&p.ID, &p.Question, &options, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Options = splitList(options)
	return p, nil
}

// AddPollVote records a vote; a repeat vote replaces the previous one.
func (s *Store) AddPollVote(ctx context.Context, pollID string, option int, p platform.ID, viewer string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO poll_votes(poll_id, option, platform, viewer)
		 VALUES($1,$2,$3,$4)
		 ON CONFLICT(poll_id, platform, viewer) DO UPDATE SET option=EXCLUDED.option`,
		pollID, option, string(p), viewer)
	return err
}

func (s *Store) AddSongRequest(ctx context.Context, req *bot.SongRequest) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO song_requests(id, user_id, platform, viewer, title, requested_at)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		req.ID, req.UserID, string(req.Platform), req.Viewer, req.Title, req.RequestedAt)
	return err
}

func (s *Store) NextSongs(ctx context.Context, userID string, limit int) ([]bot.SongRequest, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, platform, viewer, title, requested_at FROM song_requests
		 WHERE user_id=$1 AND played=FALSE ORDER BY requested_at LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []bot.SongRequest
	for rows.Next() {
		req := bot.SongRequest{UserID: userID}
		var p string
		if err := rows.Scan(&req.ID, &p, &req.Viewer, &req.Title, &req.RequestedAt); err != nil {
			return nil, err
		}
		req.Platform = platform.ID(p)
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) RandomTriviaQuestion(ctx context.Context, userID string) (*bot.TriviaQuestion, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, question, answer, reward FROM trivia_questions
		 WHERE user_id=$1 ORDER BY RANDOM() LIMIT 1`, userID)
	q := &bot.TriviaQuestion{}
	err := row.Scan(&q.ID, &q.Question, &q.Answer, &q.Reward)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Store) RecordViewerSample(ctx context.Context, userID string, p platform.ID, count int, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO viewer_samples(user_id, platform, viewer_count, sampled_at)
		 VALUES($1,$2,$3,$4)`,
		userID, string(p), count, at)
	return err
}

func (s *Store) TouchHeartbeat(ctx context.Context, userID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO session_heartbeats(user_id, last_seen) VALUES($1,$2)
		 ON CONFLICT(user_id) DO UPDATE SET last_seen=EXCLUDED.last_seen`,
		userID, at)
	return err
}

// UpsertOAuthToken stores a provider token, sealed when a sealer is
// configured. Implements the YouTube token store.
func (s *Store) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, raw string) error {
	encVersion := 0
	if s.Sealer != nil {
		encVersion = 1
		var err error
		if access != "" {
			if access, err = crypto.SealString(s.Sealer, access); err != nil {
				return fmt.Errorf("seal access token: %w", err)
			}
		}
		if refresh != "" {
			if refresh, err = crypto.SealString(s.Sealer, refresh); err != nil {
				return fmt.Errorf("seal refresh token: %w", err)
			}
		}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, raw, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   raw=EXCLUDED.raw,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		provider, access, refresh, expiry, raw, encVersion)
	return err
}

// GetOAuthToken retrieves a stored token row; zero values when not found.
// Sealed tokens are opened transparently. Raw is not returned sealed
// because it duplicates the token fields; callers rebuild it.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, raw string, err error) {
	var encVersion int
	var expiresAt sql.NullTime
	row := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, raw, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider=$1`, provider)
	err = row.Scan(&access, &refresh, &expiresAt, &raw, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	if expiresAt.Valid {
		expiry = expiresAt.Time
	}
	if encVersion >= 1 {
		if s.Sealer == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is sealed but no encryption key configured")
		}
		if access != "" {
			if access, err = crypto.OpenString(s.Sealer, access); err != nil {
				return "", "", time.Time{}, "", fmt.Errorf("open access token: %w", err)
			}
		}
		if refresh != "" {
			if refresh, err = crypto.OpenString(s.Sealer, refresh); err != nil {
				return "", "", time.Time{}, "", fmt.Errorf("open refresh token: %w", err)
			}
		}
		raw = ""
	}
	return access, refresh, expiry, raw, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
