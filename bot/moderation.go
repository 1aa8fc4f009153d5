package bot

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/telemetry"
)

// moderate runs the configured rule set against the message and executes
// the first matching rule's action. Returns true when the message was
// disallowed, which ends all further processing of it. Broadcasters and
// moderators are exempt.
func (s *Session) moderate(msg platform.Message) bool {
	if msg.Role.Broadcaster || msg.Role.Moderator {
		return false
	}
	text := strings.ToLower(msg.Text)
	for _, rule := range s.rules {
		if rule.Pattern == "" || !strings.Contains(text, strings.ToLower(rule.Pattern)) {
			continue
		}
		s.applyModeration(msg, rule)
		return true
	}
	return false
}

func (s *Session) applyModeration(msg platform.Message, rule ModerationRule) {
	c := s.connectors[msg.Platform]
	if c == nil {
		return
	}
	reason := rule.Reason
	if reason == "" {
		reason = "message removed by moderation"
	}
	d := time.Duration(rule.TimeoutSeconds) * time.Second
	if d <= 0 {
		d = 10 * time.Minute
	}

	err := c.Moderate(s.ctx, rule.Action, msg.Username, reason, d)
	if errors.Is(err, platform.ErrUnsupportedAction) {
		// Degrade to a warning where the platform lacks the native action.
		s.log.Info("moderation action unsupported, warning instead",
			slog.String("platform", string(msg.Platform)),
			slog.String("action", string(rule.Action)))
		err = c.Moderate(s.ctx, platform.ActionWarn, msg.Username, reason, 0)
	}
	if err != nil {
		s.log.Warn("moderation action failed",
			slog.String("platform", string(msg.Platform)),
			slog.String("action", string(rule.Action)),
			slog.Any("err", err))
		return
	}
	telemetry.ModerationActions.WithLabelValues(string(msg.Platform), string(rule.Action)).Inc()
	s.emit(EventModerationAction, msg.Platform, map[string]any{
		"action": string(rule.Action),
		"user":   msg.Username,
		"reason": reason,
	})
}
