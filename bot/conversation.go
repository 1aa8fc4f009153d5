package bot

import (
	"log/slog"
	"strings"

	"github.com/quenby/streamwarden/generator"
	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/telemetry"
)

// tryConversation decides whether a plain chat line gets a generated
// reply. Triggers, strongest first: the bot is mentioned, the message is a
// question, or a small configured random chance fires.
func (s *Session) tryConversation(msg platform.Message) bool {
	if !s.conversationTriggered(msg) {
		return false
	}
	prompt := generator.Prompt{
		Kind:     "reply",
		Streamer: s.cfg.StreamerName,
		Channel:  s.channelOf(msg.Platform),
		Topic:    s.cfg.Topic,
		UserText: msg.Text,
	}
	text, err := s.generate(prompt)
	if err != nil {
		telemetry.GenerationFailures.Inc()
		s.log.Warn("reply generation", slog.Any("err", err))
		return true // trigger fired; don't fall through to other stages
	}
	s.reply(msg.Platform, "@"+msg.Username+" "+text)
	return true
}

func (s *Session) conversationTriggered(msg platform.Message) bool {
	text := strings.ToLower(msg.Text)
	if name := s.botNames[msg.Platform]; name != "" && strings.Contains(text, "@"+name) {
		return true
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return true
	}
	return s.cfg.ChatterChance > 0 && s.opts.Chance() < s.cfg.ChatterChance
}
