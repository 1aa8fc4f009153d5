package bot

import (
	"log/slog"
	"strings"

	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/telemetry"
)

// dispatch routes one inbound message through the pipeline in strict
// order: moderation, trivia answer, conversational reply, command router
// (or giveaway keyword for plain text), then fact-keyword trigger. The
// first stage that produces an outbound action ends processing; at most
// one outbound action results per message. A panicking handler is
// contained so one bad message never takes the session down.
func (s *Session) dispatch(msg platform.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("dispatch panic",
				slog.String("platform", string(msg.Platform)),
				slog.Any("panic", r))
		}
	}()
	telemetry.MessagesInbound.WithLabelValues(string(msg.Platform)).Inc()
	telemetry.TimeFunc(telemetry.DispatchDuration, func() {
		s.dispatchStages(msg)
	})
}

func (s *Session) dispatchStages(msg platform.Message) {
	if msg.Username != "" && strings.EqualFold(msg.Username, s.botNames[msg.Platform]) {
		return // never react to our own messages
	}

	if s.moderate(msg) {
		return
	}
	if s.tryTriviaAnswer(msg) {
		return
	}

	isCommand := s.cfg.CommandPrefix != "" && strings.HasPrefix(msg.Text, s.cfg.CommandPrefix)
	if !isCommand {
		s.accrueCurrency(msg)
	}
	if !isCommand && s.tryConversation(msg) {
		return
	}
	if isCommand {
		s.routeCommand(msg)
		return
	}
	if s.tryGiveawayEntry(msg) {
		return
	}
	s.tryFactKeyword(msg)
}

// accrueCurrency credits the per-message reward when the economy has one.
// A side effect, not an outbound action; never short-circuits the pipeline.
func (s *Session) accrueCurrency(msg platform.Message) {
	if s.currency == nil || s.currency.MessageReward <= 0 {
		return
	}
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	if _, err := s.store.AdjustBalance(ctx, s.userID, msg.Platform, msg.Username, s.currency.MessageReward); err != nil {
		s.log.Warn("currency accrual", slog.Any("err", err))
	}
}

// tryFactKeyword posts generated content when the message contains one of
// the configured keywords, using the same gated path as the scheduler.
func (s *Session) tryFactKeyword(msg platform.Message) {
	text := strings.ToLower(msg.Text)
	for _, kw := range s.cfg.FactKeywords {
		if kw == "" || !strings.Contains(text, strings.ToLower(kw)) {
			continue
		}
		if err := s.generateAndPost([]platform.ID{msg.Platform}, kw); err != nil {
			s.log.Warn("keyword fact post", slog.String("keyword", kw), slog.Any("err", err))
		}
		return
	}
}

// roleLevel orders chat roles: broadcaster > moderator > subscriber >
// everyone.
func roleLevel(r platform.Role) int {
	switch {
	case r.Broadcaster:
		return 3
	case r.Moderator:
		return 2
	case r.Subscriber:
		return 1
	default:
		return 0
	}
}

func minRoleLevel(name string) int {
	switch strings.ToLower(name) {
	case "broadcaster":
		return 3
	case "moderator":
		return 2
	case "subscriber":
		return 1
	default:
		return 0
	}
}

func roleAllows(minRole string, r platform.Role) bool {
	return roleLevel(r) >= minRoleLevel(minRole)
}
