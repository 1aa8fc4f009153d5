package bot

import (
	"log/slog"
	"strings"

	"github.com/quenby/streamwarden/platform"
)

// tryGiveawayEntry enters the sender into the active giveaway when the
// message matches its keyword. Entries are silent: the observer gets a
// giveaway_entry event but chat sees no response.
func (s *Session) tryGiveawayEntry(msg platform.Message) bool {
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	g, err := s.store.ActiveGiveaway(ctx, s.userID)
	if err != nil {
		s.log.Warn("load giveaway", slog.Any("err", err))
		return false
	}
	if g == nil || !g.Active || g.Keyword == "" {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(msg.Text), g.Keyword) {
		return false
	}
	if err := s.store.AddGiveawayEntry(ctx, g.ID, msg.Platform, msg.Username); err != nil {
		s.log.Warn("record giveaway entry", slog.Any("err", err))
		return false
	}
	s.emit(EventGiveawayEntry, msg.Platform, map[string]any{
		"giveaway": g.ID,
		"user":     msg.Username,
		"prize":    g.Prize,
	})
	return true
}
