package bot

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/quenby/streamwarden/platform"
)

// votePoll casts a vote in the active poll: "vote <option-number>".
func (s *Session) votePoll(msg platform.Message, args []string) {
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	poll, err := s.store.ActivePoll(ctx, s.userID)
	if err != nil {
		s.log.Warn("load poll", slog.Any("err", err))
		return
	}
	if poll == nil || !poll.Active {
		s.reply(msg.Platform, "no poll is running right now")
		return
	}
	if len(args) == 0 {
		s.reply(msg.Platform, fmt.Sprintf("%s - vote with %svote <1-%d>", poll.Question, s.cfg.CommandPrefix, len(poll.Options)))
		return
	}
	option, err := strconv.Atoi(args[0])
	if err != nil || option < 1 || option > len(poll.Options) {
		s.reply(msg.Platform, fmt.Sprintf("pick an option between 1 and %d", len(poll.Options)))
		return
	}
	if err := s.store.AddPollVote(ctx, poll.ID, option, msg.Platform, msg.Username); err != nil {
		s.log.Warn("record vote", slog.Any("err", err))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("@%s voted for %q", msg.Username, poll.Options[option-1]))
}
