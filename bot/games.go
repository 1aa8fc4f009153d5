package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quenby/streamwarden/cooldown"
	"github.com/quenby/streamwarden/platform"
)

// gameCooldown is the per-user-per-game cooldown.
const gameCooldown = 30 * time.Second

var eightBallAnswers = []string{
	"it is certain",
	"without a doubt",
	"signs point to yes",
	"ask again later",
	"better not tell you now",
	"don't count on it",
	"my sources say no",
	"very doubtful",
}

var slotSymbols = []string{"🍒", "🍋", "🔔", "⭐", "7️⃣"}

// playGame runs one chat game. Each game has its own per-user cooldown,
// separate from the platform rate window.
func (s *Session) playGame(msg platform.Message, game string, args []string) {
	key := cooldown.GameKey(msg.Username, game)
	if !s.cmdCooldowns.Ready(key) {
		return
	}
	s.cmdCooldowns.Trip(key, gameCooldown)

	switch game {
	case "8ball":
		s.reply(msg.Platform, fmt.Sprintf("@%s 🎱 %s", msg.Username, eightBallAnswers[s.opts.Intn(len(eightBallAnswers))]))
	case "trivia":
		s.startTrivia(msg)
	case "duel":
		s.playDuel(msg, args)
	case "slots":
		s.playSlots(msg)
	case "roulette":
		s.playRoulette(msg)
	}
}

// playDuel pits the sender against a named target; the loser takes a short
// timeout where the platform supports one.
func (s *Session) playDuel(msg platform.Message, args []string) {
	if len(args) == 0 {
		s.reply(msg.Platform, fmt.Sprintf("@%s duel who? try %sduel @someone", msg.Username, s.cfg.CommandPrefix))
		return
	}
	target := strings.TrimPrefix(args[0], "@")
	if strings.EqualFold(target, msg.Username) {
		s.reply(msg.Platform, fmt.Sprintf("@%s you can't duel yourself", msg.Username))
		return
	}
	winner, loser := msg.Username, target
	if s.opts.Intn(2) == 1 {
		winner, loser = target, msg.Username
	}
	s.timeoutLoser(msg.Platform, loser)
	s.reply(msg.Platform, fmt.Sprintf("⚔️ %s defeats %s in a duel! %s takes a 60s timeout", winner, loser, loser))
}

func (s *Session) timeoutLoser(p platform.ID, loser string) {
	c := s.connectors[p]
	if c == nil {
		return
	}
	err := c.Moderate(s.ctx, platform.ActionTimeout, loser, "lost a duel", time.Minute)
	if err != nil && !errors.Is(err, platform.ErrUnsupportedAction) {
		s.log.Warn("duel timeout", slog.String("platform", string(p)), slog.Any("err", err))
	}
}

// playSlots spins three symbols; a triple pays out of the economy.
func (s *Session) playSlots(msg platform.Message) {
	a := slotSymbols[s.opts.Intn(len(slotSymbols))]
	b := slotSymbols[s.opts.Intn(len(slotSymbols))]
	c := slotSymbols[s.opts.Intn(len(slotSymbols))]
	line := a + " " + b + " " + c
	if a == b && b == c {
		const payout = 100
		ctx, cancelOp := s.storeCtx()
		if _, err := s.store.AdjustBalance(ctx, s.userID, msg.Platform, msg.Username, payout); err != nil {
			s.log.Warn("slots payout", slog.Any("err", err))
		}
		cancelOp()
		s.reply(msg.Platform, fmt.Sprintf("@%s %s JACKPOT! +%d %s", msg.Username, line, payout, s.currencyName()))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("@%s %s no luck this time", msg.Username, line))
}

// playRoulette gives a 1-in-6 chance of a 60s timeout.
func (s *Session) playRoulette(msg platform.Message) {
	if s.opts.Intn(6) == 0 {
		s.timeoutLoser(msg.Platform, msg.Username)
		s.reply(msg.Platform, fmt.Sprintf("💥 @%s pulled the trigger... bang! see you in 60s", msg.Username))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("@%s click. you live another day", msg.Username))
}
