package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/quenby/streamwarden/platform"
)

// economyCommand routes the currency commands.
func (s *Session) economyCommand(msg platform.Message, name string, args []string) {
	switch name {
	case "balance":
		s.showBalance(msg)
	case "give":
		s.giveCurrency(msg, args)
	case "gamble":
		s.gamble(msg, args)
	case "leaderboard":
		s.leaderboard(msg)
	case "redeem":
		s.redeem(msg, args)
	}
}

func (s *Session) showBalance(msg platform.Message) {
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	amount, err := s.store.GetBalance(ctx, s.userID, msg.Platform, msg.Username)
	if err != nil {
		s.log.Warn("load balance", slog.Any("err", err))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("@%s you have %d %s", msg.Username, amount, s.currencyName()))
}

// giveCurrency lets the broadcaster or a moderator grant currency.
func (s *Session) giveCurrency(msg platform.Message, args []string) {
	if !roleAllows("moderator", msg.Role) {
		return
	}
	if len(args) < 2 {
		s.reply(msg.Platform, fmt.Sprintf("usage: %sgive @user amount", s.cfg.CommandPrefix))
		return
	}
	target := strings.TrimPrefix(args[0], "@")
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		s.reply(msg.Platform, "amount must be a positive number")
		return
	}
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	total, err := s.store.AdjustBalance(ctx, s.userID, msg.Platform, target, amount)
	if err != nil {
		s.log.Warn("give currency", slog.Any("err", err))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("%s received %d %s (now %d)", target, amount, s.currencyName(), total))
}

// gamble is double-or-nothing within the configured wager bounds.
func (s *Session) gamble(msg platform.Message, args []string) {
	if len(args) == 0 {
		s.reply(msg.Platform, fmt.Sprintf("usage: %sgamble amount", s.cfg.CommandPrefix))
		return
	}
	wager, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || wager <= 0 {
		s.reply(msg.Platform, "wager must be a positive number")
		return
	}
	if s.currency.GambleMin > 0 && wager < s.currency.GambleMin {
		s.reply(msg.Platform, fmt.Sprintf("minimum wager is %d", s.currency.GambleMin))
		return
	}
	if s.currency.GambleMax > 0 && wager > s.currency.GambleMax {
		s.reply(msg.Platform, fmt.Sprintf("maximum wager is %d", s.currency.GambleMax))
		return
	}

	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	balance, err := s.store.GetBalance(ctx, s.userID, msg.Platform, msg.Username)
	if err != nil {
		s.log.Warn("load balance", slog.Any("err", err))
		return
	}
	if balance < wager {
		s.reply(msg.Platform, fmt.Sprintf("@%s you only have %d %s", msg.Username, balance, s.currencyName()))
		return
	}

	delta := -wager
	if s.opts.Intn(2) == 1 {
		delta = wager
	}
	total, err := s.store.AdjustBalance(ctx, s.userID, msg.Platform, msg.Username, delta)
	if err != nil {
		s.log.Warn("gamble settle", slog.Any("err", err))
		return
	}
	if delta > 0 {
		s.reply(msg.Platform, fmt.Sprintf("@%s won %d %s! balance: %d", msg.Username, wager, s.currencyName(), total))
	} else {
		s.reply(msg.Platform, fmt.Sprintf("@%s lost %d %s. balance: %d", msg.Username, wager, s.currencyName(), total))
	}
}

func (s *Session) leaderboard(msg platform.Message) {
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	top, err := s.store.TopBalances(ctx, s.userID, msg.Platform, 5)
	if err != nil {
		s.log.Warn("load leaderboard", slog.Any("err", err))
		return
	}
	if len(top) == 0 {
		s.reply(msg.Platform, "nobody has earned anything yet")
		return
	}
	parts := make([]string, 0, len(top))
	for i, b := range top {
		parts = append(parts, fmt.Sprintf("%d. %s (%d)", i+1, b.Viewer, b.Amount))
	}
	s.reply(msg.Platform, s.currencyName()+" leaderboard: "+strings.Join(parts, " | "))
}

// redeem spends currency on a configured redemption.
func (s *Session) redeem(msg platform.Message, args []string) {
	if len(args) == 0 {
		names := make([]string, 0, len(s.currency.Redemptions))
		for _, r := range s.currency.Redemptions {
			names = append(names, fmt.Sprintf("%s (%d)", r.Name, r.Cost))
		}
		if len(names) == 0 {
			s.reply(msg.Platform, "nothing to redeem right now")
			return
		}
		s.reply(msg.Platform, "redeemable: "+strings.Join(names, ", "))
		return
	}

	want := strings.ToLower(strings.Join(args, " "))
	var found *Redemption
	for i := range s.currency.Redemptions {
		if strings.ToLower(s.currency.Redemptions[i].Name) == want {
			found = &s.currency.Redemptions[i]
			break
		}
	}
	if found == nil {
		s.reply(msg.Platform, fmt.Sprintf("no redemption named %q", want))
		return
	}

	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	balance, err := s.store.GetBalance(ctx, s.userID, msg.Platform, msg.Username)
	if err != nil {
		s.log.Warn("load balance", slog.Any("err", err))
		return
	}
	if balance < found.Cost {
		s.reply(msg.Platform, fmt.Sprintf("@%s that costs %d %s, you have %d", msg.Username, found.Cost, s.currencyName(), balance))
		return
	}
	if _, err := s.store.AdjustBalance(ctx, s.userID, msg.Platform, msg.Username, -found.Cost); err != nil {
		s.log.Warn("redeem settle", slog.Any("err", err))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("@%s redeemed %s for %d %s!", msg.Username, found.Name, found.Cost, s.currencyName()))
}
