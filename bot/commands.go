package bot

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quenby/streamwarden/cooldown"
	"github.com/quenby/streamwarden/platform"
)

// routeCommand handles text starting with the command prefix: built-in
// games and economy first, then poll voting, song requests, shoutouts, and
// finally user-defined commands.
func (s *Session) routeCommand(msg platform.Message) {
	body := strings.TrimPrefix(msg.Text, s.cfg.CommandPrefix)
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "8ball", "trivia", "duel", "slots", "roulette":
		s.playGame(msg, name, args)
	case "balance", "give", "gamble", "leaderboard", "redeem":
		s.economyCommand(msg, name, args)
	case "vote":
		s.votePoll(msg, args)
	case "sr", "songrequest":
		s.requestSong(msg, args)
	case "songs", "queue":
		s.listSongs(msg)
	case "so", "shoutout":
		s.shoutout(msg, args)
	default:
		if !s.customCommand(msg, name) {
			// Not a command after all; the text may still be a
			// giveaway keyword like "!win".
			s.tryGiveawayEntry(msg)
		}
	}
}

// shoutout is moderator-gated and promotes another streamer.
func (s *Session) shoutout(msg platform.Message, args []string) {
	if !roleAllows("moderator", msg.Role) {
		return
	}
	if len(args) == 0 {
		return
	}
	target := strings.TrimPrefix(args[0], "@")
	s.reply(msg.Platform, fmt.Sprintf("go check out %s, they're great! give them a follow", target))
}

// customCommand resolves a user-defined command: role gate first, then a
// per-command cooldown. Returns false when no such command exists.
func (s *Session) customCommand(msg platform.Message, name string) bool {
	cmd, ok := s.commands[name]
	if !ok {
		return false
	}
	if !roleAllows(cmd.MinRole, msg.Role) {
		s.log.Debug("command denied by role",
			slog.String("command", name),
			slog.String("user", msg.Username))
		return true
	}
	key := cooldown.CommandKey(name)
	if !s.cmdCooldowns.Ready(key) {
		return true
	}
	s.cmdCooldowns.Trip(key, time.Duration(cmd.CooldownSeconds)*time.Second)
	s.reply(msg.Platform, cmd.Response)
	return true
}
