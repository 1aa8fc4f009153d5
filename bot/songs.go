package bot

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/quenby/streamwarden/platform"
)

// requestSong queues a song: "sr <title or link>".
func (s *Session) requestSong(msg platform.Message, args []string) {
	if len(args) == 0 {
		s.reply(msg.Platform, fmt.Sprintf("usage: %ssr <song title or link>", s.cfg.CommandPrefix))
		return
	}
	req := &SongRequest{
		ID:          uuid.NewString(),
		UserID:      s.userID,
		Platform:    msg.Platform,
		Viewer:      msg.Username,
		Title:       strings.Join(args, " "),
		RequestedAt: s.opts.Now(),
	}
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	if err := s.store.AddSongRequest(ctx, req); err != nil {
		s.log.Warn("queue song", slog.Any("err", err))
		return
	}
	s.reply(msg.Platform, fmt.Sprintf("@%s queued %q", msg.Username, req.Title))
}

// listSongs shows the next few queued songs.
func (s *Session) listSongs(msg platform.Message) {
	ctx, cancelOp := s.storeCtx()
	defer cancelOp()
	songs, err := s.store.NextSongs(ctx, s.userID, 3)
	if err != nil {
		s.log.Warn("load song queue", slog.Any("err", err))
		return
	}
	if len(songs) == 0 {
		s.reply(msg.Platform, "the song queue is empty")
		return
	}
	parts := make([]string, 0, len(songs))
	for i, song := range songs {
		parts = append(parts, fmt.Sprintf("%d. %s (by %s)", i+1, song.Title, song.Viewer))
	}
	s.reply(msg.Platform, "up next: "+strings.Join(parts, " | "))
}
