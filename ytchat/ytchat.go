// Package ytchat connects a bot account to a YouTube live chat through the
// Data API v3. Inbound chat is polled at the interval the API recommends;
// outbound messages go through liveChatMessages.insert and moderation
// through liveChatBans. OAuth tokens are persisted via a TokenStore so the
// same account survives restarts.
package ytchat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/quenby/streamwarden/platform"
)

// pollFailureLimit is how many consecutive poll errors we absorb before
// treating the chat as disconnected.
const pollFailureLimit = 3

var _ platform.Connector = (*Connector)(nil)

// Connector is a platform.Connector for YouTube live chat. channelID is the
// YouTube channel whose active broadcast the bot attaches to.
type Connector struct {
	channelID string
	oauth     *OAuthService

	// newService is swappable so tests can supply a service bound to a
	// fake API endpoint.
	newService func(ctx context.Context) (*yt.Service, error)

	onMessage    func(platform.Message)
	onDisconnect func(error)

	mu         sync.Mutex
	svc        *yt.Service
	liveChatID string
	videoID    string
	startedAt  time.Time
	cancelPoll context.CancelFunc
}

func New(channelID string, oauth *OAuthService) *Connector {
	c := &Connector{channelID: channelID, oauth: oauth}
	c.newService = func(ctx context.Context) (*yt.Service, error) {
		client, err := oauth.Client(ctx)
		if err != nil {
			return nil, err
		}
		return yt.NewService(ctx, option.WithHTTPClient(client))
	}
	return c
}

func (c *Connector) Platform() platform.ID { return platform.YouTube }

func (c *Connector) OnMessage(fn func(platform.Message)) { c.onMessage = fn }
func (c *Connector) OnDisconnect(fn func(error))         { c.onDisconnect = fn }

// Connect resolves the channel's active live chat and starts the poll loop.
// It fails when the channel has no live broadcast; the caller's reconnect
// logic retries until one appears.
func (c *Connector) Connect(ctx context.Context) error {
	svc, err := c.newService(ctx)
	if err != nil {
		return &platform.ConnError{Platform: platform.YouTube, Op: "connect", Err: err}
	}
	videoID, chatID, err := c.resolveChat(ctx, svc)
	if err != nil {
		return &platform.ConnError{Platform: platform.YouTube, Op: "connect", Err: err}
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.svc = svc
	c.videoID = videoID
	c.liveChatID = chatID
	c.startedAt = time.Now().UTC()
	c.cancelPoll = cancel
	c.mu.Unlock()

	go c.pollLoop(pollCtx, svc, chatID)
	slog.Info("youtube chat connected", slog.String("channel", c.channelID), slog.String("video", videoID))
	return nil
}

// Disconnect stops the poll loop without firing the disconnect callback.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	cancel := c.cancelPoll
	c.cancelPoll = nil
	c.svc = nil
	c.liveChatID = ""
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send posts a text message to the active live chat.
func (c *Connector) Send(ctx context.Context, text string) error {
	svc, chatID, err := c.activeChat()
	if err != nil {
		return &platform.ConnError{Platform: platform.YouTube, Op: "send", Err: err}
	}
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: chatID,
			Type:       "textMessageEvent",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	if _, err := svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return &platform.ConnError{Platform: platform.YouTube, Op: "send", Err: err}
	}
	return nil
}

// Moderate maps timeouts to temporary liveChatBans and bans to permanent
// ones. Warnings degrade to a chat mention since the API has no warn call.
func (c *Connector) Moderate(ctx context.Context, action platform.ModAction, user, reason string, d time.Duration) error {
	if action == platform.ActionWarn {
		return c.Send(ctx, fmt.Sprintf("@%s %s", user, reason))
	}
	svc, chatID, err := c.activeChat()
	if err != nil {
		return &platform.ConnError{Platform: platform.YouTube, Op: "moderate", Err: err}
	}
	ban := &yt.LiveChatBan{
		Snippet: &yt.LiveChatBanSnippet{
			LiveChatId: chatID,
			BannedUserDetails: &yt.ChannelProfileDetails{
				ChannelId: user,
			},
		},
	}
	switch action {
	case platform.ActionTimeout:
		ban.Snippet.Type = "temporary"
		secs := int64(d.Seconds())
		if secs < 1 {
			secs = 1
		}
		ban.Snippet.BanDurationSeconds = uint64(secs)
	case platform.ActionBan:
		ban.Snippet.Type = "permanent"
	default:
		return platform.ErrUnsupportedAction
	}
	if _, err := svc.LiveChatBans.Insert([]string{"snippet"}, ban).Context(ctx).Do(); err != nil {
		return &platform.ConnError{Platform: platform.YouTube, Op: "moderate", Err: err}
	}
	return nil
}

// Live reports whether the channel currently has an active broadcast.
func (c *Connector) Live(ctx context.Context) (bool, error) {
	c.mu.Lock()
	svc := c.svc
	c.mu.Unlock()
	if svc == nil {
		var err error
		svc, err = c.newService(ctx)
		if err != nil {
			return false, &platform.ConnError{Platform: platform.YouTube, Op: "live", Err: err}
		}
	}
	_, _, err := c.resolveChat(ctx, svc)
	if err != nil {
		if err == errNoBroadcast {
			return false, nil
		}
		return false, &platform.ConnError{Platform: platform.YouTube, Op: "live", Err: err}
	}
	return true, nil
}

// Viewers returns the concurrent viewer count of the active broadcast.
func (c *Connector) Viewers(ctx context.Context) (int, error) {
	c.mu.Lock()
	svc, videoID := c.svc, c.videoID
	c.mu.Unlock()
	if svc == nil || videoID == "" {
		return 0, nil
	}
	resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return 0, &platform.ConnError{Platform: platform.YouTube, Op: "viewers", Err: err}
	}
	if len(resp.Items) == 0 || resp.Items[0].LiveStreamingDetails == nil {
		return 0, nil
	}
	return int(resp.Items[0].LiveStreamingDetails.ConcurrentViewers), nil
}

var errNoBroadcast = fmt.Errorf("no active live broadcast")

// resolveChat finds the channel's live video and its chat id.
func (c *Connector) resolveChat(ctx context.Context, svc *yt.Service) (videoID, chatID string, err error) {
	search, err := svc.Search.List([]string{"id"}).
		ChannelId(c.channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("search live broadcast: %w", err)
	}
	if len(search.Items) == 0 || search.Items[0].Id == nil || search.Items[0].Id.VideoId == "" {
		return "", "", errNoBroadcast
	}
	videoID = search.Items[0].Id.VideoId
	videos, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("load broadcast details: %w", err)
	}
	if len(videos.Items) == 0 || videos.Items[0].LiveStreamingDetails == nil ||
		videos.Items[0].LiveStreamingDetails.ActiveLiveChatId == "" {
		return "", "", errNoBroadcast
	}
	return videoID, videos.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// pollLoop fetches chat pages at the server-suggested interval until the
// context is cancelled or too many polls fail in a row.
func (c *Connector) pollLoop(ctx context.Context, svc *yt.Service, chatID string) {
	var pageToken string
	failures := 0
	interval := 5 * time.Second
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			slog.Warn("youtube chat poll failed", slog.Int("failures", failures), slog.Any("err", err))
			if failures >= pollFailureLimit {
				c.dropped(err)
				return
			}
			continue
		}
		failures = 0
		pageToken = resp.NextPageToken
		if resp.PollingIntervalMillis > 0 {
			interval = time.Duration(resp.PollingIntervalMillis) * time.Millisecond
		}
		// The first page replays history from before we attached; skip it
		// so old messages are not re-processed.
		if first {
			first = false
			continue
		}
		for _, item := range resp.Items {
			msg, ok := c.toMessage(item)
			if ok && c.onMessage != nil {
				c.onMessage(msg)
			}
		}
	}
}

func (c *Connector) dropped(err error) {
	c.mu.Lock()
	c.svc = nil
	c.liveChatID = ""
	c.mu.Unlock()
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Connector) activeChat() (*yt.Service, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc == nil || c.liveChatID == "" {
		return nil, "", fmt.Errorf("not connected")
	}
	return c.svc, c.liveChatID, nil
}

func (c *Connector) toMessage(item *yt.LiveChatMessage) (platform.Message, bool) {
	if item.Snippet == nil || item.Snippet.Type != "textMessageEvent" ||
		item.Snippet.TextMessageDetails == nil || item.AuthorDetails == nil {
		return platform.Message{}, false
	}
	at, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
	if err != nil {
		at = time.Now().UTC()
	}
	return platform.Message{
		Platform: platform.YouTube,
		Channel:  c.channelID,
		UserID:   item.AuthorDetails.ChannelId,
		Username: item.AuthorDetails.DisplayName,
		Text:     item.Snippet.TextMessageDetails.MessageText,
		Role: platform.Role{
			Broadcaster: item.AuthorDetails.IsChatOwner,
			Moderator:   item.AuthorDetails.IsChatModerator,
			Subscriber:  item.AuthorDetails.IsChatSponsor,
		},
		At: at,
	}, true
}
