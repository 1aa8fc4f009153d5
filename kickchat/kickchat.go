// Package kickchat connects a bot account to a Kick channel. Inbound chat
// arrives over Kick's Pusher websocket; outbound sends and channel lookups
// go through the HTTP API. Kick exposes no moderation endpoints for bot
// accounts, so timeouts and bans are unsupported and warnings degrade to a
// plain chat mention.
package kickchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quenby/streamwarden/crypto"
	"github.com/quenby/streamwarden/platform"
)

var _ platform.Connector = (*Connector)(nil)

// Connector is a platform.Connector for Kick chat.
type Connector struct {
	channel   string
	creds     platform.Credentials
	sealer    crypto.Sealer
	pusherURL string

	api *apiClient

	onMessage    func(platform.Message)
	onDisconnect func(error)

	mu         sync.Mutex
	feed       *pusherFeed
	chatroomID int64
	connected  bool
}

// New builds a Kick connector. apiBase is the HTTP API root and pusherURL
// the full websocket endpoint including the Pusher app key.
func New(channel string, creds platform.Credentials, sealer crypto.Sealer, apiBase, pusherURL string) (*Connector, error) {
	token := creds.Token
	if creds.SealedToken != "" && sealer != nil {
		var err error
		token, err = crypto.OpenString(sealer, creds.SealedToken)
		if err != nil {
			return nil, &platform.ConnError{Platform: platform.Kick, Op: "credentials", Err: err}
		}
	}
	return &Connector{
		channel:   strings.ToLower(channel),
		creds:     creds,
		sealer:    sealer,
		pusherURL: pusherURL,
		api:       newAPIClient(apiBase, token),
	}, nil
}

func (c *Connector) Platform() platform.ID { return platform.Kick }

func (c *Connector) OnMessage(fn func(platform.Message)) { c.onMessage = fn }
func (c *Connector) OnDisconnect(fn func(error))         { c.onDisconnect = fn }

// Connect resolves the channel's chatroom and opens the Pusher feed.
func (c *Connector) Connect(ctx context.Context) error {
	info, err := c.api.getChannel(ctx, c.channel)
	if err != nil {
		return &platform.ConnError{Platform: platform.Kick, Op: "connect", Err: err}
	}
	if info.Chatroom.ID == 0 {
		return &platform.ConnError{Platform: platform.Kick, Op: "connect", Err: fmt.Errorf("channel %q has no chatroom", c.channel)}
	}

	feed := newPusherFeed(c.pusherURL, info.Chatroom.ID, c.handleEvent, c.handleDrop)
	if err := feed.dial(); err != nil {
		return &platform.ConnError{Platform: platform.Kick, Op: "connect", Err: err}
	}

	c.mu.Lock()
	c.feed = feed
	c.chatroomID = info.Chatroom.ID
	c.connected = true
	c.mu.Unlock()
	slog.Info("kick chat connected", slog.String("channel", c.channel), slog.Int64("chatroom", info.Chatroom.ID))
	return nil
}

// Disconnect closes the Pusher feed without firing the disconnect callback.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	feed := c.feed
	c.feed = nil
	c.connected = false
	c.mu.Unlock()
	if feed != nil {
		feed.close()
	}
}

// Send posts a chat line to the channel's chatroom.
func (c *Connector) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	connected, chatroomID := c.connected, c.chatroomID
	c.mu.Unlock()
	if !connected {
		return &platform.ConnError{Platform: platform.Kick, Op: "send", Err: fmt.Errorf("not connected")}
	}
	if err := c.api.sendMessage(ctx, chatroomID, text); err != nil {
		return &platform.ConnError{Platform: platform.Kick, Op: "send", Err: err}
	}
	return nil
}

// Moderate supports only warnings on Kick; timeouts and bans report
// platform.ErrUnsupportedAction so callers can fall back or log.
func (c *Connector) Moderate(ctx context.Context, action platform.ModAction, user, reason string, d time.Duration) error {
	if action != platform.ActionWarn {
		return platform.ErrUnsupportedAction
	}
	return c.Send(ctx, fmt.Sprintf("@%s %s", user, reason))
}

// Live reports whether the channel has an active livestream.
func (c *Connector) Live(ctx context.Context) (bool, error) {
	info, err := c.api.getChannel(ctx, c.channel)
	if err != nil {
		return false, &platform.ConnError{Platform: platform.Kick, Op: "live", Err: err}
	}
	return info.Livestream != nil && info.Livestream.IsLive, nil
}

// Viewers returns the livestream viewer count, or zero when offline.
func (c *Connector) Viewers(ctx context.Context) (int, error) {
	info, err := c.api.getChannel(ctx, c.channel)
	if err != nil {
		return 0, &platform.ConnError{Platform: platform.Kick, Op: "viewers", Err: err}
	}
	if info.Livestream == nil || !info.Livestream.IsLive {
		return 0, nil
	}
	return info.Livestream.ViewerCount, nil
}

func (c *Connector) handleEvent(ev chatEvent) {
	if c.onMessage == nil {
		return
	}
	at, err := time.Parse(time.RFC3339, ev.CreatedAt)
	if err != nil {
		at = time.Now().UTC()
	}
	role := platform.Role{}
	for _, b := range ev.Sender.Identity.Badges {
		switch b.Type {
		case "broadcaster":
			role.Broadcaster = true
		case "moderator":
			role.Moderator = true
		case "subscriber":
			role.Subscriber = true
		}
	}
	c.onMessage(platform.Message{
		Platform: platform.Kick,
		Channel:  c.channel,
		UserID:   fmt.Sprintf("%d", ev.Sender.ID),
		Username: ev.Sender.Username,
		Text:     ev.Content,
		Role:     role,
		At:       at,
	})
}

func (c *Connector) handleDrop(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	slog.Warn("kick chat dropped", slog.String("channel", c.channel), slog.Any("err", err))
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}
