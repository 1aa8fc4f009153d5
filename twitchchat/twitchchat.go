// Package twitchchat connects a bot account to a Twitch channel over IRC
// and exposes chat, moderation, and liveness through the platform.Connector
// interface. Outbound moderation uses IRC slash commands issued as the bot
// account; liveness and viewer counts come from the Helix API.
package twitchchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/quenby/streamwarden/crypto"
	"github.com/quenby/streamwarden/platform"
	"github.com/quenby/streamwarden/twitchapi"
)

// connectTimeout bounds how long Connect waits for the IRC welcome.
const connectTimeout = 15 * time.Second

var _ platform.Connector = (*Connector)(nil)

// Connector is a platform.Connector for Twitch chat.
type Connector struct {
	channel string
	creds   platform.Credentials
	sealer  crypto.Sealer
	helix   *twitchapi.HelixClient

	onMessage    func(platform.Message)
	onDisconnect func(error)
	onElevated   func(bool)

	mu        sync.Mutex
	client    *twitch.Client
	connected bool
	closing   bool
}

// New builds a Twitch connector for the given channel. The sealer decrypts
// creds.SealedToken before connecting; pass nil when creds.Token is already
// plaintext. helix may be nil, in which case Live and Viewers report errors.
func New(channel string, creds platform.Credentials, sealer crypto.Sealer, helix *twitchapi.HelixClient) *Connector {
	return &Connector{
		channel: strings.ToLower(channel),
		creds:   creds,
		sealer:  sealer,
		helix:   helix,
	}
}

func (c *Connector) Platform() platform.ID { return platform.Twitch }

// OnElevated registers a callback fired when the server reports whether the
// bot account holds moderator privileges in the channel. Rate limiting uses
// this to switch between guest and elevated quotas.
func (c *Connector) OnElevated(fn func(bool)) { c.onElevated = fn }

func (c *Connector) OnMessage(fn func(platform.Message)) { c.onMessage = fn }
func (c *Connector) OnDisconnect(fn func(error))         { c.onDisconnect = fn }

// Connect authenticates to Twitch IRC and joins the channel. It returns once
// the server acknowledges the connection or the context expires.
func (c *Connector) Connect(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return &platform.ConnError{Platform: platform.Twitch, Op: "connect", Err: err}
	}

	client := twitch.NewClient(c.creds.Username, "oauth:"+token)
	ready := make(chan struct{})
	client.OnConnect(func() {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		close(ready)
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if c.onMessage == nil {
			return
		}
		c.onMessage(toMessage(msg))
	})
	client.OnUserStateMessage(func(msg twitch.UserStateMessage) {
		if c.onElevated == nil {
			return
		}
		c.onElevated(msg.Tags["mod"] == "1" || strings.Contains(msg.Tags["badges"], "broadcaster"))
	})
	client.Join(c.channel)

	c.mu.Lock()
	c.client = client
	c.closing = false
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		err := client.Connect()
		c.mu.Lock()
		wasConnected := c.connected
		closing := c.closing
		c.connected = false
		c.mu.Unlock()
		if closing {
			return
		}
		if wasConnected {
			slog.Warn("twitch chat dropped", slog.String("channel", c.channel), slog.Any("err", err))
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}
		errCh <- err
	}()

	select {
	case <-ready:
		slog.Info("twitch chat connected", slog.String("channel", c.channel))
		return nil
	case err := <-errCh:
		return &platform.ConnError{Platform: platform.Twitch, Op: "connect", Err: err}
	case <-time.After(connectTimeout):
		client.Disconnect()
		return &platform.ConnError{Platform: platform.Twitch, Op: "connect", Err: fmt.Errorf("timed out after %s", connectTimeout)}
	case <-ctx.Done():
		client.Disconnect()
		return &platform.ConnError{Platform: platform.Twitch, Op: "connect", Err: ctx.Err()}
	}
}

// Disconnect closes the IRC connection without firing the disconnect
// callback. Safe to call when not connected.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.closing = true
	c.connected = false
	c.mu.Unlock()
	if client != nil {
		client.Disconnect()
	}
}

// Send posts a chat line to the channel.
func (c *Connector) Send(ctx context.Context, text string) error {
	client, err := c.live()
	if err != nil {
		return &platform.ConnError{Platform: platform.Twitch, Op: "send", Err: err}
	}
	client.Say(c.channel, text)
	return nil
}

// Moderate issues the IRC moderation command for the given action. Twitch
// supports all three action kinds.
func (c *Connector) Moderate(ctx context.Context, action platform.ModAction, user, reason string, d time.Duration) error {
	client, err := c.live()
	if err != nil {
		return &platform.ConnError{Platform: platform.Twitch, Op: "moderate", Err: err}
	}
	switch action {
	case platform.ActionWarn:
		client.Say(c.channel, fmt.Sprintf("@%s %s", user, reason))
	case platform.ActionTimeout:
		secs := int(d.Seconds())
		if secs < 1 {
			secs = 1
		}
		client.Say(c.channel, fmt.Sprintf("/timeout %s %d %s", user, secs, reason))
	case platform.ActionBan:
		client.Say(c.channel, fmt.Sprintf("/ban %s %s", user, reason))
	default:
		return platform.ErrUnsupportedAction
	}
	return nil
}

// Live reports whether the channel is currently streaming, via Helix.
func (c *Connector) Live(ctx context.Context) (bool, error) {
	if c.helix == nil {
		return false, &platform.ConnError{Platform: platform.Twitch, Op: "live", Err: fmt.Errorf("helix client not configured")}
	}
	streams, err := c.helix.GetStreams(ctx, c.channel)
	if err != nil {
		return false, &platform.ConnError{Platform: platform.Twitch, Op: "live", Err: err}
	}
	return len(streams) > 0, nil
}

// Viewers returns the current viewer count, or zero when offline.
func (c *Connector) Viewers(ctx context.Context) (int, error) {
	if c.helix == nil {
		return 0, &platform.ConnError{Platform: platform.Twitch, Op: "viewers", Err: fmt.Errorf("helix client not configured")}
	}
	streams, err := c.helix.GetStreams(ctx, c.channel)
	if err != nil {
		return 0, &platform.ConnError{Platform: platform.Twitch, Op: "viewers", Err: err}
	}
	if len(streams) == 0 {
		return 0, nil
	}
	return streams[0].ViewerCount, nil
}

func (c *Connector) live() (*twitch.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.connected {
		return nil, fmt.Errorf("not connected")
	}
	return c.client, nil
}

func (c *Connector) token() (string, error) {
	if c.creds.SealedToken != "" && c.sealer != nil {
		return crypto.OpenString(c.sealer, c.creds.SealedToken)
	}
	if c.creds.Token == "" {
		return "", fmt.Errorf("no chat token configured")
	}
	return strings.TrimPrefix(c.creds.Token, "oauth:"), nil
}

func toMessage(msg twitch.PrivateMessage) platform.Message {
	role := platform.Role{
		Moderator:  msg.Tags["mod"] == "1",
		Subscriber: msg.User.Badges["subscriber"] > 0 || msg.Tags["subscriber"] == "1",
	}
	if _, ok := msg.User.Badges["broadcaster"]; ok {
		role.Broadcaster = true
	}
	return platform.Message{
		Platform: platform.Twitch,
		Channel:  msg.Channel,
		UserID:   msg.User.ID,
		Username: msg.User.Name,
		Text:     msg.Message,
		Role:     role,
		At:       msg.Time,
	}
}
