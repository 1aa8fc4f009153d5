// Package platform defines the contract every live-chat connector
// implements, plus the normalized inbound message type. Platform-specific
// payload shapes (IRC tags, Pusher events, live chat resources) must not
// leak past a Connector: the mapping to Message is the only place the
// differences are allowed to show.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ID identifies one of the supported chat platforms.
type ID string

const (
	Twitch  ID = "twitch"
	Kick    ID = "kick"
	YouTube ID = "youtube"
)

// All lists the supported platforms in a stable order.
func All() []ID { return []ID{Twitch, Kick, YouTube} }

// Valid reports whether id names a supported platform.
func (id ID) Valid() bool {
	switch id {
	case Twitch, Kick, YouTube:
		return true
	}
	return false
}

// Role carries the sender's privilege flags as reported by the platform.
type Role struct {
	Broadcaster bool
	Moderator   bool
	Subscriber  bool
}

// Message is one normalized inbound chat message. Immutable once built;
// the dispatch pipeline consumes it read-only.
type Message struct {
	Platform ID
	Channel  string
	UserID   string
	Username string
	Text     string
	Role     Role
	At       time.Time
}

// ModAction is a platform-native moderation action.
type ModAction string

const (
	ActionWarn    ModAction = "warn"
	ActionTimeout ModAction = "timeout"
	ActionBan     ModAction = "ban"
)

// ErrUnsupportedAction is returned when a moderation action has no native
// equivalent on the connector's platform. Callers log it and move on.
var ErrUnsupportedAction = errors.New("platform: moderation action not supported")

// ConnError marks a connector-level failure (auth, network, credential
// unseal). The reconnect supervisor treats every ConnError as retryable
// until its attempt budget runs out.
type ConnError struct {
	Platform ID
	Op       string
	Err      error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Connector owns one live network session to one platform.
//
// Lifecycle: Connect establishes the session and begins delivering inbound
// messages to the handler registered with OnMessage. An unexpected drop is
// reported through the OnDisconnect handler; Disconnect tears the session
// down without triggering it.
type Connector interface {
	Platform() ID

	// Connect establishes the session. It unseals credentials immediately
	// before use; a failed unseal returns a ConnError wrapping
	// crypto.ErrDecrypt and counts as a connection failure.
	Connect(ctx context.Context) error

	// Send posts text to the connected channel.
	Send(ctx context.Context, text string) error

	// Moderate applies a native moderation action against a user.
	// Duration applies to timeouts only. Unsupported actions return
	// ErrUnsupportedAction.
	Moderate(ctx context.Context, action ModAction, user, reason string, d time.Duration) error

	// Live reports whether the streamer is currently live on this platform.
	Live(ctx context.Context) (bool, error)

	// Viewers returns the current viewer count, 0 if unknown.
	Viewers(ctx context.Context) (int, error)

	// OnMessage registers the inbound message handler. Must be called
	// before Connect.
	OnMessage(func(Message))

	// OnDisconnect registers the handler invoked on unexpected session
	// loss. Not invoked after an explicit Disconnect.
	OnDisconnect(func(error))

	// Disconnect tears down the session. Idempotent.
	Disconnect()
}

// Credentials is the read-only snapshot a connector receives at start.
// SealedToken holds the at-rest-encrypted OAuth token for platforms that
// store credentials sealed; Token holds plaintext material for those that
// do not.
type Credentials struct {
	Username    string
	ChannelID   string
	Token       string
	SealedToken string
	RefreshTok  string
}
