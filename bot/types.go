package bot

import (
	"context"
	"time"

	"github.com/quenby/streamwarden/generator"
	"github.com/quenby/streamwarden/platform"
)

// Interval modes for the scheduled poster.
const (
	IntervalFixed  = "fixed"
	IntervalRandom = "random"
)

// BotConfig is one user's bot configuration snapshot, loaded at session
// start. Changes made while a session runs take effect on restart.
type BotConfig struct {
	UserID        string
	StreamerName  string
	Topic         string
	CommandPrefix string

	IntervalMode string
	// IntervalMinutes applies in fixed mode; MinIntervalMinutes and
	// MaxIntervalMinutes bound the resampled period in random mode.
	IntervalMinutes    int
	MinIntervalMinutes int
	MaxIntervalMinutes int

	FactKeywords []string

	// ChatterChance is the probability a plain chat line gets a
	// conversational reply when no stronger trigger (mention, question)
	// fires.
	ChatterChance float64
	// GenerateRetries caps regeneration attempts on a dedup collision
	// before posting anyway.
	GenerateRetries int
}

const (
	DefaultChatterChance   = 0.05
	DefaultGenerateRetries = 3
	DefaultCommandPrefix   = "!"
)

// Normalize fills zero-valued tuning fields with defaults.
func (c *BotConfig) Normalize() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = DefaultCommandPrefix
	}
	if c.ChatterChance <= 0 {
		c.ChatterChance = DefaultChatterChance
	}
	if c.GenerateRetries <= 0 {
		c.GenerateRetries = DefaultGenerateRetries
	}
	if c.IntervalMode == "" {
		c.IntervalMode = IntervalFixed
	}
	if c.IntervalMinutes <= 0 {
		c.IntervalMinutes = 30
	}
	if c.MinIntervalMinutes <= 0 {
		c.MinIntervalMinutes = 15
	}
	if c.MaxIntervalMinutes <= c.MinIntervalMinutes {
		c.MaxIntervalMinutes = c.MinIntervalMinutes + 30
	}
}

// PlatformConnection is the stored link between a user and one platform
// account. Token material arrives sealed; connectors unseal immediately
// before use.
type PlatformConnection struct {
	UserID      string
	Platform    platform.ID
	Username    string
	ChannelID   string
	SealedToken string
	// Token holds plaintext only for rows written before sealing was
	// introduced (encryption_version 0); cmd/sealcreds migrates them.
	Token        string
	RefreshToken string
	IsConnected  bool
}

// Credentials converts the stored connection into connector credentials.
func (pc *PlatformConnection) Credentials() platform.Credentials {
	return platform.Credentials{
		Username:    pc.Username,
		ChannelID:   pc.ChannelID,
		Token:       pc.Token,
		SealedToken: pc.SealedToken,
		RefreshTok:  pc.RefreshToken,
	}
}

// MessageRecord is one outbound post kept for audit, including failed ones.
type MessageRecord struct {
	ID       string
	UserID   string
	Platform platform.ID
	Channel  string
	Kind     string // "fact", "reply", "command", "game", "system"
	Text     string
	Error    string
	PostedAt time.Time
}

// Command is a user-defined chat command.
type Command struct {
	ID              string
	Name            string
	Response        string
	CooldownSeconds int
	// MinRole gates who may run the command: "everyone", "subscriber",
	// "moderator", or "broadcaster".
	MinRole string
}

// ModerationRule matches inbound text and names the action to take.
type ModerationRule struct {
	ID             string
	Pattern        string
	Action         platform.ModAction
	TimeoutSeconds int
	Reason         string
}

// CurrencySettings configures the channel economy.
type CurrencySettings struct {
	Name          string // display name, e.g. "coins"
	MessageReward int64  // earned per chat message, 0 disables
	GambleMin     int64
	GambleMax     int64
	Redemptions   []Redemption
}

// Redemption is something viewers can spend currency on.
type Redemption struct {
	Name string
	Cost int64
}

// Balance pairs a viewer with their currency total.
type Balance struct {
	Viewer string
	Amount int64
}

// Giveaway is an entry-by-keyword giveaway.
type Giveaway struct {
	ID      string
	Keyword string
	Prize   string
	Active  bool
}

// Poll is a running chat poll; votes are cast as "vote <n>".
type Poll struct {
	ID       string
	Question string
	Options  []string
	Active   bool
}

// SongRequest is one queued song.
type SongRequest struct {
	ID          string
	UserID      string
	Platform    platform.ID
	Viewer      string
	Title       string
	RequestedAt time.Time
}

// TriviaQuestion is one question from the user's trivia pool.
type TriviaQuestion struct {
	ID       string
	Question string
	Answer   string
	Reward   int64
}

// Storage is the persistence collaborator. Implementations are black-box
// CRUD; the session never sees SQL.
type Storage interface {
	GetBotConfig(ctx context.Context, userID string) (*BotConfig, error)
	UpdateBotConfig(ctx context.Context, cfg *BotConfig) error
	GetPlatformConnection(ctx context.Context, userID string, p platform.ID) (*PlatformConnection, error)

	CreateMessage(ctx context.Context, rec *MessageRecord) error
	RecentMessages(ctx context.Context, userID string, limit int) ([]string, error)

	ListCommands(ctx context.Context, userID string) ([]Command, error)
	ListModerationRules(ctx context.Context, userID string) ([]ModerationRule, error)

	GetCurrencySettings(ctx context.Context, userID string) (*CurrencySettings, error)
	GetBalance(ctx context.Context, userID string, p platform.ID, viewer string) (int64, error)
	AdjustBalance(ctx context.Context, userID string, p platform.ID, viewer string, delta int64) (int64, error)
	TopBalances(ctx context.Context, userID string, p platform.ID, limit int) ([]Balance, error)

	ActiveGiveaway(ctx context.Context, userID string) (*Giveaway, error)
	AddGiveawayEntry(ctx context.Context, giveawayID string, p platform.ID, viewer string) error

	ActivePoll(ctx context.Context, userID string) (*Poll, error)
	AddPollVote(ctx context.Context, pollID string, option int, p platform.ID, viewer string) error

	AddSongRequest(ctx context.Context, req *SongRequest) error
	NextSongs(ctx context.Context, userID string, limit int) ([]SongRequest, error)

	RandomTriviaQuestion(ctx context.Context, userID string) (*TriviaQuestion, error)

	RecordViewerSample(ctx context.Context, userID string, p platform.ID, count int, at time.Time) error
	TouchHeartbeat(ctx context.Context, userID string, at time.Time) error
}

// ContentGenerator produces generated chat content. Implementations may
// fail; callers retry a bounded number of times.
type ContentGenerator interface {
	Generate(ctx context.Context, p generator.Prompt) (string, error)
}

// ConnectorFactory builds a connector for one stored platform connection.
// Injected by the composition root so the session stays decoupled from
// platform SDK packages.
type ConnectorFactory func(conn *PlatformConnection, cfg *BotConfig) (platform.Connector, error)
