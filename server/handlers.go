package server

import (
	"context"
	"database/sql"

	"github.com/quenby/streamwarden/bot"
	"github.com/quenby/streamwarden/platform"
)

// SessionController is the slice of the session registry the HTTP API
// drives. *bot.Registry satisfies it.
type SessionController interface {
	StartSession(ctx context.Context, userID string) error
	StopSession(userID string) error
	RestartSession(ctx context.Context, userID string) error
	PostManualFact(userID string, targets []platform.ID) error
	Statuses() []bot.Status
	StatusOf(userID string) (bot.Status, error)
}

// ConfigStore is the slice of persistence the config endpoints need.
type ConfigStore interface {
	GetBotConfig(ctx context.Context, userID string) (*bot.BotConfig, error)
	UpdateBotConfig(ctx context.Context, cfg *bot.BotConfig) error
}

// Handlers holds dependencies for all HTTP handlers. db may be nil in
// tests; the health endpoints degrade accordingly.
type Handlers struct {
	db       *sql.DB
	sessions SessionController
	store    ConfigStore
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, sessions SessionController, store ConfigStore) *Handlers {
	return &Handlers{db: db, sessions: sessions, store: store}
}
