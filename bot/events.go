package bot

import (
	"time"

	"github.com/google/uuid"

	"github.com/quenby/streamwarden/platform"
)

// EventType enumerates the notifications a Session emits to its observer.
type EventType string

const (
	EventStatusChanged    EventType = "status_changed"
	EventNewMessage       EventType = "new_message"
	EventError            EventType = "error"
	EventModerationAction EventType = "moderation_action"
	EventGiveawayEntry    EventType = "giveaway_entry"
)

// Event is the only channel from a Session back to the hosting application.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	UserID   string         `json:"user_id"`
	Platform platform.ID    `json:"platform,omitempty"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// Observer receives session events. Called from the session's event loop,
// so implementations must not block.
type Observer func(Event)

func newEvent(typ EventType, userID string, p platform.ID, at time.Time, data map[string]any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     typ,
		UserID:   userID,
		Platform: p,
		At:       at,
		Data:     data,
	}
}
