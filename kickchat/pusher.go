package kickchat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Kick delivers chat over Pusher. The feed subscribes to the chatroom
// channel and surfaces ChatMessageEvent frames; everything else on the
// wire is protocol housekeeping.
const (
	eventEstablished = "pusher:connection_established"
	eventSubscribe   = "pusher:subscribe"
	eventPing        = "pusher:ping"
	eventPong        = "pusher:pong"
	eventChatMessage = `App\Events\ChatMessageEvent`
)

type pusherFrame struct {
	Event   string `json:"event"`
	Data    string `json:"data"`
	Channel string `json:"channel,omitempty"`
}

// chatEvent is the payload carried inside a ChatMessageEvent frame's
// data field, which Pusher double-encodes as a JSON string.
type chatEvent struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	Sender    struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Identity struct {
			Badges []struct {
				Type string `json:"type"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

// pusherFeed owns one websocket connection to the Pusher endpoint.
type pusherFeed struct {
	url        string
	chatroomID int64

	onEvent func(chatEvent)
	onDrop  func(error)

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
}

func newPusherFeed(url string, chatroomID int64, onEvent func(chatEvent), onDrop func(error)) *pusherFeed {
	return &pusherFeed{url: url, chatroomID: chatroomID, onEvent: onEvent, onDrop: onDrop}
}

// dial connects, waits for the connection_established handshake, and
// subscribes to the chatroom channel before handing off to the read loop.
func (f *pusherFeed) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("pusher dial: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var frame pusherFrame
	if err := conn.ReadJSON(&frame); err != nil {
		_ = conn.Close()
		return fmt.Errorf("pusher handshake: %w", err)
	}
	if frame.Event != eventEstablished {
		_ = conn.Close()
		return fmt.Errorf("pusher handshake: unexpected event %q", frame.Event)
	}
	sub, _ := json.Marshal(map[string]string{
		"auth":    "",
		"channel": fmt.Sprintf("chatrooms.%d.v2", f.chatroomID),
	})
	if err := conn.WriteJSON(pusherFrame{Event: eventSubscribe, Data: string(sub)}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("pusher subscribe: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	f.mu.Lock()
	f.conn = conn
	f.closing = false
	f.mu.Unlock()

	go f.readLoop(conn)
	return nil
}

func (f *pusherFeed) readLoop(conn *websocket.Conn) {
	for {
		var frame pusherFrame
		if err := conn.ReadJSON(&frame); err != nil {
			f.mu.Lock()
			closing := f.closing
			f.mu.Unlock()
			if !closing && f.onDrop != nil {
				f.onDrop(err)
			}
			return
		}
		switch frame.Event {
		case eventPing:
			_ = conn.WriteJSON(pusherFrame{Event: eventPong, Data: "{}"})
		case eventChatMessage:
			var ev chatEvent
			if err := json.Unmarshal([]byte(frame.Data), &ev); err != nil {
				slog.Warn("kick chat event decode failed", slog.Any("err", err))
				continue
			}
			if f.onEvent != nil {
				f.onEvent(ev)
			}
		}
	}
}

func (f *pusherFeed) close() {
	f.mu.Lock()
	conn := f.conn
	f.closing = true
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
