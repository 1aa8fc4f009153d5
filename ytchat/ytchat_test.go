package ytchat

import (
	"context"
	"strings"
	"testing"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/quenby/streamwarden/platform"
)

// mockTokenStore implements TokenStore for testing.
type mockTokenStore struct {
	tokens map[string]tokenData
}

type tokenData struct {
	access  string
	refresh string
	expiry  time.Time
	raw     string
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]tokenData)}
}

func (m *mockTokenStore) UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error {
	m.tokens[provider] = tokenData{access: accessToken, refresh: refreshToken, expiry: expiry, raw: raw}
	return nil
}

func (m *mockTokenStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	if data, ok := m.tokens[provider]; ok {
		return data.access, data.refresh, data.expiry, data.raw, nil
	}
	return "", "", time.Time{}, "", nil
}

func TestAuthCodeURL(t *testing.T) {
	svc := NewOAuthService("client-id", "secret", "http://localhost/callback", newMockTokenStore())
	url := svc.AuthCodeURL("state-123")
	for _, want := range []string{"client_id=client-id", "state=state-123", "access_type=offline"} {
		if !strings.Contains(url, want) {
			t.Errorf("auth URL missing %q: %s", want, url)
		}
	}
}

func TestTokenMissing(t *testing.T) {
	svc := NewOAuthService("client-id", "secret", "http://localhost/callback", newMockTokenStore())
	if _, err := svc.token(context.Background()); err == nil {
		t.Fatal("expected error when no token stored")
	}
}

func TestTokenFreshSkipsRefresh(t *testing.T) {
	store := newMockTokenStore()
	expiry := time.Now().Add(time.Hour)
	_ = store.UpsertOAuthToken(context.Background(), provider, "access-1", "refresh-1", expiry, "")

	svc := NewOAuthService("client-id", "secret", "http://localhost/callback", store)
	tok, err := svc.token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "access-1" || tok.RefreshToken != "refresh-1" {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestToMessageRoles(t *testing.T) {
	c := New("UCchannel", nil)
	item := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			Type:               "textMessageEvent",
			PublishedAt:        "2026-03-01T12:00:00Z",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{MessageText: "hi there"},
		},
		AuthorDetails: &yt.LiveChatMessageAuthorDetails{
			ChannelId:       "UCviewer",
			DisplayName:     "viewer",
			IsChatModerator: true,
			IsChatSponsor:   true,
		},
	}
	msg, ok := c.toMessage(item)
	if !ok {
		t.Fatal("toMessage rejected a text message")
	}
	if msg.Platform != platform.YouTube || msg.Text != "hi there" {
		t.Errorf("unexpected message %+v", msg)
	}
	if !msg.Role.Moderator || !msg.Role.Subscriber || msg.Role.Broadcaster {
		t.Errorf("roles = %+v", msg.Role)
	}
	if msg.At != time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) {
		t.Errorf("at = %v", msg.At)
	}
}

func TestToMessageSkipsNonText(t *testing.T) {
	c := New("UCchannel", nil)
	item := &yt.LiveChatMessage{
		Snippet:       &yt.LiveChatMessageSnippet{Type: "superChatEvent"},
		AuthorDetails: &yt.LiveChatMessageAuthorDetails{ChannelId: "UCviewer"},
	}
	if _, ok := c.toMessage(item); ok {
		t.Error("non-text event should be skipped")
	}
}

func TestSendNotConnected(t *testing.T) {
	c := New("UCchannel", NewOAuthService("id", "secret", "", newMockTokenStore()))
	if err := c.Send(context.Background(), "hi"); err == nil {
		t.Fatal("expected error when not connected")
	}
}
