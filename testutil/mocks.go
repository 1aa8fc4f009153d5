// Package testutil provides shared test fakes: an HTTP server mocking the
// platform APIs (Twitch OAuth/Helix, Kick) and small helpers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockPlatformServer serves canned platform API responses keyed by path.
type MockPlatformServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockPlatformServer creates a mock API server torn down with the test.
func NewMockPlatformServer(t *testing.T) *MockPlatformServer {
	t.Helper()
	m := &MockPlatformServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a raw handler for a path.
func (m *MockPlatformServer) Handle(path string, h http.HandlerFunc) { m.Handlers[path] = h }

func (m *MockPlatformServer) handleJSON(path string, body any) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// MockOAuthToken serves a client-credentials token from /oauth2/token.
func (m *MockPlatformServer) MockOAuthToken(accessToken string, expiresIn int) {
	m.handleJSON("/oauth2/token", map[string]any{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

// MockHelixUser serves one user from /helix/users.
func (m *MockPlatformServer) MockHelixUser(userID, login string) {
	m.handleJSON("/helix/users", map[string]any{
		"data": []map[string]string{{"id": userID, "login": login}},
	})
}

// MockHelixStreams serves /helix/streams; nil means offline.
func (m *MockPlatformServer) MockHelixStreams(streams []map[string]any) {
	if streams == nil {
		streams = []map[string]any{}
	}
	m.handleJSON("/helix/streams", map[string]any{"data": streams})
}

// MockKickChannel serves a Kick channel lookup. live toggles the embedded
// livestream object.
func (m *MockPlatformServer) MockKickChannel(slug string, chatroomID int64, live bool, viewers int) {
	body := map[string]any{
		"id":       chatroomID,
		"slug":     slug,
		"chatroom": map[string]any{"id": chatroomID},
	}
	if live {
		body["livestream"] = map[string]any{"is_live": true, "viewer_count": viewers}
	}
	m.handleJSON("/channels/"+slug, body)
}

// MockKickSend accepts chat sends for a chatroom and records them via fn.
func (m *MockPlatformServer) MockKickSend(fn func(content string)) {
	m.Handlers["/messages/send"] = func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if fn != nil {
			fn(body.Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":{"code":200}}`))
	}
}
