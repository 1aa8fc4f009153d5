package twitchapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/quenby/streamwarden/testutil"
)

func helixClient(m *testutil.MockPlatformServer) *HelixClient {
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "id", ClientSecret: "secret", AuthBase: m.URL},
		ClientID:       "id",
		APIBase:        m.URL + "/helix",
	}
}

func TestGetStreamsLive(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockOAuthToken("app-token", 3600)
	m.MockHelixStreams([]map[string]any{
		{"id": "1", "user_login": "quenby", "title": "day 9", "viewer_count": 42, "started_at": "2026-08-01T10:00:00Z"},
	})

	streams, err := helixClient(m).GetStreams(context.Background(), "quenby")
	if err != nil {
		t.Fatalf("get streams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	if streams[0].ViewerCount != 42 {
		t.Fatalf("viewer count = %d", streams[0].ViewerCount)
	}
}

func TestGetStreamsOffline(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockOAuthToken("app-token", 3600)
	m.MockHelixStreams(nil)

	streams, err := helixClient(m).GetStreams(context.Background(), "quenby")
	if err != nil {
		t.Fatalf("get streams: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected offline, got %d streams", len(streams))
	}
}

func TestGetUserID(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockOAuthToken("app-token", 3600)
	m.MockHelixUser("12345", "friendo")

	id, err := helixClient(m).GetUserID(context.Background(), "friendo")
	if err != nil {
		t.Fatalf("get user id: %v", err)
	}
	if id != "12345" {
		t.Fatalf("id = %q", id)
	}
}

func TestGetUserIDNotFound(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.MockOAuthToken("app-token", 3600)
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	if _, err := helixClient(m).GetUserID(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestTokenSourceCachesToken(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	calls := 0
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", AuthBase: m.URL}
	for i := 0; i < 3; i++ {
		tok, err := ts.Get(context.Background())
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if tok != "tok" {
			t.Fatalf("token = %q", tok)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 token fetch, got %d", calls)
	}
}

func TestTokenSourceMissingCreds(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("expected error without client credentials")
	}
}

func TestRefreshToken(t *testing.T) {
	m := testutil.NewMockPlatformServer(t)
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expires_in":3600,"scope":["chat:read"]}`))
	})

	res, err := refreshTokenAt(context.Background(), m.URL, "id", "secret", "old-rt")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.AccessToken != "new-at" || res.RefreshToken != "new-rt" {
		t.Fatalf("unexpected result %+v", res)
	}
}
