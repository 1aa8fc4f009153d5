package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateReturnsCompletion(t *testing.T) {
	srv := completionServer(t, http.StatusOK, map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": "  Honey never spoils.  "}},
		},
	})
	c := New(srv.URL, "key", "")
	got, err := c.Generate(context.Background(), Prompt{Kind: "fact", Streamer: "quenby"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Honey never spoils." {
		t.Fatalf("got %q", got)
	}
}

func TestGenerateSendsRecentContextAndAuth(t *testing.T) {
	var captured chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-test", "test-model")
	_, err := c.Generate(context.Background(), Prompt{
		Kind:   "fact",
		Recent: []string{"fact one", "fact two"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("auth header = %q", auth)
	}
	if captured.Model != "test-model" {
		t.Fatalf("model = %q", captured.Model)
	}
	if len(captured.Messages) == 0 || !strings.Contains(captured.Messages[0].Content, "fact one | fact two") {
		t.Fatal("recent posts missing from system prompt")
	}
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   any
	}{
		{"http error", http.StatusInternalServerError, map[string]string{"error": "boom"}},
		{"api error", http.StatusOK, map[string]any{"error": map[string]string{"message": "quota"}}},
		{"no choices", http.StatusOK, map[string]any{"choices": []any{}}},
		{"blank completion", http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "   "}}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := completionServer(t, tc.status, tc.body)
			c := New(srv.URL, "", "")
			if _, err := c.Generate(context.Background(), Prompt{Kind: "fact"}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestGenerateNoEndpoint(t *testing.T) {
	c := New("", "", "")
	if _, err := c.Generate(context.Background(), Prompt{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
