// Package generator produces short chat content (facts, replies) by calling
// an OpenAI-compatible chat-completions endpoint. The caller owns retry and
// dedup policy; this client does one request per call.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Prompt carries the context for one generation call.
type Prompt struct {
	// Kind selects the system prompt: "fact" or "reply".
	Kind string
	// Streamer and Channel personalize the output.
	Streamer string
	Channel  string
	// Topic is the optional subject hint (fact keyword, etc.).
	Topic string
	// UserText is the message being replied to (reply kind only).
	UserText string
	// Recent lists recently posted content the model should avoid.
	Recent []string
}

// Client calls a chat-completions API.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// New builds a Client. Model defaults to a small instruct model.
func New(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, Model: model}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns one piece of content for p.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, error) {
	if c.BaseURL == "" {
		return "", fmt.Errorf("generator: no endpoint configured")
	}
	body := chatRequest{
		Model:       c.Model,
		Messages:    buildMessages(p),
		MaxTokens:   120,
		Temperature: 0.9,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("generator: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("generator: request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generator: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("generator: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("generator: api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("generator: empty response")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("generator: blank completion")
	}
	return text, nil
}

func buildMessages(p Prompt) []chatMessage {
	var sys strings.Builder
	switch p.Kind {
	case "reply":
		sys.WriteString("You are a friendly live-stream chat bot. Reply to the viewer in one short sentence. No hashtags, no emoji spam.")
	default:
		sys.WriteString("You are a live-stream chat bot. Produce one short, surprising, true fact suitable for chat. One sentence.")
	}
	if p.Streamer != "" {
		fmt.Fprintf(&sys, " The streamer is %s.", p.Streamer)
	}
	if p.Topic != "" {
		fmt.Fprintf(&sys, " Topic hint: %s.", p.Topic)
	}
	if len(p.Recent) > 0 {
		sys.WriteString(" Avoid repeating any of these recent posts: ")
		sys.WriteString(strings.Join(p.Recent, " | "))
	}
	msgs := []chatMessage{{Role: "system", Content: sys.String()}}
	user := p.UserText
	if user == "" {
		user = "Give me one fresh fact."
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: user})
	return msgs
}
