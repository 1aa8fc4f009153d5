package kickchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient talks to the Kick HTTP API: channel lookups for chatroom
// discovery and liveness, and message sends on behalf of the bot account.
type apiClient struct {
	base       string
	token      string
	httpClient *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:       base,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// channelInfo is the subset of the channel payload the connector needs.
type channelInfo struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int64 `json:"id"`
	} `json:"chatroom"`
	Livestream *struct {
		IsLive      bool `json:"is_live"`
		ViewerCount int  `json:"viewer_count"`
	} `json:"livestream"`
}

func (c *apiClient) getChannel(ctx context.Context, slug string) (*channelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/channels/"+slug, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kick channel lookup: %w", err)
	}
	defer closeBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kick channel lookup: status %d", resp.StatusCode)
	}
	var info channelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("kick channel lookup: decode: %w", err)
	}
	return &info, nil
}

func (c *apiClient) sendMessage(ctx context.Context, chatroomID int64, content string) error {
	body, err := json.Marshal(map[string]any{
		"chatroom_id": chatroomID,
		"content":     content,
		"type":        "message",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/messages/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kick send: %w", err)
	}
	defer closeBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("kick send: status %d", resp.StatusCode)
	}
	return nil
}

func (c *apiClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
