package ytchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const provider = "youtube"

// TokenStore persists OAuth tokens so refreshed credentials survive
// restarts and can be shared across sessions.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

// OAuthService wraps the Google OAuth2 flow for the live chat scope.
type OAuthService struct {
	store TokenStore
	oauth *oauth2.Config
}

func NewOAuthService(clientID, clientSecret, redirectURL string, store TokenStore) *OAuthService {
	return &OAuthService{
		store: store,
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/youtube"},
		},
	}
}

func (s *OAuthService) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an auth code for a token and persists it.
func (s *OAuthService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	rawBytes, _ := json.Marshal(tok)
	_ = s.store.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(rawBytes))
	return tok, nil
}

// token loads the stored token, refreshing and re-persisting it when it is
// within two minutes of expiry.
func (s *OAuthService) token(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, raw, err := s.store.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no youtube token stored")
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return &tok, err
	}
	rawBytes, _ := json.Marshal(newTok)
	_ = s.store.UpsertOAuthToken(ctx, provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, string(rawBytes))
	return newTok, nil
}

// Client returns an HTTP client that authenticates as the stored account.
func (s *OAuthService) Client(ctx context.Context) (*http.Client, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.oauth.Client(ctx, tok), nil
}
