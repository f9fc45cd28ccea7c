package zoho

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// authScheme is the Authorization scheme Zoho expects instead of Bearer.
const authScheme = "Zoho-oauthtoken"

// tokenSource refreshes access tokens from a long-lived refresh token.
// Invalidate drops the cached token so the next call refreshes.
type tokenSource struct {
	ctx          context.Context
	conf         *oauth2.Config
	refreshToken string

	mu      sync.Mutex
	current *oauth2.Token
}

func newTokenSource(cfg Config, httpClient *http.Client) *tokenSource {
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return &tokenSource{
		ctx: ctx,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.AccountsURL + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		refreshToken: cfg.RefreshToken,
	}
}

// Token implements oauth2.TokenSource
func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.Valid() {
		return s.current, nil
	}
	tok, err := s.conf.TokenSource(s.ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	tok.TokenType = authScheme
	s.current = tok
	return tok, nil
}

// Invalidate forces a refresh on the next Token call
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}
