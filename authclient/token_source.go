package authclient

import (
	"golang.org/x/oauth2"
)

// TokenSource exposes the client's current access token to oauth2-aware
// code. Each Token call reads the live value, so refreshes are picked up.
func (c *Client) TokenSource() oauth2.TokenSource {
	return clientTokenSource{client: c}
}

type clientTokenSource struct {
	client *Client
}

func (s clientTokenSource) Token() (*oauth2.Token, error) {
	token := s.client.Token()
	if token == "" {
		return nil, ErrNoToken
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
