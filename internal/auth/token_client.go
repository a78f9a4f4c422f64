// Package auth consumes the identity provider: bearer tokens for the
// mail provider API on behalf of a user, and JWT verification for
// callers of our own HTTP surface. Token storage and refresh mechanics
// live entirely in the identity provider.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Provider names an OAuth provider account at the identity provider.
type Provider string

const (
	ProviderMicrosoft Provider = "microsoft"
	ProviderGoogle    Provider = "google"
)

// ParseProvider validates an externally configured provider name.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderMicrosoft, ProviderGoogle:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Token is a bearer token for the mail provider API.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// TokenClient fetches provider tokens from the identity provider.
type TokenClient struct {
	baseURL string
	client  *http.Client
}

// NewTokenClient creates a client against the identity provider.
func NewTokenClient(authServerURL string) *TokenClient {
	return &TokenClient{
		baseURL: authServerURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches a valid provider token for the user identified by
// userJWT. The identity provider refreshes expired tokens itself.
func (c *TokenClient) GetToken(ctx context.Context, userJWT string, provider Provider) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no %s account connected", provider)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Token{
		AccessToken: result.AccessToken,
		Expiry:      time.Unix(result.ExpiresAt, 0),
	}, nil
}

// TokenSource adapts GetToken to oauth2.TokenSource so HTTP transports
// re-fetch transparently when the token expires.
func (c *TokenClient) TokenSource(userJWT string, provider Provider) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &providerTokenSource{
		client:   c,
		userJWT:  userJWT,
		provider: provider,
	})
}

type providerTokenSource struct {
	client   *TokenClient
	userJWT  string
	provider Provider
}

func (s *providerTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tok, err := s.client.GetToken(ctx, s.userJWT, s.provider)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}
