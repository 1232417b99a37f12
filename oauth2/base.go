// Package oauth2 provides the external identity provider gateways used for
// federated enrollment and login. Each provider exchanges an authorization
// code for an access token and fetches a normalized profile; the loose vendor
// JSON never leaves this package.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// Profile is the normalized provider profile. This is the only shape provider
// data takes past the gateway boundary.
type Profile struct {
	ProviderID  string `json:"provider_id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Gateway is the contract every provider implements.
type Gateway interface {
	// AuthCodeURL builds the provider's authorization redirect URL.
	AuthCodeURL(state string) string

	// ExchangeCode trades an authorization code for a provider token.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchProfile retrieves and normalizes the user profile.
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// ParseProfileFunc turns a raw userinfo payload into a normalized Profile.
type ParseProfileFunc func(data []byte) (*Profile, error)

// Base carries the pieces shared by all providers: the oauth2 config, the
// userinfo endpoint and the payload normalizer.
type Base struct {
	// UserInfoURL is the endpoint to fetch user info from. Can be overridden
	// for testing.
	UserInfoURL string

	// HTTPClient is used for the userinfo call. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	conf         oauth2.Config
	parseProfile ParseProfileFunc
}

func NewBase(conf oauth2.Config, userInfoURL string, parse ParseProfileFunc) *Base {
	return &Base{
		UserInfoURL:  userInfoURL,
		conf:         conf,
		parseProfile: parse,
	}
}

func (b *Base) AuthCodeURL(state string) string {
	return b.conf.AuthCodeURL(state)
}

func (b *Base) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := b.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return token, nil
}

func (b *Base) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	client := b.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info: %w", err)
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed: status %d", resp.StatusCode)
	}

	profile, err := b.parseProfile(contents)
	if err != nil {
		return nil, err
	}
	if profile.ProviderID == "" {
		return nil, fmt.Errorf("provider payload missing user id")
	}
	return profile, nil
}

// decode is a small helper for the provider payload parsers.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse provider payload: %w", err)
	}
	return nil
}
